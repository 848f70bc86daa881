package params

import (
	"fmt"
	"strings"
	"time"
)

// ReactivityProfile tunes how strongly the engine follows the audio.
type ReactivityProfile struct {
	Name           string
	Smoothing      float64       // lerp factor toward the new target per frame
	SpikeThreshold float64       // energy derivative that counts as a spike
	SpikeCooldown  time.Duration // minimum gap between spikes
	SpikeBoost     float64       // noise pulse added on a spike
	BeatScale      float64       // multiplier on the theme beat intensity
	PulseDecay     float64       // per-frame decay of beat and spike pulses
}

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "balanced"

var profiles = []ReactivityProfile{
	{
		Name:           "subtle",
		Smoothing:      0.08,
		SpikeThreshold: 0.35,
		SpikeCooldown:  6 * time.Second,
		SpikeBoost:     0.08,
		BeatScale:      0.5,
		PulseDecay:     0.85,
	},
	{
		Name:           "balanced",
		Smoothing:      0.15,
		SpikeThreshold: 0.25,
		SpikeCooldown:  4 * time.Second,
		SpikeBoost:     0.15,
		BeatScale:      1,
		PulseDecay:     0.8,
	},
	{
		Name:           "kinetic",
		Smoothing:      0.3,
		SpikeThreshold: 0.15,
		SpikeCooldown:  2 * time.Second,
		SpikeBoost:     0.25,
		BeatScale:      1.5,
		PulseDecay:     0.75,
	},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (ReactivityProfile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultProfile
	}
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return ReactivityProfile{}, fmt.Errorf("unknown reactivity profile %q (want one of %s)", name, strings.Join(ProfileNames(), ", "))
}

// ProfileNames lists the available profiles from calmest to most reactive.
func ProfileNames() []string {
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	return names
}

// NextProfile returns the profile name after name, wrapping around.
func NextProfile(name string) string {
	for i, p := range profiles {
		if p.Name == name {
			return profiles[(i+1)%len(profiles)].Name
		}
	}
	return DefaultProfile
}
