// Package theme defines the declarative bundles that decide how audio maps to
// renderer parameters for one visual "world". Themes are immutable once
// loaded; switching themes swaps the whole value.
package theme

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metric names a derived audio metric a mapping reads from.
type Metric string

const (
	MetricEnergy     Metric = "energy"
	MetricBrightness Metric = "brightness"
	MetricTexture    Metric = "texture"
)

// Curve shapes a metric before it is scaled into a range.
type Curve string

const (
	CurveLinear      Curve = "linear"
	CurveExponential Curve = "exponential"
	CurveLogarithmic Curve = "logarithmic"
	CurveStepped     Curve = "stepped"
)

// TargetNoiseScale is the continuous renderer parameter sent on the wire.
const TargetNoiseScale = "noise_scale"

// Interpolation methods accepted by the renderer.
const (
	InterpolationLinear = "linear"
	InterpolationSlerp  = "slerp"
)

// Mapping routes one metric through a curve into a target parameter range.
type Mapping struct {
	Source      Metric  `yaml:"source" json:"source"`
	Target      string  `yaml:"target" json:"target"`
	Curve       Curve   `yaml:"curve" json:"curve"`
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity"`
	Invert      bool    `yaml:"invert" json:"invert"`
	Min         float64 `yaml:"min" json:"min"`
	Max         float64 `yaml:"max" json:"max"`
}

// UnmarshalYAML decodes a mapping with sensitivity 1 unless the document
// sets it, so an explicit 0 mutes the mapping.
func (m *Mapping) UnmarshalYAML(value *yaml.Node) error {
	type plain Mapping
	p := plain{Sensitivity: 1}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = Mapping(p)
	return nil
}

// BeatResponse describes how detected beats nudge the continuous output.
type BeatResponse struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Action     string  `yaml:"action" json:"action"`
	Intensity  float64 `yaml:"intensity" json:"intensity"`
	CooldownMs int     `yaml:"cooldown_ms" json:"cooldownMs"`
}

// BeatActionPulse adds a decaying boost to noise_scale.
const BeatActionPulse = "pulse_noise"

// SpikeVariations are prompt variations cycled on energy spikes.
type SpikeVariations struct {
	Prompts []string `yaml:"prompts" json:"prompts"`
	Weight  float64  `yaml:"weight" json:"weight"`
	BlendMs int      `yaml:"blend_ms" json:"blendMs"`
}

// Descriptors are optional level-based words appended to the prompt. Each
// list splits its metric into len(list) equal bands.
type Descriptors struct {
	Intensity  []string `yaml:"intensity" json:"intensity,omitempty"`
	Brightness []string `yaml:"brightness" json:"brightness,omitempty"`
	Texture    []string `yaml:"texture" json:"texture,omitempty"`
	Tempo      []string `yaml:"tempo" json:"tempo,omitempty"`
}

// TransitionSettings configures crossfades.
type TransitionSettings struct {
	Steps         int    `yaml:"steps" json:"steps"`                  // theme switch
	Method        string `yaml:"method" json:"method"`                // theme switch
	DefaultSteps  int    `yaml:"default_steps" json:"defaultSteps"`   // prompt text changes
	DefaultMethod string `yaml:"default_method" json:"defaultMethod"` // prompt text changes
	CooldownMs    int    `yaml:"cooldown_ms" json:"cooldownMs"`       // spike suppression after a switch
}

// Theme is a named static bundle of prompt text and mapping rules.
type Theme struct {
	ID             string             `yaml:"id" json:"id"`
	Name           string             `yaml:"name" json:"name"`
	Prompt         string             `yaml:"prompt" json:"prompt"`
	Style          []string           `yaml:"style" json:"style"`
	DenoisingSteps []int              `yaml:"denoising_steps" json:"denoisingSteps"`
	Mappings       []Mapping          `yaml:"mappings" json:"mappings"`
	Beat           BeatResponse       `yaml:"beat" json:"beat"`
	Spike          *SpikeVariations   `yaml:"spike" json:"spike,omitempty"`
	Descriptors    Descriptors        `yaml:"descriptors" json:"descriptors"`
	Transition     TransitionSettings `yaml:"transition" json:"transition"`
}

// Parse decodes a YAML theme, fills defaults and validates it.
func Parse(data []byte) (*Theme, error) {
	var t Theme
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse theme: %w", err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Theme) applyDefaults() {
	t.ID = strings.ToLower(strings.TrimSpace(t.ID))
	if t.Name == "" {
		t.Name = t.ID
	}
	if len(t.DenoisingSteps) == 0 {
		t.DenoisingSteps = []int{1000, 750, 500, 250}
	}
	for i := range t.Mappings {
		m := &t.Mappings[i]
		if m.Curve == "" {
			m.Curve = CurveLinear
		}
		if m.Target == "" {
			m.Target = TargetNoiseScale
		}
	}
	if t.Beat.Action == "" {
		t.Beat.Action = BeatActionPulse
	}
	if t.Beat.CooldownMs == 0 {
		t.Beat.CooldownMs = 250
	}
	if t.Spike != nil {
		if t.Spike.Weight == 0 {
			t.Spike.Weight = 0.5
		}
		if t.Spike.BlendMs == 0 {
			t.Spike.BlendMs = 800
		}
	}
	tr := &t.Transition
	if tr.Steps == 0 {
		tr.Steps = 24
	}
	if tr.Method == "" {
		tr.Method = InterpolationSlerp
	}
	if tr.DefaultSteps == 0 {
		tr.DefaultSteps = 8
	}
	if tr.DefaultMethod == "" {
		tr.DefaultMethod = InterpolationLinear
	}
	if tr.CooldownMs == 0 {
		tr.CooldownMs = 3000
	}
}

// Validate reports the first structural problem with t.
func (t *Theme) Validate() error {
	if t.ID == "" {
		return errors.New("theme: missing id")
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return fmt.Errorf("theme %s: missing prompt", t.ID)
	}
	if err := ValidateDenoisingSteps(t.DenoisingSteps); err != nil {
		return fmt.Errorf("theme %s: %w", t.ID, err)
	}
	for i, m := range t.Mappings {
		switch m.Source {
		case MetricEnergy, MetricBrightness, MetricTexture:
		default:
			return fmt.Errorf("theme %s: mapping %d: unknown source %q", t.ID, i, m.Source)
		}
		switch m.Curve {
		case CurveLinear, CurveExponential, CurveLogarithmic, CurveStepped:
		default:
			return fmt.Errorf("theme %s: mapping %d: unknown curve %q", t.ID, i, m.Curve)
		}
		if m.Sensitivity < 0 {
			return fmt.Errorf("theme %s: mapping %d: negative sensitivity", t.ID, i)
		}
		if m.Max < m.Min {
			return fmt.Errorf("theme %s: mapping %d: max %.3f below min %.3f", t.ID, i, m.Max, m.Min)
		}
	}
	if t.Beat.Action != BeatActionPulse {
		return fmt.Errorf("theme %s: unknown beat action %q", t.ID, t.Beat.Action)
	}
	for _, method := range []string{t.Transition.Method, t.Transition.DefaultMethod} {
		if method != InterpolationLinear && method != InterpolationSlerp {
			return fmt.Errorf("theme %s: unknown interpolation %q", t.ID, method)
		}
	}
	if t.Transition.Steps < 1 || t.Transition.DefaultSteps < 1 {
		return fmt.Errorf("theme %s: transition steps must be positive", t.ID)
	}
	if t.Spike != nil && len(t.Spike.Prompts) == 0 {
		return fmt.Errorf("theme %s: spike section without prompts", t.ID)
	}
	return nil
}

// ValidateDenoisingSteps checks that steps are positive and strictly
// descending.
func ValidateDenoisingSteps(steps []int) error {
	if len(steps) == 0 {
		return errors.New("denoising steps: empty schedule")
	}
	for i, s := range steps {
		if s <= 0 {
			return fmt.Errorf("denoising steps: %d is not positive", s)
		}
		if i > 0 && s >= steps[i-1] {
			return fmt.Errorf("denoising steps: %v is not strictly descending", steps)
		}
	}
	return nil
}

// Range returns the combined min/max of all mappings for target, and whether
// any mapping references it.
func (t *Theme) Range(target string) (lo, hi float64, ok bool) {
	for _, m := range t.Mappings {
		if m.Target != target {
			continue
		}
		if !ok {
			lo, hi, ok = m.Min, m.Max, true
			continue
		}
		lo = min(lo, m.Min)
		hi = max(hi, m.Max)
	}
	return lo, hi, ok
}
