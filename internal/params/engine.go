package params

import (
	"errors"
	"io"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/guidoenr/wavedream/internal/analyzer"
	"github.com/guidoenr/wavedream/internal/clock"
	"github.com/guidoenr/wavedream/internal/theme"
)

const (
	// DefaultOutputFPS is the renderer frame rate assumed when sizing the
	// transition lock.
	DefaultOutputFPS = 15.0
	// DefaultCompletionMargin pads every transition lock.
	DefaultCompletionMargin = 250 * time.Millisecond

	bandHysteresis = 0.05
	pulseFloor     = 1e-4
	tempoMinBPM    = 60.0
	tempoMaxBPM    = 180.0
)

// Config configures an Engine.
type Config struct {
	Theme            *theme.Theme
	Profile          string
	OutputFPS        float64
	CompletionMargin time.Duration
	Clock            clock.Clock
	Log              *log.Logger
}

// Engine maps analysis frames to renderer parameters. It owns all transition
// scheduling; callers only feed frames and control calls.
type Engine struct {
	mu      sync.Mutex
	clock   clock.Clock
	log     *log.Logger
	fps     float64
	margin  time.Duration
	theme   *theme.Theme
	profile ReactivityProfile
	steps   []int
	overlay *Prompt
	frames  uint64

	// carried across a theme reset as the source of the switch transition
	prevPrompts []Prompt

	rt runtimeState
}

// runtimeState is discarded whenever the theme changes, except for the
// transition lock: a crossfade already in flight keeps it.
type runtimeState struct {
	started       bool
	activePrompts []Prompt
	lastKey       string
	noise         float64
	pulse         float64
	beatReady     time.Time
	spikeReady    time.Time
	themeCooldown time.Time
	lockUntil     time.Time
	bands         bandState
	variation     int
	activeVar     int
	pendingTheme  bool
	targets       map[string]float64
}

type bandState struct {
	init       bool
	intensity  int
	brightness int
	texture    int
	tempo      int
}

// EngineStatus is a point-in-time view for status displays.
type EngineStatus struct {
	ThemeID         string             `json:"themeId"`
	ThemeName       string             `json:"themeName"`
	Profile         string             `json:"profile"`
	NoiseScale      float64            `json:"noiseScale"`
	Targets         map[string]float64 `json:"targets"`
	Prompts         []Prompt           `json:"prompts"`
	Overlay         string             `json:"overlay,omitempty"`
	DenoisingSteps  []int              `json:"denoisingSteps"`
	LockRemaining   time.Duration      `json:"lockRemainingNs"`
	IntensityBand   int                `json:"intensityBand"`
	ActiveVariation int                `json:"activeVariation"`
	Frames          uint64             `json:"frames"`
}

// NewEngine returns an engine for cfg.Theme.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Theme == nil {
		return nil, errors.New("engine: theme is required")
	}
	profile, err := LookupProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	if cfg.OutputFPS <= 0 {
		cfg.OutputFPS = DefaultOutputFPS
	}
	if cfg.CompletionMargin <= 0 {
		cfg.CompletionMargin = DefaultCompletionMargin
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		clock:   cfg.Clock,
		log:     cfg.Log,
		fps:     cfg.OutputFPS,
		margin:  cfg.CompletionMargin,
		theme:   cfg.Theme,
		profile: profile,
	}
	e.resetLocked()
	return e, nil
}

// LockDuration is how long a transition of steps blocks further transitions.
func (e *Engine) LockDuration(steps int) time.Duration {
	return lockDuration(steps, e.fps, e.margin)
}

func lockDuration(steps int, fps float64, margin time.Duration) time.Duration {
	if steps < 0 {
		steps = 0
	}
	perStep := float64(time.Second) / fps
	return time.Duration(float64(steps)*perStep) + margin
}

// SetTheme swaps the active theme and clears all theme-scoped state. Unless
// skip is set, the next frame carries a transition from the prompts last
// emitted under the old theme. Spike transitions are suppressed for the new
// theme's cooldown either way, and a held transition lock is kept.
func (e *Engine) SetTheme(t *theme.Theme, skip bool) {
	if t == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.rt.activePrompts
	lock := e.rt.lockUntil
	e.theme = t
	e.resetLocked()
	e.rt.lockUntil = lock
	e.rt.themeCooldown = e.clock.Now().Add(time.Duration(t.Transition.CooldownMs) * time.Millisecond)
	if skip || len(prev) == 0 {
		e.prevPrompts = nil
		return
	}
	e.prevPrompts = prev
	e.rt.pendingTheme = true
}

func (e *Engine) resetLocked() {
	e.rt = runtimeState{activeVar: -1, targets: make(map[string]float64)}
}

// Theme returns the active theme.
func (e *Engine) Theme() *theme.Theme {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.theme
}

// SetDenoisingSteps overrides the theme schedule. Nil restores it.
func (e *Engine) SetDenoisingSteps(steps []int) error {
	if steps != nil {
		if err := theme.ValidateDenoisingSteps(steps); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if steps == nil {
		e.steps = nil
		return nil
	}
	e.steps = append([]int(nil), steps...)
	return nil
}

// SetPromptOverlay appends text to every frame with weight. Empty text clears
// the overlay.
func (e *Engine) SetPromptOverlay(text string, weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	text = strings.TrimSpace(text)
	if text == "" {
		e.overlay = nil
		return
	}
	if weight <= 0 || weight != weight {
		weight = 0.5
	}
	e.overlay = &Prompt{Text: text, Weight: clamp(weight, 0.05, 1)}
}

// SetReactivityProfile switches the tuning profile by name.
func (e *Engine) SetReactivityProfile(name string) error {
	p, err := LookupProfile(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.profile = p
	e.mu.Unlock()
	return nil
}

// Profile returns the active reactivity profile name.
func (e *Engine) Profile() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile.Name
}

// MarkExternalTransitionActive reserves the transition lock for a crossfade
// of steps started outside the frame loop.
func (e *Engine) MarkExternalTransitionActive(steps int) {
	if steps <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armLocked(e.clock.Now(), steps)
}

func (e *Engine) armLocked(now time.Time, steps int) {
	until := now.Add(e.LockDuration(steps))
	if until.After(e.rt.lockUntil) {
		e.rt.lockUntil = until
	}
}

// Compute turns one analysis frame into a parameter frame.
func (e *Engine) Compute(st analyzer.State) Parameters {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	th := e.theme
	rt := &e.rt
	e.frames++

	e.applyBeatLocked(st, now)
	spikeEvent := e.detectSpikeLocked(st, now)
	locked := now.Before(rt.lockUntil)

	spikeVariation := false
	if spikeEvent && !rt.pendingTheme && !locked && th.Spike != nil {
		prevVar := rt.activeVar
		rt.activeVar = rt.variation % len(th.Spike.Prompts)
		rt.variation++
		spikeVariation = rt.activeVar != prevVar
	}

	composed := e.composeLocked(st)
	key := promptKey(composed)

	out := Parameters{
		DenoisingStepList: e.denoisingLocked(),
		NoiseScale:        e.smoothNoiseLocked(st),
		ManageCache:       true,
	}

	switch {
	case rt.pendingTheme:
		rt.pendingTheme = false
		steps := th.Transition.Steps
		out.Prompts = clonePrompts(e.prevPrompts)
		out.Transition = &Transition{TargetPrompts: clonePrompts(composed), NumSteps: steps, Method: th.Transition.Method}
		e.prevPrompts = nil
		e.armLocked(now, steps)
		rt.themeCooldown = now.Add(time.Duration(th.Transition.CooldownMs) * time.Millisecond)
		e.log.Printf("theme %s: crossfade over %d steps", th.ID, steps)
	case !rt.started:
		out.Prompts = clonePrompts(composed)
	case spikeVariation && key != rt.lastKey:
		steps := e.blendSteps(th.Spike.BlendMs)
		out.Prompts = clonePrompts(rt.activePrompts)
		out.Transition = &Transition{TargetPrompts: clonePrompts(composed), NumSteps: steps, Method: th.Transition.DefaultMethod}
		e.armLocked(now, steps)
	case key != rt.lastKey && !locked:
		steps := th.Transition.DefaultSteps
		out.Prompts = clonePrompts(rt.activePrompts)
		out.Transition = &Transition{TargetPrompts: clonePrompts(composed), NumSteps: steps, Method: th.Transition.DefaultMethod}
		e.armLocked(now, steps)
	default:
		// unchanged, or a text change waiting for the lock to clear
		out.Prompts = clonePrompts(rt.activePrompts)
		rt.started = true
		return out
	}

	rt.started = true
	rt.activePrompts = composed
	rt.lastKey = key
	return out
}

func (e *Engine) applyBeatLocked(st analyzer.State, now time.Time) {
	beat := e.theme.Beat
	if !beat.Enabled || beat.Action != theme.BeatActionPulse || !st.Beat.IsBeat {
		return
	}
	if now.Before(e.rt.beatReady) {
		return
	}
	e.rt.pulse = math.Max(e.rt.pulse, beat.Intensity*e.profile.BeatScale)
	e.rt.beatReady = now.Add(time.Duration(beat.CooldownMs) * time.Millisecond)
}

// detectSpikeLocked reports an energy spike outside both the spike cooldown
// and the post-theme-change window, and applies its noise pulse.
func (e *Engine) detectSpikeLocked(st analyzer.State, now time.Time) bool {
	rt := &e.rt
	if st.Metrics.EnergyDerivative <= e.profile.SpikeThreshold {
		return false
	}
	if rt.pendingTheme || now.Before(rt.spikeReady) || now.Before(rt.themeCooldown) {
		return false
	}
	rt.spikeReady = now.Add(e.profile.SpikeCooldown)
	rt.pulse = math.Max(rt.pulse, e.profile.SpikeBoost)
	return true
}

func (e *Engine) smoothNoiseLocked(st analyzer.State) float64 {
	rt := &e.rt
	th := e.theme
	for _, target := range targets(th) {
		if v, ok := mapTarget(th, target, st.Metrics); ok {
			rt.targets[target] = v
		}
	}

	target, ok := rt.targets[theme.TargetNoiseScale]
	if !ok {
		target = rt.noise
	}
	lo, hi, ok := th.Range(theme.TargetNoiseScale)
	if !ok {
		lo, hi = 0, 1
	}
	target = clamp01(clamp(target+rt.pulse, lo, hi))

	if !rt.started {
		rt.noise = target
	} else {
		rt.noise = clamp01(lerp(rt.noise, target, e.profile.Smoothing))
	}

	rt.pulse *= e.profile.PulseDecay
	if rt.pulse < pulseFloor {
		rt.pulse = 0
	}
	return rt.noise
}

func (e *Engine) composeLocked(st analyzer.State) []Prompt {
	th := e.theme
	rt := &e.rt
	d := th.Descriptors

	tempoLevel := -1.0
	if st.Beat.BPM > 0 {
		tempoLevel = clamp01((st.Beat.BPM - tempoMinBPM) / (tempoMaxBPM - tempoMinBPM))
	}

	b := &rt.bands
	b.intensity = nextBand(b.intensity, b.init, st.Metrics.Energy, len(d.Intensity))
	b.brightness = nextBand(b.brightness, b.init, st.Metrics.Brightness, len(d.Brightness))
	b.texture = nextBand(b.texture, b.init, st.Metrics.Texture, len(d.Texture))
	if tempoLevel < 0 {
		b.tempo = -1
	} else {
		b.tempo = nextBand(b.tempo, b.init && b.tempo >= 0, tempoLevel, len(d.Tempo))
	}
	b.init = true

	var words []string
	words = appendBand(words, d.Intensity, b.intensity)
	words = appendBand(words, d.Brightness, b.brightness)
	words = appendBand(words, d.Texture, b.texture)
	words = appendBand(words, d.Tempo, b.tempo)

	prompts := []Prompt{{Text: joinPrompt(th.Prompt, words, th.Style), Weight: 1}}
	if th.Spike != nil && rt.activeVar >= 0 && rt.activeVar < len(th.Spike.Prompts) {
		prompts = append(prompts, Prompt{Text: th.Spike.Prompts[rt.activeVar], Weight: th.Spike.Weight})
	}
	if e.overlay != nil {
		prompts = append(prompts, *e.overlay)
	}
	return prompts
}

// nextBand quantizes v into n equal bands, holding the current band until v
// leaves it by more than the hysteresis margin.
func nextBand(cur int, init bool, v float64, n int) int {
	if n <= 1 {
		return 0
	}
	v = clamp01(v)
	raw := int(v * float64(n))
	if raw >= n {
		raw = n - 1
	}
	if !init || cur < 0 || cur >= n {
		return raw
	}
	width := 1 / float64(n)
	lo := float64(cur)*width - bandHysteresis
	hi := float64(cur+1)*width + bandHysteresis
	if v < lo || v > hi {
		return raw
	}
	return cur
}

func appendBand(words, list []string, band int) []string {
	if band < 0 || band >= len(list) {
		return words
	}
	return append(words, list[band])
}

func (e *Engine) denoisingLocked() []int {
	if e.steps != nil {
		return append([]int(nil), e.steps...)
	}
	return append([]int(nil), e.theme.DenoisingSteps...)
}

func (e *Engine) blendSteps(ms int) int {
	steps := int(math.Round(float64(ms) * e.fps / 1000))
	if steps < 1 {
		steps = 1
	}
	return steps
}

// Snapshot returns the engine status for display.
func (e *Engine) Snapshot() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	targets := make(map[string]float64, len(e.rt.targets))
	for k, v := range e.rt.targets {
		targets[k] = v
	}
	var lock time.Duration
	if now := e.clock.Now(); now.Before(e.rt.lockUntil) {
		lock = e.rt.lockUntil.Sub(now)
	}
	status := EngineStatus{
		ThemeID:         e.theme.ID,
		ThemeName:       e.theme.Name,
		Profile:         e.profile.Name,
		NoiseScale:      e.rt.noise,
		Targets:         targets,
		Prompts:         clonePrompts(e.rt.activePrompts),
		DenoisingSteps:  e.denoisingLocked(),
		LockRemaining:   lock,
		IntensityBand:   e.rt.bands.intensity,
		ActiveVariation: e.rt.activeVar,
		Frames:          e.frames,
	}
	if e.overlay != nil {
		status.Overlay = e.overlay.Text
	}
	return status
}
