package analyzer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/guidoenr/wavedream/internal/audio"
	"github.com/guidoenr/wavedream/internal/clock"
)

var (
	// ErrAnalysisUnavailable matches every InitError via errors.Is.
	ErrAnalysisUnavailable = errors.New("audio analysis unavailable")
	// ErrNotInitialized is returned by Start before a source is bound.
	ErrNotInitialized = errors.New("extractor not initialized")
)

// InitError reports that the analysis backend could not be attached to a
// source. It is recoverable: the caller decides whether to continue without
// analysis.
type InitError struct {
	Source string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize analysis for %s: %v", e.Source, e.Err)
}

func (e *InitError) Unwrap() []error {
	return []error{ErrAnalysisUnavailable, e.Err}
}

// Config controls Extractor behavior.
type Config struct {
	Normalization NormalizationConfig
	Beat          BeatConfig
	Registry      *audio.Registry
	Clock         clock.Clock
	Log           *log.Logger
}

// Extractor turns frames from an audio.Source into analysis States.
//
// Frame delivery and Stop share one mutex, so once Stop returns no callback
// is in flight and none will follow. The callback must not call back into
// the Extractor.
type Extractor struct {
	registry *audio.Registry
	clock    clock.Clock
	log      *log.Logger

	mu       sync.Mutex
	binding  *audio.Binding
	subID    int
	spectral *spectral
	norm     *normalizer
	beat     *BeatDetector
	callback func(State)
	running  bool
	frames   uint64
}

// New creates an Extractor. A nil Registry gets a private one.
func New(cfg Config) *Extractor {
	if cfg.Normalization == (NormalizationConfig{}) {
		cfg.Normalization = DefaultNormalization()
	}
	if cfg.Registry == nil {
		cfg.Registry = audio.NewRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	return &Extractor{
		registry: cfg.Registry,
		clock:    cfg.Clock,
		log:      cfg.Log,
		norm:     newNormalizer(cfg.Normalization),
		beat:     NewBeatDetector(cfg.Beat),
	}
}

// Initialize binds the extractor to src. Calling it again with the same
// source is a no-op; a source already bound through the shared registry is
// reused rather than started twice.
func (e *Extractor) Initialize(src audio.Source) error {
	if src == nil {
		return &InitError{Source: "<nil>", Err: errors.New("no audio source")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.binding != nil && e.binding.Source() == src {
		return nil
	}
	e.detachLocked()

	b, err := e.registry.Bind(src)
	if err != nil {
		return &InitError{Source: src.Name(), Err: err}
	}
	e.binding = b
	e.spectral = newSpectral(src.SampleRate())
	e.norm.reset()
	e.beat.Reset()
	e.frames = 0
	e.log.Printf("analysis bound to %q @ %.0f Hz", src.Name(), src.SampleRate())
	return nil
}

// Start delivers one State per frame to fn until Stop or Destroy.
func (e *Extractor) Start(fn func(State)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.binding == nil {
		return ErrNotInitialized
	}
	e.callback = fn
	e.running = true
	if e.subID == 0 {
		e.subID = e.binding.Subscribe(e.onFrame)
	}
	return nil
}

// Stop halts callback delivery. The binding is kept, so Start may be called
// again.
func (e *Extractor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.callback = nil
}

// Destroy stops delivery and drops the analysis workspace. The source stays
// bound in the registry for a later Initialize.
func (e *Extractor) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.callback = nil
	e.detachLocked()
	e.spectral = nil
}

func (e *Extractor) detachLocked() {
	if e.binding != nil && e.subID != 0 {
		e.binding.Unsubscribe(e.subID)
	}
	e.binding = nil
	e.subID = 0
}

// SetNormalization hot-swaps the calibration; it applies from the next frame.
func (e *Extractor) SetNormalization(p PartialNormalization) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.norm.cfg = p.Apply(e.norm.cfg)
}

// Normalization returns the active calibration.
func (e *Extractor) Normalization() NormalizationConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.norm.cfg
}

// Frames reports how many frames have been analyzed since Initialize.
func (e *Extractor) Frames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Analyze runs the per-frame pipeline on frame without involving the
// callback.
func (e *Extractor) Analyze(frame []float32) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analyzeLocked(frame)
}

func (e *Extractor) onFrame(frame []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.callback == nil {
		return
	}
	e.callback(e.analyzeLocked(frame))
}

func (e *Extractor) analyzeLocked(frame []float32) State {
	if e.spectral == nil {
		e.spectral = newSpectral(0)
	}
	now := e.clock.Now()
	raw := e.spectral.measure(frame)
	metrics := e.norm.derive(raw)
	e.frames++
	return State{
		Timestamp: now,
		Raw:       raw,
		Metrics:   metrics,
		Beat:      e.beat.Process(metrics.Energy, now),
	}
}
