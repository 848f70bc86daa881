package analyzer

import (
	"errors"
	"testing"
	"time"

	"github.com/guidoenr/wavedream/internal/audio"
	"github.com/guidoenr/wavedream/internal/clock"
)

type manualSource struct {
	starts int
	emit   func([]float32)
	fail   error
}

func (s *manualSource) Name() string        { return "manual" }
func (s *manualSource) SampleRate() float64 { return 44_100 }
func (s *manualSource) Close() error        { return nil }
func (s *manualSource) Start(emit func([]float32)) error {
	if s.fail != nil {
		return s.fail
	}
	s.starts++
	s.emit = emit
	return nil
}

func newTestExtractor(reg *audio.Registry) *Extractor {
	return New(Config{
		Registry: reg,
		Clock:    clock.NewFake(time.Unix(100, 0)),
	})
}

func TestExtractorLifecycle(t *testing.T) {
	reg := audio.NewRegistry()
	src := &manualSource{}
	e := newTestExtractor(reg)

	if err := e.Start(func(State) {}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("start before initialize: err=%v", err)
	}
	if err := e.Initialize(src); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := e.Initialize(src); err != nil {
		t.Fatalf("re-initialize same source: %v", err)
	}

	calls := 0
	if err := e.Start(func(State) { calls++ }); err != nil {
		t.Fatalf("start: %v", err)
	}
	frame := sine(440, 0.3, audio.FrameSize)
	src.emit(frame)
	src.emit(frame)
	if calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}

	e.Stop()
	src.emit(frame)
	if calls != 2 {
		t.Fatalf("callback fired after Stop")
	}

	if err := e.Start(func(State) { calls++ }); err != nil {
		t.Fatalf("restart: %v", err)
	}
	src.emit(frame)
	if calls != 3 {
		t.Fatalf("calls=%d want 3 after restart", calls)
	}

	e.Destroy()
	src.emit(frame)
	if calls != 3 {
		t.Fatalf("callback fired after Destroy")
	}

	// the shared binding survives Destroy and is reused
	other := newTestExtractor(reg)
	if err := other.Initialize(src); err != nil {
		t.Fatalf("initialize after destroy: %v", err)
	}
	if err := e.Initialize(src); err != nil {
		t.Fatalf("initialize destroyed extractor again: %v", err)
	}
	if src.starts != 1 {
		t.Fatalf("source started %d times, want 1", src.starts)
	}
}

func TestExtractorInitFailureIsTyped(t *testing.T) {
	e := newTestExtractor(audio.NewRegistry())
	err := e.Initialize(&manualSource{fail: errors.New("device busy")})
	if !errors.Is(err, ErrAnalysisUnavailable) {
		t.Fatalf("err=%v want ErrAnalysisUnavailable", err)
	}
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Source != "manual" {
		t.Fatalf("err=%v want *InitError for manual", err)
	}
	if err := e.Start(func(State) {}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("start after failed init: err=%v", err)
	}
}

func TestExtractorSetNormalization(t *testing.T) {
	e := newTestExtractor(nil)
	loud := sine(440, 0.5, audio.FrameSize)
	before := e.Analyze(loud).Metrics.Energy

	maxEnergy := 2.0
	e.SetNormalization(PartialNormalization{EnergyMax: &maxEnergy})
	after := e.Analyze(loud).Metrics.Energy
	if after >= before {
		t.Fatalf("raising energyMax should lower energy: before=%f after=%f", before, after)
	}
	if e.Normalization().EnergyMax != 2.0 {
		t.Fatalf("energyMax=%f want 2", e.Normalization().EnergyMax)
	}
}

func TestExtractorTimestampsFromClock(t *testing.T) {
	fake := clock.NewFake(time.Unix(100, 0))
	e := New(Config{Clock: fake})
	st := e.Analyze(make([]float32, audio.FrameSize))
	if !st.Timestamp.Equal(time.Unix(100, 0)) {
		t.Fatalf("timestamp=%v", st.Timestamp)
	}
	if e.Frames() != 1 {
		t.Fatalf("frames=%d want 1", e.Frames())
	}
}
