package audio

import (
	"math"
	"math/rand"
	"sync"
)

// Synth generates a kick-and-pad test signal so the pipeline can run without
// an input device. Output is deterministic for a given seed.
type Synth struct {
	rate float64
	bpm  float64
	rng  *rand.Rand

	mu      sync.Mutex
	pos     int
	frame   []float32
	pacer   *pacer
	started bool
}

// NewSynth returns a synthetic source at 44.1 kHz pulsing at bpm.
func NewSynth(bpm float64, seed int64) *Synth {
	if bpm <= 0 {
		bpm = 120
	}
	return &Synth{
		rate:  44_100,
		bpm:   bpm,
		rng:   rand.New(rand.NewSource(seed)),
		frame: make([]float32, FrameSize),
	}
}

func (s *Synth) Name() string        { return "synth" }
func (s *Synth) SampleRate() float64 { return s.rate }

// Start begins paced generation.
func (s *Synth) Start(emit func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errAlreadyStarted
	}
	s.started = true
	s.pacer = newPacer(FrameDuration(s.rate))
	s.pacer.start(func() bool {
		emit(s.Next())
		return false
	})
	return nil
}

// Next renders the following frame.
func (s *Synth) Next() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	beatLen := int(s.rate * 60 / s.bpm)
	phraseLen := beatLen * 16
	for i := range s.frame {
		t := float64(s.pos) / s.rate
		inBeat := s.pos % beatLen
		env := math.Exp(-float64(inBeat) / (s.rate * 0.06))
		kick := env * math.Sin(2*math.Pi*55*t)

		// pad swells over a 16-beat phrase
		swell := 0.5 - 0.5*math.Cos(2*math.Pi*float64(s.pos%phraseLen)/float64(phraseLen))
		pad := 0.15 * swell * (math.Sin(2*math.Pi*220*t) + 0.5*math.Sin(2*math.Pi*331*t))
		hiss := 0.02 * (s.rng.Float64()*2 - 1)

		s.frame[i] = float32(clamp01(0.5+0.5*(0.7*kick+pad+hiss))*2 - 1)
		s.pos++
	}
	return s.frame
}

// Close stops generation.
func (s *Synth) Close() error {
	s.mu.Lock()
	p := s.pacer
	s.mu.Unlock()
	if p != nil {
		p.stop()
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
