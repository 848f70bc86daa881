// Package sender delivers parameter frames to the renderer at a bounded rate.
// Frames arriving faster than the rate are coalesced: only the most recent
// one is delivered, but a transition that has not reached the renderer is
// carried into the frame that replaces it.
package sender

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/guidoenr/wavedream/internal/clock"
	"github.com/guidoenr/wavedream/internal/params"
)

// DefaultRate is the delivery rate in frames per second.
const DefaultRate = 30.0

// Channel is an outbound link to the renderer.
type Channel interface {
	Ready() bool
	Send(data []byte) error
}

// Config configures a Sender.
type Config struct {
	Rate  float64
	Clock clock.Clock
	Log   *log.Logger
}

// Stats counts delivery outcomes.
type Stats struct {
	Sent             uint64    `json:"sent"`
	Dropped          uint64    `json:"dropped"`
	ConsecutiveDrops uint64    `json:"consecutiveDrops"`
	Failures         uint64    `json:"failures"`
	LastSent         time.Time `json:"lastSent"`
}

// Sender is a last-write-wins, timer-gated parameter queue of depth one.
type Sender struct {
	mu       sync.Mutex
	clock    clock.Clock
	log      *log.Logger
	interval time.Duration

	ch       Channel
	pending  *params.Parameters
	source   []params.Prompt // prompts the renderer shows under a discarded transition
	timer    clock.Timer
	gen      uint64
	lastSend time.Time
	stats    Stats
}

// New returns a Sender with no channel.
func New(cfg Config) *Sender {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	return &Sender{
		clock:    cfg.Clock,
		log:      cfg.Log,
		interval: time.Duration(float64(time.Second) / cfg.Rate),
	}
}

// Interval is the minimum gap between deliveries.
func (s *Sender) Interval() time.Duration {
	return s.interval
}

// SetChannel replaces the outbound channel. A nil channel drops any pending
// frame and cancels the scheduled delivery.
func (s *Sender) SetChannel(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch = ch
	if ch == nil {
		s.cancelLocked()
	}
}

// Channel returns the current outbound channel, or nil.
func (s *Sender) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Send queues p, replacing any frame not yet delivered, and schedules a
// delivery if none is pending.
func (s *Sender) Send(p params.Parameters) {
	clone := p.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		clone = coalesce(*s.pending, clone)
	} else if s.source != nil && clone.Transition != nil {
		clone.Prompts = s.source
	}
	s.source = nil
	s.pending = &clone
	if s.timer != nil {
		return
	}
	delay := s.interval - s.clock.Now().Sub(s.lastSend)
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(delay, func() { s.deliver(gen) })
}

// coalesce merges next into the undelivered frame queued. If queued declares
// a transition, the renderer still shows its source prompts: they stay the
// source, and the transition survives unless next declares its own.
func coalesce(queued, next params.Parameters) params.Parameters {
	if queued.Transition == nil {
		return next
	}
	next.Prompts = queued.Prompts
	if next.Transition == nil {
		next.Transition = queued.Transition
	}
	return next
}

// ClearPending discards the queued frame and its scheduled delivery. If the
// discarded frame declared a transition, its source prompts become the source
// of the next transition sent.
func (s *Sender) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var source []params.Prompt
	if s.pending != nil && s.pending.Transition != nil {
		source = s.pending.Prompts
	}
	s.cancelLocked()
	s.source = source
}

func (s *Sender) cancelLocked() {
	s.pending = nil
	s.source = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// Stats returns a copy of the delivery counters.
func (s *Sender) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sender) deliver(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	p := s.pending
	s.pending = nil
	ch := s.ch
	if p == nil {
		s.mu.Unlock()
		return
	}
	s.lastSend = s.clock.Now()
	if ch == nil || !ch.Ready() {
		s.stats.Dropped++
		s.stats.ConsecutiveDrops++
		drops := s.stats.ConsecutiveDrops
		s.mu.Unlock()
		if drops == 1 || drops%100 == 0 {
			s.log.Printf("renderer channel not ready, dropped %d frame(s)", drops)
		}
		return
	}
	s.mu.Unlock()

	err := s.write(ch, p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Failures++
		s.log.Printf("parameter delivery failed: %v", err)
		return
	}
	s.stats.Sent++
	s.stats.ConsecutiveDrops = 0
	s.stats.LastSent = s.lastSend
}

func (s *Sender) write(ch Channel, p *params.Parameters) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return ch.Send(data)
}
