package audio

import (
	"fmt"
	"sync"
	"time"
)

// FrameSize is the number of mono samples in one analysis frame
// (~86 frames per second at 44.1 kHz).
const FrameSize = 512

// Source produces fixed-size mono frames of FrameSize samples.
//
// Start is called at most once per source instance, by Registry.Bind.
// emit is invoked from the source's own goroutine; the slice is only valid for
// the duration of the call.
type Source interface {
	Name() string
	SampleRate() float64
	Start(emit func(frame []float32)) error
	Close() error
}

// FrameDuration returns the wall-clock length of one frame at sampleRate.
func FrameDuration(sampleRate float64) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 44_100
	}
	return time.Duration(float64(FrameSize) / sampleRate * float64(time.Second))
}

// framer accumulates arbitrary-length mono chunks and emits whole frames.
type framer struct {
	buf  []float32
	fill int
}

func newFramer() *framer {
	return &framer{buf: make([]float32, FrameSize)}
}

func (f *framer) push(in []float32, emit func([]float32)) {
	for len(in) > 0 {
		n := copy(f.buf[f.fill:], in)
		f.fill += n
		in = in[n:]
		if f.fill == len(f.buf) {
			emit(f.buf)
			f.fill = 0
		}
	}
}

// pacer runs produce once per frame duration on its own goroutine until
// produce reports done or stop is called. Used by sources that are not
// driven by a hardware callback.
type pacer struct {
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{interval: interval, stopCh: make(chan struct{})}
}

func (p *pacer) start(produce func() (done bool)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				if produce() {
					return
				}
			}
		}
	}()
}

func (p *pacer) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func mixToMono(in []float32, channels int, dst []float32) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		sum := float32(0)
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += in[base+ch]
		}
		dst[i] = sum / float32(channels)
	}
	return dst
}

var errAlreadyStarted = fmt.Errorf("source already started")
