package app

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/guidoenr/wavedream/internal/analyzer"
	"github.com/guidoenr/wavedream/internal/params"
)

// profiler appends one CSV row per analysis frame with engine and sender
// timings and what the frame produced. A nil profiler is a no-op.
type profiler struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	frames uint64
}

func newProfiler(path string, logger *log.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		if logger != nil {
			logger.Printf("profiler disabled: %v", err)
		}
		return nil
	}
	p := &profiler{file: f, w: bufio.NewWriter(f)}
	fmt.Fprintln(p.w, "timestamp,frame,compute_us,send_us,energy,beat,noise_scale,transition_steps")
	return p
}

func (p *profiler) frame(st analyzer.State, compute, send time.Duration, out params.Parameters) {
	if p == nil {
		return
	}
	steps := 0
	if out.Transition != nil {
		steps = out.Transition.NumSteps
	}
	beat := 0
	if st.Beat.IsBeat {
		beat = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}
	p.frames++
	fmt.Fprintf(p.w, "%s,%d,%d,%d,%.4f,%d,%.4f,%d\n",
		st.Timestamp.Format(time.RFC3339Nano), p.frames,
		compute.Microseconds(), send.Microseconds(),
		st.Metrics.Energy, beat, out.NoiseScale, steps)
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.w.Flush()
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	p.file = nil
	return err
}
