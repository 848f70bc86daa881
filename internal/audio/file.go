package audio

import (
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
)

// FileSource plays a WAV, MP3 or FLAC file as a real-time Source, one frame
// per frame duration. With Loop set it reopens the file at EOF.
type FileSource struct {
	path string
	loop bool
	log  *log.Logger

	mu      sync.Mutex
	dec     decoder
	rate    float64
	frame   []float32
	pacer   *pacer
	started bool
}

// OpenFile opens path for playback. The decoder is chosen by extension.
func OpenFile(path string, loop bool, logger *log.Logger) (*FileSource, error) {
	dec, err := openDecoder(path)
	if err != nil {
		return nil, err
	}
	if dec.sampleRate() <= 0 {
		dec.close()
		return nil, fmt.Errorf("%s: unknown sample rate", filepath.Base(path))
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &FileSource{
		path:  path,
		loop:  loop,
		log:   logger,
		dec:   dec,
		rate:  float64(dec.sampleRate()),
		frame: make([]float32, FrameSize),
	}, nil
}

// Name returns the file's base name.
func (s *FileSource) Name() string {
	return filepath.Base(s.path)
}

// SampleRate returns the file's sample rate.
func (s *FileSource) SampleRate() float64 {
	return s.rate
}

// Start begins paced playback.
func (s *FileSource) Start(emit func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errAlreadyStarted
	}
	s.started = true
	s.pacer = newPacer(FrameDuration(s.rate))
	s.pacer.start(func() bool {
		frame, ok := s.next()
		if !ok {
			s.log.Printf("playback of %s finished", s.Name())
			return true
		}
		emit(frame)
		return false
	})
	return nil
}

func (s *FileSource) next() ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec == nil {
		return nil, false
	}

	filled := 0
	for filled < len(s.frame) {
		n, err := s.dec.read(s.frame[filled:])
		filled += n
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			s.log.Printf("decode %s: %v", s.Name(), err)
			return nil, false
		}
		if !s.loop {
			break
		}
		if err := s.rewind(); err != nil {
			s.log.Printf("rewind %s: %v", s.Name(), err)
			return nil, false
		}
	}
	if filled == 0 {
		return nil, false
	}
	for i := filled; i < len(s.frame); i++ {
		s.frame[i] = 0
	}
	return s.frame, true
}

func (s *FileSource) rewind() error {
	_ = s.dec.close()
	dec, err := openDecoder(s.path)
	if err != nil {
		s.dec = nil
		return err
	}
	s.dec = dec
	return nil
}

// Close stops playback and releases the decoder.
func (s *FileSource) Close() error {
	s.mu.Lock()
	p := s.pacer
	s.mu.Unlock()
	if p != nil {
		p.stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec == nil {
		return nil
	}
	err := s.dec.close()
	s.dec = nil
	return err
}
