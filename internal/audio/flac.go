package audio

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

type flacDecoder struct {
	stream  *flac.Stream
	scale   float32
	pending []float32
}

func openFLAC(path string) (*flacDecoder, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open FLAC stream: %w", err)
	}
	bits := int(stream.Info.BitsPerSample)
	if bits <= 0 {
		bits = 16
	}
	return &flacDecoder{
		stream: stream,
		scale:  1 / float32(int64(1)<<(bits-1)),
	}, nil
}

func (d *flacDecoder) read(dst []float32) (int, error) {
	for len(d.pending) < len(dst) {
		fr, err := d.stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("parse FLAC frame: %w", err)
		}
		channels := len(fr.Subframes)
		if channels == 0 {
			continue
		}
		for i := 0; i < int(fr.BlockSize); i++ {
			var sum float32
			for _, sub := range fr.Subframes {
				sum += float32(sub.Samples[i]) * d.scale
			}
			d.pending = append(d.pending, sum/float32(channels))
		}
	}
	if len(d.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(dst, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *flacDecoder) sampleRate() int { return int(d.stream.Info.SampleRate) }

func (d *flacDecoder) close() error { return d.stream.Close() }
