package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type wavDecoder struct {
	file     *os.File
	dec      *wav.Decoder
	rate     int
	channels int
	scale    float32
	buf      *goaudio.IntBuffer
}

func openWAV(path string) (*wavDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("invalid WAV file %s", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek to PCM data: %w", err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	return &wavDecoder{
		file:     f,
		dec:      dec,
		rate:     int(dec.SampleRate),
		channels: channels,
		scale:    1 / float32(goaudio.IntMaxSignedValue(int(dec.BitDepth))),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		},
	}, nil
}

func (d *wavDecoder) read(dst []float32) (int, error) {
	want := len(dst) * d.channels
	if cap(d.buf.Data) < want {
		d.buf.Data = make([]int, want)
	}
	d.buf.Data = d.buf.Data[:want]

	n, err := d.dec.PCMBuffer(d.buf)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("read PCM buffer: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	frames := n / d.channels
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < d.channels; ch++ {
			sum += float32(d.buf.Data[i*d.channels+ch]) * d.scale
		}
		dst[i] = sum / float32(d.channels)
	}
	return frames, nil
}

func (d *wavDecoder) sampleRate() int { return d.rate }

func (d *wavDecoder) close() error { return d.file.Close() }
