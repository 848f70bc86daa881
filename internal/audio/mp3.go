package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always yields interleaved 16-bit little-endian stereo.
const mp3BytesPerFrame = 4

type mp3Decoder struct {
	file *os.File
	dec  *mp3.Decoder
	raw  []byte
}

func openMP3(path string) (*mp3Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create MP3 decoder: %w", err)
	}
	return &mp3Decoder{file: f, dec: dec}, nil
}

func (d *mp3Decoder) read(dst []float32) (int, error) {
	want := len(dst) * mp3BytesPerFrame
	if cap(d.raw) < want {
		d.raw = make([]byte, want)
	}
	buf := d.raw[:want]

	n, err := io.ReadFull(d.dec, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, fmt.Errorf("read MP3 data: %w", err)
	}
	frames := n / mp3BytesPerFrame
	if frames == 0 {
		return 0, io.EOF
	}
	for i := 0; i < frames; i++ {
		left := int16(buf[i*4]) | int16(buf[i*4+1])<<8
		right := int16(buf[i*4+2]) | int16(buf[i*4+3])<<8
		dst[i] = (float32(left) + float32(right)) / 65536
	}
	return frames, nil
}

func (d *mp3Decoder) sampleRate() int { return d.dec.SampleRate() }

func (d *mp3Decoder) close() error { return d.file.Close() }
