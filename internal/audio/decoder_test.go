package audio

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const flacBlock = 1024

// writeTestFLAC encodes blocks of a 16-bit stereo tone with the right
// channel silent.
func writeTestFLAC(t *testing.T, blocks int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.flac")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlock,
		BlockSizeMax:  flacBlock,
		SampleRate:    44_100,
		NChannels:     2,
		BitsPerSample: 16,
	}
	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		f.Close()
		t.Fatalf("new encoder: %v", err)
	}
	for b := 0; b < blocks; b++ {
		left := make([]int32, flacBlock)
		right := make([]int32, flacBlock)
		for i := range left {
			n := b*flacBlock + i
			left[i] = int32(16_000 * math.Sin(2*math.Pi*440*float64(n)/44_100))
		}
		fr := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         flacBlock,
				SampleRate:        44_100,
				Channels:          frame.ChannelsLR,
				BitsPerSample:     16,
			},
			Subframes: []*frame.Subframe{
				{SubHeader: frame.SubHeader{Pred: frame.PredVerbatim}, Samples: left, NSamples: flacBlock},
				{SubHeader: frame.SubHeader{Pred: frame.PredVerbatim}, Samples: right, NSamples: flacBlock},
			},
		}
		if err := enc.WriteFrame(fr); err != nil {
			t.Fatalf("write frame %d: %v", b, err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return path
}

// drain reads d to the end and returns the sample count and peak.
func drain(t *testing.T, d decoder) (int, float32) {
	t.Helper()
	buf := make([]float32, FrameSize)
	total := 0
	peak := float32(0)
	for {
		n, err := d.read(buf)
		for _, v := range buf[:n] {
			peak = max(peak, float32(math.Abs(float64(v))))
		}
		total += n
		if errors.Is(err, io.EOF) {
			return total, peak
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
}

func TestFLACDecoderMixesToMono(t *testing.T) {
	d, err := openDecoder(writeTestFLAC(t, 3))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.close()

	if d.sampleRate() != 44_100 {
		t.Fatalf("rate=%d", d.sampleRate())
	}
	total, peak := drain(t, d)
	if total != 3*flacBlock {
		t.Fatalf("decoded %d samples, want %d", total, 3*flacBlock)
	}
	// full-scale left over a silent right averages to half amplitude
	want := float32(16_000) / 32_768 / 2
	if math.Abs(float64(peak-want)) > 0.01 {
		t.Fatalf("peak=%f want ~%f", peak, want)
	}
}

// silentMP3 returns frames of MPEG-1 Layer III, 128 kbps, 44.1 kHz mono
// with an all-zero body, which decodes to silence.
func silentMP3(frames int) []byte {
	const frameLen = 144 * 128_000 / 44_100
	var out []byte
	for i := 0; i < frames; i++ {
		fr := make([]byte, frameLen)
		copy(fr, []byte{0xFF, 0xFB, 0x90, 0xC4})
		out = append(out, fr...)
	}
	return out
}

func TestMP3DecoderReadsSilence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silence.mp3")
	if err := os.WriteFile(path, silentMP3(20), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := openDecoder(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.close()

	if d.sampleRate() != 44_100 {
		t.Fatalf("rate=%d", d.sampleRate())
	}
	total, peak := drain(t, d)
	if total == 0 || peak != 0 {
		t.Fatalf("decoded %d samples, peak %f", total, peak)
	}
}

func TestDecoderErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := []byte("this is not audio at all")
	for _, name := range []string{"bad.mp3", "bad.flac", "bad.wav"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, garbage, 0o644); err != nil {
			t.Fatal(err)
		}
		if d, err := openDecoder(path); err == nil {
			d.close()
			t.Errorf("%s: expected decode error", name)
		}
	}
	if _, err := openDecoder(filepath.Join(dir, "missing.flac")); err == nil {
		t.Errorf("missing file: expected error")
	}
	_, err := openDecoder(filepath.Join(dir, "song.ogg"))
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("ogg: err=%v", err)
	}
}
