package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeTestWAV(t *testing.T, samples int, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, 44_100, 16, channels, 1)
	data := make([]int, samples*channels)
	for i := 0; i < samples; i++ {
		v := int(16_000 * math.Sin(2*math.Pi*440*float64(i)/44_100))
		for ch := 0; ch < channels; ch++ {
			data[i*channels+ch] = v
		}
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: 44_100},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestFileSourceReadsWAVFrames(t *testing.T) {
	path := writeTestWAV(t, FrameSize*2+100, 2)
	src, err := OpenFile(path, false, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	if src.SampleRate() != 44_100 {
		t.Fatalf("rate=%f", src.SampleRate())
	}

	frames := 0
	peak := float32(0)
	for {
		frame, ok := src.next()
		if !ok {
			break
		}
		for _, v := range frame {
			if v > peak {
				peak = v
			}
		}
		frames++
		if frames > 10 {
			t.Fatalf("non-looping source did not stop")
		}
	}
	if frames != 3 {
		t.Fatalf("frames=%d want 3 (last one zero padded)", frames)
	}
	if peak < 0.4 || peak > 0.6 {
		t.Fatalf("peak=%f want ~0.49", peak)
	}
}

func TestFileSourceLoops(t *testing.T) {
	path := writeTestWAV(t, FrameSize/2, 1)
	src, err := OpenFile(path, true, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	for i := 0; i < 5; i++ {
		if _, ok := src.next(); !ok {
			t.Fatalf("looping source ended at frame %d", i)
		}
	}
}

func TestOpenFileRejectsUnknownExtension(t *testing.T) {
	if _, err := OpenFile("track.ogg", false, nil); err == nil {
		t.Fatalf("expected error for .ogg")
	}
}

func TestSynthIsDeterministic(t *testing.T) {
	a := NewSynth(120, 7)
	b := NewSynth(120, 7)
	for i := 0; i < 4; i++ {
		fa, fb := a.Next(), b.Next()
		for j := range fa {
			if fa[j] != fb[j] {
				t.Fatalf("frame %d sample %d differs", i, j)
			}
			if fa[j] < -1 || fa[j] > 1 {
				t.Fatalf("sample out of range: %f", fa[j])
			}
		}
	}
}
