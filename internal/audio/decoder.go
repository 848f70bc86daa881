package audio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// decoder streams mono float32 PCM from an encoded file.
type decoder interface {
	// read fills dst with mono samples and returns how many were written.
	// It returns io.EOF once the stream is exhausted and nothing was read.
	read(dst []float32) (int, error)
	sampleRate() int
	close() error
}

func openDecoder(path string) (decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return openWAV(path)
	case ".mp3":
		return openMP3(path)
	case ".flac":
		return openFLAC(path)
	default:
		return nil, fmt.Errorf("unsupported audio file %q (want .wav, .mp3 or .flac)", filepath.Base(path))
	}
}
