package analyzer

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const rolloffRatio = 0.85

// spectral measures RawFeatures from mono frames. Workspace buffers are reused
// across frames of the same size.
type spectral struct {
	sampleRate float64
	buffer     []float64
	window     []float64
}

func newSpectral(sampleRate float64) *spectral {
	if sampleRate <= 0 {
		sampleRate = 44_100
	}
	return &spectral{sampleRate: sampleRate}
}

func (s *spectral) measure(frame []float32) RawFeatures {
	size := len(frame)
	if size < 2 {
		return RawFeatures{}
	}
	s.ensureWorkspace(size)

	var sumSq float64
	crossings := 0
	prev := 0.0
	for i, v := range frame {
		x := finiteOr(float64(v), 0)
		sumSq += x * x
		if i > 0 && (prev >= 0) != (x >= 0) {
			crossings++
		}
		prev = x
		s.buffer[i] = x * s.window[i]
	}
	rms := math.Sqrt(sumSq / float64(size))

	spectrum := fft.FFTReal(s.buffer)
	half := size/2 + 1
	binHz := s.sampleRate / float64(size)

	var (
		magSum, weighted, powerSum, logSum float64
	)
	mags := make([]float64, half)
	for i := 0; i < half; i++ {
		mag := cmag(spectrum[i])
		mags[i] = mag
		magSum += mag
		weighted += mag * float64(i) * binHz
		powerSum += mag * mag
		logSum += math.Log(mag + 1e-12)
	}

	raw := RawFeatures{
		RMS: rms,
		ZCR: float64(crossings) / float64(size-1),
	}
	if magSum <= 1e-9 {
		return raw
	}

	raw.Centroid = weighted / magSum
	raw.Flatness = clamp01(math.Exp(logSum/float64(half)) / (magSum / float64(half)))

	target := powerSum * rolloffRatio
	cumulative := 0.0
	raw.Rolloff = s.sampleRate / 2
	for i, mag := range mags {
		cumulative += mag * mag
		if cumulative >= target {
			raw.Rolloff = float64(i) * binHz
			break
		}
	}
	return raw
}

func (s *spectral) ensureWorkspace(size int) {
	if len(s.buffer) != size {
		s.buffer = make([]float64, size)
	}
	if len(s.window) != size {
		s.window = window.Hann(size)
	}
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}
