package analyzer

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// RawFeatures are the per-frame measurements taken straight from the signal.
type RawFeatures struct {
	RMS      float64 // root-mean-square amplitude, 0..1 for full-scale input
	Centroid float64 // spectral centroid in Hz
	Flatness float64 // spectral flatness, 0 (tonal) .. 1 (noise)
	Rolloff  float64 // frequency below which 85% of spectral energy lies, Hz
	ZCR      float64 // zero crossings per sample
}

// NormalizationConfig sets the static floor/ceiling used to map raw features
// into 0..1.
type NormalizationConfig struct {
	EnergyMax   float64 `yaml:"energy_max" json:"energyMax"`
	CentroidMin float64 `yaml:"centroid_min" json:"centroidMin"`
	CentroidMax float64 `yaml:"centroid_max" json:"centroidMax"`
	FlatnessMax float64 `yaml:"flatness_max" json:"flatnessMax"`
}

// DefaultNormalization is calibrated for line-level music input.
func DefaultNormalization() NormalizationConfig {
	return NormalizationConfig{
		EnergyMax:   0.3,
		CentroidMin: 300,
		CentroidMax: 5000,
		FlatnessMax: 0.5,
	}
}

// PartialNormalization carries a recalibration; nil fields keep their value.
type PartialNormalization struct {
	EnergyMax   *float64 `json:"energyMax,omitempty"`
	CentroidMin *float64 `json:"centroidMin,omitempty"`
	CentroidMax *float64 `json:"centroidMax,omitempty"`
	FlatnessMax *float64 `json:"flatnessMax,omitempty"`
}

// Apply returns cfg with the non-nil fields of p applied.
func (p PartialNormalization) Apply(cfg NormalizationConfig) NormalizationConfig {
	if p.EnergyMax != nil {
		cfg.EnergyMax = *p.EnergyMax
	}
	if p.CentroidMin != nil {
		cfg.CentroidMin = *p.CentroidMin
	}
	if p.CentroidMax != nil {
		cfg.CentroidMax = *p.CentroidMax
	}
	if p.FlatnessMax != nil {
		cfg.FlatnessMax = *p.FlatnessMax
	}
	return cfg
}

// DerivedMetrics are the normalized perceptual quantities. Energy, Brightness,
// Texture and PeakEnergy are always finite and in [0,1]; EnergyDerivative is
// finite and in [-1,1].
type DerivedMetrics struct {
	Energy           float64 `json:"energy"`
	Brightness       float64 `json:"brightness"`
	Texture          float64 `json:"texture"`
	EnergyDerivative float64 `json:"energyDerivative"`
	PeakEnergy       float64 `json:"peakEnergy"`
}

// State is everything the extractor knows about one analysis frame.
type State struct {
	Timestamp time.Time
	Raw       RawFeatures
	Metrics   DerivedMetrics
	Beat      BeatState
}

const (
	adaptiveHeadroom = 1.25
	ceilingDecay     = 0.997
	energyFloor      = 1e-4
	peakWindow       = 43
)

// normalizer turns RawFeatures into DerivedMetrics and owns the cross-frame
// calibration state: the adaptive energy ceiling, the previous energy for the
// derivative and a short energy history for the peak.
type normalizer struct {
	cfg      NormalizationConfig
	ceiling  float64
	prev     float64
	primed   bool
	history  []float64
	histNext int
}

func newNormalizer(cfg NormalizationConfig) *normalizer {
	return &normalizer{cfg: cfg, history: make([]float64, 0, peakWindow)}
}

func (n *normalizer) reset() {
	n.ceiling = 0
	n.prev = 0
	n.primed = false
	n.history = n.history[:0]
	n.histNext = 0
}

func (n *normalizer) derive(raw RawFeatures) DerivedMetrics {
	rms := finiteOr(raw.RMS, 0)
	if rms < 0 {
		rms = 0
	}

	base := math.Max(finiteOr(n.cfg.EnergyMax, 0), energyFloor)
	ceiling := math.Max(base, n.ceiling)
	energy := clamp01(rms / ceiling)

	// One loud transient lifts the ceiling immediately; it then sinks back
	// toward the static baseline.
	if rms > ceiling {
		n.ceiling = rms * adaptiveHeadroom
	} else {
		n.ceiling = base + (ceiling-base)*ceilingDecay
	}

	derivative := 0.0
	if n.primed {
		derivative = energy - n.prev
	}
	n.prev = energy
	n.primed = true

	n.pushHistory(energy)

	return DerivedMetrics{
		Energy:           energy,
		Brightness:       normalizeRange(raw.Centroid, n.cfg.CentroidMin, n.cfg.CentroidMax),
		Texture:          normalizeRange(raw.Flatness, 0, n.cfg.FlatnessMax),
		EnergyDerivative: derivative,
		PeakEnergy:       floats.Max(n.history),
	}
}

func (n *normalizer) pushHistory(v float64) {
	if len(n.history) < peakWindow {
		n.history = append(n.history, v)
		return
	}
	n.history[n.histNext] = v
	n.histNext = (n.histNext + 1) % peakWindow
}

// normalizeRange maps v from [lo,hi] into [0,1]. Degenerate or non-finite
// ranges yield 0.
func normalizeRange(v, lo, hi float64) float64 {
	if !isFinite(v) || !isFinite(lo) || !isFinite(hi) {
		return 0
	}
	width := hi - lo
	if width <= 0 || hi == 0 {
		return 0
	}
	return clamp01((v - lo) / width)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteOr(v, fallback float64) float64 {
	if isFinite(v) {
		return v
	}
	return fallback
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, 0, 1)
}
