package analyzer

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// BeatState is the detector's per-frame output. IsBeat is true on the onset
// frame only. BPM is 0 while the tempo is unknown or implausible.
type BeatState struct {
	IsBeat     bool      `json:"isBeat"`
	BPM        float64   `json:"bpm"`
	Confidence float64   `json:"confidence"`
	LastBeat   time.Time `json:"lastBeat"`
}

// BeatConfig tunes the energy-spike beat detector.
type BeatConfig struct {
	HistorySize         int           // energy ring length in frames (~500 ms)
	ThresholdMultiplier float64       // energy must exceed average × this
	MinBeatEnergy       float64       // absolute energy floor for a beat
	NoiseFloor          float64       // buffer average must exceed this
	MinDelta            float64       // energy - average must exceed this
	RefractoryFrames    int           // hard minimum gap between beats
	TempoWindow         time.Duration // beat timestamps kept for tempo
	MinBeats            int           // timestamps needed before a BPM is reported
	MinBPM, MaxBPM      float64
}

// DefaultBeatConfig returns the detector settings used for ~86 Hz frames.
func DefaultBeatConfig() BeatConfig {
	return BeatConfig{
		HistorySize:         43,
		ThresholdMultiplier: 1.4,
		MinBeatEnergy:       0.12,
		NoiseFloor:          0.02,
		MinDelta:            0.05,
		RefractoryFrames:    8,
		TempoWindow:         30 * time.Second,
		MinBeats:            4,
		MinBPM:              60,
		MaxBPM:              200,
	}
}

// BeatDetector flags onsets in the energy series and keeps a running tempo
// estimate from the spacing of recent onsets.
type BeatDetector struct {
	cfg BeatConfig

	history  []float64
	histNext int

	frame     int64
	lastBeat  int64
	beats     []time.Time
	bpm       float64
	conf      float64
	lastStamp time.Time
}

// NewBeatDetector returns a detector with cfg; zero fields take defaults.
func NewBeatDetector(cfg BeatConfig) *BeatDetector {
	def := DefaultBeatConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.ThresholdMultiplier <= 0 {
		cfg.ThresholdMultiplier = def.ThresholdMultiplier
	}
	if cfg.RefractoryFrames <= 0 {
		cfg.RefractoryFrames = def.RefractoryFrames
	}
	if cfg.TempoWindow <= 0 {
		cfg.TempoWindow = def.TempoWindow
	}
	if cfg.MinBeats < 2 {
		cfg.MinBeats = def.MinBeats
	}
	if cfg.MaxBPM <= cfg.MinBPM {
		cfg.MinBPM, cfg.MaxBPM = def.MinBPM, def.MaxBPM
	}
	d := &BeatDetector{cfg: cfg}
	d.Reset()
	return d
}

// Reset forgets all history and tempo.
func (d *BeatDetector) Reset() {
	d.history = make([]float64, 0, d.cfg.HistorySize)
	d.histNext = 0
	d.frame = 0
	d.lastBeat = -int64(d.cfg.RefractoryFrames)
	d.beats = d.beats[:0]
	d.bpm = 0
	d.conf = 0
	d.lastStamp = time.Time{}
}

// Process consumes one energy sample taken at now.
func (d *BeatDetector) Process(energy float64, now time.Time) BeatState {
	energy = clamp01(energy)

	avg := 0.0
	if len(d.history) > 0 {
		avg = stat.Mean(d.history, nil)
	}

	isBeat := energy > max(d.cfg.MinBeatEnergy, avg*d.cfg.ThresholdMultiplier) &&
		avg > d.cfg.NoiseFloor &&
		energy-avg > d.cfg.MinDelta &&
		d.frame-d.lastBeat >= int64(d.cfg.RefractoryFrames)

	if isBeat {
		d.lastBeat = d.frame
		d.lastStamp = now
		d.recordBeat(now)
	}

	d.push(energy)
	d.frame++

	return BeatState{
		IsBeat:     isBeat,
		BPM:        d.bpm,
		Confidence: d.conf,
		LastBeat:   d.lastStamp,
	}
}

func (d *BeatDetector) push(v float64) {
	if len(d.history) < d.cfg.HistorySize {
		d.history = append(d.history, v)
		return
	}
	d.history[d.histNext] = v
	d.histNext = (d.histNext + 1) % d.cfg.HistorySize
}

func (d *BeatDetector) recordBeat(now time.Time) {
	d.beats = append(d.beats, now)
	cutoff := now.Add(-d.cfg.TempoWindow)
	keep := 0
	for keep < len(d.beats) && d.beats[keep].Before(cutoff) {
		keep++
	}
	d.beats = append(d.beats[:0], d.beats[keep:]...)

	if len(d.beats) < d.cfg.MinBeats {
		return
	}

	intervals := make([]float64, len(d.beats)-1)
	for i := 1; i < len(d.beats); i++ {
		intervals[i-1] = float64(d.beats[i].Sub(d.beats[i-1])) / float64(time.Millisecond)
	}
	mean, std := stat.MeanStdDev(intervals, nil)
	if mean <= 0 {
		d.bpm, d.conf = 0, 0
		return
	}
	bpm := 60_000 / mean
	if bpm < d.cfg.MinBPM || bpm > d.cfg.MaxBPM {
		d.bpm, d.conf = 0, 0
		return
	}
	d.bpm = bpm
	d.conf = max(0, 1-std/mean)
}
