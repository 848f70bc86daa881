package analyzer

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

const frameStep = time.Second * 512 / 44_100

func TestBeatRefractoryUnderRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cfg := DefaultBeatConfig()
	for trial := 0; trial < 50; trial++ {
		d := NewBeatDetector(cfg)
		now := time.Unix(0, 0)
		last := -1000
		for i := 0; i < 2000; i++ {
			var e float64
			switch rng.Intn(4) {
			case 0:
				e = rng.Float64()
			case 1:
				e = 1
			case 2:
				e = 0.1 * rng.Float64()
			default:
				e = float64(i%3) / 2
			}
			st := d.Process(e, now)
			if st.IsBeat {
				if i-last < cfg.RefractoryFrames {
					t.Fatalf("trial %d: beats at frames %d and %d", trial, last, i)
				}
				last = i
			}
			now = now.Add(frameStep)
		}
	}
}

// pulses returns energy that spikes every period frames over a quiet bed.
func pulses(i, period int) float64 {
	if i%period == 0 {
		return 0.9
	}
	return 0.1
}

func TestBeatTempoEstimate(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := time.Unix(0, 0)
	beats := 0
	var st BeatState
	// 43 frames ≈ 0.499 s ≈ 120 BPM
	for i := 0; i < 43*12; i++ {
		st = d.Process(pulses(i, 43), now)
		if st.IsBeat {
			beats++
		}
		now = now.Add(frameStep)
	}
	if beats < 10 {
		t.Fatalf("beats=%d want >= 10", beats)
	}
	if math.Abs(st.BPM-120) > 3 {
		t.Fatalf("bpm=%f want ~120", st.BPM)
	}
	if st.Confidence < 0.9 {
		t.Fatalf("confidence=%f want close to 1 for a steady pulse", st.Confidence)
	}
}

func TestBeatTempoSubMillisecondPrecision(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	step := 11_625_581 * time.Nanosecond
	now := time.Unix(0, 0)
	var st BeatState
	for i := 0; i < 43*8; i++ {
		st = d.Process(pulses(i, 43), now)
		now = now.Add(step)
	}
	want := 60_000 / (float64(43*step) / float64(time.Millisecond))
	if math.Abs(st.BPM-want) > 1e-6 {
		t.Fatalf("bpm=%f want %f", st.BPM, want)
	}
}

func TestBeatFlagIsSingleFrame(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := time.Unix(0, 0)
	for i := 0; i < 43; i++ {
		d.Process(0.1, now)
		now = now.Add(frameStep)
	}
	if !d.Process(0.9, now).IsBeat {
		t.Fatalf("expected onset on spike")
	}
	if d.Process(0.9, now.Add(frameStep)).IsBeat {
		t.Fatalf("isBeat must only hold for the onset frame")
	}
}

func TestBeatImplausibleTempoCleared(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := time.Unix(0, 0)
	var st BeatState
	// a pulse every 200 frames ≈ 2.3 s ≈ 26 BPM
	for i := 0; i < 200*6; i++ {
		st = d.Process(pulses(i, 200), now)
		now = now.Add(frameStep)
	}
	if st.BPM != 0 || st.Confidence != 0 {
		t.Fatalf("bpm=%f confidence=%f want cleared", st.BPM, st.Confidence)
	}
}

func TestBeatIgnoresQuietBed(t *testing.T) {
	d := NewBeatDetector(DefaultBeatConfig())
	now := time.Unix(0, 0)
	for i := 0; i < 500; i++ {
		// average stays under the noise floor
		e := 0.005
		if i%50 == 0 {
			e = 0.3
		}
		if d.Process(e, now).IsBeat {
			t.Fatalf("beat flagged at frame %d over a silent bed", i)
		}
		now = now.Add(frameStep)
	}
}
