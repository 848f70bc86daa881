package params

import (
	"math"

	"github.com/guidoenr/wavedream/internal/analyzer"
	"github.com/guidoenr/wavedream/internal/theme"
)

const steppedLevels = 4

func applyCurve(c theme.Curve, x float64) float64 {
	x = clamp01(x)
	switch c {
	case theme.CurveExponential:
		return x * x
	case theme.CurveLogarithmic:
		return math.Sqrt(x)
	case theme.CurveStepped:
		level := math.Floor(x * steppedLevels)
		return clamp01(level / (steppedLevels - 1))
	default:
		return x
	}
}

func metricValue(m analyzer.DerivedMetrics, src theme.Metric) float64 {
	switch src {
	case theme.MetricEnergy:
		return m.Energy
	case theme.MetricBrightness:
		return m.Brightness
	case theme.MetricTexture:
		return m.Texture
	default:
		return 0
	}
}

// mapTarget combines every mapping for target into one value as a
// sensitivity-weighted average, clamped to the union of the mapping ranges.
func mapTarget(t *theme.Theme, target string, m analyzer.DerivedMetrics) (float64, bool) {
	lo, hi, ok := t.Range(target)
	if !ok {
		return 0, false
	}
	var sum, weights float64
	for _, mp := range t.Mappings {
		if mp.Target != target {
			continue
		}
		v := clamp01(metricValue(m, mp.Source))
		if mp.Invert {
			v = 1 - v
		}
		v = applyCurve(mp.Curve, v)
		sum += (mp.Min + v*(mp.Max-mp.Min)) * mp.Sensitivity
		weights += mp.Sensitivity
	}
	if weights == 0 {
		return lo, true
	}
	return clamp(sum/weights, lo, hi), true
}

// targets lists the distinct mapping targets of t in declaration order.
func targets(t *theme.Theme) []string {
	var out []string
	seen := make(map[string]bool)
	for _, mp := range t.Mappings {
		if !seen[mp.Target] {
			seen[mp.Target] = true
			out = append(out, mp.Target)
		}
	}
	return out
}
