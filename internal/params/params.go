// Package params turns analysis frames into renderer parameter frames.
package params

import (
	"strconv"
	"strings"

	"github.com/guidoenr/wavedream/internal/theme"
)

// Prompt is one weighted text prompt.
type Prompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Transition asks the renderer to crossfade to TargetPrompts.
type Transition struct {
	TargetPrompts []Prompt `json:"target_prompts"`
	NumSteps      int      `json:"num_steps"`
	Method        string   `json:"temporal_interpolation_method"`
}

// Parameters is one frame of renderer control, in the renderer's wire format.
type Parameters struct {
	Prompts           []Prompt    `json:"prompts"`
	DenoisingStepList []int       `json:"denoising_step_list"`
	NoiseScale        float64     `json:"noise_scale"`
	ManageCache       bool        `json:"manage_cache"`
	Paused            bool        `json:"paused"`
	Transition        *Transition `json:"transition,omitempty"`
}

// Static returns the parameter frame for t with no audio influence. Used when
// analysis is unavailable.
func Static(t *theme.Theme) Parameters {
	noise := 0.5
	if lo, hi, ok := t.Range(theme.TargetNoiseScale); ok {
		noise = clamp01((lo + hi) / 2)
	}
	return Parameters{
		Prompts:           []Prompt{{Text: joinPrompt(t.Prompt, nil, t.Style), Weight: 1}},
		DenoisingStepList: append([]int(nil), t.DenoisingSteps...),
		NoiseScale:        noise,
		ManageCache:       true,
	}
}

// Clone returns a deep copy of p.
func (p Parameters) Clone() Parameters {
	out := p
	out.Prompts = clonePrompts(p.Prompts)
	out.DenoisingStepList = append([]int(nil), p.DenoisingStepList...)
	if p.Transition != nil {
		tr := *p.Transition
		tr.TargetPrompts = clonePrompts(tr.TargetPrompts)
		out.Transition = &tr
	}
	return out
}

func clonePrompts(in []Prompt) []Prompt {
	if in == nil {
		return nil
	}
	return append([]Prompt(nil), in...)
}

// promptKey identifies a prompt set for change detection.
func promptKey(prompts []Prompt) string {
	var b strings.Builder
	for _, p := range prompts {
		b.WriteString(p.Text)
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(p.Weight, 'f', 3, 64))
		b.WriteByte(';')
	}
	return b.String()
}

func joinPrompt(base string, descriptors, style []string) string {
	parts := make([]string, 0, 1+len(descriptors)+len(style))
	parts = append(parts, strings.TrimSpace(base))
	for _, s := range descriptors {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	for _, s := range style {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func lerp(current, target, factor float64) float64 {
	return current*(1-factor) + target*factor
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
	if v != v {
		return 0
	}
	return clamp(v, 0, 1)
}
