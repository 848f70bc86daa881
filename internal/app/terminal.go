package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/eiannone/keyboard"
	"golang.org/x/term"

	"github.com/guidoenr/wavedream/internal/params"
	"github.com/guidoenr/wavedream/internal/web"
)

type inputEvent int

const (
	inputEventNextTheme inputEvent = iota
	inputEventNextThemeCut
	inputEventNextProfile
	inputEventClearOverlay
	inputEventQuit
)

var (
	labelStyle = lipgloss.NewStyle().Faint(true)
	themeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#25A065"))
	meterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	beatStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("#A40000"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A40000"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
)

const defaultStatusWidth = 80

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Printf("keyboard input disabled: %v", err)
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			evt, ok := keyEvent(char, key)
			if !ok {
				continue
			}
			if evt == inputEventQuit {
				events <- evt
				return
			}
			select {
			case events <- evt:
			default:
			}
		}
	}()
}

func keyEvent(char rune, key keyboard.Key) (inputEvent, bool) {
	switch {
	case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
		return inputEventQuit, true
	case char == 'q' || char == 'Q':
		return inputEventQuit, true
	case char == 't':
		return inputEventNextTheme, true
	case char == 'T':
		return inputEventNextThemeCut, true
	case char == 'p' || char == 'P':
		return inputEventNextProfile, true
	case char == 'o' || char == 'O':
		return inputEventClearOverlay, true
	}
	return 0, false
}

func (a *App) handleInput(evt inputEvent) {
	switch evt {
	case inputEventNextTheme, inputEventNextThemeCut:
		next := a.themes.Next(a.engine.Theme().ID)
		if next != nil {
			a.SetTheme(next.ID, evt == inputEventNextThemeCut)
		}
	case inputEventNextProfile:
		_ = a.SetProfile(params.NextProfile(a.engine.Profile()))
	case inputEventClearOverlay:
		a.SetOverlay("", 0)
		a.log.Println("prompt overlay cleared")
	}
}

func (a *App) drawStatus() {
	line := renderStatus(a.Status(), terminalWidth(a.out), a.settings.UI.Color)
	fmt.Fprint(a.out, "\r\x1b[2K"+line)
}

type segment struct {
	text  string
	style *lipgloss.Style
}

// renderStatus lays out one status line no wider than width. Segments that do
// not fit are dropped from the right.
func renderStatus(st web.Status, width int, color bool) string {
	segs := []segment{{text: st.Engine.ThemeID, style: &themeStyle}}
	if st.Degraded {
		segs = append(segs, segment{text: "DEGRADED", style: &warnStyle})
	} else {
		beat := "   "
		if st.Beat.IsBeat {
			beat = " ● "
		}
		segs = append(segs,
			segment{text: beat, style: &beatStyle},
			segment{text: "E " + meter(st.Metrics.Energy, 10), style: &meterStyle},
			segment{text: "B " + meter(st.Metrics.Brightness, 6), style: &meterStyle},
			segment{text: "T " + meter(st.Metrics.Texture, 6), style: &meterStyle},
			segment{text: bpmLabel(st.Beat.BPM)},
		)
	}
	segs = append(segs,
		segment{text: fmt.Sprintf("noise %.2f", st.Engine.NoiseScale)},
		segment{text: st.Engine.Profile, style: &labelStyle},
	)
	if st.ChannelReady {
		segs = append(segs, segment{text: "renderer up", style: &okStyle})
	} else {
		segs = append(segs, segment{text: "renderer down", style: &warnStyle})
	}
	segs = append(segs, segment{
		text:  fmt.Sprintf("sent %d drop %d", st.Sender.Sent, st.Sender.Dropped),
		style: &labelStyle,
	})
	if st.Engine.Overlay != "" {
		segs = append(segs, segment{text: "+" + st.Engine.Overlay})
	}

	if width <= 0 {
		width = defaultStatusWidth
	}
	var b strings.Builder
	used := 0
	for i, seg := range segs {
		sep := 0
		if i > 0 {
			sep = 1
		}
		w := lipgloss.Width(seg.text)
		if used+sep+w > width {
			break
		}
		if sep > 0 {
			b.WriteByte(' ')
		}
		if color && seg.style != nil {
			b.WriteString(seg.style.Render(seg.text))
		} else {
			b.WriteString(seg.text)
		}
		used += sep + w
	}
	if used < width {
		b.WriteString(strings.Repeat(" ", width-used))
	}
	return b.String()
}

func meter(v float64, cells int) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	filled := int(v*float64(cells) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", cells-filled)
}

func bpmLabel(bpm float64) string {
	if bpm <= 0 {
		return "--- bpm"
	}
	return fmt.Sprintf("%3.0f bpm", bpm)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func hideCursor(w io.Writer) {
	fmt.Fprint(w, "\x1b[?25l")
}

func showCursor(w io.Writer) {
	fmt.Fprint(w, "\x1b[?25h")
}
