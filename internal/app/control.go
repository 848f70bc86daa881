package app

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/guidoenr/wavedream/internal/analyzer"
	"github.com/guidoenr/wavedream/internal/config"
	"github.com/guidoenr/wavedream/internal/params"
	"github.com/guidoenr/wavedream/internal/sender"
	"github.com/guidoenr/wavedream/internal/web"
)

var _ web.Controller = (*App)(nil)

// Status returns a snapshot of every pipeline stage.
func (a *App) Status() web.Status {
	a.mu.Lock()
	last := a.last
	st := web.Status{
		Source:         a.sourceName,
		Degraded:       a.degradedReason != "",
		DegradedReason: a.degradedReason,
	}
	a.mu.Unlock()

	st.Frames = a.extractor.Frames()
	st.Metrics = last.Metrics
	st.Beat = last.Beat
	st.Normalization = a.extractor.Normalization()
	st.Engine = a.engine.Snapshot()
	st.Sender = a.sender.Stats()
	st.ChannelReady = a.channelReady()
	return st
}

func (a *App) channelReady() bool {
	ch := a.sender.Channel()
	return ch != nil && ch.Ready()
}

// Themes lists the loaded themes.
func (a *App) Themes() []web.ThemeInfo {
	active := a.engine.Theme().ID
	all := a.themes.All()
	out := make([]web.ThemeInfo, 0, len(all))
	for _, t := range all {
		out = append(out, web.ThemeInfo{
			ID:     t.ID,
			Name:   t.Name,
			Prompt: t.Prompt,
			Active: t.ID == active,
		})
	}
	return out
}

// SetTheme switches to the theme with id, falling back to the default theme
// when id is unknown. Frames queued under the old theme are discarded.
func (a *App) SetTheme(id string, skipTransition bool) (string, bool) {
	t, found := a.themes.Resolve(id)
	if t == nil {
		return "", false
	}
	if !found {
		a.log.Printf("warning: theme %q not found, using %q", id, t.ID)
	}
	a.engine.SetTheme(t, skipTransition)
	a.sender.ClearPending()
	if a.Degraded() {
		a.sender.Send(params.Static(t))
	}
	a.log.Printf("theme -> %s", t.ID)
	return t.ID, found
}

// SetOverlay sets or, with empty text, clears the accent prompt.
func (a *App) SetOverlay(text string, weight float64) {
	a.engine.SetPromptOverlay(text, weight)
}

// SetDenoisingSteps overrides the theme's step list; nil restores it.
func (a *App) SetDenoisingSteps(steps []int) error {
	return a.engine.SetDenoisingSteps(steps)
}

// SetProfile selects a reactivity profile by name.
func (a *App) SetProfile(name string) error {
	if err := a.engine.SetReactivityProfile(name); err != nil {
		return err
	}
	a.log.Printf("reactivity profile -> %s", name)
	return nil
}

// SetNormalization recalibrates the extractor.
func (a *App) SetNormalization(p analyzer.PartialNormalization) {
	a.extractor.SetNormalization(p)
}

// MarkTransition holds engine transitions for a crossfade of steps started
// on the renderer by someone else.
func (a *App) MarkTransition(steps int) {
	a.engine.MarkExternalTransitionActive(steps)
}

// AcceptOffer answers a renderer's WebRTC offer. The data channel it opens
// replaces the current channel; a previous peer connection is closed.
func (a *App) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if a.settings.Transport.Kind != config.TransportWebRTC {
		return nil, web.ErrSignalingDisabled
	}
	answer, peer, err := sender.Answerer{
		Attach: func(dc *sender.DataChannel) {
			a.log.Printf("renderer data channel %q attached", dc.Label())
			a.attach(dc)
		},
		Log: a.log,
	}.Answer(ctx, offer)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	prev := a.peer
	a.peer = peer
	a.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return answer, nil
}
