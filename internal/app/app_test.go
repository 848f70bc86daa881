package app

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/eiannone/keyboard"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/guidoenr/wavedream/internal/analyzer"
	"github.com/guidoenr/wavedream/internal/audio"
	"github.com/guidoenr/wavedream/internal/clock"
	"github.com/guidoenr/wavedream/internal/config"
	"github.com/guidoenr/wavedream/internal/params"
	"github.com/guidoenr/wavedream/internal/web"
)

type manualSource struct {
	mu        sync.Mutex
	emit      func([]float32)
	failStart error
	closed    bool
}

func (m *manualSource) Name() string        { return "manual" }
func (m *manualSource) SampleRate() float64 { return 44_100 }

func (m *manualSource) Start(emit func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStart != nil {
		return m.failStart
	}
	m.emit = emit
	return nil
}

func (m *manualSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *manualSource) push(frame []float32) {
	m.mu.Lock()
	emit := m.emit
	m.mu.Unlock()
	emit(frame)
}

type recordChannel struct {
	mu      sync.Mutex
	payload [][]byte
}

func (c *recordChannel) Ready() bool { return true }

func (c *recordChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = append(c.payload, append([]byte(nil), data...))
	return nil
}

func (c *recordChannel) frames(t *testing.T) []params.Parameters {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]params.Parameters, len(c.payload))
	for i, raw := range c.payload {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			t.Fatalf("decode payload %d: %v", i, err)
		}
	}
	return out
}

func sine(amp float64, hz float64) []float32 {
	frame := make([]float32, audio.FrameSize)
	for i := range frame {
		frame[i] = float32(amp * math.Sin(2*math.Pi*hz*float64(i)/44_100))
	}
	return frame
}

func quietSettings() config.Config {
	s := config.Default()
	s.UI.WebAddr = ""
	s.UI.Keyboard = false
	s.UI.StatusLine = false
	return s
}

func newTestApp(t *testing.T, src audio.Source) (*App, *recordChannel, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(5000, 0))
	ch := &recordChannel{}
	a, err := New(Config{
		Settings: quietSettings(),
		Source:   src,
		Channel:  ch,
		Clock:    fake,
		Out:      io.Discard,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	if err := a.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return a, ch, fake
}

func TestPipelineDeliversFrames(t *testing.T) {
	src := &manualSource{}
	a, ch, fake := newTestApp(t, src)

	for i := 0; i < 40; i++ {
		amp := 0.05 + 0.4*float64(i)/40
		src.push(sine(amp, 440))
		fake.Advance(12 * time.Millisecond)
	}
	fake.Advance(time.Second)

	got := ch.frames(t)
	if len(got) < 10 || len(got) > 20 {
		t.Fatalf("delivered %d frames for ~0.5 s of audio at 30 Hz", len(got))
	}
	checkNoHardCuts(t, got)
	first := got[0]
	if len(first.Prompts) == 0 || !strings.HasPrefix(first.Prompts[0].Text, a.engine.Theme().Prompt) {
		t.Fatalf("first frame prompts=%+v", first.Prompts)
	}
	if first.Transition != nil {
		t.Fatalf("first frame carried a transition: %+v", first.Transition)
	}
	if !first.ManageCache || len(first.DenoisingStepList) == 0 {
		t.Fatalf("first frame=%+v", first)
	}

	st := a.Status()
	if st.Degraded || st.Source != "manual" || st.Frames != 40 {
		t.Fatalf("status=%+v", st)
	}
	if st.Sender.Sent != uint64(len(got)) || !st.ChannelReady {
		t.Fatalf("sender stats=%+v delivered=%d", st.Sender, len(got))
	}
	if st.Metrics.Energy <= 0 {
		t.Fatalf("energy not reported: %+v", st.Metrics)
	}
}

// checkNoHardCuts fails if a delivered frame changes the prompts the renderer
// shows without declaring a transition to them.
func checkNoHardCuts(t *testing.T, frames []params.Parameters) {
	t.Helper()
	var shown []params.Prompt
	for i, f := range frames {
		if shown != nil && !reflect.DeepEqual(f.Prompts, shown) {
			t.Fatalf("frame %d cut from %+v to %+v", i, shown, f.Prompts)
		}
		shown = f.Prompts
		if f.Transition != nil {
			shown = f.Transition.TargetPrompts
		}
	}
}

func TestThemeSwitchTransitionReachesRenderer(t *testing.T) {
	src := &manualSource{}
	a, ch, fake := newTestApp(t, src)
	nebula := a.engine.Theme().Prompt

	for i := 0; i < 60; i++ {
		src.push(sine(0.2, 440))
		fake.Advance(12 * time.Millisecond)
	}
	if _, found := a.SetTheme("neon", false); !found {
		t.Fatalf("neon not found")
	}
	neon := a.engine.Theme().Prompt
	for i := 0; i < 60; i++ {
		src.push(sine(0.2, 440))
		fake.Advance(12 * time.Millisecond)
	}
	fake.Advance(time.Second)

	got := ch.frames(t)
	checkNoHardCuts(t, got)
	var cross *params.Parameters
	for i := range got {
		tr := got[i].Transition
		if tr != nil && strings.HasPrefix(tr.TargetPrompts[0].Text, neon) {
			cross = &got[i]
			break
		}
	}
	if cross == nil {
		t.Fatalf("no delivered frame crossfades to neon in %d frames", len(got))
	}
	if !strings.HasPrefix(cross.Prompts[0].Text, nebula) {
		t.Fatalf("crossfade source=%+v want nebula prompts", cross.Prompts)
	}
	if cross.Transition.NumSteps != 16 {
		t.Fatalf("crossfade=%+v", cross.Transition)
	}
}

func TestDegradedSendsStaticFrame(t *testing.T) {
	src := &manualSource{failStart: errors.New("device busy")}
	a, ch, fake := newTestApp(t, src)

	if !a.Degraded() {
		t.Fatalf("app not degraded after source failure")
	}
	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if !closed {
		t.Fatalf("failed source left open")
	}
	st := a.Status()
	if !st.Degraded || !strings.Contains(st.DegradedReason, "device busy") {
		t.Fatalf("status=%+v", st)
	}

	fake.Advance(time.Millisecond)
	got := ch.frames(t)
	if len(got) != 1 {
		t.Fatalf("delivered %d frames, want one static frame", len(got))
	}
	if want := params.Static(a.engine.Theme()); !reflect.DeepEqual(got[0], want) {
		t.Fatalf("static frame=%+v want %+v", got[0], want)
	}

	resolved, found := a.SetTheme("neon", false)
	if resolved != "neon" || !found {
		t.Fatalf("SetTheme=%s,%v", resolved, found)
	}
	fake.Advance(time.Second)
	got = ch.frames(t)
	neon, _ := a.themes.Get("neon")
	if len(got) != 2 || !reflect.DeepEqual(got[1], params.Static(neon)) {
		t.Fatalf("after theme switch delivered %+v", got)
	}
}

func TestWebSocketTransportDeliversStaticFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	}))
	defer srv.Close()

	s := quietSettings()
	s.Transport.Kind = config.TransportWebSocket
	s.Transport.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	a, err := New(Config{
		Settings: s,
		Source:   &manualSource{failStart: errors.New("no device")},
		Out:      io.Discard,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if err := a.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case msg := <-received:
		var got params.Parameters
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode %s: %v", msg, err)
		}
		if !reflect.DeepEqual(got, params.Static(a.engine.Theme())) {
			t.Fatalf("renderer got %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("renderer received nothing")
	}
}

func TestMissingFileRunsDegraded(t *testing.T) {
	s := quietSettings()
	s.Audio.Source = config.SourceFile
	s.Audio.File = filepath.Join(t.TempDir(), "missing.wav")
	a, err := New(Config{Settings: s, Out: io.Discard})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if !a.Degraded() {
		t.Fatalf("expected degraded app")
	}
	if reason := a.Status().DegradedReason; !strings.Contains(reason, "missing.wav") {
		t.Fatalf("reason=%q", reason)
	}
	if err := a.Start(t.Context()); err != nil {
		t.Fatalf("start degraded app: %v", err)
	}
}

func TestUnknownThemeFallsBack(t *testing.T) {
	a, _, _ := newTestApp(t, &manualSource{})
	resolved, found := a.SetTheme("does-not-exist", true)
	if resolved != "nebula" || found {
		t.Fatalf("SetTheme=%s,%v", resolved, found)
	}
	var active []string
	for _, info := range a.Themes() {
		if info.Active {
			active = append(active, info.ID)
		}
	}
	if len(active) != 1 || active[0] != "nebula" {
		t.Fatalf("active themes=%v", active)
	}
}

func TestControlCalls(t *testing.T) {
	a, _, _ := newTestApp(t, &manualSource{})

	if err := a.SetProfile("kinetic"); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	if err := a.SetProfile("wild"); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
	a.SetOverlay("rain", 0.3)
	if err := a.SetDenoisingSteps([]int{900, 100}); err != nil {
		t.Fatalf("set steps: %v", err)
	}
	if err := a.SetDenoisingSteps([]int{100, 900}); err == nil {
		t.Fatalf("ascending steps accepted")
	}
	energyMax := 0.6
	a.SetNormalization(analyzer.PartialNormalization{EnergyMax: &energyMax})
	a.MarkTransition(10)

	st := a.Status()
	if st.Engine.Profile != "kinetic" || st.Engine.Overlay != "rain" {
		t.Fatalf("engine status=%+v", st.Engine)
	}
	if !reflect.DeepEqual(st.Engine.DenoisingSteps, []int{900, 100}) {
		t.Fatalf("steps=%v", st.Engine.DenoisingSteps)
	}
	if st.Normalization.EnergyMax != 0.6 || st.Normalization.CentroidMax != analyzer.DefaultNormalization().CentroidMax {
		t.Fatalf("normalization=%+v", st.Normalization)
	}
	if st.Engine.LockRemaining < a.engine.LockDuration(10) {
		t.Fatalf("lock remaining %v after MarkTransition", st.Engine.LockRemaining)
	}

	if _, err := a.AcceptOffer(t.Context(), webrtc.SessionDescription{}); !errors.Is(err, web.ErrSignalingDisabled) {
		t.Fatalf("offer with log transport: %v", err)
	}
}

func TestKeyboardActions(t *testing.T) {
	a, _, _ := newTestApp(t, &manualSource{})

	a.handleInput(inputEventNextTheme)
	if id := a.engine.Theme().ID; id != "neon" {
		t.Fatalf("next theme=%s", id)
	}
	a.handleInput(inputEventNextThemeCut)
	if id := a.engine.Theme().ID; id != "abyss" {
		t.Fatalf("wrapped theme=%s", id)
	}
	before := a.engine.Profile()
	a.handleInput(inputEventNextProfile)
	if got := a.engine.Profile(); got != params.NextProfile(before) {
		t.Fatalf("profile %s -> %s", before, got)
	}
	a.SetOverlay("fog", 0.5)
	a.handleInput(inputEventClearOverlay)
	if a.Status().Engine.Overlay != "" {
		t.Fatalf("overlay not cleared")
	}
}

func TestKeyEvent(t *testing.T) {
	cases := []struct {
		char rune
		key  keyboard.Key
		want inputEvent
		ok   bool
	}{
		{'t', 0, inputEventNextTheme, true},
		{'T', 0, inputEventNextThemeCut, true},
		{'p', 0, inputEventNextProfile, true},
		{'o', 0, inputEventClearOverlay, true},
		{'q', 0, inputEventQuit, true},
		{0, keyboard.KeyEsc, inputEventQuit, true},
		{0, keyboard.KeyCtrlC, inputEventQuit, true},
		{'x', 0, 0, false},
	}
	for _, tc := range cases {
		got, ok := keyEvent(tc.char, tc.key)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("keyEvent(%q, %v)=%v,%v want %v,%v", tc.char, tc.key, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	st := web.Status{
		Metrics: analyzer.DerivedMetrics{Energy: 0.5, Brightness: 0.2, Texture: 0.9},
		Beat:    analyzer.BeatState{IsBeat: true, BPM: 124},
		Engine:  params.EngineStatus{ThemeID: "neon", Profile: "balanced", NoiseScale: 0.42},
	}
	line := renderStatus(st, 120, false)
	if lipgloss.Width(line) != 120 {
		t.Fatalf("width=%d", lipgloss.Width(line))
	}
	for _, want := range []string{"neon", "124 bpm", "noise 0.42", "renderer down"} {
		if !strings.Contains(line, want) {
			t.Fatalf("status line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("escape codes without color: %q", line)
	}

	narrow := renderStatus(st, 20, true)
	if w := lipgloss.Width(narrow); w != 20 {
		t.Fatalf("narrow width=%d: %q", w, narrow)
	}

	st.Degraded = true
	if line := renderStatus(st, 120, false); !strings.Contains(line, "DEGRADED") || strings.Contains(line, "bpm") {
		t.Fatalf("degraded line=%q", line)
	}
}

func TestMeter(t *testing.T) {
	if got := meter(0.5, 4); got != "██░░" {
		t.Fatalf("meter(0.5)=%q", got)
	}
	if got := meter(3, 2); got != "██" {
		t.Fatalf("meter clamps high: %q", got)
	}
	if got := meter(-1, 2); got != "░░" {
		t.Fatalf("meter clamps low: %q", got)
	}
}

func TestProfilerWritesRows(t *testing.T) {
	if p := newProfiler("", nil); p != nil {
		t.Fatalf("empty path should disable profiler")
	}
	var nilProf *profiler
	nilProf.frame(analyzer.State{}, 0, 0, params.Parameters{})
	if err := nilProf.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}

	path := filepath.Join(t.TempDir(), "frames.csv")
	p := newProfiler(path, nil)
	if p == nil {
		t.Fatalf("profiler not created")
	}
	st := analyzer.State{Timestamp: time.Unix(10, 0), Beat: analyzer.BeatState{IsBeat: true}}
	p.frame(st, 150*time.Microsecond, 20*time.Microsecond, params.Parameters{NoiseScale: 0.3})
	p.frame(st, time.Millisecond, 0, params.Parameters{Transition: &params.Transition{NumSteps: 8}})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "timestamp,frame") {
		t.Fatalf("csv=%q", data)
	}
	if !strings.Contains(lines[1], ",1,150,20,") || !strings.HasSuffix(lines[2], ",8") {
		t.Fatalf("rows=%q", lines[1:])
	}
}
