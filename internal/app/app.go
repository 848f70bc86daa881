package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/guidoenr/wavedream/internal/analyzer"
	"github.com/guidoenr/wavedream/internal/audio"
	"github.com/guidoenr/wavedream/internal/clock"
	"github.com/guidoenr/wavedream/internal/config"
	"github.com/guidoenr/wavedream/internal/params"
	"github.com/guidoenr/wavedream/internal/sender"
	"github.com/guidoenr/wavedream/internal/theme"
	"github.com/guidoenr/wavedream/internal/web"
)

const dialTimeout = 5 * time.Second

// Config configures the application runtime.
type Config struct {
	Settings    config.Config
	Themes      *theme.Registry
	ProfilePath string // CSV frame timings, empty disables
	Log         *log.Logger
	Out         io.Writer // status line, defaults to stdout

	// Source and Channel replace the configured audio source and transport.
	Source  audio.Source
	Channel sender.Channel
	Clock   clock.Clock
}

// App wires audio source, extractor, mapping engine and sender together.
type App struct {
	settings config.Config
	themes   *theme.Registry
	log      *log.Logger
	out      io.Writer

	registry  *audio.Registry
	extractor *analyzer.Extractor
	engine    *params.Engine
	sender    *sender.Sender
	prof      *profiler
	channel   sender.Channel

	mu             sync.Mutex
	sourceName     string
	degradedReason string
	last           analyzer.State
	peer           io.Closer

	inputEvents chan inputEvent
}

// New builds the pipeline. An audio source that cannot be opened or analyzed
// does not fail New; the app runs degraded and emits static frames instead.
func New(cfg Config) (*App, error) {
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Themes == nil {
		themes, err := theme.Builtin()
		if err != nil {
			return nil, err
		}
		cfg.Themes = themes
	}
	settings := cfg.Settings

	active, found := cfg.Themes.Resolve(settings.Engine.Theme)
	if active == nil {
		return nil, errors.New("no themes loaded")
	}
	if !found {
		cfg.Log.Printf("warning: theme %q not found, using %q", settings.Engine.Theme, active.ID)
	}

	engine, err := params.NewEngine(params.Config{
		Theme:            active,
		Profile:          settings.Engine.Profile,
		OutputFPS:        settings.Engine.OutputFPS,
		CompletionMargin: settings.Engine.CompletionMargin,
		Clock:            cfg.Clock,
		Log:              debugLogger(cfg.Log, settings.Debug),
	})
	if err != nil {
		return nil, fmt.Errorf("mapping engine: %w", err)
	}
	if settings.Engine.DenoisingSteps != nil {
		if err := engine.SetDenoisingSteps(settings.Engine.DenoisingSteps); err != nil {
			return nil, fmt.Errorf("denoising steps: %w", err)
		}
	}

	registry := audio.NewRegistry()
	a := &App{
		settings: settings,
		themes:   cfg.Themes,
		log:      cfg.Log,
		out:      cfg.Out,
		registry: registry,
		extractor: analyzer.New(analyzer.Config{
			Normalization: settings.Analysis.Normalization,
			Registry:      registry,
			Clock:         cfg.Clock,
			Log:           cfg.Log,
		}),
		engine: engine,
		sender: sender.New(sender.Config{
			Rate:  settings.Transport.SendRate,
			Clock: cfg.Clock,
			Log:   cfg.Log,
		}),
		prof:    newProfiler(cfg.ProfilePath, cfg.Log),
		channel: cfg.Channel,
	}

	src := cfg.Source
	if src == nil {
		src, err = a.openSource()
		if err != nil {
			a.degrade(err)
			return a, nil
		}
	}
	a.sourceName = src.Name()
	if err := a.extractor.Initialize(src); err != nil {
		_ = src.Close()
		a.degrade(err)
		return a, nil
	}
	return a, nil
}

func (a *App) openSource() (audio.Source, error) {
	cfg := a.settings.Audio
	switch cfg.Source {
	case config.SourceSynth:
		a.log.Println("audio disabled, using synthetic generator")
		return audio.NewSynth(cfg.SynthBPM, time.Now().UnixNano()), nil
	case config.SourceFile:
		src, err := audio.OpenFile(cfg.File, cfg.Loop, a.log)
		if err != nil {
			return nil, &analyzer.InitError{Source: cfg.File, Err: err}
		}
		a.log.Printf("playing %q @ %.0f Hz", cfg.File, src.SampleRate())
		return src, nil
	default:
		capture, err := audio.NewCapture(audio.Config{
			DeviceName: cfg.Device,
			Channels:   cfg.Channels,
		})
		if err != nil {
			return nil, &analyzer.InitError{Source: "capture", Err: err}
		}
		a.log.Printf("audio capture started on %q @ %.0f Hz", capture.Name(), capture.SampleRate())
		return capture, nil
	}
}

func (a *App) degrade(err error) {
	a.mu.Lock()
	a.degradedReason = err.Error()
	a.mu.Unlock()
	if errors.Is(err, analyzer.ErrAnalysisUnavailable) {
		a.log.Printf("audio analysis unavailable, running degraded: %v", err)
		return
	}
	a.log.Printf("audio source failed, running degraded: %v", err)
}

// Degraded reports whether the app runs without audio analysis.
func (a *App) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degradedReason != ""
}

// Start connects the transport and begins streaming. It returns once the
// pipeline is running; background work stops when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	switch {
	case a.channel != nil:
		a.attach(a.channel)
	case a.settings.Transport.Kind == config.TransportLog:
		a.attach(sender.NewLogChannel(a.log, a.settings.Transport.LogEvery))
	case a.settings.Transport.Kind == config.TransportWebSocket:
		go a.connectWebSocket(ctx)
	case a.settings.Transport.Kind == config.TransportWebRTC:
		a.log.Printf("waiting for a webrtc offer on http://%s/api/webrtc/offer", a.settings.UI.WebAddr)
	}

	if a.Degraded() {
		return nil
	}
	if err := a.extractor.Start(a.onFrame); err != nil {
		return fmt.Errorf("start extractor: %w", err)
	}
	return nil
}

// Run starts the pipeline and drives the terminal until ctx is cancelled or
// the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	if addr := a.settings.UI.WebAddr; addr != "" {
		srv := web.NewServer(a, web.Config{StatusRate: a.settings.UI.StatusRate, Log: a.log})
		go func() {
			serverErr <- srv.Run(ctx, addr)
		}()
	}

	if a.settings.UI.Keyboard && isTerminal(os.Stdin) {
		a.startInputListener(ctx)
	}

	var tick <-chan time.Time
	statusLine := a.settings.UI.StatusLine && isTerminal(a.out)
	if statusLine {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / a.settings.UI.StatusRate))
		defer ticker.Stop()
		tick = ticker.C
		hideCursor(a.out)
		defer func() {
			fmt.Fprintln(a.out)
			showCursor(a.out)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-serverErr:
			if err != nil {
				return fmt.Errorf("control server: %w", err)
			}
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if evt == inputEventQuit {
				return nil
			}
			a.handleInput(evt)
		case <-tick:
			a.drawStatus()
		}
	}
}

// Close stops analysis and releases the source, transport and profiler.
func (a *App) Close() error {
	a.extractor.Destroy()
	a.sender.SetChannel(nil)

	var errs []error
	if err := a.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audio: %w", err))
	}
	a.mu.Lock()
	peer := a.peer
	a.peer = nil
	a.mu.Unlock()
	if peer != nil {
		if err := peer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer connection: %w", err))
		}
	}
	if err := a.prof.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close profiler: %w", err))
	}
	return errors.Join(errs...)
}

// onFrame runs on the source goroutine for every analysis frame.
func (a *App) onFrame(st analyzer.State) {
	start := time.Now()
	p := a.engine.Compute(st)
	computed := time.Now()
	a.sender.Send(p)
	a.prof.frame(st, computed.Sub(start), time.Since(computed), p)

	a.mu.Lock()
	a.last = st
	a.mu.Unlock()
}

// attach routes parameter frames to ch. While degraded the static frame for
// the active theme is sent as soon as a channel exists.
func (a *App) attach(ch sender.Channel) {
	a.sender.SetChannel(ch)
	if a.Degraded() {
		a.sender.Send(params.Static(a.engine.Theme()))
	}
}

// connectWebSocket dials the renderer once. Reconnecting is left to whoever
// manages the renderer session; until then frames are dropped and counted.
func (a *App) connectWebSocket(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	ch, err := sender.DialWebSocket(dialCtx, sender.WebSocketConfig{
		URL: a.settings.Transport.URL,
		Log: a.log,
	})
	cancel()
	if err != nil {
		a.log.Printf("renderer not reachable, dropping frames: %v", err)
		return
	}
	a.log.Printf("connected to renderer at %s", a.settings.Transport.URL)
	a.attach(ch)

	select {
	case <-ctx.Done():
	case <-ch.Done():
		a.log.Printf("renderer connection closed")
	}
	a.sender.SetChannel(nil)
	_ = ch.Close()
}

func debugLogger(logger *log.Logger, debug bool) *log.Logger {
	if debug {
		return logger
	}
	return log.New(io.Discard, "", 0)
}
