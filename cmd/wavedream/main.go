package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guidoenr/wavedream/internal/app"
	"github.com/guidoenr/wavedream/internal/audio"
	"github.com/guidoenr/wavedream/internal/config"
	"github.com/guidoenr/wavedream/internal/theme"
)

type flags struct {
	configPath  string
	device      string
	file        string
	loop        bool
	noAudio     bool
	theme       string
	themesDir   string
	profile     string
	transport   string
	rendererURL string
	sendRate    float64
	webAddr     string
	noStatus    bool
	noKeyboard  bool
	noColor     bool
	debug       bool
	profileOut  string
}

func main() {
	logger := log.New(os.Stderr, "[wavedream] ", log.LstdFlags)
	if err := newRootCommand(logger).Execute(); err != nil {
		logger.Fatalf("%v", err)
	}
}

func newRootCommand(logger *log.Logger) *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "wavedream",
		Short:         "Stream audio-reactive parameters to a generative video renderer",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &f, logger)
		},
	}
	root.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Config file (default ./"+config.DefaultPath+" when present)")
	pf.StringVar(&f.themesDir, "themes-dir", "", "Directory of extra theme YAML files")
	pf.BoolVarP(&f.debug, "debug", "v", false, "Enable verbose logging")

	fl := root.Flags()
	fl.StringVarP(&f.device, "device", "d", "", "PortAudio input device name (substring match)")
	fl.StringVarP(&f.file, "file", "f", "", "Play a WAV, MP3 or FLAC file instead of capturing")
	fl.BoolVar(&f.loop, "loop", false, "Restart file playback at end of file")
	fl.BoolVar(&f.noAudio, "no-audio", false, "Run with the synthetic test signal")
	fl.StringVarP(&f.theme, "theme", "t", "", "Initial theme id")
	fl.StringVarP(&f.profile, "profile", "p", "", "Reactivity profile (subtle|balanced|kinetic)")
	fl.StringVar(&f.transport, "transport", "", "Parameter transport (websocket|webrtc|log)")
	fl.StringVarP(&f.rendererURL, "renderer-url", "u", "", "Renderer websocket URL, implies --transport websocket")
	fl.Float64Var(&f.sendRate, "send-rate", 0, "Parameter sends per second")
	fl.StringVar(&f.webAddr, "web-addr", "", "Control server address, \"off\" disables it")
	fl.BoolVar(&f.noStatus, "no-status", false, "Hide the status line")
	fl.BoolVar(&f.noKeyboard, "no-keyboard", false, "Disable keyboard controls")
	fl.BoolVar(&f.noColor, "no-color", false, "Disable ANSI color output")
	fl.StringVar(&f.profileOut, "profile-out", "", "Write per-frame timings as CSV to this file")

	root.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices(cmd)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "themes",
		Short: "List loaded themes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			themes, err := loadThemes(cfg, logger)
			if err != nil {
				return err
			}
			return listThemes(cmd, themes, cfg.Engine.Theme)
		},
	})
	return root
}

func run(cmd *cobra.Command, f *flags, logger *log.Logger) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	if !cfg.Debug {
		logger.SetFlags(0)
	}
	themes, err := loadThemes(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Config{
		Settings:    *cfg,
		Themes:      themes,
		ProfilePath: f.profileOut,
		Log:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup error: %v\n", err)
		}
	}()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("runtime error: %w", err)
	}
	return nil
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("debug") {
		cfg.Debug = f.debug
	}
	if changed("themes-dir") {
		cfg.Engine.ThemesDir = f.themesDir
	}
	if changed("device") {
		cfg.Audio.Device = f.device
	}
	if changed("file") {
		cfg.Audio.Source = config.SourceFile
		cfg.Audio.File = f.file
	}
	if changed("loop") {
		cfg.Audio.Loop = f.loop
	}
	if f.noAudio {
		cfg.Audio.Source = config.SourceSynth
	}
	if changed("theme") {
		cfg.Engine.Theme = f.theme
	}
	if changed("profile") {
		cfg.Engine.Profile = f.profile
	}
	if changed("transport") {
		cfg.Transport.Kind = f.transport
	}
	if changed("renderer-url") {
		cfg.Transport.URL = f.rendererURL
		cfg.Transport.Kind = config.TransportWebSocket
	}
	if changed("send-rate") {
		cfg.Transport.SendRate = f.sendRate
	}
	if changed("web-addr") {
		cfg.UI.WebAddr = f.webAddr
		if f.webAddr == "off" {
			cfg.UI.WebAddr = ""
		}
	}
	if f.noStatus {
		cfg.UI.StatusLine = false
	}
	if f.noKeyboard {
		cfg.UI.Keyboard = false
	}
	if f.noColor {
		cfg.UI.Color = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func loadThemes(cfg *config.Config, logger *log.Logger) (*theme.Registry, error) {
	themes, err := theme.Builtin()
	if err != nil {
		return nil, err
	}
	if cfg.Engine.ThemesDir != "" {
		ids, err := themes.LoadDir(cfg.Engine.ThemesDir)
		if err != nil {
			return nil, err
		}
		logger.Printf("loaded %d theme(s) from %s", len(ids), cfg.Engine.ThemesDir)
	}
	return themes, nil
}

func listDevices(cmd *cobra.Command) error {
	devices, err := audio.InputDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n=== Audio Input Devices ===\n\n")
	if len(devices) == 0 {
		fmt.Fprintln(out, "no input devices found")
		return nil
	}
	for _, dev := range devices {
		fmt.Fprintln(out, dev)
	}
	fmt.Fprintf(out, "\n* used when no device is configured, d = system default\n")
	return nil
}

func listThemes(cmd *cobra.Command, themes *theme.Registry, active string) error {
	out := cmd.OutOrStdout()
	current, _ := themes.Resolve(active)
	for _, t := range themes.All() {
		mark := " "
		if current != nil && t.ID == current.ID {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-12s %-20s %s\n", mark, t.ID, t.Name, t.Prompt)
	}
	return nil
}
