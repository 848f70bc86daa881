// Package config loads the wavedream configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guidoenr/wavedream/internal/analyzer"
	"github.com/guidoenr/wavedream/internal/params"
	"github.com/guidoenr/wavedream/internal/theme"
)

// Audio source kinds.
const (
	SourceCapture = "capture"
	SourceFile    = "file"
	SourceSynth   = "synth"
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
	TransportLog       = "log"
)

// DefaultPath is searched when no config path is given.
const DefaultPath = "wavedream.yaml"

// Config is the full runtime configuration.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Engine    EngineConfig    `yaml:"engine"`
	Transport TransportConfig `yaml:"transport"`
	UI        UIConfig        `yaml:"ui"`
}

// AudioConfig selects the audio source.
type AudioConfig struct {
	Source   string  `yaml:"source"`   // capture, file or synth
	Device   string  `yaml:"device"`   // PortAudio device name (substring match)
	Channels int     `yaml:"channels"` // capture channels, mixed to mono
	File     string  `yaml:"file"`     // WAV, MP3 or FLAC path for source=file
	Loop     bool    `yaml:"loop"`     // restart file playback at EOF
	SynthBPM float64 `yaml:"synth_bpm"`
}

// AnalysisConfig holds feature extraction settings.
type AnalysisConfig struct {
	Normalization analyzer.NormalizationConfig `yaml:"normalization"`
}

// EngineConfig holds mapping engine settings.
type EngineConfig struct {
	Theme            string        `yaml:"theme"`
	ThemesDir        string        `yaml:"themes_dir"`
	Profile          string        `yaml:"profile"`
	OutputFPS        float64       `yaml:"output_fps"`
	CompletionMargin time.Duration `yaml:"completion_margin"`
	DenoisingSteps   []int         `yaml:"denoising_steps,omitempty"`
}

// TransportConfig selects how parameters reach the renderer.
type TransportConfig struct {
	Kind     string  `yaml:"kind"` // websocket, webrtc or log
	URL      string  `yaml:"url"`  // renderer websocket URL
	SendRate float64 `yaml:"send_rate"`
	LogEvery int     `yaml:"log_every"` // dry-run logging stride
}

// UIConfig controls the local surfaces.
type UIConfig struct {
	StatusRate float64 `yaml:"status_rate"`
	StatusLine bool    `yaml:"status_line"`
	Keyboard   bool    `yaml:"keyboard"`
	WebAddr    string  `yaml:"web_addr"` // empty disables the control server
	Color      bool    `yaml:"color"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Source:   SourceCapture,
			Channels: 2,
			SynthBPM: 120,
		},
		Analysis: AnalysisConfig{
			Normalization: analyzer.DefaultNormalization(),
		},
		Engine: EngineConfig{
			Theme:            theme.DefaultID,
			Profile:          params.DefaultProfile,
			OutputFPS:        params.DefaultOutputFPS,
			CompletionMargin: params.DefaultCompletionMargin,
		},
		Transport: TransportConfig{
			Kind:     TransportLog,
			URL:      "ws://127.0.0.1:8000/ws",
			SendRate: 30,
			LogEvery: 30,
		},
		UI: UIConfig{
			StatusRate: 10,
			StatusLine: true,
			Keyboard:   true,
			WebAddr:    "127.0.0.1:8765",
			Color:      true,
		},
	}
}

// Load reads path over the defaults, applies WAVEDREAM_* environment
// overrides and validates the result. An empty path uses DefaultPath when it
// exists and the defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if val, ok := os.LookupEnv("WAVEDREAM_DEBUG"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("WAVEDREAM_DEBUG: %w", err)
		}
		c.Debug = b
	}
	if val, ok := os.LookupEnv("WAVEDREAM_RENDERER_URL"); ok && val != "" {
		c.Transport.URL = val
		c.Transport.Kind = TransportWebSocket
	}
	if val, ok := os.LookupEnv("WAVEDREAM_SEND_RATE"); ok {
		rate, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("WAVEDREAM_SEND_RATE: %w", err)
		}
		c.Transport.SendRate = rate
	}
	if val, ok := os.LookupEnv("WAVEDREAM_THEME"); ok && val != "" {
		c.Engine.Theme = val
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Audio.Source {
	case SourceCapture, SourceSynth:
	case SourceFile:
		if c.Audio.File == "" {
			errs = append(errs, errors.New("audio.file must be set when audio.source is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.source %q is not one of capture, file, synth", c.Audio.Source))
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 32 {
		errs = append(errs, fmt.Errorf("audio.channels %d out of range", c.Audio.Channels))
	}
	if c.Audio.SynthBPM < 30 || c.Audio.SynthBPM > 300 {
		errs = append(errs, fmt.Errorf("audio.synth_bpm %.1f out of range", c.Audio.SynthBPM))
	}

	n := c.Analysis.Normalization
	if n.EnergyMax <= 0 || n.FlatnessMax <= 0 {
		errs = append(errs, errors.New("analysis.normalization maxima must be positive"))
	}
	if n.CentroidMax <= n.CentroidMin {
		errs = append(errs, errors.New("analysis.normalization.centroid_max must exceed centroid_min"))
	}

	if _, err := params.LookupProfile(c.Engine.Profile); err != nil {
		errs = append(errs, fmt.Errorf("engine.profile: %w", err))
	}
	if c.Engine.OutputFPS <= 0 || c.Engine.OutputFPS > 120 {
		errs = append(errs, fmt.Errorf("engine.output_fps %.1f out of range", c.Engine.OutputFPS))
	}
	if c.Engine.CompletionMargin < 0 {
		errs = append(errs, errors.New("engine.completion_margin must not be negative"))
	}
	if c.Engine.DenoisingSteps != nil {
		if err := theme.ValidateDenoisingSteps(c.Engine.DenoisingSteps); err != nil {
			errs = append(errs, fmt.Errorf("engine.denoising_steps: %w", err))
		}
	}

	switch c.Transport.Kind {
	case TransportLog, TransportWebRTC:
	case TransportWebSocket:
		if !strings.HasPrefix(c.Transport.URL, "ws://") && !strings.HasPrefix(c.Transport.URL, "wss://") {
			errs = append(errs, fmt.Errorf("transport.url %q must be a ws:// or wss:// URL", c.Transport.URL))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q is not one of websocket, webrtc, log", c.Transport.Kind))
	}
	if c.Transport.Kind == TransportWebRTC && c.UI.WebAddr == "" {
		errs = append(errs, errors.New("transport.kind webrtc needs ui.web_addr for signaling"))
	}
	if c.Transport.SendRate <= 0 || c.Transport.SendRate > 120 {
		errs = append(errs, fmt.Errorf("transport.send_rate %.1f out of range", c.Transport.SendRate))
	}
	if c.UI.StatusRate <= 0 || c.UI.StatusRate > 60 {
		errs = append(errs, fmt.Errorf("ui.status_rate %.1f out of range", c.UI.StatusRate))
	}

	return errors.Join(errs...)
}
