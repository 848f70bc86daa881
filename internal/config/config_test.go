package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wavedream.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
debug: true
audio:
  source: file
  file: song.flac
  loop: true
engine:
  theme: neon
  profile: kinetic
  completion_margin: 400ms
  denoising_steps: [900, 450]
transport:
  kind: websocket
  url: ws://renderer.local:8000/ws
  send_rate: 24
analysis:
  normalization:
    energy_max: 0.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Debug || cfg.Audio.Source != SourceFile || !cfg.Audio.Loop {
		t.Fatalf("audio/debug not loaded: %+v", cfg)
	}
	if cfg.Engine.CompletionMargin != 400*time.Millisecond {
		t.Fatalf("margin=%v", cfg.Engine.CompletionMargin)
	}
	if cfg.Analysis.Normalization.EnergyMax != 0.5 || cfg.Analysis.Normalization.CentroidMax != 5000 {
		t.Fatalf("normalization=%+v", cfg.Analysis.Normalization)
	}
	if cfg.UI.StatusRate != 10 {
		t.Fatalf("untouched default lost: %+v", cfg.UI)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || cfg != nil {
		t.Fatalf("cfg=%v err=%v", cfg, err)
	}
}

func TestLoadParseError(t *testing.T) {
	_, err := Load(writeTempConfig(t, ":\n:bad"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Fatalf("err=%v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WAVEDREAM_DEBUG", "true")
	t.Setenv("WAVEDREAM_RENDERER_URL", "wss://gpu.example/ws")
	t.Setenv("WAVEDREAM_SEND_RATE", "20")
	t.Setenv("WAVEDREAM_THEME", "abyss")

	cfg, err := Load(writeTempConfig(t, "debug: false\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Debug {
		t.Fatalf("debug override ignored")
	}
	if cfg.Transport.Kind != TransportWebSocket || cfg.Transport.URL != "wss://gpu.example/ws" {
		t.Fatalf("transport=%+v", cfg.Transport)
	}
	if cfg.Transport.SendRate != 20 || cfg.Engine.Theme != "abyss" {
		t.Fatalf("rate=%v theme=%s", cfg.Transport.SendRate, cfg.Engine.Theme)
	}
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Setenv("WAVEDREAM_SEND_RATE", "fast")
	if _, err := Load(writeTempConfig(t, "")); err == nil {
		t.Fatalf("expected error for bad WAVEDREAM_SEND_RATE")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown source":    func(c *Config) { c.Audio.Source = "tape" },
		"file without path": func(c *Config) { c.Audio.Source = SourceFile },
		"bad profile":       func(c *Config) { c.Engine.Profile = "wild" },
		"bad steps":         func(c *Config) { c.Engine.DenoisingSteps = []int{10, 20} },
		"http url":          func(c *Config) { c.Transport.Kind = TransportWebSocket; c.Transport.URL = "http://x" },
		"zero rate":         func(c *Config) { c.Transport.SendRate = 0 },
		"bad transport":     func(c *Config) { c.Transport.Kind = "carrier-pigeon" },
		"webrtc no web":     func(c *Config) { c.Transport.Kind = TransportWebRTC; c.UI.WebAddr = "" },
		"centroid range":    func(c *Config) { c.Analysis.Normalization.CentroidMax = 100 },
		"status rate":       func(c *Config) { c.UI.StatusRate = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
