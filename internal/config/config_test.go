package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Authority.Address == "" {
		t.Fatal("expected default authority address")
	}
	if cfg.Capture.TargetSampleRate != 16000 || cfg.Capture.FrameMs != 20 {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.Playback.GetMinTarget() != 80*time.Millisecond || cfg.Playback.GetMaxTarget() != 180*time.Millisecond {
		t.Fatalf("unexpected playback target window: %+v", cfg.Playback)
	}
	if cfg.Capture.GetFrameDuration() != 20*time.Millisecond {
		t.Fatalf("unexpected frame duration: %v", cfg.Capture.GetFrameDuration())
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channel.MaxAttempts != 8 {
		t.Fatalf("expected default channel config, got %+v", cfg.Channel)
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
authority:
  address: ":9000"
playback:
  min_lead_ms: 10
  min_target_ms: 60
  max_target_ms: 200
  hard_clamp_ms: 400
capture:
  input_sample_rate: 44100
  input_channels: 2
  target_sample_rate: 16000
  frame_ms: 20
  high_pass_hz: 20
  low_pass_hz: 7000
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Authority.Address != ":9000" {
		t.Fatalf("yaml override lost: %s", cfg.Authority.Address)
	}
	if cfg.Playback.HardClampMs != 400 || cfg.Capture.InputChannels != 2 {
		t.Fatalf("yaml overrides lost: %+v %+v", cfg.Playback, cfg.Capture)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Bootstrap.PollAttempts != 15 {
		t.Fatalf("default lost for untouched section: %+v", cfg.Bootstrap)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTHORITY_ADDRESS", ":7777")
	t.Setenv("BACKEND_BASE_URL", "http://api.internal:8080")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Authority.Address != ":7777" {
		t.Fatalf("env override lost: %s", cfg.Authority.Address)
	}
	if cfg.Backend.BaseURL != "http://api.internal:8080" {
		t.Fatalf("env override lost: %s", cfg.Backend.BaseURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Authority.Address = "" }},
		{"zero sample rate", func(c *Config) { c.Capture.InputSampleRate = 0 }},
		{"too many channels", func(c *Config) { c.Capture.InputChannels = 9 }},
		{"inverted filter band", func(c *Config) { c.Capture.LowPassHz = 10 }},
		{"inverted target window", func(c *Config) { c.Playback.MinTargetMs = 300; c.Playback.MaxTargetMs = 100 }},
		{"clamp below max target", func(c *Config) { c.Playback.HardClampMs = 50 }},
		{"zero backoff", func(c *Config) { c.Channel.BackoffBaseMs = 0 }},
		{"zero poll attempts", func(c *Config) { c.Bootstrap.PollAttempts = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
