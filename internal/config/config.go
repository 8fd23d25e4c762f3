// Package config loads the runtime configuration: a YAML file for tunables
// with environment variables layered on top for deployment-specific values.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for both binaries. The authority uses
// Authority and Logging; the participant harness uses the rest.
type Config struct {
	Authority AuthorityConfig `yaml:"authority"`
	Backend   BackendConfig   `yaml:"backend"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Channel   ChannelConfig   `yaml:"channel"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AuthorityConfig configures the session authority server.
type AuthorityConfig struct {
	Address string `yaml:"address"`
}

// BackendConfig points the participant harness at the backend API and the
// websocket endpoints.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CaptureConfig holds the microphone-side processing parameters.
type CaptureConfig struct {
	InputSampleRate  int     `yaml:"input_sample_rate"`
	InputChannels    int     `yaml:"input_channels"`
	TargetSampleRate int     `yaml:"target_sample_rate"`
	FrameMs          int     `yaml:"frame_ms"`
	HighPassHz       float64 `yaml:"high_pass_hz"`
	LowPassHz        float64 `yaml:"low_pass_hz"`
}

// PlaybackConfig holds the jitter-scheduling parameters in milliseconds.
type PlaybackConfig struct {
	MinLeadMs   int `yaml:"min_lead_ms"`
	MinTargetMs int `yaml:"min_target_ms"`
	MaxTargetMs int `yaml:"max_target_ms"`
	HardClampMs int `yaml:"hard_clamp_ms"`
}

// ChannelConfig bounds websocket reconnection.
type ChannelConfig struct {
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	BackoffCapMs  int `yaml:"backoff_cap_ms"`
	MaxAttempts   int `yaml:"max_attempts"`
}

// BootstrapConfig bounds session polling during interview entry.
type BootstrapConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	PollAttempts   int `yaml:"poll_attempts"`
}

// LoggingConfig selects log level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Printf("config: %s not found, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Authority: AuthorityConfig{Address: ":8080"},
		Backend:   BackendConfig{BaseURL: "http://localhost:8080"},
		Capture: CaptureConfig{
			InputSampleRate:  48000,
			InputChannels:    1,
			TargetSampleRate: 16000,
			FrameMs:          20,
			HighPassHz:       20,
			LowPassHz:        7000,
		},
		Playback: PlaybackConfig{
			MinLeadMs:   20,
			MinTargetMs: 80,
			MaxTargetMs: 180,
			HardClampMs: 300,
		},
		Channel: ChannelConfig{
			BackoffBaseMs: 1000,
			BackoffCapMs:  30000,
			MaxAttempts:   8,
		},
		Bootstrap: BootstrapConfig{
			PollIntervalMs: 2000,
			PollAttempts:   15,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// applyEnv layers deployment values from the environment, loading a .env
// file when present.
func (c *Config) applyEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
	if v := os.Getenv("AUTHORITY_ADDRESS"); v != "" {
		c.Authority.Address = v
	}
	if v := os.Getenv("BACKEND_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Authority.Validate(); err != nil {
		return fmt.Errorf("authority config: %w", err)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	if err := c.Channel.Validate(); err != nil {
		return fmt.Errorf("channel config: %w", err)
	}
	if err := c.Bootstrap.Validate(); err != nil {
		return fmt.Errorf("bootstrap config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate checks the authority listen address.
func (a AuthorityConfig) Validate() error {
	if a.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	return nil
}

// Validate checks the backend base URL.
func (b BackendConfig) Validate() error {
	if b.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	return nil
}

// Validate checks the capture parameters.
func (c CaptureConfig) Validate() error {
	if c.InputSampleRate <= 0 || c.TargetSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.InputChannels < 1 || c.InputChannels > 8 {
		return fmt.Errorf("input_channels must be in [1,8], got %d", c.InputChannels)
	}
	if c.FrameMs <= 0 {
		return fmt.Errorf("frame_ms must be positive")
	}
	if c.HighPassHz < 0 || c.LowPassHz <= c.HighPassHz {
		return fmt.Errorf("filter band [%g,%g] is invalid", c.HighPassHz, c.LowPassHz)
	}
	return nil
}

// Validate checks the playback latency bounds.
func (p PlaybackConfig) Validate() error {
	if p.MinLeadMs <= 0 {
		return fmt.Errorf("min_lead_ms must be positive")
	}
	if p.MinTargetMs <= 0 || p.MaxTargetMs < p.MinTargetMs {
		return fmt.Errorf("target window [%d,%d]ms is invalid", p.MinTargetMs, p.MaxTargetMs)
	}
	if p.HardClampMs < p.MaxTargetMs {
		return fmt.Errorf("hard_clamp_ms %d must be >= max_target_ms %d", p.HardClampMs, p.MaxTargetMs)
	}
	return nil
}

// Validate checks the reconnection bounds.
func (c ChannelConfig) Validate() error {
	if c.BackoffBaseMs <= 0 || c.BackoffCapMs < c.BackoffBaseMs {
		return fmt.Errorf("backoff window [%d,%d]ms is invalid", c.BackoffBaseMs, c.BackoffCapMs)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

// Validate checks the polling bounds.
func (b BootstrapConfig) Validate() error {
	if b.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if b.PollAttempts < 1 {
		return fmt.Errorf("poll_attempts must be at least 1")
	}
	return nil
}

// Validate checks the logging selection.
func (l LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", l.Format)
	}
	return nil
}

// GetFrameDuration returns the capture frame length.
func (c CaptureConfig) GetFrameDuration() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

// GetMinLead returns the minimum scheduling lead.
func (p PlaybackConfig) GetMinLead() time.Duration {
	return time.Duration(p.MinLeadMs) * time.Millisecond
}

// GetMinTarget returns the lower latency target bound.
func (p PlaybackConfig) GetMinTarget() time.Duration {
	return time.Duration(p.MinTargetMs) * time.Millisecond
}

// GetMaxTarget returns the upper latency target bound.
func (p PlaybackConfig) GetMaxTarget() time.Duration {
	return time.Duration(p.MaxTargetMs) * time.Millisecond
}

// GetHardClamp returns the emergency resync threshold.
func (p PlaybackConfig) GetHardClamp() time.Duration {
	return time.Duration(p.HardClampMs) * time.Millisecond
}

// GetBackoffBase returns the first reconnect delay.
func (c ChannelConfig) GetBackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// GetBackoffCap returns the reconnect delay ceiling.
func (c ChannelConfig) GetBackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

// GetPollInterval returns the session polling interval.
func (b BootstrapConfig) GetPollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}
