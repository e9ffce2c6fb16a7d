package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AB-DALRAHM-AN/G3mini-live/internal/protocol"
)

// Config represents the complete application configuration
type Config struct {
	Live    LiveConfig    `yaml:"live"`
	Audio   AudioConfig   `yaml:"audio"`
	Video   VideoConfig   `yaml:"video"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// LiveConfig contains realtime service connection configuration
type LiveConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	VoiceName      string `yaml:"voice_name"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
}

// AudioConfig contains audio capture and playback parameters
type AudioConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	FrameSamples       int     `yaml:"frame_samples"`
	PlaybackSampleRate int     `yaml:"playback_sample_rate"`
	LevelGain          float64 `yaml:"level_gain"`
	DumpDir            string  `yaml:"dump_dir"`
}

// VideoConfig contains camera capture configuration
type VideoConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Device        string  `yaml:"device"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	FPS           int     `yaml:"fps"`
	FrameInterval float64 `yaml:"frame_interval"` // seconds
	JPEGQuality   int     `yaml:"jpeg_quality"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. The API key falls back
// to the GEMINI_API_KEY environment variable when unset in the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if config.Live.APIKey == "" {
		config.Live.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Live.Endpoint == "" {
		c.Live.Endpoint = protocol.DefaultEndpoint
	}
	if c.Live.Model == "" {
		c.Live.Model = protocol.DefaultModel
	}
	if c.Live.VoiceName == "" {
		c.Live.VoiceName = protocol.DefaultVoiceName
	}
	if c.Live.ConnectTimeout == 0 {
		c.Live.ConnectTimeout = 10
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FrameSamples == 0 {
		c.Audio.FrameSamples = 512
	}
	if c.Audio.PlaybackSampleRate == 0 {
		c.Audio.PlaybackSampleRate = 24000
	}
	if c.Video.FrameInterval == 0 {
		c.Video.FrameInterval = 1.0
	}
	if c.Video.Width == 0 {
		c.Video.Width = 640
	}
	if c.Video.Height == 0 {
		c.Video.Height = 480
	}
	if c.Video.FPS == 0 {
		c.Video.FPS = 15
	}
	if c.Video.JPEGQuality == 0 {
		c.Video.JPEGQuality = 70
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("live config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Video.Validate(); err != nil {
		return fmt.Errorf("video config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates live service configuration
func (l *LiveConfig) Validate() error {
	if l.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if l.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set it in the config file or GEMINI_API_KEY)")
	}

	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.VoiceName == "" {
		return fmt.Errorf("voice_name cannot be empty")
	}

	if l.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", l.ConnectTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for realtime input, got %d", a.SampleRate)
	}

	if a.FrameSamples < 128 || a.FrameSamples > 8192 {
		return fmt.Errorf("frame_samples must be between 128 and 8192, got %d", a.FrameSamples)
	}

	if a.PlaybackSampleRate != 24000 {
		return fmt.Errorf("playback_sample_rate must be 24000 Hz for synthesized speech, got %d", a.PlaybackSampleRate)
	}

	if a.LevelGain < 0 {
		return fmt.Errorf("level_gain cannot be negative, got %f", a.LevelGain)
	}

	return nil
}

// Validate validates video configuration
func (v *VideoConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Width < 1 || v.Height < 1 {
		return fmt.Errorf("resolution must be positive, got %dx%d", v.Width, v.Height)
	}

	if v.FPS < 1 {
		return fmt.Errorf("fps must be at least 1, got %d", v.FPS)
	}

	if v.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive, got %f", v.FrameInterval)
	}

	if v.JPEGQuality < 1 || v.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", v.JPEGQuality)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// Voice returns the configured voice/model selection
func (l *LiveConfig) Voice() protocol.VoiceConfig {
	return protocol.VoiceConfig{
		VoiceName: l.VoiceName,
		Model:     l.Model,
	}
}

// GetConnectTimeout returns the connect timeout as a time.Duration
func (l *LiveConfig) GetConnectTimeout() time.Duration {
	return time.Duration(l.ConnectTimeout) * time.Second
}

// GetFrameInterval returns the camera sampling cadence as a time.Duration
func (v *VideoConfig) GetFrameInterval() time.Duration {
	return time.Duration(v.FrameInterval * float64(time.Second))
}
