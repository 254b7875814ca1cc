package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Store         StoreConfig         `yaml:"store"`
	Context       ContextConfig       `yaml:"context"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Generation    GenerationConfig    `yaml:"generation"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	MaxAudioSize int    `yaml:"max_audio_size"` // bytes, upload limit for /voice-loop; 0 means 10 MiB
}

// StoreConfig contains context store (sqlite) configuration
type StoreConfig struct {
	Path           string  `yaml:"path"`
	ActivityWindow float64 `yaml:"activity_window"` // hours; a conversation is reusable while fresher than this
}

// ContextConfig controls how much context a turn assembles
type ContextConfig struct {
	HistoryLimit    int    `yaml:"history_limit"` // messages included in the prompt window
	DefaultTimezone string `yaml:"default_timezone"`
	Location        string `yaml:"location"` // spoken location included in global facts, optional
}

// TranscriptionConfig contains speech-to-text endpoint configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// GenerationConfig contains reasoning backend configuration
type GenerationConfig struct {
	Provider    string  `yaml:"provider"` // "gemini" or "openai"
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"` // optional override for compatible endpoints
	Timeout     int     `yaml:"timeout"`  // seconds
	MaxRetries  int     `yaml:"max_retries"`
	BackoffBase float64 `yaml:"backoff_base"` // seconds, doubled per retry
}

// SynthesisConfig contains text-to-speech endpoint configuration
type SynthesisConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Voice         string `yaml:"voice"`
	MaxTextLength int    `yaml:"max_text_length"` // runes accepted by the synthesis backend
	Timeout       int    `yaml:"timeout"`         // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Context.Validate(); err != nil {
		return fmt.Errorf("context config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Generation.Validate(); err != nil {
		return fmt.Errorf("generation config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.MaxAudioSize != 0 && h.MaxAudioSize < 1024 {
		return fmt.Errorf("max_audio_size must be at least 1024 bytes, got %d", h.MaxAudioSize)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if s.ActivityWindow <= 0 {
		return fmt.Errorf("activity_window must be positive, got %f", s.ActivityWindow)
	}

	return nil
}

// Validate validates context configuration
func (c *ContextConfig) Validate() error {
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", c.HistoryLimit)
	}

	if c.HistoryLimit > 50 {
		return fmt.Errorf("history_limit must be at most 50, got %d", c.HistoryLimit)
	}

	if c.DefaultTimezone == "" {
		return fmt.Errorf("default_timezone cannot be empty")
	}

	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("default_timezone is not a valid IANA zone: %w", err)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates generation configuration
func (g *GenerationConfig) Validate() error {
	validProviders := map[string]bool{"gemini": true, "openai": true}
	if !validProviders[g.Provider] {
		return fmt.Errorf("provider must be 'gemini' or 'openai', got '%s'", g.Provider)
	}

	if g.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if g.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if g.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", g.Timeout)
	}

	if g.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", g.MaxRetries)
	}

	if g.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %f", g.BackoffBase)
	}

	return nil
}

// Validate validates synthesis configuration
func (s *SynthesisConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.MaxTextLength < 1 {
		return fmt.Errorf("max_text_length must be at least 1, got %d", s.MaxTextLength)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
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

// GetMaxAudioSize returns the audio upload limit, applying the 10 MiB default
func (h *HTTPConfig) GetMaxAudioSize() int64 {
	if h.MaxAudioSize == 0 {
		return 10 << 20
	}
	return int64(h.MaxAudioSize)
}

// GetActivityWindow returns the conversation activity window as a time.Duration
func (s *StoreConfig) GetActivityWindow() time.Duration {
	return time.Duration(s.ActivityWindow * float64(time.Hour))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the generation timeout as a time.Duration
func (g *GenerationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// GetBackoffBase returns the retry backoff base as a time.Duration
func (g *GenerationConfig) GetBackoffBase() time.Duration {
	return time.Duration(g.BackoffBase * float64(time.Second))
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (s *SynthesisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
