// Package config provides the configuration schema and loader for the voice
// relay server.
//
// Configuration is environment-first: a process configured purely through
// environment variables works out of the box, and an optional YAML file can
// supply the same settings for deployments that prefer files. Environment
// variables always win over file values.
package config

import "time"

// LogLevel controls log verbosity for the relay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the relay server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Port is the TCP port the server listens on.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists the origins permitted by the CORS layer and the
	// WebSocket origin check.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds how long graceful shutdown waits for open
	// connections to drain.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OpenAIConfig holds credentials and model selection for the OpenAI APIs.
type OpenAIConfig struct {
	// APIKey authenticates all OpenAI requests. Required.
	APIKey string `yaml:"api_key"`

	// RealtimeModel is the realtime voice model opened per connection.
	RealtimeModel string `yaml:"realtime_model"`

	// ChatModel is the completion model behind the legacy endpoint.
	ChatModel string `yaml:"chat_model"`

	// TTSModel and Voice configure legacy-endpoint speech synthesis.
	TTSModel string `yaml:"tts_model"`
	Voice    string `yaml:"voice"`

	// BaseURL overrides the HTTP API endpoint. Empty uses the default.
	BaseURL string `yaml:"base_url"`

	// RealtimeURL overrides the realtime WebSocket endpoint.
	RealtimeURL string `yaml:"realtime_url"`

	// Timeout is the per-request HTTP timeout for legacy-endpoint calls.
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig tunes the per-IP request limiter on the HTTP surface.
type RateLimitConfig struct {
	// Window is the fixed limiting window.
	Window time.Duration `yaml:"window"`

	// MaxRequests is the number of requests one IP may make per window.
	MaxRequests int `yaml:"max_requests"`
}

// Default returns a Config populated with every default value. Loading
// applies file and environment values on top of this.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8000,
			LogLevel: LogInfo,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
			},
			ShutdownTimeout: 10 * time.Second,
		},
		OpenAI: OpenAIConfig{
			RealtimeModel: "gpt-4o-realtime-preview",
			ChatModel:     "gpt-4",
			TTSModel:      "tts-1",
			Voice:         "alloy",
			Timeout:       30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Window:      15 * time.Minute,
			MaxRequests: 100,
		},
	}
}
