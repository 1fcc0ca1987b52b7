// Package config provides the configuration schema, loader, and provider
// registry for the call engine.
package config

import "time"

// LogLevel controls log verbosity.
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

// TransportMode selects how utterances travel to the speech service.
type TransportMode string

const (
	// TransportChunked records whole utterances and runs the
	// transcribe → respond → synthesize pipeline per utterance.
	TransportChunked TransportMode = "chunked"

	// TransportStreaming keeps a WebSocket open and pushes capture frames
	// continuously.
	TransportStreaming TransportMode = "streaming"
)

// IsValid reports whether m is a recognised transport mode.
func (m TransportMode) IsValid() bool {
	return m == TransportChunked || m == TransportStreaming
}

// DeviceProfile selects the capture buffer sizing.
type DeviceProfile string

const (
	ProfileDesktop DeviceProfile = "desktop"
	ProfileMobile  DeviceProfile = "mobile"
)

// IsValid reports whether p is a recognised device profile.
func (p DeviceProfile) IsValid() bool {
	return p == ProfileDesktop || p == ProfileMobile
}

// Config is the root configuration structure, typically loaded from a YAML
// file via [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Call      CallConfig      `yaml:"call"`
	Streaming StreamingConfig `yaml:"streaming"`
	Providers ProvidersConfig `yaml:"providers"`
	History   HistoryConfig   `yaml:"history"`
	Voice     VoiceConfig     `yaml:"voice"`
}

// ServerConfig holds network and logging settings for the engine's
// operational endpoints (health, metrics).
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CallConfig tunes per-session behaviour.
type CallConfig struct {
	// Transport selects chunked or streaming mode. Streaming falls back to
	// chunked when the WebSocket gateway is unreachable at call start.
	Transport TransportMode `yaml:"transport"`

	// Profile selects the capture buffer sizing. Default: desktop.
	Profile DeviceProfile `yaml:"profile"`

	// UserID identifies the caller to the streaming gateway. Optional.
	UserID string `yaml:"user_id"`

	// MaxDuration is the session duration cap. Default: 30m.
	MaxDuration time.Duration `yaml:"max_duration"`

	// SystemPrompt is injected into every response-generation request.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryTurns is how many prior turns are sent as context. Default: 20.
	HistoryTurns int `yaml:"history_turns"`
}

// StreamingConfig tunes the WebSocket transport.
type StreamingConfig struct {
	// GatewayURL is the WebSocket endpoint (e.g., "wss://gw.example.com/ws").
	// Required when call.transport is "streaming".
	GatewayURL string `yaml:"gateway_url"`

	// APIKey authenticates the WebSocket dial.
	APIKey string `yaml:"api_key"`

	// StrictProtocol enables JSON-schema validation of every inbound
	// protocol message. Invalid messages are dropped and logged.
	StrictProtocol bool `yaml:"strict_protocol"`
}

// ProvidersConfig declares which provider implementation serves each
// pipeline stage. Name selects a constructor registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`

	// LLMFallbacks lists additional response-generation backends tried in
	// order when the primary fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openai",
	// "whisper-native", "httpapi").
	Name string `yaml:"name"`

	// APIKey is the provider's authentication key, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For "openai" this
	// is how a local LM Studio server is targeted.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// HistoryConfig holds settings for conversation persistence.
type HistoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Empty disables
	// persistence; calls still work, transcripts are not stored.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// VoiceConfig specifies the synthesis voice.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Quality is a provider-specific quality hint (e.g., "high", "low").
	Quality string `yaml:"quality"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means
	// provider default.
	SpeedFactor float64 `yaml:"speed_factor"`
}
