package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"stt": {"httpapi", "whisper-native"},
	"llm": {"openai", "anthropic", "ollama"},
	"tts": {"httpapi"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are built from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-value fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Call.Transport == "" {
		cfg.Call.Transport = TransportChunked
	}
	if cfg.Call.Profile == "" {
		cfg.Call.Profile = ProfileDesktop
	}
	if cfg.Call.MaxDuration <= 0 {
		cfg.Call.MaxDuration = 30 * time.Minute
	}
	if cfg.Call.HistoryTurns <= 0 {
		cfg.Call.HistoryTurns = 20
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Call.Transport != "" && !cfg.Call.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("call.transport %q is invalid; valid values: chunked, streaming", cfg.Call.Transport))
	}
	if cfg.Call.Profile != "" && !cfg.Call.Profile.IsValid() {
		errs = append(errs, fmt.Errorf("call.profile %q is invalid; valid values: desktop, mobile", cfg.Call.Profile))
	}

	// Transport ↔ gateway cross-validation.
	if cfg.Call.Transport == TransportStreaming && cfg.Streaming.GatewayURL == "" {
		errs = append(errs, errors.New("call.transport is \"streaming\" but streaming.gateway_url is not set"))
	}

	// Chunked mode needs all three pipeline stages.
	if cfg.Call.Transport == TransportChunked {
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("call.transport \"chunked\" requires providers.stt"))
		}
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New("call.transport \"chunked\" requires providers.llm"))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, errors.New("call.transport \"chunked\" requires providers.tts"))
		}
	}

	if cfg.Voice.SpeedFactor != 0 {
		if cfg.Voice.SpeedFactor < 0.5 || cfg.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("voice.speed_factor %.2f is out of range [0.5, 2.0]", cfg.Voice.SpeedFactor))
		}
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}

	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; transcripts will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning when name is non-empty and not found in
// [ValidProviderNames] for the given stage.
func validateProviderName(stage, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[stage]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo",
		"stage", stage,
		"name", name,
		"known", known,
	)
}
