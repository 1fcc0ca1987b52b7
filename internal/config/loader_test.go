package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nova-voice/callengine/internal/config"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
call:
  transport: chunked
  profile: mobile
  max_duration: 10m
  system_prompt: "You are a supportive listener."
providers:
  stt:
    name: httpapi
    base_url: http://localhost:8000
  llm:
    name: openai
    base_url: http://localhost:1234/v1
    model: qwen2.5-7b-instruct
  tts:
    name: httpapi
    base_url: http://localhost:8000
history:
  postgres_dsn: "postgres://localhost/calls"
voice:
  voice_id: warm-female-1
  speed_factor: 1.1
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Call.Transport != config.TransportChunked {
		t.Errorf("transport = %q, want chunked", cfg.Call.Transport)
	}
	if cfg.Call.Profile != config.ProfileMobile {
		t.Errorf("profile = %q, want mobile", cfg.Call.Profile)
	}
	if cfg.Call.MaxDuration != 10*time.Minute {
		t.Errorf("max_duration = %v, want 10m", cfg.Call.MaxDuration)
	}
	if cfg.Providers.LLM.Model != "qwen2.5-7b-instruct" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	const minimal = `
providers:
  stt: {name: httpapi}
  llm: {name: openai}
  tts: {name: httpapi}
`
	cfg, err := config.LoadFromReader(strings.NewReader(minimal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("default listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("default log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Call.Transport != config.TransportChunked {
		t.Errorf("default transport = %q, want chunked", cfg.Call.Transport)
	}
	if cfg.Call.Profile != config.ProfileDesktop {
		t.Errorf("default profile = %q, want desktop", cfg.Call.Profile)
	}
	if cfg.Call.MaxDuration != 30*time.Minute {
		t.Errorf("default max_duration = %v, want 30m", cfg.Call.MaxDuration)
	}
	if cfg.Call.HistoryTurns != 20 {
		t.Errorf("default history_turns = %d, want 20", cfg.Call.HistoryTurns)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	const bad = `
server:
  listen_addr: ":8080"
  not_a_field: true
`
	if _, err := config.LoadFromReader(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_StreamingRequiresGateway(t *testing.T) {
	const yml = `
call:
  transport: streaming
providers:
  stt: {name: httpapi}
  llm: {name: openai}
  tts: {name: httpapi}
`
	_, err := config.LoadFromReader(strings.NewReader(yml))
	if err == nil {
		t.Fatal("expected error: streaming without gateway_url")
	}
	if !strings.Contains(err.Error(), "gateway_url") {
		t.Errorf("error %q should mention gateway_url", err)
	}
}

func TestValidate_ChunkedRequiresAllStages(t *testing.T) {
	const yml = `
call:
  transport: chunked
providers:
  stt: {name: httpapi}
`
	_, err := config.LoadFromReader(strings.NewReader(yml))
	if err == nil {
		t.Fatal("expected error: chunked without llm/tts providers")
	}
	for _, want := range []string{"providers.llm", "providers.tts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestValidate_SpeedFactorRange(t *testing.T) {
	const yml = `
providers:
  stt: {name: httpapi}
  llm: {name: openai}
  tts: {name: httpapi}
voice:
  speed_factor: 3.0
`
	if _, err := config.LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("expected error for speed_factor out of range")
	}
}

func TestValidate_InvalidEnums(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"log_level", "server: {log_level: loud}"},
		{"transport", "call: {transport: carrier-pigeon}"},
		{"profile", "call: {profile: fridge}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yml := tt.yml + "\nproviders:\n  stt: {name: httpapi}\n  llm: {name: openai}\n  tts: {name: httpapi}\n"
			if _, err := config.LoadFromReader(strings.NewReader(yml)); err == nil {
				t.Errorf("expected validation error for invalid %s", tt.name)
			}
		})
	}
}

func TestRegistry_CreateUnregistered(t *testing.T) {
	r := config.NewRegistry()
	_, err := r.CreateSTT(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}
