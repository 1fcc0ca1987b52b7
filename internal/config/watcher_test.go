package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nova-voice/callengine/internal/config"
)

func writeConfig(t *testing.T, path, voiceID string) {
	t.Helper()
	data := []byte("\nproviders:\n  stt: {name: httpapi}\n  llm: {name: openai}\n  tts: {name: httpapi}\nvoice:\n  voice_id: " + voiceID + "\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "voice-a")

	w, err := config.NewWatcher(path, nil, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Voice.VoiceID; got != "voice-a" {
		t.Errorf("voice_id = %q, want voice-a", got)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "voice-a")

	changed := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, newCfg *config.Config) {
		changed <- newCfg
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Ensure the mtime moves even on coarse-grained filesystems.
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "voice-b")
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Voice.VoiceID != "voice-b" {
			t.Errorf("reloaded voice_id = %q, want voice-b", cfg.Voice.VoiceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the change")
	}

	if got := w.Current().Voice.VoiceID; got != "voice-b" {
		t.Errorf("Current().Voice.VoiceID = %q, want voice-b", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "voice-a")

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Voice.VoiceID; got != "voice-a" {
		t.Errorf("voice_id = %q, want voice-a (invalid reload must keep old config)", got)
	}
}
