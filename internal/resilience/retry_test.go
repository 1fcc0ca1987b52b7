package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nova-voice/callengine/pkg/callerr"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), "stt", nil, func(context.Context) (string, error) {
		calls++
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("result = %q, want %q", got, "hello")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_RetriesTransientThenSucceeds(t *testing.T) {
	delays := []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	calls := 0
	got, err := Retry(context.Background(), "stt", delays, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, callerr.Newf(callerr.KindTransientNetwork, "temporary")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), "llm", []time.Duration{time.Millisecond}, func(context.Context) (string, error) {
		calls++
		return "", callerr.Newf(callerr.KindAuthentication, "bad key")
	})
	if callerr.KindOf(err) != callerr.KindAuthentication {
		t.Fatalf("kind = %v, want authentication", callerr.KindOf(err))
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on terminal error)", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	delays := []time.Duration{time.Millisecond, time.Millisecond}
	calls := 0
	_, err := Retry(context.Background(), "tts", delays, func(context.Context) (string, error) {
		calls++
		return "", callerr.Newf(callerr.KindTransientNetwork, "still down")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 initial + 2 retries)", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Retry(ctx, "stt", []time.Duration{time.Hour}, func(context.Context) (string, error) {
			calls++
			return "", callerr.Newf(callerr.KindTransientNetwork, "down")
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryDelays_Schedule(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(RetryDelays) != len(want) {
		t.Fatalf("len(RetryDelays) = %d, want %d", len(RetryDelays), len(want))
	}
	for i, d := range want {
		if RetryDelays[i] != d {
			t.Errorf("RetryDelays[%d] = %v, want %v", i, RetryDelays[i], d)
		}
	}
}
