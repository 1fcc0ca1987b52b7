package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/nova-voice/callengine/pkg/callerr"
)

// RetryDelays is the default backoff schedule for pipeline stage calls:
// three attempts with doubling waits between them.
var RetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Retry runs fn up to len(delays)+1 times, sleeping delays[i] before attempt
// i+1. It stops early when fn succeeds, when the error is not retryable per
// [callerr.IsRetryable], or when ctx is cancelled. A nil delays uses
// [RetryDelays].
func Retry[R any](ctx context.Context, name string, delays []time.Duration, fn func(context.Context) (R, error)) (R, error) {
	if delays == nil {
		delays = RetryDelays
	}
	var (
		zero    R
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !callerr.IsRetryable(err) || attempt >= len(delays) {
			return zero, lastErr
		}
		slog.Warn("stage failed, retrying",
			"stage", name,
			"attempt", attempt+1,
			"delay", delays[attempt],
			"error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delays[attempt]):
		}
	}
}
