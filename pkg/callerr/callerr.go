// Package callerr defines the structured error taxonomy shared by every
// stage of the voice pipeline.
//
// Error kind and retryability are decided once, at the error's origin (the
// provider adapter or transport that observed the failure), and carried in
// an [*Error]. Downstream code branches on [KindOf], [IsRetryable], and
// [IsTerminal] instead of re-parsing message strings.
package callerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// KindInternal is the zero value: an unclassified failure. Non-retryable,
	// non-terminal — logged and the call continues.
	KindInternal Kind = iota

	// KindPermissionDenied means microphone access was refused or no capture
	// signal could be obtained. Terminal.
	KindPermissionDenied

	// KindTransientNetwork is a network-class failure worth retrying with
	// bounded backoff.
	KindTransientNetwork

	// KindAuthentication covers invalid credentials and rate-limit-class
	// rejections. Terminal, never retried.
	KindAuthentication

	// KindPayloadTooSmall means an utterance was below the minimum payload
	// size (likely silence or noise). Silently discarded.
	KindPayloadTooSmall

	// KindDurationExceeded is the expected, graceful end of a session that
	// hit its duration cap. Terminal but not a failure.
	KindDurationExceeded

	// KindPlayback is a failure to decode or play a synthesized chunk.
	// Non-fatal: the chunk is skipped and the call continues.
	KindPlayback
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTransientNetwork:
		return "transient_network"
	case KindAuthentication:
		return "authentication"
	case KindPayloadTooSmall:
		return "payload_too_small"
	case KindDurationExceeded:
		return "duration_exceeded"
	case KindPlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error.
type Error struct {
	// Kind is the taxonomy class.
	Kind Kind

	// Retryable reports whether a bounded retry may succeed. Defaults per
	// kind (only KindTransientNetwork is retryable) but the origin may
	// override it, e.g. an HTTP 429 is transient-network-shaped yet
	// non-retryable.
	Retryable bool

	// Err is the underlying cause.
	Err error
}

// New creates a classified error wrapping cause, with the kind's default
// retryability.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Retryable: kind == KindTransientNetwork, Err: cause}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Errorf(format, args...))
}

// NonRetryable marks the error non-retryable and returns it.
func (e *Error) NonRetryable() *Error {
	e.Retryable = false
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind carried by err, or KindInternal when err carries
// no classification.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err may be retried with backoff.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// IsTerminal reports whether err must end the session: authentication
// failures, refused capture permission, and the duration cap.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindAuthentication, KindPermissionDenied, KindDurationExceeded:
		return true
	}
	return false
}
