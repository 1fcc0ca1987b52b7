// Package observe provides observability primitives for the call engine:
// OpenTelemetry metrics, tracing, and the HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OTel Metrics API and exported to
// Prometheus via [InitProvider], so operators scrape the standard /metrics
// endpoint. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all call-engine metrics.
const meterName = "github.com/nova-voice/callengine"

// Metrics holds the OTel instruments for the voice pipeline. All fields are
// safe for concurrent use; the underlying OTel types synchronise themselves.
type Metrics struct {
	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks response-generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-of-utterance to first-playback latency, the
	// number users actually feel.
	TurnDuration metric.Float64Histogram

	// Utterances counts completed user utterances. Attribute:
	//   attribute.String("transport", "chunked"|"streaming")
	Utterances metric.Int64Counter

	// UtterancesDiscarded counts utterances dropped before processing.
	// Attribute: attribute.String("reason", "too_small"|"busy"|"muted")
	UtterancesDiscarded metric.Int64Counter

	// Interrupts counts barge-in events (user spoke during playback).
	Interrupts metric.Int64Counter

	// Reconnects counts streaming reconnection attempts. Attribute:
	//   attribute.String("result", "ok"|"failed")
	Reconnects metric.Int64Counter

	// PlaybackChunks counts queued audio chunks. Attribute:
	//   attribute.String("status", "played"|"skipped"|"flushed")
	PlaybackChunks metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks health/metrics endpoint latency. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("callengine.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("callengine.llm.duration",
		metric.WithDescription("Latency of response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("callengine.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("callengine.turn.duration",
		metric.WithDescription("End-of-utterance to first-playback latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("callengine.utterances",
		metric.WithDescription("Completed user utterances by transport."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDiscarded, err = m.Int64Counter("callengine.utterances.discarded",
		metric.WithDescription("Utterances dropped before processing, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("callengine.interrupts",
		metric.WithDescription("Barge-in events where the user spoke during playback."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("callengine.reconnects",
		metric.WithDescription("Streaming reconnection attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("callengine.playback.chunks",
		metric.WithDescription("Queued audio chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("callengine.provider.errors",
		metric.WithDescription("Provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("callengine.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("callengine.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from [otel.GetMeterProvider]. Panics if instrument creation fails
// (does not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordUtterance increments the utterance counter for the given transport.
func (m *Metrics) RecordUtterance(ctx context.Context, transport string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("transport", transport)),
	)
}

// RecordDiscard increments the discarded-utterance counter with the reason.
func (m *Metrics) RecordDiscard(ctx context.Context, reason string) {
	m.UtterancesDiscarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordReconnect increments the reconnect counter with the result.
func (m *Metrics) RecordReconnect(ctx context.Context, result string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordPlaybackChunk increments the playback-chunk counter with the outcome.
func (m *Metrics) RecordPlaybackChunk(ctx context.Context, status string) {
	m.PlaybackChunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderError increments the provider-error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
