// Package observe provides application-wide observability primitives for
// dictaat: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dictaat metrics.
const meterName = "github.com/mondzorgtools/dictaat"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ASRDuration tracks upstream speech-to-text latency.
	ASRDuration metric.Float64Histogram

	// PipelineDuration tracks normalization pipeline latency.
	PipelineDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ASRRequests counts ASR provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ASRRequests metric.Int64Counter

	// ASRErrors counts classified upstream failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ASRErrors metric.Int64Counter

	// FanOuts counts WebSocket messages fanned out to channel peers. Use with
	// attribute: attribute.String("type", ...)
	FanOuts metric.Int64Counter

	// RateLimitViolations counts dropped messages per limit kind. Use with
	// attribute: attribute.String("limit", "control"|"audio")
	RateLimitViolations metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of admitted WebSocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveChannels tracks the number of channels with at least one member.
	ActiveChannels metric.Int64UpDownCounter

	// PendingPairings tracks pairing codes awaiting a claim.
	PendingPairings metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("dictaat.asr.duration",
		metric.WithDescription("Latency of upstream speech-to-text calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("dictaat.pipeline.duration",
		metric.WithDescription("Latency of normalization pipeline runs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("dictaat.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ASRRequests, err = m.Int64Counter("dictaat.asr.requests",
		metric.WithDescription("Total ASR provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ASRErrors, err = m.Int64Counter("dictaat.asr.errors",
		metric.WithDescription("Total classified upstream failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.FanOuts, err = m.Int64Counter("dictaat.channel.fanouts",
		metric.WithDescription("Total messages fanned out to channel peers by type."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitViolations, err = m.Int64Counter("dictaat.channel.rate_limited",
		metric.WithDescription("Total messages dropped by per-connection rate limits."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("dictaat.active_connections",
		metric.WithDescription("Number of admitted WebSocket connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveChannels, err = m.Int64UpDownCounter("dictaat.active_channels",
		metric.WithDescription("Number of channels with at least one member."),
	); err != nil {
		return nil, err
	}
	if met.PendingPairings, err = m.Int64UpDownCounter("dictaat.pending_pairings",
		metric.WithDescription("Number of pairing codes awaiting a claim."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordASRRequest records an ASR call with the standard attribute set.
func (m *Metrics) RecordASRRequest(ctx context.Context, provider, status string) {
	m.ASRRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordASRError records a classified upstream failure.
func (m *Metrics) RecordASRError(ctx context.Context, provider, kind string) {
	m.ASRErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFanOut records messages delivered to channel peers.
func (m *Metrics) RecordFanOut(ctx context.Context, msgType string, peers int64) {
	m.FanOuts.Add(ctx, peers,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}

// RecordRateLimit records a message dropped by a per-connection limit.
func (m *Metrics) RecordRateLimit(ctx context.Context, limit string) {
	m.RateLimitViolations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("limit", limit)),
	)
}
