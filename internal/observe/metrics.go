// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing, structured logging helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/ThinhHoang1/AI-english-startup-conversation"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// ScheduleLead tracks how far ahead of the playback clock each chunk is
	// scheduled. Values near zero indicate the pipeline is barely keeping
	// up; negative lead never occurs because late chunks are clamped.
	ScheduleLead metric.Float64Histogram

	// SessionDuration tracks the lifetime of dialog sessions.
	SessionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time for the
	// metrics/health endpoint. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// CaptureWindows counts capture windows by outcome. Use with attribute:
	//   attribute.String("status", "sent"|"dropped")
	CaptureWindows metric.Int64Counter

	// PlaybackChunks counts audio chunks handed to the playback scheduler.
	PlaybackChunks metric.Int64Counter

	// Interrupts counts barge-in interruptions that flushed the playback
	// queue.
	Interrupts metric.Int64Counter

	// DecodeFailures counts inbound audio payloads the codec rejected.
	DecodeFailures metric.Int64Counter

	// SessionResets counts agent session resets by reason. Use with attribute:
	//   attribute.String("reason", ...)
	SessionResets metric.Int64Counter

	// ProviderErrors counts dialog provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSources tracks the number of currently scheduled playback
	// sources.
	ActiveSources metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live dialog sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// leadBuckets defines histogram bucket boundaries (in seconds) optimised for
// playback scheduling lead times.
var leadBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ScheduleLead, err = m.Float64Histogram("converse.playback.schedule_lead",
		metric.WithDescription("Lead time between the playback clock and each chunk's scheduled start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("converse.session.duration",
		metric.WithDescription("Lifetime of dialog sessions."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("converse.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureWindows, err = m.Int64Counter("converse.capture.windows",
		metric.WithDescription("Total capture windows by outcome (sent or dropped)."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("converse.playback.chunks",
		metric.WithDescription("Total audio chunks handed to the playback scheduler."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("converse.playback.interrupts",
		metric.WithDescription("Total barge-in interruptions that flushed the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("converse.codec.decode_failures",
		metric.WithDescription("Total inbound audio payloads rejected by the codec."),
	); err != nil {
		return nil, err
	}
	if met.SessionResets, err = m.Int64Counter("converse.session.resets",
		metric.WithDescription("Total agent session resets by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("converse.provider.errors",
		metric.WithDescription("Total dialog provider errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSources, err = m.Int64UpDownCounter("converse.playback.active_sources",
		metric.WithDescription("Number of currently scheduled playback sources."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("converse.active_sessions",
		metric.WithDescription("Number of live dialog sessions."),
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

// RecordCaptureWindow records one capture window outcome ("sent" or
// "dropped").
func (m *Metrics) RecordCaptureWindow(ctx context.Context, status string) {
	m.CaptureWindows.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSessionReset records one agent session reset with the given reason.
func (m *Metrics) RecordSessionReset(ctx context.Context, reason string) {
	m.SessionResets.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderError records one dialog provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
