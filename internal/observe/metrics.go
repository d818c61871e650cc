// Package observe provides the watcher's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider], so they can be scraped at /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/hermeswatch"

// Metrics holds all metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// --- Ingestion ---

	// MessagesReceived counts inbound bus messages. Use with attribute:
	//   attribute.String("route", ...)
	MessagesReceived metric.Int64Counter

	// AudioChunks counts buffered audio chunks. Use with attribute:
	//   attribute.String("flow", ...)
	AudioChunks metric.Int64Counter

	// OpenFlows tracks the number of audio flows currently accumulating.
	OpenFlows metric.Int64UpDownCounter

	// --- Persistence ---

	// RecordsWritten counts records written to the archive. Use with
	// attribute:
	//   attribute.String("kind", "message"|"audio")
	RecordsWritten metric.Int64Counter

	// FlushDuration tracks the time to merge and persist one audio flow.
	FlushDuration metric.Float64Histogram

	// --- Replay ---

	// ReplayEvents counts events produced by replay. Use with attribute:
	//   attribute.String("kind", "message"|"audio")
	ReplayEvents metric.Int64Counter

	// --- Errors ---

	// Errors counts per-unit failures. Use with attribute:
	//   attribute.String("class", "format"|"integrity"|"storage"|"other")
	Errors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// flushBuckets are histogram boundaries (seconds) for merging and writing a
// WAV file to local disk.
var flushBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.MessagesReceived, err = m.Int64Counter("hermeswatch.messages.received",
		metric.WithDescription("Inbound bus messages by route."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("hermeswatch.audio.chunks",
		metric.WithDescription("Audio chunks buffered by flow kind."),
	); err != nil {
		return nil, err
	}
	if met.RecordsWritten, err = m.Int64Counter("hermeswatch.records.written",
		metric.WithDescription("Records written to the archive by kind."),
	); err != nil {
		return nil, err
	}
	if met.ReplayEvents, err = m.Int64Counter("hermeswatch.replay.events",
		metric.WithDescription("Events produced by replay by kind."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("hermeswatch.errors",
		metric.WithDescription("Per-unit failures by error class."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.OpenFlows, err = m.Int64UpDownCounter("hermeswatch.audio.open_flows",
		metric.WithDescription("Number of audio flows currently accumulating."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.FlushDuration, err = m.Float64Histogram("hermeswatch.audio.flush.duration",
		metric.WithDescription("Time to merge and persist one audio flow."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(flushBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("hermeswatch.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordMessage counts one inbound message on route.
func (m *Metrics) RecordMessage(ctx context.Context, route string) {
	m.MessagesReceived.Add(ctx, 1, metric.WithAttributes(Attr("route", route)))
}

// RecordChunk counts one buffered chunk for flow.
func (m *Metrics) RecordChunk(ctx context.Context, flow string) {
	m.AudioChunks.Add(ctx, 1, metric.WithAttributes(Attr("flow", flow)))
}

// RecordWrite counts one record of kind written to the archive.
func (m *Metrics) RecordWrite(ctx context.Context, kind string) {
	m.RecordsWritten.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordFlush records how long one flush took.
func (m *Metrics) RecordFlush(ctx context.Context, d time.Duration) {
	m.FlushDuration.Record(ctx, d.Seconds())
}

// RecordReplayEvent counts one replayed event of kind.
func (m *Metrics) RecordReplayEvent(ctx context.Context, kind string) {
	m.ReplayEvents.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordError counts one failure of class.
func (m *Metrics) RecordError(ctx context.Context, class string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(Attr("class", class)))
}
