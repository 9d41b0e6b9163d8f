// Package observe provides application-wide observability primitives for
// Improv Battle: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/improvbattle"

// Message origins used as the "origin" attribute of [Metrics.Messages].
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Messages counts transcript messages processed by sessions. Use with
	// attribute.String("origin", OriginLocal|OriginRemote).
	Messages metric.Int64Counter

	// RuleMatches counts classifier rule firings. Use with
	// attribute.String("rule", ...).
	RuleMatches metric.Int64Counter

	// Resets counts explicit game resets.
	Resets metric.Int64Counter

	// Continues counts sessions resumed after expiry.
	Continues metric.Int64Counter

	// ConnectionErrors counts sessions marked expired. Use with
	// attribute.String("source", ...).
	ConnectionErrors metric.Int64Counter

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of open WebSocket view streams.
	ActiveStreams metric.Int64UpDownCounter

	// ClassifyDuration tracks the time taken to fold one message into a
	// session's state.
	ClassifyDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// classifyBuckets are histogram boundaries (in seconds) for in-memory rule
// evaluation.
var classifyBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Messages, err = m.Int64Counter("improvbattle.messages",
		metric.WithDescription("Transcript messages processed, by origin."),
	); err != nil {
		return nil, err
	}
	if met.RuleMatches, err = m.Int64Counter("improvbattle.rule.matches",
		metric.WithDescription("Classifier rule firings, by rule name."),
	); err != nil {
		return nil, err
	}
	if met.Resets, err = m.Int64Counter("improvbattle.resets",
		metric.WithDescription("Explicit game resets."),
	); err != nil {
		return nil, err
	}
	if met.Continues, err = m.Int64Counter("improvbattle.continues",
		metric.WithDescription("Sessions resumed after expiry."),
	); err != nil {
		return nil, err
	}
	if met.ConnectionErrors, err = m.Int64Counter("improvbattle.connection_errors",
		metric.WithDescription("Sessions marked expired, by source."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("improvbattle.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("improvbattle.active_streams",
		metric.WithDescription("Number of open WebSocket view streams."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ClassifyDuration, err = m.Float64Histogram("improvbattle.classify.duration",
		metric.WithDescription("Latency of folding one message into session state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(classifyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("improvbattle.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordMessage counts one processed transcript message.
func (m *Metrics) RecordMessage(ctx context.Context, isLocal bool) {
	if m == nil {
		return
	}
	origin := OriginRemote
	if isLocal {
		origin = OriginLocal
	}
	m.Messages.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}

// RecordRuleMatches counts each fired rule once.
func (m *Metrics) RecordRuleMatches(ctx context.Context, rules []string) {
	if m == nil {
		return
	}
	for _, r := range rules {
		m.RuleMatches.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", r)))
	}
}

// RecordReset counts one game reset.
func (m *Metrics) RecordReset(ctx context.Context) {
	if m == nil {
		return
	}
	m.Resets.Add(ctx, 1)
}

// RecordContinue counts one resumed session.
func (m *Metrics) RecordContinue(ctx context.Context) {
	if m == nil {
		return
	}
	m.Continues.Add(ctx, 1)
}

// RecordConnectionError counts one session expiry. source names what
// reported it, e.g. "client" or "watchdog".
func (m *Metrics) RecordConnectionError(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.ConnectionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordClassify records how long one message took to fold.
func (m *Metrics) RecordClassify(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ClassifyDuration.Record(ctx, d.Seconds())
}

// SessionOpened increments the live-session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the live-session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// StreamOpened increments the open-stream gauge.
func (m *Metrics) StreamOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveStreams.Add(ctx, 1)
}

// StreamClosed decrements the open-stream gauge.
func (m *Metrics) StreamClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveStreams.Add(ctx, -1)
}
