// Package observe provides application-wide observability primitives for
// DeafCare: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all DeafCare metrics.
const meterName = "github.com/lionelramela/deafcare"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks per-key synthesis latency. Use with attribute:
	//   attribute.String("slot", ...)
	GenerationDuration metric.Float64Histogram

	// VideoJobDuration tracks submit-to-artifact latency of video jobs.
	VideoJobDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// CacheLookups counts synthesis cache lookups. Use with attributes:
	//   attribute.String("slot", ...), attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// CacheSaveErrors counts failed snapshot saves by slot.
	CacheSaveErrors metric.Int64Counter

	// FramesSent counts PCM frames sent to live sessions.
	FramesSent metric.Int64Counter

	// TranscriptMessages counts committed transcript messages.
	TranscriptMessages metric.Int64Counter

	// VideoPolls counts video job status polls. Use with attribute:
	//   attribute.String("status", "pending"|"done"|"error")
	VideoPolls metric.Int64Counter

	// CredentialReselections counts out-of-band credential reselections.
	CredentialReselections metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// InFlightGenerations tracks keys with an outstanding generation.
	InFlightGenerations metric.Int64UpDownCounter

	// ActiveSessions tracks the number of streaming transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SyncProgress records the percentage of the last sync-all pass by slot.
	SyncProgress metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// generative calls, which run from sub-second text to multi-minute video.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Instrument creation errors are joined and returned.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := instrumentBuilder{m: mp.Meter(meterName)}
	met := &Metrics{
		GenerationDuration: b.latency("deafcare.synth.generation.duration", "Latency of a single cache-key synthesis.", latencyBuckets),
		VideoJobDuration:   b.latency("deafcare.video.job.duration", "Latency from video job submission to artifact.", latencyBuckets),

		ProviderRequests:       b.counter("deafcare.provider.requests", "Provider API requests by provider, kind and status."),
		CacheLookups:           b.counter("deafcare.cache.lookups", "Synthesis cache lookups by slot and result."),
		CacheSaveErrors:        b.counter("deafcare.cache.save_errors", "Failed snapshot saves by slot."),
		FramesSent:             b.counter("deafcare.transcribe.frames_sent", "PCM frames sent to live transcription sessions."),
		TranscriptMessages:     b.counter("deafcare.transcribe.messages", "Committed transcript messages."),
		VideoPolls:             b.counter("deafcare.video.polls", "Video job status polls by outcome."),
		CredentialReselections: b.counter("deafcare.credential.reselections", "Out-of-band credential reselections."),
		ProviderErrors:         b.counter("deafcare.provider.errors", "Provider errors by provider and kind."),

		InFlightGenerations: b.upDown("deafcare.synth.in_flight", "Keys with an outstanding generation."),
		ActiveSessions:      b.upDown("deafcare.transcribe.active_sessions", "Streaming transcription sessions."),
		SyncProgress:        b.percent("deafcare.synth.sync_progress", "Percentage completed of the current or last sync-all pass."),

		HTTPRequestDuration: b.latency("deafcare.http.request.duration", "HTTP request latency by method, route and status.", nil),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

// instrumentBuilder creates instruments on one meter and collects errors.
type instrumentBuilder struct {
	m    metric.Meter
	errs []error
}

func (b *instrumentBuilder) keep(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

// latency creates a seconds histogram. Nil buckets use the SDK defaults.
func (b *instrumentBuilder) latency(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.keep(err)
	return h
}

func (b *instrumentBuilder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *instrumentBuilder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *instrumentBuilder) percent(name, desc string) metric.Int64Gauge {
	g, err := b.m.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit("%"))
	b.keep(err)
	return g
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance backed by
// [otel.GetMeterProvider]. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCacheLookup records a cache hit or miss for slot.
func (m *Metrics) RecordCacheLookup(ctx context.Context, slot string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("slot", slot),
			attribute.String("result", result),
		),
	)
}

// RecordVideoPoll records one status poll outcome.
func (m *Metrics) RecordVideoPoll(ctx context.Context, status string) {
	m.VideoPolls.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
