// Package observe provides application-wide observability primitives for
// PitchCoach: OpenTelemetry metrics, distributed tracing, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all PitchCoach metrics.
const meterName = "github.com/pitchcoach/pitchcoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ScriptDuration tracks podcast script generation latency.
	ScriptDuration metric.Float64Histogram

	// TTSDuration tracks podcast audio synthesis latency.
	TTSDuration metric.Float64Histogram

	// SessionConnectDuration tracks live session setup latency, from dial to
	// the first event.
	SessionConnectDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts audio frames forwarded to the live provider.
	FramesSent metric.Int64Counter

	// FramesReceived counts audio events received from the live provider.
	FramesReceived metric.Int64Counter

	// DecodeErrors counts audio payloads that failed to decode. Use with
	// attribute: attribute.String("source", ...)
	DecodeErrors metric.Int64Counter

	// CacheHits and CacheMisses count podcast cache lookups.
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Interruptions counts playback interruptions (the user talking over
	// the coach).
	Interruptions metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActivePlaybacks tracks the number of scheduled audio buffers not yet
	// finished playing.
	ActivePlaybacks metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both sub-second live-audio paths and multi-second generation calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ScriptDuration, err = m.Float64Histogram("pitchcoach.podcast.script.duration",
		metric.WithDescription("Latency of podcast script generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("pitchcoach.podcast.tts.duration",
		metric.WithDescription("Latency of podcast audio synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionConnectDuration, err = m.Float64Histogram("pitchcoach.session.connect.duration",
		metric.WithDescription("Latency of live session setup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("pitchcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("pitchcoach.audio.frames.sent",
		metric.WithDescription("Audio frames forwarded to the live provider."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("pitchcoach.audio.frames.received",
		metric.WithDescription("Audio events received from the live provider."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("pitchcoach.audio.decode.errors",
		metric.WithDescription("Audio payloads that failed to decode, by source."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("pitchcoach.podcast.cache.hits",
		metric.WithDescription("Podcast cache lookups served from storage."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("pitchcoach.podcast.cache.misses",
		metric.WithDescription("Podcast cache lookups that required generation."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("pitchcoach.playback.interruptions",
		metric.WithDescription("Playback interruptions caused by the user speaking."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("pitchcoach.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("pitchcoach.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlaybacks, err = m.Int64UpDownCounter("pitchcoach.active_playbacks",
		metric.WithDescription("Scheduled audio buffers not yet finished playing."),
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

// RecordCacheLookup records one podcast cache lookup outcome.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if hit {
		m.CacheHits.Add(ctx, 1)
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// RecordDecodeError records a failed audio decode with its source attribute.
func (m *Metrics) RecordDecodeError(ctx context.Context, source string) {
	m.DecodeErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
