// Package telemetry provides Prometheus metrics, OpenTelemetry tracing setup,
// and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsEmitted    *prometheus.CounterVec // platform, kind
	FramesDropped    *prometheus.CounterVec // platform (malformed upstream frames)
	AdapterFailures  *prometheus.CounterVec // platform
	SubscribeTotal   prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter

	// Gauges
	SessionsActive prometheus.Gauge
	AdaptersActive prometheus.Gauge
	QueueDepth     prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_events_emitted_total", Help: "Normalized events enqueued by adapters"}, []string{"platform", "kind"})
		FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_frames_dropped_total", Help: "Malformed upstream frames dropped before emission"}, []string{"platform"})
		AdapterFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_adapter_failures_total", Help: "Adapter runs that ended with an error event"}, []string{"platform"})
		SubscribeTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_subscribe_requests_total", Help: "Accepted subscribe requests"})
		CacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_resolution_cache_hits_total", Help: "Resolution cache hits"})
		CacheMisses = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_resolution_cache_misses_total", Help: "Resolution cache misses"})
		SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_sessions_active", Help: "Open client sessions"})
		AdaptersActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_adapters_active", Help: "Running platform adapters"})
		QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_event_queue_depth", Help: "Buffered events awaiting the forwarder"})
	})
}

// CountEvent records one emitted event if metrics are initialized.
func CountEvent(platform, kind string) {
	if EventsEmitted != nil {
		EventsEmitted.WithLabelValues(platform, kind).Inc()
	}
}

// CountDropped records one dropped malformed frame.
func CountDropped(platform string) {
	if FramesDropped != nil {
		FramesDropped.WithLabelValues(platform).Inc()
	}
}

// CountAdapterFailure records one failed adapter run.
func CountAdapterFailure(platform string) {
	if AdapterFailures != nil {
		AdapterFailures.WithLabelValues(platform).Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
