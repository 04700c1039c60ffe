// Package metrics holds the process-wide Prometheus collectors of the
// playback engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "melodeck_sessions_active",
		Help: "Number of tenants with a live playback session",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "melodeck_events_published_total",
		Help: "Status events published, by kind",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "melodeck_events_dropped_total",
		Help: "Status events dropped because a subscriber backlog overflowed",
	})

	PrefetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "melodeck_prefetch_bytes_total",
		Help: "Bytes written to local storage by download-mode retrieval",
	})

	PrefetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "melodeck_prefetch_failures_total",
		Help: "Download-mode retrievals that failed",
	})

	TimeoutsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "melodeck_timeouts_fired_total",
		Help: "Session timeout policies that fired, by action",
	}, []string{"action"})

	ColorCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "melodeck_color_cache_total",
		Help: "Dominant color lookups, by result (hit, miss, error)",
	}, []string{"result"})
)

// IncEvent records one published status event.
func IncEvent(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	EventsPublished.WithLabelValues(kind).Inc()
}
