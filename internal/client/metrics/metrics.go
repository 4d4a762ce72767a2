// Package metrics holds the prometheus collectors of the donorsync client.
// Collectors live on a per-instance registry so several clients (and tests)
// never collide on the global one. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "donorsync"

type Metrics struct {
	Registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	refreshes     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	cacheLoads    *prometheus.CounterVec
	cacheInFlight prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Outbound API requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of outbound API requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"method"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "refreshes_total",
				Help:      "Token refresh attempts by result.",
			},
			[]string{"success"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Session status transitions by target status.",
			},
			[]string{"status"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache fetches by result (hit, stale, miss).",
			},
			[]string{"result"},
		),
		cacheLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "loads_total",
				Help:      "Loader executions by outcome.",
			},
			[]string{"outcome"},
		),
		cacheInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "inflight_loads",
				Help:      "Current number of in-flight cache loads.",
			},
		),
	}

	m.Registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.refreshes,
		m.transitions,
		m.cacheLookups,
		m.cacheLoads,
		m.cacheInFlight,
	)
	return m
}

func (m *Metrics) ObserveRequest(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, outcome).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) Refresh(success bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// CacheLoadStarted tracks a load in flight; the returned func records its outcome.
func (m *Metrics) CacheLoadStarted() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	m.cacheInFlight.Inc()
	return func(outcome string) {
		m.cacheInFlight.Dec()
		m.cacheLoads.WithLabelValues(outcome).Inc()
	}
}
