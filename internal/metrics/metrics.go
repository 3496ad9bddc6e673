// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/bryan-buckman/archaeo/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg           *prometheus.Registry
	loads         *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	toggles       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archaeo",
			Name:      "loads_total",
			Help:      "Loads served, by cache key and where the data came from.",
		}, []string{"key", "source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "archaeo",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of remote fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archaeo",
			Name:      "bookmark_toggles_total",
			Help:      "Bookmark toggles, by domain and resulting state.",
		}, []string{"domain", "state"}),
	}
	m.reg.MustRegister(m.loads, m.fetchDuration, m.toggles,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveLoad counts one served load.
func (m *Metrics) ObserveLoad(key string, src model.SourceTag) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(key, string(src)).Inc()
}

// ObserveFetch records a remote fetch duration; outcome is "ok" or "error".
func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveToggle counts a bookmark toggle.
func (m *Metrics) ObserveToggle(domain model.Domain, added bool) {
	if m == nil {
		return
	}
	state := "removed"
	if added {
		state = "added"
	}
	m.toggles.WithLabelValues(string(domain), state).Inc()
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry, used in tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.reg
}
