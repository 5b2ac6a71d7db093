// Package metrics exposes Prometheus instrumentation for item operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "versionstore"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// commits counts commits produced. Labels: op
	commits *prometheus.CounterVec
	// errors counts failed operations. Labels: op, kind (not_found, conflict, invalid, internal)
	errors *prometheus.CounterVec
	// duration measures operation latency. Labels: op
	duration *prometheus.HistogramVec
	// headResets counts head moves without a commit.
	headResets prometheus.Counter
}

// New registers the collectors on reg. A nil reg gets a fresh registry with
// the Go runtime and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Total commits created by operation",
		}, []string{"op"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Total failed operations by operation and error kind",
		}, []string{"op", "kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
		headResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "head_resets_total",
			Help:      "Total head resets",
		}),
	}
}

// Observe records one finished operation. kind is empty on success.
func (m *Metrics) Observe(op string, started time.Time, committed bool, kind string) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if kind != "" {
		m.errors.WithLabelValues(op, kind).Inc()
		return
	}
	if committed {
		m.commits.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) HeadReset() {
	if m == nil {
		return
	}
	m.headResets.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
