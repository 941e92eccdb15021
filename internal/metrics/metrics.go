package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the server components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Requests             *prometheus.CounterVec
	ResourceListFailures prometheus.Counter
	RollbackFailures     prometheus.Counter
	OpenTransactions     prometheus.Gauge
	QueryDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pgmcp",
			Name:      "requests_total",
			Help:      "Dispatched requests by method and outcome.",
		}, []string{"method", "outcome"}),
		ResourceListFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgmcp",
			Name:      "resource_list_failures_total",
			Help:      "resources/list calls answered with an empty list because the catalog query failed.",
		}),
		RollbackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pgmcp",
			Name:      "rollback_failures_total",
			Help:      "Read-only transactions whose rollback returned an error.",
		}),
		OpenTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pgmcp",
			Name:      "open_transactions",
			Help:      "Read-only transactions currently open on the connection.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pgmcp",
			Name:      "query_duration_seconds",
			Help:      "Gateway call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.ResourceListFailures, m.RollbackFailures, m.OpenTransactions, m.QueryDuration)
	}
	return m
}

// Request counts one answered request.
func (m *Metrics) Request(method, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, outcome).Inc()
}

// ResourceListFailed counts a swallowed resources/list failure.
func (m *Metrics) ResourceListFailed() {
	if m == nil {
		return
	}
	m.ResourceListFailures.Inc()
}

// RollbackFailed counts a failed rollback.
func (m *Metrics) RollbackFailed() {
	if m == nil {
		return
	}
	m.RollbackFailures.Inc()
}

// SetOpenTransactions mirrors the gateway transaction count.
func (m *Metrics) SetOpenTransactions(n int) {
	if m == nil {
		return
	}
	m.OpenTransactions.Set(float64(n))
}

// ObserveQuery records the duration of a gateway operation in seconds.
func (m *Metrics) ObserveQuery(op string, seconds float64) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(op).Observe(seconds)
}
