// Package metrics exposes ledger operation counters in Prometheus format.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	saleTotals prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmapos",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pharmapos",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency including conflict retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pharmapos",
			Name:      "conflict_retries_total",
			Help:      "Units of work retried after a write conflict.",
		}, []string{"operation"}),
		saleTotals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pharmapos",
			Name:      "sale_total_cents",
			Help:      "Distribution of committed sale totals in cents.",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
		}),
	}
	r.registry.MustRegister(
		r.operations,
		r.duration,
		r.retries,
		r.saleTotals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveOperation(operation string, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (r *Recorder) ConflictRetry(operation string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(operation).Inc()
}

func (r *Recorder) SaleCommitted(totalCents int64) {
	if r == nil {
		return
	}
	r.saleTotals.Observe(float64(totalCents))
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
