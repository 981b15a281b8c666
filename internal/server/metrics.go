package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the serving collectors on a private registry so multiple
// servers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	batchSize         prometheus.Histogram
	queueWait         prometheus.Histogram
	inflight          prometheus.Gauge
}

// NewMetrics builds and registers the serving collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "born_serve",
		Name:      "requests_total",
		Help:      "RPC requests by method and status code.",
	}, []string{"rpc", "code"})

	m.inferenceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "born_serve",
		Name:      "inference_duration_seconds",
		Help:      "Model execution time per batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"servable", "method"})

	m.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "born_serve",
		Name:      "batch_size",
		Help:      "Instances per executed batch.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})

	m.queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "born_serve",
		Name:      "queue_wait_seconds",
		Help:      "Average time jobs waited in the dispatch queue.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	m.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "born_serve",
		Name:      "inflight_requests",
		Help:      "Requests currently being served.",
	})

	m.registry.MustRegister(
		m.requestsTotal,
		m.inferenceDuration,
		m.batchSize,
		m.queueWait,
		m.inflight,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordRequest(rpc, code string) {
	m.requestsTotal.WithLabelValues(rpc, code).Inc()
}

func (m *Metrics) recordBatch(servable, method string, size int, queueWait, inferenceTime time.Duration) {
	m.batchSize.Observe(float64(size))
	m.queueWait.Observe(queueWait.Seconds())
	m.inferenceDuration.WithLabelValues(servable, method).Observe(inferenceTime.Seconds())
}
