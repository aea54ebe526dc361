package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors for broker metrics,
// mirroring the per-topic counters Collector already tracks in-process.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	publishedTotal    *prometheus.CounterVec
	consumedTotal     *prometheus.CounterVec
	ackedTotal        *prometheus.CounterVec
	nackedTotal       *prometheus.CounterVec
	expiredTotal      *prometheus.CounterVec
	deadLetteredTotal *prometheus.CounterVec
	delayedTotal      *prometheus.CounterVec

	ackLatency *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
}

// defaultLatencyBuckets covers sub-millisecond acks up through a slow
// multi-second consumer, in milliseconds.
var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// InitPrometheus builds a Prometheus registry for c and registers it.
// Safe to call at most once per Collector.
func (c *Collector) InitPrometheus(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "published_total", Help: "Total messages published, by topic",
		}, []string{"topic"}),

		consumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "consumed_total", Help: "Total messages dequeued by a consumer, by topic",
		}, []string{"topic"}),

		ackedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "acked_total", Help: "Total deliveries acked, by topic",
		}, []string{"topic"}),

		nackedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "nacked_total", Help: "Total deliveries nacked, by topic",
		}, []string{"topic"}),

		expiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "expired_total", Help: "Total messages expired before delivery, by topic",
		}, []string{"topic"}),

		deadLetteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dead_lettered_total", Help: "Total messages dead-lettered, by topic and reason",
		}, []string{"topic", "reason"}),

		delayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "delayed_total", Help: "Total messages held by the delayed queue, by topic",
		}, []string{"topic"}),

		ackLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ack_latency_milliseconds",
			Help: "Publish-to-ack latency in milliseconds, by topic", Buckets: defaultLatencyBuckets,
		}, []string{"topic"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Current per-consumer queue depth, by topic",
		}, []string{"topic"}),
	}

	registry.MustRegister(
		pm.publishedTotal,
		pm.consumedTotal,
		pm.ackedTotal,
		pm.nackedTotal,
		pm.expiredTotal,
		pm.deadLetteredTotal,
		pm.delayedTotal,
		pm.ackLatency,
		pm.queueDepth,
	)

	c.prom = pm
}

// PrometheusHandler returns an HTTP handler for scraping, or a 503 if
// InitPrometheus was never called.
func (c *Collector) PrometheusHandler() http.Handler {
	if c.prom == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(c.prom.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the underlying registry, or nil if
// InitPrometheus was never called, for registering custom collectors.
func (c *Collector) PrometheusRegistry() *prometheus.Registry {
	if c.prom == nil {
		return nil
	}
	return c.prom.registry
}
