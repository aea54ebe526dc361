// Package metrics implements MetricsCollector: per-topic counters, an
// exponential moving average of publish-to-ack latency, and per-consumer
// queue depth gauges, exposed both as a lightweight in-process snapshot and
// through a Prometheus registry (prometheus.go).
//
// Grounded on the teacher's own internal/metrics split: an in-process
// atomics-and-sync.Map struct for a cheap JSON endpoint, plus a parallel
// Prometheus registry for external scraping. The broker's EMA latency
// replaces the teacher's ring-buffer time series, since a single decaying
// average is the cheaper and sufficient signal for ack-timeout tuning
// (spec.md §9 does not specify a time-series requirement).
package metrics

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// emaAlpha is the smoothing factor for the latency EMA: ema = α·x + (1-α)·ema.
const emaAlpha = 0.1

// topicCounters holds the per-topic atomic counters tracked by Collector.
type topicCounters struct {
	published    atomic.Int64
	consumed     atomic.Int64
	acked        atomic.Int64
	nacked       atomic.Int64
	expired      atomic.Int64
	deadLettered atomic.Int64
	delayed      atomic.Int64
}

// Collector is the broker's MetricsCollector: one set of counters and an EMA
// latency per topic, plus a shared queue-depth gauge table keyed by
// "<topic>:<consumerID>".
type Collector struct {
	topics sync.Map // topic -> *topicCounters

	latencyMu sync.Mutex
	latencyMs map[string]float64 // topic -> EMA of ack latency, ms

	depthMu sync.RWMutex
	depth   map[string]int64 // "<topic>:<consumerID>" -> queue depth

	prom *PrometheusMetrics // nil when InitPrometheus was never called

	startTime time.Time
}

// New builds an empty Collector. Call InitPrometheus on it to also populate
// a Prometheus registry.
func New() *Collector {
	return &Collector{
		latencyMs: make(map[string]float64),
		depth:     make(map[string]int64),
		startTime: time.Now(),
	}
}

func (c *Collector) counters(topic string) *topicCounters {
	if v, ok := c.topics.Load(topic); ok {
		return v.(*topicCounters)
	}
	tc := &topicCounters{}
	actual, _ := c.topics.LoadOrStore(topic, tc)
	return actual.(*topicCounters)
}

// RecordPublish increments topic's published counter.
func (c *Collector) RecordPublish(topic string) {
	c.counters(topic).published.Add(1)
	if c.prom != nil {
		c.prom.publishedTotal.WithLabelValues(topic).Inc()
	}
}

// RecordConsume increments topic's consumed counter.
func (c *Collector) RecordConsume(topic string) {
	c.counters(topic).consumed.Add(1)
	if c.prom != nil {
		c.prom.consumedTotal.WithLabelValues(topic).Inc()
	}
}

// RecordAck increments topic's acked counter and folds latencyMs (the
// publish-to-ack interval) into that topic's EMA.
func (c *Collector) RecordAck(topic string, latencyMs float64) {
	c.counters(topic).acked.Add(1)
	c.updateLatency(topic, latencyMs)
	if c.prom != nil {
		c.prom.ackedTotal.WithLabelValues(topic).Inc()
		c.prom.ackLatency.WithLabelValues(topic).Observe(latencyMs)
	}
}

// RecordNack increments topic's nacked counter.
func (c *Collector) RecordNack(topic string) {
	c.counters(topic).nacked.Add(1)
	if c.prom != nil {
		c.prom.nackedTotal.WithLabelValues(topic).Inc()
	}
}

// RecordExpired increments topic's expired counter.
func (c *Collector) RecordExpired(topic string) {
	c.counters(topic).expired.Add(1)
	if c.prom != nil {
		c.prom.expiredTotal.WithLabelValues(topic).Inc()
	}
}

// RecordDeadLettered increments topic's dead-lettered counter, labeled by
// reason (e.g. "expired", "max_attempts", "no_consumers").
func (c *Collector) RecordDeadLettered(topic, reason string) {
	c.counters(topic).deadLettered.Add(1)
	if c.prom != nil {
		c.prom.deadLetteredTotal.WithLabelValues(topic, reason).Inc()
	}
}

// RecordDelayed increments topic's delayed counter.
func (c *Collector) RecordDelayed(topic string) {
	c.counters(topic).delayed.Add(1)
	if c.prom != nil {
		c.prom.delayedTotal.WithLabelValues(topic).Inc()
	}
}

func (c *Collector) updateLatency(topic string, sampleMs float64) {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	prev, ok := c.latencyMs[topic]
	if !ok {
		c.latencyMs[topic] = sampleMs
		return
	}
	c.latencyMs[topic] = emaAlpha*sampleMs + (1-emaAlpha)*prev
}

// AckLatencyEMA returns topic's current ack-latency EMA in milliseconds.
func (c *Collector) AckLatencyEMA(topic string) float64 {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	return c.latencyMs[topic]
}

// SetDepth records consumerID's current queue depth for topic.
func (c *Collector) SetDepth(topic string, consumerID uint64, depth int64) {
	key := depthKey(topic, consumerID)
	c.depthMu.Lock()
	c.depth[key] = depth
	c.depthMu.Unlock()
	if c.prom != nil {
		c.prom.queueDepth.WithLabelValues(topic).Set(float64(depth))
	}
}

// Depth returns consumerID's last-recorded queue depth for topic.
func (c *Collector) Depth(topic string, consumerID uint64) int64 {
	c.depthMu.RLock()
	defer c.depthMu.RUnlock()
	return c.depth[depthKey(topic, consumerID)]
}

func depthKey(topic string, consumerID uint64) string {
	return topic + ":" + strconv.FormatUint(consumerID, 10)
}

// Snapshot returns a point-in-time view of every tracked topic's counters.
func (c *Collector) Snapshot() map[string]any {
	out := make(map[string]any)
	c.topics.Range(func(key, value any) bool {
		topic := key.(string)
		tc := value.(*topicCounters)
		out[topic] = map[string]any{
			"published":          tc.published.Load(),
			"consumed":           tc.consumed.Load(),
			"acked":              tc.acked.Load(),
			"nacked":             tc.nacked.Load(),
			"expired":            tc.expired.Load(),
			"dead_lettered":      tc.deadLettered.Load(),
			"delayed":            tc.delayed.Load(),
			"ack_latency_ms_ema": c.AckLatencyEMA(topic),
		}
		return true
	})
	return out
}

// JSONHandler exposes Snapshot as a JSON HTTP endpoint, for dashboards that
// don't want to stand up a Prometheus scraper.
func (c *Collector) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"uptime_seconds": int64(time.Since(c.startTime).Seconds()),
			"topics":         c.Snapshot(),
		})
	})
}
