// Package logcollector implements the async delivery-log emission of
// spec.md §9 "Deferred scheduling" / the supplemented ambient logging stack:
// topic lifecycle events (publish, consume, ack, nack, expire, dead-letter,
// delay) are enqueued onto a buffered channel and drained in chunked
// batches by a single background goroutine, so a slow or unavailable log
// sink never blocks the topic's execution loop.
//
// Grounded directly on the teacher's executor.invocationLogBatcher: same
// channel-plus-ticker batching shape, same bounded-buffer drop-with-warning
// behavior, same exponential-backoff retry against the sink, adapted from
// per-invocation logs to per-delivery broker events.
package logcollector

import (
	"context"
	"log/slog"
	"time"

	"github.com/blacknred/mbroker/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultTimeout       = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = 100 * time.Millisecond
)

// Event is one topic lifecycle event.
type Event struct {
	Timestamp  time.Time
	Topic      string
	ConsumerID uint64
	MessageID  uint64
	Kind       string // "published", "consumed", "acked", "nacked", "retention_expired", "dead_lettered", "delayed"
	Reason     string // populated for "dead_lettered", "nacked"
	LatencyMs  int64  // populated for "acked"
}

// Sink abstracts the destination for delivery events. Implementations must
// be safe for concurrent use.
type Sink interface {
	Save(ctx context.Context, evt *Event) error
	SaveBatch(ctx context.Context, evts []*Event) error
	Close() error
}

// SlogSink is the default Sink: it writes each event as a structured line
// through the shared operational logger (internal/logging).
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink builds a Sink over the shared operational logger.
func NewSlogSink() *SlogSink {
	return &SlogSink{logger: logging.Op()}
}

func (s *SlogSink) Save(_ context.Context, evt *Event) error {
	s.logSave(evt)
	return nil
}

func (s *SlogSink) SaveBatch(_ context.Context, evts []*Event) error {
	for _, evt := range evts {
		s.logSave(evt)
	}
	return nil
}

func (s *SlogSink) logSave(evt *Event) {
	s.logger.Info("delivery event",
		"topic", evt.Topic,
		"kind", evt.Kind,
		"message_id", evt.MessageID,
		"consumer_id", evt.ConsumerID,
		"reason", evt.Reason,
		"latency_ms", evt.LatencyMs,
	)
}

func (s *SlogSink) Close() error { return nil }

// Config controls Collector's batching behavior.
type Config struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// Collector batches Events and drains them to a Sink on a background
// goroutine.
type Collector struct {
	sink          Sink
	logger        *slog.Logger
	events        chan *Event
	flushInterval time.Duration
	batchSize     int
	timeout       time.Duration
	maxRetries    int
	retryInterval time.Duration
	done          chan struct{}
}

// NewCollector builds a Collector and starts its background flush loop. If
// sink is nil, a SlogSink is used.
func NewCollector(sink Sink, cfg Config) *Collector {
	if sink == nil {
		sink = NewSlogSink()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	c := &Collector{
		sink:          sink,
		logger:        logging.Op(),
		events:        make(chan *Event, bufferSize),
		flushInterval: flushInterval,
		batchSize:     batchSize,
		timeout:       timeout,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		done:          make(chan struct{}),
	}
	go c.run()
	return c
}

// Enqueue adds evt to the pending batch. Non-blocking: if the buffer is
// full, the event is dropped and a warning logged, per spec.md §9's
// "pure in-memory operations must not block" for the topic's own calls into
// Enqueue.
func (c *Collector) Enqueue(evt *Event) {
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("dropping delivery event due to full buffer", "topic", evt.Topic, "kind", evt.Kind, "message_id", evt.MessageID)
	}
}

// Shutdown flushes any pending events and stops the background loop,
// waiting up to timeout for it to finish.
func (c *Collector) Shutdown(timeout time.Duration) {
	close(c.events)
	select {
	case <-c.done:
	case <-time.After(timeout):
		c.logger.Warn("timeout waiting for log collector shutdown", "timeout", timeout)
	}
	c.sink.Close()
}

func (c *Collector) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, c.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		var lastErr error
		for attempt := 0; attempt < c.maxRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			lastErr = c.sink.SaveBatch(ctx, batch)
			cancel()
			if lastErr == nil {
				break
			}
			c.logger.Warn("failed to persist delivery events, retrying",
				"error", lastErr, "count", len(batch), "attempt", attempt+1)
			time.Sleep(time.Duration(1<<uint(attempt)) * c.retryInterval)
		}
		if lastErr != nil {
			c.logger.Error("permanently failed to persist delivery events after retries",
				"error", lastErr, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case evt, ok := <-c.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, evt)
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
