// Package broker implements Topic (spec.md §4.11): the per-topic façade that
// composes routing, queuing, acking, delaying, dead-lettering, storage, and
// client bookkeeping into the single publish/consume/ack surface a client
// actually calls.
//
// Grounded on the teacher's internal/service function-invocation façade
// (service.Invoke): one entry point per externally visible operation, each
// validating its caller before touching any state, delegating the real work
// to narrower collaborators rather than inlining it.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blacknred/mbroker/internal/ack"

	"github.com/blacknred/mbroker/internal/brokererr"
	"github.com/blacknred/mbroker/internal/clients"
	"github.com/blacknred/mbroker/internal/codec"
	"github.com/blacknred/mbroker/internal/config"
	"github.com/blacknred/mbroker/internal/delayed"
	"github.com/blacknred/mbroker/internal/dlq"
	"github.com/blacknred/mbroker/internal/logcollector"
	"github.com/blacknred/mbroker/internal/logging"
	"github.com/blacknred/mbroker/internal/message"
	"github.com/blacknred/mbroker/internal/metrics"
	"github.com/blacknred/mbroker/internal/pipeline"
	"github.com/blacknred/mbroker/internal/queue"
	"github.com/blacknred/mbroker/internal/routing"
	"github.com/blacknred/mbroker/internal/storage"
	"github.com/blacknred/mbroker/internal/tracing"
)

// PublishOptions carries the per-message fields a producer controls, per
// spec.md §3.
type PublishOptions struct {
	Priority      *uint8
	TTLMs         *int64
	TTDMs         *int64
	CorrelationID string
	RoutingKey    string
}

// PublishResult is one message's outcome from PublishBatch. A failure in one
// message never aborts the rest of the batch (spec.md §7).
type PublishResult struct {
	ID     uint64
	Status string // "ok" or "error"
	Error  error
}

// Topic is the broker's per-topic façade. Publish, PublishBatch, Consume,
// CreateDlqReader and ReplayDlq validate the calling client's registered Type
// before touching any state; Ack, Nack, DeleteClient, RecordClientActivity
// and GetMetadata do not check the caller's type.
type Topic struct {
	name string
	cfg  config.TopicConfig
	now  func() int64
	log  *slog.Logger

	codec     codec.Codec
	validator Validator

	messageIDs *message.IDGenerator
	clientIDs  *message.IDGenerator
	bytesUsed  atomic.Int64

	storage  *storage.MessageStorage
	pipeline *pipeline.Pipeline
	strategy *routing.Strategy
	router   *routing.Router
	queues   *queue.Manager
	delay    *delayed.Manager
	dlqMgr   *dlq.Manager
	ackMgr   *ack.Manager
	reg      *clients.Manager
	metrics  *metrics.Collector
	logs     *logcollector.Collector

	archiver    Archiver
	archivedMu  sync.Mutex
	archived    map[uint64]struct{}
	retentionStop chan struct{}
}

// Archiver ships a retired message's still-encoded payload and metadata to
// cold storage before the retention sweep deletes it. Satisfied by
// *archivestore.Archiver; kept as an interface here so broker doesn't need
// to import the AWS SDK for topics that never configure one.
type Archiver interface {
	Archive(ctx context.Context, topic string, id uint64, payload, meta []byte) error
}

// NewTopic builds a Topic named name from cfg, backed by store. schemas may
// be nil if cfg.Schema is empty. cdc defaults to codec.New() if nil.
func NewTopic(name string, cfg config.TopicConfig, store storage.PersistentStore, cdc codec.Codec, schemas *SchemaRegistry) (*Topic, error) {
	if !message.ValidTopicName(name) {
		return nil, brokererr.New(brokererr.InvalidArgument, "invalid topic name %q", name)
	}
	if cdc == nil {
		cdc = codec.New()
	}

	t := &Topic{
		name:       name,
		cfg:        cfg,
		now:        func() int64 { return time.Now().UnixMilli() },
		log:        logging.Op().With("component", "broker", "topic", name),
		codec:      cdc,
		messageIDs: &message.IDGenerator{},
		clientIDs:  &message.IDGenerator{},
	}

	if cfg.Schema != "" {
		if schemas == nil {
			return nil, brokererr.New(brokererr.InvalidArgument, "topic %q names schema %q but no schema registry was supplied", name, cfg.Schema)
		}
		v, ok := schemas.Get(cfg.Schema)
		if !ok {
			return nil, brokererr.New(brokererr.InvalidArgument, "unknown schema %q", cfg.Schema)
		}
		t.validator = v
	}

	t.storage = storage.New(name, store, cdc, storage.Config{
		PersistThreshold: time.Duration(cfg.PersistThresholdMs) * time.Millisecond,
		ChunkSize:        cfg.ChunkSize,
		Persist:          cfg.Persist,
	})

	vnodes := cfg.Replicas
	if vnodes <= 0 {
		vnodes = 3
	}
	t.strategy = routing.NewStrategy(vnodes)
	t.router = routing.NewRouter(t.strategy)

	t.queues = queue.NewManager(name, 0, nil)
	t.delay = delayed.NewManager(t.onDelayedReady, t.now)
	t.dlqMgr = dlq.NewManager()

	var attemptsProc pipeline.Processor
	if cfg.MaxDeliveryAttempts > 0 {
		attemptsProc = pipeline.AttemptsProcessor{MaxAttempts: uint32(cfg.MaxDeliveryAttempts)}
	}
	t.pipeline = pipeline.New(pipeline.ExpirationProcessor{}, pipeline.DelayProcessor{}, attemptsProc)

	t.ackMgr = ack.NewManager(ack.Config{
		AckTimeout: time.Duration(cfg.AckTimeoutMs) * time.Millisecond,
		Now:        t.now,
	}, t.onNack)

	t.reg = clients.NewManager(clients.Config{
		InactivityThreshold:    time.Duration(cfg.ConsumerInactivityThresholdMs) * time.Millisecond,
		ProcessingTimeThreshold: time.Duration(cfg.ConsumerProcessingTimeThresholdMs) * time.Millisecond,
		PendingThreshold:       cfg.ConsumerPendingThresholdMs,
		Now:                    t.now,
	})

	t.metrics = metrics.New()
	t.logs = logcollector.NewCollector(nil, logcollector.Config{})

	t.archived = make(map[uint64]struct{})
	t.retentionStop = make(chan struct{})

	t.ackMgr.Start()
	t.reg.Start()
	go t.runRetentionSweep()
	return t, nil
}

// SetArchiver configures the cold-archival hook consulted by the retention
// sweep (SPEC_FULL.md §12). Nil (the default) disables archival: messages
// are simply dropped once they age past cfg.RetentionMs.
func (t *Topic) SetArchiver(a Archiver) {
	t.archivedMu.Lock()
	t.archiver = a
	t.archivedMu.Unlock()
}

// runRetentionSweep periodically archives messages older than
// cfg.ArchivalThresholdMs and deletes messages older than cfg.RetentionMs,
// following the same ticker-driven background-worker shape as
// ack.Manager's sweep.
func (t *Topic) runRetentionSweep() {
	interval := time.Duration(t.cfg.ArchivalThresholdMs) * time.Millisecond / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.retentionStop:
			return
		case <-ticker.C:
			t.sweepRetention()
		}
	}
}

func (t *Topic) sweepRetention() {
	if t.cfg.RetentionMs <= 0 && t.cfg.ArchivalThresholdMs <= 0 {
		return
	}
	now := t.now()
	ctx := context.Background()

	var toArchive, toDelete []uint64
	t.storage.ForEachBuffered(func(id uint64, meta *message.Metadata) bool {
		age := now - meta.TS
		if t.cfg.RetentionMs > 0 && age >= t.cfg.RetentionMs {
			toDelete = append(toDelete, id)
			return true
		}
		if t.cfg.ArchivalThresholdMs > 0 && age >= t.cfg.ArchivalThresholdMs {
			toArchive = append(toArchive, id)
		}
		return true
	})

	t.archivedMu.Lock()
	archiver := t.archiver
	t.archivedMu.Unlock()

	if archiver != nil {
		for _, id := range toArchive {
			t.archivedMu.Lock()
			_, already := t.archived[id]
			t.archivedMu.Unlock()
			if already {
				continue
			}
			payload, meta, ok := t.storage.ReadRaw(id)
			if !ok {
				continue
			}
			if err := archiver.Archive(ctx, t.name, id, payload, meta); err != nil {
				t.log.Warn("archive message failed", "message_id", id, "error", err)
				continue
			}
			t.archivedMu.Lock()
			t.archived[id] = struct{}{}
			t.archivedMu.Unlock()
		}
	}

	for _, id := range toDelete {
		if archiver != nil {
			t.archivedMu.Lock()
			_, already := t.archived[id]
			t.archivedMu.Unlock()
			if !already {
				if payload, meta, ok := t.storage.ReadRaw(id); ok {
					_ = archiver.Archive(ctx, t.name, id, payload, meta)
				}
			}
		}
		t.storage.Delete(ctx, id)
		t.archivedMu.Lock()
		delete(t.archived, id)
		t.archivedMu.Unlock()
		t.logs.Enqueue(&logcollector.Event{Timestamp: time.Now(), Topic: t.name, MessageID: id, Kind: "retention_expired"})
	}
}

// Name returns the topic's name.
func (t *Topic) Name() string { return t.name }

// Metrics returns the topic's metrics collector, for process-wide dashboard
// or Prometheus wiring.
func (t *Topic) Metrics() *metrics.Collector { return t.metrics }

// Close stops every background worker the topic owns. Safe to call once,
// typically from TopicRegistry.DeleteTopic.
func (t *Topic) Close() {
	close(t.retentionStop)
	t.ackMgr.Close()
	t.reg.Close()
	t.delay.Close()
	t.storage.Close()
	t.queues.Close()
	t.logs.Shutdown(5 * time.Second)
}

func (t *Topic) requireClientType(id uint64, want clients.Type) error {
	c, ok := t.reg.Get(id)
	if !ok {
		return brokererr.New(brokererr.NotFound, "client %d not registered on topic %q", id, t.name)
	}
	if c.Type != want {
		return brokererr.New(brokererr.TypeMismatch, "client %d is a %s, not a %s", id, c.Type, want)
	}
	return nil
}

// Publish stores payload under a fresh message id, attaches the given
// options as delivery metadata, and admits it to the pipeline. Returns the
// assigned message id.
func (t *Topic) Publish(producerID uint64, payload any, opts PublishOptions) (uint64, error) {
	return t.publish(producerID, payload, opts, nil, 0, 0)
}

// PublishBatch publishes every payload under one shared batch id. A failure
// publishing one message is recorded in its own PublishResult and does not
// prevent the rest of the batch from being attempted (spec.md §7).
func (t *Topic) PublishBatch(producerID uint64, payloads []any, opts []PublishOptions) []PublishResult {
	if len(opts) != len(payloads) {
		opts = nil
	}
	batchID := t.messageIDs.Next()
	results := make([]PublishResult, len(payloads))
	for i, payload := range payloads {
		var o PublishOptions
		if opts != nil {
			o = opts[i]
		}
		id, err := t.publish(producerID, payload, o, &batchID, uint16(i), uint16(len(payloads)))
		results[i] = PublishResult{ID: id, Error: err}
		if err != nil {
			results[i].Status = "error"
		} else {
			results[i].Status = "ok"
		}
	}
	return results
}

func (t *Topic) publish(producerID uint64, payload any, opts PublishOptions, batchID *uint64, batchIdx, batchSize uint16) (id uint64, err error) {
	_, span := tracing.StartSpan(context.Background(), "broker.publish",
		tracing.AttrTopic.String(t.name), tracing.AttrProducerID.Int64(int64(producerID)),
		tracing.AttrCorrelationID.String(opts.CorrelationID))
	defer func() { tracing.End(span, err) }()

	if err := t.requireClientType(producerID, clients.Producer); err != nil {
		return 0, err
	}

	encoded, encErr := t.codec.Encode(payload)
	if encErr != nil {
		return 0, encErr
	}
	if t.cfg.MaxMessageSize > 0 && len(encoded) > t.cfg.MaxMessageSize {
		return 0, brokererr.New(brokererr.InvalidArgument, "payload of %d bytes exceeds max_message_size %d", len(encoded), t.cfg.MaxMessageSize)
	}
	if t.validator != nil {
		if err := t.validator(encoded); err != nil {
			return 0, brokererr.Wrap(brokererr.ValidationFailure, err, "schema %q rejected payload", t.cfg.Schema)
		}
	}
	if t.cfg.MaxSizeBytes > 0 {
		// Cumulative lifetime bytes, never decremented on consume: admission
		// is gated on total throughput through the topic, not outstanding
		// size (spec.md §9 open question).
		used := t.bytesUsed.Add(int64(len(encoded)))
		if used > t.cfg.MaxSizeBytes {
			return 0, brokererr.New(brokererr.InvalidArgument, "topic %q over cumulative capacity (%d/%d bytes)", t.name, used, t.cfg.MaxSizeBytes)
		}
	}

	id = t.messageIDs.Next()
	meta := &message.Metadata{
		ID:            id,
		TS:            t.now(),
		ProducerID:    producerID,
		Topic:         t.name,
		Priority:      opts.Priority,
		TTL:           opts.TTLMs,
		TTD:           opts.TTDMs,
		BatchID:       batchID,
		BatchIdx:      batchIdx,
		BatchSize:     batchSize,
		CorrelationID: opts.CorrelationID,
		RoutingKey:    opts.RoutingKey,
		Attempts:      1,
	}

	if _, err := t.storage.WriteAll(payload, meta); err != nil {
		return 0, err
	}
	t.metrics.RecordPublish(t.name)
	t.logs.Enqueue(&logcollector.Event{Timestamp: time.Now(), Topic: t.name, MessageID: id, Kind: "published"})

	t.admit(meta)
	return id, nil
}

// admit runs meta through the pipeline and acts on its verdict. Called after
// publish, after a delayed message becomes ready, and after a nack requeues.
func (t *Topic) admit(meta *message.Metadata) {
	action, reason := t.pipeline.Run(meta, t.now())
	switch action {
	case pipeline.ActionDeadLetter:
		t.deadLetter(meta.ID, reason)
	case pipeline.ActionDelay:
		t.metrics.RecordDelayed(t.name)
		t.logs.Enqueue(&logcollector.Event{Timestamp: time.Now(), Topic: t.name, MessageID: meta.ID, Kind: "delayed"})
		t.delay.Add(meta.ID, meta.ReadyAt())
	case pipeline.ActionRoute:
		t.route(meta)
	}
}

func (t *Topic) route(meta *message.Metadata) {
	decision := t.router.Decide(meta.CorrelationID, meta.RoutingKey, t.reg.ActiveConsumers)
	if decision.DLQReason != "" {
		t.deadLetter(meta.ID, decision.DLQReason)
		return
	}

	// Awaited-ack count is set before enqueuing so a consumer that dequeues
	// and acks immediately never races this call (spec.md §4.8).
	t.ackMgr.SetAwaitedAcks(meta.ID, int32(len(decision.Targets)))

	ctx := context.Background()
	failed := 0
	for _, consumerID := range decision.Targets {
		if err := t.queues.Enqueue(ctx, consumerID, meta.ID, meta.PriorityOrZero()); err != nil {
			t.log.Warn("failed to enqueue message to consumer queue", "consumer_id", consumerID, "message_id", meta.ID, "error", err)
			failed++
		}
	}
	if failed == len(decision.Targets) {
		t.deadLetter(meta.ID, "no_consumers")
		return
	}
	if failed > 0 {
		if remaining, ok := t.ackMgr.AwaitedRemaining(meta.ID); ok {
			t.ackMgr.SetAwaitedAcks(meta.ID, remaining-int32(failed))
		}
	}
}

func (t *Topic) deadLetter(id uint64, reason string) {
	t.dlqMgr.Add(id, reason)
	t.metrics.RecordDeadLettered(t.name, reason)
	t.logs.Enqueue(&logcollector.Event{Timestamp: time.Now(), Topic: t.name, MessageID: id, Kind: "dead_lettered", Reason: reason})
}

// onDelayedReady is delayed.Manager's Release callback: reload meta and run
// it through the pipeline again now that its TTD has elapsed.
func (t *Topic) onDelayedReady(id uint64) {
	meta, ok := t.storage.ReadMetadata(id)
	if !ok {
		return
	}
	t.admit(meta)
}

// onNack is ack.Manager's NackHandler: bump or exhaust attempts, persist the
// change, and run the pipeline again so the message requeues, delays, or
// dead-letters per its new attempt count.
func (t *Topic) onNack(consumerID, id uint64, requeue bool) {
	meta, ok := t.storage.ReadMetadata(id)
	if !ok {
		return
	}
	t.metrics.RecordNack(t.name)
	reason := "explicit nack"
	if !requeue {
		reason = "nack without requeue"
	}
	t.logs.Enqueue(&logcollector.Event{Timestamp: time.Now(), Topic: t.name, ConsumerID: consumerID, MessageID: id, Kind: "nacked", Reason: reason})

	var attempts uint32
	if requeue {
		attempts = meta.Attempts + 1
	} else {
		attempts = message.AttemptsUnlimited
	}
	meta.Attempts = attempts
	if err := t.storage.UpdateMetadata(id, codec.MetadataPatch{Attempts: &attempts}); err != nil {
		t.log.Warn("failed to persist bumped attempts after nack", "message_id", id, "error", err)
	}

	t.admit(meta)
}

// Consume dequeues the next ready message id for consumerID, reads its
// payload and metadata, and either immediately acks it (autoAck) or records
// it as a pending delivery awaiting an explicit Ack/Nack.
func (t *Topic) Consume(consumerID uint64, autoAck bool) (payload any, meta *message.Metadata, err error) {
	_, span := tracing.StartSpan(context.Background(), "broker.consume",
		tracing.AttrTopic.String(t.name), tracing.AttrConsumerID.Int64(int64(consumerID)))
	defer func() { tracing.End(span, err) }()

	if err := t.requireClientType(consumerID, clients.Consumer); err != nil {
		return nil, nil, err
	}
	id, ok := t.queues.Dequeue(consumerID)
	if !ok {
		return nil, nil, brokererr.New(brokererr.NotFound, "no message available for consumer %d", consumerID)
	}
	payload, meta, ok = t.storage.ReadAll(id)
	if !ok {
		return nil, nil, brokererr.New(brokererr.NotFound, "message %d no longer available", id)
	}

	t.metrics.RecordConsume(t.name)
	t.metrics.SetDepth(t.name, consumerID, int64(t.queues.Depth(consumerID)))
	t.reg.RecordActivity(consumerID, clients.Activity{MessageCountDelta: 1, PendingMessagesDelta: 1})
	t.logs.Enqueue(&logcollector.Event{Timestamp: time.Now(), Topic: t.name, ConsumerID: consumerID, MessageID: id, Kind: "consumed"})

	t.ackMgr.AddPending(consumerID, id)
	if autoAck {
		t.Ack(consumerID, &id)
	}
	return payload, meta, nil
}

// Ack acknowledges id (or, if id is nil, every pending delivery for
// consumerID), returning the ids that were actually released. A duplicate
// ack is a silent no-op (spec.md §7).
func (t *Topic) Ack(consumerID uint64, id *uint64) []uint64 {
	_, span := tracing.StartSpan(context.Background(), "broker.ack",
		tracing.AttrTopic.String(t.name), tracing.AttrConsumerID.Int64(int64(consumerID)))
	defer tracing.End(span, nil)

	ids := t.ackMgr.Ack(consumerID, id)
	for _, msgID := range ids {
		t.finalizeAck(consumerID, msgID)
	}
	return ids
}

// Nack releases the same pending state Ack would, then requeues, delays, or
// dead-letters each affected message via onNack.
func (t *Topic) Nack(consumerID uint64, id *uint64, requeue bool) []uint64 {
	return t.ackMgr.Nack(consumerID, id, requeue)
}

func (t *Topic) finalizeAck(consumerID, id uint64) {
	meta, ok := t.storage.ReadMetadata(id)
	if !ok {
		return
	}

	t.metrics.RecordAck(t.name, float64(t.now()-meta.TS))
	t.reg.RecordActivity(consumerID, clients.Activity{PendingMessagesDelta: -1})
	t.logs.Enqueue(&logcollector.Event{Timestamp: time.Now(), Topic: t.name, ConsumerID: consumerID, MessageID: id, Kind: "acked", LatencyMs: t.now() - meta.TS})

	remaining, ok := t.ackMgr.AwaitedRemaining(id)
	if !ok || remaining > 0 {
		return
	}
	consumedAt := t.now()
	_ = t.storage.UpdateMetadata(id, codec.MetadataPatch{ConsumedAt: &consumedAt})
	t.storage.Delete(context.Background(), id)
}

// CreateDlqReader returns consumerID's singleton dead-letter cursor.
func (t *Topic) CreateDlqReader(consumerID uint64) (*dlq.Reader, error) {
	if err := t.requireClientType(consumerID, clients.DLQConsumer); err != nil {
		return nil, err
	}
	return t.dlqMgr.Reader(consumerID), nil
}

// ReplayDlq drains consumerID's cursor, invoking handler with each entry's
// payload and metadata. It stops and returns an error on the first handler
// failure, along with the count successfully replayed before it.
func (t *Topic) ReplayDlq(consumerID uint64, handler func(payload any, meta *message.Metadata) error) (int, error) {
	reader, err := t.CreateDlqReader(consumerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		entry, ok := reader.Next()
		if !ok {
			break
		}
		payload, meta, ok := t.storage.ReadAll(entry.ID)
		if !ok {
			continue
		}
		if err := handler(payload, meta); err != nil {
			return n, brokererr.Wrap(brokererr.Internal, err, "replay handler failed for dlq entry %d", entry.ID)
		}
		n++
	}
	return n, nil
}

// ConsumerOptions configures a newly created consumer.
type ConsumerOptions struct {
	RoutingKey string
}

// CreateProducer registers a new producer client and returns its handle.
func (t *Topic) CreateProducer() *Producer {
	id := t.clientIDs.Next()
	t.reg.Register(id, clients.Producer)
	return &Producer{topic: t, ID: id}
}

// CreateConsumer registers a new consumer client, subscribing it to the
// routing strategy and giving it a queue, and returns its handle.
func (t *Topic) CreateConsumer(opts ConsumerOptions) *Consumer {
	id := t.clientIDs.Next()
	t.reg.Register(id, clients.Consumer)
	t.queues.RegisterConsumer(id)
	t.strategy.RegisterConsumer(id, opts.RoutingKey)
	return &Consumer{topic: t, ID: id}
}

// CreateDLQConsumer registers a new dead-letter consumer client and returns
// its handle.
func (t *Topic) CreateDLQConsumer() *DLQConsumer {
	id := t.clientIDs.Next()
	t.reg.Register(id, clients.DLQConsumer)
	return &DLQConsumer{topic: t, ID: id}
}

// DeleteClient unregisters id, releasing any queue, routing binding, or DLQ
// cursor it held.
func (t *Topic) DeleteClient(id uint64) {
	c, ok := t.reg.Get(id)
	if !ok {
		return
	}
	switch c.Type {
	case clients.Consumer:
		t.queues.UnregisterConsumer(id)
		t.strategy.UnregisterConsumer(id)
	case clients.DLQConsumer:
		t.dlqMgr.CloseReader(id)
	}
	t.reg.Deregister(id)
}

// RecordClientActivity applies a partial activity update to id.
func (t *Topic) RecordClientActivity(id uint64, a clients.Activity) {
	t.reg.RecordActivity(id, a)
}

// GetMetadata returns id's current delivery metadata, if still present.
func (t *Topic) GetMetadata(id uint64) (*message.Metadata, bool) {
	return t.storage.ReadMetadata(id)
}
