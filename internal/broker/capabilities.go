package broker

import (
	"github.com/blacknred/mbroker/internal/clients"
	"github.com/blacknred/mbroker/internal/dlq"
	"github.com/blacknred/mbroker/internal/message"
)

// Producer, Consumer, and DLQConsumer are capability-scoped handles over a
// single registered client id: each exposes only the operations its role is
// permitted, per spec.md §9's "polymorphism over interfaces" design note.
// Rather than a single Topic method set gated by runtime type checks, a
// caller's capability set IS its handle's method set.

// Producer publishes messages under one registered producer id.
type Producer struct {
	topic *Topic
	ID    uint64
}

// Publish publishes one message under this producer's id.
func (p *Producer) Publish(payload any, opts PublishOptions) (uint64, error) {
	return p.topic.Publish(p.ID, payload, opts)
}

// PublishBatch publishes a batch of messages under one shared batch id.
func (p *Producer) PublishBatch(payloads []any, opts []PublishOptions) []PublishResult {
	return p.topic.PublishBatch(p.ID, payloads, opts)
}

// Close unregisters the producer.
func (p *Producer) Close() { p.topic.DeleteClient(p.ID) }

// Consumer consumes and acks/nacks messages under one registered consumer id.
type Consumer struct {
	topic *Topic
	ID    uint64
}

// Consume dequeues and reads the next message routed to this consumer.
func (c *Consumer) Consume(autoAck bool) (any, *message.Metadata, error) {
	return c.topic.Consume(c.ID, autoAck)
}

// Ack acknowledges id, or every pending delivery if id is nil.
func (c *Consumer) Ack(id *uint64) []uint64 { return c.topic.Ack(c.ID, id) }

// Nack negatively acknowledges id (or every pending delivery if id is nil),
// requeuing it when requeue is true.
func (c *Consumer) Nack(id *uint64, requeue bool) []uint64 { return c.topic.Nack(c.ID, id, requeue) }

// RecordActivity applies a partial activity update for this consumer.
func (c *Consumer) RecordActivity(a clients.Activity) { c.topic.RecordClientActivity(c.ID, a) }

// Close unregisters the consumer, dropping its queue and routing binding.
func (c *Consumer) Close() { c.topic.DeleteClient(c.ID) }

// DLQConsumer reads and replays dead-lettered messages under one registered
// dlq-consumer id.
type DLQConsumer struct {
	topic *Topic
	ID    uint64
}

// Reader returns this consumer's singleton dead-letter cursor.
func (d *DLQConsumer) Reader() (*dlq.Reader, error) { return d.topic.CreateDlqReader(d.ID) }

// Replay drains this consumer's cursor through handler.
func (d *DLQConsumer) Replay(handler func(payload any, meta *message.Metadata) error) (int, error) {
	return d.topic.ReplayDlq(d.ID, handler)
}

// Close unregisters the dlq-consumer, releasing its cursor.
func (d *DLQConsumer) Close() { d.topic.DeleteClient(d.ID) }
