package broker

import (
	"testing"
	"time"

	"github.com/blacknred/mbroker/internal/codec"
	"github.com/blacknred/mbroker/internal/config"
	"github.com/blacknred/mbroker/internal/message"
	"github.com/blacknred/mbroker/internal/storage"
)

func newTestTopic(t *testing.T, cfg config.TopicConfig) *Topic {
	t.Helper()
	topic, err := NewTopic("orders", cfg, storage.NewMemStore(), codec.New(), nil)
	if err != nil {
		t.Fatalf("NewTopic: %v", err)
	}
	t.Cleanup(topic.Close)
	return topic
}

func mustConsume(t *testing.T, c *Consumer) (any, *message.Metadata) {
	t.Helper()
	payload, meta, err := c.Consume(false)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	return payload, meta
}

// S1: a message published with no routing key fans out to every registered
// consumer, and the message is only removed from storage once every fanned-
// out consumer has acked.
func TestFanOutToAllConsumers(t *testing.T) {
	topic := newTestTopic(t, *config.DefaultTopicConfig())
	producer := topic.CreateProducer()
	c1 := topic.CreateConsumer(ConsumerOptions{})
	c2 := topic.CreateConsumer(ConsumerOptions{})

	id, err := producer.Publish("hello", PublishOptions{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	p1, _ := mustConsume(t, c1)
	p2, _ := mustConsume(t, c2)
	if p1 != "hello" || p2 != "hello" {
		t.Fatalf("expected both consumers to receive the payload, got %v / %v", p1, p2)
	}

	c1.Ack(&id)
	if _, ok := topic.GetMetadata(id); !ok {
		t.Fatal("message should still exist after only one of two consumers acked")
	}
	c2.Ack(&id)
	if _, ok := topic.GetMetadata(id); ok {
		t.Fatal("message should be deleted once every fanned-out consumer acked")
	}
}

// S2: a routing-key-bound consumer excludes itself from the wildcard
// fan-out, so a message with no routing key only reaches the unbound
// consumer.
func TestRoutingKeyExcludesBoundConsumer(t *testing.T) {
	topic := newTestTopic(t, *config.DefaultTopicConfig())
	producer := topic.CreateProducer()
	bound := topic.CreateConsumer(ConsumerOptions{RoutingKey: "region.eu"})
	wild := topic.CreateConsumer(ConsumerOptions{})

	id, err := producer.Publish("payload", PublishOptions{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, _, err := bound.Consume(false); err == nil {
		t.Fatal("expected routing-key-bound consumer to be excluded from a wildcard fan-out")
	}
	payload, _ := mustConsume(t, wild)
	if payload != "payload" {
		t.Fatalf("expected unbound consumer to receive the message, got %v", payload)
	}
	wild.Ack(&id)
}

// S3: messages sharing a correlation id stick to whichever consumer first
// received that correlation id, even across several separate publishes.
func TestCorrelationStickiness(t *testing.T) {
	topic := newTestTopic(t, *config.DefaultTopicConfig())
	producer := topic.CreateProducer()
	a := topic.CreateConsumer(ConsumerOptions{})
	b := topic.CreateConsumer(ConsumerOptions{})
	consumers := map[uint64]*Consumer{a.ID: a, b.ID: b}

	const correlationID = "order-42"
	var sticky uint64
	for i := 0; i < 5; i++ {
		if _, err := producer.Publish(i, PublishOptions{CorrelationID: correlationID}); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	for _, c := range consumers {
		for {
			id, meta, err := c.Consume(true)
			if err != nil {
				break
			}
			if meta.CorrelationID != correlationID {
				t.Fatalf("unexpected correlation id %q", meta.CorrelationID)
			}
			if sticky == 0 {
				sticky = c.ID
			} else if sticky != c.ID {
				t.Fatalf("expected every message for %q to land on consumer %d, also landed on %d (payload %v)", correlationID, sticky, c.ID, id)
			}
		}
	}
	if sticky == 0 {
		t.Fatal("expected the correlated messages to land on exactly one consumer")
	}
}

// S4: a message published with a delay-to-deliver offset is withheld from
// routing until that offset elapses.
func TestDelayedMessageBecomesRoutableAfterTTD(t *testing.T) {
	topic := newTestTopic(t, *config.DefaultTopicConfig())
	producer := topic.CreateProducer()
	consumer := topic.CreateConsumer(ConsumerOptions{})

	ttd := int64(80)
	id, err := producer.Publish("later", PublishOptions{TTDMs: &ttd})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, _, err := consumer.Consume(false); err == nil {
		t.Fatal("expected delayed message to not be routable yet")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if payload, _, err := consumer.Consume(false); err == nil {
			if payload != "later" {
				t.Fatalf("expected delayed payload, got %v", payload)
			}
			consumer.Ack(&id)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("delayed message never became routable")
}

// S5: a message published with a time-to-live that has already elapsed by
// the time it's admitted is dead-lettered instead of routed.
func TestExpiredMessageIsDeadLettered(t *testing.T) {
	topic := newTestTopic(t, *config.DefaultTopicConfig())
	producer := topic.CreateProducer()
	consumer := topic.CreateConsumer(ConsumerOptions{})
	dlqConsumer := topic.CreateDLQConsumer()

	ttl := int64(-1000) // already expired relative to publish time
	id, err := producer.Publish("stale", PublishOptions{TTLMs: &ttl})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, _, err := consumer.Consume(false); err == nil {
		t.Fatal("expected expired message to never be routed")
	}

	reader, err := dlqConsumer.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	entry, ok := reader.Next()
	if !ok || entry.ID != id {
		t.Fatalf("expected expired message %d in dlq, got entry=%+v ok=%v", id, entry, ok)
	}
}

// S6: a consumer that nacks without requeuing exhausts attempts immediately,
// and the attempts-exceeded message is dead-lettered on the next admission
// pass rather than re-routed.
func TestNackWithoutRequeueExhaustsAttemptsToDLQ(t *testing.T) {
	cfg := *config.DefaultTopicConfig()
	cfg.MaxDeliveryAttempts = 2
	topic := newTestTopic(t, cfg)
	producer := topic.CreateProducer()
	consumer := topic.CreateConsumer(ConsumerOptions{})
	dlqConsumer := topic.CreateDLQConsumer()

	id, err := producer.Publish("flaky", PublishOptions{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, _, err := consumer.Consume(false); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	consumer.Nack(&id, false)

	reader, err := dlqConsumer.Reader()
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	entry, ok := reader.Next()
	if !ok || entry.ID != id {
		t.Fatalf("expected message %d dead-lettered after nack without requeue, got entry=%+v ok=%v", id, entry, ok)
	}
}

// Duplicate acks are a silent no-op: the second Ack of an already-released
// id returns nothing and does not double-delete the message.
func TestDuplicateAckIsNoop(t *testing.T) {
	topic := newTestTopic(t, *config.DefaultTopicConfig())
	producer := topic.CreateProducer()
	consumer := topic.CreateConsumer(ConsumerOptions{})

	id, err := producer.Publish("once", PublishOptions{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, _, err := consumer.Consume(false); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if ids := consumer.Ack(&id); len(ids) != 1 {
		t.Fatalf("expected first ack to release the message, got %v", ids)
	}
	if ids := consumer.Ack(&id); len(ids) != 0 {
		t.Fatalf("expected duplicate ack to be a no-op, got %v", ids)
	}
}

// Publishing under a client id registered as the wrong type is rejected.
func TestPublishRejectsNonProducerClient(t *testing.T) {
	topic := newTestTopic(t, *config.DefaultTopicConfig())
	consumer := topic.CreateConsumer(ConsumerOptions{})

	if _, err := topic.Publish(consumer.ID, "x", PublishOptions{}); err == nil {
		t.Fatal("expected publish under a consumer id to fail")
	}
}

// PublishBatch assigns every message the same batch id and consecutive batch
// indices, and a validation failure on one payload doesn't prevent the rest
// of the batch from publishing.
func TestPublishBatchSharesBatchIDAndIsolatesFailures(t *testing.T) {
	cfg := *config.DefaultTopicConfig()
	cfg.MaxMessageSize = 4
	topic := newTestTopic(t, cfg)
	producer := topic.CreateProducer()
	consumer := topic.CreateConsumer(ConsumerOptions{})

	results := producer.PublishBatch([]any{"ok", "way too large a payload"}, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != "ok" || results[0].Error != nil {
		t.Fatalf("expected first message to publish, got %+v", results[0])
	}
	if results[1].Status != "error" || results[1].Error == nil {
		t.Fatalf("expected second message to fail validation, got %+v", results[1])
	}

	_, meta, err := consumer.Consume(false)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if meta.BatchSize != 2 || meta.BatchIdx != 0 {
		t.Fatalf("expected batch metadata {size=2 idx=0}, got {size=%d idx=%d}", meta.BatchSize, meta.BatchIdx)
	}
}

// Deleting a consumer releases its routing-key binding, so a subsequent
// message with no routing key can fan out to the next consumer that takes
// its place without colliding with stale state.
func TestDeleteClientReleasesRoutingBinding(t *testing.T) {
	topic := newTestTopic(t, *config.DefaultTopicConfig())
	producer := topic.CreateProducer()
	consumer := topic.CreateConsumer(ConsumerOptions{RoutingKey: "region.eu"})
	consumer.Close()

	if _, ok := topic.reg.Get(consumer.ID); ok {
		t.Fatal("expected consumer to be fully deregistered after Close")
	}

	replacement := topic.CreateConsumer(ConsumerOptions{})
	if _, err := producer.Publish("after-delete", PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, _, err := replacement.Consume(false); err != nil {
		t.Fatalf("expected replacement consumer to receive the message: %v", err)
	}
}
