package queue

import (
	"context"
	"strconv"
	"sync"

	"github.com/blacknred/mbroker/internal/brokererr"
)

// Manager is QueueManager (spec.md §4.5): one bounded PriorityQueue per
// registered consumer, with push notification so a blocked Wait wakes
// immediately instead of polling.
type Manager struct {
	topic    string
	capacity int
	notifier Notifier

	mu     sync.RWMutex
	queues map[uint64]*PriorityQueue
}

// NewManager builds a Manager for topic. Each consumer's queue is bounded at
// perConsumerCapacity (non-positive means unbounded).
func NewManager(topic string, perConsumerCapacity int, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = NewChannelNotifier()
	}
	return &Manager{
		topic:    topic,
		capacity: perConsumerCapacity,
		notifier: notifier,
		queues:   make(map[uint64]*PriorityQueue),
	}
}

func (m *Manager) key(consumerID uint64) ConsumerKey {
	return ConsumerKey(m.topic + ":" + strconv.FormatUint(consumerID, 10))
}

// RegisterConsumer creates an empty queue for consumerID if one doesn't
// already exist.
func (m *Manager) RegisterConsumer(consumerID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[consumerID]; !ok {
		m.queues[consumerID] = NewPriorityQueue(m.capacity)
	}
}

// UnregisterConsumer drops consumerID's queue entirely, discarding any
// undelivered ids.
func (m *Manager) UnregisterConsumer(consumerID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, consumerID)
}

// Enqueue pushes a message id onto consumerID's queue and wakes any blocked
// Wait.
func (m *Manager) Enqueue(ctx context.Context, consumerID, messageID uint64, priority uint8) error {
	m.mu.RLock()
	q, ok := m.queues[consumerID]
	m.mu.RUnlock()
	if !ok {
		return brokererr.New(brokererr.NotFound, "consumer %d not registered", consumerID)
	}
	if err := q.Push(messageID, priority); err != nil {
		return err
	}
	return m.notifier.Notify(ctx, m.key(consumerID))
}

// Dequeue pops the next ready message id for consumerID without blocking.
// ok is false if the queue is empty or unregistered.
func (m *Manager) Dequeue(consumerID uint64) (messageID uint64, ok bool) {
	m.mu.RLock()
	q, exists := m.queues[consumerID]
	m.mu.RUnlock()
	if !exists {
		return 0, false
	}
	return q.Pop()
}

// Wait blocks until a message is available for consumerID or ctx is done,
// then dequeues and returns it.
func (m *Manager) Wait(ctx context.Context, consumerID uint64) (messageID uint64, err error) {
	for {
		if id, ok := m.Dequeue(consumerID); ok {
			return id, nil
		}
		ch := m.notifier.Subscribe(ctx, m.key(consumerID))
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case _, open := <-ch:
			if !open {
				return 0, ctx.Err()
			}
		}
	}
}

// Remove drops messageID from consumerID's queue, e.g. once it's expired
// before being dequeued.
func (m *Manager) Remove(consumerID, messageID uint64) bool {
	m.mu.RLock()
	q, ok := m.queues[consumerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return q.Remove(messageID)
}

// Depth returns consumerID's current queue length.
func (m *Manager) Depth(consumerID uint64) int {
	m.mu.RLock()
	q, ok := m.queues[consumerID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.Len()
}

// Close releases the underlying notifier.
func (m *Manager) Close() error {
	return m.notifier.Close()
}
