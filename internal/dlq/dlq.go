// Package dlq implements DLQManager (spec.md §4.7): tracks why each message
// landed in the dead-letter set and lets a consumer lazily page through DLQ
// entries for replay or inspection, one cursor per consumer.
//
// Grounded on the teacher's snapshot-then-iterate style seen in
// cache.InMemoryCache's ordered eviction scan: entries are appended to an
// order slice as they arrive and a Reader walks that slice by index rather
// than copying it, so draining a large DLQ doesn't require materializing it
// all at once ("lazy sequences", spec.md §9).
package dlq

import "sync"

// Entry is one dead-lettered message.
type Entry struct {
	ID     uint64
	Reason string
}

// Manager tracks dead-lettered message ids and their reasons, and vends
// lazy, per-consumer Readers over them.
type Manager struct {
	mu      sync.RWMutex
	reasons map[uint64]string
	order   []uint64
	readers map[uint64]*Reader // consumer id -> its singleton cursor
}

// NewManager builds an empty DLQManager.
func NewManager() *Manager {
	return &Manager{
		reasons: make(map[uint64]string),
		readers: make(map[uint64]*Reader),
	}
}

// Add records id as dead-lettered for reason. A second Add for the same id
// overwrites the reason but does not duplicate its position in replay order.
func (m *Manager) Add(id uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reasons[id]; !exists {
		m.order = append(m.order, id)
	}
	m.reasons[id] = reason
}

// Reason returns the recorded reason for id, if present.
func (m *Manager) Reason(id uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reasons[id]
	return r, ok
}

// Remove drops id from the DLQ, e.g. once it has been replayed and acked.
func (m *Manager) Remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reasons, id)
}

// Count returns the number of currently tracked DLQ entries (remove is
// lazy with respect to the order slice, so this counts live reasons, not
// len(order)).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reasons)
}

// Reader replays a consumer's creation of a DLQManager: it walks the order
// slice from its last position, skipping ids that were removed since being
// recorded.
func (m *Manager) Reader(consumerID uint64) *Reader {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.readers[consumerID]; ok {
		return r
	}
	r := &Reader{m: m}
	m.readers[consumerID] = r
	return r
}

// CloseReader releases a consumer's cursor, e.g. on client deregistration.
func (m *Manager) CloseReader(consumerID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.readers, consumerID)
}

// Reader is a singleton, per-consumer cursor over a Manager's replay order.
type Reader struct {
	m   *Manager
	pos int
}

// Next returns the next live DLQ entry after the cursor's current position,
// advancing the cursor past it. ok is false once the cursor reaches the end
// of what has been recorded so far; a later Add call makes more available.
func (r *Reader) Next() (Entry, bool) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for r.pos < len(r.m.order) {
		id := r.m.order[r.pos]
		r.pos++
		if reason, ok := r.m.reasons[id]; ok {
			return Entry{ID: id, Reason: reason}, true
		}
	}
	return Entry{}, false
}

// Reset rewinds the cursor to the beginning, e.g. to replay the DLQ again
// from a consumer's explicit request.
func (r *Reader) Reset() {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.pos = 0
}
