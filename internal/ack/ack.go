// Package ack implements AckManager (spec.md §4.8): the pending-delivery
// table per consumer, the awaited-ack fan-out counter, and the periodic
// ack-timeout sweep that nacks deliveries the consumer never acked.
//
// Grounded on the teacher's asyncqueue.WorkerPool poller: a single ticker
// goroutine periodically scans for due work and hands each item to a
// caller-supplied handler, rather than a goroutine-per-delivery timer. Unlike
// the teacher's poller, the scanned table here is in-memory (pendingMessages),
// not a database lease, so there is no batch-acquire/lease step — the sweep
// just walks the map under the manager's own lock.
package ack

import (
	"sync"
	"time"
)

// NackHandler performs everything AckManager itself does not own: loading
// the message's metadata, setting attempts (bumped, or message.AttemptsUnlimited
// when requeue is false), clearing consumedAt, running the pipeline, and
// requeuing/delaying/dead-lettering as the pipeline directs (spec.md §4.8).
// Manager calls it only after releasing its own pending/awaited bookkeeping
// for id, mirroring the release-then-callback split already used by
// delayed.Manager.
type NackHandler func(consumerID, id uint64, requeue bool)

// Config configures a Manager.
type Config struct {
	// AckTimeout is the max interval between consume and ack before the
	// sweep server-nacks a pending delivery with requeue=true.
	AckTimeout time.Duration
	// SweepInterval overrides the sweep period. Defaults to
	// max(1s, AckTimeout/2) per spec.md §4.8.
	SweepInterval time.Duration
	// Now returns the current instant in epoch millis. Defaults to the wall
	// clock; tests may override it.
	Now func() int64
}

// Manager tracks in-flight, not-yet-acked deliveries and their awaited-ack
// fan-out counts, and periodically server-nacks deliveries that time out.
type Manager struct {
	mu      sync.Mutex
	pending map[uint64]map[uint64]int64 // consumerID -> messageID -> consumedAt(ms)
	awaited map[uint64]int32            // messageID -> remaining acks

	ackTimeoutMs  int64
	sweepInterval time.Duration
	now           func() int64
	onNack        NackHandler

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager builds a Manager. onNack is required; it is invoked for every
// id released by Nack or a timeout sweep. Ack never invokes it.
func NewManager(cfg Config, onNack NackHandler) *Manager {
	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = cfg.AckTimeout / 2
		if interval < time.Second {
			interval = time.Second
		}
	}
	return &Manager{
		pending:       make(map[uint64]map[uint64]int64),
		awaited:       make(map[uint64]int32),
		ackTimeoutMs:  cfg.AckTimeout.Milliseconds(),
		sweepInterval: interval,
		now:           now,
		onNack:        onNack,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background timeout sweep. Safe to call at most once.
func (m *Manager) Start() {
	if m.ackTimeoutMs <= 0 {
		return
	}
	m.ticker = time.NewTicker(m.sweepInterval)
	m.wg.Add(1)
	go m.sweepLoop()
}

// Close stops the background sweep and waits for it to exit.
func (m *Manager) Close() {
	if m.ticker == nil {
		return
	}
	close(m.stopCh)
	m.ticker.Stop()
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.ticker.C:
			m.sweep()
		}
	}
}

// sweep nacks (requeue=true) every pending delivery whose consumedAt is more
// than ackTimeoutMs in the past. The expired list is collected under the
// lock, then handlers are invoked outside it, so a slow handler never stalls
// new AddPending/Ack calls.
func (m *Manager) sweep() {
	type due struct {
		consumerID, id uint64
	}
	nowMs := m.now()

	m.mu.Lock()
	var expired []due
	for consumerID, byID := range m.pending {
		for id, consumedAt := range byID {
			if nowMs-consumedAt > m.ackTimeoutMs {
				expired = append(expired, due{consumerID, id})
			}
		}
	}
	m.mu.Unlock()

	for _, d := range expired {
		m.Nack(d.consumerID, &d.id, true)
	}
}

// AddPending records a non-auto-ack delivery of id to consumerID at the
// current instant.
func (m *Manager) AddPending(consumerID, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.pending[consumerID]
	if !ok {
		byID = make(map[uint64]int64)
		m.pending[consumerID] = byID
	}
	byID[id] = m.now()
}

// SetAwaitedAcks records that id needs n acks before it is fully consumed.
func (m *Manager) SetAwaitedAcks(id uint64, n int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.awaited[id] = n
}

// AwaitedRemaining returns the outstanding ack count for id.
func (m *Manager) AwaitedRemaining(id uint64) (int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.awaited[id]
	return n, ok
}

// release drops the pending entry for (consumerID, id), if any, and
// decrements its awaited count, floored at zero. It reports whether a
// pending entry existed, i.e. whether this call is not a duplicate ack.
func (m *Manager) release(consumerID, id uint64) bool {
	byID, ok := m.pending[consumerID]
	if !ok {
		return false
	}
	if _, ok := byID[id]; !ok {
		return false
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(m.pending, consumerID)
	}
	if n, ok := m.awaited[id]; ok {
		n--
		if n < 0 {
			n = 0
		}
		m.awaited[id] = n
	}
	return true
}

// Ack releases the pending delivery of id to consumerID, or every pending
// delivery of consumerID if id is nil, and returns the affected message ids.
// A duplicate ack (no matching pending entry) is an idempotent no-op, per
// spec.md §10 "Ack idempotence".
func (m *Manager) Ack(consumerID uint64, id *uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != nil {
		if m.release(consumerID, *id) {
			return []uint64{*id}
		}
		return nil
	}

	byID := m.pending[consumerID]
	ids := make([]uint64, 0, len(byID))
	for msgID := range byID {
		ids = append(ids, msgID)
	}
	for _, msgID := range ids {
		m.release(consumerID, msgID)
	}
	return ids
}

// Nack releases the same pending state Ack would, then invokes onNack for
// each affected id with the given requeue directive. onNack is responsible
// for bumping attempts, running the pipeline, and requeuing/DLQing, per
// spec.md §4.8's "nacks reuse the ack path" rationale.
func (m *Manager) Nack(consumerID uint64, id *uint64, requeue bool) []uint64 {
	ids := m.Ack(consumerID, id)
	for _, msgID := range ids {
		m.onNack(consumerID, msgID, requeue)
	}
	return ids
}

// PendingCount returns the number of in-flight deliveries for consumerID.
func (m *Manager) PendingCount(consumerID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[consumerID])
}
