// Package delayed implements DelayedQueueManager (spec.md §4.6): messages
// with a pending TTD sit in a single time-ordered heap behind a single
// deferred timer, instead of one goroutine-per-message sleep.
//
// Grounded on the pack's delay.Queue (datastructures/queue/delay/delay.go):
// same container/heap-by-ready-time structure, but the deferred wakeup
// callback drives a caller-supplied release function directly rather than
// blocking a Dequeue call, since the topic's single execution loop (spec.md
// §5) must never be blocked waiting on a timer.
package delayed

import (
	"container/heap"
	"sync"
	"time"
)

type entry struct {
	id      uint64
	readyAt int64 // epoch millis
	index   int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].readyAt < h[j].readyAt }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	e.index = -1
	*h = old[:n-1]
	return e
}

// Release is called once per message whose readyAt instant has passed.
type Release func(id uint64)

// Manager holds delayed message ids until their TTD elapses, then invokes
// Release exactly once per id via a single background timer (spec.md §9
// "Deferred scheduling").
type Manager struct {
	mu      sync.Mutex
	h       entryHeap
	byID    map[uint64]*entry
	timer   *time.Timer
	now     func() int64
	release Release
	closed  bool
}

// NewManager builds an empty Manager. nowFn defaults to the wall clock in
// epoch millis; tests may override it to control timing deterministically.
func NewManager(release Release, nowFn func() int64) *Manager {
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().UnixMilli() }
	}
	return &Manager{
		byID:    make(map[uint64]*entry),
		now:     nowFn,
		release: release,
	}
}

// Add schedules id for release at readyAt (epoch millis). If readyAt has
// already passed, Release is invoked synchronously.
func (m *Manager) Add(id uint64, readyAt int64) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if readyAt <= m.now() {
		m.mu.Unlock()
		m.release(id)
		return
	}
	e := &entry{id: id, readyAt: readyAt}
	heap.Push(&m.h, e)
	m.byID[id] = e
	m.rearm()
	m.mu.Unlock()
}

// Remove cancels a pending release, e.g. when the message is deleted or
// acked before its TTD elapses.
func (m *Manager) Remove(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&m.h, e.index)
	delete(m.byID, id)
	m.rearm()
	return true
}

// Len returns the number of pending entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.h)
}

// Close stops the background timer. Pending entries are left untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

// rearm must be called with mu held: it (re)schedules the single timer to
// fire at the current head's readyAt, or stops it if the heap is empty.
func (m *Manager) rearm() {
	if m.timer != nil {
		m.timer.Stop()
	}
	if len(m.h) == 0 || m.closed {
		return
	}
	delay := time.Duration(m.h[0].readyAt-m.now()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	m.timer = time.AfterFunc(delay, m.fire)
}

// fire releases every entry whose readyAt has passed, then rearms for the
// new head.
func (m *Manager) fire() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	nowMs := m.now()
	var due []uint64
	for len(m.h) > 0 && m.h[0].readyAt <= nowMs {
		e := heap.Pop(&m.h).(*entry)
		delete(m.byID, e.id)
		due = append(due, e.id)
	}
	m.rearm()
	m.mu.Unlock()

	for _, id := range due {
		m.release(id)
	}
}
