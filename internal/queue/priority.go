package queue

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/blacknred/mbroker/internal/brokererr"
)

// item is one queued message id, grounded on the pack's delay.Item
// (datastructures/queue/delay/delay.go): same container/heap Index
// bookkeeping, but ordered by priority (high first) with insertion sequence
// as the FIFO tie-break within a priority class, instead of by ready time.
type item struct {
	id       uint64
	priority uint8
	seq      uint64
	index    int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	it.index = -1
	*h = old[:n-1]
	return it
}

// PriorityQueue is a bounded, per-consumer queue of message ids: a binary
// heap ordered by priority (high first), FIFO within a priority class
// (spec.md §4.5).
type PriorityQueue struct {
	mu       sync.Mutex
	h        itemHeap
	capacity int
	seq      atomic.Uint64
}

// NewPriorityQueue builds an empty queue bounded at capacity entries. A
// non-positive capacity means unbounded.
func NewPriorityQueue(capacity int) *PriorityQueue {
	return &PriorityQueue{capacity: capacity}
}

// Push inserts id at the given priority. Returns brokererr.InvalidArgument
// (full, not storage-failure: a bounded queue rejecting work is an
// admission-control decision, not a backing-store error) if the queue is at
// capacity.
func (q *PriorityQueue) Push(id uint64, priority uint8) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.h) >= q.capacity {
		return brokererr.New(brokererr.InvalidArgument, "consumer queue at capacity (%d)", q.capacity)
	}
	heap.Push(&q.h, &item{id: id, priority: priority, seq: q.seq.Add(1)})
	return nil
}

// Pop removes and returns the highest-priority, earliest-inserted id. ok is
// false if the queue is empty.
func (q *PriorityQueue) Pop() (id uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return 0, false
	}
	it := heap.Pop(&q.h).(*item)
	return it.id, true
}

// Peek returns the next id to be popped without removing it.
func (q *PriorityQueue) Peek() (id uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].id, true
}

// Remove drops id from the queue wherever it sits, used when a message is
// acked or expired before it was dequeued.
func (q *PriorityQueue) Remove(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.h {
		if it.id == id {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

// Len returns the current queue depth.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
