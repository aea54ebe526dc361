package logcollector

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]*Event
	closed  bool
}

func (f *fakeSink) Save(_ context.Context, evt *Event) error {
	return f.SaveBatch(nil, []*Event{evt})
}

func (f *fakeSink) SaveBatch(_ context.Context, evts []*Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]*Event(nil), evts...)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestCollectorFlushesOnBatchSize(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(sink, Config{BatchSize: 2, FlushInterval: time.Hour})

	c.Enqueue(&Event{Topic: "orders", Kind: "published"})
	c.Enqueue(&Event{Topic: "orders", Kind: "published"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.total() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sink.total() != 2 {
		t.Fatalf("expected batch flushed at size 2, got %d", sink.total())
	}
	c.Shutdown(time.Second)
}

func TestCollectorFlushesOnTicker(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(sink, Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond})

	c.Enqueue(&Event{Topic: "orders", Kind: "published"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.total() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sink.total() != 1 {
		t.Fatal("expected ticker-driven flush")
	}
	c.Shutdown(time.Second)
}

func TestShutdownFlushesRemainderAndClosesSink(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(sink, Config{BatchSize: 100, FlushInterval: time.Hour})

	c.Enqueue(&Event{Topic: "orders", Kind: "published"})
	c.Shutdown(time.Second)

	if sink.total() != 1 {
		t.Fatalf("expected remainder flushed on shutdown, got %d", sink.total())
	}
	if !sink.closed {
		t.Fatal("expected sink closed on shutdown")
	}
}
