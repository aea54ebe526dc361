package storage

import (
	"context"
	"testing"
	"time"

	"github.com/blacknred/mbroker/internal/codec"
	"github.com/blacknred/mbroker/internal/message"
)

func newTestStorage(t *testing.T) (*MessageStorage, *MemStore) {
	t.Helper()
	mem := NewMemStore()
	s := New("orders", mem, codec.New(), Config{PersistThreshold: 20 * time.Millisecond, ChunkSize: 4, Persist: true})
	return s, mem
}

func TestWriteAllThenReadAll(t *testing.T) {
	s, _ := newTestStorage(t)
	meta := &message.Metadata{ID: 1, TS: 1, ProducerID: 1, Topic: "orders", Attempts: 1}

	count, err := s.WriteAll(map[string]any{"a": 1}, meta)
	if err != nil {
		t.Fatalf("writeAll: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count=1, got %d", count)
	}

	payload, gotMeta, ok := s.ReadAll(1)
	if !ok {
		t.Fatal("expected entry present")
	}
	if gotMeta.ID != 1 || gotMeta.Topic != "orders" {
		t.Fatalf("unexpected meta: %+v", gotMeta)
	}
	if payload == nil {
		t.Fatal("expected non-nil payload")
	}
}

func TestUpdateMetadataIsAtomicPerID(t *testing.T) {
	s, _ := newTestStorage(t)
	meta := &message.Metadata{ID: 5, TS: 1, ProducerID: 1, Topic: "orders", Attempts: 1}
	if _, err := s.WriteAll([]byte("x"), meta); err != nil {
		t.Fatalf("writeAll: %v", err)
	}

	newAttempts := uint32(2)
	if err := s.UpdateMetadata(5, codec.MetadataPatch{Attempts: &newAttempts}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok := s.ReadMetadata(5)
	if !ok {
		t.Fatal("expected entry present")
	}
	if got.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", got.Attempts)
	}
}

func TestFlushDrainsToPersistentStoreAndReschedules(t *testing.T) {
	s, mem := newTestStorage(t)
	for i := uint64(1); i <= 10; i++ {
		meta := &message.Metadata{ID: i, TS: 1, ProducerID: 1, Topic: "orders", Attempts: 1}
		if _, err := s.WriteAll([]byte("x"), meta); err != nil {
			t.Fatalf("writeAll %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n := 0
		_ = mem.Range(context.Background(), "orders/meta/", func(string, []byte) bool {
			n++
			return true
		})
		if n == 10 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected all 10 entries eventually flushed via chunked, rescheduled flush")
}

func TestDeleteRemovesFromBufferAndStore(t *testing.T) {
	s, mem := newTestStorage(t)
	meta := &message.Metadata{ID: 1, TS: 1, ProducerID: 1, Topic: "orders", Attempts: 1}
	if _, err := s.WriteAll([]byte("x"), meta); err != nil {
		t.Fatalf("writeAll: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	s.Delete(context.Background(), 1)
	if _, _, ok := s.ReadAll(1); ok {
		t.Fatal("expected entry removed from buffer")
	}
	v, _ := mem.Get(context.Background(), MessageKey("orders", 1))
	if v != nil {
		t.Fatal("expected entry removed from persistent store")
	}
}

func TestForEachBufferedIteratesInsertionOrder(t *testing.T) {
	s, _ := newTestStorage(t)
	for i := uint64(1); i <= 3; i++ {
		meta := &message.Metadata{ID: i, TS: int64(i), ProducerID: 1, Topic: "orders", Attempts: 1}
		if _, err := s.WriteAll([]byte("x"), meta); err != nil {
			t.Fatalf("writeAll %d: %v", i, err)
		}
	}
	var seen []uint64
	s.ForEachBuffered(func(id uint64, _ *message.Metadata) bool {
		seen = append(seen, id)
		return true
	})
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("expected insertion order [1 2 3], got %v", seen)
	}
}
