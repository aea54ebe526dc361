package queue

import (
	"context"
	"testing"
	"time"
)

func TestManagerEnqueueDequeue(t *testing.T) {
	m := NewManager("orders", 0, nil)
	defer m.Close()
	m.RegisterConsumer(1)

	if err := m.Enqueue(context.Background(), 1, 100, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id, ok := m.Dequeue(1)
	if !ok || id != 100 {
		t.Fatalf("expected id=100, got %d ok=%v", id, ok)
	}
}

func TestManagerWaitWakesOnEnqueue(t *testing.T) {
	m := NewManager("orders", 0, nil)
	defer m.Close()
	m.RegisterConsumer(1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan uint64, 1)
	go func() {
		id, err := m.Wait(ctx, 1)
		if err == nil {
			done <- id
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := m.Enqueue(context.Background(), 1, 42, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case id := <-done:
		if id != 42 {
			t.Fatalf("expected id=42, got %d", id)
		}
	case <-ctx.Done():
		t.Fatal("Wait did not wake up on enqueue")
	}
}

func TestManagerEnqueueUnregisteredConsumerFails(t *testing.T) {
	m := NewManager("orders", 0, nil)
	defer m.Close()
	if err := m.Enqueue(context.Background(), 99, 1, 0); err == nil {
		t.Fatal("expected error enqueuing to unregistered consumer")
	}
}

func TestManagerUnregisterDropsQueue(t *testing.T) {
	m := NewManager("orders", 0, nil)
	defer m.Close()
	m.RegisterConsumer(1)
	m.Enqueue(context.Background(), 1, 1, 0)
	m.UnregisterConsumer(1)

	if d := m.Depth(1); d != 0 {
		t.Fatalf("expected depth 0 after unregister, got %d", d)
	}
}
