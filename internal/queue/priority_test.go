package queue

import "testing"

func TestPriorityQueueHighPriorityFirst(t *testing.T) {
	q := NewPriorityQueue(0)
	must(t, q.Push(1, 0))
	must(t, q.Push(2, 10))
	must(t, q.Push(3, 5))

	order := []uint64{2, 3, 1}
	for _, want := range order {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("expected %d, got %d (ok=%v)", want, got, ok)
		}
	}
}

func TestPriorityQueueFIFOWithinPriorityClass(t *testing.T) {
	q := NewPriorityQueue(0)
	must(t, q.Push(1, 5))
	must(t, q.Push(2, 5))
	must(t, q.Push(3, 5))

	for _, want := range []uint64{1, 2, 3} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestPriorityQueueRejectsOverCapacity(t *testing.T) {
	q := NewPriorityQueue(2)
	must(t, q.Push(1, 0))
	must(t, q.Push(2, 0))
	if err := q.Push(3, 0); err == nil {
		t.Fatal("expected error pushing past capacity")
	}
}

func TestPriorityQueueRemove(t *testing.T) {
	q := NewPriorityQueue(0)
	must(t, q.Push(1, 0))
	must(t, q.Push(2, 0))
	if !q.Remove(1) {
		t.Fatal("expected remove to succeed")
	}
	got, ok := q.Pop()
	if !ok || got != 2 {
		t.Fatalf("expected remaining id 2, got %d", got)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected queue empty")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
