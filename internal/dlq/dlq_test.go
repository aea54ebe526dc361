package dlq

import "testing"

func TestAddAndReason(t *testing.T) {
	m := NewManager()
	m.Add(1, "ttl expired")
	reason, ok := m.Reason(1)
	if !ok || reason != "ttl expired" {
		t.Fatalf("expected reason, got %q ok=%v", reason, ok)
	}
}

func TestReaderWalksInInsertionOrder(t *testing.T) {
	m := NewManager()
	m.Add(1, "a")
	m.Add(2, "b")
	m.Add(3, "c")

	r := m.Reader(100)
	for _, want := range []uint64{1, 2, 3} {
		e, ok := r.Next()
		if !ok || e.ID != want {
			t.Fatalf("expected id=%d, got %+v ok=%v", want, e, ok)
		}
	}
	if _, ok := r.Next(); ok {
		t.Fatal("expected reader exhausted")
	}
}

func TestReaderIsSingletonPerConsumer(t *testing.T) {
	m := NewManager()
	m.Add(1, "a")

	r1 := m.Reader(1)
	r1.Next()
	r2 := m.Reader(1)
	if r1 != r2 {
		t.Fatal("expected same reader instance for same consumer id")
	}
	if _, ok := r2.Next(); ok {
		t.Fatal("expected cursor position shared across Reader() calls")
	}
}

func TestReaderSkipsRemovedEntries(t *testing.T) {
	m := NewManager()
	m.Add(1, "a")
	m.Add(2, "b")
	m.Remove(1)

	r := m.Reader(1)
	e, ok := r.Next()
	if !ok || e.ID != 2 {
		t.Fatalf("expected removed entry skipped, got %+v ok=%v", e, ok)
	}
}

func TestReaderResetRewinds(t *testing.T) {
	m := NewManager()
	m.Add(1, "a")
	r := m.Reader(1)
	r.Next()
	r.Reset()
	e, ok := r.Next()
	if !ok || e.ID != 1 {
		t.Fatalf("expected replay from start after reset, got %+v ok=%v", e, ok)
	}
}

func TestCountReflectsLiveEntries(t *testing.T) {
	m := NewManager()
	m.Add(1, "a")
	m.Add(2, "b")
	m.Remove(1)
	if c := m.Count(); c != 1 {
		t.Fatalf("expected count=1, got %d", c)
	}
}
