package routing

import "testing"

func noActive() []uint64 { return nil }

func activeOf(ids ...uint64) func() []uint64 {
	return func() []uint64 { return ids }
}

func TestDecideNoConsumersIsDLQ(t *testing.T) {
	s := NewStrategy(8)
	r := NewRouter(s)

	d := r.Decide("", "orders", noActive)
	if d.DLQReason != reasonNoConsumers {
		t.Fatalf("expected no_consumers DLQ, got %+v", d)
	}
}

func TestDecideAllExcludedIsDLQ(t *testing.T) {
	s := NewStrategy(8)
	s.RegisterConsumer(1, "billing")
	s.RegisterConsumer(2, "shipping")
	r := NewRouter(s)

	d := r.Decide("", "orders", activeOf(1, 2))
	if d.DLQReason != reasonNoConsumers {
		t.Fatalf("expected no_consumers DLQ when every consumer is bound elsewhere, got %+v", d)
	}
}

func TestDecideFanOutToActiveNonExcluded(t *testing.T) {
	s := NewStrategy(8)
	s.RegisterConsumer(1, "")        // wildcard
	s.RegisterConsumer(2, "orders")  // binded
	s.RegisterConsumer(3, "billing") // excluded for "orders"
	r := NewRouter(s)

	d := r.Decide("", "orders", activeOf(1, 2, 3))
	if d.DLQReason != "" {
		t.Fatalf("unexpected DLQ: %v", d.DLQReason)
	}
	got := toSet(d.Targets)
	if len(got) != 2 || !got[1] || !got[2] {
		t.Fatalf("expected fan-out to {1,2}, got %v", d.Targets)
	}
}

func TestDecideFanOutExcludesInactiveConsumers(t *testing.T) {
	s := NewStrategy(8)
	s.RegisterConsumer(1, "")
	s.RegisterConsumer(2, "")
	r := NewRouter(s)

	// consumer 2 never reported active
	d := r.Decide("", "orders", activeOf(1))
	if len(d.Targets) != 1 || d.Targets[0] != 1 {
		t.Fatalf("expected only active consumer 1, got %+v", d)
	}
}

func TestDecideCorrelatedPrefersBindedConsumer(t *testing.T) {
	s := NewStrategy(8)
	s.RegisterConsumer(1, "billing")
	s.RegisterConsumer(2, "orders")
	r := NewRouter(s)

	d := r.Decide("corr-1", "orders", noActive)
	if d.DLQReason != "" {
		t.Fatalf("unexpected DLQ: %v", d.DLQReason)
	}
	if len(d.Targets) != 1 || d.Targets[0] != 2 {
		t.Fatalf("expected binded consumer 2, got %+v", d)
	}
}

func TestDecideCorrelatedFallsBackToNonExcluded(t *testing.T) {
	s := NewStrategy(8)
	s.RegisterConsumer(1, "") // wildcard, no binding for "orders" at all
	r := NewRouter(s)

	d := r.Decide("corr-2", "orders", noActive)
	if d.DLQReason != "" {
		t.Fatalf("unexpected DLQ: %v", d.DLQReason)
	}
	if len(d.Targets) != 1 || d.Targets[0] != 1 {
		t.Fatalf("expected fallback to consumer 1, got %+v", d)
	}
}

func TestDecideCorrelatedIgnoresActiveConsumersFilter(t *testing.T) {
	s := NewStrategy(8)
	s.RegisterConsumer(1, "orders")
	r := NewRouter(s)

	// consumer 1 is binded but never reported active; correlation path must
	// still route to it per spec.md's explicit asymmetry.
	d := r.Decide("corr-3", "orders", noActive)
	if len(d.Targets) != 1 || d.Targets[0] != 1 {
		t.Fatalf("expected correlation path to ignore active-consumer filtering, got %+v", d)
	}
}

func TestDecideCorrelatedStickyReuse(t *testing.T) {
	s := NewStrategy(8)
	s.RegisterConsumer(1, "")
	s.RegisterConsumer(2, "")
	r := NewRouter(s)

	first := r.Decide("corr-4", "orders", noActive)
	second := r.Decide("corr-4", "orders", noActive)
	if len(first.Targets) != 1 || len(second.Targets) != 1 || first.Targets[0] != second.Targets[0] {
		t.Fatalf("expected sticky reuse across calls, got %+v then %+v", first, second)
	}
}

func TestDecideCorrelatedDLQWhenEveryWalkedConsumerExcluded(t *testing.T) {
	s := NewStrategy(8)
	s.RegisterConsumer(1, "billing")
	r := NewRouter(s)

	d := r.Decide("corr-5", "orders", noActive)
	if d.DLQReason != reasonNoConsumers {
		t.Fatalf("expected no_consumers DLQ, got %+v", d)
	}
}
