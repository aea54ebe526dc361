package delayed

import (
	"sync"
	"testing"
	"time"
)

func TestManagerReleasesOnTimer(t *testing.T) {
	var mu sync.Mutex
	var released []uint64

	m := NewManager(func(id uint64) {
		mu.Lock()
		released = append(released, id)
		mu.Unlock()
	}, nil)
	defer m.Close()

	m.Add(1, time.Now().Add(30*time.Millisecond).UnixMilli())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(released)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected release to fire")
}

func TestManagerReleasesPastDueImmediately(t *testing.T) {
	released := make(chan uint64, 1)
	m := NewManager(func(id uint64) { released <- id }, nil)
	defer m.Close()

	m.Add(7, time.Now().Add(-time.Second).UnixMilli())

	select {
	case id := <-released:
		if id != 7 {
			t.Fatalf("expected id=7, got %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate release for past-due entry")
	}
}

func TestManagerRemoveCancelsPendingRelease(t *testing.T) {
	released := make(chan uint64, 1)
	m := NewManager(func(id uint64) { released <- id }, nil)
	defer m.Close()

	m.Add(1, time.Now().Add(100*time.Millisecond).UnixMilli())
	if !m.Remove(1) {
		t.Fatal("expected remove to succeed")
	}

	select {
	case id := <-released:
		t.Fatalf("expected no release, got id=%d", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestManagerOrdersMultipleEntriesByReadyTime(t *testing.T) {
	var mu sync.Mutex
	var order []uint64

	fakeNow := int64(1000)
	var nowMu sync.Mutex
	now := func() int64 {
		nowMu.Lock()
		defer nowMu.Unlock()
		return fakeNow
	}

	done := make(chan struct{}, 2)
	m := NewManager(func(id uint64) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		done <- struct{}{}
	}, now)
	defer m.Close()

	m.Add(2, 1100)
	m.Add(1, 1050)

	nowMu.Lock()
	fakeNow = 1200
	nowMu.Unlock()
	m.fire()

	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected release order [1 2], got %v", order)
	}
}
