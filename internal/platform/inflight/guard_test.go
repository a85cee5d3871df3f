package inflight

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testKey(target string) Key {
	return Key{
		Operation: "orders.create",
		TenantID:  "workshop-1",
		TargetID:  target,
		SessionID: "session-1",
	}
}

func TestGuardAcquireRejectsDuplicate(t *testing.T) {
	guard := NewGuard()

	key := testKey("client-1|vehicle-1")
	if err := guard.Acquire(key); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := guard.Acquire(key); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}

	guard.Release(key)
	if err := guard.Acquire(key); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestGuardKeysAreScoped(t *testing.T) {
	guard := NewGuard()

	base := testKey("order-1")
	if err := guard.Acquire(base); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	variants := []Key{
		{Operation: "orders.registerPayment", TenantID: base.TenantID, TargetID: base.TargetID, SessionID: base.SessionID},
		{Operation: base.Operation, TenantID: "workshop-2", TargetID: base.TargetID, SessionID: base.SessionID},
		{Operation: base.Operation, TenantID: base.TenantID, TargetID: "order-2", SessionID: base.SessionID},
		{Operation: base.Operation, TenantID: base.TenantID, TargetID: base.TargetID, SessionID: "session-2"},
	}
	for _, key := range variants {
		if err := guard.Acquire(key); err != nil {
			t.Fatalf("expected independent key %s to acquire, got %v", key, err)
		}
	}
}

func TestGuardRejectsIncompleteKeys(t *testing.T) {
	guard := NewGuard()

	keys := []Key{
		{TenantID: "t", TargetID: "x", SessionID: "s"},
		{Operation: "op", TargetID: "x", SessionID: "s"},
		{Operation: "op", TenantID: "t", SessionID: "s"},
		{Operation: "op", TenantID: "t", TargetID: "x"},
	}
	for _, key := range keys {
		if err := guard.Acquire(key); err == nil {
			t.Fatalf("expected validation error for key %+v", key)
		}
	}
}

func TestGuardExpiredHoldIsReclaimed(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(d)
	}

	guard := NewGuard(WithTTL(10*time.Second), WithClock(now))

	key := testKey("order-1")
	if err := guard.Acquire(key); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	advance(5 * time.Second)
	if err := guard.Acquire(key); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected live hold to block, got %v", err)
	}

	advance(6 * time.Second)
	if err := guard.Acquire(key); err != nil {
		t.Fatalf("expected expired hold to be reclaimed, got %v", err)
	}
	if guard.Len() != 1 {
		t.Fatalf("expected one live hold, got %d", guard.Len())
	}
}

func TestGuardConcurrentAcquire(t *testing.T) {
	guard := NewGuard()
	key := testKey("order-1")

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := guard.Acquire(key); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}
