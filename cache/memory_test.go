package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	dup, err := m.CheckOrSetInProgress(ctx, "TX-1")
	if dup || err != nil {
		t.Fatalf("first claim: dup=%v err=%v", dup, err)
	}
	dup, err = m.CheckOrSetInProgress(ctx, "TX-1")
	if !dup || !errors.Is(err, ErrInProgress) {
		t.Fatalf("second claim: dup=%v err=%v", dup, err)
	}
	if err := m.SetCompleted(ctx, "TX-1"); err != nil {
		t.Fatal(err)
	}
	dup, err = m.CheckOrSetInProgress(ctx, "TX-1")
	if !dup || err != nil {
		t.Fatalf("completed claim: dup=%v err=%v", dup, err)
	}
	if done, _ := m.CheckCompleted(ctx, "TX-1"); !done {
		t.Fatal("expected completed")
	}
	// release must not drop a completed mark
	_ = m.Release(ctx, "TX-1")
	if done, _ := m.CheckCompleted(ctx, "TX-1"); !done {
		t.Fatal("release dropped a completed mark")
	}
}

func TestMemoryStoreReleaseAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }

	if _, err := m.CheckOrSetInProgress(ctx, "TX-2"); err != nil {
		t.Fatal(err)
	}
	_ = m.Release(ctx, "TX-2")
	if dup, err := m.CheckOrSetInProgress(ctx, "TX-2"); dup || err != nil {
		t.Fatalf("claim after release: dup=%v err=%v", dup, err)
	}

	now = now.Add(InProgressExpiry + time.Second)
	if dup, err := m.CheckOrSetInProgress(ctx, "TX-2"); dup || err != nil {
		t.Fatalf("claim after expiry: dup=%v err=%v", dup, err)
	}
}
