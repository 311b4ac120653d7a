package limiter

import (
	"testing"
	"time"
)

func TestTokenBucketDrainsAndRefills(t *testing.T) {
	b := NewTokenBucket(3, 50*time.Millisecond)

	for i := range 3 {
		if !b.allowAt(time.Now()) {
			t.Fatalf("token %d refused from a full bucket", i)
		}
	}
	now := time.Now()
	if b.allowAt(now) {
		t.Fatal("empty bucket admitted a call")
	}

	// One refill interval restores one token.
	later := now.Add(60 * time.Millisecond)
	if !b.allowAt(later) {
		t.Fatal("refilled bucket refused a call")
	}
	if b.allowAt(later) {
		t.Fatal("bucket admitted more than the refilled token")
	}
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	b := NewTokenBucket(2, 10*time.Millisecond)
	b.allowAt(time.Now())
	b.allowAt(time.Now())

	// A long idle period must not accumulate beyond capacity.
	later := time.Now().Add(time.Hour)
	if !b.allowAt(later) || !b.allowAt(later) {
		t.Fatal("refilled bucket refused calls")
	}
	if b.allowAt(later) {
		t.Fatal("bucket exceeded capacity after long idle")
	}
}

func TestCallWindow(t *testing.T) {
	w := &CallWindow{Max: 2, Window: time.Minute}
	now := time.Now()

	if !w.Allow(now) || !w.Allow(now) {
		t.Fatal("window refused calls under the budget")
	}
	if w.Allow(now.Add(time.Second)) {
		t.Fatal("window admitted a call over the budget")
	}
	if !w.Allow(now.Add(time.Minute)) {
		t.Fatal("window refused a call after rolling over")
	}
}

func TestCallWindow_ZeroMaxIsUnlimited(t *testing.T) {
	w := &CallWindow{}
	for range 100 {
		if !w.Allow(time.Now()) {
			t.Fatal("unlimited window refused a call")
		}
	}
}

func TestInflight(t *testing.T) {
	g := NewInflight(2)

	if !g.TryAcquire() || !g.TryAcquire() {
		t.Fatal("limiter refused slots under the cap")
	}
	if g.TryAcquire() {
		t.Fatal("limiter admitted a slot over the cap")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Fatal("limiter refused a released slot")
	}
	if got := g.Current(); got != 2 {
		t.Errorf("Current() = %d, want 2", got)
	}
}

func TestInflight_Unlimited(t *testing.T) {
	g := NewInflight(0)
	for range 100 {
		if !g.TryAcquire() {
			t.Fatal("unlimited limiter refused a slot")
		}
	}
}
