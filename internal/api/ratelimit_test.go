package api

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("burst of 2 was not allowed")
	}
	if rl.Allow("a") {
		t.Fatalf("third request in the same instant was allowed")
	}
	if !rl.Allow("b") {
		t.Fatalf("keys are not independent")
	}

	now = now.Add(30 * time.Second)
	if !rl.Allow("a") {
		t.Fatalf("token was not refilled after 30s")
	}
}

func TestRateLimiterPrune(t *testing.T) {
	rl := NewRateLimiter(10)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(time.Hour)
	rl.Allow("fresh")

	if removed := rl.prune(); removed != 1 {
		t.Fatalf("prune() = %d, want 1", removed)
	}
	if _, ok := rl.limiters["fresh"]; !ok {
		t.Fatalf("fresh key was pruned")
	}
}

func TestRateLimiterEvictionStops(t *testing.T) {
	rl := NewRateLimiter(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := rl.StartEviction(ctx, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("eviction goroutine did not stop")
	}
}
