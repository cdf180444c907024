package chat

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.mu.Lock()
	rl.now = clock.now
	rl.mu.Unlock()

	if !rl.Allow("anon_1") || !rl.Allow("anon_1") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("anon_1") {
		t.Fatal("third request within the window should be rejected")
	}
	if !rl.Allow("anon_2") {
		t.Fatal("keys are limited independently")
	}

	clock.t = clock.t.Add(61 * time.Second)
	if !rl.Allow("anon_1") {
		t.Fatal("requests should pass once the window has moved")
	}

	clock.t = clock.t.Add(2 * time.Minute)
	rl.evict()
	rl.mu.Lock()
	n := len(rl.requests)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected all keys evicted, %d remain", n)
	}
}
