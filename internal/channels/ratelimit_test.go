package channels

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_AllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	if !rl.Allow() {
		t.Fatal("expected first token to be available")
	}
	if !rl.Allow() {
		t.Fatal("expected second token from burst capacity")
	}
	if rl.Allow() {
		t.Fatal("expected bucket to be empty after consuming burst capacity")
	}
}

func TestRateLimiter_WaitReturnsOnceRefilled(t *testing.T) {
	rl := NewRateLimiter(1000, 1) // fast refill so the test stays quick
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestRateLimiter_WaitRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected Wait to return the context's deadline error")
	}
}
