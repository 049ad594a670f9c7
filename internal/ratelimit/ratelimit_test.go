package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBucketAcquireConsumesTokens(t *testing.T) {
	b := NewBucket(2, 2, time.Second)
	ctx := context.Background()

	if err := b.AcquireOne(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := b.AcquireOne(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	if got := b.retryAfter(); got <= 0 {
		t.Fatalf("expected bucket to be empty after two acquires, retryAfter=%v", got)
	}
}

func TestBucketAcquireRespectsContextCancellation(t *testing.T) {
	b := NewBucket(1, 1, time.Hour)
	ctx := context.Background()
	if err := b.AcquireOne(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.AcquireOne(cancelCtx); err == nil {
		t.Fatalf("expected cancellation error when bucket is empty")
	}
}

func TestTriggerBackoffIsIdempotent(t *testing.T) {
	b := NewPerSecondBucket(10)
	b.TriggerBackoff()
	if !b.backoff.Load() {
		t.Fatalf("expected backoff flag set")
	}
	b.TriggerBackoff()
	if !b.backoff.Load() {
		t.Fatalf("expected backoff flag to remain set")
	}
}

func TestStatusFormat(t *testing.T) {
	b := NewBucket(5, 5, time.Second)
	status := b.Status()
	if status == "" {
		t.Fatalf("expected non-empty status")
	}
}
