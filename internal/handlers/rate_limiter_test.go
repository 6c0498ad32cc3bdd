package handlers

import (
	"testing"
	"time"
)

func TestKeyedRateLimiter(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(3, time.Minute, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !limiter.Allow("cart:a") {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	if limiter.Allow("cart:a") {
		t.Fatalf("fourth attempt should be limited")
	}
	if !limiter.Allow("cart:b") {
		t.Fatalf("other keys should have their own bucket")
	}

	now = now.Add(20 * time.Second)
	if !limiter.Allow("cart:a") {
		t.Fatalf("expected a token to refill after window/limit")
	}
	if limiter.Allow("cart:a") {
		t.Fatalf("expected only one refilled token")
	}
}

func TestKeyedRateLimiterPrunesIdleBuckets(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	limiter := newSimpleRateLimiter(1, time.Minute, func() time.Time { return now }).(*keyedRateLimiter)

	limiter.Allow("cart:a")
	now = now.Add(2 * time.Minute)
	limiter.Allow("cart:b")

	if _, ok := limiter.buckets["cart:a"]; ok {
		t.Fatalf("expected idle bucket to be pruned")
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("expected one bucket, got %d", len(limiter.buckets))
	}
}

func TestNewSimpleRateLimiterDisabled(t *testing.T) {
	if newSimpleRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
	if newSimpleRateLimiter(5, 0, nil) != nil {
		t.Fatalf("expected nil limiter for zero window")
	}
}
