// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package sdk

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterTryAcquire(t *testing.T) {
	limiter := NewRateLimiter(1, 2)

	if !limiter.TryAcquire() {
		t.Error("first acquire should succeed")
	}
	if !limiter.TryAcquire() {
		t.Error("second acquire should succeed within burst")
	}
	if limiter.TryAcquire() {
		t.Error("third acquire should fail, burst exhausted")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	limiter.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Error("expected context error from Wait")
	}
}

func TestSlidingWindowRateLimiter(t *testing.T) {
	limiter := NewSlidingWindowRateLimiter(100*time.Millisecond, 3)

	for i := 0; i < 3; i++ {
		if !limiter.TryAcquire() {
			t.Fatalf("acquire %d should succeed", i)
		}
	}
	if limiter.TryAcquire() {
		t.Error("acquire beyond window limit should fail")
	}

	time.Sleep(120 * time.Millisecond)

	if !limiter.TryAcquire() {
		t.Error("acquire should succeed after window expiry")
	}
	if limiter.InWindow() != 1 {
		t.Errorf("expected 1 in window, got %d", limiter.InWindow())
	}
}

func TestKeyedWindowLimiterIndependentKeys(t *testing.T) {
	limiter := NewKeyedWindowLimiter(time.Minute, 2)

	if !limiter.TryAcquire("api.example.com") {
		t.Error("first acquire for key should succeed")
	}
	if !limiter.TryAcquire("api.example.com") {
		t.Error("second acquire for key should succeed")
	}
	if limiter.TryAcquire("api.example.com") {
		t.Error("key over its limit should be rejected")
	}

	// Other keys are unaffected
	if !limiter.TryAcquire("other.example.com") {
		t.Error("different key should have its own window")
	}

	counts := limiter.Counts()
	if counts["api.example.com"] != 2 {
		t.Errorf("expected 2 for api.example.com, got %d", counts["api.example.com"])
	}
	if counts["other.example.com"] != 1 {
		t.Errorf("expected 1 for other.example.com, got %d", counts["other.example.com"])
	}
}
