// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package sdk

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter
type RateLimiter struct {
	rate       float64   // tokens per second
	burst      int       // maximum burst size
	tokens     float64   // current tokens available
	lastUpdate time.Time // last time tokens were updated
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
// rate: number of requests allowed per second
// burst: maximum number of requests allowed in a burst
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()

		now := time.Now()
		elapsed := now.Sub(r.lastUpdate).Seconds()
		r.tokens = min(float64(r.burst), r.tokens+elapsed*r.rate)
		r.lastUpdate = now

		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1-r.tokens)/r.rate*1000) * time.Millisecond
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// TryAcquire attempts to acquire a token without blocking
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.tokens = min(float64(r.burst), r.tokens+elapsed*r.rate)
	r.lastUpdate = now

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Available returns the number of tokens currently available
func (r *RateLimiter) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.tokens = min(float64(r.burst), r.tokens+elapsed*r.rate)
	r.lastUpdate = now

	return int(r.tokens)
}

// Reset resets the rate limiter to full capacity
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = float64(r.burst)
	r.lastUpdate = time.Now()
}

// SetRate updates the rate limit dynamically
func (r *RateLimiter) SetRate(rate float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = rate
	r.burst = burst
	if r.tokens > float64(burst) {
		r.tokens = float64(burst)
	}
}

// SlidingWindowRateLimiter implements a sliding window rate limiter
type SlidingWindowRateLimiter struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	mu          sync.Mutex
}

// NewSlidingWindowRateLimiter creates a sliding window rate limiter
func NewSlidingWindowRateLimiter(windowSize time.Duration, maxRequests int) *SlidingWindowRateLimiter {
	return &SlidingWindowRateLimiter{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
	}
}

// Wait blocks until a request is allowed
func (s *SlidingWindowRateLimiter) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		s.cleanup()

		if len(s.requests) < s.maxRequests {
			s.requests = append(s.requests, time.Now())
			s.mu.Unlock()
			return nil
		}

		oldestRequest := s.requests[0]
		waitTime := s.windowSize - time.Since(oldestRequest)
		s.mu.Unlock()

		if waitTime <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// TryAcquire attempts to acquire a slot without blocking
func (s *SlidingWindowRateLimiter) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanup()

	if len(s.requests) < s.maxRequests {
		s.requests = append(s.requests, time.Now())
		return true
	}
	return false
}

// cleanup removes expired requests
func (s *SlidingWindowRateLimiter) cleanup() {
	cutoff := time.Now().Add(-s.windowSize)
	i := 0
	for i < len(s.requests) && s.requests[i].Before(cutoff) {
		i++
	}
	s.requests = s.requests[i:]
}

// Available returns the number of requests available in the current window
func (s *SlidingWindowRateLimiter) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup()
	return s.maxRequests - len(s.requests)
}

// InWindow returns the number of requests recorded in the current window
func (s *SlidingWindowRateLimiter) InWindow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup()
	return len(s.requests)
}

// KeyedWindowLimiter provides independent sliding windows per key,
// e.g. one window per API domain or per action type.
type KeyedWindowLimiter struct {
	windows    map[string]*SlidingWindowRateLimiter
	windowSize time.Duration
	maxPerKey  int
	mu         sync.RWMutex
}

// NewKeyedWindowLimiter creates a per-key sliding window limiter
func NewKeyedWindowLimiter(windowSize time.Duration, maxPerKey int) *KeyedWindowLimiter {
	return &KeyedWindowLimiter{
		windows:    make(map[string]*SlidingWindowRateLimiter),
		windowSize: windowSize,
		maxPerKey:  maxPerKey,
	}
}

// TryAcquire attempts to acquire a slot for the given key without blocking
func (k *KeyedWindowLimiter) TryAcquire(key string) bool {
	return k.getWindow(key).TryAcquire()
}

// Counts returns the in-window request count for every known key
func (k *KeyedWindowLimiter) Counts() map[string]int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	counts := make(map[string]int, len(k.windows))
	for key, w := range k.windows {
		counts[key] = w.InWindow()
	}
	return counts
}

func (k *KeyedWindowLimiter) getWindow(key string) *SlidingWindowRateLimiter {
	k.mu.RLock()
	w, exists := k.windows[key]
	k.mu.RUnlock()

	if exists {
		return w
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// Double-check after acquiring write lock
	if w, exists = k.windows[key]; exists {
		return w
	}

	w = NewSlidingWindowRateLimiter(k.windowSize, k.maxPerKey)
	k.windows[key] = w
	return w
}

// RateLimitError represents a rate limit error with metadata
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	Limit      int
	Remaining  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}
