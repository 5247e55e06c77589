// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"sync"
	"time"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
)

// DefaultCapacity bounds the in-memory history ring
const DefaultCapacity = 1000

// MemoryStore keeps the most recent records in a bounded in-memory ring.
// It is safe for concurrent use by multiple in-flight executions.
type MemoryStore struct {
	records  []*Record
	capacity int
	mu       sync.RWMutex
}

// NewMemoryStore creates an in-memory store bounded to capacity records.
// A non-positive capacity falls back to DefaultCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		records:  make([]*Record, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a record, evicting the oldest entries beyond capacity
func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if len(s.records) > s.capacity {
		s.records = s.records[len(s.records)-s.capacity:]
	}
	return nil
}

// Recent returns up to limit records, newest first
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	out := make([]*Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// CountSince counts records of the given type at or after since
func (s *MemoryStore) CountSince(_ context.Context, actionType actions.Type, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.Timestamp.Before(since) {
			break
		}
		if rec.Type == actionType {
			count++
		}
	}
	return count, nil
}

// HasFingerprint reports whether a matching record exists at or after since
func (s *MemoryStore) HasFingerprint(_ context.Context, actionType actions.Type, fingerprint string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.Timestamp.Before(since) {
			break
		}
		if rec.Type == actionType && rec.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of records currently retained
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
