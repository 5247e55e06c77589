// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
)

func TestMemoryStoreEviction(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = store.Append(ctx, &Record{
			ActionID:  fmt.Sprintf("act_%d", i),
			Type:      actions.TypeAlert,
			Timestamp: time.Now(),
		})
	}

	if store.Len() != 3 {
		t.Fatalf("expected 3 retained records, got %d", store.Len())
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recent[0].ActionID != "act_4" {
		t.Errorf("newest record should come first, got %s", recent[0].ActionID)
	}
	if recent[len(recent)-1].ActionID != "act_2" {
		t.Errorf("oldest retained record should be act_2, got %s", recent[len(recent)-1].ActionID)
	}
}

func TestMemoryStoreCountSince(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()
	now := time.Now()

	_ = store.Append(ctx, &Record{ActionID: "old", Type: actions.TypeAlert, Timestamp: now.Add(-2 * time.Hour)})
	_ = store.Append(ctx, &Record{ActionID: "a", Type: actions.TypeAlert, Timestamp: now.Add(-30 * time.Second)})
	_ = store.Append(ctx, &Record{ActionID: "b", Type: actions.TypeAPICall, Timestamp: now.Add(-20 * time.Second)})
	_ = store.Append(ctx, &Record{ActionID: "c", Type: actions.TypeAlert, Timestamp: now.Add(-10 * time.Second)})

	count, err := store.CountSince(ctx, actions.TypeAlert, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 alerts in window, got %d", count)
	}
}

func TestMemoryStoreHasFingerprint(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()
	now := time.Now()

	params := map[string]interface{}{"message": "hello", "channel": "slack"}
	fp := Fingerprint(params)

	_ = store.Append(ctx, &Record{
		ActionID:    "act_1",
		Type:        actions.TypeAlert,
		Parameters:  params,
		Fingerprint: fp,
		Timestamp:   now.Add(-time.Minute),
	})

	found, err := store.HasFingerprint(ctx, actions.TypeAlert, fp, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Error("expected fingerprint match within window")
	}

	// Outside the window
	found, _ = store.HasFingerprint(ctx, actions.TypeAlert, fp, now.Add(-30*time.Second))
	if found {
		t.Error("record older than window should not match")
	}

	// Different type
	found, _ = store.HasFingerprint(ctx, actions.TypeAPICall, fp, now.Add(-5*time.Minute))
	if found {
		t.Error("fingerprint match must be scoped to the action type")
	}
}

func TestFingerprintKeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": "two", "nested": map[string]interface{}{"a": true, "b": 2.5}}
	b := map[string]interface{}{"nested": map[string]interface{}{"b": 2.5, "a": true}, "y": "two", "x": 1}

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprints should not depend on key insertion order")
	}

	c := map[string]interface{}{"x": 2, "y": "two"}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("different parameters should produce different fingerprints")
	}
}
