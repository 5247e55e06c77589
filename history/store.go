// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
)

// Record is a single entry in the action history. Records are append-only
// and owned exclusively by the registry that wrote them.
type Record struct {
	ActionID    string                 `json:"action_id"`
	Type        actions.Type           `json:"action_type"`
	Parameters  map[string]interface{} `json:"parameters"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Status      actions.Status         `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Fingerprint string                 `json:"fingerprint"`
}

// Store is the append/query interface over action records. Reads only need
// to be eventually consistent with recent appends.
type Store interface {
	Append(ctx context.Context, rec *Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*Record, error)

	// CountSince counts records of the given type with Timestamp >= since.
	CountSince(ctx context.Context, actionType actions.Type, since time.Time) (int, error)

	// HasFingerprint reports whether a record of the given type with the
	// given parameter fingerprint exists with Timestamp >= since.
	HasFingerprint(ctx context.Context, actionType actions.Type, fingerprint string, since time.Time) (bool, error)
}

// Fingerprint computes a canonical hash of an action's parameters for
// duplicate detection. Serialization is key-order independent: JSON
// encoding emits map keys in sorted order at every nesting level.
func Fingerprint(params map[string]interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		// Unmarshalable parameters still need a stable value
		data = []byte("unserializable")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
