// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"encoding/json"
	"fmt"
)

// Type identifies a concrete action kind. The set is closed; dispatch over
// it must be exhaustive.
type Type string

const (
	TypeAlert           Type = "alert"
	TypeAPICall         Type = "api_call"
	TypeDataUpdate      Type = "data_update"
	TypeWorkflowTrigger Type = "workflow_trigger"
)

// AllTypes returns every known action type
func AllTypes() []Type {
	return []Type{TypeAlert, TypeAPICall, TypeDataUpdate, TypeWorkflowTrigger}
}

// Valid reports whether t is one of the known action types
func (t Type) Valid() bool {
	switch t {
	case TypeAlert, TypeAPICall, TypeDataUpdate, TypeWorkflowTrigger:
		return true
	}
	return false
}

// Status is the terminal outcome of a dispatched action
type Status string

const (
	StatusBlocked              Status = "blocked"
	StatusRateLimited          Status = "rate_limited"
	StatusRequiresConfirmation Status = "requires_confirmation"
	StatusExecuted             Status = "executed"
	StatusFailed               Status = "failed"
)

// Request is a single action submission. It is immutable once submitted
// and consumed exactly once by the registry.
type Request struct {
	Type       Type                   `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Handler executes one action type against its external transport
type Handler interface {
	// Type returns the action type this handler serves
	Type() Type

	// Execute runs the action. The returned payload is recorded verbatim
	// in the action history on success.
	Execute(ctx context.Context, params, actionCtx map[string]interface{}) (map[string]interface{}, error)
}

// ConfigError indicates a missing or invalid handler configuration value,
// e.g. absent SMTP credentials or an unknown alert channel. It is never
// retried.
type ConfigError struct {
	Scope string // handler or channel name
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid configuration for %q: %s", e.Scope, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Scope, e.Msg)
}

// StringParam extracts a string-typed parameter, with ok=false when absent
// or of a different type.
func StringParam(params map[string]interface{}, key string) (string, bool) {
	v, exists := params[key]
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// NumberParam extracts a numeric parameter, accepting the types JSON
// decoding and direct construction produce.
func NumberParam(params map[string]interface{}, key string) (float64, bool) {
	v, exists := params[key]
	if !exists {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
