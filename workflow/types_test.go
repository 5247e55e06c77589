// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"testing"
)

func TestParseDefinitionDefaults(t *testing.T) {
	def, err := ParseDefinition(map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"name": "a", "type": "action", "action_type": "alert"},
		},
	})
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if def.MaxRetries != 3 || def.Timeout != 300 {
		t.Errorf("defaults not applied: retries=%d timeout=%d", def.MaxRetries, def.Timeout)
	}
}

func TestParseDefinitionRejectsBadSteps(t *testing.T) {
	cases := []map[string]interface{}{
		{},
		{"steps": []interface{}{}},
		{"steps": []interface{}{map[string]interface{}{"name": "a", "type": "teleport"}}},
		{"steps": []interface{}{map[string]interface{}{"name": "a", "type": "condition"}}},
	}
	for i, doc := range cases {
		if _, err := ParseDefinition(doc); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestSubstituteValueRecursive(t *testing.T) {
	vars := map[string]interface{}{
		"symbol": "AAPL",
		"price":  187.5,
		"nested": map[string]interface{}{"ignored": true},
	}

	got := substituteValue(map[string]interface{}{
		"message": "{{symbol}} at {{price}}",
		"tags":    []interface{}{"{{symbol}}", "static"},
		"limit":   "{{price}}",
	}, vars).(map[string]interface{})

	if got["message"] != "AAPL at 187.5" {
		t.Errorf("message = %v", got["message"])
	}
	tags := got["tags"].([]interface{})
	if tags[0] != "AAPL" || tags[1] != "static" {
		t.Errorf("tags = %v", tags)
	}
	// An exact placeholder keeps the variable's native type
	if got["limit"] != 187.5 {
		t.Errorf("limit = %v (%T), want float64", got["limit"], got["limit"])
	}
}

func TestConditionEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		want    bool
		wantErr bool
	}{
		{name: "string equality", cond: Condition{Left: "up", Operator: "==", Right: "up"}, want: true},
		{name: "inequality", cond: Condition{Left: "up", Operator: "!=", Right: "down"}, want: true},
		{name: "numeric greater", cond: Condition{Left: 187.5, Operator: ">", Right: 100.0}, want: true},
		{name: "numeric string coerces", cond: Condition{Left: "42", Operator: "<", Right: 100.0}, want: true},
		{name: "non numeric ordering", cond: Condition{Left: "abc", Operator: ">", Right: 1.0}, wantErr: true},
		{name: "unknown comparator", cond: Condition{Left: 1, Operator: ">=", Right: 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Evaluate()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}
