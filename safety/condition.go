// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"fmt"
	"strings"
)

// CompareOp is a comparison operator in a safety condition
type CompareOp string

const (
	OpEquals      CompareOp = "equals"
	OpNotEquals   CompareOp = "not_equals"
	OpGreaterThan CompareOp = "greater_than"
	OpLessThan    CompareOp = "less_than"
	OpContains    CompareOp = "contains"
)

// Condition is a closed comparison tree: either a leaf comparing one field
// path against a literal, or an all/any combination of child conditions.
// It is parsed from configuration once and evaluated structurally; no part
// of it is ever interpreted as code.
type Condition struct {
	All []Condition `yaml:"all,omitempty" json:"all,omitempty"`
	Any []Condition `yaml:"any,omitempty" json:"any,omitempty"`

	// Leaf comparison. Field is a dotted path rooted at one of
	// action_type, parameters or context.
	Field    string      `yaml:"field,omitempty" json:"field,omitempty"`
	Operator CompareOp   `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value    interface{} `yaml:"value,omitempty" json:"value,omitempty"`
}

// Evaluate walks the condition tree against an action. A returned error
// means the condition is malformed or a leaf could not be evaluated; the
// caller treats that as a violation.
func (c *Condition) Evaluate(actionType string, params, actionCtx map[string]interface{}) (bool, error) {
	if len(c.All) > 0 {
		for i := range c.All {
			ok, err := c.All[i].Evaluate(actionType, params, actionCtx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	if len(c.Any) > 0 {
		for i := range c.Any {
			ok, err := c.Any[i].Evaluate(actionType, params, actionCtx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	if c.Field == "" || c.Operator == "" {
		return false, fmt.Errorf("condition leaf missing field or operator")
	}

	fieldValue, found := resolveField(c.Field, actionType, params, actionCtx)
	if !found {
		// An absent field never satisfies a positive match. not_equals
		// holds vacuously.
		return c.Operator == OpNotEquals, nil
	}

	switch c.Operator {
	case OpEquals:
		return fmt.Sprint(fieldValue) == fmt.Sprint(c.Value), nil
	case OpNotEquals:
		return fmt.Sprint(fieldValue) != fmt.Sprint(c.Value), nil
	case OpContains:
		return strings.Contains(
			strings.ToLower(fmt.Sprint(fieldValue)),
			strings.ToLower(fmt.Sprint(c.Value)),
		), nil
	case OpGreaterThan:
		return compareNumeric(fieldValue, c.Value, ">")
	case OpLessThan:
		return compareNumeric(fieldValue, c.Value, "<")
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

// resolveField walks a dotted field path over the action document
func resolveField(field, actionType string, params, actionCtx map[string]interface{}) (interface{}, bool) {
	parts := strings.Split(field, ".")

	var current interface{}
	switch parts[0] {
	case "action_type":
		return actionType, true
	case "parameters":
		current = params
	case "context":
		current = actionCtx
	default:
		return nil, false
	}

	for _, part := range parts[1:] {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func compareNumeric(a, b interface{}, operator string) (bool, error) {
	aFloat, aOk := toFloat64(a)
	bFloat, bOk := toFloat64(b)

	if !aOk || !bOk {
		return false, fmt.Errorf("non-numeric operands for %s comparison", operator)
	}

	switch operator {
	case ">":
		return aFloat > bFloat, nil
	case "<":
		return aFloat < bFloat, nil
	default:
		return false, fmt.Errorf("unknown numeric operator %q", operator)
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}
