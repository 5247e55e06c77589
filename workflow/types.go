// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package workflow runs asynchronous multi-step workflows: sequences of
// action, delay, condition and webhook steps with per-step retries, a
// whole-run timeout and cooperative cancellation.
package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// StepType is the closed set of workflow step kinds
type StepType string

const (
	StepAction    StepType = "action"
	StepDelay     StepType = "delay"
	StepCondition StepType = "condition"
	StepWebhook   StepType = "webhook"
)

// Condition is a single comparison evaluated by a condition step. Left and
// Right take {{variable}} substitution before comparison.
type Condition struct {
	Left     interface{} `yaml:"left" json:"left"`
	Operator string      `yaml:"operator" json:"operator" validate:"required"`
	Right    interface{} `yaml:"right" json:"right"`
}

// Evaluate applies the comparator. Equality compares rendered strings;
// ordering requires numeric operands.
func (c *Condition) Evaluate() (bool, error) {
	switch c.Operator {
	case "==":
		return fmt.Sprint(c.Left) == fmt.Sprint(c.Right), nil
	case "!=":
		return fmt.Sprint(c.Left) != fmt.Sprint(c.Right), nil
	case ">", "<":
		left, err := asFloat(c.Left)
		if err != nil {
			return false, fmt.Errorf("left operand: %w", err)
		}
		right, err := asFloat(c.Right)
		if err != nil {
			return false, fmt.Errorf("right operand: %w", err)
		}
		if c.Operator == ">" {
			return left > right, nil
		}
		return left < right, nil
	default:
		return false, fmt.Errorf("unknown comparator %q", c.Operator)
	}
}

func asFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("non-numeric value %v", v)
	}
}

// Step is one unit of work in a workflow definition
type Step struct {
	Name            string                 `yaml:"name" json:"name"`
	Type            StepType               `yaml:"type" json:"type" validate:"required,oneof=action delay condition webhook"`
	ActionType      string                 `yaml:"action_type,omitempty" json:"action_type,omitempty"`
	Parameters      map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	ContinueOnError bool                   `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`

	// Condition steps only
	Condition *Condition  `yaml:"condition,omitempty" json:"condition,omitempty"`
	IfTrue    interface{} `yaml:"if_true,omitempty" json:"if_true,omitempty"`
	IfFalse   interface{} `yaml:"if_false,omitempty" json:"if_false,omitempty"`
}

// label names the step in results and errors
func (s *Step) label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step_%d", index)
}

// Definition describes a complete workflow
type Definition struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	MaxRetries  int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty" validate:"omitempty,min=1,max=10"`
	Timeout     int    `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,min=1"`
	Parallel    bool   `yaml:"parallel,omitempty" json:"parallel,omitempty"`
}

const (
	defaultMaxRetries     = 3
	defaultTimeoutSeconds = 300
)

// applyDefaults fills unset tuning knobs
func (d *Definition) applyDefaults() {
	if d.MaxRetries == 0 {
		d.MaxRetries = defaultMaxRetries
	}
	if d.Timeout == 0 {
		d.Timeout = defaultTimeoutSeconds
	}
}

// ParseDefinition converts a loosely typed document into a validated
// Definition.
func ParseDefinition(doc map[string]interface{}) (*Definition, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	if err := validate.Struct(&def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	for i := range def.Steps {
		if def.Steps[i].Type == StepCondition && def.Steps[i].Condition == nil {
			return nil, fmt.Errorf("invalid workflow definition: step %q has no condition", def.Steps[i].label(i))
		}
	}

	def.applyDefaults()
	return &def, nil
}

// substituteValue resolves {{variable}} placeholders recursively through
// strings, maps and slices. Only scalar variables substitute; a string
// that is exactly one placeholder takes the variable's native type.
func substituteValue(v interface{}, vars map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return substituteString(val, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = substituteValue(item, vars)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, vars)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, vars map[string]interface{}) interface{} {
	for key, value := range vars {
		if !isScalar(value) {
			continue
		}
		placeholder := "{{" + key + "}}"
		if s == placeholder {
			return value
		}
		if strings.Contains(s, placeholder) {
			s = strings.ReplaceAll(s, placeholder, fmt.Sprint(value))
		}
	}
	return s
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case string, bool, int, int64, float32, float64:
		return true
	}
	return false
}
