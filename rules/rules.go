// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"github.com/KavyaMunusamy/LiveDataRag/actions"
)

// ConditionKind identifies how a rule's condition is evaluated.
// The set is closed.
type ConditionKind string

const (
	KindKeyword   ConditionKind = "keyword"
	KindThreshold ConditionKind = "threshold"
	KindPattern   ConditionKind = "pattern"
)

// ThresholdOperator compares an extracted numeric value to a literal
type ThresholdOperator string

const (
	OpGreaterThan ThresholdOperator = "greater_than"
	OpLessThan    ThresholdOperator = "less_than"
	OpEquals      ThresholdOperator = "equals"
)

// equalsEpsilon is the tolerance for threshold equality comparisons
const equalsEpsilon = 0.01

// Condition is one rule's matching predicate. Exactly the fields for its
// Kind are consulted; the rest are ignored.
type Condition struct {
	Kind ConditionKind `yaml:"type" json:"type"`

	// keyword
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	// threshold
	Field     string            `yaml:"field,omitempty" json:"field,omitempty"`
	Threshold float64           `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Operator  ThresholdOperator `yaml:"operator,omitempty" json:"operator,omitempty"`

	// pattern
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// Rule is a user-defined trigger: when its condition matches a query and
// context pair, the configured action is recommended.
type Rule struct {
	Name       string                 `yaml:"name" json:"name"`
	Condition  Condition              `yaml:"condition" json:"condition"`
	ActionType actions.Type           `yaml:"action_type" json:"action_type"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Match is the result of evaluating an ordered rule list
type Match struct {
	ActionRequired bool                   `json:"action_required"`
	ActionType     actions.Type           `json:"action_type,omitempty"`
	Parameters     map[string]interface{} `json:"action_parameters,omitempty"`
	MatchingRule   string                 `json:"matching_rule,omitempty"`
}
