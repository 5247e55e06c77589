// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package safety

import "regexp"

// blockedPatternSources is the static deny-list scanned against the
// serialized parameters of every action.
var blockedPatternSources = []string{
	`delete\s+from`,
	`drop\s+table`,
	`truncate\s+table`,
	`rm\s+-rf`,
	`format\s+c:`,
	`chmod\s+777`,
	`sudo\s+`,
	`shutdown`,
	`reboot`,
	`kill\s+process`,
	`injection`,
	`\.\./`,         // path traversal
	`<script>`,      // XSS
	`union\s+select`, // SQL injection
}

// dangerousEndpointFragments is the stricter deny-list applied to the
// endpoint parameter of api_call actions only.
var dangerousEndpointFragments = []string{
	"delete", "drop", "truncate", "format", "shutdown",
	"sudo", "rm -rf", "chmod 777", "format c:",
}

func compileBlockedPatterns() []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(blockedPatternSources))
	for _, src := range blockedPatternSources {
		compiled = append(compiled, regexp.MustCompile("(?i)"+src))
	}
	return compiled
}

// DefaultRules returns the safety rules applied when no configuration
// overrides them.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "max_amount_per_transaction",
			Description: "Limit transaction amounts",
			Kind:        RuleCondition,
			Condition: &Condition{
				Field:    "parameters.amount",
				Operator: OpGreaterThan,
				Value:    10000,
			},
		},
		{
			Name:        "no_sensitive_data_exposure",
			Description: "Prevent exposure of sensitive data",
			Kind:        RuleRegex,
			Pattern:     `(password|token|secret|key)\s*[:=]\s*['"].+?['"]`,
		},
		{
			Name:        "no_destructive_api_calls",
			Description: "Block destructive API calls",
			Kind:        RuleCondition,
			Condition: &Condition{
				All: []Condition{
					{Field: "action_type", Operator: OpEquals, Value: "api_call"},
					{Field: "parameters.endpoint", Operator: OpContains, Value: "delete"},
				},
			},
		},
	}
}
