// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// Matcher evaluates ordered rule lists against a query/context pair.
// Evaluation is first-match-wins: rule order is caller-significant.
type Matcher struct {
	log *logger.Logger
}

// NewMatcher creates a rule matcher
func NewMatcher() *Matcher {
	return &Matcher{log: logger.New("rule-matcher")}
}

// Match returns the first rule whose condition is satisfied. A malformed
// rule is treated as non-matching and evaluation continues with the next
// rule; it is never a fatal error.
func (m *Matcher) Match(ruleList []Rule, query, context string) Match {
	for _, rule := range ruleList {
		if m.ruleMatches(rule, query, context) {
			return Match{
				ActionRequired: true,
				ActionType:     rule.ActionType,
				Parameters:     rule.Parameters,
				MatchingRule:   rule.Name,
			}
		}
	}
	return Match{ActionRequired: false}
}

func (m *Matcher) ruleMatches(rule Rule, query, context string) bool {
	switch rule.Condition.Kind {
	case KindKeyword:
		return matchKeywords(rule.Condition.Keywords, query, context)
	case KindThreshold:
		return m.matchThreshold(rule.Condition, context)
	case KindPattern:
		return m.matchPattern(rule.Condition.Pattern, query, context, rule.Name)
	default:
		m.log.Debug("", "", "rule has unknown condition kind", map[string]interface{}{
			"rule": rule.Name,
			"kind": string(rule.Condition.Kind),
		})
		return false
	}
}

func matchKeywords(keywords []string, query, context string) bool {
	if len(keywords) == 0 {
		return false
	}
	text := strings.ToLower(query + " " + context)
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchThreshold(cond Condition, context string) bool {
	if cond.Field == "" {
		return false
	}

	value, ok := extractNumericField(context, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case OpGreaterThan:
		return value > cond.Threshold
	case OpLessThan:
		return value < cond.Threshold
	case OpEquals:
		return math.Abs(value-cond.Threshold) < equalsEpsilon
	default:
		return false
	}
}

func (m *Matcher) matchPattern(pattern, query, context, ruleName string) bool {
	if pattern == "" {
		return false
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		m.log.Debug("", "", "rule has invalid pattern", map[string]interface{}{
			"rule":  ruleName,
			"error": err.Error(),
		})
		return false
	}
	return re.MatchString(query + " " + context)
}

// extractNumericField pulls a numeric value for a named field out of
// free-form context text. It accepts "field: 42", "field=42", '"field": 42'
// and tolerates quotes around the value.
func extractNumericField(context, field string) (float64, bool) {
	re, err := regexp.Compile(`(?i)"?` + regexp.QuoteMeta(field) + `"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)`)
	if err != nil {
		return 0, false
	}

	matches := re.FindStringSubmatch(context)
	if len(matches) < 2 {
		return 0, false
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
