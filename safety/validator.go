// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package safety validates proposed actions against a layered policy:
// blocked patterns, configured safety rules, rate limits, duplicate
// detection, time restrictions and financial limits. Every check must pass
// for an action to proceed.
package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/history"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// RuleKind distinguishes the two safety rule evaluation modes
type RuleKind string

const (
	RuleCondition RuleKind = "condition"
	RuleRegex     RuleKind = "regex"
)

// Rule is one configured safety rule. A rule that matches an action is a
// violation; an evaluation error also counts as a violation (fail closed).
type Rule struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        RuleKind   `yaml:"type" json:"type"`
	Condition   *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`
	Pattern     string     `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// RateLimit is a per-type pair of trailing-window caps
type RateLimit struct {
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	PerHour   int `yaml:"per_hour" json:"per_hour"`
}

// defaultRateLimits are the per-type validator caps
var defaultRateLimits = map[actions.Type]RateLimit{
	actions.TypeAlert:           {PerMinute: 100, PerHour: 1000},
	actions.TypeAPICall:         {PerMinute: 60, PerHour: 500},
	actions.TypeDataUpdate:      {PerMinute: 200, PerHour: 5000},
	actions.TypeWorkflowTrigger: {PerMinute: 30, PerHour: 300},
}

// fallbackRateLimit applies to types without a configured limit
var fallbackRateLimit = RateLimit{PerMinute: 50, PerHour: 1000}

// duplicateWindow is how far back the duplicate check looks
const duplicateWindow = 5 * time.Minute

// timeRestrictedTypes only execute during business hours
var timeRestrictedTypes = map[actions.Type]bool{
	actions.TypeDataUpdate:      true,
	actions.TypeWorkflowTrigger: true,
	actions.TypeAPICall:         true,
}

// MaintenanceWindow blocks all restricted execution while active.
// Start and End are "HH:MM" in UTC; a window may wrap past midnight.
type MaintenanceWindow struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Start   string `yaml:"start" json:"start"`
	End     string `yaml:"end" json:"end"`
}

// Active reports whether t falls inside the window
func (w MaintenanceWindow) Active(t time.Time) bool {
	if !w.Enabled {
		return false
	}

	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil {
		return false
	}

	minute := t.UTC().Hour()*60 + t.UTC().Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Window wraps past midnight
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}

// Config tunes the validator. Zero values fall back to defaults.
type Config struct {
	Rules       []Rule
	RateLimits  map[actions.Type]RateLimit
	Maintenance MaintenanceWindow

	// Business hours bound time-restricted action types, UTC.
	BusinessHoursStart int // default 9
	BusinessHoursEnd   int // default 17

	// Financial caps. DefaultUserLimit applies when the action context
	// carries no user_limits.max_transaction.
	DefaultUserLimit float64 // default 10000
	SystemLimit      float64 // default 50000

	Now func() time.Time
}

// CheckResult is one check's outcome
type CheckResult struct {
	Name    string                 `json:"name"`
	Passed  bool                   `json:"passed"`
	Reason  string                 `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Result aggregates all checks for one action
type Result struct {
	Passed bool          `json:"passed"`
	Reason string        `json:"reason"`
	Checks []CheckResult `json:"checks"`
}

// FailedChecks returns the subset of checks that did not pass
func (r *Result) FailedChecks() []CheckResult {
	var failed []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// statsEntry is one retained validation outcome
type statsEntry struct {
	ActionType actions.Type `json:"action_type"`
	Passed     bool         `json:"passed"`
	Reason     string       `json:"reason"`
	Timestamp  time.Time    `json:"timestamp"`
}

// maxStatsEntries bounds the retained validation log
const maxStatsEntries = 1000

// Validator runs the safety checks. It is safe for concurrent use.
type Validator struct {
	store           history.Store
	rules           []Rule
	blockedPatterns []*regexp.Regexp
	rateLimits      map[actions.Type]RateLimit
	maintenance     MaintenanceWindow
	bizStart        int
	bizEnd          int
	userLimit       float64
	systemLimit     float64
	now             func() time.Time
	log             *logger.Logger

	statsMu sync.Mutex
	stats   []statsEntry
}

// NewValidator creates a validator backed by the given history store
func NewValidator(store history.Store, cfg Config) *Validator {
	v := &Validator{
		store:           store,
		rules:           cfg.Rules,
		blockedPatterns: compileBlockedPatterns(),
		rateLimits:      cfg.RateLimits,
		maintenance:     cfg.Maintenance,
		bizStart:        cfg.BusinessHoursStart,
		bizEnd:          cfg.BusinessHoursEnd,
		userLimit:       cfg.DefaultUserLimit,
		systemLimit:     cfg.SystemLimit,
		now:             cfg.Now,
		log:             logger.New("safety-validator"),
	}

	if v.rules == nil {
		v.rules = DefaultRules()
	}
	if v.rateLimits == nil {
		v.rateLimits = defaultRateLimits
	}
	if v.bizStart == 0 && v.bizEnd == 0 {
		v.bizStart, v.bizEnd = 9, 17
	}
	if v.userLimit == 0 {
		v.userLimit = 10000
	}
	if v.systemLimit == 0 {
		v.systemLimit = 50000
	}
	if v.now == nil {
		v.now = time.Now
	}

	return v
}

// ValidateAction runs every check against the proposed action. All checks
// must pass; the aggregate reason concatenates every failed check's reason.
func (v *Validator) ValidateAction(ctx context.Context, actionType actions.Type, params, actionCtx map[string]interface{}) *Result {
	checks := []CheckResult{
		v.checkBlockedPatterns(actionType, params),
		v.checkSafetyRules(actionType, params, actionCtx),
		v.checkRateLimits(ctx, actionType),
		v.checkDuplicates(ctx, actionType, params),
		v.checkTimeRestrictions(actionType),
		v.checkFinancialLimits(params, actionCtx),
	}

	result := &Result{Passed: true, Checks: checks}

	var failedReasons []string
	for _, c := range checks {
		if !c.Passed {
			result.Passed = false
			failedReasons = append(failedReasons, c.Reason)
		}
	}

	if result.Passed {
		result.Reason = "All safety checks passed"
	} else {
		result.Reason = "Safety checks failed: " + strings.Join(failedReasons, ", ")
	}

	v.recordOutcome(actionType, result)
	return result
}

func (v *Validator) checkBlockedPatterns(actionType actions.Type, params map[string]interface{}) CheckResult {
	check := CheckResult{Name: "blocked_patterns", Passed: true, Reason: "No blocked patterns"}

	paramText := serializeParams(params)

	var found []string
	for _, re := range v.blockedPatterns {
		if re.MatchString(paramText) {
			found = append(found, re.String())
		}
	}
	if len(found) > 0 {
		check.Passed = false
		check.Reason = "Blocked patterns detected"
		check.Details = map[string]interface{}{"blocked_patterns_found": found}
		return check
	}

	if actionType == actions.TypeAPICall {
		endpoint, _ := actions.StringParam(params, "endpoint")
		endpoint = strings.ToLower(endpoint)
		for _, dangerous := range dangerousEndpointFragments {
			if strings.Contains(endpoint, dangerous) {
				check.Passed = false
				check.Reason = "Dangerous API endpoint"
				check.Details = map[string]interface{}{"dangerous_endpoint": dangerous}
				return check
			}
		}
	}

	return check
}

func (v *Validator) checkSafetyRules(actionType actions.Type, params, actionCtx map[string]interface{}) CheckResult {
	check := CheckResult{Name: "safety_rules", Passed: true, Reason: "All safety rules passed"}

	var rulesChecked []string
	var violations []map[string]interface{}

	for _, rule := range v.rules {
		rulesChecked = append(rulesChecked, rule.Name)

		violated, err := v.evaluateRule(rule, actionType, params, actionCtx)
		if err != nil {
			// Evaluation errors block, they never pass silently
			v.log.Error("", "", "safety rule evaluation failed", map[string]interface{}{
				"rule":  rule.Name,
				"error": err.Error(),
			})
			violations = append(violations, map[string]interface{}{
				"rule":  rule.Name,
				"error": err.Error(),
			})
			continue
		}
		if violated {
			violations = append(violations, map[string]interface{}{
				"rule":        rule.Name,
				"description": rule.Description,
			})
		}
	}

	check.Details = map[string]interface{}{"rules_checked": rulesChecked}
	if len(violations) > 0 {
		check.Passed = false
		check.Reason = fmt.Sprintf("Safety rules violated: %d", len(violations))
		check.Details["violations"] = violations
	}
	return check
}

func (v *Validator) evaluateRule(rule Rule, actionType actions.Type, params, actionCtx map[string]interface{}) (bool, error) {
	switch rule.Kind {
	case RuleCondition:
		if rule.Condition == nil {
			return false, fmt.Errorf("condition rule %q has no condition", rule.Name)
		}
		return rule.Condition.Evaluate(string(actionType), params, actionCtx)
	case RuleRegex:
		if rule.Pattern == "" {
			return false, fmt.Errorf("regex rule %q has no pattern", rule.Name)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return false, fmt.Errorf("regex rule %q: %w", rule.Name, err)
		}
		return re.MatchString(serializeParams(params)), nil
	default:
		return false, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

func (v *Validator) checkRateLimits(ctx context.Context, actionType actions.Type) CheckResult {
	limits, ok := v.rateLimits[actionType]
	if !ok {
		limits = fallbackRateLimit
	}

	check := CheckResult{
		Name:   "rate_limits",
		Passed: true,
		Reason: "Rate limits OK",
		Details: map[string]interface{}{
			"action_type": string(actionType),
			"per_minute":  limits.PerMinute,
			"per_hour":    limits.PerHour,
		},
	}

	now := v.now()

	minuteCount, err := v.store.CountSince(ctx, actionType, now.Add(-time.Minute))
	if err != nil {
		// History unavailable: rate limiting is advisory, let the action
		// through rather than fail the whole pipeline.
		v.log.Warn("", "", "rate limit history query failed", map[string]interface{}{"error": err.Error()})
		return check
	}
	check.Details["recent_count"] = minuteCount

	if minuteCount >= limits.PerMinute {
		check.Passed = false
		check.Reason = "Rate limit exceeded (per minute)"
		check.Details["limit_exceeded"] = "per_minute"
		return check
	}

	hourCount, err := v.store.CountSince(ctx, actionType, now.Add(-time.Hour))
	if err != nil {
		v.log.Warn("", "", "rate limit history query failed", map[string]interface{}{"error": err.Error()})
		return check
	}
	if hourCount >= limits.PerHour {
		check.Passed = false
		check.Reason = "Rate limit exceeded (per hour)"
		check.Details["limit_exceeded"] = "per_hour"
	}
	return check
}

func (v *Validator) checkDuplicates(ctx context.Context, actionType actions.Type, params map[string]interface{}) CheckResult {
	check := CheckResult{Name: "duplicate_actions", Passed: true, Reason: "No duplicates found"}

	fingerprint := history.Fingerprint(params)
	found, err := v.store.HasFingerprint(ctx, actionType, fingerprint, v.now().Add(-duplicateWindow))
	if err != nil {
		v.log.Warn("", "", "duplicate history query failed", map[string]interface{}{"error": err.Error()})
		return check
	}
	if found {
		check.Passed = false
		check.Reason = "Duplicate action detected"
		check.Details = map[string]interface{}{"fingerprint": fingerprint}
	}
	return check
}

func (v *Validator) checkTimeRestrictions(actionType actions.Type) CheckResult {
	check := CheckResult{Name: "time_restrictions", Passed: true, Reason: "Time restrictions passed"}
	now := v.now().UTC()

	if timeRestrictedTypes[actionType] {
		hour := now.Hour()
		if hour < v.bizStart || hour >= v.bizEnd {
			check.Passed = false
			check.Reason = "Action only allowed during business hours"
			check.Details = map[string]interface{}{"business_hours": false, "hour": hour}
			return check
		}
	}

	if v.maintenance.Active(now) {
		check.Passed = false
		check.Reason = "Action blocked during maintenance window"
		check.Details = map[string]interface{}{"maintenance_window": true}
	}
	return check
}

func (v *Validator) checkFinancialLimits(params, actionCtx map[string]interface{}) CheckResult {
	check := CheckResult{Name: "financial_limits", Passed: true, Reason: "Financial limits passed"}

	amount, ok := extractAmount(params)
	if !ok {
		return check
	}
	check.Details = map[string]interface{}{"amount": amount}

	userLimit := v.userLimit
	if limits, ok := actionCtx["user_limits"].(map[string]interface{}); ok {
		if max, ok := toFloat64(limits["max_transaction"]); ok {
			userLimit = max
		}
	}
	if amount > userLimit {
		check.Passed = false
		check.Reason = fmt.Sprintf("Amount $%.2f exceeds user limit $%.2f", amount, userLimit)
		check.Details["exceeds_user_limit"] = true
		return check
	}

	if amount > v.systemLimit {
		check.Passed = false
		check.Reason = fmt.Sprintf("Amount $%.2f exceeds system limit $%.2f", amount, v.systemLimit)
		check.Details["exceeds_system_limit"] = true
		return check
	}

	// Suspiciously round amounts are flagged for review, not rejected
	if amount > 5000 && amount == float64(int64(amount)) && int64(amount)%1000 == 0 {
		check.Details["suspicious_amount"] = true
	}
	return check
}

func extractAmount(params map[string]interface{}) (float64, bool) {
	for _, key := range []string{"amount", "value", "price"} {
		if amount, ok := actions.NumberParam(params, key); ok {
			return amount, true
		}
	}
	return 0, false
}

func serializeParams(params map[string]interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprint(params)
	}
	return string(data)
}

func (v *Validator) recordOutcome(actionType actions.Type, result *Result) {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()

	v.stats = append(v.stats, statsEntry{
		ActionType: actionType,
		Passed:     result.Passed,
		Reason:     result.Reason,
		Timestamp:  v.now(),
	})
	if len(v.stats) > maxStatsEntries {
		v.stats = v.stats[len(v.stats)-maxStatsEntries:]
	}
}

// Stats summarizes retained validation outcomes
func (v *Validator) Stats() map[string]interface{} {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()

	total := len(v.stats)
	passed := 0
	for _, e := range v.stats {
		if e.Passed {
			passed++
		}
	}

	successRate := 0.0
	if total > 0 {
		successRate = float64(passed) / float64(total) * 100
	}

	recent := v.stats
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	recentCopy := make([]statsEntry, len(recent))
	copy(recentCopy, recent)

	return map[string]interface{}{
		"total_validations":  total,
		"passed":             passed,
		"blocked":            total - passed,
		"success_rate":       successRate,
		"recent_validations": recentCopy,
	}
}
