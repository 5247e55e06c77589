// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/history"
)

// Tuesday midday, inside business hours
var testClock = time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

func newTestValidator(store history.Store, cfg Config) *Validator {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testClock }
	}
	return NewValidator(store, cfg)
}

func findCheck(t *testing.T, result *Result, name string) CheckResult {
	t.Helper()
	for _, c := range result.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found in result", name)
	return CheckResult{}
}

func TestValidateActionCleanPass(t *testing.T) {
	v := newTestValidator(history.NewMemoryStore(100), Config{})

	result := v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"message": "CPU usage above threshold",
		"channel": "slack",
	}, nil)

	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Reason)
	}
	if result.Reason != "All safety checks passed" {
		t.Errorf("unexpected reason: %s", result.Reason)
	}
	if len(result.Checks) != 6 {
		t.Errorf("expected 6 checks, got %d", len(result.Checks))
	}
}

func TestValidateActionBlockedPatterns(t *testing.T) {
	v := newTestValidator(history.NewMemoryStore(100), Config{})

	result := v.ValidateAction(context.Background(), actions.TypeDataUpdate, map[string]interface{}{
		"query": "DROP TABLE users",
	}, nil)

	if result.Passed {
		t.Fatal("expected destructive SQL to be blocked")
	}
	check := findCheck(t, result, "blocked_patterns")
	if check.Passed {
		t.Error("blocked_patterns check should have failed")
	}
	if !strings.HasPrefix(result.Reason, "Safety checks failed: ") {
		t.Errorf("aggregate reason missing prefix: %s", result.Reason)
	}
}

func TestValidateActionDangerousEndpoint(t *testing.T) {
	v := newTestValidator(history.NewMemoryStore(100), Config{})

	result := v.ValidateAction(context.Background(), actions.TypeAPICall, map[string]interface{}{
		"endpoint": "https://api.example.com/users/DELETE",
		"method":   "POST",
	}, nil)

	if result.Passed {
		t.Fatal("expected dangerous endpoint to be blocked")
	}
	if check := findCheck(t, result, "blocked_patterns"); check.Passed {
		t.Error("blocked_patterns check should flag the endpoint")
	}
	// The default destructive API rule fires on the same endpoint
	if check := findCheck(t, result, "safety_rules"); check.Passed {
		t.Error("safety_rules check should flag the endpoint")
	}
}

func TestValidateActionRuleViolations(t *testing.T) {
	v := newTestValidator(history.NewMemoryStore(100), Config{})

	result := v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"amount": 20000.0,
	}, nil)

	if result.Passed {
		t.Fatal("expected amount rule to block")
	}
	if check := findCheck(t, result, "safety_rules"); check.Passed {
		t.Error("max amount rule should have fired")
	}
	if check := findCheck(t, result, "financial_limits"); check.Passed {
		t.Error("financial limits check should have fired")
	}
	if len(result.FailedChecks()) != 2 {
		t.Errorf("expected 2 failed checks, got %d", len(result.FailedChecks()))
	}
}

func TestValidateActionSensitiveDataRule(t *testing.T) {
	v := newTestValidator(history.NewMemoryStore(100), Config{})

	result := v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"message": "config dump: password = 'hunter2'",
	}, nil)

	if result.Passed {
		t.Fatal("expected sensitive data rule to block")
	}
	if check := findCheck(t, result, "safety_rules"); check.Passed {
		t.Error("sensitive data rule should have fired")
	}
}

func TestValidateActionRateLimits(t *testing.T) {
	store := history.NewMemoryStore(500)
	for i := 0; i < 100; i++ {
		store.Append(context.Background(), &history.Record{
			ActionID:  fmt.Sprintf("act_%d", i),
			Type:      actions.TypeAlert,
			Status:    actions.StatusExecuted,
			Timestamp: testClock.Add(-30 * time.Second),
		})
	}
	v := newTestValidator(store, Config{})

	result := v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"message": "one too many",
	}, nil)

	if result.Passed {
		t.Fatal("expected per-minute rate limit to block")
	}
	check := findCheck(t, result, "rate_limits")
	if check.Passed {
		t.Error("rate_limits check should have failed")
	}
	if check.Details["limit_exceeded"] != "per_minute" {
		t.Errorf("expected per_minute, got %v", check.Details["limit_exceeded"])
	}

	// A different action type is unaffected
	result = v.ValidateAction(context.Background(), actions.TypeDataUpdate, map[string]interface{}{
		"table": "metrics",
	}, nil)
	if !result.Passed {
		t.Errorf("data_update should not share the alert bucket: %s", result.Reason)
	}
}

func TestValidateActionDuplicateDetection(t *testing.T) {
	params := map[string]interface{}{"message": "disk full on node-3"}

	store := history.NewMemoryStore(100)
	store.Append(context.Background(), &history.Record{
		ActionID:    "act_1",
		Type:        actions.TypeAlert,
		Parameters:  params,
		Status:      actions.StatusExecuted,
		Timestamp:   testClock.Add(-2 * time.Minute),
		Fingerprint: history.Fingerprint(params),
	})
	v := newTestValidator(store, Config{})

	result := v.ValidateAction(context.Background(), actions.TypeAlert, params, nil)
	if result.Passed {
		t.Fatal("expected duplicate within window to be blocked")
	}
	if check := findCheck(t, result, "duplicate_actions"); check.Passed {
		t.Error("duplicate_actions check should have failed")
	}

	// Same parameters outside the window are fine
	stale := history.NewMemoryStore(100)
	stale.Append(context.Background(), &history.Record{
		ActionID:    "act_2",
		Type:        actions.TypeAlert,
		Parameters:  params,
		Status:      actions.StatusExecuted,
		Timestamp:   testClock.Add(-10 * time.Minute),
		Fingerprint: history.Fingerprint(params),
	})
	v = newTestValidator(stale, Config{})
	if result := v.ValidateAction(context.Background(), actions.TypeAlert, params, nil); !result.Passed {
		t.Errorf("stale duplicate should pass: %s", result.Reason)
	}
}

func TestValidateActionBusinessHours(t *testing.T) {
	evening := time.Date(2025, 3, 4, 20, 0, 0, 0, time.UTC)
	v := newTestValidator(history.NewMemoryStore(100), Config{
		Now: func() time.Time { return evening },
	})

	result := v.ValidateAction(context.Background(), actions.TypeDataUpdate, map[string]interface{}{
		"table": "metrics",
	}, nil)
	if result.Passed {
		t.Fatal("data_update outside business hours should be blocked")
	}
	if check := findCheck(t, result, "time_restrictions"); check.Passed {
		t.Error("time_restrictions check should have failed")
	}

	// Alerts are exempt from business hours
	result = v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"message": "late night page",
	}, nil)
	if !result.Passed {
		t.Errorf("alert should pass outside business hours: %s", result.Reason)
	}
}

func TestValidateActionMaintenanceWindow(t *testing.T) {
	night := time.Date(2025, 3, 4, 3, 0, 0, 0, time.UTC)
	v := newTestValidator(history.NewMemoryStore(100), Config{
		Maintenance: MaintenanceWindow{Enabled: true, Start: "02:00", End: "04:00"},
		Now:         func() time.Time { return night },
	})

	result := v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"message": "during maintenance",
	}, nil)
	if result.Passed {
		t.Fatal("actions during maintenance window should be blocked")
	}

	check := findCheck(t, result, "time_restrictions")
	if check.Details["maintenance_window"] != true {
		t.Errorf("expected maintenance_window detail, got %v", check.Details)
	}
}

func TestMaintenanceWindowWrapsMidnight(t *testing.T) {
	w := MaintenanceWindow{Enabled: true, Start: "23:00", End: "01:00"}

	if !w.Active(time.Date(2025, 3, 4, 23, 30, 0, 0, time.UTC)) {
		t.Error("23:30 should be inside a 23:00-01:00 window")
	}
	if !w.Active(time.Date(2025, 3, 4, 0, 30, 0, 0, time.UTC)) {
		t.Error("00:30 should be inside a 23:00-01:00 window")
	}
	if w.Active(time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)) {
		t.Error("midday should be outside a 23:00-01:00 window")
	}
}

func TestValidateActionFinancialLimits(t *testing.T) {
	v := newTestValidator(history.NewMemoryStore(100), Config{})

	// Context user limit overrides the default
	result := v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"amount":  15000.0,
		"message": "large trade",
	}, map[string]interface{}{
		"user_limits": map[string]interface{}{"max_transaction": 20000.0},
	})
	// The max amount safety rule still fires above 10000 even when the
	// user limit allows it
	if check := findCheck(t, result, "financial_limits"); !check.Passed {
		t.Errorf("amount under user limit should pass financial check: %s", check.Reason)
	}

	// System limit holds regardless of user limit
	result = v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"amount": 60000.0,
	}, map[string]interface{}{
		"user_limits": map[string]interface{}{"max_transaction": 100000.0},
	})
	check := findCheck(t, result, "financial_limits")
	if check.Passed {
		t.Error("amount above system limit should fail")
	}
	if check.Details["exceeds_system_limit"] != true {
		t.Errorf("expected exceeds_system_limit, got %v", check.Details)
	}
}

func TestValidateActionSuspiciousAmountFlagged(t *testing.T) {
	v := newTestValidator(history.NewMemoryStore(100), Config{})

	result := v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{
		"amount": 6000.0,
	}, nil)

	check := findCheck(t, result, "financial_limits")
	if !check.Passed {
		t.Fatalf("round amount under limits should pass: %s", check.Reason)
	}
	if check.Details["suspicious_amount"] != true {
		t.Error("round amount over 5000 should carry the suspicious flag")
	}
}

func TestValidatorStats(t *testing.T) {
	v := newTestValidator(history.NewMemoryStore(100), Config{})

	v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{"message": "ok"}, nil)
	v.ValidateAction(context.Background(), actions.TypeAlert, map[string]interface{}{"message": "fine"}, nil)
	v.ValidateAction(context.Background(), actions.TypeDataUpdate, map[string]interface{}{"query": "DROP TABLE users"}, nil)

	stats := v.Stats()
	if stats["total_validations"] != 3 {
		t.Errorf("total_validations = %v, want 3", stats["total_validations"])
	}
	if stats["passed"] != 2 {
		t.Errorf("passed = %v, want 2", stats["passed"])
	}
	if stats["blocked"] != 1 {
		t.Errorf("blocked = %v, want 1", stats["blocked"])
	}
	rate, ok := stats["success_rate"].(float64)
	if !ok || rate < 66.0 || rate > 67.0 {
		t.Errorf("success_rate = %v, want ~66.7", stats["success_rate"])
	}
}
