// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package registry dispatches validated actions to their handlers. Every
// dispatch runs the full gate sequence: safety validation, the hourly rate
// gate, the confirmation gate, then handler execution under a timeout.
// Every outcome status is terminal.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/history"
	"github.com/KavyaMunusamy/LiveDataRag/safety"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// handlerTimeout bounds a single handler execution
const handlerTimeout = 30 * time.Second

// confirmationTTL bounds how long a pending confirmation stays claimable
const confirmationTTL = 10 * time.Minute

// maxPendingConfirmations bounds the pending-confirmation map
const maxPendingConfirmations = 100

// defaultAlwaysConfirm names action kinds that require explicit
// confirmation regardless of caller flags
var defaultAlwaysConfirm = map[string]bool{
	"financial_trade": true,
	"user_delete":     true,
	"system_shutdown": true,
}

// Outcome is the terminal result of one dispatch attempt
type Outcome struct {
	ActionID  string                 `json:"action_id"`
	Status    actions.Status         `json:"status"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// OutcomeRecorder receives dispatch outcomes for metrics
type OutcomeRecorder interface {
	ObserveAction(actionType string, status string, duration time.Duration)
}

// CheckRecorder is optionally implemented by an OutcomeRecorder that also
// tracks which safety checks blocked an action.
type CheckRecorder interface {
	RecordCheckFailure(check string)
}

type pendingConfirmation struct {
	request   actions.Request
	expiresAt time.Time
}

// Registry owns the handler table and the gate sequence
type Registry struct {
	validator *safety.Validator
	gate      RateGate
	store     history.Store
	recorder  OutcomeRecorder
	log       *logger.Logger
	now       func() time.Time

	mu            sync.RWMutex
	handlers      map[actions.Type]actions.Handler
	alwaysConfirm map[string]bool

	pendingMu sync.Mutex
	pending   map[string]pendingConfirmation
}

// Option configures a Registry
type Option func(*Registry)

// WithRecorder attaches a metrics recorder
func WithRecorder(r OutcomeRecorder) Option {
	return func(reg *Registry) { reg.recorder = r }
}

// WithAlwaysConfirm replaces the default always-confirm set
func WithAlwaysConfirm(names []string) Option {
	return func(reg *Registry) {
		reg.alwaysConfirm = make(map[string]bool, len(names))
		for _, n := range names {
			reg.alwaysConfirm[strings.ToLower(n)] = true
		}
	}
}

// WithClock injects a clock, for tests
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) { reg.now = now }
}

// New creates a registry with no handlers registered
func New(validator *safety.Validator, gate RateGate, store history.Store, opts ...Option) *Registry {
	reg := &Registry{
		validator:     validator,
		gate:          gate,
		store:         store,
		log:           logger.New("action-registry"),
		now:           time.Now,
		handlers:      make(map[actions.Type]actions.Handler),
		alwaysConfirm: defaultAlwaysConfirm,
		pending:       make(map[string]pendingConfirmation),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Register installs a handler for its action type. Registering the same
// type twice replaces the previous handler.
func (r *Registry) Register(h actions.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// RegisteredTypes lists action types with an installed handler
func (r *Registry) RegisteredTypes() []actions.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]actions.Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// ExecuteAction runs the full gate sequence for one action request and
// returns a terminal outcome. It never returns an error; failures are
// expressed through the outcome status.
func (r *Registry) ExecuteAction(ctx context.Context, req actions.Request) *Outcome {
	start := r.now()
	actionID := newActionID(start)

	outcome := r.dispatch(ctx, actionID, req, true)

	if r.recorder != nil {
		r.recorder.ObserveAction(string(req.Type), string(outcome.Status), r.now().Sub(start))
	}
	return outcome
}

func (r *Registry) dispatch(ctx context.Context, actionID string, req actions.Request, gated bool) *Outcome {
	outcome := &Outcome{ActionID: actionID, Timestamp: r.now()}

	r.mu.RLock()
	handler, ok := r.handlers[req.Type]
	r.mu.RUnlock()
	if !ok {
		outcome.Status = actions.StatusFailed
		outcome.Error = fmt.Sprintf("no handler registered for action type %q", req.Type)
		r.record(ctx, outcome, req)
		return outcome
	}

	if gated {
		validation := r.validator.ValidateAction(ctx, req.Type, req.Parameters, req.Context)
		if !validation.Passed {
			outcome.Status = actions.StatusBlocked
			outcome.Reason = validation.Reason
			if cr, ok := r.recorder.(CheckRecorder); ok {
				for _, check := range validation.FailedChecks() {
					cr.RecordCheckFailure(check.Name)
				}
			}
			r.record(ctx, outcome, req)
			return outcome
		}

		allowed, err := r.gate.Allow(ctx, req.Type)
		if err != nil {
			r.log.Warn("", actionID, "rate gate error, failing open", map[string]interface{}{"error": err.Error()})
		} else if !allowed {
			outcome.Status = actions.StatusRateLimited
			outcome.Reason = fmt.Sprintf("hourly limit reached for %s", req.Type)
			r.record(ctx, outcome, req)
			return outcome
		}

		if r.requiresConfirmation(req) {
			outcome.Status = actions.StatusRequiresConfirmation
			outcome.Reason = "action requires explicit confirmation"
			r.stashPending(actionID, req)
			r.record(ctx, outcome, req)
			return outcome
		}
	}

	result, err := r.runHandler(ctx, handler, req)
	if err != nil {
		outcome.Status = actions.StatusFailed
		outcome.Error = err.Error()
		r.log.Error("", actionID, "action handler failed", map[string]interface{}{
			"action_type": string(req.Type),
			"error":       err.Error(),
		})
	} else {
		outcome.Status = actions.StatusExecuted
		outcome.Result = result
		r.log.Info("", actionID, "action executed", map[string]interface{}{
			"action_type": string(req.Type),
		})
	}

	r.record(ctx, outcome, req)
	return outcome
}

// runHandler executes the handler under the dispatch timeout and contains
// panics as failures.
func (r *Registry) runHandler(ctx context.Context, handler actions.Handler, req actions.Request) (result map[string]interface{}, err error) {
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()

	return handler.Execute(ctx, req.Parameters, req.Context)
}

// requiresConfirmation applies the static always-confirm set and the
// caller's requires_confirmation flag.
func (r *Registry) requiresConfirmation(req actions.Request) bool {
	if flag, ok := req.Parameters["requires_confirmation"].(bool); ok && flag {
		return true
	}

	name, _ := actions.StringParam(req.Parameters, "action_name")
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alwaysConfirm[strings.ToLower(name)]
}

func (r *Registry) stashPending(actionID string, req actions.Request) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	now := r.now()
	for id, p := range r.pending {
		if now.After(p.expiresAt) {
			delete(r.pending, id)
		}
	}
	if len(r.pending) >= maxPendingConfirmations {
		// Evict the pending confirmation closest to expiry
		oldestID := ""
		oldest := time.Time{}
		for id, p := range r.pending {
			if oldestID == "" || p.expiresAt.Before(oldest) {
				oldestID, oldest = id, p.expiresAt
			}
		}
		delete(r.pending, oldestID)
	}

	r.pending[actionID] = pendingConfirmation{
		request:   req,
		expiresAt: now.Add(confirmationTTL),
	}
}

// ConfirmAction executes a previously held requires_confirmation action.
// The confirmation is single use.
func (r *Registry) ConfirmAction(ctx context.Context, actionID string) (*Outcome, error) {
	r.pendingMu.Lock()
	p, ok := r.pending[actionID]
	if ok {
		delete(r.pending, actionID)
	}
	r.pendingMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no pending confirmation for action %q", actionID)
	}
	if r.now().After(p.expiresAt) {
		return nil, fmt.Errorf("confirmation for action %q has expired", actionID)
	}

	start := r.now()
	outcome := r.dispatch(ctx, actionID, p.request, false)
	if r.recorder != nil {
		r.recorder.ObserveAction(string(p.request.Type), string(outcome.Status), r.now().Sub(start))
	}
	return outcome, nil
}

// PendingConfirmations reports how many confirmations are currently held
func (r *Registry) PendingConfirmations() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// History returns recent actions, newest first, optionally filtered by type.
// A zero limit means the store default.
func (r *Registry) History(ctx context.Context, actionType actions.Type, limit int) ([]*history.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	fetch := limit
	if actionType != "" {
		// Over-fetch so type filtering can still fill the limit
		fetch = limit * 4
	}

	records, err := r.store.Recent(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to query action history: %w", err)
	}
	if actionType == "" {
		return records, nil
	}

	filtered := make([]*history.Record, 0, limit)
	for _, rec := range records {
		if rec.Type == actionType {
			filtered = append(filtered, rec)
			if len(filtered) == limit {
				break
			}
		}
	}
	return filtered, nil
}

func (r *Registry) record(ctx context.Context, outcome *Outcome, req actions.Request) {
	rec := &history.Record{
		ActionID:    outcome.ActionID,
		Type:        req.Type,
		Parameters:  req.Parameters,
		Result:      outcome.Result,
		Error:       outcome.Error,
		Status:      outcome.Status,
		Timestamp:   outcome.Timestamp,
		Fingerprint: history.Fingerprint(req.Parameters),
	}
	if err := r.store.Append(ctx, rec); err != nil {
		r.log.Warn("", outcome.ActionID, "failed to append action history", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// newActionID builds a sortable id with a short random suffix
func newActionID(t time.Time) string {
	return fmt.Sprintf("act_%d_%s", t.Unix(), uuid.NewString()[:4])
}
