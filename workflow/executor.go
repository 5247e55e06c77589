// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// RunStatus is the closed set of workflow run states. A run leaves
// "running" exactly once and never re-enters it.
type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunTimeout             RunStatus = "timeout"
	RunFailed              RunStatus = "failed"
	RunCancelled           RunStatus = "cancelled"
)

// maxCompletedRuns bounds how many finished runs stay queryable
const maxCompletedRuns = 256

// ActionRunner executes one action on behalf of a workflow step
type ActionRunner interface {
	Run(ctx context.Context, actionType string, params, actionCtx map[string]interface{}) (map[string]interface{}, error)
}

// HTTPDoer is the HTTP client surface webhook steps depend on
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StepResult records one successful step
type StepResult struct {
	Step      string      `json:"step"`
	Type      StepType    `json:"type"`
	Status    string      `json:"status"`
	Attempts  int         `json:"attempts"`
	Output    interface{} `json:"output,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// StepError records one failed step
type StepError struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// run is the executor's mutable record of one workflow run
type run struct {
	id       string
	workflow string
	cancel   context.CancelFunc
	done     chan struct{}

	mu          sync.Mutex
	status      RunStatus
	startedAt   time.Time
	completedAt time.Time
	results     []StepResult
	errors      []StepError
	err         string
	cancelled   bool
}

// RunView is a point-in-time snapshot of a run
type RunView struct {
	ID             string       `json:"run_id"`
	Workflow       string       `json:"workflow,omitempty"`
	Status         RunStatus    `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
	Results        []StepResult `json:"results,omitempty"`
	Errors         []StepError  `json:"errors,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// ErrRunNotFound reports an unknown run id
var ErrRunNotFound = errors.New("workflow run not found")

// errRunAborted marks a sequential run stopped by a step failure
var errRunAborted = errors.New("workflow aborted by step failure")

// RunRecorder receives finished runs for metrics
type RunRecorder interface {
	ObserveWorkflow(status string, duration time.Duration)
}

// Executor starts and tracks workflow runs
type Executor struct {
	runner    ActionRunner
	client    HTTPDoer
	templates map[string]*Definition
	recorder  RunRecorder
	log       *logger.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	runs map[string]*run
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithTemplates adds named workflow definitions
func WithTemplates(templates map[string]*Definition) ExecutorOption {
	return func(e *Executor) {
		for name, def := range templates {
			e.templates[name] = def
		}
	}
}

// WithHTTPClient replaces the webhook HTTP client
func WithHTTPClient(client HTTPDoer) ExecutorOption {
	return func(e *Executor) { e.client = client }
}

// WithRecorder attaches a metrics recorder for finished runs
func WithRecorder(r RunRecorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// NewExecutor creates an executor with the built-in templates registered
func NewExecutor(runner ActionRunner, opts ...ExecutorOption) *Executor {
	e := &Executor{
		runner:    runner,
		client:    &http.Client{Timeout: 30 * time.Second},
		templates: DefaultTemplates(),
		log:       logger.New("workflow-executor"),
		now:       time.Now,
		sleep:     sleepContext,
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StartRun begins an asynchronous run of either an inline definition or a
// named template and returns the run id immediately.
func (e *Executor) StartRun(_ context.Context, name string, definition map[string]interface{}, variables map[string]interface{}) (string, error) {
	var def *Definition
	var err error

	switch {
	case definition != nil:
		def, err = ParseDefinition(definition)
		if err != nil {
			return "", err
		}
	case name != "":
		e.mu.Lock()
		def = e.templates[name]
		e.mu.Unlock()
		if def == nil {
			return "", fmt.Errorf("unknown workflow template %q", name)
		}
	default:
		return "", errors.New("workflow definition or template name is required")
	}

	if variables == nil {
		variables = make(map[string]interface{})
	}

	// Runs outlive the triggering request
	runCtx, cancel := context.WithCancel(context.Background())

	r := &run{
		id:        "wf_" + uuid.NewString()[:8],
		workflow:  name,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    RunRunning,
		startedAt: e.now(),
	}

	e.mu.Lock()
	e.runs[r.id] = r
	e.mu.Unlock()

	e.log.Info("", r.id, "workflow run started", map[string]interface{}{
		"workflow": name,
		"steps":    len(def.Steps),
		"parallel": def.Parallel,
	})

	go e.execute(runCtx, r, def, variables)
	return r.id, nil
}

func (e *Executor) execute(ctx context.Context, r *run, def *Definition, variables map[string]interface{}) {
	defer close(r.done)

	ctx, cancelTimeout := context.WithTimeout(ctx, time.Duration(def.Timeout)*time.Second)
	defer cancelTimeout()

	var execErr error
	if def.Parallel {
		execErr = e.executeParallel(ctx, r, def, variables)
	} else {
		execErr = e.executeSequential(ctx, r, def, variables)
	}

	r.mu.Lock()
	r.completedAt = e.now()

	switch {
	case r.cancelled:
		r.status = RunCancelled
	case errors.Is(execErr, context.DeadlineExceeded):
		r.status = RunTimeout
		r.err = fmt.Sprintf("workflow timed out after %d seconds", def.Timeout)
	case execErr != nil:
		r.status = RunFailed
		if !errors.Is(execErr, errRunAborted) {
			r.err = execErr.Error()
		}
	case len(r.errors) > 0:
		r.status = RunCompletedWithErrors
	default:
		r.status = RunCompleted
	}

	status := r.status
	successful, failed := len(r.results), len(r.errors)
	duration := r.completedAt.Sub(r.startedAt)
	r.mu.Unlock()

	if e.recorder != nil {
		e.recorder.ObserveWorkflow(string(status), duration)
	}
	e.log.Info("", r.id, "workflow run finished", map[string]interface{}{
		"status":           string(status),
		"successful_steps": successful,
		"failed_steps":     failed,
	})

	e.sweepCompleted()
}

func (e *Executor) executeSequential(ctx context.Context, r *run, def *Definition, variables map[string]interface{}) error {
	for i := range def.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := &def.Steps[i]

		result, err := e.runStepWithRetry(ctx, r, step, i, def.MaxRetries, variables)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.mu.Lock()
			r.errors = append(r.errors, StepError{Step: step.label(i), Error: err.Error()})
			r.mu.Unlock()
			if !step.ContinueOnError {
				return errRunAborted
			}
			continue
		}

		r.mu.Lock()
		r.results = append(r.results, *result)
		r.mu.Unlock()

		// Later steps see this step's output
		variables[fmt.Sprintf("step_%d_result", i)] = result.Output
	}
	return ctx.Err()
}

func (e *Executor) executeParallel(ctx context.Context, r *run, def *Definition, variables map[string]interface{}) error {
	type indexed struct {
		index  int
		result *StepResult
		err    error
	}

	results := make([]indexed, len(def.Steps))
	var wg sync.WaitGroup
	for i := range def.Steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := e.runStepWithRetry(ctx, r, &def.Steps[i], i, def.MaxRetries, variables)
			results[i] = indexed{index: i, result: result, err: err}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range results {
		if res.err != nil {
			r.errors = append(r.errors, StepError{
				Step:  def.Steps[res.index].label(res.index),
				Error: res.err.Error(),
			})
			continue
		}
		r.results = append(r.results, *res.result)
	}
	return nil
}

func (e *Executor) runStepWithRetry(ctx context.Context, r *run, step *Step, index, maxRetries int, variables map[string]interface{}) (*StepResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		output, err := e.runStep(ctx, step, variables)
		if err == nil {
			return &StepResult{
				Step:      step.label(index),
				Type:      step.Type,
				Status:    "success",
				Attempts:  attempt,
				Output:    output,
				Timestamp: e.now(),
			}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == maxRetries {
			break
		}

		e.log.Warn("", r.id, "workflow step failed, retrying", map[string]interface{}{
			"step":    step.label(index),
			"attempt": attempt,
			"error":   err.Error(),
		})
		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		if err := e.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("step failed after %d attempts: %w", maxRetries, lastErr)
}

func (e *Executor) runStep(ctx context.Context, step *Step, variables map[string]interface{}) (interface{}, error) {
	params, _ := substituteValue(step.Parameters, variables).(map[string]interface{})
	if params == nil {
		params = make(map[string]interface{})
	}

	switch step.Type {
	case StepAction:
		return e.runActionStep(ctx, step, params, variables)
	case StepDelay:
		return e.runDelayStep(ctx, params)
	case StepCondition:
		return e.runConditionStep(step, variables)
	case StepWebhook:
		return e.runWebhookStep(ctx, params)
	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

func (e *Executor) runActionStep(ctx context.Context, step *Step, params, variables map[string]interface{}) (interface{}, error) {
	if e.runner == nil {
		return nil, errors.New("no action runner configured")
	}
	if step.ActionType == "" {
		return nil, errors.New("action step requires action_type")
	}
	return e.runner.Run(ctx, step.ActionType, params, variables)
}

func (e *Executor) runDelayStep(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	seconds, _ := params["seconds"].(float64)
	if seconds < 0 {
		return nil, fmt.Errorf("invalid delay %v", seconds)
	}
	if err := e.sleep(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"delayed_seconds": seconds,
		"message":         fmt.Sprintf("Delayed for %v seconds", seconds),
	}, nil
}

func (e *Executor) runConditionStep(step *Step, variables map[string]interface{}) (interface{}, error) {
	cond := Condition{
		Left:     substituteValue(step.Condition.Left, variables),
		Operator: step.Condition.Operator,
		Right:    substituteValue(step.Condition.Right, variables),
	}

	matched, err := cond.Evaluate()
	if err != nil {
		return nil, fmt.Errorf("condition evaluation failed: %w", err)
	}

	branch := "if_false"
	output := step.IfFalse
	if matched {
		branch = "if_true"
		output = step.IfTrue
	}
	return map[string]interface{}{
		"result": matched,
		"branch": branch,
		"output": substituteValue(output, variables),
	}, nil
}

func (e *Executor) runWebhookStep(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, errors.New("webhook step requires a url")
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodPost
	}
	payload, _ := params["payload"].(map[string]interface{})

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"response":    string(raw),
		"url":         url,
		"method":      method,
	}, nil
}

// GetRun returns a snapshot of one run
func (e *Executor) GetRun(runID string) (*RunView, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return e.snapshot(r), nil
}

// CancelRun requests cooperative cancellation of a running workflow. The
// run stops at its next step boundary.
func (e *Executor) CancelRun(runID string) (*RunView, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	r.mu.Lock()
	if r.status == RunRunning {
		r.cancelled = true
	}
	r.mu.Unlock()
	r.cancel()

	return e.snapshot(r), nil
}

// ListRuns returns snapshots of all tracked runs, newest first
func (e *Executor) ListRuns() []*RunView {
	e.mu.Lock()
	views := make([]*RunView, 0, len(e.runs))
	for _, r := range e.runs {
		views = append(views, e.snapshot(r))
	}
	e.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return views
}

func (e *Executor) snapshot(r *run) *RunView {
	r.mu.Lock()
	defer r.mu.Unlock()

	view := &RunView{
		ID:        r.id,
		Workflow:  r.workflow,
		Status:    r.status,
		StartedAt: r.startedAt,
		Results:   append([]StepResult(nil), r.results...),
		Errors:    append([]StepError(nil), r.errors...),
		Error:     r.err,
	}
	if r.completedAt.IsZero() {
		view.ElapsedSeconds = e.now().Sub(r.startedAt).Seconds()
	} else {
		completed := r.completedAt
		view.CompletedAt = &completed
		view.ElapsedSeconds = completed.Sub(r.startedAt).Seconds()
	}
	return view
}

// sweepCompleted drops the oldest finished runs past the retention bound.
// Running runs are never swept.
func (e *Executor) sweepCompleted() {
	e.mu.Lock()
	defer e.mu.Unlock()

	type finished struct {
		id          string
		completedAt time.Time
	}
	var done []finished
	for id, r := range e.runs {
		r.mu.Lock()
		if r.status != RunRunning {
			done = append(done, finished{id: id, completedAt: r.completedAt})
		}
		r.mu.Unlock()
	}
	if len(done) <= maxCompletedRuns {
		return
	}

	sort.Slice(done, func(i, j int) bool {
		return done[i].completedAt.Before(done[j].completedAt)
	})
	for _, f := range done[:len(done)-maxCompletedRuns] {
		delete(e.runs, f.id)
	}
}
