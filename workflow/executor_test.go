// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type runnerCall struct {
	actionType string
	params     map[string]interface{}
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []runnerCall
	run   func(actionType string, params map[string]interface{}) (map[string]interface{}, error)
}

func (f *fakeRunner) Run(_ context.Context, actionType string, params, _ map[string]interface{}) (map[string]interface{}, error) {
	f.mu.Lock()
	f.calls = append(f.calls, runnerCall{actionType: actionType, params: params})
	f.mu.Unlock()
	if f.run != nil {
		return f.run(actionType, params)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func instantSleep(e *Executor) {
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
}

func waitRun(t *testing.T, e *Executor, id string) *RunView {
	t.Helper()
	e.mu.Lock()
	r := e.runs[id]
	e.mu.Unlock()
	if r == nil {
		t.Fatalf("run %q not tracked", id)
	}
	select {
	case <-r.done:
	case <-time.After(10 * time.Second):
		t.Fatalf("run %q did not finish", id)
	}
	view, err := e.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return view
}

func TestSequentialRunInjectsStepOutputs(t *testing.T) {
	runner := &fakeRunner{
		run: func(actionType string, _ map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"from": actionType}, nil
		},
	}
	e := NewExecutor(runner)
	instantSleep(e)

	id, err := e.StartRun(context.Background(), "", map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"name": "first", "type": "action", "action_type": "api_call"},
			map[string]interface{}{
				"name": "second", "type": "condition",
				"condition": map[string]interface{}{"left": true, "operator": "==", "right": true},
				"if_true":   "saw {{step_0_result}}",
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	view := waitRun(t, e, id)
	if view.Status != RunCompleted {
		t.Fatalf("status = %s, want completed (%v)", view.Status, view.Errors)
	}
	if len(view.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(view.Results))
	}
	if view.Results[0].Step != "first" || view.Results[1].Step != "second" {
		t.Errorf("unexpected step order: %+v", view.Results)
	}
}

func TestSequentialRunAbortsOnFailure(t *testing.T) {
	runner := &fakeRunner{
		run: func(actionType string, _ map[string]interface{}) (map[string]interface{}, error) {
			if actionType == "alert" {
				return nil, errors.New("smtp down")
			}
			return map[string]interface{}{}, nil
		},
	}
	e := NewExecutor(runner)
	instantSleep(e)

	id, _ := e.StartRun(context.Background(), "", map[string]interface{}{
		"max_retries": 1.0,
		"steps": []interface{}{
			map[string]interface{}{"name": "notify", "type": "action", "action_type": "alert"},
			map[string]interface{}{"name": "followup", "type": "action", "action_type": "api_call"},
		},
	}, nil)

	view := waitRun(t, e, id)
	if view.Status != RunFailed {
		t.Fatalf("status = %s, want failed", view.Status)
	}
	if len(view.Errors) != 1 || view.Errors[0].Step != "notify" {
		t.Errorf("errors = %+v", view.Errors)
	}
	if runner.callCount() != 1 {
		t.Errorf("followup step should not run after abort, calls = %d", runner.callCount())
	}
}

func TestSequentialRunContinueOnError(t *testing.T) {
	runner := &fakeRunner{
		run: func(actionType string, _ map[string]interface{}) (map[string]interface{}, error) {
			if actionType == "alert" {
				return nil, errors.New("smtp down")
			}
			return map[string]interface{}{}, nil
		},
	}
	e := NewExecutor(runner)
	instantSleep(e)

	id, _ := e.StartRun(context.Background(), "", map[string]interface{}{
		"max_retries": 1.0,
		"steps": []interface{}{
			map[string]interface{}{"name": "notify", "type": "action", "action_type": "alert", "continue_on_error": true},
			map[string]interface{}{"name": "followup", "type": "action", "action_type": "api_call"},
		},
	}, nil)

	view := waitRun(t, e, id)
	if view.Status != RunCompletedWithErrors {
		t.Fatalf("status = %s, want completed_with_errors", view.Status)
	}
	if len(view.Results) != 1 || len(view.Errors) != 1 {
		t.Errorf("results = %d errors = %d", len(view.Results), len(view.Errors))
	}
}

func TestParallelRunCollectsFailures(t *testing.T) {
	runner := &fakeRunner{
		run: func(actionType string, _ map[string]interface{}) (map[string]interface{}, error) {
			if actionType == "alert" {
				return nil, errors.New("smtp down")
			}
			return map[string]interface{}{}, nil
		},
	}
	e := NewExecutor(runner)
	instantSleep(e)

	id, _ := e.StartRun(context.Background(), "", map[string]interface{}{
		"parallel":    true,
		"max_retries": 1.0,
		"steps": []interface{}{
			map[string]interface{}{"name": "a", "type": "action", "action_type": "api_call"},
			map[string]interface{}{"name": "b", "type": "action", "action_type": "alert"},
			map[string]interface{}{"name": "c", "type": "action", "action_type": "api_call"},
		},
	}, nil)

	view := waitRun(t, e, id)
	if view.Status != RunCompletedWithErrors {
		t.Fatalf("status = %s, want completed_with_errors", view.Status)
	}
	if len(view.Results) != 2 {
		t.Errorf("results = %d, want 2", len(view.Results))
	}
	if len(view.Errors) != 1 || view.Errors[0].Step != "b" {
		t.Errorf("errors = %+v", view.Errors)
	}
	if runner.callCount() != 3 {
		t.Errorf("all parallel steps should run, calls = %d", runner.callCount())
	}
}

func TestStepRetriesWithBackoff(t *testing.T) {
	attempts := 0
	runner := &fakeRunner{
		run: func(string, map[string]interface{}) (map[string]interface{}, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return map[string]interface{}{}, nil
		},
	}
	e := NewExecutor(runner)

	var delays []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	id, _ := e.StartRun(context.Background(), "", map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"name": "flaky", "type": "action", "action_type": "api_call"},
		},
	}, nil)

	view := waitRun(t, e, id)
	if view.Status != RunCompleted {
		t.Fatalf("status = %s, want completed", view.Status)
	}
	if view.Results[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", view.Results[0].Attempts)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("backoff delays = %v, want [1s 2s]", delays)
	}
}

func TestRunTimeout(t *testing.T) {
	e := NewExecutor(&fakeRunner{})

	id, _ := e.StartRun(context.Background(), "", map[string]interface{}{
		"timeout": 1.0,
		"steps": []interface{}{
			map[string]interface{}{"name": "wait", "type": "delay", "parameters": map[string]interface{}{"seconds": 30.0}},
		},
	}, nil)

	view := waitRun(t, e, id)
	if view.Status != RunTimeout {
		t.Fatalf("status = %s, want timeout", view.Status)
	}
	if !strings.Contains(view.Error, "timed out") {
		t.Errorf("error = %q", view.Error)
	}
}

func TestRunCancellation(t *testing.T) {
	e := NewExecutor(&fakeRunner{})

	id, _ := e.StartRun(context.Background(), "", map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{"name": "wait", "type": "delay", "parameters": map[string]interface{}{"seconds": 30.0}},
		},
	}, nil)

	// Give the run a moment to enter the delay
	time.Sleep(50 * time.Millisecond)
	if _, err := e.CancelRun(id); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	view := waitRun(t, e, id)
	if view.Status != RunCancelled {
		t.Fatalf("status = %s, want cancelled", view.Status)
	}
}

func TestConditionStepBranches(t *testing.T) {
	e := NewExecutor(&fakeRunner{})
	instantSleep(e)

	id, _ := e.StartRun(context.Background(), "", map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{
				"name": "gate", "type": "condition",
				"condition": map[string]interface{}{"left": "{{price}}", "operator": ">", "right": 100.0},
				"if_true":   map[string]interface{}{"escalate": true},
				"if_false":  map[string]interface{}{"escalate": false},
			},
		},
	}, map[string]interface{}{"price": 187.5})

	view := waitRun(t, e, id)
	if view.Status != RunCompleted {
		t.Fatalf("status = %s (%v)", view.Status, view.Errors)
	}

	output := view.Results[0].Output.(map[string]interface{})
	if output["branch"] != "if_true" || output["result"] != true {
		t.Errorf("unexpected condition output: %v", output)
	}
	branch := output["output"].(map[string]interface{})
	if branch["escalate"] != true {
		t.Errorf("unexpected branch payload: %v", branch)
	}
}

type stubWebhookClient struct {
	lastReq *http.Request
}

func (c *stubWebhookClient) Do(req *http.Request) (*http.Response, error) {
	c.lastReq = req
	return &http.Response{
		StatusCode: 202,
		Body:       io.NopCloser(strings.NewReader("accepted")),
	}, nil
}

func TestWebhookStep(t *testing.T) {
	client := &stubWebhookClient{}
	e := NewExecutor(&fakeRunner{}, WithHTTPClient(client))
	instantSleep(e)

	id, _ := e.StartRun(context.Background(), "", map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{
				"name": "notify", "type": "webhook",
				"parameters": map[string]interface{}{
					"url":     "https://example.com/hook",
					"payload": map[string]interface{}{"run": "{{run_name}}"},
				},
			},
		},
	}, map[string]interface{}{"run_name": "nightly"})

	view := waitRun(t, e, id)
	if view.Status != RunCompleted {
		t.Fatalf("status = %s (%v)", view.Status, view.Errors)
	}

	output := view.Results[0].Output.(map[string]interface{})
	if output["status_code"] != 202 || output["response"] != "accepted" {
		t.Errorf("unexpected webhook output: %v", output)
	}
	if client.lastReq.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", client.lastReq.Method)
	}
}

func TestStartRunUnknownTemplate(t *testing.T) {
	e := NewExecutor(&fakeRunner{})

	if _, err := e.StartRun(context.Background(), "nope", nil, nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestStartRunTemplate(t *testing.T) {
	runner := &fakeRunner{}
	e := NewExecutor(runner)
	instantSleep(e)

	id, err := e.StartRun(context.Background(), "data_pipeline", nil, map[string]interface{}{
		"data_source": "https://feed.example.com/prices",
		"timestamp":   "2025-03-04T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	view := waitRun(t, e, id)
	if view.Status != RunCompleted {
		t.Fatalf("status = %s (%v)", view.Status, view.Errors)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(runner.calls))
	}
	if runner.calls[0].params["endpoint"] != "https://feed.example.com/prices" {
		t.Errorf("template variable not substituted: %v", runner.calls[0].params)
	}
}

func TestCompletedRunRetention(t *testing.T) {
	e := NewExecutor(&fakeRunner{})
	instantSleep(e)

	def := map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{
				"name": "noop", "type": "condition",
				"condition": map[string]interface{}{"left": 1.0, "operator": "==", "right": 1.0},
			},
		},
	}

	var first string
	for i := 0; i < maxCompletedRuns+10; i++ {
		id, err := e.StartRun(context.Background(), "", def, nil)
		if err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		if i == 0 {
			first = id
		}
		waitRun(t, e, id)
	}

	if len(e.ListRuns()) > maxCompletedRuns {
		t.Errorf("tracked runs = %d, exceeds retention bound %d", len(e.ListRuns()), maxCompletedRuns)
	}
	if _, err := e.GetRun(first); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("oldest run should be swept, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	e := NewExecutor(&fakeRunner{})
	instantSleep(e)

	def := map[string]interface{}{
		"steps": []interface{}{
			map[string]interface{}{
				"name": "noop", "type": "condition",
				"condition": map[string]interface{}{"left": 1.0, "operator": "==", "right": 1.0},
			},
		},
	}

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := e.StartRun(context.Background(), "", def, nil)
		waitRun(t, e, id)
		ids = append(ids, id)
		time.Sleep(5 * time.Millisecond)
	}

	views := e.ListRuns()
	if len(views) != 3 {
		t.Fatalf("runs = %d, want 3", len(views))
	}
	if views[0].ID != ids[2] {
		t.Errorf("newest run should come first, got %s want %s", views[0].ID, ids[2])
	}
	for _, v := range views {
		if v.ElapsedSeconds < 0 {
			t.Errorf("negative elapsed for %s", v.ID)
		}
	}
}
