// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// WorkflowStarter begins an asynchronous workflow run. Either a named
// template or an inline definition identifies the workflow.
type WorkflowStarter interface {
	StartRun(ctx context.Context, name string, definition map[string]interface{}, variables map[string]interface{}) (runID string, err error)
}

// WorkflowTriggerHandler hands workflow starts to the executor and
// returns immediately.
type WorkflowTriggerHandler struct {
	starter WorkflowStarter
	log     *logger.Logger
}

// NewWorkflowTriggerHandler creates the workflow_trigger handler
func NewWorkflowTriggerHandler(starter WorkflowStarter) *WorkflowTriggerHandler {
	return &WorkflowTriggerHandler{
		starter: starter,
		log:     logger.New("workflowtrigger-handler"),
	}
}

func (h *WorkflowTriggerHandler) Type() Type { return TypeWorkflowTrigger }

// Execute starts a workflow run and returns its id without waiting for
// the run to finish.
func (h *WorkflowTriggerHandler) Execute(ctx context.Context, params, actionCtx map[string]interface{}) (map[string]interface{}, error) {
	name, _ := StringParam(params, "workflow")
	if name == "" {
		name, _ = StringParam(params, "template")
	}
	definition, _ := params["definition"].(map[string]interface{})
	if name == "" && definition == nil {
		return nil, &ConfigError{Scope: "workflow_trigger", Field: "workflow", Msg: "workflow name, template or definition is required"}
	}

	variables, _ := params["variables"].(map[string]interface{})
	if variables == nil {
		variables = make(map[string]interface{})
	}
	for k, v := range actionCtx {
		if _, ok := variables[k]; !ok {
			variables[k] = v
		}
	}

	runID, err := h.starter.StartRun(ctx, name, definition, variables)
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	h.log.Info("", runID, "workflow run started", map[string]interface{}{"workflow": name})
	return map[string]interface{}{
		"status":    "started",
		"run_id":    runID,
		"workflow":  name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
