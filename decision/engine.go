// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package decision orchestrates rule-based and LLM-based action decisions.
// User rules always take precedence; the LLM path is a fallback and any
// failure there degrades to "no action" rather than surfacing an error.
package decision

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/history"
	"github.com/KavyaMunusamy/LiveDataRag/llm"
	"github.com/KavyaMunusamy/LiveDataRag/rules"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// Source identifies which path produced a decision
type Source string

const (
	SourceUserRule    Source = "user_rule"
	SourceLLMAnalysis Source = "llm_analysis"
)

// Decision is the recommendation returned to the query pipeline
type Decision struct {
	ActionRequired   bool                   `json:"action_required"`
	ActionType       actions.Type           `json:"action_type,omitempty"`
	ActionParameters map[string]interface{} `json:"action_parameters,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	Confidence       float64                `json:"confidence"`
	Source           Source                 `json:"decision_source"`
	UrgencyScore     float64                `json:"urgency_score,omitempty"`
	ExpectedImpact   string                 `json:"expected_impact,omitempty"`
	MatchingRule     string                 `json:"matching_rule,omitempty"`
}

// Engine decides whether an autonomous action is warranted
type Engine struct {
	matcher *rules.Matcher
	client  llm.Client
	model   string
	log     *logger.Logger
}

// NewEngine creates a decision engine. client may be nil, in which case
// only the rule path is available and unmatched queries yield no action.
func NewEngine(client llm.Client, model string) *Engine {
	return &Engine{
		matcher: rules.NewMatcher(),
		client:  client,
		model:   model,
		log:     logger.New("decision-engine"),
	}
}

// EvaluateForAction decides whether an action should be taken for the
// given query and retrieved context. It never returns an error: decision
// failures degrade to a no-action decision.
func (e *Engine) EvaluateForAction(ctx context.Context, query, contextText string, userRules []rules.Rule, historical []*history.Record) *Decision {
	if match := e.matcher.Match(userRules, query, contextText); match.ActionRequired {
		return &Decision{
			ActionRequired:   true,
			ActionType:       match.ActionType,
			ActionParameters: match.Parameters,
			Reason:           "matched user rule: " + match.MatchingRule,
			Confidence:       1.0,
			Source:           SourceUserRule,
			MatchingRule:     match.MatchingRule,
		}
	}

	return e.llmDecision(ctx, query, contextText, historical)
}

func (e *Engine) llmDecision(ctx context.Context, query, contextText string, historical []*history.Record) *Decision {
	noAction := &Decision{
		ActionRequired: false,
		Reason:         "decision engine error",
		Confidence:     0.0,
		Source:         SourceLLMAnalysis,
	}

	if e.client == nil {
		noAction.Reason = "no decision model configured"
		return noAction
	}

	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: decisionSystemPrompt,
		Prompt:       buildDecisionPrompt(query, contextText, historical),
		Model:        e.model,
		MaxTokens:    500,
		Temperature:  0.3,
		JSONResponse: true,
	})
	if err != nil {
		fields := map[string]interface{}{"error": err.Error()}
		if llm.IsRateLimit(err) {
			fields["rate_limited"] = true
		}
		e.log.Warn("", "", "LLM decision call failed, degrading to no action", fields)
		return noAction
	}

	var parsed struct {
		ActionRequired   bool                   `json:"action_required"`
		ActionType       string                 `json:"action_type"`
		ActionParameters map[string]interface{} `json:"action_parameters"`
		Reason           string                 `json:"reason"`
		Confidence       float64                `json:"confidence"`
		UrgencyScore     float64                `json:"urgency_score"`
		ExpectedImpact   string                 `json:"expected_impact"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil {
		e.log.Warn("", "", "LLM returned malformed decision JSON", map[string]interface{}{
			"error": err.Error(),
		})
		return noAction
	}

	decision := &Decision{
		ActionRequired:   parsed.ActionRequired,
		ActionParameters: parsed.ActionParameters,
		Reason:           parsed.Reason,
		Confidence:       clamp01(parsed.Confidence),
		Source:           SourceLLMAnalysis,
		UrgencyScore:     parsed.UrgencyScore,
		ExpectedImpact:   parsed.ExpectedImpact,
	}

	if parsed.ActionRequired {
		actionType := actions.Type(parsed.ActionType)
		if !actionType.Valid() {
			// "none" or an unknown type with action_required set means the
			// model contradicted itself; take the safe reading.
			decision.ActionRequired = false
			decision.Confidence = 0.0
			decision.Reason = "model recommended unknown action type: " + parsed.ActionType
			return decision
		}
		decision.ActionType = actionType
	}

	return decision
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
