// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the completion client consumed by the decision
// engine. Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"time"
)

// Client is the interface the decision engine calls for LLM completions
type Client interface {
	// Complete generates a completion for the given request. The context
	// carries cancellation and timeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest describes one completion call
type CompletionRequest struct {
	SystemPrompt string  // Optional system prompt
	Prompt       string  // The user message
	Model        string  // Model override
	MaxTokens    int     // Maximum tokens to generate
	Temperature  float64 // Sampling temperature
	JSONResponse bool    // Request a JSON-object response mode
}

// CompletionResponse is the provider-independent completion result
type CompletionResponse struct {
	Content string
	Model   string
	Usage   UsageStats
	Latency time.Duration
}

// UsageStats contains token usage statistics
type UsageStats struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// IsRateLimit reports whether err (or anything it wraps) is a provider
// rate-limit rejection, as opposed to a generic API failure.
func IsRateLimit(err error) bool {
	var rl interface{ IsRateLimitError() bool }
	return errors.As(err, &rl) && rl.IsRateLimitError()
}
