// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/KavyaMunusamy/LiveDataRag/sdk"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
)

// perDomainLimit caps outbound calls per domain per minute
const perDomainLimit = 60

// maxErrorBody bounds how much of a failed response is carried in the error
const maxErrorBody = 200

// APICallHandler makes outbound HTTP calls with per-domain rate limiting
// and transport-level retries.
type APICallHandler struct {
	client  HTTPDoer
	limiter *sdk.KeyedWindowLimiter
	log     *logger.Logger
}

// NewAPICallHandler creates the api_call handler
func NewAPICallHandler(client HTTPDoer) *APICallHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &APICallHandler{
		client:  client,
		limiter: sdk.NewKeyedWindowLimiter(time.Minute, perDomainLimit),
		log:     logger.New("apicall-handler"),
	}
}

func (h *APICallHandler) Type() Type { return TypeAPICall }

type apiCallParams struct {
	Endpoint   string `validate:"required,url"`
	Method     string `validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD"`
	RetryCount int    `validate:"min=1,max=10"`
	RetryDelay time.Duration
	Payload    map[string]interface{}
	Headers    map[string]string
}

func parseAPICallParams(params map[string]interface{}) (*apiCallParams, error) {
	p := &apiCallParams{Method: http.MethodGet, RetryCount: 3, RetryDelay: time.Second}

	p.Endpoint, _ = StringParam(params, "endpoint")
	if v, ok := StringParam(params, "method"); ok {
		p.Method = v
	}
	if v, ok := NumberParam(params, "retry_count"); ok {
		p.RetryCount = int(v)
	}
	if v, ok := NumberParam(params, "retry_delay"); ok {
		p.RetryDelay = time.Duration(v * float64(time.Second))
	}
	if raw, ok := params["payload"].(map[string]interface{}); ok {
		p.Payload = raw
	}
	if raw, ok := params["headers"].(map[string]interface{}); ok {
		p.Headers = make(map[string]string, len(raw))
		for k, v := range raw {
			p.Headers[k] = fmt.Sprint(v)
		}
	}

	if err := validate.Struct(p); err != nil {
		return nil, &ConfigError{Scope: "api_call", Field: "parameters", Msg: err.Error()}
	}

	u, err := url.Parse(p.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigError{Scope: "api_call", Field: "endpoint", Msg: fmt.Sprintf("invalid endpoint %q", p.Endpoint)}
	}
	return p, nil
}

// Execute makes the outbound call. Transport errors are retried with
// exponential backoff; HTTP error statuses are not.
func (h *APICallHandler) Execute(ctx context.Context, params, actionCtx map[string]interface{}) (map[string]interface{}, error) {
	p, err := parseAPICallParams(params)
	if err != nil {
		return nil, err
	}

	domain := mustHost(p.Endpoint)
	if !h.limiter.TryAcquire(domain) {
		return nil, fmt.Errorf("rate limit exceeded for %s", domain)
	}

	retryCfg := &sdk.RetryConfig{
		MaxRetries:      p.RetryCount - 1,
		InitialInterval: p.RetryDelay,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		RetryIf:         sdk.DefaultRetryCondition,
	}

	attempts := 0
	response, err := sdk.RetryWithBackoff(ctx, retryCfg, func() (map[string]interface{}, error) {
		attempts++
		return h.makeRequest(ctx, p)
	})
	if err != nil {
		h.log.Error("", "", "api call failed", map[string]interface{}{
			"endpoint": p.Endpoint,
			"attempts": attempts,
			"error":    err.Error(),
		})
		return nil, err
	}

	h.log.Info("", "", "api call successful", map[string]interface{}{
		"endpoint": p.Endpoint,
		"attempts": attempts,
	})
	return map[string]interface{}{
		"status":    "success",
		"response":  response,
		"attempts":  attempts,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *APICallHandler) makeRequest(ctx context.Context, p *apiCallParams) (map[string]interface{}, error) {
	endpoint := p.Endpoint
	var body io.Reader

	switch p.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		data, err := json.Marshal(p.Payload)
		if err != nil {
			return nil, &sdk.NonRetryableError{Err: fmt.Errorf("failed to encode payload: %w", err)}
		}
		body = bytes.NewReader(data)
	case http.MethodGet:
		if len(p.Payload) > 0 {
			q := url.Values{}
			for k, v := range p.Payload {
				q.Set(k, fmt.Sprint(v))
			}
			endpoint = endpoint + "?" + q.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, endpoint, body)
	if err != nil {
		return nil, &sdk.NonRetryableError{Err: err}
	}

	req.Header.Set("User-Agent", "LiveDataRAG/1.0")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "rag_"+uuid.NewString())
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// Transport errors are the retryable class
		return nil, &sdk.RetryableError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &sdk.RetryableError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		truncated := string(raw)
		if len(truncated) > maxErrorBody {
			truncated = truncated[:maxErrorBody]
		}
		return nil, &sdk.NonRetryableError{
			Err: fmt.Errorf("API returned error %d: %s", resp.StatusCode, truncated),
		}
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"data":        data,
		"size":        len(raw),
	}, nil
}

// Stats reports per-domain call counts in the active window
func (h *APICallHandler) Stats() map[string]interface{} {
	counts := h.limiter.Counts()
	total := 0
	for _, c := range counts {
		total += c
	}
	return map[string]interface{}{
		"total_calls":    total,
		"active_domains": len(counts),
		"per_domain":     counts,
	}
}

func mustHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return u.Host
}
