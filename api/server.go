// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the action pipeline over HTTP. The surface is thin:
// handlers decode, delegate and encode. All behavior lives in the packages
// behind the interfaces below.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/decision"
	"github.com/KavyaMunusamy/LiveDataRag/history"
	"github.com/KavyaMunusamy/LiveDataRag/registry"
	"github.com/KavyaMunusamy/LiveDataRag/rules"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
	"github.com/KavyaMunusamy/LiveDataRag/workflow"
)

const defaultHistoryLimit = 50

// Dispatcher is the registry surface the API needs
type Dispatcher interface {
	ExecuteAction(ctx context.Context, req actions.Request) *registry.Outcome
	ConfirmAction(ctx context.Context, actionID string) (*registry.Outcome, error)
	History(ctx context.Context, actionType actions.Type, limit int) ([]*history.Record, error)
}

// WorkflowManager is the executor surface the API needs
type WorkflowManager interface {
	GetRun(runID string) (*workflow.RunView, error)
	CancelRun(runID string) (*workflow.RunView, error)
	ListRuns() []*workflow.RunView
}

// Decider evaluates whether a query warrants an autonomous action
type Decider interface {
	EvaluateForAction(ctx context.Context, query, contextText string, userRules []rules.Rule, historical []*history.Record) *decision.Decision
}

// StatsProvider exposes aggregate safety statistics
type StatsProvider interface {
	Stats() map[string]interface{}
}

// Server holds the HTTP handlers for the action service
type Server struct {
	dispatcher Dispatcher
	workflows  WorkflowManager
	decider    Decider
	safety     StatsProvider
	userRules  []rules.Rule
	metrics    http.Handler
	log        *logger.Logger
}

// ServerOption configures optional server collaborators
type ServerOption func(*Server)

// WithDecider enables the evaluate endpoint
func WithDecider(d Decider, userRules []rules.Rule) ServerOption {
	return func(s *Server) {
		s.decider = d
		s.userRules = userRules
	}
}

// WithSafetyStats enables the safety stats endpoint
func WithSafetyStats(p StatsProvider) ServerOption {
	return func(s *Server) { s.safety = p }
}

// WithMetricsHandler mounts a Prometheus exposition handler at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates the HTTP server around the given collaborators
func NewServer(dispatcher Dispatcher, workflows WorkflowManager, opts ...ServerOption) *Server {
	s := &Server{
		dispatcher: dispatcher,
		workflows:  workflows,
		log:        logger.New("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods("GET")
	}

	r.HandleFunc("/actions/execute", s.handleExecute).Methods("POST")
	r.HandleFunc("/actions/evaluate", s.handleEvaluate).Methods("POST")
	r.HandleFunc("/actions/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/actions/{id}/confirm", s.handleConfirm).Methods("POST")

	r.HandleFunc("/safety/stats", s.handleSafetyStats).Methods("GET")

	r.HandleFunc("/workflows", s.handleListRuns).Methods("GET")
	r.HandleFunc("/workflows/{id}", s.handleGetRun).Methods("GET")
	r.HandleFunc("/workflows/{id}", s.handleCancelRun).Methods("DELETE")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "actiond",
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req actions.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if !req.Type.Valid() {
		s.writeError(w, http.StatusBadRequest, "UNKNOWN_ACTION_TYPE", "unknown action type: "+string(req.Type))
		return
	}

	outcome := s.dispatcher.ExecuteAction(r.Context(), req)
	s.writeJSON(w, statusCodeFor(outcome.Status), outcome)
}

// evaluateRequest drives the decision engine over a query and its retrieved
// context. With auto_execute set, a positive decision is dispatched directly.
type evaluateRequest struct {
	Query       string `json:"query"`
	Context     string `json:"context"`
	AutoExecute bool   `json:"auto_execute"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.decider == nil {
		s.writeError(w, http.StatusServiceUnavailable, "DECIDER_DISABLED", "decision engine is not configured")
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "MISSING_QUERY", "query is required")
		return
	}

	historical, err := s.dispatcher.History(r.Context(), "", 20)
	if err != nil {
		s.log.Warn("", "", "history unavailable for decision", map[string]interface{}{"error": err.Error()})
		historical = nil
	}

	dec := s.decider.EvaluateForAction(r.Context(), req.Query, req.Context, s.userRules, historical)
	resp := map[string]interface{}{"decision": dec}
	if dec.ActionRequired && req.AutoExecute {
		resp["outcome"] = s.dispatcher.ExecuteAction(r.Context(), actions.Request{
			Type:       dec.ActionType,
			Parameters: dec.ActionParameters,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	actionID := mux.Vars(r)["id"]
	outcome, err := s.dispatcher.ConfirmAction(r.Context(), actionID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "UNKNOWN_CONFIRMATION", err.Error())
		return
	}
	s.writeJSON(w, statusCodeFor(outcome.Status), outcome)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	actionType := actions.Type(r.URL.Query().Get("type"))
	if actionType != "" && !actionType.Valid() {
		s.writeError(w, http.StatusBadRequest, "UNKNOWN_ACTION_TYPE", "unknown action type: "+string(actionType))
		return
	}

	records, err := s.dispatcher.History(r.Context(), actionType, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "HISTORY_UNAVAILABLE", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": records,
		"count":   len(records),
	})
}

func (s *Server) handleSafetyStats(w http.ResponseWriter, r *http.Request) {
	if s.safety == nil {
		s.writeError(w, http.StatusServiceUnavailable, "STATS_DISABLED", "safety statistics are not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.safety.Stats())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.workflows.ListRuns()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflows.GetRun(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	view, err := s.workflows.CancelRun(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// statusCodeFor maps a terminal action status to an HTTP status. Blocked and
// rate limited outcomes are client-visible rejections, not server errors.
func statusCodeFor(status actions.Status) int {
	switch status {
	case actions.StatusExecuted:
		return http.StatusOK
	case actions.StatusRequiresConfirmation:
		return http.StatusAccepted
	case actions.StatusBlocked:
		return http.StatusForbidden
	case actions.StatusRateLimited:
		return http.StatusTooManyRequests
	case actions.StatusFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("", "", "failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, apiError{Error: apiErrorDetail{Code: code, Message: message}})
}
