// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the LiveDataRag action service.
//
// The service turns retrieval-augmented query results into gated autonomous
// actions:
// - Decides whether an action is warranted (user rules, then LLM fallback)
// - Validates every action against the safety checks before dispatch
// - Executes alerts, API calls, data updates and workflow triggers
// - Tracks action history for rate limiting and duplicate suppression
//
// Usage:
//
//	./actiond -config config.yaml
//
// Environment Variables:
//
//	LIVERAG_LISTEN_ADDR - HTTP listen address (default: :8085)
//	LIVERAG_DATABASE_URL - PostgreSQL connection string (optional)
//	LIVERAG_REDIS_URL - Redis URL for distributed rate gating (optional)
//	LIVERAG_OPENAI_API_KEY - enables the LLM decision fallback (optional)
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/api"
	"github.com/KavyaMunusamy/LiveDataRag/config"
	"github.com/KavyaMunusamy/LiveDataRag/decision"
	"github.com/KavyaMunusamy/LiveDataRag/history"
	"github.com/KavyaMunusamy/LiveDataRag/llm"
	"github.com/KavyaMunusamy/LiveDataRag/llm/openai"
	"github.com/KavyaMunusamy/LiveDataRag/metrics"
	"github.com/KavyaMunusamy/LiveDataRag/registry"
	"github.com/KavyaMunusamy/LiveDataRag/safety"
	"github.com/KavyaMunusamy/LiveDataRag/shared/logger"
	"github.com/KavyaMunusamy/LiveDataRag/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	log := logger.New("actiond")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("", "", "failed to load configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("", "", "service exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Relational store: action history, in-app notifications, data updates.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}

	var store history.Store
	if db != nil {
		pg := history.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure history schema: %w", err)
		}
		defer pg.Close()
		store = pg
		log.Info("", "", "action history backed by postgres", nil)
	} else {
		store = history.NewMemoryStore(cfg.HistoryCapacity)
		log.Info("", "", "action history in memory", map[string]interface{}{"capacity": cfg.HistoryCapacity})
	}

	validator := safety.NewValidator(store, cfg.SafetyConfig())

	var gate registry.RateGate
	if cfg.RedisURL != "" {
		redisGate, err := registry.NewRedisGate(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis gate: %w", err)
		}
		defer redisGate.Close()
		gate = redisGate
		log.Info("", "", "rate gate backed by redis", nil)
	} else {
		gate = registry.NewBucketGate()
	}

	m := metrics.New()

	reg := registry.New(validator, gate, store,
		registry.WithRecorder(m),
		registry.WithAlwaysConfirm(cfg.AlwaysConfirm),
	)

	executor := workflow.NewExecutor(&registryRunner{registry: reg},
		workflow.WithTemplates(cfg.WorkflowTemplates),
		workflow.WithRecorder(m))

	reg.Register(actions.NewAlertHandler(cfg.Alerts, nil, db))
	reg.Register(actions.NewAPICallHandler(nil))
	reg.Register(actions.NewWorkflowTriggerHandler(executor))
	if db != nil {
		reg.Register(actions.NewDataUpdateHandler(db, cfg.AllowedTables))
	} else {
		log.Warn("", "", "data_update handler disabled: no database configured", nil)
	}

	// LLM fallback is optional. Without it unmatched queries yield no action.
	var llmClient llm.Client
	if cfg.LLM.APIKey != "" {
		provider, err := openai.NewProvider(openai.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		if err != nil {
			return fmt.Errorf("create llm provider: %w", err)
		}
		llmClient = provider
		log.Info("", "", "llm decision fallback enabled", map[string]interface{}{"model": cfg.LLM.Model})
	}
	engine := decision.NewEngine(llmClient, cfg.LLM.Model)

	server := api.NewServer(reg, executor,
		api.WithDecider(engine, cfg.UserRules),
		api.WithSafetyStats(validator),
		api.WithMetricsHandler(m.Handler()),
	)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "action service listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("", "", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// registryRunner adapts the registry to the workflow executor's step runner.
// Any non-executed terminal status aborts the step.
type registryRunner struct {
	registry *registry.Registry
}

func (r *registryRunner) Run(ctx context.Context, actionType string, params, actionCtx map[string]interface{}) (map[string]interface{}, error) {
	outcome := r.registry.ExecuteAction(ctx, actions.Request{
		Type:       actions.Type(actionType),
		Parameters: params,
		Context:    actionCtx,
	})
	switch outcome.Status {
	case actions.StatusExecuted:
		return outcome.Result, nil
	case actions.StatusBlocked, actions.StatusRateLimited:
		return nil, fmt.Errorf("action %s rejected: %s", outcome.ActionID, outcome.Reason)
	case actions.StatusRequiresConfirmation:
		return nil, fmt.Errorf("action %s requires manual confirmation", outcome.ActionID)
	default:
		return nil, fmt.Errorf("action %s failed: %s", outcome.ActionID, outcome.Error)
	}
}
