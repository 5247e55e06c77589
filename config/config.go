// Copyright 2025 LiveDataRag Contributors
// SPDX-License-Identifier: Apache-2.0

// Package config loads service configuration from an optional YAML file
// with environment variable expansion, then applies LIVERAG_-prefixed
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/KavyaMunusamy/LiveDataRag/actions"
	"github.com/KavyaMunusamy/LiveDataRag/rules"
	"github.com/KavyaMunusamy/LiveDataRag/safety"
	"github.com/KavyaMunusamy/LiveDataRag/workflow"
)

// EnvPrefix namespaces all environment overrides
const EnvPrefix = "LIVERAG_"

var validate = validator.New()

// LLMConfig selects and configures the decision model provider
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// RateLimitConfig is one action type's validator windows
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute" validate:"min=0"`
	PerHour   int `yaml:"per_hour" validate:"min=0"`
}

// Config is the full service configuration
type Config struct {
	ListenAddr  string `yaml:"listen_addr" validate:"required"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	LLM    LLMConfig           `yaml:"llm"`
	Alerts actions.AlertConfig `yaml:"alerts"`

	HistoryCapacity int      `yaml:"history_capacity" validate:"min=0"`
	AllowedTables   []string `yaml:"allowed_tables"`
	AlwaysConfirm   []string `yaml:"always_confirm"`

	UserRules   []rules.Rule               `yaml:"user_rules"`
	SafetyRules []safety.Rule              `yaml:"safety_rules"`
	RateLimits  map[string]RateLimitConfig `yaml:"rate_limits"`
	Maintenance safety.MaintenanceWindow   `yaml:"maintenance_window"`

	WorkflowTemplates map[string]*workflow.Definition `yaml:"workflow_templates"`
}

// Default returns the baseline configuration before file and env loading
func Default() *Config {
	return &Config{
		ListenAddr:      ":8085",
		HistoryCapacity: 1000,
		LLM: LLMConfig{
			Model: "gpt-4-turbo-preview",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// non-empty, then environment overrides. Environment variables referenced
// inside the file as ${VAR} or ${VAR:-default} are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := ExpandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.Model, "OPENAI_MODEL")
	setString(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Alerts.SMTP.Host, "SMTP_HOST")
	setInt(&c.Alerts.SMTP.Port, "SMTP_PORT")
	setString(&c.Alerts.SMTP.Username, "SMTP_USERNAME")
	setString(&c.Alerts.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.Alerts.SMTP.From, "SMTP_FROM")
	setString(&c.Alerts.SlackWebhookURL, "SLACK_WEBHOOK_URL")
	setString(&c.Alerts.DefaultEmail, "ALERT_EMAIL")
	setInt(&c.HistoryCapacity, "HISTORY_CAPACITY")
}

// SafetyConfig converts the loaded settings into the validator's form
func (c *Config) SafetyConfig() safety.Config {
	var limits map[actions.Type]safety.RateLimit
	if len(c.RateLimits) > 0 {
		limits = make(map[actions.Type]safety.RateLimit, len(c.RateLimits))
		for name, rl := range c.RateLimits {
			limits[actions.Type(name)] = safety.RateLimit{
				PerMinute: rl.PerMinute,
				PerHour:   rl.PerHour,
			}
		}
	}
	return safety.Config{
		Rules:       c.SafetyRules,
		RateLimits:  limits,
		Maintenance: c.Maintenance,
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
