// Package config loads control-plane configuration from defaults overlaid
// by environment variables, following the three-layer priority the teacher
// framework uses: defaults, then env vars, then functional options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the task queue, router, and optimizer need.
type Config struct {
	// HTTP server
	ServerPort int `json:"server_port" env:"SERVER_PORT" default:"8080"`

	// Store
	DBPath string `json:"db_path" env:"DB_PATH" default:"./taskqueue.db"`

	// Task queue
	MaxConcurrent      int           `json:"max_concurrent" env:"TASK_QUEUE_MAX_CONCURRENT" default:"1"`
	MaxRetries         int           `json:"max_retries" env:"TASK_QUEUE_MAX_RETRIES" default:"3"`
	DefaultTimeout     time.Duration `json:"default_timeout" env:"TASK_DEFAULT_TIMEOUT_MS" default:"120000ms"`
	SchedulerTick      time.Duration `json:"scheduler_tick" default:"1s"`
	DefaultBackoffMs   int           `json:"default_backoff_ms" default:"1000"`
	BackoffMultiplier  float64       `json:"backoff_multiplier" default:"2"`
	MaxBackoffMs       int           `json:"max_backoff_ms" default:"60000"`
	WebhookTimeout     time.Duration `json:"webhook_timeout" default:"10s"`

	// Router / self-learner
	SelfLearnInterval       time.Duration `json:"self_learn_interval" default:"60s"`
	MinCallsForOptimization int           `json:"min_calls_for_optimization" default:"10"`
	SuccessRateUpgrade      float64       `json:"success_rate_upgrade_threshold" default:"0.7"`
	DowngradeTestInterval   int           `json:"downgrade_test_interval" default:"500"`
	DowngradeTestSample     int           `json:"downgrade_test_sample_size" default:"10"`
	SuccessRateKeep         float64       `json:"success_rate_keep_threshold" default:"0.9"`

	// Adaptive memory optimizer
	OptimizerInterval       time.Duration `json:"optimizer_interval" default:"120000ms"`
	MinEntriesForOptimize   int           `json:"min_entries_for_optimization" default:"10"`
	TargetUsageRatio        float64       `json:"target_usage_ratio" default:"0.65"`
	OptimizerLearningRate   float64       `json:"optimizer_learning_rate" default:"0.05"`
	MaxHistoryEntries       int           `json:"max_history_entries" default:"500"`

	// Outbound chat endpoint / router fallback
	ChatEndpointURL  string `json:"chat_endpoint_url" env:"CHAT_ENDPOINT_URL" default:"http://localhost:9090"`
	FallbackProvider string `json:"fallback_provider" env:"ROUTER_FALLBACK_PROVIDER" default:"anthropic"`
	FallbackModel    string `json:"fallback_model" env:"ROUTER_FALLBACK_MODEL" default:"claude-sonnet"`
}

// Default returns a Config populated with the spec's documented defaults.
func Default() *Config {
	return &Config{
		ServerPort:              8080,
		DBPath:                  "./taskqueue.db",
		MaxConcurrent:           1,
		MaxRetries:              3,
		DefaultTimeout:          120000 * time.Millisecond,
		SchedulerTick:           1 * time.Second,
		DefaultBackoffMs:        1000,
		BackoffMultiplier:       2,
		MaxBackoffMs:            60000,
		WebhookTimeout:          10 * time.Second,
		SelfLearnInterval:       60 * time.Second,
		MinCallsForOptimization: 10,
		SuccessRateUpgrade:      0.7,
		DowngradeTestInterval:   500,
		DowngradeTestSample:     10,
		SuccessRateKeep:         0.9,
		OptimizerInterval:       120000 * time.Millisecond,
		MinEntriesForOptimize:   10,
		TargetUsageRatio:        0.65,
		OptimizerLearningRate:   0.05,
		MaxHistoryEntries:       500,
		ChatEndpointURL:         "http://localhost:9090",
		FallbackProvider:        "anthropic",
		FallbackModel:           "claude-sonnet",
	}
}

// LoadFromEnv overlays environment variables onto an existing Config,
// leaving fields untouched when the variable is unset. A variable that
// does not parse as an integer where one is expected returns an error.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.ServerPort = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("TASK_QUEUE_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TASK_QUEUE_MAX_CONCURRENT %q: %w", v, err)
		}
		c.MaxConcurrent = n
	}
	if v := os.Getenv("TASK_QUEUE_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TASK_QUEUE_MAX_RETRIES %q: %w", v, err)
		}
		c.MaxRetries = n
	}
	if v := os.Getenv("TASK_DEFAULT_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TASK_DEFAULT_TIMEOUT_MS %q: %w", v, err)
		}
		c.DefaultTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("CHAT_ENDPOINT_URL"); v != "" {
		c.ChatEndpointURL = v
	}
	if v := os.Getenv("ROUTER_FALLBACK_PROVIDER"); v != "" {
		c.FallbackProvider = v
	}
	if v := os.Getenv("ROUTER_FALLBACK_MODEL"); v != "" {
		c.FallbackModel = v
	}
	return nil
}

// Option configures a Config; applied after env vars so callers (tests,
// cmd/taskqueue-server flags) always win.
type Option func(*Config)

// WithServerPort overrides the HTTP listen port.
func WithServerPort(port int) Option {
	return func(c *Config) { c.ServerPort = port }
}

// WithDBPath overrides the SQLite database path.
func WithDBPath(path string) Option {
	return func(c *Config) { c.DBPath = path }
}

// Load builds a Config from defaults, environment variables, then opts.
func Load(opts ...Option) (*Config, error) {
	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}
