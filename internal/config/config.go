// Package config loads the service configuration from YAML with
// environment variable overrides. Secrets live in env vars (or a local
// .env file); the YAML file carries structure and tuning.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/titledesk/mailroom/internal/dispatch"
	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/health"
	"github.com/titledesk/mailroom/internal/reconcile"
	"github.com/titledesk/mailroom/internal/suppression"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig            `yaml:"server"`
	DatabaseURL string                  `yaml:"database_url"`
	RedisURL    string                  `yaml:"redis_url"`
	Providers   []domain.ProviderConfig `yaml:"providers"`
	Health      HealthSection           `yaml:"health"`
	Retry       RetrySection            `yaml:"retry"`
	Suppression SuppressionSection      `yaml:"suppression"`
	Reconcile   ReconcileSection        `yaml:"reconcile"`
	Queue       QueueConfig             `yaml:"queue"`
	Log         LogConfig               `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// HealthSection tunes the provider health monitor.
type HealthSection struct {
	MaxFailuresBeforeFailover int     `yaml:"max_failures_before_failover"`
	DegradedThreshold         float64 `yaml:"degraded_threshold"`
	AutoRecovery              *bool   `yaml:"auto_recovery"`
	RecoveryIntervalSeconds   int     `yaml:"recovery_interval_seconds"`
}

// Monitor converts the section into the health package's config,
// filling unset fields from its defaults.
func (s HealthSection) Monitor() health.Config {
	cfg := health.DefaultConfig()
	if s.MaxFailuresBeforeFailover > 0 {
		cfg.MaxFailuresBeforeFailover = s.MaxFailuresBeforeFailover
	}
	if s.DegradedThreshold > 0 {
		cfg.DegradedThreshold = s.DegradedThreshold
	}
	if s.AutoRecovery != nil {
		cfg.AutoRecovery = *s.AutoRecovery
	}
	if s.RecoveryIntervalSeconds > 0 {
		cfg.RecoveryInterval = time.Duration(s.RecoveryIntervalSeconds) * time.Second
	}
	return cfg
}

// RetrySection tunes same-provider retry behavior.
type RetrySection struct {
	MaxAttempts           int     `yaml:"max_attempts"`
	InitialDelayMs        int     `yaml:"initial_delay_ms"`
	BackoffMultiplier     float64 `yaml:"backoff_multiplier"`
	MaxDelaySeconds       int     `yaml:"max_delay_seconds"`
	AttemptTimeoutSeconds int     `yaml:"attempt_timeout_seconds"`
}

// Engine converts the section into the dispatch package's retry config.
func (s RetrySection) Engine() dispatch.RetryConfig {
	cfg := dispatch.DefaultRetryConfig()
	if s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.InitialDelayMs > 0 {
		cfg.InitialDelay = time.Duration(s.InitialDelayMs) * time.Millisecond
	}
	if s.BackoffMultiplier > 0 {
		cfg.BackoffMultiplier = s.BackoffMultiplier
	}
	if s.MaxDelaySeconds > 0 {
		cfg.MaxDelay = time.Duration(s.MaxDelaySeconds) * time.Second
	}
	if s.AttemptTimeoutSeconds > 0 {
		cfg.AttemptTimeout = time.Duration(s.AttemptTimeoutSeconds) * time.Second
	}
	return cfg
}

// SuppressionSection tunes soft-bounce expiry and escalation.
type SuppressionSection struct {
	SoftBounceTTLHours     int `yaml:"soft_bounce_ttl_hours"`
	SoftBounceEscalation   int `yaml:"soft_bounce_escalation"`
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
}

// Registry converts the section into the suppression package's config.
func (s SuppressionSection) Registry() suppression.Config {
	cfg := suppression.DefaultConfig()
	if s.SoftBounceTTLHours > 0 {
		cfg.SoftBounceTTL = time.Duration(s.SoftBounceTTLHours) * time.Hour
	}
	if s.SoftBounceEscalation > 0 {
		cfg.SoftBounceEscalation = s.SoftBounceEscalation
	}
	if s.RefreshIntervalSeconds > 0 {
		cfg.RefreshInterval = time.Duration(s.RefreshIntervalSeconds) * time.Second
	}
	return cfg
}

// ReconcileSection tunes the event reconciler pipeline.
type ReconcileSection struct {
	SubBatchSize  int `yaml:"sub_batch_size"`
	Workers       int `yaml:"workers"`
	QueueDepth    int `yaml:"queue_depth"`
	DedupTTLHours int `yaml:"dedup_ttl_hours"`
}

// Reconciler converts the section into the reconcile package's config.
func (s ReconcileSection) Reconciler() reconcile.Config {
	cfg := reconcile.DefaultConfig()
	if s.SubBatchSize > 0 {
		cfg.SubBatchSize = s.SubBatchSize
	}
	if s.Workers > 0 {
		cfg.Workers = s.Workers
	}
	if s.QueueDepth > 0 {
		cfg.QueueDepth = s.QueueDepth
	}
	if s.DedupTTLHours > 0 {
		cfg.DedupTTL = time.Duration(s.DedupTTLHours) * time.Hour
	}
	return cfg
}

// QueueConfig holds asynq worker settings.
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
	MaxRetry    int `yaml:"max_retry"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 10
	}
	if cfg.Queue.MaxRetry == 0 {
		cfg.Queue.MaxRetry = 5
	}

	// Providers keep config-file ordering for deterministic tie-breaks.
	for i := range cfg.Providers {
		cfg.Providers[i].DeclarationOrder = i
	}

	if err := validateProviders(cfg.Providers); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateProviders(providers []domain.ProviderConfig) error {
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p.ID == "" {
			return fmt.Errorf("provider %q: missing id", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("provider %q: duplicate id", p.ID)
		}
		seen[p.ID] = true
		if !domain.ValidProviderKind(p.Kind) {
			return fmt.Errorf("provider %q: unknown kind %q", p.ID, p.Kind)
		}
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}

	// Per-provider secrets resolve from env by provider id:
	// MAILROOM_<ID>_API_KEY and friends, dashes mapped to underscores.
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		prefix := "MAILROOM_" + strings.ToUpper(strings.ReplaceAll(p.ID, "-", "_")) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(prefix + "API_SECRET"); v != "" {
			p.APISecret = v
		}
		if v := os.Getenv(prefix + "AWS_ACCESS_KEY"); v != "" {
			p.AWSAccessKey = v
		}
		if v := os.Getenv(prefix + "AWS_SECRET_KEY"); v != "" {
			p.AWSSecretKey = v
		}
		if v := os.Getenv(prefix + "WEBHOOK_SECRET"); v != "" {
			p.WebhookSecret = v
		}
	}

	return cfg, nil
}
