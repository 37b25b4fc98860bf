// Package config handles configuration loading and management for dispatch.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dispatch engine.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Health      HealthConfig      `mapstructure:"health"`
	Escalation  EscalationConfig  `mapstructure:"escalation"`
	NATS        NATSConfig        `mapstructure:"nats"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the zerolog level name (trace, debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Pretty enables the console writer instead of JSON output.
	Pretty bool `mapstructure:"pretty"`
}

// CoordinatorConfig holds fan-out and consensus settings.
type CoordinatorConfig struct {
	// FanOut is the number of agents each subtask is assigned to.
	FanOut int `mapstructure:"fan_out"`
	// Quorum is the confidence-weighted agreement fraction required to
	// accept a consensus value.
	Quorum float64 `mapstructure:"quorum"`
	// SubtaskTimeout bounds how long the coordinator waits on the set of
	// assigned agents for one subtask.
	SubtaskTimeout time.Duration `mapstructure:"subtask_timeout"`
}

// ValidationConfig holds pipeline settings.
type ValidationConfig struct {
	// PassThreshold is the minimum aggregate score for a passing verdict.
	PassThreshold float64 `mapstructure:"pass_threshold"`
	// ValidatorTimeout bounds each validator; on expiry the validator is
	// scored 0 with a validator_timeout issue.
	ValidatorTimeout time.Duration `mapstructure:"validator_timeout"`
	// Weights overrides per-validator weights by name. Validators not
	// listed keep their registration weight.
	Weights map[string]float64 `mapstructure:"weights"`
}

// HealthConfig holds monitor settings.
type HealthConfig struct {
	// SampleInterval is how often registered components are scored.
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	// GracePeriod is how long a component may go without reporting metrics
	// before silence itself is treated as a critical signal.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// LatencyWeight, ErrorWeight and SaturationWeight control the scoring
	// formula. They are normalized before use.
	LatencyWeight    float64 `mapstructure:"latency_weight"`
	ErrorWeight      float64 `mapstructure:"error_weight"`
	SaturationWeight float64 `mapstructure:"saturation_weight"`
	// LatencyBudgetMillis is the latency at which the latency component of
	// the score reaches zero.
	LatencyBudgetMillis float64 `mapstructure:"latency_budget_millis"`
	// HistoryLimit caps the per-component sample history.
	HistoryLimit int `mapstructure:"history_limit"`
}

// EscalationConfig holds tier settings.
type EscalationConfig struct {
	// SelfHealAttempts bounds tier-1 recovery hook invocations.
	SelfHealAttempts int `mapstructure:"self_heal_attempts"`
	// SelfHealWindow bounds each tier-1 attempt.
	SelfHealWindow time.Duration `mapstructure:"self_heal_window"`
	// AssistHealthThreshold is the minimum assistant score for tier 2.
	AssistHealthThreshold float64 `mapstructure:"assist_health_threshold"`
	// AssistConcurrencyLimit caps concurrent assists per assistant.
	AssistConcurrencyLimit int `mapstructure:"assist_concurrency_limit"`
	// ClosedCaseRetention caps how many closed escalation cases stay
	// queryable; older ones are destroyed.
	ClosedCaseRetention int `mapstructure:"closed_case_retention"`
	// Tier3Attempts bounds permanent-solution applications. Tier 3 is
	// meant to be terminal, so the default is 1.
	Tier3Attempts int `mapstructure:"tier3_attempts"`
	// TierSuccessHints are assumed per-tier success rates used only for
	// ordering decisions. Real rates are instrumented via prometheus.
	TierSuccessHints []float64 `mapstructure:"tier_success_hints"`
}

// NATSConfig holds settings for the metrics ingestion transport.
type NATSConfig struct {
	// URL is the NATS server URL; empty disables the transport.
	URL string `mapstructure:"url"`
	// Subject is the wildcard subject metrics are published on. The last
	// token is the reporting component ID.
	Subject string `mapstructure:"subject"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (DISPATCH_*)
// 2. Project config (.dispatch.yaml in current directory or parent)
// 3. User config (~/.config/dispatch/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("DISPATCH")
	v.AutomaticEnv()
	v.BindEnv("nats.url", "DISPATCH_NATS_URL")
	v.BindEnv("log.level", "DISPATCH_LOG_LEVEL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults configures the documented defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("coordinator.fan_out", 3)
	v.SetDefault("coordinator.quorum", 0.6)
	v.SetDefault("coordinator.subtask_timeout", "30s")

	v.SetDefault("validation.pass_threshold", 0.90)
	v.SetDefault("validation.validator_timeout", "5s")

	v.SetDefault("health.sample_interval", "60s")
	v.SetDefault("health.grace_period", "3m")
	v.SetDefault("health.latency_weight", 1.0)
	v.SetDefault("health.error_weight", 1.0)
	v.SetDefault("health.saturation_weight", 1.0)
	v.SetDefault("health.latency_budget_millis", 1000.0)
	v.SetDefault("health.history_limit", 32)

	v.SetDefault("escalation.self_heal_attempts", 3)
	v.SetDefault("escalation.self_heal_window", "30s")
	v.SetDefault("escalation.assist_health_threshold", 80.0)
	v.SetDefault("escalation.assist_concurrency_limit", 2)
	v.SetDefault("escalation.closed_case_retention", 128)
	v.SetDefault("escalation.tier3_attempts", 1)
	v.SetDefault("escalation.tier_success_hints", []float64{0.70, 0.85, 0.95})

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "health.metrics.>")
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Coordinator: CoordinatorConfig{
			FanOut:         3,
			Quorum:         0.6,
			SubtaskTimeout: 30 * time.Second,
		},
		Validation: ValidationConfig{
			PassThreshold:    0.90,
			ValidatorTimeout: 5 * time.Second,
		},
		Health: HealthConfig{
			SampleInterval:      60 * time.Second,
			GracePeriod:         3 * time.Minute,
			LatencyWeight:       1.0,
			ErrorWeight:         1.0,
			SaturationWeight:    1.0,
			LatencyBudgetMillis: 1000.0,
			HistoryLimit:        32,
		},
		Escalation: EscalationConfig{
			SelfHealAttempts:       3,
			SelfHealWindow:         30 * time.Second,
			AssistHealthThreshold:  80.0,
			AssistConcurrencyLimit: 2,
			ClosedCaseRetention:    128,
			Tier3Attempts:          1,
			TierSuccessHints:       []float64{0.70, 0.85, 0.95},
		},
		NATS: NATSConfig{Subject: "health.metrics.>"},
	}
}

// UserConfigPath returns the path to the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

// userConfigDir returns the XDG config directory for dispatch.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dispatch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "dispatch")
	}
	return filepath.Join(home, ".config", "dispatch")
}

// findProjectConfig searches for .dispatch.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(cwd, ".dispatch.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
