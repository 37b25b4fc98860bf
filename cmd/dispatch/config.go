package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halcyon-systems/dispatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display the effective configuration",
	Long: `Display the configuration the engine would run with.

Configuration is read from ~/.config/dispatch/config.yaml, overridden by a
.dispatch.yaml in the current directory or a parent, then by DISPATCH_*
environment variables.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		displayConfig(cfg)
	},
}

func displayConfig(cfg *config.Config) {
	fmt.Printf("log.level: %s\n", cfg.Log.Level)
	fmt.Printf("log.pretty: %t\n", cfg.Log.Pretty)
	fmt.Printf("coordinator.fan_out: %d\n", cfg.Coordinator.FanOut)
	fmt.Printf("coordinator.quorum: %.2f\n", cfg.Coordinator.Quorum)
	fmt.Printf("coordinator.subtask_timeout: %s\n", cfg.Coordinator.SubtaskTimeout)
	fmt.Printf("validation.pass_threshold: %.2f\n", cfg.Validation.PassThreshold)
	fmt.Printf("validation.validator_timeout: %s\n", cfg.Validation.ValidatorTimeout)
	fmt.Printf("health.sample_interval: %s\n", cfg.Health.SampleInterval)
	fmt.Printf("health.grace_period: %s\n", cfg.Health.GracePeriod)
	fmt.Printf("health.latency_budget_millis: %.0f\n", cfg.Health.LatencyBudgetMillis)
	fmt.Printf("escalation.self_heal_attempts: %d\n", cfg.Escalation.SelfHealAttempts)
	fmt.Printf("escalation.self_heal_window: %s\n", cfg.Escalation.SelfHealWindow)
	fmt.Printf("escalation.assist_health_threshold: %.0f\n", cfg.Escalation.AssistHealthThreshold)
	fmt.Printf("escalation.tier3_attempts: %d\n", cfg.Escalation.Tier3Attempts)
	fmt.Printf("nats.url: %s\n", displayOrUnset(cfg.NATS.URL))
	fmt.Printf("nats.subject: %s\n", cfg.NATS.Subject)
}

func displayOrUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}
