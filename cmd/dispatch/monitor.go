package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/halcyon-systems/dispatch/internal/config"
	"github.com/halcyon-systems/dispatch/internal/escalate"
	"github.com/halcyon-systems/dispatch/internal/health"
	"github.com/halcyon-systems/dispatch/internal/metrics"
	"github.com/halcyon-systems/dispatch/internal/transport"
)

var (
	monitorConfigPath string
	monitorComponents []string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the health monitor and escalation manager",
	Long: `Run the health-monitoring side of the engine as a foreground process.

Components publish metric snapshots over NATS on the configured subject;
the monitor scores each component on a sampling interval, emits an issue on
every transition into a non-healthy band, and the escalation manager drives
each issue through self-heal, peer-assist, and permanent remediation.

Requires nats.url to be set in configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor()
	},
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorConfigPath, "config", "c", "", "Config file path (default: XDG + .dispatch.yaml)")
	monitorCmd.Flags().StringSliceVar(&monitorComponents, "component", nil, "Component IDs to pre-register (silent ones go critical after the grace period)")
}

func runMonitor() error {
	cfg, err := loadConfig(monitorConfigPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	if cfg.NATS.URL == "" {
		return fmt.Errorf("nats.url is not configured; the monitor has no metrics source")
	}

	met := metrics.New(prometheus.NewRegistry())
	monitor := health.NewMonitor(health.Config{
		SampleInterval:      cfg.Health.SampleInterval,
		GracePeriod:         cfg.Health.GracePeriod,
		LatencyWeight:       cfg.Health.LatencyWeight,
		ErrorWeight:         cfg.Health.ErrorWeight,
		SaturationWeight:    cfg.Health.SaturationWeight,
		LatencyBudgetMillis: cfg.Health.LatencyBudgetMillis,
		HistoryLimit:        cfg.Health.HistoryLimit,
	}, log, met)
	for _, id := range monitorComponents {
		monitor.RegisterComponent(id)
	}

	manager := escalate.NewManager(escalate.Config{
		SelfHealAttempts:       cfg.Escalation.SelfHealAttempts,
		SelfHealWindow:         cfg.Escalation.SelfHealWindow,
		AssistHealthThreshold:  cfg.Escalation.AssistHealthThreshold,
		AssistConcurrencyLimit: cfg.Escalation.AssistConcurrencyLimit,
		Tier3Attempts:          cfg.Escalation.Tier3Attempts,
		ClosedCaseRetention:    cfg.Escalation.ClosedCaseRetention,
	}, monitor, log, met)

	subscriber, err := transport.NewMetricsSubscriber(transport.Config{
		URL:     cfg.NATS.URL,
		Subject: cfg.NATS.Subject,
	}, monitor, log)
	if err != nil {
		return err
	}
	if err := subscriber.Start(); err != nil {
		return err
	}
	defer subscriber.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor.Start(ctx)
	defer monitor.Stop()
	manager.Start(ctx, monitor.Issues())
	defer manager.Stop()

	// Hot-reload logging level on config file changes.
	if monitorConfigPath != "" {
		watcher, err := config.NewWatcher(monitorConfigPath, func(updated *config.Config) {
			log.Info().Str("level", updated.Log.Level).Msg("config reloaded")
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watcher unavailable")
		} else {
			defer watcher.Close()
		}
	}

	fmt.Printf("%s monitor running, subject %s\n", color.GreenString("✓"), cfg.NATS.Subject)
	<-ctx.Done()
	fmt.Printf("%s shutting down\n", color.YellowString("⚠"))
	return nil
}
