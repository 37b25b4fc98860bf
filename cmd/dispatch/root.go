package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Multi-agent request orchestration engine",
	Long: `Dispatch decomposes submitted tasks into subtask graphs, fans each
subtask out to multiple capability-tagged agents, and accepts a result only
when a confidence-weighted quorum of agents agree and the agreed value passes
the validation pipeline.

Core capabilities:
- Decomposes tasks via five strategies with heuristic selection
- Assigns each subtask to several agents and votes on the results
- Validates agreed values across eleven quality dimensions
- Monitors component health and escalates issues through three tiers`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
