package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <report-file>",
	Short: "Display a task report written by run --out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(args[0])
	},
}

func showStatus(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading report: %w", err)
	}
	var report models.TaskStatusReport
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("parsing report: %w", err)
	}

	statusColor := color.GreenString
	if report.Status != models.TaskStatusCompleted {
		statusColor = color.RedString
	}
	fmt.Printf("task %s: %s\n", report.TaskID, statusColor(string(report.Status)))
	if report.Error != "" {
		fmt.Printf("error: %s\n", report.Error)
	}

	resolved, degraded, unresolved := 0, 0, 0
	for _, o := range report.Outcomes {
		switch o.State {
		case models.SubtaskResolved:
			resolved++
		case models.SubtaskResolvedDegraded:
			degraded++
		case models.SubtaskUnresolved:
			unresolved++
		}
	}
	fmt.Printf("subtasks: %d resolved, %d degraded, %d unresolved\n", resolved, degraded, unresolved)

	for _, id := range report.UnresolvedSubtasks {
		fmt.Printf("  %s %s needs manual review\n", color.RedString("✗"), id)
	}
	return nil
}
