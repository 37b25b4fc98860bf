package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/halcyon-systems/dispatch/internal/agent"
	"github.com/halcyon-systems/dispatch/internal/config"
	"github.com/halcyon-systems/dispatch/internal/engine"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

var (
	runConfigPath string
	runOutPath    string
	runQuiet      bool
)

// taskFile is the YAML document accepted by the run command.
type taskFile struct {
	Payload     string            `yaml:"payload,omitempty"`
	Constraints map[string]string `yaml:"constraints,omitempty"`
	Deadline    time.Time         `yaml:"deadline,omitempty"`
	Units       []models.WorkUnit `yaml:"units"`
	Agents      []agentSpec       `yaml:"agents"`
}

var runCmd = &cobra.Command{
	Use:   "run <task-file>",
	Short: "Run a task file through the engine",
	Long: `Run a task described in a YAML file.

The file declares the work units, their capabilities and dependencies, and
the shell agents available to execute them. Each subtask is handed to
several agents; the result is accepted when a confidence-weighted quorum
agree and the agreed value passes validation.

Example task file:

  payload: nightly data refresh
  units:
    - name: fetch
      capability: shell
      payload: "curl -s https://example.com/data"
    - name: checksum
      capability: shell
      depends_on: [fetch]
      payload: "sha256sum data.csv"
  agents:
    - id: worker-1
      capabilities: [shell]
    - id: worker-2
      capabilities: [shell]
    - id: worker-3
      capabilities: [shell]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(args[0])
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Config file path (default: XDG + .dispatch.yaml)")
	runCmd.Flags().StringVarP(&runOutPath, "out", "o", "", "Write the final task report as JSON to this file")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress output")
}

func runTask(path string) error {
	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading task file: %w", err)
	}
	var tf taskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parsing task file: %w", err)
	}
	if len(tf.Agents) == 0 {
		return fmt.Errorf("task file declares no agents")
	}

	pool := agent.NewPool()
	for _, spec := range tf.Agents {
		a, err := newShellAgent(spec)
		if err != nil {
			return err
		}
		if err := pool.Register(a); err != nil {
			return err
		}
	}

	eng, err := engine.New(cfg, pool, log)
	if err != nil {
		return err
	}
	defer eng.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	task := &models.Task{
		Payload:     tf.Payload,
		Constraints: tf.Constraints,
		Deadline:    tf.Deadline,
		Units:       tf.Units,
	}
	taskID, err := eng.Submit(task)
	if err != nil {
		return err
	}

	if !runQuiet {
		go printEvents(eng.Events())
	}

	report, err := eng.Await(ctx, taskID)
	if err != nil {
		return fmt.Errorf("awaiting task %s: %w", taskID, err)
	}

	if !runQuiet {
		printReport(report)
	}
	if runOutPath != "" {
		if err := writeReport(runOutPath, report); err != nil {
			return err
		}
	}
	if report.Status != models.TaskStatusCompleted {
		return fmt.Errorf("task %s %s: %s", taskID, report.Status, report.Error)
	}
	return nil
}

func printEvents(events <-chan engine.Event) {
	for ev := range events {
		stamp := ev.Timestamp.Format("15:04:05")
		switch ev.Type {
		case engine.EventTaskFailed:
			fmt.Printf("%s %s %s\n", stamp, color.RedString("✗"), ev.Message)
		case engine.EventTaskCompleted:
			fmt.Printf("%s %s %s\n", stamp, color.GreenString("✓"), ev.Message)
		default:
			fmt.Printf("%s %s %s\n", stamp, color.CyanString("•"), ev.Message)
		}
	}
}

func printReport(report models.TaskStatusReport) {
	fmt.Println()
	switch report.Status {
	case models.TaskStatusCompleted:
		fmt.Printf("%s task %s completed\n", color.GreenString("✓"), report.TaskID)
	default:
		fmt.Printf("%s task %s %s: %s\n", color.RedString("✗"), report.TaskID, report.Status, report.Error)
	}
	for _, o := range report.Outcomes {
		switch o.State {
		case models.SubtaskResolved:
			fmt.Printf("  %s %s\n", color.GreenString("✓"), o.Name)
		case models.SubtaskResolvedDegraded:
			fmt.Printf("  %s %s (degraded, agreement %.2f)\n", color.YellowString("⚠"), o.Name, o.Consensus.AgreementRatio)
		case models.SubtaskUnresolved:
			fmt.Printf("  %s %s: %s\n", color.RedString("✗"), o.Name, o.Error)
		}
	}
}

func writeReport(path string, report models.TaskStatusReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}
