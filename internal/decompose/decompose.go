// Package decompose turns submitted tasks into subtask dependency graphs.
// A strategy is selected per task by a complexity heuristic; when the
// heuristic cannot separate candidates, the graph with the shortest critical
// path wins, then the one with fewer subtasks.
package decompose

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/internal/graph"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

// Strategy names a decomposition arrangement.
type Strategy string

const (
	// StrategySequential chains units in declared order.
	StrategySequential Strategy = "sequential"
	// StrategyParallel makes every unit independent.
	StrategyParallel Strategy = "parallel"
	// StrategyHierarchical honors the units' declared dependencies.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyHybrid runs declared stages as sequential barriers with
	// parallelism inside each stage.
	StrategyHybrid Strategy = "hybrid"
	// StrategyAdaptive groups units by cost budget and runs the groups as
	// barriers.
	StrategyAdaptive Strategy = "adaptive"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyHierarchical,
		StrategyHybrid, StrategyAdaptive:
		return true
	default:
		return false
	}
}

// DecompositionError means no strategy could partition the task. It is fatal
// to the task.
type DecompositionError struct {
	TaskID   string
	Strategy Strategy
	Reason   string
	Err      error
}

func (e *DecompositionError) Error() string {
	msg := fmt.Sprintf("decompose task %s", e.TaskID)
	if e.Strategy != "" {
		msg += fmt.Sprintf(" (%s)", e.Strategy)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecompositionError) Unwrap() error { return e.Err }

// Heuristic tuning knobs. The mid band between low and high complexity has
// no clear winner, so both arrangements are built and the tie-break decides.
const (
	lowComplexity  = 4.0
	highComplexity = 8.0
	tightDeadline  = 2 * time.Minute
)

// Config tunes strategy selection.
type Config struct {
	// CostBudget is the adaptive strategy's per-group cost ceiling. Tasks
	// whose total declared cost exceeds it are grouped adaptively.
	CostBudget float64
}

func (c *Config) applyDefaults() {
	if c.CostBudget == 0 {
		c.CostBudget = 10
	}
}

// Decomposer selects a strategy per task and builds the subtask graph.
type Decomposer struct {
	cfg Config
	log zerolog.Logger
}

// New creates a decomposer.
func New(cfg Config, log zerolog.Logger) *Decomposer {
	cfg.applyDefaults()
	return &Decomposer{cfg: cfg, log: log.With().Str("component", "decompose").Logger()}
}

// Decompose partitions a task into an acyclic subtask graph.
func (d *Decomposer) Decompose(ctx context.Context, task *models.Task) (*graph.SubtaskGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(task.Units) == 0 {
		return nil, &DecompositionError{TaskID: task.ID, Reason: "task declares no work units"}
	}
	if err := validateUnits(task); err != nil {
		return nil, err
	}

	candidates := d.candidates(task)

	type built struct {
		strategy Strategy
		g        *graph.SubtaskGraph
	}
	var builds []built
	var lastErr error
	for _, s := range candidates {
		g, err := d.build(task, s)
		if err != nil {
			lastErr = err
			continue
		}
		builds = append(builds, built{strategy: s, g: g})
	}
	if len(builds) == 0 {
		return nil, lastErr
	}

	// Shortest critical path first, then fewest subtasks, then declaration
	// order of the candidates for determinism.
	sort.SliceStable(builds, func(i, j int) bool {
		ci, cj := builds[i].g.CriticalPathLength(), builds[j].g.CriticalPathLength()
		if ci != cj {
			return ci < cj
		}
		return builds[i].g.Size() < builds[j].g.Size()
	})

	chosen := builds[0]
	d.log.Debug().
		Str("task_id", task.ID).
		Str("strategy", string(chosen.strategy)).
		Int("subtasks", chosen.g.Size()).
		Int("critical_path", chosen.g.CriticalPathLength()).
		Msg("task decomposed")
	return chosen.g, nil
}

func validateUnits(task *models.Task) error {
	seen := make(map[string]bool, len(task.Units))
	for _, u := range task.Units {
		if u.Name == "" {
			return &DecompositionError{TaskID: task.ID, Reason: "work unit with empty name"}
		}
		if u.Capability == "" {
			return &DecompositionError{TaskID: task.ID, Reason: fmt.Sprintf("work unit %q declares no capability", u.Name)}
		}
		if seen[u.Name] {
			return &DecompositionError{TaskID: task.ID, Reason: fmt.Sprintf("duplicate work unit name %q", u.Name)}
		}
		seen[u.Name] = true
	}
	for _, u := range task.Units {
		for _, dep := range u.DependsOn {
			if !seen[dep] {
				return &DecompositionError{TaskID: task.ID, Reason: fmt.Sprintf("work unit %q depends on unknown unit %q", u.Name, dep)}
			}
		}
	}
	return nil
}

// candidates selects the strategies worth building for a task. Structural
// declarations (dependencies, stages, cost over budget) pin the strategy;
// otherwise the complexity heuristic decides, with a mid band where two
// arrangements compete.
func (d *Decomposer) candidates(task *models.Task) []Strategy {
	hasDeps := false
	stages := make(map[int]bool)
	totalCost := 0.0
	for _, u := range task.Units {
		if len(u.DependsOn) > 0 {
			hasDeps = true
		}
		stages[u.Stage] = true
		totalCost += u.Cost
	}

	switch {
	case hasDeps:
		return []Strategy{StrategyHierarchical}
	case len(stages) > 1:
		return []Strategy{StrategyHybrid}
	case totalCost > d.cfg.CostBudget:
		return []Strategy{StrategyAdaptive}
	}

	c := complexity(task)
	switch {
	case c < lowComplexity:
		return []Strategy{StrategySequential}
	case c > highComplexity:
		return []Strategy{StrategyParallel}
	default:
		return []Strategy{StrategySequential, StrategyParallel}
	}
}

// complexity scores a task from its payload size, unit count, and deadline
// tightness. Higher scores favor wider arrangements.
func complexity(task *models.Task) float64 {
	payloadBytes := len(task.Payload)
	for _, u := range task.Units {
		payloadBytes += len(u.Payload)
	}
	score := float64(len(task.Units)) + float64(payloadBytes)/1024
	if !task.Deadline.IsZero() && time.Until(task.Deadline) < tightDeadline {
		score += 5
	}
	return score
}

func (d *Decomposer) build(task *models.Task, s Strategy) (*graph.SubtaskGraph, error) {
	subtasks := make([]*models.Subtask, len(task.Units))
	idByName := make(map[string]string, len(task.Units))
	for i, u := range task.Units {
		st := &models.Subtask{
			ID:           uuid.NewString(),
			ParentTaskID: task.ID,
			Name:         u.Name,
			Capability:   u.Capability,
			Payload:      u.Payload,
			Cost:         u.Cost,
		}
		subtasks[i] = st
		idByName[u.Name] = st.ID
	}

	switch s {
	case StrategySequential:
		for i := 1; i < len(subtasks); i++ {
			subtasks[i].DependsOn = []string{subtasks[i-1].ID}
		}
	case StrategyParallel:
		// no edges
	case StrategyHierarchical:
		for i, u := range task.Units {
			for _, dep := range u.DependsOn {
				subtasks[i].DependsOn = append(subtasks[i].DependsOn, idByName[dep])
			}
		}
	case StrategyHybrid:
		linkBarriers(subtasks, stageGroups(task.Units))
	case StrategyAdaptive:
		linkBarriers(subtasks, d.costGroups(task.Units))
	default:
		return nil, &DecompositionError{TaskID: task.ID, Strategy: s, Reason: "unknown strategy"}
	}

	g := graph.New()
	if err := g.Build(subtasks); err != nil {
		return nil, &DecompositionError{TaskID: task.ID, Strategy: s, Reason: "graph construction failed", Err: err}
	}
	return g, nil
}

// stageGroups partitions unit indices by declared stage, ascending.
func stageGroups(units []models.WorkUnit) [][]int {
	byStage := make(map[int][]int)
	for i, u := range units {
		byStage[u.Stage] = append(byStage[u.Stage], i)
	}
	stages := make([]int, 0, len(byStage))
	for s := range byStage {
		stages = append(stages, s)
	}
	sort.Ints(stages)
	groups := make([][]int, 0, len(stages))
	for _, s := range stages {
		groups = append(groups, byStage[s])
	}
	return groups
}

// costGroups packs unit indices into groups whose summed cost stays within
// the budget, in declaration order. A single unit over budget gets its own
// group.
func (d *Decomposer) costGroups(units []models.WorkUnit) [][]int {
	var groups [][]int
	var current []int
	running := 0.0
	for i, u := range units {
		if len(current) > 0 && running+u.Cost > d.cfg.CostBudget {
			groups = append(groups, current)
			current = nil
			running = 0
		}
		current = append(current, i)
		running += u.Cost
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// linkBarriers wires each group to depend on every subtask of the previous
// group, forming sequential barriers with parallelism inside each group.
func linkBarriers(subtasks []*models.Subtask, groups [][]int) {
	for gi := 1; gi < len(groups); gi++ {
		for _, i := range groups[gi] {
			for _, prev := range groups[gi-1] {
				subtasks[i].DependsOn = append(subtasks[i].DependsOn, subtasks[prev].ID)
			}
		}
	}
}
