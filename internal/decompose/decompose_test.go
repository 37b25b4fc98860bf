package decompose

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/internal/graph"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

func unit(name string, opts ...func(*models.WorkUnit)) models.WorkUnit {
	u := models.WorkUnit{Name: name, Capability: "compute", Payload: "do " + name}
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func withDeps(deps ...string) func(*models.WorkUnit) {
	return func(u *models.WorkUnit) { u.DependsOn = deps }
}

func withStage(s int) func(*models.WorkUnit) {
	return func(u *models.WorkUnit) { u.Stage = s }
}

func withCost(c float64) func(*models.WorkUnit) {
	return func(u *models.WorkUnit) { u.Cost = c }
}

func task(units ...models.WorkUnit) *models.Task {
	return &models.Task{ID: "task-1", Units: units, CreatedAt: time.Now()}
}

func newTestDecomposer() *Decomposer {
	return New(Config{}, zerolog.Nop())
}

func depNames(t *testing.T, g *graph.SubtaskGraph, name string) []string {
	t.Helper()
	var target *models.Subtask
	byID := make(map[string]string)
	for _, st := range g.Subtasks() {
		byID[st.ID] = st.Name
		if st.Name == name {
			target = st
		}
	}
	if target == nil {
		t.Fatalf("subtask %q not found", name)
	}
	names := make([]string, 0, len(target.DependsOn))
	for _, id := range target.DependsOn {
		names = append(names, byID[id])
	}
	return names
}

func TestDecomposeRejectsEmptyTask(t *testing.T) {
	_, err := newTestDecomposer().Decompose(context.Background(), task())
	var derr *DecompositionError
	if !errors.As(err, &derr) {
		t.Fatalf("Decompose() error = %v, want DecompositionError", err)
	}
}

func TestDecomposeValidation(t *testing.T) {
	tests := []struct {
		name   string
		units  []models.WorkUnit
		reason string
	}{
		{
			name:   "empty unit name",
			units:  []models.WorkUnit{{Capability: "compute", Payload: "p"}},
			reason: "empty name",
		},
		{
			name:   "missing capability",
			units:  []models.WorkUnit{{Name: "a", Payload: "p"}},
			reason: "no capability",
		},
		{
			name:   "duplicate names",
			units:  []models.WorkUnit{unit("a"), unit("a")},
			reason: "duplicate",
		},
		{
			name:   "unknown dependency",
			units:  []models.WorkUnit{unit("a", withDeps("ghost"))},
			reason: "unknown unit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestDecomposer().Decompose(context.Background(), task(tt.units...))
			var derr *DecompositionError
			if !errors.As(err, &derr) {
				t.Fatalf("Decompose() error = %v, want DecompositionError", err)
			}
			if !strings.Contains(derr.Reason, tt.reason) {
				t.Errorf("reason = %q, want substring %q", derr.Reason, tt.reason)
			}
		})
	}
}

func TestDecomposeRejectsDeclaredCycle(t *testing.T) {
	tk := task(
		unit("a", withDeps("b")),
		unit("b", withDeps("a")),
	)
	_, err := newTestDecomposer().Decompose(context.Background(), tk)
	if !errors.Is(err, graph.ErrCycleDetected) {
		t.Fatalf("Decompose() error = %v, want wrapped ErrCycleDetected", err)
	}
}

func TestSequentialChainsSmallTasks(t *testing.T) {
	tk := task(unit("a"), unit("b"), unit("c"))
	g, err := newTestDecomposer().Decompose(context.Background(), tk)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if got := g.CriticalPathLength(); got != 3 {
		t.Errorf("critical path = %d, want 3 (sequential chain)", got)
	}
	if got := depNames(t, g, "b"); len(got) != 1 || got[0] != "a" {
		t.Errorf("b depends on %v, want [a]", got)
	}
	if got := depNames(t, g, "c"); len(got) != 1 || got[0] != "b" {
		t.Errorf("c depends on %v, want [b]", got)
	}
}

// In the ambiguous mid band both arrangements are built; the parallel one
// always has the shorter critical path, so the tie-break picks it.
func TestMidBandTieBreaksOnCriticalPath(t *testing.T) {
	units := make([]models.WorkUnit, 6)
	for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
		units[i] = unit(name)
	}
	g, err := newTestDecomposer().Decompose(context.Background(), task(units...))
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if got := g.CriticalPathLength(); got != 1 {
		t.Errorf("critical path = %d, want 1 (parallel)", got)
	}
	if got := len(g.Ready()); got != 6 {
		t.Errorf("ready set = %d, want all 6 units", got)
	}
}

func TestTightDeadlineForcesParallel(t *testing.T) {
	tk := task(unit("a"), unit("b"))
	tk.Deadline = time.Now().Add(30 * time.Second)
	g, err := newTestDecomposer().Decompose(context.Background(), tk)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if got := g.CriticalPathLength(); got != 1 {
		t.Errorf("critical path = %d, want 1 under a tight deadline", got)
	}
}

func TestHierarchicalHonorsDeclaredDependencies(t *testing.T) {
	tk := task(
		unit("fetch"),
		unit("parse", withDeps("fetch")),
		unit("store", withDeps("parse")),
		unit("report", withDeps("fetch")),
	)
	g, err := newTestDecomposer().Decompose(context.Background(), tk)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if got := depNames(t, g, "parse"); len(got) != 1 || got[0] != "fetch" {
		t.Errorf("parse depends on %v, want [fetch]", got)
	}
	if got := depNames(t, g, "report"); len(got) != 1 || got[0] != "fetch" {
		t.Errorf("report depends on %v, want [fetch]", got)
	}
	if got := g.CriticalPathLength(); got != 3 {
		t.Errorf("critical path = %d, want 3", got)
	}
}

func TestHybridBuildsStageBarriers(t *testing.T) {
	tk := task(
		unit("a1", withStage(1)),
		unit("a2", withStage(1)),
		unit("b1", withStage(2)),
	)
	g, err := newTestDecomposer().Decompose(context.Background(), tk)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	got := depNames(t, g, "b1")
	if len(got) != 2 {
		t.Fatalf("b1 depends on %v, want the full first stage", got)
	}
	seen := map[string]bool{got[0]: true, got[1]: true}
	if !seen["a1"] || !seen["a2"] {
		t.Errorf("b1 depends on %v, want [a1 a2]", got)
	}
	if ready := g.Ready(); len(ready) != 2 {
		t.Errorf("ready set = %d, want 2 (first stage only)", len(ready))
	}
}

func TestAdaptiveGroupsByCostBudget(t *testing.T) {
	// Budget 10: a(6)+b(3)=9 fit one group, c(8) starts a new one.
	tk := task(
		unit("a", withCost(6)),
		unit("b", withCost(3)),
		unit("c", withCost(8)),
	)
	g, err := newTestDecomposer().Decompose(context.Background(), tk)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	got := depNames(t, g, "c")
	if len(got) != 2 {
		t.Fatalf("c depends on %v, want the full first group", got)
	}
	if deps := depNames(t, g, "b"); len(deps) != 0 {
		t.Errorf("b depends on %v, want none (same group as a)", deps)
	}
	if cp := g.CriticalPathLength(); cp != 2 {
		t.Errorf("critical path = %d, want 2", cp)
	}
}

func TestSubtaskFieldsPopulated(t *testing.T) {
	tk := task(unit("a", withCost(1.5)))
	g, err := newTestDecomposer().Decompose(context.Background(), tk)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	sts := g.Subtasks()
	if len(sts) != 1 {
		t.Fatalf("subtasks = %d, want 1", len(sts))
	}
	st := sts[0]
	if st.ID == "" {
		t.Error("subtask has no ID")
	}
	if st.ParentTaskID != tk.ID {
		t.Errorf("parent task ID = %q, want %q", st.ParentTaskID, tk.ID)
	}
	if st.Capability != "compute" || st.Payload != "do a" || st.Cost != 1.5 {
		t.Errorf("subtask fields not carried over: %+v", st)
	}
}

func TestStrategyValid(t *testing.T) {
	for _, s := range []Strategy{StrategySequential, StrategyParallel, StrategyHierarchical, StrategyHybrid, StrategyAdaptive} {
		if !s.Valid() {
			t.Errorf("Strategy(%q).Valid() = false, want true", s)
		}
	}
	if Strategy("random").Valid() {
		t.Error(`Strategy("random").Valid() = true, want false`)
	}
}
