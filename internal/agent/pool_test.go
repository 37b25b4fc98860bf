package agent

import (
	"context"
	"testing"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

func testAgent(id string, caps ...models.Capability) *Func {
	return &Func{
		AgentID: id,
		Caps:    caps,
		Fn: func(ctx context.Context, st *models.Subtask) (models.CandidateResult, error) {
			return models.CandidateResult{SubtaskID: st.ID, AgentID: id, Value: "ok", Confidence: 1}, nil
		},
	}
}

func TestPool_Register(t *testing.T) {
	p := NewPool()
	if err := p.Register(testAgent("a1", "compute")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := p.Register(testAgent("a1", "compute")); err == nil {
		t.Error("Register() duplicate id: want error, got nil")
	}
	if err := p.Register(testAgent("a2")); err == nil {
		t.Error("Register() with no capabilities: want error, got nil")
	}
	if got := p.Size(); got != 1 {
		t.Errorf("Size() = %d, want 1", got)
	}
}

func TestPool_IdleFiltersByCapabilityLoadAndDegraded(t *testing.T) {
	p := NewPool()
	for _, a := range []*Func{
		testAgent("a1", "compute"),
		testAgent("a2", "compute", "lookup"),
		testAgent("a3", "lookup"),
	} {
		if err := p.Register(a); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(p.Idle("compute")); got != 2 {
		t.Fatalf("Idle(compute) = %d agents, want 2", got)
	}

	p.Acquire("a1")
	if got := len(p.Idle("compute")); got != 1 {
		t.Errorf("Idle(compute) after acquire = %d agents, want 1", got)
	}

	p.Release("a1", 0.8)
	if got := len(p.Idle("compute")); got != 2 {
		t.Errorf("Idle(compute) after release = %d agents, want 2", got)
	}

	p.MarkDegraded("a2")
	if got := len(p.Idle("compute")); got != 1 {
		t.Errorf("Idle(compute) with a2 degraded = %d agents, want 1", got)
	}
	// Degraded agents stay in the pool, they are just not assignable.
	if got := p.Size(); got != 3 {
		t.Errorf("Size() = %d, want 3 (degraded agent not ejected)", got)
	}

	p.ClearDegraded("a2")
	if got := len(p.Idle("compute")); got != 2 {
		t.Errorf("Idle(compute) after ClearDegraded = %d agents, want 2", got)
	}
}

func TestPool_CapableCountsBusyAndDegraded(t *testing.T) {
	p := NewPool()
	if err := p.Register(testAgent("a1", "compute")); err != nil {
		t.Fatal(err)
	}
	if err := p.Register(testAgent("a2", "compute")); err != nil {
		t.Fatal(err)
	}

	p.Acquire("a1")
	p.MarkDegraded("a2")
	if got := p.Capable("compute"); got != 2 {
		t.Errorf("Capable(compute) = %d, want 2 (load and degradation ignored)", got)
	}
	if got := p.Capable("lookup"); got != 0 {
		t.Errorf("Capable(lookup) = %d, want 0", got)
	}
}

func TestPool_AcquireIdleClaimsAtomically(t *testing.T) {
	p := NewPool()
	for _, id := range []string{"a1", "a2", "a3"} {
		if err := p.Register(testAgent(id, "compute")); err != nil {
			t.Fatal(err)
		}
	}

	got := p.AcquireIdle("compute", 2, 2, nil)
	if len(got) != 2 {
		t.Fatalf("AcquireIdle(min 2, max 2) = %d agents, want 2", len(got))
	}
	if got[0].ID() != "a1" || got[1].ID() != "a2" {
		t.Errorf("claimed %s, %s; want a1, a2 (ID order)", got[0].ID(), got[1].ID())
	}

	// Only a3 is idle now, below the minimum: nothing may be claimed.
	if got := p.AcquireIdle("compute", 2, 2, nil); got != nil {
		t.Errorf("AcquireIdle(min 2) with one idle agent = %d agents, want nil", len(got))
	}
	if got := p.AcquireIdle("compute", 1, 0, nil); len(got) != 1 || got[0].ID() != "a3" {
		t.Errorf("AcquireIdle(min 1, uncapped) = %v, want [a3]", got)
	}

	for _, id := range []string{"a1", "a2", "a3"} {
		p.Release(id, 1)
	}
	got = p.AcquireIdle("compute", 1, 0, map[string]bool{"a2": true})
	if len(got) != 2 || got[0].ID() != "a1" || got[1].ID() != "a3" {
		t.Errorf("AcquireIdle with a2 excluded = %v, want [a1 a3]", got)
	}
}

func TestPool_AcquireIdleSkipsDegraded(t *testing.T) {
	p := NewPool()
	for _, id := range []string{"a1", "a2"} {
		if err := p.Register(testAgent(id, "compute")); err != nil {
			t.Fatal(err)
		}
	}
	p.MarkDegraded("a1")

	got := p.AcquireIdle("compute", 1, 0, nil)
	if len(got) != 1 || got[0].ID() != "a2" {
		t.Fatalf("AcquireIdle = %v, want [a2]", got)
	}
}

func TestPool_SnapshotRecordsConfidence(t *testing.T) {
	p := NewPool()
	if err := p.Register(testAgent("a1", "compute")); err != nil {
		t.Fatal(err)
	}
	p.Acquire("a1")
	p.Release("a1", 0.73)

	snap := p.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() = %d entries, want 1", len(snap))
	}
	if snap[0].LastConfidence != 0.73 {
		t.Errorf("LastConfidence = %v, want 0.73", snap[0].LastConfidence)
	}
	if snap[0].CurrentLoad != 0 {
		t.Errorf("CurrentLoad = %d, want 0", snap[0].CurrentLoad)
	}
}
