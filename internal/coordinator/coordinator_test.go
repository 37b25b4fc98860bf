package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/internal/agent"
	"github.com/halcyon-systems/dispatch/internal/graph"
	"github.com/halcyon-systems/dispatch/internal/validation"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

func candidate(agentID, value string, confidence float64, at time.Time) models.CandidateResult {
	return models.CandidateResult{
		SubtaskID:  "st-1",
		AgentID:    agentID,
		Value:      value,
		Confidence: confidence,
		ProducedAt: at,
	}
}

func TestComputeConsensusWeightedMajority(t *testing.T) {
	now := time.Now()
	cands := []models.CandidateResult{
		candidate("a1", "result-alpha", 0.9, now),
		candidate("a2", "result-alpha", 0.8, now),
		candidate("a3", "result-beta", 0.95, now),
	}
	got, err := computeConsensus("st-1", cands, 0.6)
	if err != nil {
		t.Fatalf("computeConsensus() error = %v", err)
	}
	if got.Value != "result-alpha" {
		t.Errorf("value = %q, want %q", got.Value, "result-alpha")
	}
	wantRatio := 1.7 / 2.65
	if diff := got.AgreementRatio - wantRatio; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("agreement ratio = %v, want %v", got.AgreementRatio, wantRatio)
	}
	if len(got.DissentingAgents) != 1 || got.DissentingAgents[0] != "a3" {
		t.Errorf("dissenting agents = %v, want [a3]", got.DissentingAgents)
	}
}

func TestComputeConsensusTrimsWhitespace(t *testing.T) {
	now := time.Now()
	cands := []models.CandidateResult{
		candidate("a1", "  42\n", 0.5, now),
		candidate("a2", "42", 0.5, now),
	}
	got, err := computeConsensus("st-1", cands, 0.6)
	if err != nil {
		t.Fatalf("computeConsensus() error = %v", err)
	}
	if got.Value != "42" {
		t.Errorf("value = %q, want canonical %q", got.Value, "42")
	}
	if got.AgreementRatio != 1.0 {
		t.Errorf("agreement ratio = %v, want 1.0", got.AgreementRatio)
	}
}

func TestComputeConsensusTieGoesToEarliest(t *testing.T) {
	base := time.Now()
	cands := []models.CandidateResult{
		candidate("a2", "late", 0.5, base.Add(time.Second)),
		candidate("a1", "early", 0.5, base),
	}
	got, err := computeConsensus("st-1", cands, 0.5)
	if err != nil {
		t.Fatalf("computeConsensus() error = %v", err)
	}
	if got.Value != "early" {
		t.Errorf("tie went to %q, want earliest-produced %q", got.Value, "early")
	}
}

func TestComputeConsensusFailures(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		cands []models.CandidateResult
	}{
		{name: "no candidates", cands: nil},
		{
			name: "zero confidence",
			cands: []models.CandidateResult{
				candidate("a1", "x", 0, now),
				candidate("a2", "x", 0, now),
			},
		},
		{
			name: "below quorum",
			cands: []models.CandidateResult{
				candidate("a1", "x", 0.5, now),
				candidate("a2", "y", 0.5, now),
				candidate("a3", "z", 0.5, now),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := computeConsensus("st-1", tt.cands, 0.6)
			var cf *ConsensusFailure
			if !errors.As(err, &cf) {
				t.Fatalf("computeConsensus() error = %v, want ConsensusFailure", err)
			}
			if cf.SubtaskID != "st-1" {
				t.Errorf("failure subtask = %q, want st-1", cf.SubtaskID)
			}
		})
	}
}

// fixedAgent returns the same value with the same confidence on every call.
func fixedAgent(id string, cap models.Capability, value string, confidence float64) agent.Agent {
	return &agent.Func{
		AgentID: id,
		Caps:    []models.Capability{cap},
		Fn: func(ctx context.Context, st *models.Subtask) (models.CandidateResult, error) {
			return models.CandidateResult{Value: value, Confidence: confidence, ProducedAt: time.Now()}, nil
		},
	}
}

func passingPipeline(t *testing.T) *validation.Pipeline {
	t.Helper()
	p := validation.NewPipeline(validation.Config{PassThreshold: 0.9}, zerolog.Nop(), nil)
	if err := p.Register("always_pass", 1, func(models.Artifact, validation.Context) (float64, []models.Issue) {
		return 1, nil
	}); err != nil {
		t.Fatal(err)
	}
	return p
}

func buildGraph(t *testing.T, subtasks ...*models.Subtask) *graph.SubtaskGraph {
	t.Helper()
	g := graph.New()
	if err := g.Build(subtasks); err != nil {
		t.Fatal(err)
	}
	return g
}

func subtask(id, name string, cap models.Capability, deps ...string) *models.Subtask {
	return &models.Subtask{
		ID:           id,
		ParentTaskID: "task-1",
		Name:         name,
		Capability:   cap,
		Payload:      "payload",
		DependsOn:    deps,
	}
}

func TestCoordinateResolvesAgreedSubtask(t *testing.T) {
	pool := agent.NewPool()
	for _, id := range []string{"a1", "a2", "a3"} {
		if err := pool.Register(fixedAgent(id, "compute", "answer", 0.9)); err != nil {
			t.Fatal(err)
		}
	}
	c := New(Config{FanOut: 3, Quorum: 0.6, SubtaskTimeout: 5 * time.Second}, pool, passingPipeline(t), zerolog.Nop(), nil)

	g := buildGraph(t, subtask("st-1", "compute-answer", "compute"))
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	o := outcomes[0]
	if o.State != models.SubtaskResolved {
		t.Fatalf("state = %q, want %q (error: %s)", o.State, models.SubtaskResolved, o.Error)
	}
	if o.Consensus == nil || o.Consensus.Value != "answer" {
		t.Errorf("consensus = %+v, want value %q", o.Consensus, "answer")
	}
	if o.Verdict == nil || !o.Verdict.Passed {
		t.Errorf("verdict = %+v, want passed", o.Verdict)
	}
	if !g.Done() {
		t.Error("graph not done after coordination")
	}
}

// Three independent subtasks at fan-out 3: two agents agree, one dissents
// with lower confidence. Every subtask must resolve with agreement at or
// above the quorum.
func TestCoordinateMajorityOverDissenter(t *testing.T) {
	pool := agent.NewPool()
	if err := pool.Register(fixedAgent("a1", "compute", "alpha", 0.9)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Register(fixedAgent("a2", "compute", "alpha", 0.8)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Register(fixedAgent("a3", "compute", "beta", 0.5)); err != nil {
		t.Fatal(err)
	}

	c := New(Config{FanOut: 3, Quorum: 0.6, SubtaskTimeout: 5 * time.Second}, pool, passingPipeline(t), zerolog.Nop(), nil)
	g := buildGraph(t,
		subtask("st-1", "first", "compute"),
		subtask("st-2", "second", "compute"),
		subtask("st-3", "third", "compute"),
	)
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	for _, o := range outcomes {
		if o.State != models.SubtaskResolved {
			t.Errorf("%s state = %q, want resolved (error: %s)", o.Name, o.State, o.Error)
			continue
		}
		if o.Consensus.Value != "alpha" {
			t.Errorf("%s value = %q, want majority %q", o.Name, o.Consensus.Value, "alpha")
		}
		if o.Consensus.AgreementRatio < 0.6 {
			t.Errorf("%s agreement = %v, want >= 0.6", o.Name, o.Consensus.AgreementRatio)
		}
	}
}

// First round disagrees below quorum; the retry with the expanded agent set
// converges. The accepted result must be marked degraded.
func TestCoordinateRetryConvergesDegraded(t *testing.T) {
	pool := agent.NewPool()
	firstValues := map[string]string{"a1": "alpha", "a2": "beta"}
	for _, id := range []string{"a1", "a2", "a3"} {
		id := id
		var calls int32
		if err := pool.Register(&agent.Func{
			AgentID: id,
			Caps:    []models.Capability{"compute"},
			Fn: func(ctx context.Context, st *models.Subtask) (models.CandidateResult, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					if v, ok := firstValues[id]; ok {
						return models.CandidateResult{Value: v, Confidence: 0.5, ProducedAt: time.Now()}, nil
					}
				}
				return models.CandidateResult{Value: "gamma", Confidence: 0.9, ProducedAt: time.Now()}, nil
			},
		}); err != nil {
			t.Fatal(err)
		}
	}

	c := New(Config{FanOut: 2, Quorum: 0.6, SubtaskTimeout: 5 * time.Second}, pool, passingPipeline(t), zerolog.Nop(), nil)
	g := buildGraph(t, subtask("st-1", "converge", "compute"))
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	o := outcomes[0]
	if o.State != models.SubtaskResolvedDegraded {
		t.Fatalf("state = %q, want %q (error: %s)", o.State, models.SubtaskResolvedDegraded, o.Error)
	}
	if o.Consensus == nil || o.Consensus.Value != "gamma" {
		t.Errorf("consensus = %+v, want retry value %q", o.Consensus, "gamma")
	}
}

// The retry is a fresh vote: an agent re-invoked with the expanded set must
// not keep its round-one ballot, or it would carry double weight.
func TestCoordinateRetryVotesOncePerAgent(t *testing.T) {
	pool := agent.NewPool()
	if err := pool.Register(fixedAgent("a1", "compute", "alpha", 0.9)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Register(fixedAgent("a2", "compute", "beta", 0.8)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Register(fixedAgent("a3", "compute", "beta", 0.8)); err != nil {
		t.Fatal(err)
	}

	// Round one assigns a1 and a2: alpha 0.9 vs beta 0.8 misses the quorum.
	// The expanded retry re-votes all three: beta carries 1.6 of 2.5 = 0.64.
	// Double-counting a1 and a2 would yield 2.4 of 4.2 = 0.57 and wrongly
	// leave the subtask unresolved.
	c := New(Config{FanOut: 2, Quorum: 0.6, SubtaskTimeout: 5 * time.Second}, pool, passingPipeline(t), zerolog.Nop(), nil)
	g := buildGraph(t, subtask("st-1", "revote", "compute"))
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	o := outcomes[0]
	if o.State != models.SubtaskResolvedDegraded {
		t.Fatalf("state = %q, want %q (error: %s)", o.State, models.SubtaskResolvedDegraded, o.Error)
	}
	if o.Consensus == nil || o.Consensus.Value != "beta" {
		t.Fatalf("consensus = %+v, want retry majority %q", o.Consensus, "beta")
	}
	wantRatio := 1.6 / 2.5
	if diff := o.Consensus.AgreementRatio - wantRatio; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("agreement ratio = %v, want %v", o.Consensus.AgreementRatio, wantRatio)
	}
}

func TestCoordinatePersistentDissentUnresolved(t *testing.T) {
	pool := agent.NewPool()
	for i, id := range []string{"a1", "a2", "a3"} {
		if err := pool.Register(fixedAgent(id, "compute", strings.Repeat("x", i+1), 0.5)); err != nil {
			t.Fatal(err)
		}
	}
	c := New(Config{FanOut: 3, Quorum: 0.6, SubtaskTimeout: 5 * time.Second}, pool, passingPipeline(t), zerolog.Nop(), nil)
	g := buildGraph(t, subtask("st-1", "dissent", "compute"))
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	o := outcomes[0]
	if o.State != models.SubtaskUnresolved {
		t.Fatalf("state = %q, want %q", o.State, models.SubtaskUnresolved)
	}
	if o.Error == "" {
		t.Error("unresolved outcome carries no error")
	}
}

// An agent that misses the subtask deadline is excluded from that subtask's
// vote; the remaining agreement still resolves, degraded. The miss costs the
// agent the vote, not its pool membership.
func TestCoordinateAgentTimeoutDegrades(t *testing.T) {
	pool := agent.NewPool()
	for _, id := range []string{"a1", "a2"} {
		if err := pool.Register(fixedAgent(id, "compute", "answer", 0.9)); err != nil {
			t.Fatal(err)
		}
	}
	if err := pool.Register(&agent.Func{
		AgentID: "slow",
		Caps:    []models.Capability{"compute"},
		Fn: func(ctx context.Context, st *models.Subtask) (models.CandidateResult, error) {
			<-ctx.Done()
			return models.CandidateResult{}, ctx.Err()
		},
	}); err != nil {
		t.Fatal(err)
	}

	c := New(Config{FanOut: 3, Quorum: 0.6, SubtaskTimeout: 100 * time.Millisecond}, pool, passingPipeline(t), zerolog.Nop(), nil)
	g := buildGraph(t, subtask("st-1", "partial", "compute"))
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	o := outcomes[0]
	if o.State != models.SubtaskResolvedDegraded {
		t.Fatalf("state = %q, want %q (error: %s)", o.State, models.SubtaskResolvedDegraded, o.Error)
	}

	for _, inf := range pool.Snapshot() {
		if inf.ID == "slow" && inf.Degraded {
			t.Error("slow agent marked degraded in the pool; a missed deadline only costs the vote")
		}
	}
}

// A missed deadline excludes the agent from that subtask only: once it
// responds again, later subtasks assign it as usual.
func TestCoordinateTimedOutAgentReadmitted(t *testing.T) {
	pool := agent.NewPool()
	var calls int32
	if err := pool.Register(&agent.Func{
		AgentID: "flaky",
		Caps:    []models.Capability{"compute"},
		Fn: func(ctx context.Context, st *models.Subtask) (models.CandidateResult, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				<-ctx.Done()
				return models.CandidateResult{}, ctx.Err()
			}
			return models.CandidateResult{Value: "ok", Confidence: 0.9, ProducedAt: time.Now()}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	c := New(Config{FanOut: 3, Quorum: 0.6, SubtaskTimeout: 50 * time.Millisecond}, pool, passingPipeline(t), zerolog.Nop(), nil)

	g1 := buildGraph(t, subtask("st-1", "first", "compute"))
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g1)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	if outcomes[0].State != models.SubtaskUnresolved {
		t.Fatalf("first subtask state = %q, want unresolved (sole agent timed out)", outcomes[0].State)
	}

	g2 := buildGraph(t, subtask("st-2", "second", "compute"))
	outcomes, err = c.Coordinate(context.Background(), &models.Task{ID: "task-2"}, g2)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	o := outcomes[0]
	if o.State != models.SubtaskResolved {
		t.Fatalf("second subtask state = %q, want resolved (error: %s)", o.State, o.Error)
	}
	if o.Consensus == nil || o.Consensus.Value != "ok" {
		t.Errorf("consensus = %+v, want value %q", o.Consensus, "ok")
	}
}

func TestCoordinateSkipsDependentsOfUnresolved(t *testing.T) {
	pool := agent.NewPool()
	if err := pool.Register(fixedAgent("a1", "compute", "answer", 0.9)); err != nil {
		t.Fatal(err)
	}

	c := New(Config{FanOut: 3, Quorum: 0.6, SubtaskTimeout: time.Second}, pool, passingPipeline(t), zerolog.Nop(), nil)
	g := buildGraph(t,
		subtask("st-1", "impossible", "quantum"), // nobody advertises this
		subtask("st-2", "downstream", "compute", "st-1"),
	)
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	byID := make(map[string]models.SubtaskOutcome)
	for _, o := range outcomes {
		byID[o.SubtaskID] = o
	}
	if byID["st-1"].State != models.SubtaskUnresolved {
		t.Errorf("st-1 state = %q, want unresolved", byID["st-1"].State)
	}
	if byID["st-2"].State != models.SubtaskUnresolved {
		t.Errorf("st-2 state = %q, want unresolved", byID["st-2"].State)
	}
	if !strings.Contains(byID["st-2"].Error, "dependency") {
		t.Errorf("st-2 error = %q, want dependency skip reason", byID["st-2"].Error)
	}
}

func TestCoordinateFailedValidationDegrades(t *testing.T) {
	pool := agent.NewPool()
	for _, id := range []string{"a1", "a2", "a3"} {
		if err := pool.Register(fixedAgent(id, "compute", "answer", 0.9)); err != nil {
			t.Fatal(err)
		}
	}
	p := validation.NewPipeline(validation.Config{PassThreshold: 0.9}, zerolog.Nop(), nil)
	if err := p.Register("always_low", 1, func(models.Artifact, validation.Context) (float64, []models.Issue) {
		return 0.1, []models.Issue{{Validator: "always_low", Severity: models.SeverityWarning, Message: "weak result"}}
	}); err != nil {
		t.Fatal(err)
	}

	c := New(Config{FanOut: 3, Quorum: 0.6, SubtaskTimeout: time.Second}, pool, p, zerolog.Nop(), nil)
	g := buildGraph(t, subtask("st-1", "weak", "compute"))
	outcomes, err := c.Coordinate(context.Background(), &models.Task{ID: "task-1"}, g)
	if err != nil {
		t.Fatalf("Coordinate() error = %v", err)
	}
	o := outcomes[0]
	if o.State != models.SubtaskResolvedDegraded {
		t.Fatalf("state = %q, want %q", o.State, models.SubtaskResolvedDegraded)
	}
	if o.Verdict == nil || o.Verdict.Passed {
		t.Errorf("verdict = %+v, want failed", o.Verdict)
	}
	if o.Consensus == nil {
		t.Error("degraded outcome should keep the consensus value")
	}
}

func TestCoordinateHonorsCancellation(t *testing.T) {
	pool := agent.NewPool()
	if err := pool.Register(fixedAgent("a1", "compute", "answer", 0.9)); err != nil {
		t.Fatal(err)
	}
	c := New(Config{}, pool, passingPipeline(t), zerolog.Nop(), nil)
	g := buildGraph(t, subtask("st-1", "never", "compute"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Coordinate(ctx, &models.Task{ID: "task-1"}, g); !errors.Is(err, context.Canceled) {
		t.Fatalf("Coordinate() error = %v, want context.Canceled", err)
	}
}
