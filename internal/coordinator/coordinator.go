// Package coordinator assigns subtasks to agents, runs the confidence-
// weighted consensus vote over their candidate results, and validates the
// agreed value before marking a subtask resolved.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/internal/agent"
	"github.com/halcyon-systems/dispatch/internal/graph"
	"github.com/halcyon-systems/dispatch/internal/metrics"
	"github.com/halcyon-systems/dispatch/internal/validation"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

// Config tunes fan-out and consensus.
type Config struct {
	// FanOut is the number of agents each subtask is assigned to. When fewer
	// idle agents advertise the capability, all of them are assigned; one is
	// enough to attempt consensus.
	FanOut int
	// Quorum is the agreement fraction a value class must carry.
	Quorum float64
	// SubtaskTimeout bounds one assignment round. Agents still running at
	// expiry are excluded from that subtask's vote but stay in the pool.
	SubtaskTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FanOut == 0 {
		c.FanOut = 3
	}
	if c.Quorum == 0 {
		c.Quorum = 0.6
	}
	if c.SubtaskTimeout == 0 {
		c.SubtaskTimeout = 30 * time.Second
	}
}

// Coordinator walks a subtask graph wave by wave, resolving each ready
// subtask through fan-out, consensus, and validation.
type Coordinator struct {
	cfg      Config
	pool     *agent.Pool
	pipeline *validation.Pipeline
	log      zerolog.Logger
	met      *metrics.Registry
}

// New creates a coordinator over the given agent pool and validation
// pipeline.
func New(cfg Config, pool *agent.Pool, pipeline *validation.Pipeline, log zerolog.Logger, met *metrics.Registry) *Coordinator {
	cfg.applyDefaults()
	if met == nil {
		met = metrics.NewUnregistered()
	}
	return &Coordinator{
		cfg:      cfg,
		pool:     pool,
		pipeline: pipeline,
		log:      log.With().Str("component", "coordinator").Logger(),
		met:      met,
	}
}

// Coordinate executes every subtask in the graph, respecting dependency
// order. Ready subtasks within a wave run concurrently. Subtasks downstream
// of an unresolved one are reported unresolved without being assigned.
// Outcomes are returned in graph insertion order.
func (c *Coordinator) Coordinate(ctx context.Context, task *models.Task, g *graph.SubtaskGraph) ([]models.SubtaskOutcome, error) {
	outcomes := make(map[string]models.SubtaskOutcome, g.Size())
	var mu sync.Mutex

	for !g.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ready := g.Ready()
		if len(ready) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, id := range ready {
			wg.Add(1)
			go func(st *models.Subtask) {
				defer wg.Done()
				outcome := c.resolveSubtask(ctx, task, st)
				mu.Lock()
				outcomes[st.ID] = outcome
				mu.Unlock()
				if outcome.State == models.SubtaskUnresolved {
					g.MarkUnresolved(st.ID)
				} else {
					g.MarkComplete(st.ID)
				}
			}(g.Subtask(id))
		}
		wg.Wait()
	}

	// Whatever has no outcome was never ready: a dependency is unresolved.
	out := make([]models.SubtaskOutcome, 0, g.Size())
	unresolvedDeps := 0
	for _, st := range g.Subtasks() {
		if o, ok := outcomes[st.ID]; ok {
			out = append(out, o)
			continue
		}
		unresolvedDeps++
		out = append(out, models.SubtaskOutcome{
			SubtaskID: st.ID,
			Name:      st.Name,
			State:     models.SubtaskUnresolved,
			Error:     "skipped: dependency unresolved",
		})
	}
	if unresolvedDeps > 0 {
		c.log.Warn().
			Str("task_id", task.ID).
			Int("skipped", unresolvedDeps).
			Msg("subtasks skipped behind unresolved dependencies")
	}
	return out, nil
}

// resolveSubtask runs one subtask through assignment, consensus with a
// single expanded retry, and validation of the agreed value.
func (c *Coordinator) resolveSubtask(ctx context.Context, task *models.Task, st *models.Subtask) models.SubtaskOutcome {
	log := c.log.With().Str("task_id", task.ID).Str("subtask_id", st.ID).Str("name", st.Name).Logger()

	if c.pool.Capable(st.Capability) == 0 {
		c.met.ConsensusOutcomes.WithLabelValues("unresolved").Inc()
		log.Warn().Str("capability", string(st.Capability)).Msg("no registered capable agents")
		return models.SubtaskOutcome{
			SubtaskID: st.ID,
			Name:      st.Name,
			State:     models.SubtaskUnresolved,
			Error:     "no agents advertise capability " + string(st.Capability),
		}
	}

	assigned, err := c.claimFanOut(ctx, st.Capability)
	if err != nil {
		c.met.ConsensusOutcomes.WithLabelValues("unresolved").Inc()
		return models.SubtaskOutcome{
			SubtaskID: st.ID,
			Name:      st.Name,
			State:     models.SubtaskUnresolved,
			Error:     err.Error(),
		}
	}

	candidates, excluded := c.fanOut(ctx, st, assigned)
	consensus, err := computeConsensus(st.ID, candidates, c.cfg.Quorum)

	timedOut := len(excluded) > 0
	retried := false
	if err != nil && ctx.Err() == nil {
		// One bounded retry with the expanded agent set: every idle capable
		// agent, except those that already missed this subtask's deadline.
		// The retry is a fresh vote; round-one ballots are discarded so no
		// agent votes twice.
		expanded := c.pool.AcquireIdle(st.Capability, 1, 0, excluded)
		if len(expanded) > 0 {
			retried = true
			log.Info().Int("agents", len(expanded)).Err(err).Msg("retrying consensus with expanded agent set")
			more, retryExcluded := c.fanOut(ctx, st, expanded)
			timedOut = timedOut || len(retryExcluded) > 0
			candidates = more
			consensus, err = computeConsensus(st.ID, candidates, c.cfg.Quorum)
		}
	}

	if err != nil {
		c.met.ConsensusOutcomes.WithLabelValues("unresolved").Inc()
		log.Warn().Err(err).Msg("subtask unresolved")
		return models.SubtaskOutcome{
			SubtaskID: st.ID,
			Name:      st.Name,
			State:     models.SubtaskUnresolved,
			Error:     err.Error(),
		}
	}

	if retried {
		c.met.ConsensusOutcomes.WithLabelValues("agreed_retry").Inc()
	} else {
		c.met.ConsensusOutcomes.WithLabelValues("agreed").Inc()
	}

	verdict := c.pipeline.Validate(ctx,
		models.Artifact{
			ID:       st.ID,
			Content:  consensus.Value,
			Metadata: map[string]string{"subtask_name": st.Name},
		},
		validation.Context{
			TaskID:      st.ParentTaskID,
			SubtaskID:   st.ID,
			Constraints: task.Constraints,
		},
	)

	state := models.SubtaskResolved
	if retried || timedOut || !verdict.Passed {
		state = models.SubtaskResolvedDegraded
	}
	log.Info().
		Str("state", string(state)).
		Float64("agreement", consensus.AgreementRatio).
		Bool("validation_passed", verdict.Passed).
		Msg("subtask resolved")

	return models.SubtaskOutcome{
		SubtaskID: st.ID,
		Name:      st.Name,
		State:     state,
		Consensus: consensus,
		Verdict:   &verdict,
	}
}

// claimFanOut blocks until it claims the full fan-out complement of idle
// non-degraded capable agents, capped by how many such agents exist. Sibling
// subtasks in a wave contend for the same pool; claiming the complement
// inside one pool critical section keeps each vote at full strength and
// stops two subtasks from assigning the same agent twice.
func (c *Coordinator) claimFanOut(ctx context.Context, capability models.Capability) ([]agent.Agent, error) {
	for {
		usable := c.usableCount(capability)
		if usable == 0 {
			return nil, fmt.Errorf("every agent with capability %s is degraded", capability)
		}
		want := c.cfg.FanOut
		if usable < want {
			want = usable
		}
		if agents := c.pool.AcquireIdle(capability, want, c.cfg.FanOut, nil); len(agents) > 0 {
			return agents, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for idle agents with capability %s: %w", capability, ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// usableCount counts capable agents that could still accept an assignment.
func (c *Coordinator) usableCount(capability models.Capability) int {
	n := 0
	for _, inf := range c.pool.Snapshot() {
		if inf.Degraded {
			continue
		}
		for _, cap := range inf.Capabilities {
			if cap == capability {
				n++
				break
			}
		}
	}
	return n
}

// fanOut runs one subtask on the given agents, already claimed by the
// caller, and collects their candidates until all return or the subtask
// timeout expires. Agents that miss the deadline are returned in the
// exclusion set so the retry skips them; the miss costs them this subtask's
// vote only. Their load is still released when they eventually finish, so
// they stay assignable to later subtasks.
func (c *Coordinator) fanOut(ctx context.Context, st *models.Subtask, agents []agent.Agent) ([]models.CandidateResult, map[string]bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubtaskTimeout)
	defer cancel()

	type reply struct {
		agentID string
		result  models.CandidateResult
		err     error
	}
	replies := make(chan reply, len(agents))
	for _, a := range agents {
		go func(a agent.Agent) {
			result, err := a.Execute(ctx, st)
			c.pool.Release(a.ID(), result.Confidence)
			replies <- reply{agentID: a.ID(), result: result, err: err}
		}(a)
	}

	pending := make(map[string]bool, len(agents))
	for _, a := range agents {
		pending[a.ID()] = true
	}

	var candidates []models.CandidateResult
	excluded := make(map[string]bool)
	for range agents {
		select {
		case r := <-replies:
			delete(pending, r.agentID)
			if r.err != nil {
				// An agent surfacing the deadline itself is still a timeout.
				if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled) {
					excluded[r.agentID] = true
					c.met.AgentTimeouts.Inc()
				}
				c.log.Warn().
					Str("subtask_id", st.ID).
					Str("agent_id", r.agentID).
					Err(r.err).
					Msg("agent execution failed")
				continue
			}
			r.result.SubtaskID = st.ID
			r.result.AgentID = r.agentID
			if r.result.ProducedAt.IsZero() {
				r.result.ProducedAt = time.Now()
			}
			candidates = append(candidates, r.result)
		case <-ctx.Done():
			for id := range pending {
				excluded[id] = true
				c.met.AgentTimeouts.Inc()
				c.log.Warn().
					Str("subtask_id", st.ID).
					Str("agent_id", id).
					Msg("agent missed subtask deadline, excluded from this vote")
			}
			return candidates, excluded
		}
	}
	return candidates, excluded
}
