// Package validation runs registered validators over an artifact snapshot
// and aggregates their scores into a single verdict.
package validation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/internal/metrics"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

// IssueValidatorTimeout is the issue message recorded when a validator
// exceeds its time bound and is scored 0.
const IssueValidatorTimeout = "validator_timeout"

// Context carries the task-level information validators may consult.
// Validators are pure functions of (artifact, context); they must not
// mutate either.
type Context struct {
	// TaskID is the owning task.
	TaskID string
	// SubtaskID is the subtask whose result is under validation.
	SubtaskID string
	// Constraints are the task's caller-supplied constraints.
	Constraints map[string]string
}

// Func is a single-dimension quality check. It returns a score in [0,1] and
// zero or more issues. Proposed fixes go in Issue.Suggestion; validators
// never apply them.
type Func func(artifact models.Artifact, vctx Context) (float64, []models.Issue)

// Config tunes the pipeline.
type Config struct {
	// PassThreshold is the minimum aggregate score for a passing verdict.
	PassThreshold float64
	// ValidatorTimeout bounds each validator run.
	ValidatorTimeout time.Duration
	// Weights overrides registration weights by validator name.
	Weights map[string]float64
}

type entry struct {
	name   string
	weight float64
	fn     Func
}

// Pipeline runs all registered validators concurrently and aggregates the
// outcome. A validator that misses its deadline is scored 0 with a
// validator_timeout issue; its weight stays in the denominator so the
// timeout pulls the aggregate down (fail closed).
type Pipeline struct {
	cfg Config
	log zerolog.Logger
	met *metrics.Registry

	mu      sync.RWMutex
	entries []entry
}

// NewPipeline creates a pipeline with no validators registered.
func NewPipeline(cfg Config, log zerolog.Logger, met *metrics.Registry) *Pipeline {
	if cfg.PassThreshold == 0 {
		cfg.PassThreshold = 0.90
	}
	if cfg.ValidatorTimeout == 0 {
		cfg.ValidatorTimeout = 5 * time.Second
	}
	if met == nil {
		met = metrics.NewUnregistered()
	}
	return &Pipeline{
		cfg: cfg,
		log: log.With().Str("component", "validation").Logger(),
		met: met,
	}
}

// Register adds a validator. The weight must be positive; names must be
// unique. Registration extends the set without touching aggregation logic.
func (p *Pipeline) Register(name string, weight float64, fn Func) error {
	if name == "" {
		return fmt.Errorf("validator name must not be empty")
	}
	if weight <= 0 {
		return fmt.Errorf("validator %s: weight must be positive, got %v", name, weight)
	}
	if fn == nil {
		return fmt.Errorf("validator %s: nil func", name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.name == name {
			return fmt.Errorf("validator %s already registered", name)
		}
	}
	p.entries = append(p.entries, entry{name: name, weight: weight, fn: fn})
	return nil
}

// Names returns the registered validator names in registration order.
func (p *Pipeline) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.name
	}
	return out
}

type validatorResult struct {
	name     string
	weight   float64
	score    float64
	issues   []models.Issue
	timedOut bool
}

// Validate runs every registered validator concurrently over the artifact
// and returns the aggregate verdict. The artifact snapshot is immutable;
// validators share no mutable state, so no locking is needed across them.
func (p *Pipeline) Validate(ctx context.Context, artifact models.Artifact, vctx Context) models.ValidationVerdict {
	p.mu.RLock()
	entries := append([]entry(nil), p.entries...)
	cfg := p.cfg
	p.mu.RUnlock()

	results := make(chan validatorResult, len(entries))
	for _, e := range entries {
		go p.runOne(ctx, e, artifact, vctx, cfg.ValidatorTimeout, results)
	}

	verdict := models.ValidationVerdict{
		ArtifactID:         artifact.ID,
		PerValidatorScores: make(map[string]float64, len(entries)),
	}

	var weightSum, weighted float64
	for range entries {
		r := <-results
		verdict.PerValidatorScores[r.name] = r.score
		verdict.Issues = append(verdict.Issues, r.issues...)
		weightSum += r.weight
		weighted += r.weight * r.score
		if r.timedOut {
			p.met.ValidatorTimeouts.Inc()
		}
	}
	if weightSum > 0 {
		verdict.AggregateScore = weighted / weightSum
	}

	sort.Slice(verdict.Issues, func(i, j int) bool {
		if verdict.Issues[i].Validator != verdict.Issues[j].Validator {
			return verdict.Issues[i].Validator < verdict.Issues[j].Validator
		}
		return verdict.Issues[i].Message < verdict.Issues[j].Message
	})

	// A single critical issue is a hard gate; it is never averaged away.
	verdict.Passed = verdict.AggregateScore >= cfg.PassThreshold && !verdict.HasCritical()

	if verdict.Passed {
		p.met.ValidationVerdicts.WithLabelValues("passed").Inc()
	} else {
		p.met.ValidationVerdicts.WithLabelValues("failed").Inc()
	}

	p.log.Debug().
		Str("artifact", artifact.ID).
		Float64("aggregate", verdict.AggregateScore).
		Bool("passed", verdict.Passed).
		Int("issues", len(verdict.Issues)).
		Msg("validation verdict")

	return verdict
}

// effectiveWeight applies the configured override for a validator name.
func (p *Pipeline) effectiveWeight(e entry) float64 {
	if w, ok := p.cfg.Weights[e.name]; ok && w > 0 {
		return w
	}
	return e.weight
}

// runOne executes a single validator with its time bound.
func (p *Pipeline) runOne(ctx context.Context, e entry, artifact models.Artifact, vctx Context, timeout time.Duration, out chan<- validatorResult) {
	weight := p.effectiveWeight(e)

	done := make(chan validatorResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- validatorResult{
					name:   e.name,
					weight: weight,
					score:  0,
					issues: []models.Issue{{
						Validator: e.name,
						Severity:  models.SeverityWarning,
						Message:   fmt.Sprintf("validator panicked: %v", rec),
					}},
				}
			}
		}()
		score, issues := e.fn(artifact, vctx)
		score = clamp01(score)
		for i := range issues {
			issues[i].Validator = e.name
		}
		done <- validatorResult{name: e.name, weight: weight, score: score, issues: issues}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		out <- r
	case <-timer.C:
		p.log.Warn().Str("validator", e.name).Dur("timeout", timeout).Msg("validator timed out")
		out <- validatorResult{
			name:     e.name,
			weight:   weight,
			score:    0,
			timedOut: true,
			issues: []models.Issue{{
				Validator: e.name,
				Severity:  models.SeverityWarning,
				Message:   IssueValidatorTimeout,
			}},
		}
	case <-ctx.Done():
		out <- validatorResult{
			name:     e.name,
			weight:   weight,
			score:    0,
			timedOut: true,
			issues: []models.Issue{{
				Validator: e.name,
				Severity:  models.SeverityWarning,
				Message:   IssueValidatorTimeout,
			}},
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
