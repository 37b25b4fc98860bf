// Package escalate drives component health issues through a bounded,
// three-tier remediation chain: self-heal, peer-assist, permanent solution.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-systems/dispatch/internal/metrics"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

// ErrEscalationExhausted indicates every tier was exhausted and the case is
// permanently failed; the component needs operator attention.
var ErrEscalationExhausted = errors.New("escalation exhausted: component requires operator attention")

// SelfHealHook is a component's own tier-1 recovery routine.
type SelfHealHook func(ctx context.Context) error

// AssistHook is an assistant component's tier-2 remediation routine, invoked
// against the ailing component.
type AssistHook func(ctx context.Context, componentID string) error

// SolutionApplier executes a tier-3 permanent solution against a component.
// Supplied by the host; the default applier does nothing, leaving the
// re-score to decide the case.
type SolutionApplier func(ctx context.Context, componentID string, solution models.PermanentSolution) error

// HealthReader is the monitor surface the manager needs: current records,
// latest snapshots, and on-demand re-scoring after a remediation attempt.
type HealthReader interface {
	Record(componentID string) (models.ComponentHealthRecord, bool)
	Snapshot(componentID string) (models.MetricSnapshot, bool)
	Rescore(componentID string) (float64, models.HealthStatus, bool)
}

// Config tunes the tier state machine.
type Config struct {
	// SelfHealAttempts bounds tier-1 hook invocations.
	SelfHealAttempts int
	// SelfHealWindow bounds each tier-1 attempt.
	SelfHealWindow time.Duration
	// AssistHealthThreshold is the minimum assistant score for tier 2. An
	// assistant below it is skipped, not queued.
	AssistHealthThreshold float64
	// AssistConcurrencyLimit caps concurrent assists per assistant.
	AssistConcurrencyLimit int
	// Tier3Attempts bounds permanent-solution applications.
	Tier3Attempts int
	// ClosedCaseRetention caps how many closed cases stay queryable through
	// Case and Transitions. A case is destroyed on resolution; retention
	// only keeps the most recent ones around for operator inspection.
	ClosedCaseRetention int
}

func (c *Config) applyDefaults() {
	if c.SelfHealAttempts == 0 {
		c.SelfHealAttempts = 3
	}
	if c.SelfHealWindow == 0 {
		c.SelfHealWindow = 30 * time.Second
	}
	if c.AssistHealthThreshold == 0 {
		c.AssistHealthThreshold = 80
	}
	if c.AssistConcurrencyLimit == 0 {
		c.AssistConcurrencyLimit = 2
	}
	if c.Tier3Attempts == 0 {
		c.Tier3Attempts = 1
	}
	if c.ClosedCaseRetention == 0 {
		c.ClosedCaseRetention = 128
	}
}

// Manager consumes health issues and drives each through the tiers until
// resolved or exhausted. Tier transitions are irreversible within a case, so
// every case terminates in a bounded number of transitions.
type Manager struct {
	cfg    Config
	health HealthReader
	log    zerolog.Logger
	met    *metrics.Registry

	applier SolutionApplier

	mu          sync.RWMutex
	selfHeal    map[string]SelfHealHook
	assistants  map[string]string // component ID -> assistant ID
	assistHooks map[string]AssistHook
	assistLoad  map[string]int
	cases       map[string]*models.EscalationCase // by issue ID
	transitions map[string][]models.Tier
	closed      []string // closed issue IDs, oldest first
	activeComp  map[string]bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager reading health from the given reader.
func NewManager(cfg Config, health HealthReader, log zerolog.Logger, met *metrics.Registry) *Manager {
	cfg.applyDefaults()
	if met == nil {
		met = metrics.NewUnregistered()
	}
	return &Manager{
		cfg:         cfg,
		health:      health,
		log:         log.With().Str("component", "escalate").Logger(),
		met:         met,
		applier:     func(context.Context, string, models.PermanentSolution) error { return nil },
		selfHeal:    make(map[string]SelfHealHook),
		assistants:  make(map[string]string),
		assistHooks: make(map[string]AssistHook),
		assistLoad:  make(map[string]int),
		cases:       make(map[string]*models.EscalationCase),
		transitions: make(map[string][]models.Tier),
		activeComp:  make(map[string]bool),
	}
}

// RegisterSelfHealHook installs a component's tier-1 recovery hook.
func (m *Manager) RegisterSelfHealHook(componentID string, fn SelfHealHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selfHeal[componentID] = fn
}

// RegisterAssistComponent designates an assistant for a component.
func (m *Manager) RegisterAssistComponent(componentID, assistantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistants[componentID] = assistantID
}

// RegisterAssistHook installs the routine an assistant runs on tier 2.
func (m *Manager) RegisterAssistHook(assistantID string, fn AssistHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistHooks[assistantID] = fn
}

// SetSolutionApplier installs the host's tier-3 solution executor.
func (m *Manager) SetSolutionApplier(fn SolutionApplier) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applier = fn
}

// HandleIssue drives one health issue through the tier state machine. It
// blocks until the case reaches Resolved or PermanentlyFailed; the returned
// error is ErrEscalationExhausted in the latter case.
func (m *Manager) HandleIssue(ctx context.Context, issue models.HealthIssue) (*models.EscalationCase, error) {
	c := &models.EscalationCase{
		IssueID:     issue.ID,
		ComponentID: issue.ComponentID,
		Tier:        models.TierSelfHeal,
		Outcome:     models.CaseOpen,
		OpenedAt:    time.Now(),
	}

	m.mu.Lock()
	m.cases[issue.ID] = c
	m.activeComp[issue.ComponentID] = true
	m.transitions[issue.ID] = []models.Tier{models.TierSelfHeal}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.activeComp, issue.ComponentID)
		m.mu.Unlock()
	}()

	log := m.log.With().Str("issue_id", issue.ID).Str("component_id", issue.ComponentID).Logger()
	log.Info().Str("severity", string(issue.Severity)).Msg("escalation case opened")

	if m.runTier1(ctx, c) {
		m.resolve(c, log)
		return m.caseCopy(c), nil
	}

	m.advance(c, models.TierPeerAssist)
	if m.runTier2(ctx, c) {
		m.resolve(c, log)
		return m.caseCopy(c), nil
	}

	m.advance(c, models.TierPermanent)
	if m.runTier3(ctx, c) {
		m.resolve(c, log)
		return m.caseCopy(c), nil
	}

	m.mu.Lock()
	c.Outcome = models.CasePermanentlyFailed
	c.ClosedAt = time.Now()
	m.retireLocked(c.IssueID)
	m.mu.Unlock()
	m.met.CasesPermanentlyFailed.Inc()
	log.Error().Msg("escalation exhausted, case permanently failed")

	return m.caseCopy(c), fmt.Errorf("component %s: %w", issue.ComponentID, ErrEscalationExhausted)
}

// advance moves a case to a higher tier. Tiers never decrease.
func (m *Manager) advance(c *models.EscalationCase, tier models.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tier <= c.Tier {
		return
	}
	c.Tier = tier
	c.AttemptsAtTier = 0
	m.transitions[c.IssueID] = append(m.transitions[c.IssueID], tier)
}

func (m *Manager) resolve(c *models.EscalationCase, log zerolog.Logger) {
	m.mu.Lock()
	c.Outcome = models.CaseResolved
	c.ClosedAt = time.Now()
	tier := c.Tier
	m.retireLocked(c.IssueID)
	m.mu.Unlock()
	m.met.EscalationSuccesses.WithLabelValues(strconv.Itoa(int(tier))).Inc()
	log.Info().Int("tier", int(tier)).Msg("escalation case resolved")
}

// retireLocked destroys the oldest closed cases beyond the retention cap.
// Callers hold m.mu.
func (m *Manager) retireLocked(issueID string) {
	m.closed = append(m.closed, issueID)
	for len(m.closed) > m.cfg.ClosedCaseRetention {
		old := m.closed[0]
		m.closed = m.closed[1:]
		delete(m.cases, old)
		delete(m.transitions, old)
	}
}

// runTier1 invokes the component's own recovery hook, bounded in attempts
// and per-attempt window. Hook panics count as failed attempts.
func (m *Manager) runTier1(ctx context.Context, c *models.EscalationCase) bool {
	m.mu.RLock()
	hook := m.selfHeal[c.ComponentID]
	m.mu.RUnlock()
	if hook == nil {
		return false
	}

	for attempt := 1; attempt <= m.cfg.SelfHealAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		m.bumpAttempts(c)
		m.met.EscalationAttempts.WithLabelValues("1").Inc()

		err := m.invokeSelfHeal(ctx, hook)
		if err != nil {
			m.log.Warn().
				Str("component_id", c.ComponentID).
				Int("attempt", attempt).
				Err(err).
				Msg("self-heal attempt failed")
			continue
		}
		if m.backToHealthy(c.ComponentID) {
			return true
		}
	}
	return false
}

// invokeSelfHeal runs one hook attempt inside its window, converting panics
// into errors.
func (m *Manager) invokeSelfHeal(ctx context.Context, hook SelfHealHook) (err error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SelfHealWindow)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("self-heal hook panicked: %v", rec)
			}
		}()
		done <- hook(ctx)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runTier2 escalates to the designated assistant, but only if the assistant
// is itself healthy enough and under its concurrent-assist limit; otherwise
// the case skips straight to tier 3 rather than queuing indefinitely.
func (m *Manager) runTier2(ctx context.Context, c *models.EscalationCase) bool {
	m.mu.Lock()
	assistantID, ok := m.assistants[c.ComponentID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	hook := m.assistHooks[assistantID]
	if hook == nil {
		m.mu.Unlock()
		return false
	}
	if m.assistLoad[assistantID] >= m.cfg.AssistConcurrencyLimit {
		m.mu.Unlock()
		m.log.Info().
			Str("assistant_id", assistantID).
			Msg("assistant saturated, skipping to tier 3")
		return false
	}
	m.mu.Unlock()

	// The score alone is not enough: a silent component keeps its last
	// score but sits in the critical band until it reports again.
	rec, found := m.health.Record(assistantID)
	if !found || rec.LastScore < m.cfg.AssistHealthThreshold ||
		rec.Status == models.HealthCritical || rec.Status == models.HealthFailed {
		m.log.Info().
			Str("assistant_id", assistantID).
			Float64("assistant_score", rec.LastScore).
			Str("assistant_status", string(rec.Status)).
			Float64("threshold", m.cfg.AssistHealthThreshold).
			Msg("assistant unfit, skipping to tier 3")
		return false
	}

	m.mu.Lock()
	m.assistLoad[assistantID]++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.assistLoad[assistantID]--
		m.mu.Unlock()
	}()

	m.bumpAttempts(c)
	m.met.EscalationAttempts.WithLabelValues("2").Inc()

	if err := hook(ctx, c.ComponentID); err != nil {
		m.log.Warn().
			Str("component_id", c.ComponentID).
			Str("assistant_id", assistantID).
			Err(err).
			Msg("peer assist failed")
		return false
	}
	return m.backToHealthy(c.ComponentID)
}

// runTier3 selects and applies a permanent solution, then re-validates by
// re-running the health scoring. Tier 3 is meant to be terminal.
func (m *Manager) runTier3(ctx context.Context, c *models.EscalationCase) bool {
	for attempt := 1; attempt <= m.cfg.Tier3Attempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		m.bumpAttempts(c)
		m.met.EscalationAttempts.WithLabelValues("3").Inc()

		cause := m.classifyRootCause(c.ComponentID)
		solution := chooseSolution(cause)

		m.mu.Lock()
		c.PermanentSolutionID = solution.ID
		applier := m.applier
		m.mu.Unlock()

		m.log.Info().
			Str("component_id", c.ComponentID).
			Str("root_cause", string(cause)).
			Str("solution_type", string(solution.Type)).
			Msg("applying permanent solution")

		if err := applier(ctx, c.ComponentID, solution); err != nil {
			m.log.Warn().
				Str("component_id", c.ComponentID).
				Str("solution_type", string(solution.Type)).
				Err(err).
				Msg("permanent solution failed to apply")
			continue
		}
		if m.backToHealthy(c.ComponentID) {
			return true
		}
	}
	return false
}

// backToHealthy re-runs scoring for the component and checks it returned to
// the healthy band.
func (m *Manager) backToHealthy(componentID string) bool {
	score, status, ok := m.health.Rescore(componentID)
	if !ok {
		return false
	}
	m.log.Debug().
		Str("component_id", componentID).
		Float64("score", score).
		Str("status", string(status)).
		Msg("post-remediation rescore")
	return status == models.HealthHealthy
}

// classifyRootCause maps the component's current evidence onto a cause.
func (m *Manager) classifyRootCause(componentID string) models.RootCause {
	snap, hasSnap := m.health.Snapshot(componentID)
	rec, hasRec := m.health.Record(componentID)

	switch {
	case !hasSnap:
		// Silent component: nothing to diagnose, route around it.
		return models.CauseEmergency
	case hasRec && rec.Status == models.HealthFailed:
		return models.CauseUnrecoverable
	case snap.Saturation >= 0.9:
		return models.CauseResourceExhaustion
	default:
		return models.CauseStructuralDefect
	}
}

func (m *Manager) bumpAttempts(c *models.EscalationCase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.AttemptsAtTier++
}

// Case returns a copy of the case for an issue.
func (m *Manager) Case(issueID string) (models.EscalationCase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[issueID]
	if !ok {
		return models.EscalationCase{}, false
	}
	return *c, true
}

func (m *Manager) caseCopy(c *models.EscalationCase) *models.EscalationCase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cc := *c
	return &cc
}

// Transitions returns the tier sequence a case walked, for operator
// inspection. The sequence is always strictly increasing.
func (m *Manager) Transitions(issueID string) []models.Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Tier(nil), m.transitions[issueID]...)
}

// Start consumes issues from the channel in the background, one case per
// issue. Issues for components with an active case are dropped: the monitor
// emits one issue per transition, and a running case already covers the
// component.
func (m *Manager) Start(ctx context.Context, issues <-chan models.HealthIssue) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case issue, ok := <-issues:
				if !ok {
					return
				}
				m.mu.RLock()
				active := m.activeComp[issue.ComponentID]
				m.mu.RUnlock()
				if active {
					continue
				}
				m.wg.Add(1)
				go func(issue models.HealthIssue) {
					defer m.wg.Done()
					if _, err := m.HandleIssue(ctx, issue); err != nil {
						m.log.Error().Err(err).Str("component_id", issue.ComponentID).Msg("case closed unresolved")
					}
				}(issue)
			}
		}
	}()
}

// Stop cancels the consumer and waits for in-flight cases to finish.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
}
