// Package metrics defines the prometheus collectors shared by the
// coordinator, health monitor, and escalation manager. Assumed success rates
// from configuration are never reported; these counters measure what
// actually happened.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the engine's collectors. Construct one per engine and
// register it against the process registry (or a private one in tests).
type Registry struct {
	// ConsensusOutcomes counts consensus attempts by outcome
	// (agreed, agreed_retry, unresolved).
	ConsensusOutcomes *prometheus.CounterVec
	// AgentTimeouts counts agents excluded from a quorum for missing the
	// subtask deadline.
	AgentTimeouts prometheus.Counter
	// ValidationVerdicts counts pipeline runs by result (passed, failed).
	ValidationVerdicts *prometheus.CounterVec
	// ValidatorTimeouts counts validators scored 0 for exceeding the bound.
	ValidatorTimeouts prometheus.Counter
	// HealthTransitions counts component state changes by target status.
	HealthTransitions *prometheus.CounterVec
	// ComponentScore exposes the latest health score per component.
	ComponentScore *prometheus.GaugeVec
	// EscalationAttempts counts remediation attempts per tier.
	EscalationAttempts *prometheus.CounterVec
	// EscalationSuccesses counts resolutions per tier, giving the real
	// per-tier success rate when divided by attempts.
	EscalationSuccesses *prometheus.CounterVec
	// CasesPermanentlyFailed counts cases that exhausted every tier.
	CasesPermanentlyFailed prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ConsensusOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "consensus",
			Name:      "outcomes_total",
			Help:      "Consensus attempts by outcome.",
		}, []string{"outcome"}),
		AgentTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "consensus",
			Name:      "agent_timeouts_total",
			Help:      "Agents excluded from a quorum after missing the subtask deadline.",
		}),
		ValidationVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "validation",
			Name:      "verdicts_total",
			Help:      "Validation pipeline runs by verdict.",
		}, []string{"result"}),
		ValidatorTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "validation",
			Name:      "validator_timeouts_total",
			Help:      "Validators scored 0 for exceeding their time bound.",
		}),
		HealthTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "health",
			Name:      "transitions_total",
			Help:      "Component health state changes by target status.",
		}, []string{"status"}),
		ComponentScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "health",
			Name:      "component_score",
			Help:      "Latest health score per component (0-100).",
		}, []string{"component"}),
		EscalationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "escalation",
			Name:      "attempts_total",
			Help:      "Remediation attempts per tier.",
		}, []string{"tier"}),
		EscalationSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "escalation",
			Name:      "successes_total",
			Help:      "Resolutions per tier.",
		}, []string{"tier"}),
		CasesPermanentlyFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "escalation",
			Name:      "permanently_failed_total",
			Help:      "Escalation cases that exhausted every tier.",
		}),
	}

	reg.MustRegister(
		r.ConsensusOutcomes,
		r.AgentTimeouts,
		r.ValidationVerdicts,
		r.ValidatorTimeouts,
		r.HealthTransitions,
		r.ComponentScore,
		r.EscalationAttempts,
		r.EscalationSuccesses,
		r.CasesPermanentlyFailed,
	)
	return r
}

// NewUnregistered creates the collectors without registering them. Used by
// tests and by callers that manage registration themselves.
func NewUnregistered() *Registry {
	return New(prometheus.NewRegistry())
}
