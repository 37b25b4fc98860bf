package models

import "time"

// Tier is an escalation tier. Tiers only increase within a case.
type Tier int

const (
	// TierSelfHeal invokes the component's own recovery hook.
	TierSelfHeal Tier = 1
	// TierPeerAssist escalates to a designated assistant component.
	TierPeerAssist Tier = 2
	// TierPermanent applies a terminal permanent solution.
	TierPermanent Tier = 3
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	return t >= TierSelfHeal && t <= TierPermanent
}

// CaseOutcome is the terminal state of an escalation case.
type CaseOutcome string

const (
	// CaseOpen means the case is still being driven through tiers.
	CaseOpen CaseOutcome = "open"
	// CaseResolved means the component returned to healthy.
	CaseResolved CaseOutcome = "resolved"
	// CasePermanentlyFailed means every tier was exhausted; the component
	// needs operator attention.
	CasePermanentlyFailed CaseOutcome = "permanently_failed"
)

// Valid returns true if the outcome is a known value.
func (o CaseOutcome) Valid() bool {
	switch o {
	case CaseOpen, CaseResolved, CasePermanentlyFailed:
		return true
	default:
		return false
	}
}

// EscalationCase tracks one health issue through the tier state machine.
type EscalationCase struct {
	// IssueID is the health issue that opened the case.
	IssueID string `json:"issue_id"`
	// ComponentID is the unhealthy component.
	ComponentID string `json:"component_id"`
	// Tier is the current escalation tier; it never decreases.
	Tier Tier `json:"tier"`
	// AttemptsAtTier counts remediation attempts at the current tier.
	AttemptsAtTier int `json:"attempts_at_tier"`
	// Outcome is the case state.
	Outcome CaseOutcome `json:"outcome"`
	// PermanentSolutionID is set when tier 3 applied a solution.
	PermanentSolutionID string `json:"permanent_solution_id,omitempty"`
	// OpenedAt is when the case was created.
	OpenedAt time.Time `json:"opened_at"`
	// ClosedAt is when the case reached a terminal outcome.
	ClosedAt time.Time `json:"closed_at,omitempty"`
}

// SolutionType enumerates permanent remediation strategies.
type SolutionType string

const (
	// SolutionReplace swaps the component for a fresh instance.
	SolutionReplace SolutionType = "replace"
	// SolutionRedesign rebuilds the component around the defect.
	SolutionRedesign SolutionType = "redesign"
	// SolutionReallocate moves the component to new resources.
	SolutionReallocate SolutionType = "reallocate"
	// SolutionRestructure reshapes the component's internal layout.
	SolutionRestructure SolutionType = "restructure"
	// SolutionReboot restarts the component from clean state.
	SolutionReboot SolutionType = "reboot"
	// SolutionBypass routes around the component entirely.
	SolutionBypass SolutionType = "bypass"
)

// Valid returns true if the solution type is a known value.
func (t SolutionType) Valid() bool {
	switch t {
	case SolutionReplace, SolutionRedesign, SolutionReallocate,
		SolutionRestructure, SolutionReboot, SolutionBypass:
		return true
	default:
		return false
	}
}

// RootCause classifies why a component degraded; it drives tier-3 solution
// selection.
type RootCause string

const (
	// CauseResourceExhaustion means the component ran out of resources.
	CauseResourceExhaustion RootCause = "resource_exhaustion"
	// CauseStructuralDefect means the component has a persistent defect.
	CauseStructuralDefect RootCause = "structural_defect"
	// CauseUnrecoverable means the component cannot be repaired in place.
	CauseUnrecoverable RootCause = "unrecoverable"
	// CauseEmergency means the component must be taken out of the path now.
	CauseEmergency RootCause = "emergency"
)

// PermanentSolution is a terminal tier-3 remediation action. Success rates
// and durations are estimates used for ordering, never guarantees.
type PermanentSolution struct {
	// ID is the unique identifier for this solution instance.
	ID string `json:"id"`
	// Type is the remediation strategy.
	Type SolutionType `json:"type"`
	// EstimatedSuccessRate is the assumed success probability in [0,1].
	EstimatedSuccessRate float64 `json:"estimated_success_rate"`
	// EstimatedDuration is the assumed time to apply.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// RollbackPlan describes how to undo the solution.
	RollbackPlan string `json:"rollback_plan"`
}
