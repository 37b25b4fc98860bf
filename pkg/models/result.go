package models

// SubtaskState classifies the final outcome of one subtask.
type SubtaskState string

const (
	// SubtaskResolved means consensus was reached on the first attempt and
	// validation passed.
	SubtaskResolved SubtaskState = "resolved"
	// SubtaskResolvedDegraded means a result was accepted but the quorum was
	// degraded: the consensus needed a retry, an assigned agent timed out,
	// or validation failed on an agreed value.
	SubtaskResolvedDegraded SubtaskState = "resolved_degraded"
	// SubtaskUnresolved means no quorum was reached after the bounded retry,
	// or the subtask was skipped because a dependency was unresolved.
	SubtaskUnresolved SubtaskState = "unresolved"
)

// Valid returns true if the state is a known value.
func (s SubtaskState) Valid() bool {
	switch s {
	case SubtaskResolved, SubtaskResolvedDegraded, SubtaskUnresolved:
		return true
	default:
		return false
	}
}

// ConsensusResult is the agreed value for one subtask. AgreementRatio is
// always at or above the configured quorum; when quorum cannot be reached
// the subtask is reported unresolved instead.
type ConsensusResult struct {
	// SubtaskID is the subtask this consensus covers.
	SubtaskID string `json:"subtask_id"`
	// Value is the winning value.
	Value string `json:"value"`
	// AgreementRatio is the winning class weight divided by total weight.
	AgreementRatio float64 `json:"agreement_ratio"`
	// DissentingAgents lists agents whose candidates lost the vote.
	DissentingAgents []string `json:"dissenting_agents,omitempty"`
}

// SubtaskOutcome is the per-subtask entry of a task result. Callers use it
// to distinguish fully resolved, resolved with degraded consensus, and
// unresolved subtasks needing manual review.
type SubtaskOutcome struct {
	// SubtaskID is the subtask this outcome describes.
	SubtaskID string `json:"subtask_id"`
	// Name is the subtask name, for readability in reports.
	Name string `json:"name"`
	// State classifies the outcome.
	State SubtaskState `json:"state"`
	// Consensus is the agreed result, nil when unresolved.
	Consensus *ConsensusResult `json:"consensus,omitempty"`
	// Verdict is the validation verdict for the consensus value, nil when
	// unresolved.
	Verdict *ValidationVerdict `json:"verdict,omitempty"`
	// Error holds the failure description for unresolved subtasks.
	Error string `json:"error,omitempty"`
}

// TaskStatusReport is the caller-visible status of a submitted task.
type TaskStatusReport struct {
	// TaskID is the task being reported on.
	TaskID string `json:"task_id"`
	// Status is the overall task status.
	Status TaskStatus `json:"status"`
	// Outcomes lists per-subtask outcomes once the task has run.
	Outcomes []SubtaskOutcome `json:"outcomes,omitempty"`
	// UnresolvedSubtasks lists IDs of subtasks needing manual review.
	UnresolvedSubtasks []string `json:"unresolved_subtasks,omitempty"`
	// Error holds the failure description for failed tasks.
	Error string `json:"error,omitempty"`
}
