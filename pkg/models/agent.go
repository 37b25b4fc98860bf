package models

import "time"

// AgentInfo is the coordinator's view of a registered agent. The descriptor
// is owned by the agent pool; callers receive copies.
type AgentInfo struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capabilities are the capability tags the agent advertises.
	Capabilities []Capability `json:"capabilities"`
	// CurrentLoad is the number of subtasks currently assigned.
	CurrentLoad int `json:"current_load"`
	// LastConfidence is the confidence the agent reported on its most
	// recent candidate result.
	LastConfidence float64 `json:"last_confidence"`
	// Degraded is set when the agent missed a subtask deadline. Degraded
	// agents are excluded from quorum for that subtask but remain in the
	// pool.
	Degraded bool `json:"degraded,omitempty"`
}

// CandidateResult is one agent's answer for a subtask. Candidates are
// consumed by consensus and discarded afterwards.
type CandidateResult struct {
	// SubtaskID is the subtask this candidate answers.
	SubtaskID string `json:"subtask_id"`
	// AgentID is the agent that produced the candidate.
	AgentID string `json:"agent_id"`
	// Value is the produced result.
	Value string `json:"value"`
	// Confidence is the agent's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// ProducedAt is when the candidate was produced; it breaks consensus
	// ties in favor of the earliest candidate.
	ProducedAt time.Time `json:"produced_at"`
}
