// Package agent defines the capability interface workers implement and the
// pool the coordinator assigns subtasks from.
package agent

import (
	"context"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

// Agent is a capability-tagged worker. Implementations are supplied by the
// host application; the engine never inspects what an agent does, only the
// candidate result it returns.
//
// Execute must observe ctx cancellation promptly: the coordinator cancels
// outstanding invocations when the subtask timeout or the task deadline
// expires.
type Agent interface {
	// ID returns the unique agent identifier.
	ID() string
	// Capabilities returns the capability tags this agent advertises.
	Capabilities() []models.Capability
	// Execute runs one subtask and returns a candidate result with a
	// self-reported confidence in [0,1].
	Execute(ctx context.Context, subtask *models.Subtask) (models.CandidateResult, error)
}

// Func adapts a plain function into an Agent. Useful for hosts with
// stateless workers and for tests.
type Func struct {
	// AgentID is the unique agent identifier.
	AgentID string
	// Caps are the advertised capabilities.
	Caps []models.Capability
	// Fn executes one subtask.
	Fn func(ctx context.Context, subtask *models.Subtask) (models.CandidateResult, error)
}

// ID implements Agent.
func (f *Func) ID() string { return f.AgentID }

// Capabilities implements Agent.
func (f *Func) Capabilities() []models.Capability { return f.Caps }

// Execute implements Agent.
func (f *Func) Execute(ctx context.Context, subtask *models.Subtask) (models.CandidateResult, error) {
	return f.Fn(ctx, subtask)
}
