// Package models defines the shared data model for the dispatch engine:
// tasks, subtasks, candidate and consensus results, validation verdicts,
// component health records, and escalation cases.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been submitted but not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is being worked on.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates every terminal subtask resolved.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed (decomposition error,
	// deadline exceeded, or an unresolved terminal subtask).
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// WorkUnit is one declared unit of work inside a task payload. The
// decomposer turns units into subtasks; how they are ordered depends on the
// selected strategy.
type WorkUnit struct {
	// Name identifies the unit within its task.
	Name string `json:"name" yaml:"name"`
	// Capability is the agent capability required to execute this unit.
	Capability Capability `json:"capability" yaml:"capability"`
	// DependsOn lists names of units that must complete first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Stage groups units into sequential barriers for the hybrid strategy.
	Stage int `json:"stage,omitempty" yaml:"stage,omitempty"`
	// Cost is the caller's cost estimate, in arbitrary units.
	Cost float64 `json:"cost,omitempty" yaml:"cost,omitempty"`
	// Payload is the opaque work description handed to agents.
	Payload string `json:"payload" yaml:"payload"`
}

// Task is an incoming unit of work. Tasks are immutable once submitted.
type Task struct {
	// ID is the unique identifier assigned on submission.
	ID string `json:"id"`
	// Payload is an opaque description of the overall work.
	Payload string `json:"payload,omitempty"`
	// Units are the declared work units to distribute across agents.
	Units []WorkUnit `json:"units"`
	// Constraints are caller-supplied key/value constraints.
	Constraints map[string]string `json:"constraints,omitempty"`
	// Deadline is the wall-clock deadline; zero means none.
	Deadline time.Time `json:"deadline,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// Subtask is one node of a task's dependency graph. Subtasks form a DAG; the
// graph package rejects cycles at construction.
type Subtask struct {
	// ID is the unique identifier for this subtask.
	ID string `json:"id"`
	// ParentTaskID is the ID of the task this subtask belongs to.
	ParentTaskID string `json:"parent_task_id"`
	// Name is the human-readable name, derived from the work unit.
	Name string `json:"name"`
	// DependsOn lists subtask IDs that must complete before this one.
	DependsOn []string `json:"depends_on,omitempty"`
	// Capability is the agent capability required for execution.
	Capability Capability `json:"capability"`
	// Payload is the opaque work description handed to agents.
	Payload string `json:"payload"`
	// Cost is the estimated execution cost, in arbitrary units.
	Cost float64 `json:"cost,omitempty"`
}
