// Package graph provides the subtask dependency graph used for scheduling.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found among subtasks.
var ErrCycleDetected = errors.New("circular dependency detected")

// SubtaskGraph is a directed acyclic graph of subtasks. Nodes are subtasks
// and edges represent "blocked by" relationships. Acyclicity is enforced at
// construction; Build rejects a cyclic edge set rather than breaking edges.
type SubtaskGraph struct {
	mu sync.RWMutex
	// nodes maps subtask ID to the subtask itself.
	nodes map[string]*models.Subtask
	// edges maps subtask ID to IDs of subtasks it depends on.
	edges map[string][]string
	// completed tracks subtasks that resolved.
	completed map[string]bool
	// unresolved tracks subtasks that terminally failed consensus; their
	// dependents are never scheduled.
	unresolved map[string]bool
	// order preserves insertion order for deterministic iteration.
	order []string
}

// New creates an empty subtask graph.
func New() *SubtaskGraph {
	return &SubtaskGraph{
		nodes:      make(map[string]*models.Subtask),
		edges:      make(map[string][]string),
		completed:  make(map[string]bool),
		unresolved: make(map[string]bool),
	}
}

// Build constructs the graph from a slice of subtasks. It returns an error
// if a dependency references an unknown subtask or a cycle is detected.
func (g *SubtaskGraph) Build(subtasks []*models.Subtask) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, st := range subtasks {
		if _, dup := g.nodes[st.ID]; dup {
			return fmt.Errorf("duplicate subtask id %s", st.ID)
		}
		g.nodes[st.ID] = st
		g.edges[st.ID] = nil
		g.order = append(g.order, st.ID)
	}

	for _, st := range subtasks {
		for _, depID := range st.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("subtask %s depends on unknown subtask %s", st.ID, depID)
			}
			g.edges[st.ID] = append(g.edges[st.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *SubtaskGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked assumes the lock is held.
func (g *SubtaskGraph) hasCycleLocked() bool {
	// Color states: 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Ready returns subtask IDs whose dependencies have all completed and that
// have not yet completed or been abandoned. Dependents of unresolved
// subtasks are excluded; they can never become ready.
func (g *SubtaskGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.completed[id] || g.unresolved[id] {
			continue
		}
		ok := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete marks a subtask as resolved, unblocking its dependents.
func (g *SubtaskGraph) MarkComplete(subtaskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[subtaskID] = true
}

// MarkUnresolved marks a subtask as terminally failed. Its dependents stay
// blocked; sibling subtasks are unaffected.
func (g *SubtaskGraph) MarkUnresolved(subtaskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unresolved[subtaskID] = true
}

// IsUnresolved reports whether the subtask was marked unresolved.
func (g *SubtaskGraph) IsUnresolved(subtaskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unresolved[subtaskID]
}

// Done reports whether every subtask has either completed or can no longer
// run because it is, or depends on, an unresolved subtask.
func (g *SubtaskGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id := range g.nodes {
		if g.completed[id] || g.unresolved[id] {
			continue
		}
		if !g.blockedByUnresolvedLocked(id, make(map[string]bool)) {
			return false
		}
	}
	return true
}

// BlockedByUnresolved reports whether the subtask transitively depends on an
// unresolved subtask.
func (g *SubtaskGraph) BlockedByUnresolved(subtaskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blockedByUnresolvedLocked(subtaskID, make(map[string]bool))
}

func (g *SubtaskGraph) blockedByUnresolvedLocked(id string, seen map[string]bool) bool {
	if seen[id] {
		return false
	}
	seen[id] = true
	for _, depID := range g.edges[id] {
		if g.unresolved[depID] || g.blockedByUnresolvedLocked(depID, seen) {
			return true
		}
	}
	return false
}

// Subtask returns the subtask for an ID, or nil if not found.
func (g *SubtaskGraph) Subtask(subtaskID string) *models.Subtask {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[subtaskID]
}

// Subtasks returns all subtasks in insertion order.
func (g *SubtaskGraph) Subtasks() []*models.Subtask {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*models.Subtask, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Size returns the number of subtasks in the graph.
func (g *SubtaskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs a subtask depends on.
func (g *SubtaskGraph) Dependencies(subtaskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[subtaskID]
}

// Dependents returns the IDs of subtasks that depend on the given one.
func (g *SubtaskGraph) Dependents(subtaskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == subtaskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// Terminal returns the IDs of subtasks nothing depends on. These are the
// task's root results: the task as a whole fails only if a terminal subtask
// is unresolved.
func (g *SubtaskGraph) Terminal() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	hasDependent := make(map[string]bool, len(g.nodes))
	for _, deps := range g.edges {
		for _, depID := range deps {
			hasDependent[depID] = true
		}
	}

	var terminal []string
	for _, id := range g.order {
		if !hasDependent[id] {
			terminal = append(terminal, id)
		}
	}
	return terminal
}

// CriticalPathLength returns the length, in nodes, of the longest dependency
// chain. An empty graph has length 0.
func (g *SubtaskGraph) CriticalPathLength() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depth := make(map[string]int, len(g.nodes))
	var visit func(id string) int
	visit = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		max := 0
		for _, depID := range g.edges[id] {
			if d := visit(depID); d > max {
				max = d
			}
		}
		depth[id] = max + 1
		return max + 1
	}

	longest := 0
	for id := range g.nodes {
		if d := visit(id); d > longest {
			longest = d
		}
	}
	return longest
}
