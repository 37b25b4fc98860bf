package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

// Pool tracks registered agents, their capabilities and current load. The
// coordinator is the single owner of assignment decisions; the pool's lock
// only guards the bookkeeping maps.
type Pool struct {
	mu sync.RWMutex
	// agents maps agent ID to the agent implementation.
	agents map[string]Agent
	// info maps agent ID to its mutable descriptor.
	info map[string]*models.AgentInfo
	// byCapability indexes agent IDs by capability tag.
	byCapability map[models.Capability][]string
}

// NewPool creates an empty agent pool.
func NewPool() *Pool {
	return &Pool{
		agents:       make(map[string]Agent),
		info:         make(map[string]*models.AgentInfo),
		byCapability: make(map[models.Capability][]string),
	}
}

// Register adds an agent to the pool. Agents are registered at startup;
// duplicate IDs are rejected.
func (p *Pool) Register(a Agent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := a.ID()
	if _, dup := p.agents[id]; dup {
		return fmt.Errorf("agent %s already registered", id)
	}
	caps := a.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("agent %s advertises no capabilities", id)
	}

	p.agents[id] = a
	p.info[id] = &models.AgentInfo{ID: id, Capabilities: caps}
	for _, c := range caps {
		p.byCapability[c] = append(p.byCapability[c], id)
	}
	return nil
}

// Idle returns idle, non-degraded agents advertising the capability, sorted
// by ID for deterministic assignment.
func (p *Pool) Idle(capability models.Capability) []Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := append([]string(nil), p.byCapability[capability]...)
	sort.Strings(ids)

	var out []Agent
	for _, id := range ids {
		inf := p.info[id]
		if inf.CurrentLoad == 0 && !inf.Degraded {
			out = append(out, p.agents[id])
		}
	}
	return out
}

// Capable returns how many registered agents advertise the capability,
// busy or not. Zero means no assignment can ever succeed.
func (p *Pool) Capable(capability models.Capability) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byCapability[capability])
}

// AcquireIdle claims up to max idle, non-degraded agents advertising the
// capability inside one critical section, skipping IDs in exclude. Nothing is
// claimed and nil is returned when fewer than min agents are available.
// max <= 0 leaves the claim uncapped. Agents are claimed in ID order.
func (p *Pool) AcquireIdle(capability models.Capability, min, max int, exclude map[string]bool) []Agent {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := append([]string(nil), p.byCapability[capability]...)
	sort.Strings(ids)

	var picked []Agent
	for _, id := range ids {
		if exclude[id] {
			continue
		}
		inf := p.info[id]
		if inf.CurrentLoad > 0 || inf.Degraded {
			continue
		}
		picked = append(picked, p.agents[id])
		if max > 0 && len(picked) == max {
			break
		}
	}
	if len(picked) < min {
		return nil
	}
	for _, a := range picked {
		p.info[a.ID()].CurrentLoad++
	}
	return picked
}

// Acquire increments the agent's load before an assignment.
func (p *Pool) Acquire(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inf, ok := p.info[agentID]; ok {
		inf.CurrentLoad++
	}
}

// Release decrements the agent's load after completion and records the
// confidence the agent last reported.
func (p *Pool) Release(agentID string, confidence float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inf, ok := p.info[agentID]; ok {
		if inf.CurrentLoad > 0 {
			inf.CurrentLoad--
		}
		inf.LastConfidence = confidence
	}
}

// MarkDegraded flags an agent the host no longer trusts with assignments.
// Degraded agents are excluded from assignment but stay registered.
func (p *Pool) MarkDegraded(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inf, ok := p.info[agentID]; ok {
		inf.Degraded = true
	}
}

// ClearDegraded removes the degraded flag, readmitting the agent.
func (p *Pool) ClearDegraded(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inf, ok := p.info[agentID]; ok {
		inf.Degraded = false
	}
}

// Snapshot returns copies of every agent descriptor.
func (p *Pool) Snapshot() []models.AgentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.info))
	for id := range p.info {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.AgentInfo, 0, len(ids))
	for _, id := range ids {
		inf := *p.info[id]
		inf.Capabilities = append([]models.Capability(nil), p.info[id].Capabilities...)
		out = append(out, inf)
	}
	return out
}

// Size returns the number of registered agents.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}
