package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/halcyon-systems/dispatch/internal/agent"
	"github.com/halcyon-systems/dispatch/pkg/models"
)

// agentSpec is one agent entry in a task file.
type agentSpec struct {
	ID           string              `yaml:"id"`
	Capabilities []models.Capability `yaml:"capabilities"`
	// Shell is the interpreter the agent runs payloads with.
	Shell string `yaml:"shell,omitempty"`
	// Confidence is the fixed confidence this agent reports.
	Confidence float64 `yaml:"confidence,omitempty"`
}

// shellAgent executes subtask payloads as shell commands. The trimmed stdout
// is the candidate value, so independent agents running the same payload
// naturally agree.
type shellAgent struct {
	id         string
	caps       []models.Capability
	shell      string
	confidence float64
}

func newShellAgent(spec agentSpec) (*shellAgent, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("agent with empty id")
	}
	if len(spec.Capabilities) == 0 {
		return nil, fmt.Errorf("agent %s declares no capabilities", spec.ID)
	}
	shell := spec.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	confidence := spec.Confidence
	if confidence == 0 {
		confidence = 0.9
	}
	return &shellAgent{id: spec.ID, caps: spec.Capabilities, shell: shell, confidence: confidence}, nil
}

var _ agent.Agent = (*shellAgent)(nil)

func (a *shellAgent) ID() string { return a.id }

func (a *shellAgent) Capabilities() []models.Capability { return a.caps }

func (a *shellAgent) Execute(ctx context.Context, subtask *models.Subtask) (models.CandidateResult, error) {
	cmd := exec.CommandContext(ctx, a.shell, "-c", subtask.Payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.CandidateResult{}, ctxErr
		}
		return models.CandidateResult{}, fmt.Errorf("agent %s: %w: %s", a.id, err, strings.TrimSpace(stderr.String()))
	}
	return models.CandidateResult{
		Value:      strings.TrimSpace(stdout.String()),
		Confidence: a.confidence,
		ProducedAt: time.Now(),
	}, nil
}
