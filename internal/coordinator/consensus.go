package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

// ConsensusFailure means the assigned agents could not reach quorum on a
// subtask. It is subtask-local; the task keeps running.
type ConsensusFailure struct {
	SubtaskID string
	Reason    string
	// BestRatio is the agreement ratio of the strongest value class, for
	// operator diagnostics.
	BestRatio float64
}

func (e *ConsensusFailure) Error() string {
	return fmt.Sprintf("consensus failed for subtask %s: %s (best agreement %.2f)", e.SubtaskID, e.Reason, e.BestRatio)
}

// valueKey canonicalizes a candidate value for grouping. Agreement means
// exact match after trimming surrounding whitespace.
func valueKey(value string) string {
	return strings.TrimSpace(value)
}

type valueClass struct {
	value    string
	weight   float64
	earliest time.Time
	agents   []string
}

// computeConsensus runs a confidence-weighted majority vote over the
// candidates. The winning class must carry at least quorum of the total
// weight; ties between classes of equal weight go to the class holding the
// earliest-produced candidate.
func computeConsensus(subtaskID string, candidates []models.CandidateResult, quorum float64) (*models.ConsensusResult, error) {
	if len(candidates) == 0 {
		return nil, &ConsensusFailure{SubtaskID: subtaskID, Reason: "no candidate results"}
	}

	classes := make(map[string]*valueClass)
	total := 0.0
	for _, cand := range candidates {
		w := cand.Confidence
		if w < 0 {
			w = 0
		} else if w > 1 {
			w = 1
		}
		total += w

		key := valueKey(cand.Value)
		cl, ok := classes[key]
		if !ok {
			cl = &valueClass{value: key, earliest: cand.ProducedAt}
			classes[key] = cl
		}
		cl.weight += w
		cl.agents = append(cl.agents, cand.AgentID)
		if cand.ProducedAt.Before(cl.earliest) {
			cl.earliest = cand.ProducedAt
		}
	}
	if total == 0 {
		return nil, &ConsensusFailure{SubtaskID: subtaskID, Reason: "all candidates reported zero confidence"}
	}

	var winner *valueClass
	for _, cl := range classes {
		switch {
		case winner == nil,
			cl.weight > winner.weight,
			cl.weight == winner.weight && cl.earliest.Before(winner.earliest):
			winner = cl
		}
	}

	ratio := winner.weight / total
	if ratio < quorum {
		return nil, &ConsensusFailure{
			SubtaskID: subtaskID,
			Reason:    fmt.Sprintf("quorum %.2f not reached", quorum),
			BestRatio: ratio,
		}
	}

	var dissenting []string
	for _, cl := range classes {
		if cl == winner {
			continue
		}
		dissenting = append(dissenting, cl.agents...)
	}
	sort.Strings(dissenting)

	return &models.ConsensusResult{
		SubtaskID:        subtaskID,
		Value:            winner.value,
		AgreementRatio:   ratio,
		DissentingAgents: dissenting,
	}, nil
}
