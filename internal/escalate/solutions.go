package escalate

import (
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

// solutionTemplate seeds one catalog entry per strategy. Estimates order
// strategy choice within a root cause; they are not guarantees.
type solutionTemplate struct {
	typ          models.SolutionType
	successRate  float64
	duration     time.Duration
	rollbackPlan string
}

var solutionCatalog = map[models.SolutionType]solutionTemplate{
	models.SolutionReplace: {
		typ:          models.SolutionReplace,
		successRate:  0.90,
		duration:     5 * time.Minute,
		rollbackPlan: "reinstate the previous instance from its last known configuration",
	},
	models.SolutionRedesign: {
		typ:          models.SolutionRedesign,
		successRate:  0.80,
		duration:     30 * time.Minute,
		rollbackPlan: "restore the prior component design and restart",
	},
	models.SolutionReallocate: {
		typ:          models.SolutionReallocate,
		successRate:  0.85,
		duration:     10 * time.Minute,
		rollbackPlan: "return the component to its original resource allocation",
	},
	models.SolutionRestructure: {
		typ:          models.SolutionRestructure,
		successRate:  0.75,
		duration:     20 * time.Minute,
		rollbackPlan: "revert to the previous internal layout",
	},
	models.SolutionReboot: {
		typ:          models.SolutionReboot,
		successRate:  0.70,
		duration:     2 * time.Minute,
		rollbackPlan: "none required, reboot is idempotent",
	},
	models.SolutionBypass: {
		typ:          models.SolutionBypass,
		successRate:  0.95,
		duration:     1 * time.Minute,
		rollbackPlan: "remove the bypass route and reinstate the component",
	},
}

// causeSolutions maps each root cause to its candidate strategies, best
// first. Structural defects get two candidates; the higher-estimate one
// wins.
var causeSolutions = map[models.RootCause][]models.SolutionType{
	models.CauseResourceExhaustion: {models.SolutionReallocate},
	models.CauseStructuralDefect:   {models.SolutionRedesign, models.SolutionRestructure},
	models.CauseUnrecoverable:      {models.SolutionReplace},
	models.CauseEmergency:          {models.SolutionBypass},
}

// chooseSolution instantiates the best catalog entry for a root cause.
func chooseSolution(cause models.RootCause) models.PermanentSolution {
	candidates, ok := causeSolutions[cause]
	if !ok || len(candidates) == 0 {
		candidates = []models.SolutionType{models.SolutionReboot}
	}

	best := solutionCatalog[candidates[0]]
	for _, typ := range candidates[1:] {
		if tpl := solutionCatalog[typ]; tpl.successRate > best.successRate {
			best = tpl
		}
	}

	return models.PermanentSolution{
		ID:                   uuid.NewString(),
		Type:                 best.typ,
		EstimatedSuccessRate: best.successRate,
		EstimatedDuration:    best.duration,
		RollbackPlan:         best.rollbackPlan,
	}
}
