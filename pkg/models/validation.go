package models

// Severity classifies a validation issue.
type Severity string

const (
	// SeverityInfo is an advisory finding.
	SeverityInfo Severity = "info"
	// SeverityWarning is a finding that lowers quality but does not gate.
	SeverityWarning Severity = "warning"
	// SeverityCritical forces the verdict to fail regardless of score.
	SeverityCritical Severity = "critical"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// Artifact is an immutable snapshot handed to validators. Validators must
// not mutate it; proposed fixes are returned as issue suggestions.
type Artifact struct {
	// ID identifies the artifact, usually the subtask ID.
	ID string `json:"id"`
	// Content is the value under validation.
	Content string `json:"content"`
	// Metadata carries context the producing component attached.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Issue is a single finding raised by a validator.
type Issue struct {
	// Validator is the name of the validator that raised the issue.
	Validator string `json:"validator"`
	// Severity classifies the issue.
	Severity Severity `json:"severity"`
	// Message describes the finding.
	Message string `json:"message"`
	// Suggestion is an optional caller-side correction. Validators never
	// apply fixes themselves.
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationVerdict is the aggregated result of a pipeline run.
type ValidationVerdict struct {
	// ArtifactID is the artifact that was validated.
	ArtifactID string `json:"artifact_id"`
	// PerValidatorScores maps validator name to its score in [0,1].
	PerValidatorScores map[string]float64 `json:"per_validator_scores"`
	// AggregateScore is the weighted mean of all scores.
	AggregateScore float64 `json:"aggregate_score"`
	// Issues lists every finding from every validator.
	Issues []Issue `json:"issues,omitempty"`
	// Passed is true iff AggregateScore meets the threshold and no issue
	// is critical.
	Passed bool `json:"passed"`
}

// HasCritical returns true if any issue has critical severity.
func (v ValidationVerdict) HasCritical() bool {
	for _, is := range v.Issues {
		if is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
