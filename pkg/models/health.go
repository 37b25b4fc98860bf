package models

import "time"

// HealthStatus classifies a component's health from its last computed score.
type HealthStatus string

const (
	// HealthHealthy means score >= 95.
	HealthHealthy HealthStatus = "healthy"
	// HealthDegraded means score in [80,95).
	HealthDegraded HealthStatus = "degraded"
	// HealthCritical means score in [40,80).
	HealthCritical HealthStatus = "critical"
	// HealthFailed means score < 40.
	HealthFailed HealthStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s HealthStatus) Valid() bool {
	switch s {
	case HealthHealthy, HealthDegraded, HealthCritical, HealthFailed:
		return true
	default:
		return false
	}
}

// Health score band boundaries, on a 0-100 scale.
const (
	HealthyThreshold  = 95.0
	DegradedThreshold = 80.0
	CriticalThreshold = 40.0
)

// StatusForScore maps a 0-100 health score onto a status band.
func StatusForScore(score float64) HealthStatus {
	switch {
	case score >= HealthyThreshold:
		return HealthHealthy
	case score >= DegradedThreshold:
		return HealthDegraded
	case score >= CriticalThreshold:
		return HealthCritical
	default:
		return HealthFailed
	}
}

// MetricSnapshot is a point-in-time metric report pushed by a component.
type MetricSnapshot struct {
	// LatencyMillis is the component's average request latency.
	LatencyMillis float64 `json:"latency_millis"`
	// ErrorRate is the fraction of failing requests in [0,1].
	ErrorRate float64 `json:"error_rate"`
	// Saturation is the resource saturation fraction in [0,1].
	Saturation float64 `json:"saturation"`
	// ReportedAt is when the snapshot was taken.
	ReportedAt time.Time `json:"reported_at"`
}

// HealthSample is one historical scoring of a component.
type HealthSample struct {
	// Score is the computed 0-100 score.
	Score float64 `json:"score"`
	// Status is the band the score fell into.
	Status HealthStatus `json:"status"`
	// At is when the sample was computed.
	At time.Time `json:"at"`
}

// ComponentHealthRecord tracks one component's health over time. Records are
// written only by the health monitor and read by the escalation manager.
type ComponentHealthRecord struct {
	// ComponentID identifies the component.
	ComponentID string `json:"component_id"`
	// Status is the current health band.
	Status HealthStatus `json:"status"`
	// LastScore is the most recently computed score.
	LastScore float64 `json:"last_score"`
	// LastReport is when the component last pushed metrics.
	LastReport time.Time `json:"last_report"`
	// History holds recent samples, newest last.
	History []HealthSample `json:"history,omitempty"`
}

// HealthIssue is emitted by the monitor exactly once per transition into a
// non-healthy state. It is the input to the escalation manager.
type HealthIssue struct {
	// ID is the unique identifier for this issue.
	ID string `json:"id"`
	// ComponentID identifies the unhealthy component.
	ComponentID string `json:"component_id"`
	// Severity is the health band the component entered.
	Severity HealthStatus `json:"severity"`
	// Score is the score that triggered the transition.
	Score float64 `json:"score"`
	// DetectedAt is when the transition was observed.
	DetectedAt time.Time `json:"detected_at"`
}
