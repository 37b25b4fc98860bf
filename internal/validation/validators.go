package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/halcyon-systems/dispatch/pkg/models"
)

// Reference validator names. RegisterReference wires all eleven with equal
// weight; domain deployments override weights through configuration.
const (
	ValidatorFactualAccuracy  = "factual-accuracy"
	ValidatorContextAwareness = "context-awareness"
	ValidatorConsistency      = "consistency"
	ValidatorPracticality     = "practicality"
	ValidatorSecurity         = "security"
	ValidatorMaintainability  = "maintainability"
	ValidatorPerformance      = "performance"
	ValidatorCodeQuality      = "code-quality"
	ValidatorArchitecture     = "architecture"
	ValidatorBusinessLogic    = "business-logic"
	ValidatorIntegration      = "integration"
)

// RegisterReference registers the eleven reference validators with equal
// weight 1.
func RegisterReference(p *Pipeline) error {
	refs := []struct {
		name string
		fn   Func
	}{
		{ValidatorFactualAccuracy, checkFactualAccuracy},
		{ValidatorContextAwareness, checkContextAwareness},
		{ValidatorConsistency, checkConsistency},
		{ValidatorPracticality, checkPracticality},
		{ValidatorSecurity, checkSecurity},
		{ValidatorMaintainability, checkMaintainability},
		{ValidatorPerformance, checkPerformance},
		{ValidatorCodeQuality, checkCodeQuality},
		{ValidatorArchitecture, checkArchitecture},
		{ValidatorBusinessLogic, checkBusinessLogic},
		{ValidatorIntegration, checkIntegration},
	}
	for _, r := range refs {
		if err := p.Register(r.name, 1, r.fn); err != nil {
			return err
		}
	}
	return nil
}

// checkFactualAccuracy requires non-empty content and, when the task
// declares an expected value, agreement with it.
func checkFactualAccuracy(a models.Artifact, vctx Context) (float64, []models.Issue) {
	content := strings.TrimSpace(a.Content)
	if content == "" {
		return 0, []models.Issue{{
			Severity: models.SeverityWarning,
			Message:  "artifact content is empty",
		}}
	}
	if expected, ok := vctx.Constraints["expected"]; ok && expected != content {
		return 0.3, []models.Issue{{
			Severity:   models.SeverityWarning,
			Message:    "content disagrees with declared expected value",
			Suggestion: fmt.Sprintf("expected %q", expected),
		}}
	}
	return 1, nil
}

// checkContextAwareness verifies required markers from the task constraints
// appear in the content.
func checkContextAwareness(a models.Artifact, vctx Context) (float64, []models.Issue) {
	required, ok := vctx.Constraints["must_include"]
	if !ok || required == "" {
		return 1, nil
	}
	var issues []models.Issue
	missing := 0
	markers := strings.Split(required, ",")
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m != "" && !strings.Contains(a.Content, m) {
			missing++
			issues = append(issues, models.Issue{
				Severity:   models.SeverityWarning,
				Message:    fmt.Sprintf("required marker %q not present", m),
				Suggestion: fmt.Sprintf("include %q in the result", m),
			})
		}
	}
	if len(markers) == 0 {
		return 1, nil
	}
	return 1 - float64(missing)/float64(len(markers)), issues
}

// checkConsistency flags key=value lines that assign the same key two
// different values.
func checkConsistency(a models.Artifact, _ Context) (float64, []models.Issue) {
	seen := make(map[string]string)
	var issues []models.Issue
	for _, line := range strings.Split(a.Content, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if prev, dup := seen[k]; dup && prev != v {
			issues = append(issues, models.Issue{
				Severity: models.SeverityWarning,
				Message:  fmt.Sprintf("key %q assigned conflicting values", k),
			})
		}
		seen[k] = v
	}
	if len(issues) > 0 {
		return 0.4, issues
	}
	return 1, nil
}

// checkPracticality penalizes unfinished placeholder markers.
func checkPracticality(a models.Artifact, _ Context) (float64, []models.Issue) {
	markers := []string{"TODO", "FIXME", "TBD", "PLACEHOLDER"}
	var issues []models.Issue
	for _, m := range markers {
		if strings.Contains(a.Content, m) {
			issues = append(issues, models.Issue{
				Severity:   models.SeverityWarning,
				Message:    fmt.Sprintf("unfinished marker %s present", m),
				Suggestion: "resolve the marker before accepting the result",
			})
		}
	}
	score := 1 - 0.25*float64(len(issues))
	if score < 0 {
		score = 0
	}
	return score, issues
}

// checkSecurity fails hard on embedded credentials or key material. This is
// the one reference validator that raises critical issues.
func checkSecurity(a models.Artifact, _ Context) (float64, []models.Issue) {
	lowered := strings.ToLower(a.Content)
	needles := []string{"password=", "api_key=", "secret=", "begin private key", "bearer "}
	for _, n := range needles {
		if strings.Contains(lowered, n) {
			return 0, []models.Issue{{
				Severity:   models.SeverityCritical,
				Message:    fmt.Sprintf("content appears to embed credential material (%q)", strings.TrimSpace(n)),
				Suggestion: "strip the credential and reference it by name instead",
			}}
		}
	}
	return 1, nil
}

// checkMaintainability penalizes single-block content with very long lines.
func checkMaintainability(a models.Artifact, _ Context) (float64, []models.Issue) {
	const maxLine = 500
	var issues []models.Issue
	for i, line := range strings.Split(a.Content, "\n") {
		if len(line) > maxLine {
			issues = append(issues, models.Issue{
				Severity: models.SeverityInfo,
				Message:  fmt.Sprintf("line %d exceeds %d characters", i+1, maxLine),
			})
		}
	}
	if len(issues) > 2 {
		return 0.5, issues
	}
	if len(issues) > 0 {
		return 0.8, issues
	}
	return 1, nil
}

// checkPerformance compares content size to the declared budget.
func checkPerformance(a models.Artifact, vctx Context) (float64, []models.Issue) {
	budgetStr, ok := vctx.Constraints["max_bytes"]
	if !ok {
		return 1, nil
	}
	budget, err := strconv.Atoi(budgetStr)
	if err != nil || budget <= 0 {
		return 1, nil
	}
	if len(a.Content) <= budget {
		return 1, nil
	}
	over := float64(len(a.Content)-budget) / float64(budget)
	score := 1 - over
	if score < 0 {
		score = 0
	}
	return score, []models.Issue{{
		Severity:   models.SeverityWarning,
		Message:    fmt.Sprintf("content is %d bytes, budget is %d", len(a.Content), budget),
		Suggestion: "trim the result to the declared byte budget",
	}}
}

// checkCodeQuality penalizes control characters and trailing whitespace.
func checkCodeQuality(a models.Artifact, _ Context) (float64, []models.Issue) {
	var issues []models.Issue
	for _, r := range a.Content {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			issues = append(issues, models.Issue{
				Severity: models.SeverityWarning,
				Message:  "content contains control characters",
			})
			break
		}
	}
	for i, line := range strings.Split(a.Content, "\n") {
		if line != strings.TrimRight(line, " \t") {
			issues = append(issues, models.Issue{
				Severity: models.SeverityInfo,
				Message:  fmt.Sprintf("trailing whitespace on line %d", i+1),
			})
			break
		}
	}
	return 1 - 0.2*float64(len(issues)), issues
}

// checkArchitecture rejects artifacts that declare themselves among their
// own dependencies.
func checkArchitecture(a models.Artifact, _ Context) (float64, []models.Issue) {
	deps, ok := a.Metadata["depends"]
	if !ok {
		return 1, nil
	}
	for _, d := range strings.Split(deps, ",") {
		if strings.TrimSpace(d) == a.ID {
			return 0, []models.Issue{{
				Severity:   models.SeverityWarning,
				Message:    "artifact lists itself as a dependency",
				Suggestion: "remove the self-reference from the dependency list",
			}}
		}
	}
	return 1, nil
}

// checkBusinessLogic verifies numeric amount fields are non-negative.
func checkBusinessLogic(a models.Artifact, _ Context) (float64, []models.Issue) {
	var issues []models.Issue
	for _, line := range strings.Split(a.Content, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "total" && k != "amount" && k != "count" {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil && n < 0 {
			issues = append(issues, models.Issue{
				Severity: models.SeverityWarning,
				Message:  fmt.Sprintf("field %q is negative (%v)", k, n),
			})
		}
	}
	if len(issues) > 0 {
		return 0.3, issues
	}
	return 1, nil
}

// checkIntegration verifies declared endpoints are all referenced by the
// content.
func checkIntegration(a models.Artifact, _ Context) (float64, []models.Issue) {
	endpoints, ok := a.Metadata["endpoints"]
	if !ok || endpoints == "" {
		return 1, nil
	}
	var issues []models.Issue
	names := strings.Split(endpoints, ",")
	missing := 0
	for _, e := range names {
		e = strings.TrimSpace(e)
		if e != "" && !strings.Contains(a.Content, e) {
			missing++
			issues = append(issues, models.Issue{
				Severity: models.SeverityWarning,
				Message:  fmt.Sprintf("declared endpoint %q never referenced", e),
			})
		}
	}
	return 1 - float64(missing)/float64(len(names)), issues
}
