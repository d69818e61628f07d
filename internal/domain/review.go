package domain

import "time"

// Severity ranks a review finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Finding is a single reviewer observation.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// ReviewStatus is the reviewer verdict.
type ReviewStatus string

const (
	ReviewApproved   ReviewStatus = "approved"
	ReviewNeedsFixes ReviewStatus = "needs_fixes"
)

// CodeReview is a persisted reviewer verdict for a completed task.
type CodeReview struct {
	ID              string       `json:"id"`
	TaskID          string       `json:"task_id"`
	ReviewerTier    Tier         `json:"reviewer_tier"`
	QualityScore    float64      `json:"quality_score"` // 0-10
	Findings        []Finding    `json:"findings,omitempty"`
	HasSyntaxErrors bool         `json:"has_syntax_errors"`
	TokensInput     int          `json:"tokens_input"`
	TokensOutput    int          `json:"tokens_output"`
	CostUSD         float64      `json:"cost_usd"`
	Status          ReviewStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Failed reports whether the review rejects the work under the given
// quality threshold: low score, any critical finding, or syntax errors.
func (r *CodeReview) Failed(qualityThreshold int) bool {
	if r.QualityScore < float64(qualityThreshold) {
		return true
	}
	if r.HasSyntaxErrors {
		return true
	}
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
