package router

import (
	"regexp"
	"strings"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
)

var stepPattern = regexp.MustCompile(`(?i)step\s+\d+`)

// Keyword weight groups applied to title + description. Each keyword
// counts once no matter how often it appears.
var (
	heavyKeywords = []string{"multi-file", "architecture", "refactor", "design", "integrate", "complex"}
	midKeywords   = []string{"test", "debug", "fix", "api", "database", "async", "validate", "verify"}
	lightKeywords = []string{"create", "simple", "basic"}
)

var taskTypeWeight = map[domain.TaskType]float64{
	domain.TaskTypeCode:     1,
	domain.TaskTypeTest:     1.5,
	domain.TaskTypeRefactor: 2,
	domain.TaskTypeReview:   2,
	domain.TaskTypeDebug:    1.5,
}

// HeuristicScore computes the routing-time complexity estimate. It is a
// pure function of the task fields, clamped to [1, 10].
func HeuristicScore(task *domain.Task) float64 {
	text := strings.ToLower(task.Title + " " + task.Description)

	score := 0.5 * float64(len(stepPattern.FindAllString(text, -1)))
	for _, kw := range heavyKeywords {
		if strings.Contains(text, kw) {
			score += 2.0
		}
	}
	for _, kw := range midKeywords {
		if strings.Contains(text, kw) {
			score += 1.0
		}
	}
	for _, kw := range lightKeywords {
		if strings.Contains(text, kw) {
			score -= 0.5
		}
	}
	score += taskTypeWeight[task.TaskType]
	score += float64(task.Priority) * 0.05
	score += float64(task.CurrentIteration) * 1.5

	return clamp(score, 1, 10)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FixDecision is the tier advice for a human-visible retry of a failed
// task, distinct from the executor's in-flight retry ladder.
type FixDecision struct {
	Model           domain.Tier `json:"model"`
	EscalateToHuman bool        `json:"escalate_to_human"`
}

// GetFixDecision maps the attempt index to a fix tier: the first fix
// attempt goes to the cheap hosted model, anything past that also flags
// for human escalation.
func GetFixDecision(attemptIndex int) FixDecision {
	return FixDecision{
		Model:           domain.TierHaiku,
		EscalateToHuman: attemptIndex >= 2,
	}
}
