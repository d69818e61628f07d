package executor

import (
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
)

// ActualComplexity derives the post-hoc difficulty score from the step
// log: how many steps it took, whether the agent looped, how many
// distinct tools it reached for, wall time, and whether retries were
// needed. Clamped to [1, 10]. Used as a training signal for the router,
// never to reroute the task it was computed from.
func ActualComplexity(logs []*domain.ExecutionLog, retries int) float64 {
	if len(logs) == 0 && retries == 0 {
		return 1
	}

	steps := len(logs)
	loops := 0
	tools := map[string]struct{}{}
	var totalMs int64
	for _, entry := range logs {
		if entry.IsLoop {
			loops++
		}
		if entry.Action != "" {
			tools[entry.Action] = struct{}{}
		}
		totalMs += entry.DurationMs
	}

	score := float64(steps) * 0.3
	score += float64(loops) * 1.0
	score += float64(len(tools)) * 0.5
	score += float64(totalMs) / 60000.0 // one point per minute of work
	score += float64(retries) * 1.5

	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}
