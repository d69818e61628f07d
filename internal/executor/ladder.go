package executor

import (
	"context"
	"fmt"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/agentrpc"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
)

// LadderOutcome is the result of running the validation retry ladder.
type LadderOutcome struct {
	Validated  bool                    `json:"validated"`
	Phase      string                  `json:"phase"`
	Attempts   int                     `json:"attempts"`
	FinalError string                  `json:"final_error,omitempty"`
	Result     *agentrpc.ExecuteResult `json:"-"`
}

type retryPayload struct {
	TaskID  string `json:"task_id"`
	Phase   string `json:"phase"`
	Attempt int    `json:"attempt"`
	Detail  string `json:"detail,omitempty"`
}

// runLadder validates the attempt and escalates through the retry
// phases when validation fails: free local retries first, then the
// remote local-style endpoint, then the cheap hosted tier. A hard cap
// bounds total retries across all phases.
func (e *Executor) runLadder(ctx context.Context, task *domain.Task, tier domain.Tier) LadderOutcome {
	attempts := 0

	// Phase 0: validate what the agent already produced.
	passed, validationOut := e.validate(ctx, task, "phase0")
	if passed {
		return e.ladderDone(task, LadderOutcome{Validated: true, Phase: "phase0"})
	}
	lastError := validationOut

	phases := []struct {
		name    string
		budget  int
		runtime agentrpc.Runtime
		tier    domain.Tier
	}{
		{"phase1", e.retryCfg.MaxOllamaRetries, e.local, domain.TierOllama},
		{"phase2", e.retryCfg.MaxRemoteRetries, e.remote, domain.TierOllama},
		{"phase3", e.retryCfg.MaxHaikuRetries, e.hosted, domain.TierHaiku},
	}

	var lastResult *agentrpc.ExecuteResult
	for _, phase := range phases {
		if phase.runtime == nil {
			continue
		}
		// The previous phase may have rewritten the task file; capture the
		// current error before spending this phase's budget.
		if attempts > 0 {
			if passed, validationOut = e.validate(ctx, task, phase.name); passed {
				return e.ladderDone(task, LadderOutcome{Validated: true, Phase: phase.name, Attempts: attempts, Result: lastResult})
			}
			lastError = validationOut
		}

		for i := 0; i < phase.budget && attempts < e.retryCfg.MaxTotalRetries; i++ {
			attempts++
			e.bridge.Emit(domain.NewEvent(domain.EventAutoRetryAttempt, task.ID, retryPayload{
				TaskID: task.ID, Phase: phase.name, Attempt: attempts,
			}))

			window := 16384
			if task.Complexity >= 7 {
				window = 32768
			}
			result, err := phase.runtime.Execute(ctx, agentrpc.ExecuteRequest{
				TaskID:        task.ID,
				Description:   retryDescription(task, lastError),
				Language:      task.Language,
				Tier:          phase.tier,
				ContextWindow: window,
			})
			if err != nil {
				// Intermediate retry failures are recoverable; the ladder moves on.
				lastError = err.Error()
				e.logger.Warn("retry %s attempt %d for task %s: %v", phase.name, attempts, task.ID, err)
				continue
			}
			lastResult = result

			if passed, validationOut = e.validate(ctx, task, phase.name); passed {
				return e.ladderDone(task, LadderOutcome{Validated: true, Phase: phase.name, Attempts: attempts, Result: result})
			}
			lastError = validationOut
		}
	}

	return e.ladderDone(task, LadderOutcome{Attempts: attempts, FinalError: lastError})
}

// validate runs the task's validation command. Validator unavailability
// counts as failing validation; the ladder proceeds regardless.
func (e *Executor) validate(ctx context.Context, task *domain.Task, phase string) (bool, string) {
	e.bridge.Emit(domain.NewEvent(domain.EventAutoRetryValidation, task.ID, retryPayload{
		TaskID: task.ID, Phase: phase,
	}))

	result, err := e.local.RunValidation(ctx, task.ValidationCommand, task.Language)
	if err != nil {
		e.logger.Warn("validation for task %s: %v", task.ID, err)
		return false, err.Error()
	}
	return result.Passed, result.Output
}

func (e *Executor) ladderDone(task *domain.Task, outcome LadderOutcome) LadderOutcome {
	e.bridge.Emit(domain.NewEvent(domain.EventAutoRetryResult, task.ID, outcome))
	return outcome
}

func retryDescription(task *domain.Task, lastError string) string {
	return fmt.Sprintf("%s\n\nThe previous attempt failed validation with:\n%s\n\nFix the code so the validation command passes: %s",
		task.Description, lastError, task.ValidationCommand)
}
