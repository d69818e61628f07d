// Package review implements the sampled code review gate: a fraction of
// completed work is re-read by a hosted model, and rejected work is
// either escalated to a stronger tier or handed to a human.
package review

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/config"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/events"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/store"
)

// Reviewer produces a verdict for a completed task on a given model
// tier. Implemented by agentrpc.HostedClient.
type Reviewer interface {
	Review(ctx context.Context, task *domain.Task, tier domain.Tier) (*domain.CodeReview, error)
}

const reviewTimeout = 2 * time.Minute

// Sampler decides which completions get reviewed and applies the
// verdict. Counter-based sampling: every Nth local-tier completion gets
// a haiku review, every Mth high-complexity completion gets an opus
// review.
type Sampler struct {
	store    store.Store
	bridge   *events.Bridge
	reviewer Reviewer
	cfg      config.ReviewConfig
	logger   logging.Logger

	mu           sync.Mutex
	ollamaCount  int
	complexCount int
}

// NewSampler creates the review gate.
func NewSampler(st store.Store, bridge *events.Bridge, reviewer Reviewer, cfg config.ReviewConfig, logger logging.Logger) *Sampler {
	return &Sampler{
		store:    st,
		bridge:   bridge,
		reviewer: reviewer,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
	}
}

// OnTaskCompleted is invoked by the executor after every successful
// completion. Sampling and the review itself must never affect the
// completed task unless the verdict rejects it.
func (s *Sampler) OnTaskCompleted(task *domain.Task, executedTier domain.Tier) {
	if s.reviewer == nil || task == nil || task.Status != domain.StatusCompleted {
		return
	}
	// Reviewing a review (or a debug loop) adds cost without signal.
	if task.TaskType == domain.TaskTypeReview || task.TaskType == domain.TaskTypeDebug {
		return
	}

	reviewTier, ok := s.pick(task, executedTier)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reviewTimeout)
	defer cancel()

	review, err := s.reviewer.Review(ctx, task, reviewTier)
	if err != nil {
		// A reviewer outage never un-completes work.
		s.logger.Warn("review of task %s on %s: %v", task.ID, reviewTier, err)
		return
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		s.logger.Warn("persist review for task %s: %v", task.ID, err)
	}
	s.bridge.Emit(domain.NewEvent(domain.EventCodeReviewCompleted, task.ID, review))

	if !review.Failed(s.cfg.QualityThreshold) {
		s.logger.Info("task %s passed %s review (score %.1f)", task.ID, reviewTier, review.QualityScore)
		return
	}
	if err := s.applyRejection(ctx, task.ID, executedTier, review); err != nil {
		s.logger.Warn("apply review rejection for task %s: %v", task.ID, err)
	}
}

// pick advances the sampling counters and returns the reviewer tier, if
// any. The opus sample wins when a completion qualifies for both.
func (s *Sampler) pick(task *domain.Task, executedTier domain.Tier) (domain.Tier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tier domain.Tier
	if executedTier == domain.TierOllama && s.cfg.OllamaInterval > 0 {
		s.ollamaCount++
		if s.ollamaCount%s.cfg.OllamaInterval == 0 {
			tier = domain.TierHaiku
		}
	}
	if task.Complexity > s.cfg.ComplexityFloor && s.cfg.OpusInterval > 0 {
		s.complexCount++
		if s.complexCount%s.cfg.OpusInterval == 0 {
			tier = domain.TierOpus
		}
	}
	return tier, tier != ""
}

// applyRejection routes a failed verdict by the tier that produced the
// work: rejected local work re-queues on a stronger model regardless of
// which tier reviewed it, rejected hosted work means a strong model
// already wrote it and a human has to step in.
func (s *Sampler) applyRejection(ctx context.Context, taskID string, executedTier domain.Tier, review *domain.CodeReview) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.StatusCompleted {
		return nil
	}

	if executedTier == domain.TierOllama {
		task.Status = domain.StatusPending
		task.AssignedAgentID = ""
		task.CurrentIteration = 0
		task.Error = ""
		task.PreferredModel = domain.TierHaiku
		task.ReviewContext = summarize(review)
		if err := s.store.UpdateTask(ctx, task, store.WithTransitionReason("review rejected, requeued on haiku")); err != nil {
			return err
		}
		s.bridge.Emit(domain.NewEvent(domain.EventTaskUpdated, task.ID, task))
		s.logger.Info("task %s requeued on haiku after failed review (score %.1f)", task.ID, review.QualityScore)
		return nil
	}

	task.Status = domain.StatusFailed
	task.NeedsHumanReview = true
	task.ReviewContext = summarize(review)
	if err := s.store.UpdateTask(ctx, task, store.WithTransitionReason("review rejected on "+string(review.ReviewerTier))); err != nil {
		return err
	}
	s.bridge.Emit(domain.NewEvent(domain.EventTaskNeedsHuman, task.ID, task))
	s.bridge.Emit(domain.NewEvent(domain.EventAlert, task.ID, domain.AlertPayload{
		Severity: domain.AlertWarning,
		Message:  "completed work rejected by " + string(review.ReviewerTier) + " review",
		TaskID:   task.ID,
	}))
	s.logger.Warn("task %s failed %s review, flagged for human review", task.ID, review.ReviewerTier)
	return nil
}

// Reset clears the sampling counters.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ollamaCount = 0
	s.complexCount = 0
}

// Counts reports the current sampling counter values.
func (s *Sampler) Counts() (ollama, complex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ollamaCount, s.complexCount
}

func summarize(review *domain.CodeReview) string {
	if len(review.Findings) == 0 {
		return "review rejected the work without findings"
	}
	lines := make([]string, 0, len(review.Findings))
	for _, f := range review.Findings {
		line := string(f.Severity) + ": " + f.Description
		if f.Suggestion != "" {
			line += " (suggestion: " + f.Suggestion + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
