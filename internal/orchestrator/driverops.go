package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/checkpoint"
	"github.com/draftforge/draftforge/internal/section"
	"github.com/draftforge/draftforge/model"
)

// SectionClaim hands one unit of generation work to a driver worker.
type SectionClaim struct {
	InstanceID string
	SectionID  string
	Guidance   string
	Attempt    int
}

// ActiveInstances returns the IDs of instances the driver should sweep.
func (c *Controller) ActiveInstances(ctx context.Context) ([]string, error) {
	summaries, err := c.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range summaries {
		if s.Status == model.InstanceStatusActive {
			ids = append(ids, s.InstanceID)
		}
	}
	return ids, nil
}

// ClaimNext promotes ready sections and claims one QUEUED section for
// generation, moving it to GENERATING and counting the attempt. Returns
// nil when the instance is suspended, inactive, or has nothing to run.
func (c *Controller) ClaimNext(ctx context.Context, instanceID string) (*SectionClaim, error) {
	release := c.locks.acquire(instanceID)
	defer release()

	state, version, err := c.load(ctx, instanceID)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if state.Status != model.InstanceStatusActive || state.Interrupt.IsInterrupted {
		return nil, nil
	}

	now := c.now()
	queued := c.queueReady(state, now)
	for _, id := range c.graph.Sections() {
		rec := state.Section(id)
		if rec != nil && rec.Status == model.StatusNeedsRevision {
			if err := section.Apply(rec, model.StatusQueued, now); err == nil {
				queued = append(queued, id)
			}
		}
	}

	var claim *SectionClaim
	for _, id := range c.graph.Sections() {
		rec := state.Section(id)
		if rec == nil || rec.Status != model.StatusQueued {
			continue
		}
		if err := section.Apply(rec, model.StatusGenerating, now); err != nil {
			return nil, err
		}
		rec.Attempts++
		claim = &SectionClaim{
			InstanceID: instanceID,
			SectionID:  id,
			Guidance:   rec.Guidance,
			Attempt:    rec.Attempts,
		}
		break
	}

	if claim == nil && len(queued) == 0 {
		return nil, nil
	}
	if _, err := c.persist(ctx, state, version); err != nil {
		return nil, err
	}
	for _, id := range queued {
		c.appendEvent(ctx, instanceID, id, model.EventSectionQueued, nil)
	}
	if claim != nil {
		c.appendEvent(ctx, instanceID, claim.SectionID, model.EventSectionGenerating, map[string]any{
			"attempt": claim.Attempt,
		})
	}
	return claim, nil
}

// CompleteGeneration records a generated and evaluated section: the section
// moves to AWAITING_REVIEW and the instance suspends for human review. A
// failed evaluation raises EVALUATION_NEEDED, a passed one CONTENT_REVIEW.
func (c *Controller) CompleteGeneration(ctx context.Context, instanceID, sectionID, content string, eval model.EvaluationResult) error {
	release := c.locks.acquire(instanceID)
	defer release()

	state, version, err := c.load(ctx, instanceID)
	if err != nil {
		return err
	}
	rec := state.Section(sectionID)
	if rec == nil {
		return model.NewNotFoundError(fmt.Sprintf("section %s not found in instance %s", sectionID, instanceID))
	}

	now := c.now()
	if err := section.Apply(rec, model.StatusAwaitingReview, now); err != nil {
		return err
	}
	rec.Content = content
	rec.Evaluation = &eval
	rec.Guidance = ""

	reason := model.ReasonContentReview
	if !eval.Passed {
		reason = model.ReasonEvaluationNeeded
	}
	contentRef := fmt.Sprintf("%s%s/sections/%s", checkpoint.InstancePrefix, instanceID, sectionID)
	if err := RaiseInterrupt(state, sectionID, reason, contentRef, now); err != nil {
		return err
	}

	if _, err := c.persist(ctx, state, version); err != nil {
		return err
	}

	c.appendEvent(ctx, instanceID, sectionID, model.EventSectionGenerated, map[string]any{
		"passed": eval.Passed,
		"score":  eval.Score,
	})
	c.appendEvent(ctx, instanceID, sectionID, model.EventInterruptRaised, map[string]any{
		"reason": string(reason),
	})
	c.metrics.RecordInterrupt(string(reason))
	c.logger.Info("section awaiting review",
		zap.String("instance_id", instanceID),
		zap.String("section_id", sectionID),
		zap.Bool("evaluation_passed", eval.Passed),
		zap.String("interrupt_reason", string(reason)),
	)
	return nil
}

// FailGeneration records a failed generation step. The section moves to
// ERROR and is re-queued while attempts remain; once the retry budget is
// exhausted the instance suspends with ERROR_OCCURRED for human action.
func (c *Controller) FailGeneration(ctx context.Context, instanceID, sectionID string, cause error, maxAttempts int) error {
	release := c.locks.acquire(instanceID)
	defer release()

	state, version, err := c.load(ctx, instanceID)
	if err != nil {
		return err
	}
	rec := state.Section(sectionID)
	if rec == nil {
		return model.NewNotFoundError(fmt.Sprintf("section %s not found in instance %s", sectionID, instanceID))
	}

	now := c.now()
	if err := section.Fail(rec, cause.Error(), now); err != nil {
		return err
	}
	state.AppendError(fmt.Sprintf("section %s generation failed (attempt %d): %v", sectionID, rec.Attempts, cause))

	exhausted := rec.Attempts >= maxAttempts
	if !exhausted {
		if err := section.Apply(rec, model.StatusQueued, now); err != nil {
			return err
		}
		// Requeued sections keep the diagnostic from the failed attempt.
		rec.LastError = cause.Error()
	} else {
		contentRef := fmt.Sprintf("%s%s/sections/%s", checkpoint.InstancePrefix, instanceID, sectionID)
		if err := RaiseInterrupt(state, sectionID, model.ReasonErrorOccurred, contentRef, now); err != nil {
			return err
		}
		c.metrics.RecordInterrupt(string(model.ReasonErrorOccurred))
	}

	if _, err := c.persist(ctx, state, version); err != nil {
		return err
	}

	c.appendEvent(ctx, instanceID, sectionID, model.EventSectionFailed, map[string]any{
		"attempt":   rec.Attempts,
		"exhausted": exhausted,
		"error":     cause.Error(),
	})
	if exhausted {
		c.appendEvent(ctx, instanceID, sectionID, model.EventInterruptRaised, map[string]any{
			"reason": string(model.ReasonErrorOccurred),
		})
	}
	c.logger.Warn("section generation failed",
		zap.String("instance_id", instanceID),
		zap.String("section_id", sectionID),
		zap.Int("attempt", rec.Attempts),
		zap.Bool("exhausted", exhausted),
		zap.Error(cause),
	)
	return nil
}

// SuspendForStale raises a CONTENT_REVIEW interrupt at the first STALE
// section when the pipeline has nothing left to run, so the human decides
// keep versus regenerate. Reports whether an interrupt was raised.
func (c *Controller) SuspendForStale(ctx context.Context, instanceID string) (bool, error) {
	release := c.locks.acquire(instanceID)
	defer release()

	state, version, err := c.load(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if state.Status != model.InstanceStatusActive || state.Interrupt.IsInterrupted {
		return false, nil
	}

	var staleID string
	for _, id := range c.graph.Sections() {
		rec := state.Section(id)
		if rec == nil {
			continue
		}
		switch rec.Status {
		case model.StatusQueued, model.StatusGenerating:
			// Work is still in flight; review waits for it.
			return false, nil
		case model.StatusStale:
			if staleID == "" {
				staleID = id
			}
		}
	}
	if staleID == "" {
		return false, nil
	}

	now := c.now()
	contentRef := fmt.Sprintf("%s%s/sections/%s", checkpoint.InstancePrefix, instanceID, staleID)
	if err := RaiseInterrupt(state, staleID, model.ReasonContentReview, contentRef, now); err != nil {
		return false, err
	}
	if _, err := c.persist(ctx, state, version); err != nil {
		return false, err
	}

	c.appendEvent(ctx, instanceID, staleID, model.EventInterruptRaised, map[string]any{
		"reason": string(model.ReasonContentReview),
		"stale":  true,
	})
	c.metrics.RecordInterrupt(string(model.ReasonContentReview))
	return true, nil
}

// FinalizeIfComplete closes out an instance whose required sections are all
// approved: approved sections move to COMPLETE and the instance status
// becomes completed. Reports whether the instance was finalized.
func (c *Controller) FinalizeIfComplete(ctx context.Context, instanceID string) (bool, error) {
	release := c.locks.acquire(instanceID)
	defer release()

	state, version, err := c.load(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if state.Status != model.InstanceStatusActive || state.Interrupt.IsInterrupted {
		return false, nil
	}
	if !state.RequiredComplete() {
		return false, nil
	}

	now := c.now()
	for _, id := range c.graph.Sections() {
		rec := state.Section(id)
		if rec != nil && rec.Status == model.StatusApproved {
			if err := section.Apply(rec, model.StatusComplete, now); err != nil {
				return false, err
			}
		}
	}
	state.Status = model.InstanceStatusCompleted

	if _, err := c.persist(ctx, state, version); err != nil {
		return false, err
	}

	c.appendEvent(ctx, instanceID, "", model.EventInstanceCompleted, nil)
	c.metrics.RecordInstanceCompletion()
	c.logger.Info("instance completed", zap.String("instance_id", instanceID))
	return true, nil
}
