// Package orchestrator owns all workflow state mutation: instance lifecycle,
// the suspension controller, feedback classification, and stale propagation.
// Every mutation runs under the instance lock and is persisted whole through
// the versioned checkpoint store.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/checkpoint"
	"github.com/draftforge/draftforge/internal/graph"
	"github.com/draftforge/draftforge/internal/observability"
	"github.com/draftforge/draftforge/internal/section"
	"github.com/draftforge/draftforge/model"
)

// Resumer re-drives the generation pipeline for one instance after a human
// decision unblocks it. Implemented by the background driver.
type Resumer interface {
	Resume(ctx context.Context, instanceID string) error
}

// Controller is the single writer of workflow state. HTTP handlers and the
// background driver both mutate instances only through its methods.
type Controller struct {
	store   checkpoint.Store
	graph   *graph.Graph
	logger  *zap.Logger
	metrics *observability.Metrics
	locks   instanceLocks
	resumer Resumer
	now     func() time.Time
}

// NewController creates a controller over the given store and dependency
// graph.
func NewController(store checkpoint.Store, g *graph.Graph, logger *zap.Logger, metrics *observability.Metrics) *Controller {
	return &Controller{
		store:   store,
		graph:   g,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetResumer wires the background driver in after construction; the driver
// itself depends on the controller.
func (c *Controller) SetResumer(r Resumer) {
	c.resumer = r
}

// Graph exposes the dependency graph the controller runs against.
func (c *Controller) Graph() *graph.Graph {
	return c.graph
}

// CreateInstance starts a new workflow instance with every graph section at
// NOT_STARTED, immediately queueing the sections whose prerequisites are
// already satisfied (the roots). An empty instanceID is assigned a UUID.
func (c *Controller) CreateInstance(ctx context.Context, instanceID string) (*model.WorkflowState, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	release := c.locks.acquire(instanceID)
	defer release()

	now := c.now()
	state := model.NewWorkflowState(instanceID, c.graph.Sections(), c.graph.Required(), now)
	queued := c.queueReady(state, now)

	if _, err := c.persist(ctx, state, 0); err != nil {
		if model.IsCode(err, model.ErrConflict) {
			return nil, model.NewConflictError(fmt.Sprintf("instance %s already exists", instanceID))
		}
		return nil, err
	}

	c.appendEvent(ctx, instanceID, "", model.EventInstanceCreated, map[string]any{
		"sections": len(state.Sections),
	})
	for _, id := range queued {
		c.appendEvent(ctx, instanceID, id, model.EventSectionQueued, nil)
	}
	c.metrics.RecordInstanceStart()
	c.logger.Info("instance created",
		zap.String("instance_id", instanceID),
		zap.Int("sections", len(state.Sections)),
		zap.Strings("queued", queued),
	)
	return state, nil
}

// GetState returns the current snapshot of an instance.
func (c *Controller) GetState(ctx context.Context, instanceID string) (*model.WorkflowState, error) {
	state, _, err := c.load(ctx, instanceID)
	return state, err
}

// ListInstances returns a summary of every stored instance.
func (c *Controller) ListInstances(ctx context.Context) ([]model.WorkflowSummary, error) {
	namespaces, err := c.store.List(ctx, checkpoint.InstancePrefix)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.WorkflowSummary, 0, len(namespaces))
	for _, ns := range namespaces {
		state, _, err := c.store.Get(ctx, ns)
		if err != nil {
			if model.IsCode(err, model.ErrNotFound) {
				continue
			}
			return nil, err
		}
		summaries = append(summaries, state.Summary())
	}
	return summaries, nil
}

// DetectInterrupt reports whether the instance is currently suspended
// awaiting human input.
func (c *Controller) DetectInterrupt(ctx context.Context, instanceID string) (bool, error) {
	state, _, err := c.load(ctx, instanceID)
	if err != nil {
		return false, err
	}
	return state.Interrupt.IsInterrupted, nil
}

// InterruptDetails returns the response-ready view of the active interrupt,
// including the content under review. NO_ACTIVE_INTERRUPT when the instance
// is not suspended.
func (c *Controller) InterruptDetails(ctx context.Context, instanceID string) (*model.InterruptDetails, error) {
	state, _, err := c.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !state.Interrupt.IsInterrupted {
		return nil, model.NewNoActiveInterruptError(instanceID)
	}
	details := &model.InterruptDetails{
		InstanceID:        instanceID,
		InterruptionPoint: state.Interrupt.InterruptionPoint,
		Reason:            state.Interrupt.Reason,
		ContentReference:  state.Interrupt.ContentReference,
		RaisedAt:          state.Interrupt.RaisedAt,
	}
	if rec := state.Section(state.Interrupt.InterruptionPoint); rec != nil {
		details.Content = rec.Content
		details.Evaluation = rec.Evaluation
	}
	return details, nil
}

// Events returns the audit trail for an instance.
func (c *Controller) Events(ctx context.Context, instanceID string) ([]model.WorkflowEvent, error) {
	if _, _, err := c.load(ctx, instanceID); err != nil {
		return nil, err
	}
	return c.store.Events(ctx, checkpoint.NamespaceForInstance(instanceID))
}

// SubmitFeedback applies a human decision to the active interrupt: the
// feedback is recorded and persisted first, then classified against the
// suspended section's status, the resulting transition applied, the
// interrupt cleared, and the pipeline resumed. A second concurrent
// submission for the same instance fails fast with CONFLICT.
func (c *Controller) SubmitFeedback(ctx context.Context, instanceID string, fb model.Feedback) (*model.WorkflowState, error) {
	if err := fb.Validate(); err != nil {
		return nil, err
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = c.now()
	}

	release, ok := c.locks.tryAcquire(instanceID)
	if !ok {
		return nil, model.NewConflictError(fmt.Sprintf("instance %s has an operation in flight", instanceID))
	}

	state, _, err := c.applyFeedback(ctx, instanceID, fb, release)
	if err != nil {
		return nil, err
	}

	// Resume outside the lock: the driver re-acquires it per step.
	if err := c.resume(ctx, instanceID); err != nil {
		return nil, c.recordResumeFailure(ctx, instanceID, err)
	}

	c.metrics.RecordFeedback(string(fb.Type), "applied")
	return state, nil
}

// applyFeedback runs the locked portion of SubmitFeedback and releases the
// lock before returning.
func (c *Controller) applyFeedback(ctx context.Context, instanceID string, fb model.Feedback, release func()) (*model.WorkflowState, int64, error) {
	defer release()

	state, version, err := c.load(ctx, instanceID)
	if err != nil {
		return nil, 0, err
	}
	if !state.Interrupt.IsInterrupted {
		return nil, 0, model.NewNoActiveInterruptError(instanceID)
	}

	sectionID := state.Interrupt.InterruptionPoint
	if fb.SectionID != "" {
		sectionID = fb.SectionID
	}
	rec := state.Section(sectionID)
	if rec == nil {
		return nil, 0, model.NewNotFoundError(fmt.Sprintf("section %s not found in instance %s", sectionID, instanceID))
	}

	// Record the submission before acting on it so a crash mid-flow leaves
	// the decision visible in the checkpoint.
	now := c.now()
	state.Interrupt.Feedback = &fb
	state.Interrupt.ProcessingStatus = model.ProcessingPending
	version, err = c.persist(ctx, state, version)
	if err != nil {
		return nil, 0, err
	}

	from := rec.Status
	target, err := Classify(from, fb.Type)
	if err != nil {
		c.metrics.RecordFeedback(string(fb.Type), "rejected")
		c.failProcessing(ctx, state, version)
		return nil, 0, err
	}

	// Approval requires every prerequisite to still hold approved content.
	if target == model.StatusApproved && !section.DepsApproved(state, c.graph, sectionID) {
		c.metrics.RecordFeedback(string(fb.Type), "rejected")
		c.failProcessing(ctx, state, version)
		return nil, 0, model.NewValidationError(
			fmt.Sprintf("section %s cannot be approved while its prerequisites are unapproved", sectionID),
		)
	}

	if err := section.Apply(rec, target, now); err != nil {
		c.failProcessing(ctx, state, version)
		return nil, 0, err
	}

	switch fb.Type {
	case model.FeedbackRevise, model.FeedbackRegenerate:
		if fb.Content != "" {
			rec.Guidance = fb.Content
		}
	}

	var demoted []string
	if fb.Type == model.FeedbackRegenerate {
		demoted = Propagate(state, c.graph, sectionID, now)
		c.metrics.RecordStalePropagation(len(demoted))
	}

	state.Interrupt = model.InterruptStatus{}
	state.AppendMessage(fmt.Sprintf("feedback %s applied to section %s: %s -> %s", fb.Type, sectionID, from, target))

	version, err = c.persist(ctx, state, version)
	if err != nil {
		return nil, 0, err
	}

	c.appendEvent(ctx, instanceID, sectionID, model.EventFeedbackApplied, map[string]any{
		"type":    string(fb.Type),
		"target":  string(target),
		"demoted": len(demoted),
	})
	for _, id := range demoted {
		c.appendEvent(ctx, instanceID, id, model.EventSectionStale, map[string]any{"cause": sectionID})
	}
	if target == model.StatusApproved {
		c.appendEvent(ctx, instanceID, sectionID, model.EventSectionApproved, nil)
	}
	c.logger.Info("feedback applied",
		zap.String("instance_id", instanceID),
		zap.String("section_id", sectionID),
		zap.String("feedback_type", string(fb.Type)),
		zap.String("target_status", string(target)),
		zap.Int("sections_demoted", len(demoted)),
	)
	return state, version, nil
}

// EditSection replaces a section's content directly. The edit is
// self-approving: the section passes through EDITED back to APPROVED, and
// every dependent holding approved content is demoted to STALE.
func (c *Controller) EditSection(ctx context.Context, instanceID, sectionID, content string) (*model.WorkflowState, error) {
	if content == "" {
		return nil, model.NewBadRequestError("edit content must not be empty")
	}

	release, ok := c.locks.tryAcquire(instanceID)
	if !ok {
		return nil, model.NewConflictError(fmt.Sprintf("instance %s has an operation in flight", instanceID))
	}

	state, _, err := c.applyEdit(ctx, instanceID, sectionID, content, release)
	if err != nil {
		return nil, err
	}

	if err := c.resume(ctx, instanceID); err != nil {
		return nil, c.recordResumeFailure(ctx, instanceID, err)
	}
	return state, nil
}

func (c *Controller) applyEdit(ctx context.Context, instanceID, sectionID, content string, release func()) (*model.WorkflowState, int64, error) {
	defer release()

	state, version, err := c.load(ctx, instanceID)
	if err != nil {
		return nil, 0, err
	}
	rec := state.Section(sectionID)
	if rec == nil {
		return nil, 0, model.NewNotFoundError(fmt.Sprintf("section %s not found in instance %s", sectionID, instanceID))
	}

	now := c.now()
	if err := section.Apply(rec, model.StatusEdited, now); err != nil {
		return nil, 0, err
	}
	rec.Content = content
	if err := section.Apply(rec, model.StatusApproved, now); err != nil {
		return nil, 0, err
	}

	demoted := Propagate(state, c.graph, sectionID, now)
	c.metrics.RecordStalePropagation(len(demoted))

	// An edit always reopens a completed instance, dependents or not.
	if state.Status == model.InstanceStatusCompleted {
		state.Status = model.InstanceStatusActive
	}

	version, err = c.persist(ctx, state, version)
	if err != nil {
		return nil, 0, err
	}

	c.appendEvent(ctx, instanceID, sectionID, model.EventSectionEdited, map[string]any{
		"demoted": len(demoted),
	})
	for _, id := range demoted {
		c.appendEvent(ctx, instanceID, id, model.EventSectionStale, map[string]any{"cause": sectionID})
	}
	c.metrics.RecordSectionEdit()
	c.logger.Info("section edited",
		zap.String("instance_id", instanceID),
		zap.String("section_id", sectionID),
		zap.Int("sections_demoted", len(demoted)),
	)
	return state, version, nil
}

// DeleteInstance tombstones an instance and its audit trail.
func (c *Controller) DeleteInstance(ctx context.Context, instanceID string) error {
	release, ok := c.locks.tryAcquire(instanceID)
	if !ok {
		return model.NewConflictError(fmt.Sprintf("instance %s has an operation in flight", instanceID))
	}
	defer release()

	state, _, err := c.load(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, checkpoint.NamespaceForInstance(instanceID)); err != nil {
		return err
	}

	c.locks.forget(instanceID)
	c.metrics.RecordInstanceDeletion(state.Status == model.InstanceStatusActive)
	c.logger.Info("instance deleted", zap.String("instance_id", instanceID))
	return nil
}

// Resume re-drives the pipeline for an instance on operator request. An
// instance suspended on an interrupt stays suspended; the human decision
// has to come first.
func (c *Controller) Resume(ctx context.Context, instanceID string) error {
	state, _, err := c.load(ctx, instanceID)
	if err != nil {
		return err
	}
	if state.Interrupt.IsInterrupted {
		return model.NewConflictError(fmt.Sprintf("instance %s is awaiting feedback", instanceID))
	}
	if state.Status != model.InstanceStatusActive {
		return model.NewConflictError(fmt.Sprintf("instance %s is %s", instanceID, state.Status))
	}
	if err := c.resume(ctx, instanceID); err != nil {
		return err
	}
	c.appendEvent(ctx, instanceID, "", model.EventInstanceResumed, nil)
	return nil
}

// RaiseInterrupt suspends the state at the given section. At most one
// interrupt may be active per instance; raising a second is a CONFLICT.
func RaiseInterrupt(state *model.WorkflowState, sectionID string, reason model.InterruptReason, contentRef string, now time.Time) error {
	if state.Interrupt.IsInterrupted {
		return model.NewConflictError(fmt.Sprintf("instance %s already has an active interrupt at %s",
			state.InstanceID, state.Interrupt.InterruptionPoint))
	}
	state.Interrupt = model.InterruptStatus{
		IsInterrupted:     true,
		InterruptionPoint: sectionID,
		Reason:            reason,
		ContentReference:  contentRef,
		RaisedAt:          now,
	}
	return nil
}

// --- internal helpers ---

func (c *Controller) load(ctx context.Context, instanceID string) (*model.WorkflowState, int64, error) {
	return c.store.Get(ctx, checkpoint.NamespaceForInstance(instanceID))
}

// persist writes the state with its version token, stamping UpdatedAt.
func (c *Controller) persist(ctx context.Context, state *model.WorkflowState, expectedVersion int64) (int64, error) {
	state.UpdatedAt = c.now()
	version, err := c.store.Put(ctx, checkpoint.NamespaceForInstance(state.InstanceID), state, expectedVersion)
	c.metrics.RecordCheckpointWrite(model.IsCode(err, model.ErrConflict))
	if model.IsCode(err, model.ErrConflict) {
		c.logger.Warn("checkpoint write conflict",
			zap.String("instance_id", state.InstanceID),
			zap.Int64("expected_version", expectedVersion),
		)
	}
	return version, err
}

// appendEvent records an audit event. Event append failures are logged and
// swallowed; the trail is diagnostics, never control data.
func (c *Controller) appendEvent(ctx context.Context, instanceID, sectionID, event string, detail map[string]any) {
	actor := "system"
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		actor = rctx.SubjectID
	}
	err := c.store.AppendEvent(ctx, checkpoint.NamespaceForInstance(instanceID), model.WorkflowEvent{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		SectionID:  sectionID,
		Event:      event,
		ActorID:    actor,
		Detail:     detail,
		Timestamp:  c.now(),
	})
	if err != nil {
		c.logger.Warn("audit event append failed",
			zap.String("instance_id", instanceID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// queueReady promotes every NOT_STARTED section whose prerequisites are all
// approved. Returns the promoted section IDs.
func (c *Controller) queueReady(state *model.WorkflowState, now time.Time) []string {
	var queued []string
	for _, id := range c.graph.Sections() {
		if section.ReadyForQueue(state, c.graph, id) {
			if err := section.Apply(state.Section(id), model.StatusQueued, now); err == nil {
				queued = append(queued, id)
			}
		}
	}
	return queued
}

func (c *Controller) resume(ctx context.Context, instanceID string) error {
	if c.resumer == nil {
		return nil
	}
	return c.resumer.Resume(ctx, instanceID)
}

// failProcessing marks the recorded feedback as failed without disturbing
// the rest of the state. Best effort under the already-held lock.
func (c *Controller) failProcessing(ctx context.Context, state *model.WorkflowState, version int64) {
	state.Interrupt.ProcessingStatus = model.ProcessingFailed
	if _, err := c.persist(ctx, state, version); err != nil {
		c.logger.Warn("failed to persist feedback processing status",
			zap.String("instance_id", state.InstanceID),
			zap.Error(err),
		)
	}
}

// recordResumeFailure persists the failed resumption on the instance and
// wraps the cause in a RESUME_FAILURE envelope. The feedback transition
// itself stays applied; the instance needs an operator re-drive.
func (c *Controller) recordResumeFailure(ctx context.Context, instanceID string, cause error) error {
	c.metrics.RecordResumeFailure()

	release := c.locks.acquire(instanceID)
	defer release()

	state, v, err := c.load(ctx, instanceID)
	if err != nil {
		c.logger.Error("resume failure could not be recorded",
			zap.String("instance_id", instanceID),
			zap.Error(err),
		)
		return model.NewResumeFailureError(instanceID, cause)
	}
	state.Interrupt.ProcessingStatus = model.ProcessingFailed
	state.AppendError(fmt.Sprintf("resume after feedback failed: %v", cause))
	if _, err := c.persist(ctx, state, v); err != nil {
		c.logger.Error("resume failure could not be persisted",
			zap.String("instance_id", instanceID),
			zap.Error(err),
		)
	}
	c.logger.Error("resume after feedback failed",
		zap.String("instance_id", instanceID),
		zap.Error(cause),
	)
	return model.NewResumeFailureError(instanceID, cause)
}
