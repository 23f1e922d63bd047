package model

import "time"

// Audit event names recorded on the workflow trail.
const (
	EventInstanceCreated   = "instance_created"
	EventSectionQueued     = "section_queued"
	EventSectionGenerating = "section_generating"
	EventSectionGenerated  = "section_generated"
	EventSectionFailed     = "section_failed"
	EventSectionApproved   = "section_approved"
	EventSectionEdited     = "section_edited"
	EventSectionStale      = "section_stale"
	EventInterruptRaised   = "interrupt_raised"
	EventFeedbackApplied   = "feedback_applied"
	EventInstanceResumed   = "instance_resumed"
	EventInstanceCompleted = "instance_completed"
	EventInstanceDeleted   = "instance_deleted"
)

// WorkflowEvent records one entry in an instance's audit trail. Events are
// append-only; they are diagnostics, never control data.
type WorkflowEvent struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	SectionID  string         `json:"section_id,omitempty"`
	Event      string         `json:"event"`
	ActorID    string         `json:"actor_id"`
	Detail     map[string]any `json:"detail,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
