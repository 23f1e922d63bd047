// Package model defines the shared domain types for the orchestrator: the
// workflow state aggregate, section records, interrupt metadata, feedback,
// and the coded error envelope used across component boundaries.
package model

import "time"

// SectionStatus is the lifecycle state of a single section.
type SectionStatus string

// Section lifecycle states.
const (
	StatusNotStarted     SectionStatus = "NOT_STARTED"
	StatusQueued         SectionStatus = "QUEUED"
	StatusGenerating     SectionStatus = "GENERATING"
	StatusAwaitingReview SectionStatus = "AWAITING_REVIEW"
	StatusApproved       SectionStatus = "APPROVED"
	StatusEdited         SectionStatus = "EDITED"
	StatusNeedsRevision  SectionStatus = "NEEDS_REVISION"
	StatusStale          SectionStatus = "STALE"
	StatusError          SectionStatus = "ERROR"
	StatusComplete       SectionStatus = "COMPLETE"
)

// Workflow instance status constants.
const (
	InstanceStatusActive    = "active"
	InstanceStatusCompleted = "completed"
	InstanceStatusDeleted   = "deleted"
)

// InterruptReason enumerates why an instance was suspended.
type InterruptReason string

// Interrupt reasons.
const (
	ReasonEvaluationNeeded InterruptReason = "EVALUATION_NEEDED"
	ReasonContentReview    InterruptReason = "CONTENT_REVIEW"
	ReasonErrorOccurred    InterruptReason = "ERROR_OCCURRED"
)

// Feedback processing status values on InterruptStatus.
const (
	ProcessingPending = "pending"
	ProcessingFailed  = "failed"
)

// WorkflowState is the root aggregate for one workflow instance. It is
// persisted whole as a versioned checkpoint and mutated only through the
// orchestrator controller.
type WorkflowState struct {
	InstanceID       string                    `json:"instance_id"`
	Status           string                    `json:"status"`
	Sections         map[string]*SectionRecord `json:"sections"`
	RequiredSections []string                  `json:"required_sections"`
	Interrupt        InterruptStatus           `json:"interrupt_status"`
	Errors           []string                  `json:"errors,omitempty"`
	Messages         []string                  `json:"messages,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// SectionRecord is the per-section lifecycle record inside a WorkflowState.
type SectionRecord struct {
	ID          string            `json:"id"`
	Content     string            `json:"content,omitempty"`
	Status      SectionStatus     `json:"status"`
	Evaluation  *EvaluationResult `json:"evaluation_result,omitempty"`
	Guidance    string            `json:"guidance,omitempty"`
	Attempts    int               `json:"attempts,omitempty"`
	LastUpdated time.Time         `json:"last_updated"`
	LastError   string            `json:"last_error,omitempty"`
}

// EvaluationResult is the structured outcome of the evaluation collaborator.
type EvaluationResult struct {
	Passed      bool      `json:"passed"`
	Score       float64   `json:"score"`
	Feedback    string    `json:"feedback,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// InterruptStatus records the single active suspension of an instance, if
// any. At most one interrupt is active per instance at a time.
type InterruptStatus struct {
	IsInterrupted     bool            `json:"is_interrupted"`
	InterruptionPoint string          `json:"interruption_point,omitempty"`
	Reason            InterruptReason `json:"reason,omitempty"`
	ContentReference  string          `json:"content_reference,omitempty"`
	Feedback          *Feedback       `json:"feedback,omitempty"`
	ProcessingStatus  string          `json:"processing_status,omitempty"`
	RaisedAt          time.Time       `json:"raised_at,omitzero"`
}

// InterruptDetails is the response-ready projection of an active interrupt.
type InterruptDetails struct {
	InstanceID        string            `json:"instance_id"`
	InterruptionPoint string            `json:"interruption_point"`
	Reason            InterruptReason   `json:"reason"`
	ContentReference  string            `json:"content_reference"`
	RaisedAt          time.Time         `json:"raised_at"`
	Content           string            `json:"content,omitempty"`
	Evaluation        *EvaluationResult `json:"evaluation_result,omitempty"`
}

// NewWorkflowState creates a fresh instance state with every section of the
// dependency graph at NOT_STARTED.
func NewWorkflowState(instanceID string, sectionIDs, required []string, now time.Time) *WorkflowState {
	sections := make(map[string]*SectionRecord, len(sectionIDs))
	for _, id := range sectionIDs {
		sections[id] = &SectionRecord{
			ID:          id,
			Status:      StatusNotStarted,
			LastUpdated: now,
		}
	}
	return &WorkflowState{
		InstanceID:       instanceID,
		Status:           InstanceStatusActive,
		Sections:         sections,
		RequiredSections: append([]string(nil), required...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Section returns the record for a section ID, or nil if unknown.
func (s *WorkflowState) Section(id string) *SectionRecord {
	return s.Sections[id]
}

// AppendError appends a diagnostic to the append-only error trail.
func (s *WorkflowState) AppendError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// AppendMessage appends a communication record to the audit trail.
func (s *WorkflowState) AppendMessage(msg string) {
	s.Messages = append(s.Messages, msg)
}

// RequiredComplete reports whether every required section has reached
// APPROVED or COMPLETE. STALE sections never count toward completion. A
// graph that marks no section required treats every section as required.
func (s *WorkflowState) RequiredComplete() bool {
	if len(s.RequiredSections) == 0 {
		for _, rec := range s.Sections {
			if rec.Status != StatusApproved && rec.Status != StatusComplete {
				return false
			}
		}
		return true
	}
	for _, id := range s.RequiredSections {
		rec := s.Sections[id]
		if rec == nil {
			return false
		}
		if rec.Status != StatusApproved && rec.Status != StatusComplete {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the state. Stores hand out clones so callers
// can never alias persisted snapshots.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	out.Sections = make(map[string]*SectionRecord, len(s.Sections))
	for id, rec := range s.Sections {
		cp := *rec
		if rec.Evaluation != nil {
			ev := *rec.Evaluation
			cp.Evaluation = &ev
		}
		out.Sections[id] = &cp
	}
	out.RequiredSections = append([]string(nil), s.RequiredSections...)
	out.Errors = append([]string(nil), s.Errors...)
	out.Messages = append([]string(nil), s.Messages...)
	if s.Interrupt.Feedback != nil {
		fb := *s.Interrupt.Feedback
		out.Interrupt.Feedback = &fb
	}
	return &out
}

// WorkflowSummary is a lightweight representation of an instance used in
// list views.
type WorkflowSummary struct {
	InstanceID    string    `json:"instance_id"`
	Status        string    `json:"status"`
	IsInterrupted bool      `json:"is_interrupted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Summary projects the state into its list-view shape.
func (s *WorkflowState) Summary() WorkflowSummary {
	return WorkflowSummary{
		InstanceID:    s.InstanceID,
		Status:        s.Status,
		IsInterrupted: s.Interrupt.IsInterrupted,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
