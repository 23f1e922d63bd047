package model

import (
	"fmt"
	"time"
)

// FeedbackType classifies a human feedback submission.
type FeedbackType string

// Feedback types accepted by the orchestrator.
const (
	FeedbackApprove    FeedbackType = "approve"
	FeedbackRevise     FeedbackType = "revise"
	FeedbackRegenerate FeedbackType = "regenerate"
	FeedbackKeep       FeedbackType = "keep"
)

// Feedback is a human decision submitted against an active interrupt.
// SectionID may name a section other than the interruption point, which is
// how keep/regenerate decisions address STALE sections; when empty the
// feedback applies to the section the interrupt was raised for.
type Feedback struct {
	Type      FeedbackType `json:"type"`
	SectionID string       `json:"section_id,omitempty"`
	Content   string       `json:"content,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Validate checks that the feedback carries a known type.
func (f Feedback) Validate() error {
	switch f.Type {
	case FeedbackApprove, FeedbackRevise, FeedbackRegenerate, FeedbackKeep:
		return nil
	default:
		return NewBadRequestError(fmt.Sprintf("unknown feedback type %q", f.Type))
	}
}
