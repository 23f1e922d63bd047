// Package collab holds the boundary to the generation and evaluation
// collaborators. The orchestrator owns only the timeout and error-kind
// contract here; the content work itself happens behind HTTP.
package collab

import (
	"context"
	"time"

	"github.com/draftforge/draftforge/model"
)

// DefaultDeadline bounds a collaborator call when the caller specifies none.
const DefaultDeadline = 60 * time.Second

// GenerationRequest asks the generation collaborator for section content.
type GenerationRequest struct {
	InstanceID string         `json:"instance_id"`
	SectionID  string         `json:"section_id"`
	Context    map[string]any `json:"context,omitempty"`
	Guidance   string         `json:"guidance,omitempty"`
}

// EvaluationRequest asks the evaluation collaborator to score content.
type EvaluationRequest struct {
	InstanceID string `json:"instance_id"`
	SectionID  string `json:"section_id"`
	Content    string `json:"content"`
	Criteria   string `json:"criteria,omitempty"`
}

// Generator produces content for one section. Implementations must respect
// the context deadline and return a COLLABORATOR_TIMEOUT envelope rather
// than blocking indefinitely.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Evaluator scores generated content against the external rubric.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (model.EvaluationResult, error)
}

// WithDeadline derives a context bounded by d, or by DefaultDeadline when d
// is zero. When the parent already carries an earlier deadline it wins.
func WithDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultDeadline
	}
	return context.WithTimeout(ctx, d)
}
