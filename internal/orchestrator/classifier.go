package orchestrator

import "github.com/draftforge/draftforge/model"

// classification is one row of the feedback table: which section status a
// feedback type is valid against, and where the section lands.
type classification struct {
	from   []model.SectionStatus
	target model.SectionStatus
}

// feedbackTable is the single authority on the feedback-to-transition
// mapping. Every feedback path consults this table; there are no ad-hoc
// precondition checks elsewhere.
var feedbackTable = map[model.FeedbackType]classification{
	model.FeedbackApprove: {
		from:   []model.SectionStatus{model.StatusAwaitingReview},
		target: model.StatusApproved,
	},
	model.FeedbackRevise: {
		from:   []model.SectionStatus{model.StatusAwaitingReview},
		target: model.StatusNeedsRevision,
	},
	model.FeedbackRegenerate: {
		from:   []model.SectionStatus{model.StatusAwaitingReview, model.StatusStale},
		target: model.StatusQueued,
	},
	model.FeedbackKeep: {
		from:   []model.SectionStatus{model.StatusStale},
		target: model.StatusApproved,
	},
}

// Classify resolves a feedback type against the current section status and
// returns the status the section moves to. Feedback that is not valid for
// the current status is rejected with INVALID_FEEDBACK_FOR_STATE.
func Classify(current model.SectionStatus, ft model.FeedbackType) (model.SectionStatus, error) {
	row, ok := feedbackTable[ft]
	if !ok {
		return "", model.NewBadRequestError("unknown feedback type " + string(ft))
	}
	for _, from := range row.from {
		if from == current {
			return row.target, nil
		}
	}
	return "", model.NewInvalidFeedbackError(ft, current)
}
