package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Orchestrator-specific error codes.
const (
	ErrInvalidTransition       = "INVALID_TRANSITION"
	ErrNoActiveInterrupt       = "NO_ACTIVE_INTERRUPT"
	ErrInvalidFeedbackForState = "INVALID_FEEDBACK_FOR_STATE"
	ErrGenerationFailed        = "GENERATION_ERROR"
	ErrEvaluationFailed        = "EVALUATION_ERROR"
	ErrCollaboratorTimeout     = "COLLABORATOR_TIMEOUT"
	ErrCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	ErrResumeFailure           = "RESUME_FAILURE"
)

// ErrorEnvelope is the standard coded error returned across component
// boundaries and serialized in HTTP error responses. It implements the
// error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an *ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}

// CodeOf returns the code carried by an ErrorEnvelope, INTERNAL_ERROR for
// any other non-nil error, and the empty string for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if ee, ok := err.(*ErrorEnvelope); ok {
		return ee.Code
	}
	return ErrInternalError
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error. Checkpoint version collisions
// and concurrent feedback submissions surface through this code.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR.
func NewValidationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrValidationError, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error naming the
// current and attempted states.
func NewInvalidTransitionError(current, attempted SectionStatus) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", current, attempted),
	}
}

// NewNoActiveInterruptError returns a NO_ACTIVE_INTERRUPT error.
func NewNoActiveInterruptError(instanceID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoActiveInterrupt,
		Message: fmt.Sprintf("instance %q has no active interrupt", instanceID),
	}
}

// NewInvalidFeedbackError returns an INVALID_FEEDBACK_FOR_STATE error naming
// the attempted feedback type and the section's current status.
func NewInvalidFeedbackError(ft FeedbackType, current SectionStatus) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInvalidFeedbackForState,
		Message: fmt.Sprintf("feedback %q is not valid for status %s", ft, current),
	}
}

// NewGenerationError returns a GENERATION_ERROR.
func NewGenerationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrGenerationFailed, Message: msg}
}

// NewEvaluationError returns an EVALUATION_ERROR.
func NewEvaluationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrEvaluationFailed, Message: msg}
}

// NewTimeoutError returns a COLLABORATOR_TIMEOUT error.
func NewTimeoutError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrCollaboratorTimeout, Message: msg}
}

// NewUnavailableError returns a COLLABORATOR_UNAVAILABLE error, used when a
// collaborator cannot be reached or its circuit breaker is open.
func NewUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrCollaboratorUnavailable, Message: msg}
}

// NewResumeFailureError returns a RESUME_FAILURE error. A lost resume leaves
// an instance permanently stuck, so this code is operator-visible and never
// silently retried.
func NewResumeFailureError(instanceID string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrResumeFailure,
		Message: fmt.Sprintf("resume of instance %q failed: %v", instanceID, cause),
	}
}
