// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the orchestrator API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/draftforge/draftforge/internal/observability"
	"github.com/draftforge/draftforge/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:              http.StatusBadRequest,
	model.ErrUnauthorized:            http.StatusUnauthorized,
	model.ErrForbidden:               http.StatusForbidden,
	model.ErrNotFound:                http.StatusNotFound,
	model.ErrConflict:                http.StatusConflict,
	model.ErrValidationError:         http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:       http.StatusUnprocessableEntity,
	model.ErrInvalidFeedbackForState: http.StatusUnprocessableEntity,
	model.ErrNoActiveInterrupt:       http.StatusConflict,
	model.ErrInternalError:           http.StatusInternalServerError,
	model.ErrResumeFailure:           http.StatusInternalServerError,
	model.ErrGenerationFailed:        http.StatusBadGateway,
	model.ErrEvaluationFailed:        http.StatusBadGateway,
	model.ErrCollaboratorUnavailable: http.StatusBadGateway,
	model.ErrCollaboratorTimeout:     http.StatusGatewayTimeout,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the mapped
// HTTP status code, stamping the active trace ID so operators can find the
// failing span. Errors of any other type become a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}
	if ee.TraceID == "" && r != nil {
		ee.TraceID = observability.TraceIDFromContext(r.Context())
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}
