package transport

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/draftforge/draftforge/model"
)

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"bad request", model.NewBadRequestError("nope"), 400},
		{"unauthorized", model.NewUnauthorizedError("who"), 401},
		{"not found", model.NewNotFoundError("gone"), 404},
		{"conflict", model.NewConflictError("busy"), 409},
		{"validation", model.NewValidationError("bad shape"), 422},
		{"invalid transition", model.NewInvalidTransitionError(model.StatusQueued, model.StatusApproved), 422},
		{"invalid feedback", model.NewInvalidFeedbackError(model.FeedbackKeep, model.StatusAwaitingReview), 422},
		{"no active interrupt", model.NewNoActiveInterruptError("inst-1"), 409},
		{"collaborator timeout", model.NewTimeoutError("deadline"), 504},
		{"collaborator unavailable", model.NewUnavailableError("down"), 502},
		{"generation error", model.NewGenerationError("bad output"), 502},
		{"resume failure", model.NewResumeFailureError("inst-1", errors.New("pool")), 500},
		{"plain error becomes 500", errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/v1/instances", nil)
			WriteError(rec, req, tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
				t.Errorf("content type = %q", ct)
			}
			var body struct {
				Error *model.ErrorEnvelope `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("response body is not JSON: %v", err)
			}
			if body.Error == nil || body.Error.Code == "" {
				t.Fatalf("body = %s, want an error envelope with a code", rec.Body.String())
			}
		})
	}
}

func TestWriteError_plainErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest("GET", "/", nil), errors.New("pgx: connection refused to 10.0.0.5"))

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Code != model.ErrInternalError {
		t.Errorf("code = %s, want INTERNAL_ERROR", body.Error.Code)
	}
	if got := body.Error.Message; got != "An unexpected error occurred" {
		t.Errorf("message = %q, want the generic message, not the raw error", got)
	}
}

func TestWriteJSON_nilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 204, nil)
	if rec.Code != 204 {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}
