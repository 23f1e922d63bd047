package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/observability"
	"github.com/draftforge/draftforge/model"
)

// maxBodyBytes bounds request bodies; section content is text, not uploads.
const maxBodyBytes = 1 << 20

// handlers carries the orchestrator into the route functions.
type handlers struct {
	controller controllerAPI
	logger     *zap.Logger
}

// controllerAPI is the slice of the orchestrator the transport needs.
// Narrowed to an interface so handler tests can run against the real
// controller or a failing stub alike.
type controllerAPI interface {
	CreateInstance(ctx context.Context, instanceID string) (*model.WorkflowState, error)
	GetState(ctx context.Context, instanceID string) (*model.WorkflowState, error)
	ListInstances(ctx context.Context) ([]model.WorkflowSummary, error)
	InterruptDetails(ctx context.Context, instanceID string) (*model.InterruptDetails, error)
	SubmitFeedback(ctx context.Context, instanceID string, fb model.Feedback) (*model.WorkflowState, error)
	EditSection(ctx context.Context, instanceID, sectionID, content string) (*model.WorkflowState, error)
	DeleteInstance(ctx context.Context, instanceID string) error
	Events(ctx context.Context, instanceID string) ([]model.WorkflowEvent, error)
	Resume(ctx context.Context, instanceID string) error
}

type createInstanceRequest struct {
	InstanceID string `json:"instance_id,omitempty"`
}

func (h *handlers) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := decodeBody(r, &req, true); err != nil {
		WriteError(w, r, err)
		return
	}
	state, err := h.controller.CreateInstance(r.Context(), req.InstanceID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, state)
}

func (h *handlers) listInstances(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.controller.ListInstances(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"instances": summaries})
}

func (h *handlers) getInstance(w http.ResponseWriter, r *http.Request) {
	state, err := h.controller.GetState(r.Context(), chi.URLParam(r, "instanceId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

func (h *handlers) deleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.DeleteInstance(r.Context(), chi.URLParam(r, "instanceId")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getInterrupt returns the active interrupt, or 204 when the instance is
// running uninterrupted.
func (h *handlers) getInterrupt(w http.ResponseWriter, r *http.Request) {
	details, err := h.controller.InterruptDetails(r.Context(), chi.URLParam(r, "instanceId"))
	if err != nil {
		if model.IsCode(err, model.ErrNoActiveInterrupt) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}

func (h *handlers) submitFeedback(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")

	var fb model.Feedback
	if err := decodeBody(r, &fb, false); err != nil {
		WriteError(w, r, err)
		return
	}
	h.debugLogBody(r, "feedback received", map[string]any{
		"type":       string(fb.Type),
		"section_id": fb.SectionID,
		"content":    fb.Content,
	})

	state, err := h.controller.SubmitFeedback(r.Context(), instanceID, fb)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

type editSectionRequest struct {
	Content string `json:"content"`
}

func (h *handlers) editSection(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	sectionID := chi.URLParam(r, "sectionId")

	var req editSectionRequest
	if err := decodeBody(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	state, err := h.controller.EditSection(r.Context(), instanceID, sectionID, req.Content)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.controller.Events(r.Context(), chi.URLParam(r, "instanceId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *handlers) resumeInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	if err := h.controller.Resume(r.Context(), instanceID); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"instance_id": instanceID,
		"status":      "resuming",
	})
}

// decodeBody parses a JSON request body into dst. An empty body is allowed
// only when optional is set; trailing garbage and unknown shapes surface as
// BAD_REQUEST.
func decodeBody(r *http.Request, dst any, optional bool) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF && optional {
			return nil
		}
		return model.NewBadRequestError("invalid request body: " + err.Error())
	}
	return nil
}

// debugLogBody logs a request body at debug level with sensitive fields
// redacted.
func (h *handlers) debugLogBody(r *http.Request, msg string, body map[string]any) {
	logger := observability.RequestLogger(r.Context(), h.logger)
	if !logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	logger.Debug(msg, zap.Any("body", observability.RedactBody(body, nil)))
}
