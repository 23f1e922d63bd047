package section

import (
	"strings"
	"testing"
	"time"

	"github.com/draftforge/draftforge/internal/graph"
	"github.com/draftforge/draftforge/model"
)

func TestCanTransition_table(t *testing.T) {
	tests := []struct {
		from, to model.SectionStatus
		want     bool
	}{
		{model.StatusNotStarted, model.StatusQueued, true},
		{model.StatusNotStarted, model.StatusGenerating, false},
		{model.StatusNotStarted, model.StatusApproved, false},
		{model.StatusQueued, model.StatusGenerating, true},
		{model.StatusQueued, model.StatusApproved, false},
		{model.StatusGenerating, model.StatusAwaitingReview, true},
		{model.StatusGenerating, model.StatusError, true},
		{model.StatusGenerating, model.StatusQueued, false},
		{model.StatusAwaitingReview, model.StatusApproved, true},
		{model.StatusAwaitingReview, model.StatusNeedsRevision, true},
		{model.StatusAwaitingReview, model.StatusQueued, true},
		{model.StatusAwaitingReview, model.StatusStale, false},
		{model.StatusApproved, model.StatusEdited, true},
		{model.StatusApproved, model.StatusStale, true},
		{model.StatusApproved, model.StatusComplete, true},
		{model.StatusApproved, model.StatusQueued, false},
		{model.StatusEdited, model.StatusApproved, true},
		{model.StatusEdited, model.StatusQueued, false},
		{model.StatusNeedsRevision, model.StatusQueued, true},
		{model.StatusNeedsRevision, model.StatusApproved, false},
		{model.StatusStale, model.StatusQueued, true},
		{model.StatusStale, model.StatusApproved, true},
		{model.StatusStale, model.StatusGenerating, false},
		{model.StatusError, model.StatusQueued, true},
		{model.StatusError, model.StatusApproved, false},
		{model.StatusComplete, model.StatusStale, true},
		{model.StatusComplete, model.StatusEdited, true},
		{model.StatusComplete, model.StatusQueued, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalAndBlocked(t *testing.T) {
	all := []model.SectionStatus{
		model.StatusNotStarted, model.StatusQueued, model.StatusGenerating,
		model.StatusAwaitingReview, model.StatusApproved, model.StatusEdited,
		model.StatusNeedsRevision, model.StatusStale, model.StatusError,
		model.StatusComplete,
	}
	terminal := map[model.SectionStatus]bool{
		model.StatusApproved: true,
		model.StatusComplete: true,
	}
	blocked := map[model.SectionStatus]bool{
		model.StatusAwaitingReview: true,
		model.StatusStale:          true,
		model.StatusError:          true,
	}
	for _, s := range all {
		if got := Terminal(s); got != terminal[s] {
			t.Errorf("Terminal(%s) = %v, want %v", s, got, terminal[s])
		}
		if got := Blocked(s); got != blocked[s] {
			t.Errorf("Blocked(%s) = %v, want %v", s, got, blocked[s])
		}
	}
}

func TestApply_stampsAndClearsError(t *testing.T) {
	now := time.Now().UTC()
	rec := &model.SectionRecord{
		ID:        "summary",
		Status:    model.StatusError,
		LastError: "generation timed out",
	}

	if err := Apply(rec, model.StatusQueued, now); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if rec.Status != model.StatusQueued {
		t.Errorf("status = %s, want QUEUED", rec.Status)
	}
	if rec.LastError != "" {
		t.Errorf("LastError = %q, want cleared", rec.LastError)
	}
	if !rec.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", rec.LastUpdated, now)
	}
}

func TestApply_illegalLeavesRecordUntouched(t *testing.T) {
	now := time.Now().UTC()
	rec := &model.SectionRecord{ID: "summary", Status: model.StatusNotStarted}

	err := Apply(rec, model.StatusApproved, now)
	if err == nil {
		t.Fatal("expected INVALID_TRANSITION error")
	}
	if !model.IsCode(err, model.ErrInvalidTransition) {
		t.Fatalf("error = %v, want INVALID_TRANSITION", err)
	}
	if rec.Status != model.StatusNotStarted {
		t.Errorf("status = %s, record mutated on illegal transition", rec.Status)
	}
}

func TestApply_errorNamesBothStates(t *testing.T) {
	rec := &model.SectionRecord{ID: "x", Status: model.StatusQueued}
	err := Apply(rec, model.StatusApproved, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"QUEUED", "APPROVED"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not name %s", msg, want)
		}
	}
}

func TestFail_recordsDiagnostic(t *testing.T) {
	now := time.Now().UTC()
	rec := &model.SectionRecord{ID: "summary", Status: model.StatusGenerating}

	if err := Fail(rec, "generate: deadline exceeded", now); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	if rec.Status != model.StatusError {
		t.Errorf("status = %s, want ERROR", rec.Status)
	}
	if rec.LastError != "generate: deadline exceeded" {
		t.Errorf("LastError = %q", rec.LastError)
	}
}

func TestFail_rejectedOutsideGenerating(t *testing.T) {
	rec := &model.SectionRecord{ID: "summary", Status: model.StatusApproved}
	if err := Fail(rec, "boom", time.Now()); err == nil {
		t.Fatal("expected error failing an APPROVED section")
	}
}

func TestReadyForQueue(t *testing.T) {
	g := graph.MustBuild(map[string][]string{
		"root":  nil,
		"child": {"root"},
	})
	now := time.Now().UTC()
	state := model.NewWorkflowState("inst-1", g.Sections(), g.Required(), now)

	if !ReadyForQueue(state, g, "root") {
		t.Error("root should be ready: no dependencies")
	}
	if ReadyForQueue(state, g, "child") {
		t.Error("child should not be ready: root not approved")
	}

	state.Section("root").Status = model.StatusApproved
	if !ReadyForQueue(state, g, "child") {
		t.Error("child should be ready once root is approved")
	}

	state.Section("child").Status = model.StatusQueued
	if ReadyForQueue(state, g, "child") {
		t.Error("only NOT_STARTED sections are ready for queue")
	}
}

func TestDepsApproved_countsComplete(t *testing.T) {
	g := graph.MustBuild(map[string][]string{
		"root":  nil,
		"child": {"root"},
	})
	state := model.NewWorkflowState("inst-1", g.Sections(), g.Required(), time.Now().UTC())
	state.Section("root").Status = model.StatusComplete

	if !DepsApproved(state, g, "child") {
		t.Error("COMPLETE prerequisite should satisfy dependency gating")
	}
}
