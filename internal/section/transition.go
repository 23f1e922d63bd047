// Package section owns the per-section status lifecycle and its
// legal-transition table. Every status change in the system funnels through
// Apply so that illegal moves are rejected uniformly.
package section

import (
	"time"

	"github.com/draftforge/draftforge/internal/graph"
	"github.com/draftforge/draftforge/model"
)

// legal maps each status to the set of statuses it may move to.
var legal = map[model.SectionStatus][]model.SectionStatus{
	model.StatusNotStarted:     {model.StatusQueued},
	model.StatusQueued:         {model.StatusGenerating},
	model.StatusGenerating:     {model.StatusAwaitingReview, model.StatusError},
	model.StatusAwaitingReview: {model.StatusApproved, model.StatusNeedsRevision, model.StatusQueued},
	model.StatusApproved:       {model.StatusEdited, model.StatusStale, model.StatusComplete},
	model.StatusEdited:         {model.StatusApproved},
	model.StatusNeedsRevision:  {model.StatusQueued},
	model.StatusStale:          {model.StatusQueued, model.StatusApproved},
	model.StatusError:          {model.StatusQueued},
	model.StatusComplete:       {model.StatusStale, model.StatusEdited},
}

// CanTransition reports whether moving from current to next is legal.
func CanTransition(current, next model.SectionStatus) bool {
	for _, s := range legal[current] {
		if s == next {
			return true
		}
	}
	return false
}

// Terminal reports whether a status needs no further generation work.
// COMPLETE sections can still be struck STALE or edited, but the driver has
// nothing left to do with them.
func Terminal(s model.SectionStatus) bool {
	return s == model.StatusApproved || s == model.StatusComplete
}

// Blocked reports whether a status is waiting on a human before the driver
// may touch the section again.
func Blocked(s model.SectionStatus) bool {
	return s == model.StatusAwaitingReview || s == model.StatusStale || s == model.StatusError
}

// Apply moves a section record to the next status, stamps it, and clears
// the diagnostic from any prior failure. Illegal moves are rejected with an
// INVALID_TRANSITION error and leave the record untouched.
func Apply(rec *model.SectionRecord, next model.SectionStatus, now time.Time) error {
	if !CanTransition(rec.Status, next) {
		return model.NewInvalidTransitionError(rec.Status, next)
	}
	rec.Status = next
	rec.LastUpdated = now
	if next != model.StatusError {
		rec.LastError = ""
	}
	return nil
}

// Fail moves a section to ERROR recording the diagnostic. Only GENERATING
// sections can fail; other callers must use Apply.
func Fail(rec *model.SectionRecord, diagnostic string, now time.Time) error {
	if err := Apply(rec, model.StatusError, now); err != nil {
		return err
	}
	rec.LastError = diagnostic
	return nil
}

// DepsApproved reports whether every direct prerequisite of id is APPROVED
// or COMPLETE. A section may only enter APPROVED when this holds.
func DepsApproved(state *model.WorkflowState, g *graph.Graph, id string) bool {
	for _, dep := range g.DirectDependencies(id) {
		d := state.Section(dep)
		if d == nil || (d.Status != model.StatusApproved && d.Status != model.StatusComplete) {
			return false
		}
	}
	return true
}

// ReadyForQueue reports whether a NOT_STARTED section has every direct
// prerequisite APPROVED and may be promoted to QUEUED.
func ReadyForQueue(state *model.WorkflowState, g *graph.Graph, id string) bool {
	rec := state.Section(id)
	if rec == nil || rec.Status != model.StatusNotStarted {
		return false
	}
	return DepsApproved(state, g, id)
}
