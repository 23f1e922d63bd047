package orchestrator

import (
	"fmt"
	"time"

	"github.com/draftforge/draftforge/internal/graph"
	"github.com/draftforge/draftforge/internal/section"
	"github.com/draftforge/draftforge/model"
)

// Propagate demotes every transitive dependent of causeID that currently
// holds approved content (APPROVED or COMPLETE) to STALE, recording a
// diagnostic message naming the cause. Dependents in any other status keep
// their status: in-flight work is not cancelled, and already-STALE sections
// are not touched, so a repeated pass over the same cause is a no-op.
//
// When a COMPLETE section is struck the instance is reopened to active.
// Returns the IDs of the sections demoted.
func Propagate(state *model.WorkflowState, g *graph.Graph, causeID string, now time.Time) []string {
	var demoted []string
	for _, depID := range g.TransitiveDependents(causeID) {
		rec := state.Section(depID)
		if rec == nil {
			continue
		}
		if !section.Terminal(rec.Status) {
			continue
		}
		rec.Status = model.StatusStale
		rec.LastUpdated = now
		state.AppendMessage(fmt.Sprintf("section %s marked stale: upstream %s changed", depID, causeID))
		demoted = append(demoted, depID)
	}
	if len(demoted) > 0 && state.Status == model.InstanceStatusCompleted {
		state.Status = model.InstanceStatusActive
	}
	return demoted
}
