// Package checkpoint persists versioned whole-state snapshots of workflow
// instances. Every write carries an optimistic version token; a stale token
// is rejected with CONFLICT and the caller must re-read, reapply its delta,
// and retry. Reads of missing namespaces are a normal NOT_FOUND result,
// not a fault.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/draftforge/draftforge/model"
)

// NamespaceForInstance returns the checkpoint namespace key for an
// instance, following the instance:<id> convention.
func NamespaceForInstance(instanceID string) string {
	return fmt.Sprintf("instance:%s", instanceID)
}

// InstancePrefix is the namespace prefix under which all instances live.
const InstancePrefix = "instance:"

// Store persists workflow state snapshots keyed by namespace.
type Store interface {
	// Put writes a snapshot. expectedVersion 0 creates the namespace;
	// otherwise it must match the stored version. Returns the new version,
	// or CONFLICT when the token is stale. The caller must not blindly
	// retry a conflicted write.
	Put(ctx context.Context, namespace string, state *model.WorkflowState, expectedVersion int64) (int64, error)

	// Get returns the snapshot and its version, or NOT_FOUND.
	Get(ctx context.Context, namespace string) (*model.WorkflowState, int64, error)

	// List returns all namespaces with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete tombstones a namespace and its events.
	Delete(ctx context.Context, namespace string) error

	// AppendEvent adds an event to the namespace's audit trail.
	AppendEvent(ctx context.Context, namespace string, event model.WorkflowEvent) error

	// Events returns the audit trail ordered by timestamp.
	Events(ctx context.Context, namespace string) ([]model.WorkflowEvent, error)
}
