package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftforge/draftforge/model"
)

// PgStore is a PostgreSQL-backed checkpoint Store using pgx/v5. The state
// snapshot is stored as a JSONB column; the version column carries the
// optimistic token.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL checkpoint store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Put writes a snapshot under optimistic version control.
func (s *PgStore) Put(ctx context.Context, namespace string, state *model.WorkflowState, expectedVersion int64) (int64, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("marshal state: %w", err)
	}

	next := expectedVersion + 1
	if expectedVersion == 0 {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO checkpoints (namespace, state, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)`,
			namespace, stateJSON, next, state.CreatedAt, state.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, model.NewConflictError(
					fmt.Sprintf("checkpoint %q already exists", namespace),
				)
			}
			return 0, fmt.Errorf("insert checkpoint: %w", err)
		}
		return next, nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE checkpoints SET state = $1, version = $2, updated_at = $3
		WHERE namespace = $4 AND version = $5`,
		stateJSON, next, state.UpdatedAt, namespace, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing namespace from a stale token.
		var stored int64
		err := s.pool.QueryRow(ctx,
			`SELECT version FROM checkpoints WHERE namespace = $1`, namespace,
		).Scan(&stored)
		if err == pgx.ErrNoRows {
			return 0, model.NewNotFoundError(
				fmt.Sprintf("checkpoint %q not found", namespace),
			)
		}
		if err != nil {
			return 0, fmt.Errorf("query checkpoint version: %w", err)
		}
		return 0, model.NewConflictError(
			fmt.Sprintf("checkpoint %q version conflict (expected %d, stored %d)", namespace, expectedVersion, stored),
		)
	}
	return next, nil
}

// Get returns the snapshot and its version.
func (s *PgStore) Get(ctx context.Context, namespace string) (*model.WorkflowState, int64, error) {
	var stateJSON []byte
	var version int64

	err := s.pool.QueryRow(ctx, `
		SELECT state, version FROM checkpoints WHERE namespace = $1`,
		namespace,
	).Scan(&stateJSON, &version)
	if err == pgx.ErrNoRows {
		return nil, 0, model.NewNotFoundError(
			fmt.Sprintf("checkpoint %q not found", namespace),
		)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query checkpoint: %w", err)
	}

	var state model.WorkflowState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, 0, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, version, nil
}

// List returns all namespaces with the given prefix.
func (s *PgStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT namespace FROM checkpoints
		WHERE namespace LIKE $1 || '%'
		ORDER BY namespace`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

// Delete removes a namespace and its events.
func (s *PgStore) Delete(ctx context.Context, namespace string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoint_events WHERE namespace = $1`, namespace,
	)
	if err != nil {
		return fmt.Errorf("delete checkpoint events: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE namespace = $1`, namespace,
	)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("checkpoint %q not found", namespace),
		)
	}
	return nil
}

// AppendEvent adds an event to the audit trail.
func (s *PgStore) AppendEvent(ctx context.Context, namespace string, event model.WorkflowEvent) error {
	detailJSON, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoint_events (id, namespace, instance_id, section_id, event, actor_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, namespace, event.InstanceID, event.SectionID,
		event.Event, event.ActorID, detailJSON, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint event: %w", err)
	}
	return nil
}

// Events returns the audit trail ordered by timestamp.
func (s *PgStore) Events(ctx context.Context, namespace string) ([]model.WorkflowEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, section_id, event, actor_id, detail, created_at
		FROM checkpoint_events
		WHERE namespace = $1
		ORDER BY created_at ASC`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint events: %w", err)
	}
	defer rows.Close()

	var events []model.WorkflowEvent
	for rows.Next() {
		var evt model.WorkflowEvent
		var detailJSON []byte
		if err := rows.Scan(
			&evt.ID, &evt.InstanceID, &evt.SectionID, &evt.Event,
			&evt.ActorID, &detailJSON, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan checkpoint event: %w", err)
		}
		if detailJSON != nil {
			_ = json.Unmarshal(detailJSON, &evt.Detail)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// HealthCheck pings the connection pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
