package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	audit "bruteguard/pkg/platform/audit"
)

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	insertSQL = `INSERT INTO security_audit_events (
	id, event, entity_type, entity_id, actor_id, request_id, context, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

	listRecentSQL = `SELECT id, event, entity_type, COALESCE(entity_id, ''), COALESCE(actor_id, ''),
	COALESCE(request_id, ''), context, occurred_at
FROM security_audit_events
WHERE ($1 = '' OR event = $1)
ORDER BY occurred_at DESC
LIMIT $2`
)

// Store implements audit.Store on the security_audit_events table.
// Inserts are idempotent on event id so publisher retries never duplicate rows.
type Store struct {
	db PgxPool
}

// New creates a new PostgreSQL audit store.
func New(db PgxPool) *Store {
	return &Store{db: db}
}

// Append inserts an audit event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventContext := event.Context
	if eventContext == nil {
		eventContext = map[string]any{}
	}
	raw, err := json.Marshal(eventContext)
	if err != nil {
		return fmt.Errorf("marshal audit context: %w", err)
	}

	_, err = s.db.Exec(ctx, insertSQL,
		event.ID,
		event.Action,
		event.EntityType,
		nullable(event.EntityID),
		nullable(event.ActorID),
		nullable(event.RequestID),
		raw,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first. An empty action matches all.
func (s *Store) ListRecent(ctx context.Context, action string, limit int) ([]audit.Event, error) {
	rows, err := s.db.Query(ctx, listRecentSQL, action, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event audit.Event
			raw   []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.Action,
			&event.EntityType,
			&event.EntityID,
			&event.ActorID,
			&event.RequestID,
			&raw,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &event.Context); err != nil {
				return nil, fmt.Errorf("decode audit context: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
