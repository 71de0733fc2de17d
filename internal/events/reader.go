package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

type Reader struct {
	DB *sql.DB
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Type       string
	EntityKind string
	EntityID   string
	AfterID    int64
	Limit      int
}

// List returns events in append order.
func (r Reader) List(ctx context.Context, f Filter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		where = append(where, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.AfterID > 0 {
		where = append(where, "id>?")
		args = append(args, f.AfterID)
	}
	q := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return r.query(ctx, q, args...)
}

// Tail returns the latest n events, oldest first.
func (r Reader) Tail(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	evs, err := r.query(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	slices.Reverse(evs)
	return evs, nil
}

func (r Reader) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e        Event
			entityID sql.NullString
			payload  string
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event %d payload: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
