package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended for accepted mutations.
const (
	ActCreated               = "act.created"
	ActUpdated               = "act.updated"
	ActStatus                = "act.status"
	ActDeleted               = "act.deleted"
	ActSuperseded            = "act.superseded"
	RelationshipConnected    = "relationship.connected"
	RelationshipDisconnected = "relationship.disconnected"
	RelationshipRepointed    = "relationship.repointed"
	ParticipationAttached    = "participation.attached"
	ParticipationDetached    = "participation.detached"
	GraphImported            = "graph.imported"
)

type EventPayload map[string]any

// Event is one journal entry.
type Event struct {
	ID         int64        `json:"id"`
	TS         string       `json:"ts"`
	Type       string       `json:"type"`
	EntityKind string       `json:"entity_kind"`
	EntityID   string       `json:"entity_id,omitempty"`
	ActorID    string       `json:"actor_id"`
	Payload    EventPayload `json:"payload"`
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	if actorID == "" {
		actorID = "system"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

// Record appends evt in its own transaction. The engine calls it before
// publishing a mutation, so a failed append leaves the graph untouched.
func (w Writer) Record(ctx context.Context, evt Event) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID, evt.Payload); err != nil {
		return fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
