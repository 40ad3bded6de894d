package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends rows to the events table inside the caller's transaction.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is one row of the event log before it is written.
type Entry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

func (e Entry) validate() error {
	if !Known(e.Type) {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	switch e.EntityKind {
	case KindProject, KindTask, KindLink:
	default:
		return fmt.Errorf("unknown entity kind %q", e.EntityKind)
	}
	return nil
}

// Record writes e and returns the id assigned to the row. An empty actor is
// recorded as "system".
func (w Writer) Record(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("record %s: transaction required", e.Type)
	}
	if err := e.validate(); err != nil {
		return 0, err
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if e.ActorID == "" {
		e.ActorID = "system"
	}
	if e.Payload == nil {
		e.Payload = EventPayload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), e.Type, orNull(e.ProjectID), e.EntityKind, orNull(e.EntityID), e.ActorID, string(data))
	if err != nil {
		return 0, fmt.Errorf("insert %s event: %w", e.Type, err)
	}
	return res.LastInsertId()
}

// Append is Record for callers that do not need the event id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	_, err := w.Record(ctx, tx, Entry{
		Type:       evtType,
		ProjectID:  projectID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    payload,
	})
	return err
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
