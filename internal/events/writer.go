package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Writer appends audit events inside the caller's transaction so an
// event is recorded iff the mutation it describes commits.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if evtType == "" {
		return errors.New("event type is required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	data := []byte("{}")
	if len(payload) > 0 {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json)
		 VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, orNull(projectID), entityKind, orNull(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
