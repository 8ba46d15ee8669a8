// Package events appends to the store's audit log. Every mutation of parties, runs and
// player restrictions writes one row in the same transaction as the change.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"crewjob/internal/db"
)

// Event types.
const (
	PartyCreated     = "party.created"
	PartyJoined      = "party.joined"
	PartyLeft        = "party.left"
	PartyKicked      = "party.kicked"
	PartyDisbanded   = "party.disbanded"
	JobExecuted      = "job.executed"
	AutoJobSet       = "player.auto_job_set"
	PlayerRestricted = "player.restricted"
	PlayerRegistered = "player.registered"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
