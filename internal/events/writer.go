// Package events appends to the audit log that webhooks are fed from.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	ShareCreated          = "share.created"
	ShareRevoked          = "share.revoked"
	CommentAdded          = "comment.added"
	SubmissionCreated     = "submission.created"
	SubmissionReviewed    = "submission.reviewed"
	SubmissionResubmitted = "submission.resubmitted"
	SubmissionSignedOff   = "submission.signed_off"
)

// Types lists every event type the log can hold.
func Types() []string {
	return []string{ShareCreated, ShareRevoked, CommentAdded, SubmissionCreated, SubmissionReviewed, SubmissionResubmitted, SubmissionSignedOff}
}

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Record is one row to append. ShareID is empty for owner-side actions.
type Record struct {
	Type       string
	ShareID    string
	EntityKind string
	EntityID   string
	Actor      string
	Payload    Payload
}

// Append writes rec inside tx so the event commits with the change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	payload := rec.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,share_id,entity_kind,entity_id,actor,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), rec.Type, nullable(rec.ShareID), rec.EntityKind, nullable(rec.EntityID), rec.Actor, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", rec.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
