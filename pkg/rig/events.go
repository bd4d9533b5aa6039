package rig

import (
	"context"
	"database/sql"
	"fmt"

	"gastown/pkg/protocol"
)

// Event listing bounds. Callers asking for more than MaxEventLimit are
// clamped, not rejected.
const (
	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

// ListBeadEvents returns the rig's events with created_at strictly
// after since (all events if since is empty), ascending by
// (created_at, id), capped at limit. The log is append-only, so a
// repeated call with the same since returns a stable prefix of any
// later call.
func (a *Actor) ListBeadEvents(ctx context.Context, since string, limit int) ([]protocol.BeadEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}

	query := `SELECT id, rig_id, bead_id, agent_id, event_type, old_value, new_value, metadata, created_at
		FROM bead_events WHERE rig_id = ?`
	args := []any{a.id}
	if since != "" {
		query += ` AND created_at > ?`
		args = append(args, since)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &protocol.ActorUnavailableError{RigID: a.id, Reason: fmt.Sprintf("query events: %v", err)}
	}
	defer rows.Close()

	var events []protocol.BeadEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (*protocol.BeadEvent, error) {
	var (
		e                            protocol.BeadEvent
		beadID, agentID, oldV, newV  sql.NullString
		metadata                     sql.NullString
	)
	err := row.Scan(&e.ID, &e.RigID, &beadID, &agentID, &e.Type, &oldV, &newV, &metadata, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.BeadID = strOrEmpty(beadID)
	e.AgentID = strOrEmpty(agentID)
	e.OldValue = strOrEmpty(oldV)
	e.NewValue = strOrEmpty(newV)
	meta, err := protocol.DecodeMetadata(strOrEmpty(metadata))
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", e.ID, err)
	}
	e.Metadata = meta
	return &e, nil
}
