package rig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gastown/pkg/protocol"
)

// PrimeResult is the orientation snapshot an agent receives when it
// starts (or resumes) work in a rig.
type PrimeResult struct {
	RigID       string         `json:"rig_id"`
	RigName     string         `json:"rig_name"`
	Bead        *protocol.Bead `json:"bead,omitempty"` // the agent's in-progress bead, if any
	MailWaiting int            `json:"mail_waiting"`   // undelivered messages addressed to the agent
}

// Prime orients an agent: its current in-progress bead (if any) and
// how much mail is waiting. The first prime an agent ever issues in a
// rig emits an agent_spawned event; later primes are read-mostly.
func (a *Actor) Prime(ctx context.Context, agentID string) (*PrimeResult, error) {
	if agentID == "" {
		return nil, &protocol.ValidationError{Field: "agent_id", Reason: "required"}
	}
	result := &PrimeResult{RigID: a.id, RigName: a.name}
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, rig_id, type, title, body, status, priority, assignee, labels, convoy_id, created_at, closed_at
			FROM beads WHERE rig_id = ? AND assignee = ? AND status = ?
			ORDER BY created_at ASC LIMIT 1`, a.id, agentID, string(protocol.BeadInProgress))
		bead, err := scanBead(row)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		result.Bead = bead

		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM rig_mail WHERE rig_id = ? AND to_agent_id = ? AND delivered = 0`,
			a.id, agentID).Scan(&result.MailWaiting); err != nil {
			return fmt.Errorf("count waiting mail: %w", err)
		}

		var spawned int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM bead_events WHERE rig_id = ? AND agent_id = ? AND event_type = ?`,
			a.id, agentID, string(protocol.EventAgentSpawned)).Scan(&spawned); err != nil {
			return fmt.Errorf("check prior spawn: %w", err)
		}
		if spawned == 0 {
			return a.appendEvent(ctx, tx, "", agentID, protocol.EventAgentSpawned, "", "", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Done records that an agent finished its work: the bead is closed if
// still open or in progress (an already-closed bead is left alone), and
// an agent_exited event is appended. The close and the exit event share
// one transaction.
func (a *Actor) Done(ctx context.Context, agentID, beadID, summary string) error {
	if agentID == "" {
		return &protocol.ValidationError{Field: "agent_id", Reason: "required"}
	}
	return a.mutate(ctx, func(tx *sql.Tx) error {
		meta := map[string]any{}
		if summary != "" {
			meta["summary"] = summary
		}
		if beadID != "" {
			b, err := a.getBead(ctx, tx, beadID)
			if err != nil {
				return err
			}
			if b.Status != protocol.BeadClosed {
				if err := a.closeBeadTx(ctx, tx, b, agentID, protocol.EventClosed); err != nil {
					return err
				}
			}
			meta["bead_id"] = beadID
		}
		return a.appendEvent(ctx, tx, beadID, agentID, protocol.EventAgentExited, "", "", meta)
	})
}

// WriteCheckpoint persists an agent progress note. Checkpoints are not
// bead/mail/escalation/review state, so no event is appended.
func (a *Actor) WriteCheckpoint(ctx context.Context, agentID, beadID, note string) (*protocol.Checkpoint, error) {
	if agentID == "" {
		return nil, &protocol.ValidationError{Field: "agent_id", Reason: "required"}
	}
	if note == "" {
		return nil, &protocol.ValidationError{Field: "note", Reason: "required"}
	}
	cp := &protocol.Checkpoint{
		ID:        uuid.New().String(),
		RigID:     a.id,
		AgentID:   agentID,
		BeadID:    beadID,
		Note:      note,
		CreatedAt: protocol.FormatTime(a.now()),
	}
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		if beadID != "" {
			if _, err := a.getBead(ctx, tx, beadID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (id, rig_id, agent_id, bead_id, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			cp.ID, a.id, agentID, nullable(beadID), note, cp.CreatedAt); err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// ListCheckpoints returns an agent's checkpoints, newest first.
func (a *Actor) ListCheckpoints(ctx context.Context, agentID string, limit int) ([]protocol.Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, rig_id, agent_id, bead_id, note, created_at
		FROM checkpoints WHERE rig_id = ? AND agent_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, a.id, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []protocol.Checkpoint
	for rows.Next() {
		var (
			cp     protocol.Checkpoint
			beadID sql.NullString
		)
		if err := rows.Scan(&cp.ID, &cp.RigID, &cp.AgentID, &beadID, &cp.Note, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.BeadID = strOrEmpty(beadID)
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}
