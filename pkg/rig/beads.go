package rig

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gastown/pkg/protocol"
)

// CreateBeadParams carries the caller-supplied fields for a new bead.
type CreateBeadParams struct {
	Type     string
	Title    string
	Body     string
	Priority protocol.BeadPriority
	Labels   []string
	ConvoyID string
	AgentID  string // creator, recorded on the created event
}

// CreateBead inserts a new bead in open status and emits a created
// event. Not idempotent: a retry creates a second bead.
func (a *Actor) CreateBead(ctx context.Context, p CreateBeadParams) (*protocol.Bead, error) {
	if p.Title == "" {
		return nil, &protocol.ValidationError{Field: "title", Reason: "required"}
	}
	if p.Type == "" {
		p.Type = "task"
	}
	if p.Priority == "" {
		p.Priority = protocol.PriorityMedium
	}
	if !protocol.ValidPriority(p.Priority) {
		return nil, &protocol.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", p.Priority)}
	}

	bead := &protocol.Bead{
		ID:        uuid.New().String(),
		RigID:     a.id,
		Type:      p.Type,
		Title:     p.Title,
		Body:      p.Body,
		Status:    protocol.BeadOpen,
		Priority:  p.Priority,
		Labels:    p.Labels,
		ConvoyID:  p.ConvoyID,
		CreatedAt: protocol.FormatTime(a.now()),
	}
	labels, err := json.Marshal(bead.Labels)
	if err != nil {
		return nil, fmt.Errorf("marshal labels: %w", err)
	}

	err = a.mutate(ctx, func(tx *sql.Tx) error {
		if bead.ConvoyID != "" {
			// Joining a convoy grows its denominator in the same
			// transaction that creates the member.
			convoy, err := getConvoyTx(ctx, tx, a.id, bead.ConvoyID)
			if err != nil {
				return err
			}
			if convoy.Status == protocol.ConvoyLanded {
				return &protocol.InvalidTransitionError{Entity: "convoy", ID: convoy.ID, From: string(convoy.Status), To: string(convoy.Status)}
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE convoys SET total_beads = total_beads + 1 WHERE id = ?`, convoy.ID); err != nil {
				return fmt.Errorf("grow convoy: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO beads (id, rig_id, type, title, body, status, priority, labels, convoy_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			bead.ID, a.id, bead.Type, bead.Title, nullable(bead.Body), string(bead.Status),
			string(bead.Priority), string(labels), nullable(bead.ConvoyID), bead.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert bead: %w", err)
		}
		meta := map[string]any{"title": bead.Title, "priority": string(bead.Priority)}
		if bead.ConvoyID != "" {
			meta["convoy_id"] = bead.ConvoyID
		}
		return a.appendEvent(ctx, tx, bead.ID, p.AgentID, protocol.EventCreated, "", string(protocol.BeadOpen), meta)
	})
	if err != nil {
		return nil, err
	}
	return bead, nil
}

// GetBead returns one bead by id.
func (a *Actor) GetBead(ctx context.Context, beadID string) (*protocol.Bead, error) {
	return a.getBead(ctx, a.db, beadID)
}

// ListBeads returns the rig's beads, optionally filtered by status,
// newest first.
func (a *Actor) ListBeads(ctx context.Context, status protocol.BeadStatus) ([]protocol.Bead, error) {
	query := `SELECT id, rig_id, type, title, body, status, priority, assignee, labels, convoy_id, created_at, closed_at
		FROM beads WHERE rig_id = ?`
	args := []any{a.id}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list beads: %w", err)
	}
	defer rows.Close()

	var beads []protocol.Bead
	for rows.Next() {
		b, err := scanBead(rows)
		if err != nil {
			return nil, err
		}
		beads = append(beads, *b)
	}
	return beads, rows.Err()
}

// HookBead assigns an open bead to an agent and moves it to
// in_progress. Hooking a bead that is not open fails with
// InvalidTransition, including re-hooking: silently replacing the
// current assignee would lose work attribution.
func (a *Actor) HookBead(ctx context.Context, beadID, agentID string) (*protocol.Bead, error) {
	if agentID == "" {
		return nil, &protocol.ValidationError{Field: "agent_id", Reason: "required"}
	}
	var bead *protocol.Bead
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		b, err := a.getBead(ctx, tx, beadID)
		if err != nil {
			return err
		}
		if b.Status != protocol.BeadOpen {
			return &protocol.InvalidTransitionError{Entity: "bead", ID: beadID, From: string(b.Status), To: string(protocol.BeadInProgress)}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE beads SET status = ?, assignee = ? WHERE id = ?`,
			string(protocol.BeadInProgress), agentID, beadID); err != nil {
			return fmt.Errorf("hook bead: %w", err)
		}
		b.Status = protocol.BeadInProgress
		b.Assignee = agentID
		bead = b
		return a.appendEvent(ctx, tx, beadID, agentID, protocol.EventHooked,
			string(protocol.BeadOpen), string(protocol.BeadInProgress),
			map[string]any{"assignee": agentID})
	})
	if err != nil {
		return nil, err
	}
	return bead, nil
}

// UnhookBead releases an in_progress bead back to open and clears its
// assignee.
func (a *Actor) UnhookBead(ctx context.Context, beadID string) (*protocol.Bead, error) {
	var bead *protocol.Bead
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		b, err := a.getBead(ctx, tx, beadID)
		if err != nil {
			return err
		}
		if b.Status != protocol.BeadInProgress {
			return &protocol.InvalidTransitionError{Entity: "bead", ID: beadID, From: string(b.Status), To: string(protocol.BeadOpen)}
		}
		previous := b.Assignee
		if _, err := tx.ExecContext(ctx,
			`UPDATE beads SET status = ?, assignee = NULL WHERE id = ?`,
			string(protocol.BeadOpen), beadID); err != nil {
			return fmt.Errorf("unhook bead: %w", err)
		}
		b.Status = protocol.BeadOpen
		b.Assignee = ""
		bead = b
		return a.appendEvent(ctx, tx, beadID, previous, protocol.EventUnhooked,
			string(protocol.BeadInProgress), string(protocol.BeadOpen),
			map[string]any{"previous_assignee": previous})
	})
	if err != nil {
		return nil, err
	}
	return bead, nil
}

// ChangeBeadStatus applies a generic guarded transition and emits a
// status_changed event. Assignment bookkeeping follows the edge:
// leaving in_progress clears the assignee, entering closed stamps
// closed_at.
func (a *Actor) ChangeBeadStatus(ctx context.Context, beadID string, next protocol.BeadStatus) (*protocol.Bead, error) {
	var bead *protocol.Bead
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		b, err := a.getBead(ctx, tx, beadID)
		if err != nil {
			return err
		}
		if !protocol.CanTransition(b.Status, next) {
			return &protocol.InvalidTransitionError{Entity: "bead", ID: beadID, From: string(b.Status), To: string(next)}
		}
		old := b.Status
		switch next {
		case protocol.BeadClosed:
			return a.closeBeadTx(ctx, tx, b, "", protocol.EventStatusChanged)
		case protocol.BeadOpen:
			if _, err := tx.ExecContext(ctx,
				`UPDATE beads SET status = ?, assignee = NULL WHERE id = ?`, string(next), beadID); err != nil {
				return fmt.Errorf("change bead status: %w", err)
			}
			b.Assignee = ""
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE beads SET status = ? WHERE id = ?`, string(next), beadID); err != nil {
				return fmt.Errorf("change bead status: %w", err)
			}
		}
		b.Status = next
		bead = b
		return a.appendEvent(ctx, tx, beadID, "", protocol.EventStatusChanged, string(old), string(next), nil)
	})
	if err != nil {
		return nil, err
	}
	if bead == nil {
		// Close path: re-read outside the finished transaction.
		return a.GetBead(ctx, beadID)
	}
	return bead, nil
}

// CloseBead closes a bead from open or in_progress, stamping closed_at.
// If the bead belongs to a convoy, the convoy's closed count advances
// in the same transaction, landing the convoy when the last member
// closes.
func (a *Actor) CloseBead(ctx context.Context, beadID, agentID string) (*protocol.Bead, error) {
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		b, err := a.getBead(ctx, tx, beadID)
		if err != nil {
			return err
		}
		if b.Status == protocol.BeadClosed {
			return &protocol.InvalidTransitionError{Entity: "bead", ID: beadID, From: string(b.Status), To: string(protocol.BeadClosed)}
		}
		return a.closeBeadTx(ctx, tx, b, agentID, protocol.EventClosed)
	})
	if err != nil {
		return nil, err
	}
	return a.GetBead(ctx, beadID)
}

// closeBeadTx performs the close inside an open transaction: status,
// closed_at, convoy accounting, and the event row. eventType is
// EventClosed for CloseBead and EventStatusChanged for the generic
// transition path.
func (a *Actor) closeBeadTx(ctx context.Context, tx *sql.Tx, b *protocol.Bead, agentID string, eventType protocol.EventType) error {
	closedAt := protocol.FormatTime(a.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE beads SET status = ?, closed_at = ? WHERE id = ?`,
		string(protocol.BeadClosed), closedAt, b.ID); err != nil {
		return fmt.Errorf("close bead: %w", err)
	}

	var meta map[string]any
	if eventType == protocol.EventClosed {
		meta = map[string]any{}
	}
	if b.ConvoyID != "" {
		landed, err := a.advanceConvoyTx(ctx, tx, b.ConvoyID, closedAt)
		if err != nil {
			return err
		}
		if eventType == protocol.EventClosed {
			meta["convoy_id"] = b.ConvoyID
			meta["convoy_landed"] = landed
		}
	}
	return a.appendEvent(ctx, tx, b.ID, agentID, eventType, string(b.Status), string(protocol.BeadClosed), meta)
}

// advanceConvoyTx bumps a convoy's closed count and lands it when the
// count reaches the total. Returns whether this call landed the convoy.
func (a *Actor) advanceConvoyTx(ctx context.Context, tx *sql.Tx, convoyID, when string) (bool, error) {
	convoy, err := getConvoyTx(ctx, tx, a.id, convoyID)
	if err != nil {
		return false, err
	}
	if convoy.ClosedBeads >= convoy.TotalBeads {
		// Counter already saturated; nothing to advance. Guards the
		// closed_beads <= total_beads invariant against double close.
		return false, nil
	}
	convoy.ClosedBeads++
	if convoy.ClosedBeads == convoy.TotalBeads && convoy.Status == protocol.ConvoyActive {
		if _, err := tx.ExecContext(ctx,
			`UPDATE convoys SET closed_beads = ?, status = ?, landed_at = ? WHERE id = ?`,
			convoy.ClosedBeads, string(protocol.ConvoyLanded), when, convoyID); err != nil {
			return false, fmt.Errorf("land convoy: %w", err)
		}
		return true, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE convoys SET closed_beads = ? WHERE id = ?`, convoy.ClosedBeads, convoyID); err != nil {
		return false, fmt.Errorf("advance convoy: %w", err)
	}
	return false, nil
}

// querier abstracts *sql.DB and *sql.Tx for reads that run either
// inside or outside a mutation.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (a *Actor) getBead(ctx context.Context, q querier, beadID string) (*protocol.Bead, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, rig_id, type, title, body, status, priority, assignee, labels, convoy_id, created_at, closed_at
		FROM beads WHERE id = ? AND rig_id = ?`, beadID, a.id)
	b, err := scanBead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.NotFoundError{Entity: "bead", ID: beadID}
	}
	return b, err
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBead(row rowScanner) (*protocol.Bead, error) {
	var (
		b                                  protocol.Bead
		body, assignee, convoyID, closedAt sql.NullString
		labels                             string
	)
	err := row.Scan(&b.ID, &b.RigID, &b.Type, &b.Title, &body, &b.Status, &b.Priority,
		&assignee, &labels, &convoyID, &b.CreatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	b.Body = strOrEmpty(body)
	b.Assignee = strOrEmpty(assignee)
	b.ConvoyID = strOrEmpty(convoyID)
	b.ClosedAt = strOrEmpty(closedAt)
	if labels != "" && labels != "[]" && labels != "null" {
		if err := json.Unmarshal([]byte(labels), &b.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels for bead %s: %w", b.ID, err)
		}
	}
	return &b, nil
}
