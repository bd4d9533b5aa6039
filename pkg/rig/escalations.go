package rig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gastown/pkg/protocol"
)

// CreateEscalation raises a human-facing alert. If an unacknowledged
// escalation with the same category already exists for this rig, its
// re_escalation_count is bumped and the existing row is returned
// instead of inserting a duplicate. Acknowledged rows do not dedup:
// the next raise of that category starts a fresh row at count zero.
// Emits an escalated event either way.
func (a *Actor) CreateEscalation(ctx context.Context, severity protocol.EscalationSeverity, category, message, sourceAgentID string) (*protocol.Escalation, error) {
	if category == "" {
		return nil, &protocol.ValidationError{Field: "category", Reason: "required"}
	}
	if message == "" {
		return nil, &protocol.ValidationError{Field: "message", Reason: "required"}
	}
	if severity == "" {
		severity = protocol.SeverityMedium
	}
	if !protocol.ValidSeverity(severity) {
		return nil, &protocol.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", severity)}
	}

	var result *protocol.Escalation
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		existing, err := a.findOpenEscalation(ctx, tx, category)
		if err != nil && !errors.As(err, new(*protocol.NotFoundError)) {
			return err
		}
		if existing != nil {
			existing.ReEscalationCount++
			if _, err := tx.ExecContext(ctx,
				`UPDATE escalations SET re_escalation_count = ? WHERE id = ?`,
				existing.ReEscalationCount, existing.ID); err != nil {
				return fmt.Errorf("bump re-escalation count: %w", err)
			}
			result = existing
		} else {
			result = &protocol.Escalation{
				ID:            uuid.New().String(),
				RigID:         a.id,
				SourceAgentID: sourceAgentID,
				Severity:      severity,
				Category:      category,
				Message:       message,
				CreatedAt:     protocol.FormatTime(a.now()),
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO escalations (id, rig_id, source_agent_id, severity, category, message, acknowledged, re_escalation_count, created_at)
				VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)`,
				result.ID, a.id, nullable(sourceAgentID), string(severity), category, message, result.CreatedAt); err != nil {
				return fmt.Errorf("insert escalation: %w", err)
			}
		}
		return a.appendEvent(ctx, tx, "", sourceAgentID, protocol.EventEscalated, "", category,
			map[string]any{
				"category":            result.Category,
				"severity":            string(result.Severity),
				"re_escalation_count": result.ReEscalationCount,
			})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AcknowledgeEscalation marks an escalation acknowledged. Idempotent:
// acknowledging an already-acknowledged escalation is a no-op.
func (a *Actor) AcknowledgeEscalation(ctx context.Context, escalationID string) (*protocol.Escalation, error) {
	var result *protocol.Escalation
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		esc, err := a.getEscalation(ctx, tx, escalationID)
		if err != nil {
			return err
		}
		if esc.Acknowledged {
			result = esc
			return nil
		}
		esc.Acknowledged = true
		esc.AcknowledgedAt = protocol.FormatTime(a.now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE escalations SET acknowledged = 1, acknowledged_at = ? WHERE id = ?`,
			esc.AcknowledgedAt, escalationID); err != nil {
			return fmt.Errorf("acknowledge escalation: %w", err)
		}
		result = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListEscalations returns the rig's escalations, unacknowledged first,
// newest first within each group.
func (a *Actor) ListEscalations(ctx context.Context) ([]protocol.Escalation, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, rig_id, source_agent_id, severity, category, message, acknowledged, re_escalation_count, created_at, acknowledged_at
		FROM escalations WHERE rig_id = ?
		ORDER BY acknowledged ASC, created_at DESC, id DESC`, a.id)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var escalations []protocol.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, *e)
	}
	return escalations, rows.Err()
}

func (a *Actor) findOpenEscalation(ctx context.Context, q querier, category string) (*protocol.Escalation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, rig_id, source_agent_id, severity, category, message, acknowledged, re_escalation_count, created_at, acknowledged_at
		FROM escalations
		WHERE rig_id = ? AND category = ? AND acknowledged = 0
		ORDER BY created_at ASC LIMIT 1`, a.id, category)
	e, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.NotFoundError{Entity: "escalation", ID: category}
	}
	return e, err
}

func (a *Actor) getEscalation(ctx context.Context, q querier, escalationID string) (*protocol.Escalation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, rig_id, source_agent_id, severity, category, message, acknowledged, re_escalation_count, created_at, acknowledged_at
		FROM escalations WHERE id = ? AND rig_id = ?`, escalationID, a.id)
	e, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.NotFoundError{Entity: "escalation", ID: escalationID}
	}
	return e, err
}

func scanEscalation(row rowScanner) (*protocol.Escalation, error) {
	var (
		e               protocol.Escalation
		sourceAgent, at sql.NullString
		acknowledged    int
	)
	err := row.Scan(&e.ID, &e.RigID, &sourceAgent, &e.Severity, &e.Category, &e.Message,
		&acknowledged, &e.ReEscalationCount, &e.CreatedAt, &at)
	if err != nil {
		return nil, err
	}
	e.SourceAgentID = strOrEmpty(sourceAgent)
	e.Acknowledged = acknowledged != 0
	e.AcknowledgedAt = strOrEmpty(at)
	return &e, nil
}
