package rig

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"gastown/pkg/protocol"
)

// SendMail inserts an undelivered message from one agent to another and
// emits a mail_sent event. No delivery confirmation is required from
// the recipient. Not idempotent.
func (a *Actor) SendMail(ctx context.Context, fromAgentID, toAgentID, subject, body string) (*protocol.RigMail, error) {
	if fromAgentID == "" {
		return nil, &protocol.ValidationError{Field: "from_agent_id", Reason: "required"}
	}
	if toAgentID == "" {
		return nil, &protocol.ValidationError{Field: "to_agent_id", Reason: "required"}
	}
	if subject == "" {
		return nil, &protocol.ValidationError{Field: "subject", Reason: "required"}
	}
	mail := &protocol.RigMail{
		ID:          uuid.New().String(),
		RigID:       a.id,
		FromAgentID: fromAgentID,
		ToAgentID:   toAgentID,
		Subject:     subject,
		Body:        body,
		CreatedAt:   protocol.FormatTime(a.now()),
	}
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rig_mail (id, rig_id, from_agent_id, to_agent_id, subject, body, delivered, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			mail.ID, a.id, fromAgentID, toAgentID, subject, nullable(body), mail.CreatedAt); err != nil {
			return fmt.Errorf("insert mail: %w", err)
		}
		return a.appendEvent(ctx, tx, "", fromAgentID, protocol.EventMailSent, "", "",
			map[string]any{"subject": subject, "to_agent_id": toAgentID})
	})
	if err != nil {
		return nil, err
	}
	return mail, nil
}

// CheckMail atomically selects every undelivered message addressed to
// agentID, marks it delivered, and returns it. Because the select and
// the mark run in one serialized transaction, concurrent pollers
// partition the inbox: no message is ever returned to two callers, and
// the delivered flag never reverts.
func (a *Actor) CheckMail(ctx context.Context, agentID string) ([]protocol.RigMail, error) {
	if agentID == "" {
		return nil, &protocol.ValidationError{Field: "agent_id", Reason: "required"}
	}
	var delivered []protocol.RigMail
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, rig_id, from_agent_id, to_agent_id, subject, body, delivered, created_at, delivered_at
			FROM rig_mail
			WHERE rig_id = ? AND to_agent_id = ? AND delivered = 0
			ORDER BY created_at ASC, id ASC`, a.id, agentID)
		if err != nil {
			return fmt.Errorf("select undelivered mail: %w", err)
		}
		defer rows.Close()

		deliveredAt := protocol.FormatTime(a.now())
		for rows.Next() {
			var (
				m           protocol.RigMail
				body, dAt   sql.NullString
				deliveredIn int
			)
			if err := rows.Scan(&m.ID, &m.RigID, &m.FromAgentID, &m.ToAgentID, &m.Subject, &body, &deliveredIn, &m.CreatedAt, &dAt); err != nil {
				return fmt.Errorf("scan mail: %w", err)
			}
			m.Body = strOrEmpty(body)
			m.Delivered = true
			m.DeliveredAt = deliveredAt
			delivered = append(delivered, m)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate mail: %w", err)
		}

		for _, m := range delivered {
			if _, err := tx.ExecContext(ctx,
				`UPDATE rig_mail SET delivered = 1, delivered_at = ? WHERE id = ? AND delivered = 0`,
				deliveredAt, m.ID); err != nil {
				return fmt.Errorf("mark mail delivered: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delivered, nil
}
