package rig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gastown/pkg/protocol"
)

// CreateConvoy inserts a new active convoy with zero members. Beads
// join at creation time via CreateBeadParams.ConvoyID.
func (a *Actor) CreateConvoy(ctx context.Context, title, createdBy string) (*protocol.Convoy, error) {
	if title == "" {
		return nil, &protocol.ValidationError{Field: "title", Reason: "required"}
	}
	convoy := &protocol.Convoy{
		ID:        uuid.New().String(),
		RigID:     a.id,
		Title:     title,
		Status:    protocol.ConvoyActive,
		CreatedBy: createdBy,
		CreatedAt: protocol.FormatTime(a.now()),
	}
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO convoys (id, rig_id, title, status, total_beads, closed_beads, created_by, created_at)
			VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
			convoy.ID, a.id, convoy.Title, string(convoy.Status), nullable(convoy.CreatedBy), convoy.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert convoy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convoy, nil
}

// GetConvoy returns one convoy by id.
func (a *Actor) GetConvoy(ctx context.Context, convoyID string) (*protocol.Convoy, error) {
	return getConvoyTx(ctx, a.db, a.id, convoyID)
}

func getConvoyTx(ctx context.Context, q querier, rigID, convoyID string) (*protocol.Convoy, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, rig_id, title, status, total_beads, closed_beads, created_by, created_at, landed_at
		FROM convoys WHERE id = ? AND rig_id = ?`, convoyID, rigID)
	var (
		c                   protocol.Convoy
		createdBy, landedAt sql.NullString
	)
	err := row.Scan(&c.ID, &c.RigID, &c.Title, &c.Status, &c.TotalBeads, &c.ClosedBeads, &createdBy, &c.CreatedAt, &landedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.NotFoundError{Entity: "convoy", ID: convoyID}
	}
	if err != nil {
		return nil, fmt.Errorf("scan convoy: %w", err)
	}
	c.CreatedBy = strOrEmpty(createdBy)
	c.LandedAt = strOrEmpty(landedAt)
	return &c, nil
}
