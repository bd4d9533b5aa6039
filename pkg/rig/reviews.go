package rig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gastown/pkg/protocol"
)

// SubmitReview enqueues a pending code-review entry for a bead and
// emits a review_submitted event. A bead may accumulate entries over
// its lifetime (a failed review can be resubmitted), but at most one
// entry may be non-terminal at a time; a second concurrent submission
// fails with Conflict.
func (a *Actor) SubmitReview(ctx context.Context, agentID, beadID, branch, prURL, summary string) (*protocol.ReviewQueueEntry, error) {
	if agentID == "" {
		return nil, &protocol.ValidationError{Field: "agent_id", Reason: "required"}
	}
	if branch == "" {
		return nil, &protocol.ValidationError{Field: "branch", Reason: "required"}
	}
	entry := &protocol.ReviewQueueEntry{
		ID:        uuid.New().String(),
		RigID:     a.id,
		AgentID:   agentID,
		BeadID:    beadID,
		Branch:    branch,
		PRURL:     prURL,
		Status:    protocol.ReviewPending,
		Summary:   summary,
		CreatedAt: protocol.FormatTime(a.now()),
	}
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := a.getBead(ctx, tx, beadID); err != nil {
			return err
		}
		var open int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM review_queue WHERE rig_id = ? AND bead_id = ? AND status IN (?, ?)`,
			a.id, beadID, string(protocol.ReviewPending), string(protocol.ReviewRunning)).Scan(&open); err != nil {
			return fmt.Errorf("count open reviews: %w", err)
		}
		if open > 0 {
			return &protocol.ConflictError{Entity: "review", Detail: fmt.Sprintf("bead %s already has a non-terminal review entry", beadID)}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO review_queue (id, rig_id, agent_id, bead_id, branch, pr_url, status, summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, a.id, agentID, beadID, branch, nullable(prURL), string(entry.Status), nullable(summary), entry.CreatedAt); err != nil {
			return fmt.Errorf("insert review entry: %w", err)
		}
		return a.appendEvent(ctx, tx, beadID, agentID, protocol.EventReviewSubmitted, "", string(protocol.ReviewPending),
			map[string]any{"branch": branch, "entry_id": entry.ID})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AdvanceReview moves a review entry forward along
// pending → running → {merged, failed}. Entering a terminal status
// stamps processed_at. Backward or skipping transitions fail with
// InvalidTransition. Emits a review_completed event carrying the
// outcome.
func (a *Actor) AdvanceReview(ctx context.Context, entryID string, next protocol.ReviewStatus) (*protocol.ReviewQueueEntry, error) {
	var result *protocol.ReviewQueueEntry
	err := a.mutate(ctx, func(tx *sql.Tx) error {
		entry, err := a.getReview(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if !protocol.CanAdvanceReview(entry.Status, next) {
			return &protocol.InvalidTransitionError{Entity: "review", ID: entryID, From: string(entry.Status), To: string(next)}
		}
		old := entry.Status
		entry.Status = next
		if protocol.TerminalReview(next) {
			entry.ProcessedAt = protocol.FormatTime(a.now())
			if _, err := tx.ExecContext(ctx,
				`UPDATE review_queue SET status = ?, processed_at = ? WHERE id = ?`,
				string(next), entry.ProcessedAt, entryID); err != nil {
				return fmt.Errorf("advance review: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE review_queue SET status = ? WHERE id = ?`, string(next), entryID); err != nil {
				return fmt.Errorf("advance review: %w", err)
			}
		}
		result = entry
		return a.appendEvent(ctx, tx, entry.BeadID, entry.AgentID, protocol.EventReviewCompleted,
			string(old), string(next),
			map[string]any{"entry_id": entryID, "outcome": string(next)})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListReviews returns the rig's review entries, newest first,
// optionally filtered by status.
func (a *Actor) ListReviews(ctx context.Context, status protocol.ReviewStatus) ([]protocol.ReviewQueueEntry, error) {
	query := `SELECT id, rig_id, agent_id, bead_id, branch, pr_url, status, summary, created_at, processed_at
		FROM review_queue WHERE rig_id = ?`
	args := []any{a.id}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var entries []protocol.ReviewQueueEntry
	for rows.Next() {
		e, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (a *Actor) getReview(ctx context.Context, q querier, entryID string) (*protocol.ReviewQueueEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, rig_id, agent_id, bead_id, branch, pr_url, status, summary, created_at, processed_at
		FROM review_queue WHERE id = ? AND rig_id = ?`, entryID, a.id)
	e, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.NotFoundError{Entity: "review", ID: entryID}
	}
	return e, err
}

func scanReview(row rowScanner) (*protocol.ReviewQueueEntry, error) {
	var (
		e                           protocol.ReviewQueueEntry
		prURL, summary, processedAt sql.NullString
	)
	err := row.Scan(&e.ID, &e.RigID, &e.AgentID, &e.BeadID, &e.Branch, &prURL, &e.Status, &summary, &e.CreatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	e.PRURL = strOrEmpty(prURL)
	e.Summary = strOrEmpty(summary)
	e.ProcessedAt = strOrEmpty(processedAt)
	return &e, nil
}
