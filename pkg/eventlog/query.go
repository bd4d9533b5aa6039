// Package eventlog provides read-only access to the gastown event log.
// It enables querying bead events across rigs for display in
// gastown-dash and the logs command, without going through rig actors.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"gastown/pkg/protocol"
)

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// RigID filters events to a specific rig.
	RigID string

	// BeadID filters events to a specific bead.
	BeadID string

	// AgentID filters to events recorded by a specific agent.
	AgentID string

	// EventType filters to a specific event type (e.g. "closed", "escalated").
	EventType string

	// After filters to events created strictly after this timestamp
	// (TimestampLayout, exclusive).
	After string

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Reader provides read-only access to the event log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the gastown SQLite database in read-only mode with WAL.
// Returns an error if the database doesn't exist or cannot be opened.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	// Read-only with WAL so the server's writes are never blocked.
	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Reader{db: db}, nil
}

// NewReaderOn wraps an already-open database handle. The caller keeps
// ownership of the handle.
func NewReaderOn(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Close releases the database connection.
// Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Query retrieves events matching the given filter criteria in
// chronological order. Returns an empty slice if no events match.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]protocol.BeadEvent, error) {
	query, args := buildQuery(opts, false)
	return r.run(ctx, query, args)
}

// Tail returns the newest limit events matching opts, in chronological
// order (oldest of the batch first).
func (r *Reader) Tail(ctx context.Context, opts QueryOpts, limit int) ([]protocol.BeadEvent, error) {
	tailOpts := opts
	tailOpts.Limit = limit
	query, args := buildQuery(tailOpts, true)
	events, err := r.run(ctx, query, args)
	if err != nil {
		return nil, err
	}
	// The query returned newest first; flip back to chronological.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (r *Reader) run(ctx context.Context, query string, args []any) ([]protocol.BeadEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []protocol.BeadEvent
	for rows.Next() {
		var (
			e        protocol.BeadEvent
			beadID   sql.NullString
			agentID  sql.NullString
			oldValue sql.NullString
			newValue sql.NullString
			metaJSON sql.NullString
		)
		err := rows.Scan(&e.ID, &e.RigID, &beadID, &agentID, &e.Type, &oldValue, &newValue, &metaJSON, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.BeadID = beadID.String
		e.AgentID = agentID.String
		e.OldValue = oldValue.String
		e.NewValue = newValue.String
		if metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
// newestFirst flips the sort so LIMIT keeps the most recent rows.
func buildQuery(opts QueryOpts, newestFirst bool) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, rig_id, bead_id, agent_id, event_type, old_value, new_value, metadata, created_at FROM bead_events WHERE 1=1"

	if opts.RigID != "" {
		conditions = append(conditions, "rig_id = ?")
		args = append(args, opts.RigID)
	}
	if opts.BeadID != "" {
		conditions = append(conditions, "bead_id = ?")
		args = append(args, opts.BeadID)
	}
	if opts.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, opts.EventType)
	}
	if opts.After != "" {
		conditions = append(conditions, "created_at > ?")
		args = append(args, opts.After)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	if newestFirst {
		query += " ORDER BY created_at DESC, id DESC"
	} else {
		query += " ORDER BY created_at ASC, id ASC"
	}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}

// DefaultDBPath returns the default path to the gastown database.
func DefaultDBPath() string {
	if v := os.Getenv("GASTOWN_DB_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gastown", "gastown.db")
}
