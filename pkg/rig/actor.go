// Package rig implements the single-writer actor that owns one
// workspace's state: its beads, convoys, mail, escalations, review
// queue, checkpoints, and append-only event log.
//
// Every mutating operation acquires the actor's mutex, runs inside one
// SQLite transaction, and appends exactly one event row in that same
// transaction. Concurrent callers against the same rig are therefore
// strictly serialized; callers against different rigs share nothing but
// the database handle. An error aborts the transaction with no partial
// state change.
package rig

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gastown/pkg/protocol"
)

// Actor is the exclusive owner of one rig's state. Obtain instances
// through the town registry, which guarantees at most one Actor per rig
// id per process.
type Actor struct {
	id   string
	name string

	mu sync.Mutex
	db *sql.DB

	// now is swappable for tests that need deterministic timestamps.
	now func() time.Time
}

// New creates an actor for the given rig. The db handle is shared
// across actors; serialization per rig comes from the actor's mutex,
// not from the database.
func New(id, name string, db *sql.DB) *Actor {
	return &Actor{id: id, name: name, db: db, now: time.Now}
}

// ID returns the rig id this actor owns.
func (a *Actor) ID() string { return a.id }

// Name returns the rig's registry name.
func (a *Actor) Name() string { return a.name }

// SetClock replaces the actor's time source. Test hook.
func (a *Actor) SetClock(now func() time.Time) { a.now = now }

// mutate runs fn inside the actor's critical section and one
// transaction. fn must route every read and write through tx so the
// state change and its event commit or abort together.
func (a *Actor) mutate(ctx context.Context, fn func(tx *sql.Tx) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return &protocol.ActorUnavailableError{RigID: a.id, Reason: err.Error()}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &protocol.ActorUnavailableError{RigID: a.id, Reason: fmt.Sprintf("commit: %v", err)}
	}
	return nil
}

// appendEvent writes one event log row within tx. beadID and agentID
// may be empty for events that do not concern a specific bead or agent.
func (a *Actor) appendEvent(ctx context.Context, tx *sql.Tx, beadID, agentID string, typ protocol.EventType, oldValue, newValue string, meta map[string]any) error {
	encoded, err := protocol.EncodeMetadata(typ, meta)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bead_events (rig_id, bead_id, agent_id, event_type, old_value, new_value, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.id, nullable(beadID), nullable(agentID), string(typ), nullable(oldValue), nullable(newValue), encoded, protocol.FormatTime(a.now()),
	)
	if err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	return nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// strOrEmpty unwraps a nullable text column.
func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
