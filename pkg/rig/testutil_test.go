package rig_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"gastown/pkg/protocol"
	"gastown/pkg/rig"
)

// newTestActor opens a fresh SQLite database in a temp dir, applies the
// schema, registers one rig row, and returns its actor.
func newTestActor(t *testing.T) *rig.Actor {
	t.Helper()
	db := newTestDB(t)
	return newActorOn(t, db, "rig-1", "svc")
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gastown.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("set WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		t.Fatalf("set busy_timeout: %v", err)
	}
	if _, err := db.Exec(protocol.SchemaDDL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO towns (id, owner_id, name, created_at) VALUES ('town-1', 'user-1', 'testtown', ?)`, protocol.Now()); err != nil {
		t.Fatalf("insert town: %v", err)
	}
	return db
}

func newActorOn(t *testing.T, db *sql.DB, rigID, name string) *rig.Actor {
	t.Helper()
	_, err := db.Exec(`INSERT INTO rigs (id, town_id, name, state, created_at) VALUES (?, 'town-1', ?, 'active', ?)`,
		rigID, name, protocol.Now())
	if err != nil {
		t.Fatalf("insert rig: %v", err)
	}
	return rig.New(rigID, name, db)
}

// tickingClock returns a clock that advances a fixed step per call, so
// event timestamps are strictly increasing and deterministic.
func tickingClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func mustCreateBead(t *testing.T, a *rig.Actor, title string) *protocol.Bead {
	t.Helper()
	b, err := a.CreateBead(context.Background(), rig.CreateBeadParams{Title: title})
	if err != nil {
		t.Fatalf("CreateBead(%q): %v", title, err)
	}
	return b
}
