// Package town implements the per-tenant registry: towns, their rigs,
// and the directory that maps a rig id to its live single-writer actor.
// The registry owns no work-item state; it only resolves names and
// hands out actor references. Rig removal is a soft delete so the
// event log keeps a resolvable owner forever.
package town

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gastown/pkg/protocol"
	"gastown/pkg/rig"
)

// Registry resolves tenants and workspaces and owns the actor
// directory. At most one rig.Actor exists per rig id per process;
// Actor() creates them lazily and RemoveRig retires them.
type Registry struct {
	db *sql.DB

	mu     sync.Mutex
	actors map[string]*rig.Actor

	now func() time.Time
}

// NewRegistry creates a registry over an opened state database.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{
		db:     db,
		actors: make(map[string]*rig.Actor),
		now:    time.Now,
	}
}

// CreateTown registers a tenant namespace. One town per (owner, name).
func (r *Registry) CreateTown(ctx context.Context, ownerID, name string) (*protocol.Town, error) {
	if ownerID == "" {
		return nil, &protocol.ValidationError{Field: "owner_id", Reason: "required"}
	}
	if name == "" {
		return nil, &protocol.ValidationError{Field: "name", Reason: "required"}
	}
	town := &protocol.Town{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: protocol.FormatTime(r.now()),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var existing int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM towns WHERE owner_id = ? AND name = ?`, ownerID, name).Scan(&existing); err != nil {
		return nil, fmt.Errorf("check town name: %w", err)
	}
	if existing > 0 {
		return nil, &protocol.ConflictError{Entity: "town", Detail: fmt.Sprintf("owner %s already has a town named %q", ownerID, name)}
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO towns (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)`,
		town.ID, ownerID, name, town.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert town: %w", err)
	}
	return town, nil
}

// GetTown returns one town by id.
func (r *Registry) GetTown(ctx context.Context, townID string) (*protocol.Town, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, created_at, updated_at FROM towns WHERE id = ?`, townID)
	var (
		t         protocol.Town
		updatedAt sql.NullString
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.NotFoundError{Entity: "town", ID: townID}
	}
	if err != nil {
		return nil, fmt.Errorf("scan town: %w", err)
	}
	if updatedAt.Valid {
		t.UpdatedAt = updatedAt.String
	}
	return &t, nil
}

// CreateRig registers a workspace in a town. The name must not collide
// with another active rig in the same town; removed rigs do not block
// reuse of their name.
func (r *Registry) CreateRig(ctx context.Context, townID, name, repoURL, defaultBranch string) (*protocol.Rig, error) {
	if name == "" {
		return nil, &protocol.ValidationError{Field: "name", Reason: "required"}
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	if _, err := r.GetTown(ctx, townID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var active int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rigs WHERE town_id = ? AND name = ? AND state = ?`,
		townID, name, string(protocol.RigActive)).Scan(&active); err != nil {
		return nil, fmt.Errorf("check rig name: %w", err)
	}
	if active > 0 {
		return nil, &protocol.ConflictError{Entity: "rig", Detail: fmt.Sprintf("town %s already has an active rig named %q", townID, name)}
	}

	rg := &protocol.Rig{
		ID:            uuid.New().String(),
		TownID:        townID,
		Name:          name,
		RepoURL:       repoURL,
		DefaultBranch: defaultBranch,
		State:         protocol.RigActive,
		CreatedAt:     protocol.FormatTime(r.now()),
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO rigs (id, town_id, name, repo_url, default_branch, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rg.ID, townID, name, nullString(repoURL), defaultBranch, string(rg.State), rg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert rig: %w", err)
	}
	return rg, nil
}

// GetRig returns one rig by id, in any state.
func (r *Registry) GetRig(ctx context.Context, rigID string) (*protocol.Rig, error) {
	return r.getRig(ctx, rigID)
}

// ListRigs returns a town's active rigs, oldest first.
func (r *Registry) ListRigs(ctx context.Context, townID string) ([]protocol.Rig, error) {
	if _, err := r.GetTown(ctx, townID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, town_id, name, repo_url, default_branch, state, created_at, updated_at
		FROM rigs WHERE town_id = ? AND state = ?
		ORDER BY created_at ASC, id ASC`, townID, string(protocol.RigActive))
	if err != nil {
		return nil, fmt.Errorf("list rigs: %w", err)
	}
	defer rows.Close()

	var rigs []protocol.Rig
	for rows.Next() {
		rg, err := scanRig(rows)
		if err != nil {
			return nil, err
		}
		rigs = append(rigs, *rg)
	}
	return rigs, rows.Err()
}

// RemoveRig soft-deletes a rig and retires its actor. History (events,
// beads, mail) stays queryable; the rig just stops resolving as active.
// Idempotent: removing a removed rig is a no-op.
func (r *Registry) RemoveRig(ctx context.Context, rigID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rg, err := r.getRig(ctx, rigID)
	if err != nil {
		return err
	}
	if rg.State == protocol.RigRemoved {
		return nil
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE rigs SET state = ?, updated_at = ? WHERE id = ?`,
		string(protocol.RigRemoved), protocol.FormatTime(r.now()), rigID); err != nil {
		return fmt.Errorf("remove rig: %w", err)
	}
	delete(r.actors, rigID)
	return nil
}

// Actor returns the single live actor for an active rig, creating it on
// first use. Removed rigs do not get actors.
func (r *Registry) Actor(ctx context.Context, rigID string) (*rig.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[rigID]; ok {
		return a, nil
	}
	rg, err := r.getRig(ctx, rigID)
	if err != nil {
		return nil, err
	}
	if rg.State != protocol.RigActive {
		return nil, &protocol.NotFoundError{Entity: "rig", ID: rigID}
	}
	a := rig.New(rg.ID, rg.Name, r.db)
	r.actors[rigID] = a
	return a, nil
}

func (r *Registry) getRig(ctx context.Context, rigID string) (*protocol.Rig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, town_id, name, repo_url, default_branch, state, created_at, updated_at
		FROM rigs WHERE id = ?`, rigID)
	rg, err := scanRig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &protocol.NotFoundError{Entity: "rig", ID: rigID}
	}
	return rg, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRig(row rowScanner) (*protocol.Rig, error) {
	var (
		rg                 protocol.Rig
		repoURL, updatedAt sql.NullString
	)
	err := row.Scan(&rg.ID, &rg.TownID, &rg.Name, &repoURL, &rg.DefaultBranch, &rg.State, &rg.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if repoURL.Valid {
		rg.RepoURL = repoURL.String
	}
	if updatedAt.Valid {
		rg.UpdatedAt = updatedAt.String
	}
	return &rg, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
