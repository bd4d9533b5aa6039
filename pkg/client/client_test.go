package client_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"gastown/pkg/authtoken"
	"gastown/pkg/client"
	"gastown/pkg/protocol"
	"gastown/pkg/rig"
	"gastown/pkg/server"
	"gastown/pkg/town"
)

var testKey = []byte("client-test-signing-key")

// newTestClient stands up a real server over a fresh database, seeds
// one town and rig, and returns an SDK client for the given agent.
func newTestClient(t *testing.T, agentID string) *client.Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gastown.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", protocol.SchemaDDL} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("setup db: %v", err)
		}
	}
	registry := town.NewRegistry(db)
	ctx := context.Background()
	tn, err := registry.CreateTown(ctx, "user-1", "downtown")
	if err != nil {
		t.Fatalf("create town: %v", err)
	}
	rg, err := registry.CreateRig(ctx, tn.ID, "svc", "https://example.com/svc.git", "")
	if err != nil {
		t.Fatalf("create rig: %v", err)
	}

	srv := httptest.NewServer(server.New(registry, server.Config{SigningKey: testKey}).Handler())
	t.Cleanup(srv.Close)

	token, err := authtoken.Mint(testKey, authtoken.Scope{TownID: tn.ID, RigID: rg.ID, AgentID: agentID}, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	c, err := client.New(client.Config{
		BaseURL: srv.URL,
		Token:   token,
		RigID:   rg.ID,
		AgentID: agentID,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  client.Config
	}{
		{"no base url", client.Config{Token: "t", RigID: "r", AgentID: "a"}},
		{"no token", client.Config{BaseURL: "http://x", RigID: "r", AgentID: "a"}},
		{"no rig", client.Config{BaseURL: "http://x", Token: "t", AgentID: "a"}},
		{"no agent", client.Config{BaseURL: "http://x", Token: "t", RigID: "r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.New(tt.cfg); err == nil {
				t.Fatal("New accepted incomplete config")
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(client.EnvAPIURL, "http://localhost:9999")
	t.Setenv(client.EnvToken, "tok")
	t.Setenv(client.EnvRigID, "rig-1")
	t.Setenv(client.EnvAgentID, "alice")
	cfg, err := client.ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.RigID != "rig-1" || cfg.AgentID != "alice" {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv(client.EnvToken, "")
	if _, err := client.ConfigFromEnv(); err == nil {
		t.Fatal("ConfigFromEnv accepted missing token")
	}
}

func TestAgentSessionRoundTrip(t *testing.T) {
	c := newTestClient(t, "alice")
	ctx := context.Background()

	bead, err := c.CreateBead(ctx, rig.CreateBeadParams{Title: "wire up parser"})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	if _, err := c.HookBead(ctx, bead.ID); err != nil {
		t.Fatalf("HookBead: %v", err)
	}

	prime, err := c.Prime(ctx)
	if err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if prime.Bead == nil || prime.Bead.ID != bead.ID {
		t.Fatalf("prime bead = %+v, want %s", prime.Bead, bead.ID)
	}

	if _, err := c.WriteCheckpoint(ctx, bead.ID, "halfway through the grammar"); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}

	if err := c.Done(ctx, bead.ID, "parser wired"); err != nil {
		t.Fatalf("Done: %v", err)
	}
	got, err := c.GetBead(ctx, bead.ID)
	if err != nil {
		t.Fatalf("GetBead: %v", err)
	}
	if got.Status != protocol.BeadClosed {
		t.Fatalf("bead after Done = %q, want closed", got.Status)
	}
}

func TestMailRoundTrip(t *testing.T) {
	c := newTestClient(t, "alice")
	ctx := context.Background()

	if _, err := c.SendMail(ctx, "alice", "note to self", "remember the edge case"); err != nil {
		t.Fatalf("SendMail: %v", err)
	}
	mail, err := c.CheckMail(ctx)
	if err != nil {
		t.Fatalf("CheckMail: %v", err)
	}
	if len(mail) != 1 || mail[0].Subject != "note to self" {
		t.Fatalf("mail = %+v, want one 'note to self'", mail)
	}
	mail, err = c.CheckMail(ctx)
	if err != nil {
		t.Fatalf("second CheckMail: %v", err)
	}
	if len(mail) != 0 {
		t.Fatalf("second check = %d messages, want 0", len(mail))
	}
}

func TestRemoteErrorsKeepTheirKind(t *testing.T) {
	c := newTestClient(t, "alice")
	ctx := context.Background()

	_, err := c.GetBead(ctx, "missing")
	if err == nil {
		t.Fatal("GetBead on unknown id succeeded")
	}
	if kind := protocol.Kind(err); kind != protocol.KindNotFound {
		t.Fatalf("kind = %q, want not_found", kind)
	}

	bead, err := c.CreateBead(ctx, rig.CreateBeadParams{Title: "review twice"})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	if _, err := c.SubmitReview(ctx, bead.ID, "feat/x", "", "first"); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	_, err = c.SubmitReview(ctx, bead.ID, "feat/x2", "", "second")
	if kind := protocol.Kind(err); kind != protocol.KindConflict {
		t.Fatalf("duplicate review kind = %q, want conflict", kind)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	c, err := client.New(client.Config{
		BaseURL:    "http://127.0.0.1:1", // nothing listens here
		Token:      "tok",
		RigID:      "rig-1",
		AgentID:    "alice",
		HTTPClient: &http.Client{Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Prime(context.Background())
	if kind := protocol.Kind(err); kind != protocol.KindNetwork {
		t.Fatalf("kind = %q, want network_error", kind)
	}
}
