package server_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"gastown/pkg/authtoken"
	"gastown/pkg/protocol"
	"gastown/pkg/server"
	"gastown/pkg/town"
)

var testKey = []byte("server-test-signing-key")

type harness struct {
	srv   *httptest.Server
	admin string // wildcard token
}

func newHarness(t *testing.T) *harness {
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
	s := server.New(town.NewRegistry(db), server.Config{SigningKey: testKey})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	admin, err := authtoken.Mint(testKey, authtoken.Scope{TownID: authtoken.TownWildcard}, time.Hour)
	if err != nil {
		t.Fatalf("mint admin token: %v", err)
	}
	return &harness{srv: ts, admin: admin}
}

// do issues a request and decodes the envelope. Returns the status, the
// data payload (still raw JSON), and the error body if any.
func (h *harness) do(t *testing.T, token, method, path string, body any) (int, json.RawMessage, *envelopeError) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *envelopeError  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope from %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env.Data, env.Error
}

type envelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// mustData fails the test unless the call succeeded with wantStatus,
// then unmarshals the data payload into out.
func (h *harness) mustData(t *testing.T, token, method, path string, body, out any, wantStatus int) {
	t.Helper()
	status, data, envErr := h.do(t, token, method, path, body)
	if status != wantStatus || envErr != nil {
		t.Fatalf("%s %s: status %d, error %+v (want %d)", method, path, status, envErr, wantStatus)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal data from %s %s: %v", method, path, err)
		}
	}
}

// seedRig creates a town and a rig via the API, returning both plus a
// rig-scoped token for agent "alice".
func (h *harness) seedRig(t *testing.T) (townID, rigID, rigToken string) {
	t.Helper()
	var tn protocol.Town
	h.mustData(t, h.admin, http.MethodPost, "/api/towns",
		map[string]string{"owner_id": "user-1", "name": "downtown"}, &tn, http.StatusCreated)
	var rg protocol.Rig
	h.mustData(t, h.admin, http.MethodPost, "/api/towns/"+tn.ID+"/rigs",
		map[string]string{"name": "svc", "repo_url": "https://example.com/svc.git"}, &rg, http.StatusCreated)
	token, err := authtoken.Mint(testKey, authtoken.Scope{TownID: tn.ID, RigID: rg.ID, AgentID: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("mint rig token: %v", err)
	}
	return tn.ID, rg.ID, token
}

func TestHealthNoAuth(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)
	status, _, envErr := h.do(t, "", http.MethodGet, "/api/towns/t-1", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", status)
	}
	if envErr == nil || envErr.Kind != "unauthorized" {
		t.Fatalf("no token: error = %+v, want kind unauthorized", envErr)
	}

	bad, _ := authtoken.Mint([]byte("some-other-key"), authtoken.Scope{TownID: "t-1"}, time.Hour)
	status, _, _ = h.do(t, bad, http.MethodGet, "/api/towns/t-1", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d, want 401", status)
	}
}

func TestCreateTownRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	scoped, err := authtoken.Mint(testKey, authtoken.Scope{TownID: "t-1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	status, _, _ := h.do(t, scoped, http.MethodPost, "/api/towns",
		map[string]string{"owner_id": "user-1", "name": "x"})
	if status != http.StatusUnauthorized {
		t.Fatalf("scoped token creating town: status = %d, want 401", status)
	}
}

func TestBeadLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	_, rigID, token := h.seedRig(t)
	base := "/api/rigs/" + rigID

	var bead protocol.Bead
	h.mustData(t, token, http.MethodPost, base+"/beads",
		map[string]any{"title": "fix flaky test", "agent_id": "alice"}, &bead, http.StatusCreated)
	if bead.Status != protocol.BeadOpen {
		t.Fatalf("new bead status = %q, want open", bead.Status)
	}

	h.mustData(t, token, http.MethodPost, base+"/beads/"+bead.ID+"/hook",
		map[string]string{"agent_id": "alice"}, &bead, http.StatusOK)
	if bead.Status != protocol.BeadInProgress || bead.Assignee != "alice" {
		t.Fatalf("hooked bead = %+v, want in_progress/alice", bead)
	}

	h.mustData(t, token, http.MethodPost, base+"/beads/"+bead.ID+"/close",
		map[string]string{"agent_id": "alice"}, &bead, http.StatusOK)
	if bead.Status != protocol.BeadClosed || bead.ClosedAt == "" {
		t.Fatalf("closed bead = %+v, want closed with closed_at", bead)
	}

	// Closed is terminal.
	status, _, envErr := h.do(t, token, http.MethodPost, base+"/beads/"+bead.ID+"/status",
		map[string]string{"status": "open"})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("reopen closed: status = %d, want 422", status)
	}
	if envErr.Kind != string(protocol.KindInvalidTransition) {
		t.Fatalf("reopen closed: kind = %q, want invalid_transition", envErr.Kind)
	}

	var events []protocol.BeadEvent
	h.mustData(t, token, http.MethodGet, base+"/events", nil, &events, http.StatusOK)
	var types []protocol.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []protocol.EventType{protocol.EventCreated, protocol.EventHooked, protocol.EventClosed}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
}

func TestRigScopeEnforced(t *testing.T) {
	h := newHarness(t)
	townID, rigID, _ := h.seedRig(t)

	var other protocol.Rig
	h.mustData(t, h.admin, http.MethodPost, "/api/towns/"+townID+"/rigs",
		map[string]string{"name": "web", "repo_url": "https://example.com/web.git"}, &other, http.StatusCreated)
	otherToken, err := authtoken.Mint(testKey, authtoken.Scope{TownID: townID, RigID: other.ID, AgentID: "bob"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	status, _, _ := h.do(t, otherToken, http.MethodPost, "/api/rigs/"+rigID+"/beads",
		map[string]string{"title": "cross-rig write"})
	if status != http.StatusUnauthorized {
		t.Fatalf("cross-rig create bead: status = %d, want 401", status)
	}
}

func TestCheckMailRequiresOwnMailbox(t *testing.T) {
	h := newHarness(t)
	_, rigID, token := h.seedRig(t)
	base := "/api/rigs/" + rigID

	h.mustData(t, token, http.MethodPost, base+"/agents/bob/mail",
		map[string]string{"from_agent_id": "alice", "subject": "ping", "body": "status?"}, nil, http.StatusCreated)

	// alice's token cannot drain bob's mailbox.
	status, _, _ := h.do(t, token, http.MethodPost, base+"/agents/bob/mail/check", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("check other mailbox: status = %d, want 401", status)
	}

	bobToken, err := authtoken.Mint(testKey, authtoken.Scope{TownID: "unused", RigID: rigID, AgentID: "bob"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	var mail []protocol.RigMail
	h.mustData(t, bobToken, http.MethodPost, base+"/agents/bob/mail/check", nil, &mail, http.StatusOK)
	if len(mail) != 1 || mail[0].Subject != "ping" {
		t.Fatalf("bob's mail = %+v, want one message 'ping'", mail)
	}
	h.mustData(t, bobToken, http.MethodPost, base+"/agents/bob/mail/check", nil, &mail, http.StatusOK)
	if len(mail) != 0 {
		t.Fatalf("second check returned %d messages, want 0", len(mail))
	}
}

func TestValidationErrorsMapTo400(t *testing.T) {
	h := newHarness(t)
	_, rigID, token := h.seedRig(t)

	status, _, envErr := h.do(t, token, http.MethodPost, "/api/rigs/"+rigID+"/beads",
		map[string]string{"title": ""})
	if status != http.StatusBadRequest {
		t.Fatalf("empty title: status = %d, want 400", status)
	}
	if envErr.Kind != string(protocol.KindValidation) {
		t.Fatalf("empty title: kind = %q, want validation_error", envErr.Kind)
	}

	// Malformed JSON body.
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/api/rigs/"+rigID+"/beads",
		bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownBead404(t *testing.T) {
	h := newHarness(t)
	_, rigID, token := h.seedRig(t)
	status, _, envErr := h.do(t, token, http.MethodGet, "/api/rigs/"+rigID+"/beads/nope", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown bead: status = %d, want 404", status)
	}
	if envErr.Kind != string(protocol.KindNotFound) {
		t.Fatalf("unknown bead: kind = %q, want not_found", envErr.Kind)
	}
}

func TestRemoveRigNeedsTownOrRigScope(t *testing.T) {
	h := newHarness(t)
	townID, rigID, rigToken := h.seedRig(t)

	stranger, err := authtoken.Mint(testKey, authtoken.Scope{TownID: "elsewhere", RigID: "other-rig"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	status, _, _ := h.do(t, stranger, http.MethodDelete, "/api/rigs/"+rigID, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("stranger delete: status = %d, want 401", status)
	}

	h.mustData(t, rigToken, http.MethodDelete, "/api/rigs/"+rigID, nil, nil, http.StatusOK)

	// Soft delete frees the name and refuses further actor traffic.
	status, _, _ = h.do(t, rigToken, http.MethodGet, "/api/rigs/"+rigID+"/beads", nil)
	if status != http.StatusNotFound {
		t.Fatalf("removed rig beads: status = %d, want 404", status)
	}
	var rigs []protocol.Rig
	h.mustData(t, h.admin, http.MethodGet, "/api/towns/"+townID+"/rigs", nil, &rigs, http.StatusOK)
	if len(rigs) != 0 {
		t.Fatalf("rigs after removal = %d, want 0", len(rigs))
	}
}

func TestTownFeedMergesRigs(t *testing.T) {
	h := newHarness(t)
	townID, rigID, token := h.seedRig(t)

	var other protocol.Rig
	h.mustData(t, h.admin, http.MethodPost, "/api/towns/"+townID+"/rigs",
		map[string]string{"name": "web", "repo_url": "https://example.com/web.git"}, &other, http.StatusCreated)

	h.mustData(t, token, http.MethodPost, "/api/rigs/"+rigID+"/beads",
		map[string]string{"title": "svc bead"}, nil, http.StatusCreated)
	h.mustData(t, h.admin, http.MethodPost, "/api/rigs/"+other.ID+"/beads",
		map[string]string{"title": "web bead"}, nil, http.StatusCreated)

	var page struct {
		Events      []protocol.TaggedEvent `json:"events"`
		Partial     bool                   `json:"partial"`
		OmittedRigs int                    `json:"omitted_rigs"`
	}
	h.mustData(t, h.admin, http.MethodGet, "/api/users/user-1/towns/"+townID+"/events", nil, &page, http.StatusOK)
	if len(page.Events) != 2 || page.Partial {
		t.Fatalf("feed = %+v, want 2 events, not partial", page)
	}
	names := map[string]bool{}
	for _, ev := range page.Events {
		names[ev.RigName] = true
	}
	if !names["svc"] || !names["web"] {
		t.Fatalf("feed rig names = %v, want svc and web", names)
	}

	// Wrong owner in the path hides the town.
	status, _, _ := h.do(t, h.admin, http.MethodGet, "/api/users/user-2/towns/"+townID+"/events", nil)
	if status != http.StatusNotFound {
		t.Fatalf("wrong owner feed: status = %d, want 404", status)
	}
}

func TestPrimeAndDoneOverHTTP(t *testing.T) {
	h := newHarness(t)
	_, rigID, token := h.seedRig(t)
	base := "/api/rigs/" + rigID

	var bead protocol.Bead
	h.mustData(t, token, http.MethodPost, base+"/beads",
		map[string]string{"title": "implement parser"}, &bead, http.StatusCreated)
	h.mustData(t, token, http.MethodPost, base+"/beads/"+bead.ID+"/hook",
		map[string]string{"agent_id": "alice"}, &bead, http.StatusOK)

	var prime struct {
		RigName     string         `json:"rig_name"`
		Bead        *protocol.Bead `json:"bead"`
		MailWaiting int            `json:"mail_waiting"`
	}
	h.mustData(t, token, http.MethodPost, base+"/agents/alice/prime", nil, &prime, http.StatusOK)
	if prime.Bead == nil || prime.Bead.ID != bead.ID {
		t.Fatalf("prime bead = %+v, want %s", prime.Bead, bead.ID)
	}

	h.mustData(t, token, http.MethodPost, base+"/agents/alice/done",
		map[string]string{"bead_id": bead.ID, "summary": "parser landed"}, nil, http.StatusOK)

	var got protocol.Bead
	h.mustData(t, token, http.MethodGet, base+"/beads/"+bead.ID, nil, &got, http.StatusOK)
	if got.Status != protocol.BeadClosed {
		t.Fatalf("bead after done = %q, want closed", got.Status)
	}
}
