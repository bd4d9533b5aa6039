// Package client is the agent-side SDK for the Gastown API. An agent
// process constructs a Client from its environment and drives its whole
// session through it: prime on startup, check mail, write checkpoints,
// submit reviews, and report done.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"gastown/pkg/protocol"
	"gastown/pkg/rig"
)

// Env variable names the SDK reads.
const (
	EnvAPIURL  = "GASTOWN_API_URL"
	EnvToken   = "GASTOWN_TOKEN"
	EnvRigID   = "GASTOWN_RIG_ID"
	EnvAgentID = "GASTOWN_AGENT_ID"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	RigID   string
	AgentID string

	// HTTPClient overrides the transport. Nil selects a client with a
	// 30 second timeout.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// ConfigFromEnv reads the standard agent environment.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL: os.Getenv(EnvAPIURL),
		Token:   os.Getenv(EnvToken),
		RigID:   os.Getenv(EnvRigID),
		AgentID: os.Getenv(EnvAgentID),
	}
	for _, v := range []struct{ name, value string }{
		{EnvAPIURL, cfg.BaseURL},
		{EnvToken, cfg.Token},
		{EnvRigID, cfg.RigID},
		{EnvAgentID, cfg.AgentID},
	} {
		if v.value == "" {
			return Config{}, fmt.Errorf("missing required environment variable %s", v.name)
		}
	}
	return cfg, nil
}

// Client talks to one rig on behalf of one agent.
type Client struct {
	cfg Config
}

// New creates a client. BaseURL, Token, RigID, and AgentID must be set.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("client: Token is required")
	}
	if cfg.RigID == "" {
		return nil, fmt.Errorf("client: RigID is required")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("client: AgentID is required")
	}
	return &Client{cfg: cfg.withDefaults()}, nil
}

// NewFromEnv builds a client from the standard agent environment.
func NewFromEnv() (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// RigID returns the rig this client is scoped to.
func (c *Client) RigID() string { return c.cfg.RigID }

// AgentID returns the agent identity this client acts as.
func (c *Client) AgentID() string { return c.cfg.AgentID }

// do issues one API call and decodes the response envelope into out.
// Transport failures come back as NetworkError; application failures
// carry the server's error kind so callers can classify them with
// protocol.Kind.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, &reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &protocol.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *protocol.WireError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &protocol.NetworkError{Op: method + " " + path,
			Err: fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)}
	}
	if !env.Success {
		if env.Error == nil {
			return &protocol.NetworkError{Op: method + " " + path,
				Err: fmt.Errorf("server returned status %d without an error body", resp.StatusCode)}
		}
		return env.Error
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &protocol.NetworkError{Op: method + " " + path,
				Err: fmt.Errorf("decode response data: %w", err)}
		}
	}
	return nil
}

func (c *Client) rigPath(suffix string) string {
	return "/api/rigs/" + c.cfg.RigID + suffix
}

func (c *Client) agentPath(suffix string) string {
	return c.rigPath("/agents/" + c.cfg.AgentID + suffix)
}

// Prime orients the agent at session start: its in-progress bead (if
// any) and how much mail is waiting.
func (c *Client) Prime(ctx context.Context) (*rig.PrimeResult, error) {
	var result rig.PrimeResult
	if err := c.do(ctx, http.MethodPost, c.agentPath("/prime"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Done closes the bead and records the agent's exit in one atomic step.
func (c *Client) Done(ctx context.Context, beadID, summary string) error {
	body := map[string]string{"bead_id": beadID, "summary": summary}
	return c.do(ctx, http.MethodPost, c.agentPath("/done"), body, nil)
}

// CheckMail drains the agent's mailbox. Each message is returned
// exactly once across all calls.
func (c *Client) CheckMail(ctx context.Context) ([]protocol.RigMail, error) {
	var mail []protocol.RigMail
	if err := c.do(ctx, http.MethodPost, c.agentPath("/mail/check"), nil, &mail); err != nil {
		return nil, err
	}
	return mail, nil
}

// SendMail queues a message for another agent in the same rig.
func (c *Client) SendMail(ctx context.Context, toAgentID, subject, body string) (*protocol.RigMail, error) {
	req := map[string]string{"from_agent_id": c.cfg.AgentID, "subject": subject, "body": body}
	var mail protocol.RigMail
	if err := c.do(ctx, http.MethodPost, c.rigPath("/agents/"+toAgentID+"/mail"), req, &mail); err != nil {
		return nil, err
	}
	return &mail, nil
}

// WriteCheckpoint saves a progress note for crash recovery.
func (c *Client) WriteCheckpoint(ctx context.Context, beadID, note string) (*protocol.Checkpoint, error) {
	req := map[string]string{"bead_id": beadID, "note": note}
	var cp protocol.Checkpoint
	if err := c.do(ctx, http.MethodPost, c.agentPath("/checkpoint"), req, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetBead fetches one bead by id.
func (c *Client) GetBead(ctx context.Context, beadID string) (*protocol.Bead, error) {
	var bead protocol.Bead
	if err := c.do(ctx, http.MethodGet, c.rigPath("/beads/"+beadID), nil, &bead); err != nil {
		return nil, err
	}
	return &bead, nil
}

// CreateBead files a new unit of work in the rig.
func (c *Client) CreateBead(ctx context.Context, p rig.CreateBeadParams) (*protocol.Bead, error) {
	req := map[string]any{
		"type": p.Type, "title": p.Title, "body": p.Body,
		"priority": string(p.Priority), "labels": p.Labels,
		"convoy_id": p.ConvoyID, "agent_id": c.cfg.AgentID,
	}
	var bead protocol.Bead
	if err := c.do(ctx, http.MethodPost, c.rigPath("/beads"), req, &bead); err != nil {
		return nil, err
	}
	return &bead, nil
}

// HookBead assigns the bead to this agent and moves it in_progress.
func (c *Client) HookBead(ctx context.Context, beadID string) (*protocol.Bead, error) {
	req := map[string]string{"agent_id": c.cfg.AgentID}
	var bead protocol.Bead
	if err := c.do(ctx, http.MethodPost, c.rigPath("/beads/"+beadID+"/hook"), req, &bead); err != nil {
		return nil, err
	}
	return &bead, nil
}

// CloseBead closes the bead.
func (c *Client) CloseBead(ctx context.Context, beadID string) (*protocol.Bead, error) {
	req := map[string]string{"agent_id": c.cfg.AgentID}
	var bead protocol.Bead
	if err := c.do(ctx, http.MethodPost, c.rigPath("/beads/"+beadID+"/close"), req, &bead); err != nil {
		return nil, err
	}
	return &bead, nil
}

// CreateEscalation raises (or re-raises) a problem for a human.
func (c *Client) CreateEscalation(ctx context.Context, severity protocol.EscalationSeverity, category, message string) (*protocol.Escalation, error) {
	req := map[string]string{
		"severity": string(severity), "category": category,
		"message": message, "source_agent_id": c.cfg.AgentID,
	}
	var esc protocol.Escalation
	if err := c.do(ctx, http.MethodPost, c.rigPath("/escalations"), req, &esc); err != nil {
		return nil, err
	}
	return &esc, nil
}

// SubmitReview enqueues a finished branch for review.
func (c *Client) SubmitReview(ctx context.Context, beadID, branch, prURL, summary string) (*protocol.ReviewQueueEntry, error) {
	req := map[string]string{
		"bead_id": beadID, "branch": branch, "pr_url": prURL, "summary": summary,
	}
	var entry protocol.ReviewQueueEntry
	if err := c.do(ctx, http.MethodPost, c.agentPath("/reviews"), req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEvents pages the rig's event log after since.
func (c *Client) ListEvents(ctx context.Context, since string, limit int) ([]protocol.BeadEvent, error) {
	path := c.rigPath("/events")
	if since != "" || limit > 0 {
		path += "?since=" + since
		if limit > 0 {
			path += fmt.Sprintf("&limit=%d", limit)
		}
	}
	var events []protocol.BeadEvent
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
