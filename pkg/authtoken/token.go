// Package authtoken mints and verifies the scoped bearer tokens that
// agents present to the HTTP API. A token binds one (town, rig, agent)
// tuple with an expiry and is HMAC-SHA256 signed with the server's key;
// possession of a token authorizes exactly that tuple and nothing else.
package authtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TownWildcard in a scope's TownID marks an operator token that covers
// every town, rig, and agent. Minted only by the server's own CLI.
const TownWildcard = "*"

// Scope is the identity tuple a token authorizes. AgentID may be empty
// for rig-level tokens (a dashboard reading a town feed has no agent).
type Scope struct {
	TownID  string `json:"town_id"`
	RigID   string `json:"rig_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// payload is the signed wire form of a token.
type payload struct {
	Scope
	ExpiresAt int64 `json:"exp"` // Unix seconds
}

// Errors returned by Verify.
var (
	ErrMalformed        = errors.New("authtoken: malformed token")
	ErrInvalidSignature = errors.New("authtoken: invalid signature")
	ErrExpired          = errors.New("authtoken: token has expired")
)

// Mint signs a scope valid for ttl. The rendered token is
// base64url(payload) "." base64url(signature).
func Mint(key []byte, scope Scope, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", errors.New("authtoken: empty signing key")
	}
	if scope.TownID == "" {
		return "", errors.New("authtoken: scope requires a town id")
	}
	body, err := json.Marshal(payload{Scope: scope, ExpiresAt: time.Now().Add(ttl).Unix()})
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + sign(key, encoded), nil
}

// Verify checks the signature and expiry and returns the token's scope.
func Verify(key []byte, token string) (*Scope, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, ErrMalformed
	}
	if !hmac.Equal([]byte(sign(key, encoded)), []byte(sig)) {
		return nil, ErrInvalidSignature
	}
	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformed
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformed
	}
	if time.Now().Unix() >= p.ExpiresAt {
		return nil, ErrExpired
	}
	scope := p.Scope
	return &scope, nil
}

// Admin reports whether this is an operator token.
func (s *Scope) Admin() bool {
	return s.TownID == TownWildcard
}

// CoversRig reports whether the scope authorizes operations on rigID.
func (s *Scope) CoversRig(rigID string) bool {
	return s.Admin() || s.RigID == rigID
}

// CoversAgent reports whether the scope authorizes acting as agentID in
// rigID.
func (s *Scope) CoversAgent(rigID, agentID string) bool {
	return s.Admin() || (s.RigID == rigID && s.AgentID == agentID)
}

// CoversTown reports whether the scope authorizes town-level reads.
func (s *Scope) CoversTown(townID string) bool {
	return s.Admin() || s.TownID == townID
}

func sign(key []byte, encoded string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
