// Package server exposes the Gastown core over a JSON HTTP API. Every
// response uses the envelope {"success":true,"data":...} or
// {"success":false,"error":{"kind":...,"message":...}}; error kinds map
// to conventional status codes. Requests authenticate with a bearer
// token scoped to a (town, rig, agent) tuple.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gastown/pkg/authtoken"
	"gastown/pkg/feed"
	"gastown/pkg/protocol"
	"gastown/pkg/town"
)

// maxRequestBodyBytes bounds JSON request bodies.
const maxRequestBodyBytes = 1 << 20

// Config holds server configuration.
type Config struct {
	SigningKey []byte        // HMAC key for bearer tokens (required)
	RigTimeout time.Duration // per-rig budget for the town feed fan-out
}

// Server routes HTTP requests to the town registry, rig actors, and the
// event aggregator.
type Server struct {
	registry *town.Registry
	feed     *feed.Aggregator
	key      []byte
	mux      *http.ServeMux
}

// New builds a server over an initialized registry.
func New(registry *town.Registry, cfg Config) *Server {
	s := &Server{
		registry: registry,
		feed:     feed.New(&feed.RegistryResolver{Registry: registry}, cfg.RigTimeout),
		key:      cfg.SigningKey,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the root handler: auth in front of the API routes,
// body limits on writes, request logging around everything.
func (s *Server) Handler() http.Handler {
	return logMiddleware(bodyLimitMiddleware(s.authMiddleware(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]any{"ok": true})
	})

	// Town registry
	s.mux.HandleFunc("POST /api/towns", s.handleCreateTown)
	s.mux.HandleFunc("GET /api/towns/{townID}", s.handleGetTown)
	s.mux.HandleFunc("POST /api/towns/{townID}/rigs", s.handleCreateRig)
	s.mux.HandleFunc("GET /api/towns/{townID}/rigs", s.handleListRigs)
	s.mux.HandleFunc("DELETE /api/rigs/{rigID}", s.handleRemoveRig)

	// Merged town feed
	s.mux.HandleFunc("GET /api/users/{userID}/towns/{townID}/events", s.handleTownFeed)

	// Beads and convoys
	s.mux.HandleFunc("POST /api/rigs/{rigID}/beads", s.handleCreateBead)
	s.mux.HandleFunc("GET /api/rigs/{rigID}/beads", s.handleListBeads)
	s.mux.HandleFunc("GET /api/rigs/{rigID}/beads/{beadID}", s.handleGetBead)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/beads/{beadID}/hook", s.handleHookBead)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/beads/{beadID}/unhook", s.handleUnhookBead)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/beads/{beadID}/close", s.handleCloseBead)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/beads/{beadID}/status", s.handleChangeBeadStatus)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/convoys", s.handleCreateConvoy)
	s.mux.HandleFunc("GET /api/rigs/{rigID}/convoys/{convoyID}", s.handleGetConvoy)

	// Mail
	s.mux.HandleFunc("POST /api/rigs/{rigID}/agents/{agentID}/mail", s.handleSendMail)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/agents/{agentID}/mail/check", s.handleCheckMail)

	// Escalations
	s.mux.HandleFunc("POST /api/rigs/{rigID}/escalations", s.handleCreateEscalation)
	s.mux.HandleFunc("GET /api/rigs/{rigID}/escalations", s.handleListEscalations)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/escalations/{escalationID}/ack", s.handleAckEscalation)

	// Review queue
	s.mux.HandleFunc("POST /api/rigs/{rigID}/agents/{agentID}/reviews", s.handleSubmitReview)
	s.mux.HandleFunc("GET /api/rigs/{rigID}/reviews", s.handleListReviews)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/reviews/{entryID}/advance", s.handleAdvanceReview)

	// Per-rig event log
	s.mux.HandleFunc("GET /api/rigs/{rigID}/events", s.handleListEvents)

	// Agent session operations
	s.mux.HandleFunc("POST /api/rigs/{rigID}/agents/{agentID}/prime", s.handlePrime)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/agents/{agentID}/done", s.handleDone)
	s.mux.HandleFunc("POST /api/rigs/{rigID}/agents/{agentID}/checkpoint", s.handleCheckpoint)
}

// --- Middleware ---

type scopeKey struct{}

// authMiddleware verifies the bearer token on every /api request and
// stashes its scope in the request context. /health stays open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		scope, err := authtoken.Verify(s.key, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopeKey{}, scope)))
	})
}

func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("http: %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// scopeFrom returns the verified scope placed by authMiddleware.
func scopeFrom(r *http.Request) *authtoken.Scope {
	scope, _ := r.Context().Value(scopeKey{}).(*authtoken.Scope)
	return scope
}

// --- Envelope ---

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   errorBody{Kind: kind, Message: message},
	})
}

// writeErr maps a typed domain error onto the envelope and a status
// code. Untyped errors become opaque 500s.
func writeErr(w http.ResponseWriter, err error) {
	kind := protocol.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case protocol.KindNotFound:
		status = http.StatusNotFound
	case protocol.KindConflict:
		status = http.StatusConflict
	case protocol.KindValidation:
		status = http.StatusBadRequest
	case protocol.KindInvalidTransition:
		status = http.StatusUnprocessableEntity
	case protocol.KindActorUnavailable:
		status = http.StatusServiceUnavailable
	case protocol.KindNetwork:
		status = http.StatusBadGateway
	case "":
		kind = "internal"
	}
	writeError(w, status, string(kind), err.Error())
}

// decodeBody decodes a JSON request body into dst. An empty body is an
// error; handlers with optional bodies check for io.EOF themselves.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &protocol.ValidationError{Field: "body", Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	return nil
}

// decodeOptionalBody decodes a JSON body if one is present.
func decodeOptionalBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &protocol.ValidationError{Field: "body", Reason: fmt.Sprintf("invalid json: %v", err)}
}

// queryLimit parses the limit query parameter, zero when absent.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &protocol.ValidationError{Field: "limit", Reason: "must be an integer"}
	}
	return limit, nil
}
