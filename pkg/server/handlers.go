package server

import (
	"net/http"

	"gastown/pkg/protocol"
	"gastown/pkg/rig"
)

// forbidden writes the 401 envelope used when a valid token lacks the
// scope for the target resource.
func forbidden(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized", "token scope does not cover this resource")
}

// actorFor resolves the rig actor for the request path, enforcing that
// the token covers the rig. Writes the error response itself on failure.
func (s *Server) actorFor(w http.ResponseWriter, r *http.Request) (*rig.Actor, bool) {
	rigID := r.PathValue("rigID")
	if !scopeFrom(r).CoversRig(rigID) {
		forbidden(w)
		return nil, false
	}
	actor, err := s.registry.Actor(r.Context(), rigID)
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return actor, true
}

// agentActorFor is actorFor plus an agent identity check for the
// session-scoped endpoints.
func (s *Server) agentActorFor(w http.ResponseWriter, r *http.Request) (*rig.Actor, string, bool) {
	rigID := r.PathValue("rigID")
	agentID := r.PathValue("agentID")
	if !scopeFrom(r).CoversAgent(rigID, agentID) {
		forbidden(w)
		return nil, "", false
	}
	actor, err := s.registry.Actor(r.Context(), rigID)
	if err != nil {
		writeErr(w, err)
		return nil, "", false
	}
	return actor, agentID, true
}

// --- Town registry ---

func (s *Server) handleCreateTown(w http.ResponseWriter, r *http.Request) {
	if !scopeFrom(r).Admin() {
		forbidden(w)
		return
	}
	var req struct {
		OwnerID string `json:"owner_id"`
		Name    string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	t, err := s.registry.CreateTown(r.Context(), req.OwnerID, req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, t)
}

func (s *Server) handleGetTown(w http.ResponseWriter, r *http.Request) {
	townID := r.PathValue("townID")
	if !scopeFrom(r).CoversTown(townID) {
		forbidden(w)
		return
	}
	t, err := s.registry.GetTown(r.Context(), townID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (s *Server) handleCreateRig(w http.ResponseWriter, r *http.Request) {
	townID := r.PathValue("townID")
	if !scopeFrom(r).CoversTown(townID) {
		forbidden(w)
		return
	}
	var req struct {
		Name          string `json:"name"`
		RepoURL       string `json:"repo_url"`
		DefaultBranch string `json:"default_branch"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	rg, err := s.registry.CreateRig(r.Context(), townID, req.Name, req.RepoURL, req.DefaultBranch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, rg)
}

func (s *Server) handleListRigs(w http.ResponseWriter, r *http.Request) {
	townID := r.PathValue("townID")
	if !scopeFrom(r).CoversTown(townID) {
		forbidden(w)
		return
	}
	rigs, err := s.registry.ListRigs(r.Context(), townID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, rigs)
}

func (s *Server) handleRemoveRig(w http.ResponseWriter, r *http.Request) {
	rigID := r.PathValue("rigID")
	scope := scopeFrom(r)
	if !scope.CoversRig(rigID) {
		// A town-scoped token may remove any of the town's rigs.
		rg, err := s.registry.GetRig(r.Context(), rigID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !scope.CoversTown(rg.TownID) {
			forbidden(w)
			return
		}
	}
	if err := s.registry.RemoveRig(r.Context(), rigID); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"removed": true})
}

// --- Town feed ---

func (s *Server) handleTownFeed(w http.ResponseWriter, r *http.Request) {
	townID := r.PathValue("townID")
	if !scopeFrom(r).CoversTown(townID) {
		forbidden(w)
		return
	}
	t, err := s.registry.GetTown(r.Context(), townID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if t.OwnerID != r.PathValue("userID") {
		writeErr(w, &protocol.NotFoundError{Entity: "town", ID: townID})
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	page, err := s.feed.TownFeed(r.Context(), townID, r.URL.Query().Get("since"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// --- Beads and convoys ---

func (s *Server) handleCreateBead(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Type     string   `json:"type"`
		Title    string   `json:"title"`
		Body     string   `json:"body"`
		Priority string   `json:"priority"`
		Labels   []string `json:"labels"`
		ConvoyID string   `json:"convoy_id"`
		AgentID  string   `json:"agent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	bead, err := actor.CreateBead(r.Context(), rig.CreateBeadParams{
		Type:     req.Type,
		Title:    req.Title,
		Body:     req.Body,
		Priority: protocol.BeadPriority(req.Priority),
		Labels:   req.Labels,
		ConvoyID: req.ConvoyID,
		AgentID:  req.AgentID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, bead)
}

func (s *Server) handleListBeads(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	beads, err := actor.ListBeads(r.Context(), protocol.BeadStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, beads)
}

func (s *Server) handleGetBead(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	bead, err := actor.GetBead(r.Context(), r.PathValue("beadID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, bead)
}

func (s *Server) handleHookBead(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	bead, err := actor.HookBead(r.Context(), r.PathValue("beadID"), req.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, bead)
}

func (s *Server) handleUnhookBead(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	bead, err := actor.UnhookBead(r.Context(), r.PathValue("beadID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, bead)
}

func (s *Server) handleCloseBead(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeOptionalBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	bead, err := actor.CloseBead(r.Context(), r.PathValue("beadID"), req.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, bead)
}

func (s *Server) handleChangeBeadStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	bead, err := actor.ChangeBeadStatus(r.Context(), r.PathValue("beadID"), protocol.BeadStatus(req.Status))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, bead)
}

func (s *Server) handleCreateConvoy(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Title     string `json:"title"`
		CreatedBy string `json:"created_by"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	convoy, err := actor.CreateConvoy(r.Context(), req.Title, req.CreatedBy)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, convoy)
}

func (s *Server) handleGetConvoy(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	convoy, err := actor.GetConvoy(r.Context(), r.PathValue("convoyID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, convoy)
}

// --- Mail ---

func (s *Server) handleSendMail(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		FromAgentID string `json:"from_agent_id"`
		Subject     string `json:"subject"`
		Body        string `json:"body"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	mail, err := actor.SendMail(r.Context(), req.FromAgentID, r.PathValue("agentID"), req.Subject, req.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, mail)
}

func (s *Server) handleCheckMail(w http.ResponseWriter, r *http.Request) {
	actor, agentID, ok := s.agentActorFor(w, r)
	if !ok {
		return
	}
	mail, err := actor.CheckMail(r.Context(), agentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, mail)
}

// --- Escalations ---

func (s *Server) handleCreateEscalation(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Severity      string `json:"severity"`
		Category      string `json:"category"`
		Message       string `json:"message"`
		SourceAgentID string `json:"source_agent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	esc, err := actor.CreateEscalation(r.Context(), protocol.EscalationSeverity(req.Severity), req.Category, req.Message, req.SourceAgentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, esc)
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	escs, err := actor.ListEscalations(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, escs)
}

func (s *Server) handleAckEscalation(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	esc, err := actor.AcknowledgeEscalation(r.Context(), r.PathValue("escalationID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, esc)
}

// --- Review queue ---

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	actor, agentID, ok := s.agentActorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		BeadID  string `json:"bead_id"`
		Branch  string `json:"branch"`
		PRURL   string `json:"pr_url"`
		Summary string `json:"summary"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	entry, err := actor.SubmitReview(r.Context(), agentID, req.BeadID, req.Branch, req.PRURL, req.Summary)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, entry)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	entries, err := actor.ListReviews(r.Context(), protocol.ReviewStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (s *Server) handleAdvanceReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	entry, err := actor.AdvanceReview(r.Context(), r.PathValue("entryID"), protocol.ReviewStatus(req.Status))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, entry)
}

// --- Event log ---

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorFor(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	events, err := actor.ListBeadEvents(r.Context(), r.URL.Query().Get("since"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, events)
}

// --- Agent session ---

func (s *Server) handlePrime(w http.ResponseWriter, r *http.Request) {
	actor, agentID, ok := s.agentActorFor(w, r)
	if !ok {
		return
	}
	result, err := actor.Prime(r.Context(), agentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	actor, agentID, ok := s.agentActorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		BeadID  string `json:"bead_id"`
		Summary string `json:"summary"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := actor.Done(r.Context(), agentID, req.BeadID, req.Summary); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"done": true})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	actor, agentID, ok := s.agentActorFor(w, r)
	if !ok {
		return
	}
	var req struct {
		BeadID string `json:"bead_id"`
		Note   string `json:"note"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	cp, err := actor.WriteCheckpoint(r.Context(), agentID, req.BeadID, req.Note)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, cp)
}
