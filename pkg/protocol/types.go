// Package protocol defines the shared domain types for Gastown: towns,
// rigs, beads, convoys, mail, escalations, review-queue entries, and the
// append-only event log. It also carries the state-machine tables, the
// typed error taxonomy, and the SQLite schema DDL, so that the rig actor,
// the town registry, the HTTP server, and the client SDK all agree on one
// vocabulary.
package protocol

import (
	"time"
)

// TimestampLayout is the fixed-width UTC layout used for every persisted
// timestamp. Unlike time.RFC3339Nano it never trims trailing zeros, so
// lexical comparison of two rendered timestamps is chronological
// comparison. The event aggregator's cross-rig merge sorts on the
// rendered string and depends on this.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimestampLayout (always UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Now returns the current time rendered in TimestampLayout.
func Now() string {
	return FormatTime(time.Now())
}

// --- Bead ---

// BeadStatus is the lifecycle state of a bead.
type BeadStatus string

// Bead status constants. Transitions are guarded by CanTransition.
const (
	BeadOpen       BeadStatus = "open"
	BeadInProgress BeadStatus = "in_progress"
	BeadClosed     BeadStatus = "closed"
)

// BeadPriority orders beads for assignment.
type BeadPriority string

// Bead priority constants.
const (
	PriorityLow      BeadPriority = "low"
	PriorityMedium   BeadPriority = "medium"
	PriorityHigh     BeadPriority = "high"
	PriorityCritical BeadPriority = "critical"
)

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p BeadPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Bead is a unit of assignable agent work, owned by exactly one rig.
type Bead struct {
	ID        string       `json:"id"`
	RigID     string       `json:"rig_id"`
	Type      string       `json:"type"`
	Title     string       `json:"title"`
	Body      string       `json:"body,omitempty"`
	Status    BeadStatus   `json:"status"`
	Priority  BeadPriority `json:"priority"`
	Assignee  string       `json:"assignee,omitempty"` // agent id; empty = unassigned
	Labels    []string     `json:"labels,omitempty"`
	ConvoyID  string       `json:"convoy_id,omitempty"`
	CreatedAt string       `json:"created_at"`
	ClosedAt  string       `json:"closed_at,omitempty"` // non-empty iff Status == BeadClosed
}

// beadEdges is the bead state machine: for each current status, the set
// of statuses reachable in one transition. Closed is terminal.
var beadEdges = map[BeadStatus][]BeadStatus{
	BeadOpen:       {BeadInProgress, BeadClosed},
	BeadInProgress: {BeadOpen, BeadClosed},
	BeadClosed:     {},
}

// CanTransition reports whether a bead may move from to next in one step.
// Re-entering the same state is not a transition; it returns false so
// that hooking an already-hooked bead fails instead of silently
// discarding the previous assignee.
func CanTransition(from, next BeadStatus) bool {
	for _, s := range beadEdges[from] {
		if s == next {
			return true
		}
	}
	return false
}

// --- Convoy ---

// ConvoyStatus is the lifecycle state of a convoy.
type ConvoyStatus string

// Convoy status constants.
const (
	ConvoyActive ConvoyStatus = "active"
	ConvoyLanded ConvoyStatus = "landed"
)

// Convoy is a named group of beads tracked as a unit. It lands exactly
// once, at the closure that makes ClosedBeads == TotalBeads.
type Convoy struct {
	ID          string       `json:"id"`
	RigID       string       `json:"rig_id"`
	Title       string       `json:"title"`
	Status      ConvoyStatus `json:"status"`
	TotalBeads  int          `json:"total_beads"`
	ClosedBeads int          `json:"closed_beads"`
	CreatedBy   string       `json:"created_by,omitempty"`
	CreatedAt   string       `json:"created_at"`
	LandedAt    string       `json:"landed_at,omitempty"`
}

// --- Event log ---

// EventType classifies a row in the append-only bead event log.
type EventType string

// Event type constants. Every state-changing rig operation appends
// exactly one event in the same transaction as the state change.
const (
	EventCreated         EventType = "created"
	EventAssigned        EventType = "assigned"
	EventHooked          EventType = "hooked"
	EventUnhooked        EventType = "unhooked"
	EventStatusChanged   EventType = "status_changed"
	EventClosed          EventType = "closed"
	EventEscalated       EventType = "escalated"
	EventMailSent        EventType = "mail_sent"
	EventReviewSubmitted EventType = "review_submitted"
	EventReviewCompleted EventType = "review_completed"
	EventAgentSpawned    EventType = "agent_spawned"
	EventAgentExited     EventType = "agent_exited"
)

// BeadEvent is one immutable row in a rig's event log. Rows are never
// updated or deleted; ordering within a rig is (created_at, id).
type BeadEvent struct {
	ID        int64          `json:"id"`
	RigID     string         `json:"rig_id"`
	BeadID    string         `json:"bead_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Type      EventType      `json:"event_type"`
	OldValue  string         `json:"old_value,omitempty"`
	NewValue  string         `json:"new_value,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// TaggedEvent is a BeadEvent annotated with its origin rig for the
// cross-rig merged feed.
type TaggedEvent struct {
	BeadEvent
	RigName string `json:"rig_name"`
}

// --- Mail ---

// RigMail is a directed message between two agents in the same rig.
// Delivered transitions false→true exactly once, on the CheckMail call
// that returns the message.
type RigMail struct {
	ID          string `json:"id"`
	RigID       string `json:"rig_id"`
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	Subject     string `json:"subject"`
	Body        string `json:"body,omitempty"`
	Delivered   bool   `json:"delivered"`
	CreatedAt   string `json:"created_at"`
	DeliveredAt string `json:"delivered_at,omitempty"`
}

// --- Escalation ---

// EscalationSeverity grades a human-facing alert.
type EscalationSeverity string

// Escalation severity constants.
const (
	SeverityLow    EscalationSeverity = "low"
	SeverityMedium EscalationSeverity = "medium"
	SeverityHigh   EscalationSeverity = "high"
)

// ValidSeverity reports whether s is a known severity value.
func ValidSeverity(s EscalationSeverity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Escalation is a human-facing alert raised by a rig. While an
// escalation of a given category is unacknowledged, raising the same
// category again bumps ReEscalationCount instead of inserting a second
// row. Acknowledgment resets the dedup window: the next raise of that
// category starts a fresh row with count zero.
type Escalation struct {
	ID                string             `json:"id"`
	RigID             string             `json:"rig_id"`
	SourceAgentID     string             `json:"source_agent_id,omitempty"`
	Severity          EscalationSeverity `json:"severity"`
	Category          string             `json:"category"`
	Message           string             `json:"message"`
	Acknowledged      bool               `json:"acknowledged"`
	ReEscalationCount int                `json:"re_escalation_count"`
	CreatedAt         string             `json:"created_at"`
	AcknowledgedAt    string             `json:"acknowledged_at,omitempty"`
}

// --- Review queue ---

// ReviewStatus is the lifecycle state of a review-queue entry.
type ReviewStatus string

// Review status constants. Transitions are forward-only:
// pending → running → {merged, failed}.
const (
	ReviewPending ReviewStatus = "pending"
	ReviewRunning ReviewStatus = "running"
	ReviewMerged  ReviewStatus = "merged"
	ReviewFailed  ReviewStatus = "failed"
)

// reviewEdges is the review-queue state machine.
var reviewEdges = map[ReviewStatus][]ReviewStatus{
	ReviewPending: {ReviewRunning},
	ReviewRunning: {ReviewMerged, ReviewFailed},
	ReviewMerged:  {},
	ReviewFailed:  {},
}

// CanAdvanceReview reports whether a review entry may move from to next.
func CanAdvanceReview(from, next ReviewStatus) bool {
	for _, s := range reviewEdges[from] {
		if s == next {
			return true
		}
	}
	return false
}

// TerminalReview reports whether s is a terminal review status.
func TerminalReview(s ReviewStatus) bool {
	return s == ReviewMerged || s == ReviewFailed
}

// ReviewQueueEntry is a code-review submission for one bead.
type ReviewQueueEntry struct {
	ID          string       `json:"id"`
	RigID       string       `json:"rig_id"`
	AgentID     string       `json:"agent_id"`
	BeadID      string       `json:"bead_id"`
	Branch      string       `json:"branch"`
	PRURL       string       `json:"pr_url,omitempty"`
	Status      ReviewStatus `json:"status"`
	Summary     string       `json:"summary,omitempty"`
	CreatedAt   string       `json:"created_at"`
	ProcessedAt string       `json:"processed_at,omitempty"` // set on entering a terminal status
}

// --- Town and rig registry ---

// RigState tags a rig's registry lifecycle. Removal is a soft delete so
// historical events keep a resolvable owner.
type RigState string

// Rig state constants.
const (
	RigActive  RigState = "active"
	RigRemoved RigState = "removed"
)

// Town is a tenant-level namespace owning a set of rigs.
type Town struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Rig is one workspace (repository checkout) inside a town; the unit of
// exclusive-ownership concurrency.
type Rig struct {
	ID            string   `json:"id"`
	TownID        string   `json:"town_id"`
	Name          string   `json:"name"`
	RepoURL       string   `json:"repo_url,omitempty"`
	DefaultBranch string   `json:"default_branch,omitempty"`
	State         RigState `json:"state"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

// --- Checkpoints ---

// Checkpoint is an agent progress note, persisted per rig. Checkpoints
// are an SDK convenience, not part of the bead/mail/escalation/review
// families, so writing one does not append a BeadEvent.
type Checkpoint struct {
	ID        string `json:"id"`
	RigID     string `json:"rig_id"`
	AgentID   string `json:"agent_id"`
	BeadID    string `json:"bead_id,omitempty"`
	Note      string `json:"note"`
	CreatedAt string `json:"created_at"`
}
