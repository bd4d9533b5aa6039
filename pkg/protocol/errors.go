package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind labels the error taxonomy shared by the actor layer, the
// HTTP server, and the client SDK. The server maps kinds to HTTP status
// codes; the SDK reconstructs kinds from response envelopes.
type ErrorKind string

// Error kind constants.
const (
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindValidation        ErrorKind = "validation_error"
	KindActorUnavailable  ErrorKind = "actor_unavailable"
	KindNetwork           ErrorKind = "network_error"
)

// NotFoundError reports a lookup miss for any owned entity. Entity is
// the entity family ("rig", "bead", "mail", "escalation", "review",
// "town", "convoy"); ID is the key that missed.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError reports a uniqueness violation, e.g. creating a rig
// whose name collides with an active rig in the same town.
type ConflictError struct {
	Entity string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Detail)
}

// InvalidTransitionError reports a state-machine guard violation. The
// rejected operation leaves state unchanged.
type InvalidTransitionError struct {
	Entity string // "bead" or "review"
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ActorUnavailableError reports a transient failure reaching a rig or
// town actor. The event aggregator treats it as non-fatal per partition.
type ActorUnavailableError struct {
	RigID  string
	Reason string
}

func (e *ActorUnavailableError) Error() string {
	return fmt.Sprintf("rig actor %s unavailable: %s", e.RigID, e.Reason)
}

// NetworkError reports a transport-level failure in the client SDK.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Kind classifies err into the taxonomy, or "" for untyped errors.
func Kind(err error) ErrorKind {
	var (
		nf *NotFoundError
		cf *ConflictError
		it *InvalidTransitionError
		ve *ValidationError
		au *ActorUnavailableError
		ne *NetworkError
		we *WireError
	)
	switch {
	case errors.As(err, &we):
		return we.ErrKind
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &cf):
		return KindConflict
	case errors.As(err, &it):
		return KindInvalidTransition
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &au):
		return KindActorUnavailable
	case errors.As(err, &ne):
		return KindNetwork
	}
	return ""
}

// WireError is a structured error reconstructed from a response
// envelope by the client SDK. It preserves the server's kind and
// message verbatim; callers discriminate on Kind.
type WireError struct {
	ErrKind ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Message)
}

// Kind on a WireError reports the server-assigned kind, so
// protocol.Kind works uniformly on local and remote errors.
func (e *WireError) Kind() ErrorKind { return e.ErrKind }
