package protocol

import (
	"encoding/json"
	"fmt"
)

// MetadataVersion is the current schema version stamped into every
// event metadata map under the "v" key. Readers tolerate unknown keys;
// the version exists so future consumers can branch on layout.
const MetadataVersion = 1

// metadataKeys lists, per event type, the keys the rig actor writes
// beyond the implicit "v" version stamp. The map is documentation plus
// validation: EncodeMetadata rejects keys outside the declared set so
// the open-ended column stays forward-compatible instead of drifting
// into an untyped blob.
var metadataKeys = map[EventType][]string{
	EventCreated:         {"title", "priority", "convoy_id"},
	EventAssigned:        {"assignee"},
	EventHooked:          {"assignee"},
	EventUnhooked:        {"previous_assignee"},
	EventStatusChanged:   {},
	EventClosed:          {"convoy_id", "convoy_landed"},
	EventEscalated:       {"category", "severity", "re_escalation_count"},
	EventMailSent:        {"subject", "to_agent_id"},
	EventReviewSubmitted: {"branch", "entry_id"},
	EventReviewCompleted: {"entry_id", "outcome"},
	EventAgentSpawned:    {},
	EventAgentExited:     {"bead_id", "summary"},
}

// EncodeMetadata serializes an event metadata map to its stored JSON
// form, stamping the schema version. Keys not declared for the event
// type are rejected.
func EncodeMetadata(typ EventType, meta map[string]any) (string, error) {
	allowed, ok := metadataKeys[typ]
	if !ok {
		return "", &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", typ)}
	}
	out := map[string]any{"v": MetadataVersion}
	for k, v := range meta {
		if !containsKey(allowed, k) {
			return "", &ValidationError{Field: "metadata", Reason: fmt.Sprintf("key %q not allowed for %s events", k, typ)}
		}
		out[k] = v
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata parses a stored metadata column. An empty column
// decodes to nil.
func DecodeMetadata(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return out, nil
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
