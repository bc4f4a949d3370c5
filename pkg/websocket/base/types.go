package base

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const (
	TypeHeartbeat = "heartbeat"

	// DefaultStatus is shown for sites whose payload carries no usable status
	DefaultStatus = "离线"

	FieldID     = "id"
	FieldStatus = "status"
	FieldType   = "type"
	FieldData   = "data"
)

// HeartbeatFrame is the reserved liveness frame, sent and filtered verbatim
var HeartbeatFrame = []byte(`{"type":"heartbeat"}`)

// Kind classifies a decoded frame or response body
type Kind int

const (
	KindMalformed Kind = iota
	KindHeartbeat
	KindPayload
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindPayload:
		return "payload"
	default:
		return "malformed"
	}
}

// Record is one application record as sent by the backend.
// The id field is normalized to a string during decoding.
type Record map[string]any

func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

func (r Record) Status() string {
	status, _ := r[FieldStatus].(string)
	return status
}

// Clone returns a shallow copy
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Message is the result of decoding raw inbound data
type Message struct {
	Kind    Kind
	Records []Record
	Err     error

	// Full is set when the data was a bare JSON array, which the backend
	// only sends as a complete listing.
	Full bool
}

// ParseError describes why inbound data was classified as malformed
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed payload: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsHeartbeat reports whether frame is the reserved heartbeat object
func IsHeartbeat(frame []byte) bool {
	trimmed := strings.TrimSpace(string(frame))
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, TypeHeartbeat) {
		return false
	}

	var peek struct {
		Type string `json:"type"`
		ID   any    `json:"id"`
	}
	if err := json.Unmarshal([]byte(trimmed), &peek); err != nil {
		return false
	}
	return peek.Type == TypeHeartbeat && peek.ID == nil
}

func normalizeID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case json.Number:
		return id.String(), true
	case float64:
		return fmt.Sprintf("%v", id), true
	case int, int64:
		return fmt.Sprintf("%d", id), true
	default:
		return "", false
	}
}

// applyDefaults fills fields the dashboard relies on but the backend may omit
func applyDefaults(r Record) Record {
	if status, ok := r[FieldStatus].(string); !ok || strings.TrimSpace(status) == "" {
		r[FieldStatus] = DefaultStatus
	}
	return r
}
