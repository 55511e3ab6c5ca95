package stream

import (
	"encoding/json"
	"time"

	"github.com/X9X0/LabLink-sub003/compress"
	"github.com/X9X0/LabLink-sub003/errors"
)

// Priority is the delivery ordering tag attached to every message. The set is
// closed and strictly ordered: Critical > High > Normal > Low.
type Priority int

const (
	// PriorityLow is bulk telemetry that may be dropped under backpressure
	PriorityLow Priority = iota
	// PriorityNormal is the default level for stream data
	PriorityNormal
	// PriorityHigh is for control responses and capability announcements
	PriorityHigh
	// PriorityCritical is for alarms; never dropped before lower levels
	PriorityCritical
)

// drainOrder lists priority levels from most to least urgent
var drainOrder = [...]Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// String returns the wire name of the priority level
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a member of the closed priority set
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority converts a wire name into a Priority, rejecting unknown values
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, errors.WrapInvalid(errors.ErrUnknownPriority, "stream", "ParsePriority", s)
	}
}

// Priorities returns all priority levels from lowest to highest
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}
}

// Message is the envelope queued for delivery to one connection. Priority and
// compression are typed fields set by the API rather than injected payload
// keys, so producer payloads can never collide with transport metadata.
//
// Ownership: a Message is created by the producer, copied per destination
// queue by the manager, and consumed exactly once by that connection's send
// loop (or dropped).
type Message struct {
	Type        string
	Priority    Priority
	Compression compress.Kind
	Timestamp   time.Time
	Payload     map[string]any
}

// NewMessage creates a message envelope with the given wire type and payload.
// Priority defaults to Normal and compression to None.
func NewMessage(msgType string, payload map[string]any) *Message {
	return &Message{
		Type:        msgType,
		Priority:    PriorityNormal,
		Compression: compress.None,
		Timestamp:   time.Now(),
		Payload:     payload,
	}
}

// Clone returns a shallow-copied envelope with its own payload map. Nested
// payload values are shared; producers must not mutate them after sending.
func (m *Message) Clone() *Message {
	payload := make(map[string]any, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}
	return &Message{
		Type:        m.Type,
		Priority:    m.Priority,
		Compression: m.Compression,
		Timestamp:   m.Timestamp,
		Payload:     payload,
	}
}

// WireObject returns the JSON-ready object sent to clients: the payload plus
// the envelope's type and timestamp. Payload keys named "type" or "timestamp"
// are preserved if the producer set them explicitly.
func (m *Message) WireObject() map[string]any {
	obj := make(map[string]any, len(m.Payload)+2)
	for k, v := range m.Payload {
		obj[k] = v
	}
	if _, exists := obj["type"]; !exists {
		obj["type"] = m.Type
	}
	if _, exists := obj["timestamp"]; !exists {
		obj["timestamp"] = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return obj
}

// Encode serializes the wire object to JSON text
func (m *Message) Encode() (string, error) {
	data, err := json.Marshal(m.WireObject())
	if err != nil {
		return "", errors.WrapInvalid(err, "Message", "Encode", "marshal wire object")
	}
	return string(data), nil
}
