// Package event defines the wire envelope shared by monitors and the
// hub. The payload is a closed union keyed by the event type: every
// variant carries session metadata only, never file contents, prompts,
// model responses, shell commands, or search patterns. The privacy
// filter enforces that property; this package defines the shapes.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type classifies an event. The set is closed; code switching on it
// handles every member.
type Type string

const (
	TypeSession  Type = "session"
	TypeActivity Type = "activity"
	TypeTool     Type = "tool"
	TypeAgent    Type = "agent"
	TypeSummary  Type = "summary"
	TypeError    Type = "error"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeSession, TypeActivity, TypeTool, TypeAgent, TypeSummary, TypeError:
		return true
	}
	return false
}

// RedactionMarker replaces file basenames whose extension falls
// outside the configured allowlist.
const RedactionMarker = "[redacted]"

// Payload is the per-type variant record.
type Payload interface {
	isPayload()
}

// SessionPayload marks a session boundary.
type SessionPayload struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project,omitempty"`
	Status    string `json:"status"` // "started" or "ended"
}

// ActivityPayload records that conversation activity occurred. Only a
// free-text category survives; the message itself never leaves the
// monitor.
type ActivityPayload struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project,omitempty"`
	Category  string `json:"category"`
}

// ToolPayload records a tool invocation. Command and Pattern are
// populated by the parser and must be cleared by the privacy filter
// before the event leaves the monitor.
type ToolPayload struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project,omitempty"`
	Tool      string `json:"tool"`
	Status    string `json:"status"`
	File      string `json:"file,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Command   string `json:"command,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

// AgentPayload records a sub-agent dispatch.
type AgentPayload struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project,omitempty"`
	AgentType string `json:"agent_type"`
	Status    string `json:"status"`
}

// SummaryPayload marks the terminal summary of a session. The summary
// text is model output and is deliberately absent.
type SummaryPayload struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project,omitempty"`
}

// ErrorPayload records that the assistant reported an error.
type ErrorPayload struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project,omitempty"`
	Category  string `json:"category"`
}

func (SessionPayload) isPayload()  {}
func (ActivityPayload) isPayload() {}
func (ToolPayload) isPayload()     {}
func (AgentPayload) isPayload()    {}
func (SummaryPayload) isPayload()  {}
func (ErrorPayload) isPayload()    {}

// Event is the wire envelope: {id, source, timestamp, type, payload}.
type Event struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	Payload   Payload   `json:"payload"`
}

// New constructs an event with a fresh ID and the given timestamp,
// normalized to UTC.
func New(source string, typ Type, ts time.Time, p Payload) Event {
	return Event{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: ts.UTC(),
		Type:      typ,
		Payload:   p,
	}
}

// Project returns the project field of the payload, or "" when the
// variant carries none.
func (e Event) Project() string {
	switch p := e.Payload.(type) {
	case SessionPayload:
		return p.Project
	case ActivityPayload:
		return p.Project
	case ToolPayload:
		return p.Project
	case AgentPayload:
		return p.Project
	case SummaryPayload:
		return p.Project
	case ErrorPayload:
		return p.Project
	}
	return ""
}

// SessionID returns the session identifier carried by the payload.
func (e Event) SessionID() string {
	switch p := e.Payload.(type) {
	case SessionPayload:
		return p.SessionID
	case ActivityPayload:
		return p.SessionID
	case ToolPayload:
		return p.SessionID
	case AgentPayload:
		return p.SessionID
	case SummaryPayload:
		return p.SessionID
	case ErrorPayload:
		return p.SessionID
	}
	return ""
}

// Validate checks the envelope fields the hub requires before
// accepting an event.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event: id is required")
	}
	if e.Source == "" {
		return fmt.Errorf("event: source is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("event: unknown type %q", e.Type)
	}
	if e.Payload == nil {
		return fmt.Errorf("event: payload is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event: timestamp is required")
	}
	return nil
}

// UnmarshalJSON decodes the payload variant selected by the type field.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Source    string          `json:"source"`
		Timestamp time.Time       `json:"timestamp"`
		Type      Type            `json:"type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.ID = raw.ID
	e.Source = raw.Source
	e.Timestamp = raw.Timestamp
	e.Type = raw.Type

	if len(raw.Payload) == 0 {
		e.Payload = nil
		return nil
	}

	switch raw.Type {
	case TypeSession:
		var p SessionPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case TypeActivity:
		var p ActivityPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case TypeTool:
		var p ToolPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case TypeAgent:
		var p AgentPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case TypeSummary:
		var p SummaryPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	default:
		return fmt.Errorf("event: unknown type %q", raw.Type)
	}
	return nil
}

// DecodeBatch parses a submission body: either a single event object
// or a JSON array of events.
func DecodeBatch(body []byte) ([]Event, error) {
	trimmed := firstNonSpace(body)
	if trimmed == '[' {
		var events []Event
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("event: decode batch: %w", err)
		}
		return events, nil
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("event: decode event: %w", err)
	}
	return []Event{ev}, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}
