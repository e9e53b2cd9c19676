// Package audit provides tamper-evident audit logging for timestamping
// operations.
//
// Audit records are separate from technical logs: they are written as
// JSONL, chained with SHA-256 hashes for integrity verification, and
// fsynced on every write. An audit failure fails the operation.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	// Client-side events.
	EventRequest  EventType = "TSA_REQUEST"
	EventResponse EventType = "TSA_RESPONSE"
	EventVerify   EventType = "TSA_VERIFY"

	// Responder-side events.
	EventSign  EventType = "TSA_SIGN"
	EventServe EventType = "TSA_SERVE"

	// Receipt events.
	EventReceiptIssued EventType = "RECEIPT_ISSUED"
)

// Result is the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor identifies who performed the action.
type Actor struct {
	Type string `json:"type"` // "user", "service"
	ID   string `json:"id"`
	Host string `json:"host,omitempty"`
}

// Object identifies the timestamp artifact acted upon.
type Object struct {
	Type     string `json:"type"` // "request", "token", "response", "receipt"
	Serial   string `json:"serial,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Context carries operation details.
type Context struct {
	Profile   string `json:"profile,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	Policy    string `json:"policy,omitempty"`
	GenTime   string `json:"gen_time,omitempty"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Nonce     bool   `json:"nonce,omitempty"`
	Verified  bool   `json:"verified,omitempty"`
}

// Event is a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC3339 UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash"`
}

// NewEvent builds an event with the current UTC timestamp and the local
// user as actor.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}

	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor: Actor{
			Type: "user",
			ID:   username,
			Host: hostname,
		},
		Result: result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if e.Actor.Type == "" || e.Actor.ID == "" {
		return fmt.Errorf("actor type and id are required")
	}
	if e.Result == "" {
		return fmt.Errorf("result is required")
	}
	return nil
}

// CanonicalJSON serializes the event without the Hash field so the hash
// can be computed over it.
func (e *Event) CanonicalJSON() ([]byte, error) {
	type eventForHash struct {
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Context   Context   `json:"context,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}

	return json.Marshal(eventForHash{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Context:   e.Context,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}

// JSON returns the full event as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
