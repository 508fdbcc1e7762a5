// Package engine defines the client surface for a remote analytical engine
// session and a websocket-based implementation of it.
//
// The gateway core only depends on the Session interface; the wire protocol
// is an implementation detail of the Dialer that produced the session.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EventKind enumerates push events emitted by an engine session.
type EventKind string

const (
	EventSuspended    EventKind = "suspended"
	EventClosed       EventKind = "closed"
	EventNotification EventKind = "notification"
	EventError        EventKind = "error"
)

// Event is a push event from the remote engine.
type Event struct {
	Kind    EventKind
	Payload json.RawMessage // notification body, nil otherwise
	Err     error           // set for EventError
}

// InvokeResult carries the raw result of a method invocation. Properties is
// non-nil when the engine returned an updated property set for the object.
type InvokeResult struct {
	Value      json.RawMessage        `json:"value"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Config identifies the remote engine endpoint and application.
type Config struct {
	URL   string
	AppID string
}

// Session is one live connection to a remote engine application.
//
// Connect must be called before any other operation. Implementations close
// the Events channel when the underlying transport terminates.
type Session interface {
	// Connect establishes the connection and opens the remote application.
	Connect(ctx context.Context) error

	// Close terminates the connection. Best-effort; callers treat failures
	// as non-fatal.
	Close(ctx context.Context) error

	// CreateObject creates a remote object and returns its engine-assigned
	// handle.
	CreateObject(ctx context.Context, objType string, properties map[string]interface{}) (string, error)

	// DestroyObject destroys the remote object behind handle.
	DestroyObject(ctx context.Context, handle string) error

	// Invoke calls a method on the remote object.
	Invoke(ctx context.Context, handle, method string, params []interface{}) (*InvokeResult, error)

	// GetState exports the engine-side session state as an opaque blob.
	GetState(ctx context.Context) ([]byte, error)

	// SetState imports a previously exported state blob.
	SetState(ctx context.Context, blob []byte) error

	// Events returns the push event stream for this session.
	Events() <-chan Event
}

// Dialer produces engine sessions for a given endpoint configuration. The
// headers carry credentials obtained from the auth collaborator at call time.
type Dialer interface {
	Dial(ctx context.Context, cfg Config, headers http.Header) (Session, error)
}

// Error wraps a failure returned by the remote engine.
type Error struct {
	Op      string
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("engine: %s failed: %s (code %d)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("engine: %s failed: %s", e.Op, e.Message)
}
