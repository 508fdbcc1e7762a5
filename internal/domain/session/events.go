package session

// EventKind enumerates the session lifecycle and data events emitted to the
// manager's event stream.
type EventKind string

const (
	EventConnected     EventKind = "connected"
	EventDisconnected  EventKind = "disconnected"
	EventSuspended     EventKind = "session-suspended"
	EventClosed        EventKind = "session-closed"
	EventNotification  EventKind = "notification"
	EventObjectCreated EventKind = "object-created"
	EventObjectDeleted EventKind = "object-deleted"
	EventStateSaved    EventKind = "state-saved"
	EventStateRestored EventKind = "state-restored"
	EventRemoved       EventKind = "session-removed"
)

// Event is one entry on the manager's event stream. Payload contents depend
// on the kind; the session id is always set.
type Event struct {
	Kind      EventKind              `json:"type"`
	SessionID string                 `json:"sessionId"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
