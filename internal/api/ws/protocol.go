package ws

// Inbound command types.
const (
	CmdSubscribe    = "subscribe"
	CmdUnsubscribe  = "unsubscribe"
	CmdCreateObject = "create-object"
	CmdDeleteObject = "delete-object"
	CmdInvoke       = "invoke"
	CmdSaveState    = "save-state"
	CmdRestoreState = "restore-state"
	CmdPing         = "ping"
)

// Command is one inbound client frame. ID is an optional correlation id
// echoed on every response or error the command produces.
type Command struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id,omitempty"`
	SessionID  string                 `json:"sessionId,omitempty"`
	ObjectType string                 `json:"objectType,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Handle     string                 `json:"handle,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Params     []interface{}          `json:"params,omitempty"`
	Name       string                 `json:"name,omitempty"`
	SnapshotID string                 `json:"snapshotId,omitempty"`
}

// frame builds an outbound message, echoing the correlation id and session
// id when present.
func frame(msgType, correlationID, sessionID string, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		out[k] = v
	}
	out["type"] = msgType
	if correlationID != "" {
		out["id"] = correlationID
	}
	if sessionID != "" {
		out["sessionId"] = sessionID
	}
	return out
}

// errorFrame builds the error response for a command.
func errorFrame(correlationID, message string) map[string]interface{} {
	out := map[string]interface{}{
		"type":  "error",
		"error": message,
	}
	if correlationID != "" {
		out["id"] = correlationID
	}
	return out
}
