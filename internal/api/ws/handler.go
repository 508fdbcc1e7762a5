package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/enginegate/gateway/internal/domain/session"
	"github.com/enginegate/gateway/internal/engine"
	"github.com/enginegate/gateway/internal/infrastructure/logging"
	"github.com/enginegate/gateway/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy enforced upstream
	},
}

// Handler upgrades client connections and routes their commands onto
// session operations.
type Handler struct {
	hub     *Hub
	manager *session.Manager
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a websocket handler. metrics may be nil.
func NewHandler(hub *Hub, manager *session.Manager, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		hub:     hub,
		manager: manager,
		logger:  logger.Named("ws.handler"),
		metrics: metrics,
	}
}

// HandleConnection handles the websocket upgrade and the client's message
// loop.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	client := h.hub.AddClient(conn)
	defer h.hub.RemoveClient(client.ID)

	reqCtx := c.Request.Context()

	client.Push(map[string]interface{}{
		"type":    "system",
		"message": "Connected to engine gateway",
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues("in", cmd.Type).Inc()
		}
		h.dispatch(reqCtx, client, cmd)
	}
}

// dispatch runs one command and sends exactly one terminal response bearing
// its correlation id. Failures never close the client's transport.
func (h *Handler) dispatch(ctx context.Context, client *Client, cmd Command) {
	if cmd.Type == CmdPing {
		client.Push(frame("pong", cmd.ID, "", nil))
		return
	}

	if cmd.SessionID == "" {
		client.Push(errorFrame(cmd.ID, "sessionId is required"))
		return
	}

	switch cmd.Type {
	case CmdSubscribe:
		// Subscribing to an unknown session is answered with an error, not
		// silently dropped.
		if _, err := h.manager.Get(cmd.SessionID); err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		h.hub.Subscribe(client.ID, cmd.SessionID)
		client.Push(frame("subscribed", cmd.ID, cmd.SessionID, nil))

	case CmdUnsubscribe:
		if _, err := h.manager.Get(cmd.SessionID); err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		h.hub.Unsubscribe(client.ID, cmd.SessionID)
		client.Push(frame("unsubscribed", cmd.ID, cmd.SessionID, nil))

	case CmdCreateObject:
		if cmd.ObjectType == "" {
			client.Push(errorFrame(cmd.ID, "objectType is required"))
			return
		}
		sess, err := h.manager.Get(cmd.SessionID)
		if err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		handle, err := sess.CreateObject(ctx, cmd.ObjectType, cmd.Properties)
		if err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		client.Push(frame("object-created", cmd.ID, cmd.SessionID, map[string]interface{}{
			"handle": handle,
		}))

	case CmdDeleteObject:
		if cmd.Handle == "" {
			client.Push(errorFrame(cmd.ID, "handle is required"))
			return
		}
		sess, err := h.manager.Get(cmd.SessionID)
		if err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		if err := sess.DeleteObject(ctx, cmd.Handle); err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		client.Push(frame("object-deleted", cmd.ID, cmd.SessionID, map[string]interface{}{
			"handle": cmd.Handle,
		}))

	case CmdInvoke:
		if cmd.Handle == "" || cmd.Method == "" {
			client.Push(errorFrame(cmd.ID, "handle and method are required"))
			return
		}
		sess, err := h.manager.Get(cmd.SessionID)
		if err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		result, err := sess.Invoke(ctx, cmd.Handle, cmd.Method, cmd.Params)
		if err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		client.Push(frame("method-result", cmd.ID, cmd.SessionID, map[string]interface{}{
			"result": result,
		}))

	case CmdSaveState:
		sess, err := h.manager.Get(cmd.SessionID)
		if err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		snapshotID, err := sess.SaveState(ctx, cmd.Name)
		if err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		client.Push(frame("state-saved", cmd.ID, cmd.SessionID, map[string]interface{}{
			"snapshotId": snapshotID,
		}))

	case CmdRestoreState:
		if cmd.SnapshotID == "" {
			client.Push(errorFrame(cmd.ID, "snapshotId is required"))
			return
		}
		sess, err := h.manager.Get(cmd.SessionID)
		if err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		if err := sess.RestoreState(ctx, cmd.SnapshotID); err != nil {
			client.Push(errorFrame(cmd.ID, shortMessage(err)))
			return
		}
		client.Push(frame("state-restored", cmd.ID, cmd.SessionID, map[string]interface{}{
			"snapshotId": cmd.SnapshotID,
		}))

	default:
		client.Push(errorFrame(cmd.ID, "unknown command type"))
	}
}

// shortMessage maps an operation failure to the short client-facing error
// text; internal detail stays in the logs.
func shortMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, session.ErrObjectNotFound):
		return "object not found"
	case errors.Is(err, session.ErrStateNotFound):
		return "snapshot not found"
	case errors.Is(err, session.ErrNotConnected):
		return "session not connected"
	case errors.Is(err, session.ErrCapacityExceeded):
		return "session capacity exceeded"
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return "engine call failed"
	}
	return "internal error"
}
