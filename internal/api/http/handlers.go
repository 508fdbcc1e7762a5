// Package http implements the gateway's REST surface: session CRUD and
// state CRUD calling straight into the session manager and session
// operations.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/enginegate/gateway/internal/domain/session"
	"github.com/enginegate/gateway/internal/engine"
	"github.com/enginegate/gateway/internal/infrastructure/logging"
	"github.com/enginegate/gateway/internal/state"
)

// Handlers carries the dependencies of the REST endpoints.
type Handlers struct {
	manager *session.Manager
	store   state.Store
	logger  *logging.Logger
	started time.Time
}

// NewHandlers creates the REST handler set.
func NewHandlers(manager *session.Manager, store state.Store, logger *logging.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		store:   store,
		logger:  logger.Named("http"),
		started: time.Now(),
	}
}

// sessionInfo is the JSON projection of a session.
type sessionInfo struct {
	ID           string                 `json:"id"`
	Config       session.Config         `json:"config"`
	State        session.LifecycleState `json:"state"`
	LastActivity time.Time              `json:"last_activity"`
	ObjectCount  int                    `json:"object_count"`
}

func toInfo(sess *session.Session) sessionInfo {
	return sessionInfo{
		ID:           sess.ID(),
		Config:       sess.Config(),
		State:        sess.State(),
		LastActivity: sess.LastActivity(),
		ObjectCount:  len(sess.Objects()),
	}
}

// Health reports process liveness and session stats.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(h.started).String(),
		"sessions": h.manager.Stats(),
	})
}

// CreateSession allocates a new disconnected session.
func (h *Handlers) CreateSession(c *gin.Context) {
	var cfg session.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if cfg.EngineURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "engine_url is required"})
		return
	}

	sess, err := h.manager.Create(cfg)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toInfo(sess))
}

// ListSessions returns all live sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.manager.List()
	out := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toInfo(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// GetSession returns one session.
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  toInfo(sess),
		"objects":  sess.Objects(),
		"metadata": sess.Metadata(),
	})
}

// DeleteSession disconnects and removes a session.
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.manager.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ConnectSession establishes the session's engine connection.
func (h *Handlers) ConnectSession(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := sess.Connect(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toInfo(sess))
}

// DisconnectSession closes the session's engine connection.
func (h *Handlers) DisconnectSession(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := sess.Disconnect(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toInfo(sess))
}

type createObjectRequest struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

// CreateObject creates a remote object in the session.
func (h *Handlers) CreateObject(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	var req createObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}

	handle, err := sess.CreateObject(c.Request.Context(), req.Type, req.Properties)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"handle": handle})
}

// DeleteObject destroys a remote object.
func (h *Handlers) DeleteObject(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := sess.DeleteObject(c.Request.Context(), c.Param("handle")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type invokeRequest struct {
	Handle string        `json:"handle"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Invoke calls a method on a remote object.
func (h *Handlers) Invoke(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Handle == "" || req.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "handle and method are required"})
		return
	}

	result, err := sess.Invoke(c.Request.Context(), req.Handle, req.Method, req.Params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

type saveStateRequest struct {
	Name string `json:"name"`
}

// SaveState snapshots the session.
func (h *Handlers) SaveState(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	var req saveStateRequest
	c.ShouldBindJSON(&req) // body optional

	snapshotID, err := sess.SaveState(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"snapshot_id": snapshotID})
}

// RestoreState restores a snapshot into the session.
func (h *Handlers) RestoreState(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := sess.RestoreState(c.Request.Context(), c.Param("snapshotId")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot_id": c.Param("snapshotId")})
}

// ListSnapshots returns all stored snapshots.
func (h *Handlers) ListSnapshots(c *gin.Context) {
	snaps, err := h.store.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	type snapshotInfo struct {
		ID          string    `json:"id"`
		Name        string    `json:"name,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
		ObjectCount int       `json:"object_count"`
		EngineState bool      `json:"engine_state"`
	}
	out := make([]snapshotInfo, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snapshotInfo{
			ID:          snap.ID,
			Name:        snap.Name,
			CreatedAt:   snap.CreatedAt,
			ObjectCount: len(snap.Registry),
			EngineState: snap.HasEngineState(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": out})
}

// GetSnapshot returns one stored snapshot.
func (h *Handlers) GetSnapshot(c *gin.Context) {
	snap, err := h.store.Load(c.Request.Context(), c.Param("snapshotId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DeleteSnapshot purges one stored snapshot.
func (h *Handlers) DeleteSnapshot(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("snapshotId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMetadata returns the session's metadata map.
func (h *Handlers) GetMetadata(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": sess.Metadata()})
}

type metadataValue struct {
	Value interface{} `json:"value"`
}

// SetMetadata stores one metadata key.
func (h *Handlers) SetMetadata(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var req metadataValue
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sess.MetadataSet(c.Param("key"), req.Value)
	c.Status(http.StatusNoContent)
}

// DeleteMetadata removes one metadata key.
func (h *Handlers) DeleteMetadata(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !sess.MetadataDelete(c.Param("key")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "metadata key not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// fail converts an operation error into the right status code and a short
// message.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrObjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
	case errors.Is(err, session.ErrStateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
	case errors.Is(err, session.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "session not connected"})
	case errors.Is(err, session.ErrCapacityExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "session capacity exceeded"})
	default:
		var engErr *engine.Error
		if errors.As(err, &engErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "engine call failed"})
			return
		}
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
