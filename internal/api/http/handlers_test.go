package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enginegate/gateway/internal/auth"
	"github.com/enginegate/gateway/internal/domain/session"
	"github.com/enginegate/gateway/internal/engine"
	"github.com/enginegate/gateway/internal/infrastructure/logging"
	"github.com/enginegate/gateway/internal/state"
)

type stubEngine struct {
	mu     sync.Mutex
	next   int
	failed bool
	events chan engine.Event
}

func (e *stubEngine) Connect(ctx context.Context) error { return nil }
func (e *stubEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events != nil {
		close(e.events)
		e.events = nil
	}
	return nil
}

func (e *stubEngine) CreateObject(ctx context.Context, objType string, properties map[string]interface{}) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed {
		return "", &engine.Error{Op: "create_object", Message: "boom"}
	}
	e.next++
	return fmt.Sprintf("obj-%d", e.next), nil
}

func (e *stubEngine) DestroyObject(ctx context.Context, handle string) error { return nil }

func (e *stubEngine) Invoke(ctx context.Context, handle, method string, params []interface{}) (*engine.InvokeResult, error) {
	return &engine.InvokeResult{Value: json.RawMessage(`"ok"`)}, nil
}

func (e *stubEngine) GetState(ctx context.Context) ([]byte, error)    { return []byte(`{}`), nil }
func (e *stubEngine) SetState(ctx context.Context, blob []byte) error { return nil }
func (e *stubEngine) Events() <-chan engine.Event                     { return e.events }

type stubDialer struct {
	mu   sync.Mutex
	last *stubEngine
}

func (d *stubDialer) Dial(ctx context.Context, cfg engine.Config, headers http.Header) (engine.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = &stubEngine{events: make(chan engine.Event)}
	return d.last, nil
}

type testEnv struct {
	router  *gin.Engine
	manager *session.Manager
	store   state.Store
	dialer  *stubDialer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewNop()
	store := state.NewMemoryStore()
	dialer := &stubDialer{}
	manager := session.NewManager(session.ManagerConfig{MaxSessions: 4}, store, dialer, &auth.Static{}, logger)

	h := NewHandlers(manager, store, logger)
	router := gin.New()
	router.GET("/health", h.Health)
	router.POST("/sessions", h.CreateSession)
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/:id", h.GetSession)
	router.DELETE("/sessions/:id", h.DeleteSession)
	router.POST("/sessions/:id/connect", h.ConnectSession)
	router.POST("/sessions/:id/disconnect", h.DisconnectSession)
	router.POST("/sessions/:id/objects", h.CreateObject)
	router.DELETE("/sessions/:id/objects/:handle", h.DeleteObject)
	router.POST("/sessions/:id/invoke", h.Invoke)
	router.POST("/sessions/:id/state", h.SaveState)
	router.POST("/sessions/:id/state/:snapshotId/restore", h.RestoreState)
	router.GET("/state", h.ListSnapshots)
	router.GET("/state/:snapshotId", h.GetSnapshot)
	router.DELETE("/state/:snapshotId", h.DeleteSnapshot)
	router.GET("/sessions/:id/metadata", h.GetMetadata)
	router.PUT("/sessions/:id/metadata/:key", h.SetMetadata)
	router.DELETE("/sessions/:id/metadata/:key", h.DeleteMetadata)

	return &testEnv{router: router, manager: manager, store: store, dialer: dialer}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (e *testEnv) createConnected(t *testing.T) string {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/sessions", map[string]interface{}{
		"engine_url": "ws://engine.local/app",
		"app_id":     "analytics",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := out["id"].(string)

	w, _ = e.do(t, http.MethodPost, "/sessions/"+sessionID+"/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	return sessionID
}

func TestSessionLifecycleOverREST(t *testing.T) {
	env := newTestEnv(t)

	w, out := env.do(t, http.MethodPost, "/sessions", map[string]interface{}{
		"engine_url": "ws://engine.local/app",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := out["id"].(string)
	assert.Equal(t, string(session.StateDisconnected), out["state"])

	w, out = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(session.StateConnected), out["state"])

	w, out = env.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["sessions"], 1)

	w, out = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/disconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(session.StateDisconnected), out["state"])

	w, _ = env.do(t, http.MethodDelete, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = env.do(t, http.MethodGet, "/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/sessions", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCapacityReturns429(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 4; i++ {
		w, _ := env.do(t, http.MethodPost, "/sessions", map[string]interface{}{"engine_url": "ws://e"})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w, _ := env.do(t, http.MethodPost, "/sessions", map[string]interface{}{"engine_url": "ws://e"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestObjectEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.createConnected(t)

	w, out := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/objects", map[string]interface{}{
		"type":       "query",
		"properties": map[string]interface{}{"q": "select 1"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	handle := out["handle"].(string)

	w, out = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/invoke", map[string]interface{}{
		"handle": handle,
		"method": "run",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, out["result"])

	w, _ = env.do(t, http.MethodDelete, "/sessions/"+sessionID+"/objects/"+handle, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/invoke", map[string]interface{}{
		"handle": handle,
		"method": "run",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestObjectsRequireConnection(t *testing.T) {
	env := newTestEnv(t)

	w, out := env.do(t, http.MethodPost, "/sessions", map[string]interface{}{"engine_url": "ws://e"})
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := out["id"].(string)

	w, _ = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/objects", map[string]interface{}{"type": "query"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEngineFailureMapsTo502(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.createConnected(t)

	env.dialer.last.failed = true
	w, _ := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/objects", map[string]interface{}{"type": "query"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStateEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.createConnected(t)

	w, _ := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/objects", map[string]interface{}{"type": "query"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, out := env.do(t, http.MethodPost, "/sessions/"+sessionID+"/state", map[string]interface{}{"name": "checkpoint"})
	require.Equal(t, http.StatusCreated, w.Code)
	snapshotID := out["snapshot_id"].(string)

	w, out = env.do(t, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snaps := out["snapshots"].([]interface{})
	require.Len(t, snaps, 1)
	first := snaps[0].(map[string]interface{})
	assert.Equal(t, "checkpoint", first["name"])
	assert.Equal(t, true, first["engine_state"])

	w, _ = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/state/"+snapshotID+"/restore", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodPost, "/sessions/"+sessionID+"/state/snap_missing/restore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodGet, "/state/"+snapshotID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodDelete, "/state/"+snapshotID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = env.do(t, http.MethodGet, "/state/"+snapshotID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetadataEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.createConnected(t)

	w, _ := env.do(t, http.MethodPut, "/sessions/"+sessionID+"/metadata/owner", map[string]interface{}{"value": "alice"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, out := env.do(t, http.MethodGet, "/sessions/"+sessionID+"/metadata", nil)
	require.Equal(t, http.StatusOK, w.Code)
	metadata := out["metadata"].(map[string]interface{})
	assert.Equal(t, "alice", metadata["owner"])

	w, _ = env.do(t, http.MethodDelete, "/sessions/"+sessionID+"/metadata/owner", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = env.do(t, http.MethodDelete, "/sessions/"+sessionID+"/metadata/owner", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.createConnected(t)

	w, out := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])

	stats := out["sessions"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["total"])
}
