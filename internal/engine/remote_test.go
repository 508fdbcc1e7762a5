package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngineServer is a scripted JSON-RPC websocket endpoint.
type fakeEngineServer struct {
	t *testing.T

	mu      sync.Mutex
	conn    *websocket.Conn
	headers http.Header
	calls   []rpcRequest

	// handle returns the result or error for an incoming call.
	handle func(req rpcRequest) (interface{}, *rpcError)

	srv *httptest.Server
}

func newFakeEngineServer(t *testing.T, handle func(req rpcRequest) (interface{}, *rpcError)) *fakeEngineServer {
	f := &fakeEngineServer{t: t, handle: handle}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		f.mu.Lock()
		f.conn = conn
		f.headers = r.Header.Clone()
		f.mu.Unlock()

		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			f.mu.Lock()
			f.calls = append(f.calls, req)
			f.mu.Unlock()

			resp := map[string]interface{}{"id": req.ID}
			if f.handle != nil {
				result, rpcErr := f.handle(req)
				if rpcErr != nil {
					resp["error"] = rpcErr
				} else if result != nil {
					resp["result"] = result
				}
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEngineServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeEngineServer) push(v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotNil(f.t, f.conn)
	require.NoError(f.t, f.conn.WriteJSON(v))
}

func dialTestSession(t *testing.T, f *fakeEngineServer, appID string, headers http.Header) Session {
	t.Helper()
	d := NewWSDialer()
	sess, err := d.Dial(context.Background(), Config{URL: f.url(), AppID: appID}, headers)
	require.NoError(t, err)
	require.NoError(t, sess.Connect(context.Background()))
	t.Cleanup(func() { sess.Close(context.Background()) })
	return sess
}

func TestConnectOpensApp(t *testing.T) {
	f := newFakeEngineServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		if req.Method == "OpenApp" {
			return map[string]string{"appId": "analytics"}, nil
		}
		return nil, nil
	})

	headers := http.Header{}
	headers.Set("X-Api-Key", "secret")
	dialTestSession(t, f, "analytics", headers)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.calls, 1)
	assert.Equal(t, "OpenApp", f.calls[0].Method)
	assert.Equal(t, "secret", f.headers.Get("X-Api-Key"))
}

func TestConnectWithoutAppIDSkipsOpen(t *testing.T) {
	f := newFakeEngineServer(t, nil)
	dialTestSession(t, f, "", nil)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.calls)
}

func TestConnectRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewWSDialer()
	sess, err := d.Dial(context.Background(), Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	require.NoError(t, err)

	err = sess.Connect(context.Background())
	require.Error(t, err)

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, http.StatusUnauthorized, engErr.Code)
}

func TestCreateObjectRoundTrip(t *testing.T) {
	f := newFakeEngineServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		if req.Method == "CreateObject" {
			return map[string]string{"handle": "obj-7"}, nil
		}
		return nil, nil
	})
	sess := dialTestSession(t, f, "", nil)

	handle, err := sess.CreateObject(context.Background(), "query", map[string]interface{}{"q": 1})
	require.NoError(t, err)
	assert.Equal(t, "obj-7", handle)
}

func TestCreateObjectEmptyHandle(t *testing.T) {
	f := newFakeEngineServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		return map[string]string{}, nil
	})
	sess := dialTestSession(t, f, "", nil)

	_, err := sess.CreateObject(context.Background(), "query", nil)
	assert.Error(t, err)
}

func TestCallErrorMapsToEngineError(t *testing.T) {
	f := newFakeEngineServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		return nil, &rpcError{Code: 42, Message: "no such method"}
	})
	sess := dialTestSession(t, f, "", nil)

	_, err := sess.Invoke(context.Background(), "obj-1", "run", nil)
	require.Error(t, err)

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, 42, engErr.Code)
	assert.Equal(t, "Invoke", engErr.Op)
}

func TestStateRoundTrip(t *testing.T) {
	var stored json.RawMessage
	f := newFakeEngineServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		switch req.Method {
		case "SetState":
			params, _ := json.Marshal(req.Params)
			var body struct {
				State json.RawMessage `json:"state"`
			}
			json.Unmarshal(params, &body)
			stored = body.State
			return nil, nil
		case "GetState":
			return map[string]interface{}{"state": stored}, nil
		}
		return nil, nil
	})
	sess := dialTestSession(t, f, "", nil)
	ctx := context.Background()

	require.NoError(t, sess.SetState(ctx, []byte(`{"tables":3}`)))
	blob, err := sess.GetState(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tables":3}`, string(blob))
}

func TestPushEvents(t *testing.T) {
	f := newFakeEngineServer(t, nil)
	sess := dialTestSession(t, f, "", nil)

	f.push(map[string]interface{}{"method": "OnSuspended"})
	f.push(map[string]interface{}{
		"method": "OnNotification",
		"params": map[string]interface{}{"progress": 50},
	})
	f.push(map[string]interface{}{
		"method": "OnError",
		"params": map[string]interface{}{"message": "out of memory"},
	})

	var got []Event
	for len(got) < 3 {
		select {
		case ev := <-sess.Events():
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for push events")
		}
	}

	assert.Equal(t, EventSuspended, got[0].Kind)
	assert.Equal(t, EventNotification, got[1].Kind)
	assert.JSONEq(t, `{"progress":50}`, string(got[1].Payload))
	assert.Equal(t, EventError, got[2].Kind)
	assert.Contains(t, got[2].Err.Error(), "out of memory")
}

func TestServerCloseEmitsClosedEvent(t *testing.T) {
	f := newFakeEngineServer(t, nil)
	sess := dialTestSession(t, f, "", nil)

	f.mu.Lock()
	f.conn.Close()
	f.mu.Unlock()

	for {
		select {
		case ev, ok := <-sess.Events():
			require.True(t, ok, "events channel closed without a closed event")
			if ev.Kind == EventClosed {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for closed event")
		}
	}
}

func TestCloseUnblocksPendingCall(t *testing.T) {
	// A server that never answers.
	blockSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer blockSrv.Close()

	d := NewWSDialer()
	sess, err := d.Dial(context.Background(), Config{URL: "ws" + strings.TrimPrefix(blockSrv.URL, "http")}, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := sess.Invoke(context.Background(), "obj-1", "run", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	sess.Close(context.Background())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pending call was not unblocked by close")
	}
}

func TestCallContextCancellation(t *testing.T) {
	blockSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer blockSrv.Close()

	d := NewWSDialer()
	sess, err := d.Dial(context.Background(), Config{URL: "ws" + strings.TrimPrefix(blockSrv.URL, "http")}, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Connect(context.Background()))
	defer sess.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = sess.Invoke(ctx, "obj-1", "run", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialRequiresURL(t *testing.T) {
	d := NewWSDialer()
	_, err := d.Dial(context.Background(), Config{}, nil)
	assert.Error(t, err)
}
