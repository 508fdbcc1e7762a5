package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer dials engine sessions over websocket.
type WSDialer struct {
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration

	// EventBuffer sizes the push event channel.
	EventBuffer int
}

// NewWSDialer creates a dialer with production defaults.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		HandshakeTimeout: 10 * time.Second,
		EventBuffer:      64,
	}
}

// Dial constructs an engine session for the endpoint. The connection itself
// is established by Session.Connect.
func (d *WSDialer) Dial(_ context.Context, cfg Config, headers http.Header) (Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("engine: endpoint URL is required")
	}
	buffer := d.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &wsSession{
		cfg:     cfg,
		headers: headers,
		dialer: &websocket.Dialer{
			HandshakeTimeout: d.HandshakeTimeout,
		},
		pending: make(map[uint64]chan rpcResponse),
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}, nil
}

// rpcRequest is the outbound wire frame.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse covers both replies and pushes; pushes carry no ID.
type rpcResponse struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsSession implements Session over a websocket JSON-RPC channel.
type wsSession struct {
	cfg     Config
	headers http.Header
	dialer  *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcResponse
	nextID    atomic.Uint64

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ Session = (*wsSession)(nil)

// Connect dials the endpoint and opens the configured application.
func (s *wsSession) Connect(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, s.headers)
	if err != nil {
		if resp != nil {
			return &Error{Op: "connect", Code: resp.StatusCode, Message: err.Error()}
		}
		return &Error{Op: "connect", Message: err.Error()}
	}
	s.conn = conn

	go s.readLoop()

	if s.cfg.AppID != "" {
		var opened struct {
			AppID string `json:"appId"`
		}
		if err := s.call(ctx, "OpenApp", map[string]interface{}{"appId": s.cfg.AppID}, &opened); err != nil {
			s.teardown()
			return err
		}
	}
	return nil
}

// Close terminates the websocket. Safe to call more than once.
func (s *wsSession) Close(_ context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.writeMu.Lock()
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
			err = s.conn.Close()
		}
	})
	return err
}

func (s *wsSession) CreateObject(ctx context.Context, objType string, properties map[string]interface{}) (string, error) {
	var out struct {
		Handle string `json:"handle"`
	}
	params := map[string]interface{}{
		"type":       objType,
		"properties": properties,
	}
	if err := s.call(ctx, "CreateObject", params, &out); err != nil {
		return "", err
	}
	if out.Handle == "" {
		return "", &Error{Op: "createObject", Message: "engine returned empty handle"}
	}
	return out.Handle, nil
}

func (s *wsSession) DestroyObject(ctx context.Context, handle string) error {
	return s.call(ctx, "DestroyObject", map[string]interface{}{"handle": handle}, nil)
}

func (s *wsSession) Invoke(ctx context.Context, handle, method string, params []interface{}) (*InvokeResult, error) {
	var out InvokeResult
	req := map[string]interface{}{
		"handle": handle,
		"method": method,
		"params": params,
	}
	if err := s.call(ctx, "Invoke", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *wsSession) GetState(ctx context.Context) ([]byte, error) {
	var out struct {
		State json.RawMessage `json:"state"`
	}
	if err := s.call(ctx, "GetState", nil, &out); err != nil {
		return nil, err
	}
	return out.State, nil
}

func (s *wsSession) SetState(ctx context.Context, blob []byte) error {
	return s.call(ctx, "SetState", map[string]interface{}{"state": json.RawMessage(blob)}, nil)
}

func (s *wsSession) Events() <-chan Event {
	return s.events
}

// call issues one request and blocks until its reply, context expiry, or
// connection loss.
func (s *wsSession) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := s.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	s.writeMu.Lock()
	err := s.conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		return &Error{Op: method, Message: err.Error()}
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return &Error{Op: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return &Error{Op: method, Message: fmt.Sprintf("malformed result: %v", err)}
			}
		}
		return nil
	case <-s.done:
		return &Error{Op: method, Message: "connection closed"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop dispatches replies to pending calls and pushes to the event
// channel. It owns the events channel and closes it on exit.
func (s *wsSession) readLoop() {
	defer close(s.events)

	for {
		var frame rpcResponse
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
				// Deliberate close; no closed event.
			default:
				s.emit(Event{Kind: EventClosed})
			}
			s.failPending()
			return
		}

		if frame.ID != 0 {
			s.pendingMu.Lock()
			ch, ok := s.pending[frame.ID]
			s.pendingMu.Unlock()
			if ok {
				ch <- frame
			}
			continue
		}

		switch frame.Method {
		case "OnSuspended":
			s.emit(Event{Kind: EventSuspended})
		case "OnClosed":
			s.emit(Event{Kind: EventClosed})
		case "OnNotification":
			s.emit(Event{Kind: EventNotification, Payload: frame.Params})
		case "OnError":
			var body struct {
				Message string `json:"message"`
			}
			json.Unmarshal(frame.Params, &body)
			s.emit(Event{Kind: EventError, Err: &Error{Op: "push", Message: body.Message}})
		}
	}
}

// emit drops events when the consumer is not keeping up rather than block
// the read loop.
func (s *wsSession) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// failPending unblocks callers waiting on a reply that will never arrive.
func (s *wsSession) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		select {
		case ch <- rpcResponse{ID: id, Error: &rpcError{Message: "connection closed"}}:
		default:
		}
	}
}

func (s *wsSession) teardown() {
	s.Close(context.Background())
}
