// Package session implements the gateway's model contexts: logical sessions
// bound to one remote engine connection, with a per-session object registry,
// snapshot/restore, and a manager enforcing capacity and idle eviction.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enginegate/gateway/internal/auth"
	"github.com/enginegate/gateway/internal/domain/registry"
	"github.com/enginegate/gateway/internal/engine"
	"github.com/enginegate/gateway/internal/infrastructure/logging"
	"github.com/enginegate/gateway/internal/infrastructure/monitoring"
	"github.com/enginegate/gateway/internal/state"
)

// LifecycleState is the connection state of a session.
type LifecycleState string

const (
	StateDisconnected LifecycleState = "disconnected"
	StateConnecting   LifecycleState = "connecting"
	StateConnected    LifecycleState = "connected"
	StateSuspended    LifecycleState = "suspended"
	StateClosed       LifecycleState = "closed"
)

// Config describes the remote endpoint a session binds to.
type Config struct {
	EngineURL   string `json:"engine_url"`
	AppID       string `json:"app_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AuthType    string `json:"auth_type,omitempty"`
}

// Session owns one object registry and at most one live engine connection.
//
// All mutating operations (Connect, Disconnect, CreateObject, DeleteObject,
// Invoke, SaveState, RestoreState) are serialized on a per-session mutex;
// operations on different sessions proceed independently. Read-only lookups
// run without the operation lock.
type Session struct {
	id      string
	config  Config
	logger  *logging.Logger
	store   state.Store
	dialer  engine.Dialer
	headers auth.HeaderSource
	clock   func() time.Time
	emit    func(Event)
	metrics *monitoring.Metrics

	// watchers, when set by the manager, tracks the lifetime of watchEngine
	// goroutines so shutdown can wait for them.
	watchers *sync.WaitGroup

	// opMu serializes mutating operations end to end, including the engine
	// calls they suspend on. Interleaving e.g. DeleteObject with SaveState
	// could snapshot a half-deleted registry.
	opMu sync.Mutex

	mu           sync.RWMutex
	lifecycle    LifecycleState
	eng          engine.Session
	objects      *registry.Registry
	metadata     map[string]interface{}
	lastActivity time.Time
}

func newSession(sessionID string, cfg Config, store state.Store, dialer engine.Dialer,
	headers auth.HeaderSource, clock func() time.Time, logger *logging.Logger, emit func(Event)) *Session {
	if clock == nil {
		clock = time.Now
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Session{
		id:           sessionID,
		config:       cfg,
		logger:       logger.With(zap.String("session_id", sessionID)),
		store:        store,
		dialer:       dialer,
		headers:      headers,
		clock:        clock,
		emit:         emit,
		lifecycle:    StateDisconnected,
		objects:      registry.New(),
		metadata:     make(map[string]interface{}),
		lastActivity: clock(),
	}
}

// ID returns the session's immutable identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session's endpoint configuration.
func (s *Session) Config() Config { return s.config }

// State returns the current lifecycle state.
func (s *Session) State() LifecycleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

// LastActivity returns the timestamp of the most recent state-mutating or
// invocation operation; it drives idle eviction.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Objects returns a copy of the current object registry contents.
func (s *Session) Objects() []registry.Entry {
	return s.objects.Snapshot()
}

// Connect establishes a fresh engine connection. No-op when already
// connected. Auth headers are resolved at call time, never cached across
// reconnects.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.lifecycle == StateConnected {
		s.mu.Unlock()
		return nil
	}
	stale := s.eng
	s.eng = nil
	s.lifecycle = StateConnecting
	s.lastActivity = s.clock()
	s.mu.Unlock()

	if stale != nil {
		// Handle left over from a suspension; best effort.
		if err := stale.Close(ctx); err != nil {
			s.logger.Debug("Failed to close stale engine handle", zap.Error(err))
		}
	}

	headers, err := s.headers.Headers(ctx, s.config.AuthType)
	if err != nil {
		s.setLifecycle(StateDisconnected)
		return fmt.Errorf("resolve auth headers: %w", err)
	}

	es, err := s.dialer.Dial(ctx, engine.Config{URL: s.config.EngineURL, AppID: s.config.AppID}, headers)
	if err != nil {
		s.setLifecycle(StateDisconnected)
		return fmt.Errorf("dial engine: %w", err)
	}
	err = es.Connect(ctx)
	s.observeEngineCall("connect", err)
	if err != nil {
		// Discard the partially constructed handle; no partial state is
		// retained on a failed attempt.
		es.Close(ctx)
		s.setLifecycle(StateDisconnected)
		return fmt.Errorf("engine connect: %w", err)
	}

	s.mu.Lock()
	s.eng = es
	s.lifecycle = StateConnected
	s.mu.Unlock()

	if s.watchers != nil {
		s.watchers.Add(1)
	}
	go s.watchEngine(es)

	s.logger.Info("Session connected", zap.String("app_id", s.config.AppID))
	s.emit(Event{Kind: EventConnected, SessionID: s.id})
	return nil
}

// Disconnect closes the engine connection. No-op when not connected. Close
// failures are logged and swallowed: the session always ends up
// Disconnected.
func (s *Session) Disconnect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.disconnectLocked(ctx)
}

func (s *Session) disconnectLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.lifecycle != StateConnected {
		s.mu.Unlock()
		return nil
	}
	es := s.eng
	s.eng = nil
	s.lifecycle = StateDisconnected
	s.lastActivity = s.clock()
	s.mu.Unlock()

	if es != nil {
		if err := es.Close(ctx); err != nil {
			s.logger.Warn("Engine close failed during disconnect", zap.Error(err))
		}
	}

	s.logger.Info("Session disconnected")
	s.emit(Event{Kind: EventDisconnected, SessionID: s.id})
	return nil
}

// CreateObject creates a remote object and registers its engine-assigned
// handle.
func (s *Session) CreateObject(ctx context.Context, objType string, properties map[string]interface{}) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.touch()

	es, err := s.engineHandle()
	if err != nil {
		return "", err
	}

	handle, err := es.CreateObject(ctx, objType, properties)
	s.observeEngineCall("create_object", err)
	if err != nil {
		return "", fmt.Errorf("create %s object: %w", objType, err)
	}
	if err := s.objects.Register(handle, objType, properties); err != nil {
		return "", err
	}

	s.emit(Event{Kind: EventObjectCreated, SessionID: s.id, Payload: map[string]interface{}{
		"handle":     handle,
		"objectType": objType,
	}})
	return handle, nil
}

// DeleteObject destroys a remote object. The registry entry is removed only
// after the engine confirms destruction.
func (s *Session) DeleteObject(ctx context.Context, handle string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.touch()

	if !s.objects.Has(handle) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, handle)
	}
	es, err := s.engineHandle()
	if err != nil {
		return err
	}

	err = es.DestroyObject(ctx, handle)
	s.observeEngineCall("destroy_object", err)
	if err != nil {
		return fmt.Errorf("destroy object %s: %w", handle, err)
	}
	s.objects.Unregister(handle)

	s.emit(Event{Kind: EventObjectDeleted, SessionID: s.id, Payload: map[string]interface{}{
		"handle": handle,
	}})
	return nil
}

// Invoke calls a method on a remote object. When the result carries a
// properties payload, the registry entry is overwritten last-write-wins.
func (s *Session) Invoke(ctx context.Context, handle, method string, params []interface{}) (*engine.InvokeResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.touch()

	if !s.objects.Has(handle) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, handle)
	}
	es, err := s.engineHandle()
	if err != nil {
		return nil, err
	}

	result, err := es.Invoke(ctx, handle, method, params)
	s.observeEngineCall("invoke", err)
	if err != nil {
		return nil, fmt.Errorf("invoke %s on %s: %w", method, handle, err)
	}
	if result != nil && result.Properties != nil {
		s.objects.Update(handle, result.Properties)
	}
	return result, nil
}

// SaveState captures the registry and metadata unconditionally and the
// engine state only while connected, then persists the snapshot. Allowed in
// every lifecycle state.
func (s *Session) SaveState(ctx context.Context, name string) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.touch()

	snap := &state.Snapshot{
		Name:     name,
		Registry: s.objects.Snapshot(),
		Metadata: s.metadataCopy(),
	}

	if es, err := s.engineHandle(); err == nil {
		blob, err := es.GetState(ctx)
		s.observeEngineCall("get_state", err)
		if err != nil {
			return "", fmt.Errorf("export engine state: %w", err)
		}
		snap.EngineState = blob
	}

	snapshotID, err := s.store.Save(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("persist snapshot: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SnapshotsSaved.Inc()
	}

	s.logger.Info("State saved",
		zap.String("snapshot_id", snapshotID),
		zap.String("name", name),
		zap.Int("objects", len(snap.Registry)),
	)
	s.emit(Event{Kind: EventStateSaved, SessionID: s.id, Payload: map[string]interface{}{
		"snapshotId": snapshotID,
		"name":       name,
	}})
	return snapshotID, nil
}

// RestoreState replaces the registry and metadata wholesale from the
// snapshot. The engine side is restored only when the session is connected
// and the snapshot carries an engine blob; a connected restore without one
// is not an error, but the restored handles are not validated against the
// live engine.
func (s *Session) RestoreState(ctx context.Context, snapshotID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.touch()

	snap, err := s.store.Load(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", snapshotID, err)
	}

	s.objects.Restore(snap.Registry)
	s.replaceMetadata(snap.Metadata)

	engineRestored := false
	if es, err := s.engineHandle(); err == nil {
		if snap.HasEngineState() {
			err := es.SetState(ctx, snap.EngineState)
			s.observeEngineCall("set_state", err)
			if err != nil {
				return fmt.Errorf("import engine state: %w", err)
			}
			engineRestored = true
		} else {
			// Restored handles may not match the live engine's object set;
			// the caller is responsible for reconciling.
			s.MetadataSet("restored_without_engine_state", true)
			s.logger.Warn("Restored registry without engine state while connected",
				zap.String("snapshot_id", snapshotID))
		}
	}

	if s.metrics != nil {
		s.metrics.SnapshotsRestored.Inc()
	}
	s.logger.Info("State restored",
		zap.String("snapshot_id", snapshotID),
		zap.Bool("engine_state_restored", engineRestored),
	)
	s.emit(Event{Kind: EventStateRestored, SessionID: s.id, Payload: map[string]interface{}{
		"snapshotId":          snapshotID,
		"engineStateRestored": engineRestored,
	}})
	return nil
}

// MetadataGet returns the value stored under key.
func (s *Session) MetadataGet(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// MetadataSet stores a value under key and bumps activity.
func (s *Session) MetadataSet(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	s.lastActivity = s.clock()
}

// MetadataDelete removes key, reporting whether it was present, and bumps
// activity.
func (s *Session) MetadataDelete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.metadata[key]
	if ok {
		delete(s.metadata, key)
	}
	s.lastActivity = s.clock()
	return ok
}

// Metadata returns a copy of the full metadata map.
func (s *Session) Metadata() map[string]interface{} {
	return s.metadataCopy()
}

// destroy is the manager's teardown path. It acquires the operation lock, so
// it waits for any in-flight operation before disconnecting.
func (s *Session) destroy(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.disconnectLocked(ctx)
}

// watchEngine forwards engine push events into lifecycle transitions and
// session events. It exits when the engine's event channel closes.
func (s *Session) watchEngine(es engine.Session) {
	if s.watchers != nil {
		defer s.watchers.Done()
	}
	for ev := range es.Events() {
		switch ev.Kind {
		case engine.EventSuspended:
			if s.transition(es, StateSuspended) {
				s.logger.Warn("Engine session suspended")
				s.emit(Event{Kind: EventSuspended, SessionID: s.id})
			}
		case engine.EventClosed:
			if s.transition(es, StateClosed) {
				s.logger.Warn("Engine session closed")
				s.emit(Event{Kind: EventClosed, SessionID: s.id})
			}
		case engine.EventNotification:
			s.emit(Event{Kind: EventNotification, SessionID: s.id, Payload: map[string]interface{}{
				"notification": ev.Payload,
			}})
		case engine.EventError:
			// Engine errors never change lifecycle state by themselves;
			// forward them as notification-class events.
			s.logger.Warn("Engine reported error", zap.Error(ev.Err))
			s.emit(Event{Kind: EventNotification, SessionID: s.id, Payload: map[string]interface{}{
				"error": ev.Err.Error(),
			}})
		}
	}
}

// transition applies an engine-driven lifecycle change, ignoring events from
// a handle that is no longer current (a reconnect replaced it).
func (s *Session) transition(es engine.Session, to LifecycleState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eng != es {
		return false
	}
	switch to {
	case StateSuspended:
		if s.lifecycle != StateConnected {
			return false
		}
	case StateClosed:
		if s.lifecycle != StateConnected && s.lifecycle != StateSuspended {
			return false
		}
		s.eng = nil
	}
	s.lifecycle = to
	return true
}

// engineHandle returns the live engine session or ErrNotConnected.
func (s *Session) engineHandle() (engine.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lifecycle != StateConnected || s.eng == nil {
		return nil, ErrNotConnected
	}
	return s.eng, nil
}

func (s *Session) setLifecycle(to LifecycleState) {
	s.mu.Lock()
	s.lifecycle = to
	s.mu.Unlock()
}

// touch is called at the start of every mutating operation so idle GC cannot
// evict a session whose operation has already begun.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.clock()
	s.mu.Unlock()
}

// observeEngineCall records one engine call outcome.
func (s *Session) observeEngineCall(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.EngineCalls.WithLabelValues(op).Inc()
	if err != nil {
		s.metrics.EngineErrors.WithLabelValues(op).Inc()
	}
}

func (s *Session) metadataCopy() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *Session) replaceMetadata(metadata map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		s.metadata[k] = v
	}
}
