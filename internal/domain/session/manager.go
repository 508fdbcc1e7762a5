package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enginegate/gateway/internal/auth"
	"github.com/enginegate/gateway/internal/engine"
	"github.com/enginegate/gateway/internal/infrastructure/logging"
	"github.com/enginegate/gateway/internal/infrastructure/monitoring"
	"github.com/enginegate/gateway/internal/shared/id"
	"github.com/enginegate/gateway/internal/state"
)

// ManagerConfig tunes the session manager.
type ManagerConfig struct {
	// MaxSessions caps the number of live sessions. Zero means unlimited.
	MaxSessions int

	// IdleTimeout is the inactivity window after which a session is
	// evicted. Zero disables idle GC.
	IdleTimeout time.Duration

	// GCInterval is how often the idle sweep runs.
	GCInterval time.Duration

	// EventBuffer sizes the manager's event stream.
	EventBuffer int

	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Manager owns the set of live sessions. It is the only component that
// creates or destroys them, and it re-broadcasts their events on a single
// stream consumed by the realtime multiplexer.
type Manager struct {
	cfg     ManagerConfig
	store   state.Store
	dialer  engine.Dialer
	headers auth.HeaderSource
	logger  *logging.Logger
	metrics *monitoring.Metrics
	clock   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	// watchers counts live engine-watch goroutines across all sessions.
	// Shutdown waits for it before closing the event stream, since watchers
	// keep publishing buffered engine events after their session is torn
	// down.
	watchers sync.WaitGroup

	events chan Event

	gcOnce   sync.Once
	gcCancel context.CancelFunc
	gcDone   chan struct{}
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig, store state.Store, dialer engine.Dialer,
	headers auth.HeaderSource, logger *logging.Logger) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		dialer:   dialer,
		headers:  headers,
		logger:   logger.Named("session.manager"),
		clock:    clock,
		sessions: make(map[string]*Session),
		events:   make(chan Event, buffer),
	}
}

// WithMetrics adds metrics tracking to the manager and its sessions.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Events returns the manager's event stream. Events are dropped, with a log
// line, when the consumer falls behind.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Create allocates a new disconnected session. It does not auto-connect.
func (m *Manager) Create(cfg Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, m.cfg.MaxSessions)
	}

	sessionID := id.NewSessionID().String()
	sess := newSession(sessionID, cfg, m.store, m.dialer, m.headers, m.clock, m.logger, m.publish)
	sess.metrics = m.metrics
	sess.watchers = &m.watchers
	m.sessions[sessionID] = sess

	if m.metrics != nil {
		m.metrics.SessionsCreated.Inc()
		m.metrics.SessionsActive.Set(float64(len(m.sessions)))
	}

	m.logger.Info("Session created",
		zap.String("session_id", sessionID),
		zap.String("app_id", cfg.AppID),
		zap.Int("live_sessions", len(m.sessions)),
	)
	return sess, nil
}

// Get returns the session for id or ErrSessionNotFound.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// Delete disconnects and removes a session, then emits a removal event so
// the multiplexer drops its subscriptions. Deleting an unknown id is not an
// error; GC sweeps and explicit deletes can race on the same id.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if ok && m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(remaining))
	}

	if !ok {
		return nil
	}

	// destroy waits on the session's operation lock, so an in-flight call
	// finishes before teardown.
	sess.destroy(ctx)

	m.logger.Info("Session removed", zap.String("session_id", sessionID))
	m.publish(Event{Kind: EventRemoved, SessionID: sessionID})
	return nil
}

// StartGC launches the periodic idle sweep. It is a no-op when IdleTimeout
// is zero.
func (m *Manager) StartGC() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	m.gcOnce.Do(func() {
		interval := m.cfg.GCInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ctx, cancel := context.WithCancel(context.Background())
		m.gcCancel = cancel
		m.gcDone = make(chan struct{})

		go func() {
			defer close(m.gcDone)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.SweepIdle(ctx)
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

// SweepIdle evicts every session idle longer than the configured timeout.
// It returns the number of evicted sessions.
func (m *Manager) SweepIdle(ctx context.Context) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	now := m.clock()

	m.mu.RLock()
	var expired []string
	for sessionID, sess := range m.sessions {
		if now.Sub(sess.LastActivity()) > m.cfg.IdleTimeout {
			expired = append(expired, sessionID)
		}
	}
	m.mu.RUnlock()

	for _, sessionID := range expired {
		m.logger.Info("Evicting idle session", zap.String("session_id", sessionID))
		m.Delete(ctx, sessionID)
		if m.metrics != nil {
			m.metrics.SessionsEvicted.Inc()
		}
	}
	return len(expired)
}

// Stats summarizes the live session table.
type Stats struct {
	Total   int                    `json:"total"`
	ByState map[LifecycleState]int `json:"by_state"`
}

// Stats returns per-state counts of live sessions.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Total:   len(m.sessions),
		ByState: make(map[LifecycleState]int),
	}
	for _, sess := range m.sessions {
		stats.ByState[sess.State()]++
	}
	return stats
}

// Shutdown stops GC, disconnects every session, and closes the event
// stream.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.gcCancel != nil {
		m.gcCancel()
		<-m.gcDone
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.destroy(ctx)
	}

	// destroy closes each engine handle, which ends its watcher's event
	// channel; wait for the watchers to drain their backlog before closing
	// the stream they publish to.
	m.watchers.Wait()
	close(m.events)
	m.logger.Info("Session manager drained", zap.Int("sessions_closed", len(sessions)))
}

// publish forwards an event to the stream without ever blocking a session
// operation.
func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("Event stream full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("session_id", ev.SessionID),
		)
	}
}
