package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/enginegate/gateway/internal/domain/session"
	"github.com/enginegate/gateway/internal/infrastructure/logging"
	"github.com/enginegate/gateway/internal/infrastructure/monitoring"
	"github.com/enginegate/gateway/internal/shared/id"
)

// Transport is the write side of one client connection. gorilla's *Conn
// satisfies it; tests use fakes.
type Transport interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one connected realtime client.
type Client struct {
	ID id.ClientID

	conn    Transport
	writeMu sync.Mutex
}

// Push writes a frame to the client's transport. Writes are serialized per
// client because gorilla connections allow only one concurrent writer.
func (c *Client) Push(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub owns the client connection records and the bidirectional subscription
// index between clients and sessions. The two index maps are mirror images
// of each other; every mutation updates both sides under one lock, and empty
// session-side sets are pruned immediately.
type Hub struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu             sync.RWMutex
	clients        map[id.ClientID]*Client
	clientSessions map[id.ClientID]map[string]struct{}
	sessionClients map[string]map[id.ClientID]struct{}
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(logger *logging.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		logger:         logger.Named("ws.hub"),
		metrics:        metrics,
		clients:        make(map[id.ClientID]*Client),
		clientSessions: make(map[id.ClientID]map[string]struct{}),
		sessionClients: make(map[string]map[id.ClientID]struct{}),
	}
}

// AddClient registers a transport and returns its connection record.
func (h *Hub) AddClient(conn Transport) *Client {
	client := &Client{
		ID:   id.NewClientID(),
		conn: conn,
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Set(float64(total))
	}
	h.logger.Debug("Client connected", zap.String("client_id", client.ID.String()), zap.Int("clients", total))
	return client
}

// RemoveClient drops the connection record and every subscription the
// client held, pruning empty reverse-index entries.
func (h *Hub) RemoveClient(clientID id.ClientID) {
	h.mu.Lock()
	delete(h.clients, clientID)
	for sessionID := range h.clientSessions[clientID] {
		h.dropPairLocked(clientID, sessionID)
	}
	delete(h.clientSessions, clientID)
	total := len(h.clients)
	subs := h.subscriptionCountLocked()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Set(float64(total))
		h.metrics.WSSubscription.Set(float64(subs))
	}
	h.logger.Debug("Client disconnected", zap.String("client_id", clientID.String()))
}

// Subscribe adds the client↔session pair to both index sides.
func (h *Hub) Subscribe(clientID id.ClientID, sessionID string) {
	h.mu.Lock()
	if _, ok := h.clientSessions[clientID]; !ok {
		h.clientSessions[clientID] = make(map[string]struct{})
	}
	h.clientSessions[clientID][sessionID] = struct{}{}
	if _, ok := h.sessionClients[sessionID]; !ok {
		h.sessionClients[sessionID] = make(map[id.ClientID]struct{})
	}
	h.sessionClients[sessionID][clientID] = struct{}{}
	subs := h.subscriptionCountLocked()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSSubscription.Set(float64(subs))
	}
}

// Unsubscribe removes the pair from both index sides.
func (h *Hub) Unsubscribe(clientID id.ClientID, sessionID string) {
	h.mu.Lock()
	if sessions, ok := h.clientSessions[clientID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.clientSessions, clientID)
		}
	}
	h.dropPairLocked(clientID, sessionID)
	subs := h.subscriptionCountLocked()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSSubscription.Set(float64(subs))
	}
}

// DropSession removes every subscription for a deleted session.
func (h *Hub) DropSession(sessionID string) {
	h.mu.Lock()
	for clientID := range h.sessionClients[sessionID] {
		if sessions, ok := h.clientSessions[clientID]; ok {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.clientSessions, clientID)
			}
		}
	}
	delete(h.sessionClients, sessionID)
	subs := h.subscriptionCountLocked()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSSubscription.Set(float64(subs))
	}
}

// Subscriptions returns the session ids the client is subscribed to.
func (h *Hub) Subscriptions(clientID id.ClientID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.clientSessions[clientID]))
	for sessionID := range h.clientSessions[clientID] {
		out = append(out, sessionID)
	}
	return out
}

// Subscribers returns the clients subscribed to the session.
func (h *Hub) Subscribers(sessionID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.sessionClients[sessionID]))
	for clientID := range h.sessionClients[sessionID] {
		if client, ok := h.clients[clientID]; ok {
			out = append(out, client)
		}
	}
	return out
}

// Broadcast pushes a frame to every subscriber of the session. A push
// failure to one client is logged and never aborts delivery to the rest.
func (h *Hub) Broadcast(sessionID string, v interface{}) {
	for _, client := range h.Subscribers(sessionID) {
		if err := client.Push(v); err != nil {
			h.logger.Warn("Push to subscriber failed",
				zap.String("client_id", client.ID.String()),
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
}

// Run consumes the manager's event stream, fanning each event out to the
// session's subscribers. Removal events also clear the session's
// subscriptions, after delivery, so subscribers see the removal fire.
func (h *Hub) Run(events <-chan session.Event) {
	for ev := range events {
		out := frame(string(ev.Kind), "", ev.SessionID, ev.Payload)
		h.Broadcast(ev.SessionID, out)
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues("out", string(ev.Kind)).Inc()
		}
		if ev.Kind == session.EventRemoved {
			h.DropSession(ev.SessionID)
		}
	}
}

// dropPairLocked removes the reverse-index half of a subscription and
// prunes the session's set when it empties. Callers hold h.mu.
func (h *Hub) dropPairLocked(clientID id.ClientID, sessionID string) {
	clients, ok := h.sessionClients[sessionID]
	if !ok {
		return
	}
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(h.sessionClients, sessionID)
	}
}

func (h *Hub) subscriptionCountLocked() int {
	n := 0
	for _, sessions := range h.clientSessions {
		n += len(sessions)
	}
	return n
}
