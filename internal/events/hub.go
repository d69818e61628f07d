package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

const wsWriteTimeout = 5 * time.Second

// Hub fans events out to WebSocket clients. It subscribes to the Bridge
// and pushes every event to every connection; filtering is client-side.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*websocket.Conn
	bridge *Bridge
	logger logging.Logger
}

// NewHub creates a hub and subscribes it to the bridge.
func NewHub(bridge *Bridge, logger logging.Logger) *Hub {
	h := &Hub{
		conns:  make(map[string]*websocket.Conn),
		bridge: bridge,
		logger: logging.OrNop(logger),
	}
	bridge.Subscribe(h)
	return h
}

// Register adds a connection, replaying retained history first so late
// joiners see recent activity. Returns the connection id.
func (h *Hub) Register(conn *websocket.Conn) string {
	id := uuid.New().String()

	for _, event := range h.bridge.History() {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Debug("history replay to %s stopped: %v", id, err)
			break
		}
	}

	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	h.logger.Debug("websocket client %s connected (%d total)", id, h.Count())
	return id
}

// Unregister drops and closes a connection.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// HandleEvent implements Subscriber. Dead connections are pruned as they
// fail; the write deadline keeps a slow client from stalling the emitter.
func (h *Hub) HandleEvent(event domain.Event) {
	h.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(h.conns))
	for id, conn := range h.conns {
		conns[id] = conn
	}
	h.mu.RUnlock()

	var dead []string
	for id, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		h.logger.Debug("dropping websocket client %s", id)
		h.Unregister(id)
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.Close()
		delete(h.conns, id)
	}
}
