// Package realtime pushes session and message state to browser views over
// WebSocket and Server-Sent Events.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks active WebSocket connections per chat session. A session
// may be watched by several views at once (customer tab, admin dashboard).
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[*websocket.Conn]string),
	}
}

// Register adds a connection watching sessionID.
func (m *Registry) Register(sessionID, viewer string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[*websocket.Conn]string)
	}
	m.active[sessionID][conn] = viewer
	slog.Info("Realtime view registered", "session_id", sessionID, "viewer", viewer)
}

// Unregister removes a connection.
func (m *Registry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[sessionID]; ok {
		if viewer, exists := conns[conn]; exists {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(m.active, sessionID)
			}
			slog.Info("Realtime view unregistered", "session_id", sessionID, "viewer", viewer)
		}
	}
}

// Count returns the number of views watching sessionID.
func (m *Registry) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// Viewers returns the viewer labels watching sessionID.
func (m *Registry) Viewers(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.active[sessionID]))
	for _, v := range m.active[sessionID] {
		out = append(out, v)
	}
	return out
}

// CloseAll terminates every active connection, used on shutdown.
func (m *Registry) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid, conns := range m.active {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		slog.Info("Realtime views closed", "session_id", sid, "count", len(conns))
	}
	m.active = make(map[string]map[*websocket.Conn]string)
}
