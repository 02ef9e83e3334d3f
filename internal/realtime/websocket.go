package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/ashureev/designhaus/internal/identity"
	"github.com/ashureev/designhaus/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// ModeReporter exposes the persistence mode shown in the views.
type ModeReporter interface {
	Mode() store.Mode
}

// WebSocketHandler streams one session and its message log to a view.
type WebSocketHandler struct {
	store         store.Store
	registry      *Registry
	mode          ModeReporter
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler. mode may be nil.
func NewWebSocketHandler(st store.Store, registry *Registry, mode ModeReporter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		store:         st,
		registry:      registry,
		mode:          mode,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        slog.Default(),
	}
}

type wsMessage struct {
	Type string `json:"type"`
}

// ServeCustomer streams the session resolved by the identity middleware.
func (h *WebSocketHandler) ServeCustomer(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		http.Error(w, `{"error":"no session"}`, http.StatusUnauthorized)
		return
	}
	h.serve(w, r, sessionID, "customer")
}

// ServeAdmin streams the session named in the URL.
func (h *WebSocketHandler) ServeAdmin(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ok, err := h.store.VerifySession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, `{"error":"failed to load session"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	h.serve(w, r, sessionID, "admin")
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, sessionID, viewer string) {
	h.logger.Info("WebSocket connection request", "session_id", sessionID, "viewer", viewer, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.registry.Register(sessionID, viewer, ws)
	defer h.registry.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writer := NewFrameWriter(func(ctx context.Context, data []byte) error {
		return ws.Write(ctx, websocket.MessageText, data)
	}, h.logger)
	defer writer.Close()

	if h.mode != nil {
		writer.Send(Frame{Type: FrameMode, Data: h.mode.Mode()})
	}

	cancelSession, err := h.store.SubscribeToSession(ctx, sessionID, func(s domain.Session) {
		writer.Send(Frame{Type: FrameSession, Data: s})
	})
	if err != nil {
		h.logger.Error("Failed to subscribe to session", "error", err, "session_id", sessionID)
		writer.Send(Frame{Type: FrameError, Data: "subscription_failed"})
		return
	}
	defer cancelSession()

	cancelMessages, err := h.store.SubscribeToMessages(ctx, sessionID, func(msgs []domain.Message) {
		writer.Send(Frame{Type: FrameMessages, Data: msgs})
	})
	if err != nil {
		h.logger.Error("Failed to subscribe to messages", "error", err, "session_id", sessionID)
		writer.Send(Frame{Type: FrameError, Data: "subscription_failed"})
		return
	}
	defer cancelMessages()

	go func() {
		select {
		case <-writer.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	h.readLoop(ctx, ws, writer, sessionID)
	h.logger.Info("Realtime stream ended", "session_id", sessionID, "viewer", viewer)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, writer *FrameWriter, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			writer.Send(Frame{Type: FramePong})
			if h.mode != nil {
				writer.Send(Frame{Type: FrameMode, Data: h.mode.Mode()})
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
