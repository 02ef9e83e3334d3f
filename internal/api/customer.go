package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/ashureev/designhaus/internal/identity"
	"github.com/ashureev/designhaus/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// CustomerHandler serves the customer chat view. Only GET /api/session
// creates sessions; every other route needs a valid session cookie.
type CustomerHandler struct {
	*Handler
	limiter *middleware.RateLimiter
}

// NewCustomerHandler creates a customer handler. A nil limiter disables
// message rate limiting.
func NewCustomerHandler(base *Handler, limiter *middleware.RateLimiter) *CustomerHandler {
	return &CustomerHandler{Handler: base, limiter: limiter}
}

// RegisterRoutes registers customer routes.
func (h *CustomerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.With(identity.Middleware(h.studio, h.isDev)).Get("/session", h.GetSession)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireSession(h.store, h.isDev))
			r.Post("/session/start", h.StartSession)
			r.Get("/messages", h.ListMessages)

			if h.limiter == nil {
				r.Post("/messages", h.PostMessage)
				return
			}
			r.With(middleware.RateLimit(h.limiter, func(r *http.Request) string {
				return identity.SessionIDFromContext(r.Context())
			})).Post("/messages", h.PostMessage)
		})
	})
}

// GetSession returns the customer's session.
func (h *CustomerHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err, "failed to load session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, domain.ErrSessionNotFound.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"session":   session,
		"created":   identity.CreatedFromContext(r.Context()),
		"introSent": identity.IntroSent(r, sessionID),
	})
}

// StartSession moves the customer past the landing screen and posts the
// welcome message once.
func (h *CustomerHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	introSent := identity.IntroSent(r, sessionID)

	added, err := h.studio.Start(r.Context(), sessionID, introSent)
	if err != nil {
		writeError(w, r, err, "failed to start session")
		return
	}
	if !introSent {
		identity.MarkIntroSent(w, sessionID, h.isDev)
	}
	if added {
		slog.Info("Welcome message sent", "session_id", sessionID)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":      "started",
		"welcomeSent": added,
	})
}

// ListMessages returns the customer's chat log.
func (h *CustomerHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	messages, err := h.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	JSON(w, http.StatusOK, messages)
}

type postMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
	AudioURL    string              `json:"audioUrl"`
}

// PostMessage appends a customer message. Design generation continues in
// the background.
func (h *CustomerHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())

	var req postMessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err, "invalid message")
		return
	}

	msg, err := h.studio.SendMessage(r.Context(), sessionID, req.Content, req.Attachments, req.AudioURL)
	if err != nil {
		writeError(w, r, err, "failed to send message")
		return
	}
	JSON(w, http.StatusCreated, msg)
}
