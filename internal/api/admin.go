package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AdminHandler serves the admin dashboard.
type AdminHandler struct {
	*Handler
	sessionStream http.Handler
}

// NewAdminHandler creates an admin handler. sessionStream serves the SSE
// session list and may be nil.
func NewAdminHandler(base *Handler, sessionStream http.Handler) *AdminHandler {
	return &AdminHandler{Handler: base, sessionStream: sessionStream}
}

// RegisterRoutes registers admin routes. Everything except login and logout
// requires the admin cookie.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.admin.Require)
			r.Get("/sessions", h.ListSessions)
			if h.sessionStream != nil {
				r.Handle("/sessions/stream", h.sessionStream)
			}
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Get("/messages", h.ListMessages)
				r.Post("/messages", h.PostMessage)
				r.Post("/messages/{messageID}/unlock", h.Unlock)
				r.Post("/generate", h.Generate)
				r.Post("/refine", h.Refine)
				r.Post("/discard", h.Discard)
				r.Post("/proposal", h.SendProposal)
			})
		})
	})
}

type loginRequest struct {
	Passphrase string `json:"passphrase"`
}

// Login unlocks the dashboard for the correct passphrase.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !h.admin.Login(w, req.Passphrase) {
		slog.Warn("Admin login rejected", "ip", r.RemoteAddr)
		Error(w, http.StatusUnauthorized, "access denied")
		return
	}
	slog.Info("Admin logged in", "ip", r.RemoteAddr)
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Logout clears the admin cookie.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.admin.Logout(w)
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions returns all sessions, newest first.
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		writeError(w, r, err, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	JSON(w, http.StatusOK, sessions)
}

// GetSession returns one session.
func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, "failed to load session")
		return
	}
	if session == nil {
		Error(w, http.StatusNotFound, domain.ErrSessionNotFound.Error())
		return
	}
	JSON(w, http.StatusOK, session)
}

// ListMessages returns a session's chat log.
func (h *AdminHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	ok, err := h.store.VerifySession(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err, "failed to load messages")
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, domain.ErrSessionNotFound.Error())
		return
	}

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

type adminMessageRequest struct {
	Content string `json:"content"`
}

// PostMessage appends a message written by the admin.
func (h *AdminHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req adminMessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err, "invalid message")
		return
	}
	msg, err := h.studio.AdminMessage(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeError(w, r, err, "failed to send message")
		return
	}
	JSON(w, http.StatusCreated, msg)
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// Generate renders a new pending design for the session.
func (h *AdminHandler) Generate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req generateRequest
	if err := decode(w, r, &req); err != nil || req.Prompt == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}

	design, err := h.studio.GenerateDesign(r.Context(), sessionID, req.Prompt)
	if err != nil {
		writeError(w, r, err, "failed to generate design")
		return
	}
	JSON(w, http.StatusOK, design)
}

type refineRequest struct {
	Instructions string `json:"instructions"`
}

// Refine marks the pending design as refined, regenerating it when
// instructions are given.
func (h *AdminHandler) Refine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err, "invalid request")
			return
		}
	}
	design, err := h.studio.Refine(r.Context(), chi.URLParam(r, "id"), req.Instructions)
	if err != nil {
		writeError(w, r, err, "failed to refine design")
		return
	}
	JSON(w, http.StatusOK, design)
}

// Discard drops the pending design.
func (h *AdminHandler) Discard(w http.ResponseWriter, r *http.Request) {
	if err := h.studio.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err, "failed to discard design")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type proposalRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// SendProposal turns the pending design into a locked, priced offer.
func (h *AdminHandler) SendProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err, "invalid proposal")
			return
		}
	}
	msg, err := h.studio.SendProposal(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeError(w, r, err, "failed to send proposal")
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// Unlock reveals a proposal after payment.
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	msg, err := h.studio.Unlock(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, r, err, "failed to unlock proposal")
		return
	}
	JSON(w, http.StatusOK, msg)
}
