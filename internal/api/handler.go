// Package api provides HTTP handlers for the DesignHaus API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/ashureev/designhaus/internal/identity"
	"github.com/ashureev/designhaus/internal/store"
	"github.com/ashureev/designhaus/internal/studio"
)

// maxBodyBytes bounds request bodies; inline attachments are data URLs.
const maxBodyBytes = 32 << 20

// ModeReporter exposes the active persistence mode.
type ModeReporter interface {
	Mode() store.Mode
}

// Handler provides common handler utilities.
type Handler struct {
	store  store.Store
	studio *studio.Service
	mode   ModeReporter
	admin  *identity.AdminAuth
	isDev  bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(st store.Store, svc *studio.Service, mode ModeReporter, admin *identity.AdminAuth, isDev bool) *Handler {
	return &Handler{
		store:  st,
		studio: svc,
		mode:   mode,
		admin:  admin,
		isDev:  isDev,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body too large", domain.ErrPayloadTooLarge)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return nil
}

// statusFor maps workflow errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidMessage), errors.Is(err, domain.ErrInvalidData):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoPendingDesign), errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, studio.ErrGenerationInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, studio.ErrGenerationFailed), errors.Is(err, studio.ErrRelocationFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStorageFull):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it with its mapped status. Internal errors
// are reported with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	attrs := []any{"error", err, "path", r.URL.Path}
	if id := identity.SessionIDFromContext(r.Context()); id != "" {
		attrs = append(attrs, "session_id", id)
	}

	if status >= http.StatusInternalServerError {
		slog.Error(msg, attrs...)
	} else {
		slog.Warn(msg, attrs...)
	}

	if status == http.StatusInternalServerError {
		Error(w, status, msg)
		return
	}
	Error(w, status, err.Error())
}
