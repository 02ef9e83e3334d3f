package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Pinger checks that a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Features describes optional integrations for the views.
type Features struct {
	Admin         bool            `json:"admin"`
	OpenAI        bool            `json:"openai"`
	DurableAssets bool            `json:"durableAssets"`
	Notifications bool            `json:"notifications"`
	ProposalPrice decimal.Decimal `json:"proposalPrice"`
}

// HealthHandler handles health check and view configuration endpoints.
type HealthHandler struct {
	store    Pinger
	mode     ModeReporter
	features Features
	timeout  time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(st Pinger, mode ModeReporter, features Features) *HealthHandler {
	return &HealthHandler{store: st, mode: mode, features: features, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its persistence backend.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if h.mode != nil {
		status["mode"] = h.mode.Mode()
	}

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// GetConfig returns the server configuration for the views.
func (h *HealthHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"features": h.features,
	}
	if h.mode != nil {
		resp["mode"] = h.mode.Mode()
	}
	JSON(w, http.StatusOK, resp)
}

// RegisterHealth registers the health check and config routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/config", h.GetConfig)
}
