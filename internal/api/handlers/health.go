package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hydromate/internal/core"
)

// HealthResponse is the JSON liveness envelope.
type HealthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// HealthHandler serves the root banner and the liveness probe.
type HealthHandler struct{}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// RegisterRoutes mounts the liveness endpoints on the given router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/healthz", h.Healthz)
}

// Root handles GET /, returning the plain-text banner existing clients
// probe for.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Water Reminder Backend is running!"))
}

// Healthz handles GET /healthz.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, HealthResponse{Success: true, Status: "ok"})
}
