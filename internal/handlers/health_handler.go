package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/phonelink/server/internal/models"
	"github.com/phonelink/server/internal/services"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	hub     *services.Hub
	cleanup *services.CleanupService
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(hub *services.Hub, cleanup *services.CleanupService) *HealthHandler {
	return &HealthHandler{
		hub:     hub,
		cleanup: cleanup,
	}
}

// HealthCheck returns the server health status
// @Summary Health check
// @Description Returns the current health status of the server
// @Tags health
// @Produce json
// @Success 200 {object} models.HealthResponse "Server is healthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Status reports operational counters for diagnostics
// @Summary Server status
// @Description Live connection count and latest cleanup outcome
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/status [get]
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"connections": h.hub.ClientCount(),
		"cleanup":     h.cleanup.GetStatus(),
		"timestamp":   time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
