package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthChecker reports database reachability.
// Satisfied by *storage.Prober.
type HealthChecker interface {
	Healthy() bool
}

// BreakerReporter reports the storage circuit breaker state.
// Satisfied by *storage.DB.
type BreakerReporter interface {
	BreakerState() string
}

// HealthHandler serves the liveness endpoint used by load balancers.
type HealthHandler struct {
	checker HealthChecker
	breaker BreakerReporter
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checker HealthChecker, breaker BreakerReporter) *HealthHandler {
	return &HealthHandler{checker: checker, breaker: breaker}
}

// RegisterRoutes registers the health endpoint.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Breaker  string `json:"breaker"`
}

// Health returns 503 while the database is unreachable or the breaker is open.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "up", Breaker: h.breaker.BreakerState()}
	status := http.StatusOK
	if !h.checker.Healthy() {
		resp.Database = "down"
	}
	if resp.Database == "down" || resp.Breaker == "open" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
