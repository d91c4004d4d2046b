package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/textgate/textgate/internal/sms_dispatch_service/app"
	"github.com/textgate/textgate/internal/sms_dispatch_service/domain"
)

// HealthHandler exposes the cached provider health of each instance to an
// external monitoring aggregator.
type HealthHandler struct {
	registry *app.Registry
	logger   *slog.Logger
}

func NewHealthHandler(registry *app.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		logger:   logger.With("handler", "health"),
	}
}

func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/health", h.handleCheck)
	r.Get("/v1/health/{instance}", h.handleCheck)
}

func (h *HealthHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instance")
	if name == "" {
		name = "default"
	}
	inst, ok := h.registry.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, GenericErrorResponse{Error: "unknown instance", Details: name})
		return
	}

	status, description, err := inst.Probe.Check(r.Context())
	if err != nil {
		// Capability mismatches mean the instance is misconfigured; surface
		// that as a server error, not a health status.
		h.logger.Error("Health check failed fatally", "instance", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, GenericErrorResponse{Error: "health check misconfigured", Details: err.Error()})
		return
	}

	code := http.StatusOK
	if status == domain.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{Instance: name, Status: status, Description: description})
}
