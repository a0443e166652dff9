package web

import (
	"context"
	"net/http"

	"github.com/uchat-ai/uchat/internal/log"
)

// ReadinessChecker reports dependency readiness. Implemented by the
// postgres archive's Ping.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the probe endpoints.
type HealthHandler struct {
	readiness ReadinessChecker
	logger    log.Logger
}

// NewHealthHandler creates a health handler. readiness may be nil when the
// gateway runs without an archive; readiness then only proves liveness.
func NewHealthHandler(readiness ReadinessChecker, logger log.Logger) *HealthHandler {
	return &HealthHandler{readiness: readiness, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readinessProbe)
}

func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HealthHandler) readinessProbe(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil {
		if err := h.readiness.Ping(r.Context()); err != nil {
			h.logger.Error("readiness check failed", "error", err)
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
