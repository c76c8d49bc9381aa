package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	pinger  Pinger
	version string
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(logger *slog.Logger, pinger Pinger, version string) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		pinger:  pinger,
		version: version,
	}
}

// Health обрабатывает GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := api.HealthResponse{Status: "ok", Version: h.version}
	status := http.StatusOK

	if err := h.pinger.Ping(ctx); err != nil {
		h.logger.Error("Storage ping failed", "error", err)
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, h.logger, status, resp)
}
