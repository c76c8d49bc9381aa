package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError отправляет ответ с ошибкой в формате api.ErrorResponse
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string, details any) {
	writeJSON(w, logger, status, api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Details: details,
	})
}
