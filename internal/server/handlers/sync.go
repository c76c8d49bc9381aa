package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/internal/server/syncer"
	"github.com/nnsi/hono-practice-sub007/internal/validation"
	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

// maxBodyBytes ограничение размера тела sync-запроса
const maxBodyBytes = 4 << 20

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger  *slog.Logger
	service syncer.Service
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, service syncer.Service) *SyncHandler {
	return &SyncHandler{
		logger:  logger,
		service: service,
	}
}

// SyncActivityLogs обрабатывает POST /users/v2/activity-logs/sync
func (h *SyncHandler) SyncActivityLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		writeError(w, h.logger, http.StatusUnauthorized, "missing user", nil)
		return
	}

	var req api.SyncActivityLogsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode activity logs request", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Logs == nil {
		writeError(w, h.logger, http.StatusBadRequest, "logs is required", nil)
		return
	}

	items := make([]*models.Mutation, 0, len(req.Logs))
	for i := range req.Logs {
		items = append(items, req.Logs[i].Mutation(ulid.Make().String()))
	}

	h.syncBatch(w, r, userID, models.EntityActivityLog, items)
}

// SyncEntities обрабатывает POST /users/v2/sync/{entityType}
func (h *SyncHandler) SyncEntities(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		writeError(w, h.logger, http.StatusUnauthorized, "missing user", nil)
		return
	}

	entityType, err := models.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, err.Error(), nil)
		return
	}

	var req api.SyncBatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode sync request", "error", err, "entity_type", entityType)
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Items == nil {
		writeError(w, h.logger, http.StatusBadRequest, "items is required", nil)
		return
	}

	for _, m := range req.Items {
		// Пользователь берется только из токена
		if m != nil && m.UserID != "" && m.UserID != userID {
			h.logger.Warn("Mutation user_id mismatch ignored",
				"expected", userID,
				"got", m.UserID,
				"mutation_id", m.ID)
		}
	}

	h.syncBatch(w, r, userID, entityType, req.Items)
}

func (h *SyncHandler) syncBatch(w http.ResponseWriter, r *http.Request, userID string, entityType models.EntityType, items []*models.Mutation) {
	result, err := h.service.SyncBatch(r.Context(), userID, entityType, items)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			h.logger.Warn("Sync batch rejected", "user_id", userID, "entity_type", entityType, "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "validation failed", verrs)
			return
		}
		h.logger.Error("Failed to sync batch", "error", err, "user_id", userID, "entity_type", entityType)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", nil)
		return
	}

	serverWins, err := api.EncodeEntities(result.ServerWins)
	if err != nil {
		h.logger.Error("Failed to encode server snapshots", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", nil)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.SyncResponse{
		SyncedIDs:  result.SyncedIDs,
		ServerWins: serverWins,
		SkippedIDs: result.SkippedIDs,
	})
}

// PullActivityLogs обрабатывает GET /users/v2/activity-logs?since=
func (h *SyncHandler) PullActivityLogs(w http.ResponseWriter, r *http.Request) {
	raws, ok := h.pull(w, r, models.EntityActivityLog)
	if !ok {
		return
	}
	writeJSON(w, h.logger, http.StatusOK, api.PullActivityLogsResponse{Logs: raws})
}

// PullEntities обрабатывает GET /users/v2/sync/{entityType}?since=
func (h *SyncHandler) PullEntities(w http.ResponseWriter, r *http.Request) {
	entityType, err := models.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, err.Error(), nil)
		return
	}

	raws, ok := h.pull(w, r, entityType)
	if !ok {
		return
	}
	writeJSON(w, h.logger, http.StatusOK, api.PullResponse{Items: raws})
}

func (h *SyncHandler) pull(w http.ResponseWriter, r *http.Request, entityType models.EntityType) ([]json.RawMessage, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		writeError(w, h.logger, http.StatusUnauthorized, "missing user", nil)
		return nil, false
	}

	var since *time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			h.logger.Warn("Invalid since parameter", "since", s, "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "since must be an RFC3339 timestamp", nil)
			return nil, false
		}
		since = &t
	}

	entities, err := h.service.Pull(r.Context(), userID, entityType, since)
	if err != nil {
		h.logger.Error("Failed to pull entities", "error", err, "user_id", userID, "entity_type", entityType)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", nil)
		return nil, false
	}

	raws, err := api.EncodeEntities(entities)
	if err != nil {
		h.logger.Error("Failed to encode entities", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", nil)
		return nil, false
	}

	h.logger.Info("Pull completed", "user_id", userID, "entity_type", entityType, "count", len(raws))
	return raws, true
}
