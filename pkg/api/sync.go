package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// Пути sync API
const (
	ActivityLogsSyncPath = "/users/v2/activity-logs/sync"
	ActivityLogsPath     = "/users/v2/activity-logs"
	SyncPathPrefix       = "/users/v2/sync/"
)

// SyncBatchRequest пакет изменений одного типа сущности
type SyncBatchRequest struct {
	Items []*models.Mutation `json:"items"`
}

// UpsertActivityLogRequest запись активности в формате v2 endpoint
type UpsertActivityLogRequest struct {
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt"`
	ActivityKindID *string    `json:"activityKindId"`
	Quantity       *float64   `json:"quantity"`
	Time           *string    `json:"time"`
	ID             string     `json:"id"`
	ActivityID     string     `json:"activityId"`
	Memo           string     `json:"memo"`
	Date           string     `json:"date"`
}

// SyncActivityLogsRequest тело POST /users/v2/activity-logs/sync.
// Logs == nil означает отсутствующий ключ logs.
type SyncActivityLogsRequest struct {
	Logs []UpsertActivityLogRequest `json:"logs"`
}

// ActivityLog переводит запись v2 в вариант payload
func (r *UpsertActivityLogRequest) ActivityLog() *models.ActivityLog {
	return &models.ActivityLog{
		SyncMeta: models.SyncMeta{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
			DeletedAt: r.DeletedAt,
		},
		ActivityKindID: r.ActivityKindID,
		Quantity:       r.Quantity,
		Time:           r.Time,
		ActivityID:     r.ActivityID,
		Date:           r.Date,
		ID:             r.ID,
		Memo:           r.Memo,
	}
}

// Mutation переводит запись v2 в изменение. Операция определяется по deletedAt,
// временем изменения служит updatedAt, номер последовательности неизвестен.
func (r *UpsertActivityLogRequest) Mutation(id string) *models.Mutation {
	op := models.OperationUpdate
	if r.DeletedAt != nil {
		op = models.OperationDelete
	}
	return &models.Mutation{
		ID:         id,
		EntityType: models.EntityActivityLog,
		EntityID:   r.ID,
		Operation:  op,
		Payload:    r.ActivityLog(),
		Timestamp:  r.UpdatedAt,
		CreatedAt:  r.UpdatedAt,
	}
}

// SyncResponse результат синхронизации пакета. Каждый id пакета попадает
// ровно в одно из трех множеств.
type SyncResponse struct {
	SyncedIDs  []string          `json:"syncedIds"`  // применены или уже были применены
	ServerWins []json.RawMessage `json:"serverWins"` // актуальные серверные версии проигравших изменений
	SkippedIDs []string          `json:"skippedIds"` // родитель не найден или принадлежит другому пользователю
}

// PullResponse ответ GET /users/v2/sync/{entityType}
type PullResponse struct {
	Items []json.RawMessage `json:"items"`
}

// PullActivityLogsResponse ответ GET /users/v2/activity-logs
type PullActivityLogsResponse struct {
	Logs []json.RawMessage `json:"logs"`
}

// HealthResponse ответ GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
	Details any    `json:"details,omitempty"` // ошибки по элементам пакета
}

// EncodeEntities сериализует сущности для ответа
func EncodeEntities(entities []models.Entity) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s: %w", e.Kind(), e.EntityID(), err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// DecodeEntities разбирает сущности ответа по известному типу
func DecodeEntities(t models.EntityType, raws []json.RawMessage) ([]models.Entity, error) {
	out := make([]models.Entity, 0, len(raws))
	for _, raw := range raws {
		e, err := models.DecodeEntity(t, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
