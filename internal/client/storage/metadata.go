package storage

import (
	"context"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// SyncState итог последнего цикла синхронизации
type SyncState struct {
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

// MetadataStorage defines interface for storing client metadata
type MetadataStorage interface {
	// SaveWatermark сохраняет updatedAt последней полученной сущности типа
	SaveWatermark(ctx context.Context, entityType models.EntityType, ts time.Time) error

	// GetWatermark возвращает watermark типа.
	// Returns nil if no pull has been performed yet
	GetWatermark(ctx context.Context, entityType models.EntityType) (*time.Time, error)

	// SaveSyncState сохраняет итог последнего цикла синхронизации
	SaveSyncState(ctx context.Context, state SyncState) error

	// GetSyncState возвращает итог последнего цикла; пустой, если синхронизаций не было
	GetSyncState(ctx context.Context) (SyncState, error)
}
