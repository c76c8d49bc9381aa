package storage

import (
	"context"

	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// CacheStorage defines local entity cache (last known state of each entity)
type CacheStorage interface {
	// GetSnapshot возвращает сущность из кэша или ErrEntryNotFound
	GetSnapshot(ctx context.Context, key models.EntityKey) (*models.Snapshot, error)

	// ListSnapshots возвращает сущности типа, включая tombstones
	ListSnapshots(ctx context.Context, entityType models.EntityType) ([]*models.Snapshot, error)

	// MergeSnapshots записывает снимки сервера по правилу LWW.
	// Сущности с изменениями в очереди пропускаются. Возвращает число записанных.
	MergeSnapshots(ctx context.Context, snapshots []*models.Snapshot) (int, error)
}
