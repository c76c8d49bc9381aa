package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/internal/server/storage"
	"github.com/nnsi/hono-practice-sub007/internal/validation"
)

// Result итог синхронизации пакета: каждый id попадает ровно в одно множество
type Result struct {
	SyncedIDs  []string
	ServerWins []models.Entity
	SkippedIDs []string
}

//go:generate moq -out service_mock.go . Service

// Service defines the server side of the sync protocol
type Service interface {
	// SyncBatch валидирует пакет целиком и разрешает каждый элемент в отдельной транзакции.
	// Ошибка validation.ErrInvalid означает, что ни один элемент не применен.
	SyncBatch(ctx context.Context, userID string, entityType models.EntityType, items []*models.Mutation) (*Result, error)

	// Pull возвращает сущности пользователя, измененные строго после since.
	// since == nil возвращает все неудаленные сущности.
	Pull(ctx context.Context, userID string, entityType models.EntityType, since *time.Time) ([]models.Entity, error)
}

type service struct {
	store    storage.Store
	resolver *Resolver
	logger   *slog.Logger
}

// NewService creates a new sync service
func NewService(store storage.Store, resolver *Resolver, logger *slog.Logger) Service {
	return &service{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

func (s *service) SyncBatch(ctx context.Context, userID string, entityType models.EntityType, items []*models.Mutation) (*Result, error) {
	if err := validation.ValidateBatch(entityType, items); err != nil {
		return nil, err
	}

	result := &Result{
		SyncedIDs:  make([]string, 0, len(items)),
		ServerWins: make([]models.Entity, 0),
		SkippedIDs: make([]string, 0),
	}

	for _, m := range items {
		var outcome Outcome
		err := s.store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			outcome, err = s.resolver.Resolve(ctx, tx, userID, m)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", m.Key(), err)
		}

		switch outcome.Status {
		case StatusSynced:
			result.SyncedIDs = append(result.SyncedIDs, m.EntityID)
		case StatusServerWins:
			entity, err := outcome.Snapshot.Entity()
			if err != nil {
				return nil, fmt.Errorf("failed to decode server snapshot %s: %w", m.Key(), err)
			}
			result.ServerWins = append(result.ServerWins, entity)
		case StatusSkipped:
			s.logger.Debug("Mutation skipped",
				"user_id", userID,
				"entity", m.Key().String(),
				"reason", outcome.Reason)
			result.SkippedIDs = append(result.SkippedIDs, m.EntityID)
		}
	}

	s.logger.Info("Batch synced",
		"user_id", userID,
		"entity_type", entityType,
		"items", len(items),
		"synced", len(result.SyncedIDs),
		"server_wins", len(result.ServerWins),
		"skipped", len(result.SkippedIDs))

	return result, nil
}

func (s *service) Pull(ctx context.Context, userID string, entityType models.EntityType, since *time.Time) ([]models.Entity, error) {
	snapshots, err := s.store.ListSince(ctx, userID, entityType, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entityType, err)
	}

	entities := make([]models.Entity, 0, len(snapshots))
	for _, snap := range snapshots {
		e, err := snap.Entity()
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s %s: %w", entityType, snap.ID, err)
		}
		entities = append(entities, e)
	}
	return entities, nil
}
