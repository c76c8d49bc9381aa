// Package outbox реализует клиентскую очередь изменений: durable запись
// изменений до отправки, выдачу пакетов и применение ответа сервера.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nnsi/hono-practice-sub007/internal/client/storage"
	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/internal/validation"
)

// Result ответ сервера на пакет одного типа
type Result struct {
	SyncedIDs  []string
	ServerWins []models.Entity
	SkippedIDs []string
}

// Stats количество записей очереди по состояниям
type Stats struct {
	Pending  int
	Syncing  int
	Failed   int
	Rejected int
}

// Total общее число записей
func (s Stats) Total() int {
	return s.Pending + s.Syncing + s.Failed + s.Rejected
}

// Queue очередь изменений одного пользователя на устройстве
type Queue struct {
	store  storage.OutboxStorage
	logger *slog.Logger
	now    func() time.Time
	userID string
}

// New открывает очередь. Записи, оставшиеся в syncing после аварийного
// завершения, возвращаются в pending: их судьба на сервере неизвестна,
// а повторная отправка безопасна.
func New(ctx context.Context, store storage.OutboxStorage, userID string, logger *slog.Logger) (*Queue, error) {
	q := &Queue{
		store:  store,
		logger: logger,
		now:    time.Now,
		userID: userID,
	}

	n, err := store.ResetStatus(ctx, storage.EntrySyncing, storage.EntryPending)
	if err != nil {
		return nil, fmt.Errorf("failed to recover in-flight entries: %w", err)
	}
	if n > 0 {
		logger.Warn("Recovered in-flight outbox entries", "count", n)
	}
	return q, nil
}

// UserID владелец очереди
func (q *Queue) UserID() string {
	return q.userID
}

// Enqueue записывает изменение сущности. Метаданные синхронизации
// проставляются здесь: updatedAt получает время изменения, delete ставит deletedAt.
// Ошибка хранилища означает, что изменение не сохранено.
func (q *Queue) Enqueue(ctx context.Context, op models.Operation, entity models.Entity) (*models.Mutation, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: entity is required", validation.ErrInvalid)
	}

	now := q.now().UTC().Truncate(time.Millisecond)
	meta := entity.Meta()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	switch op {
	case models.OperationDelete:
		meta.DeletedAt = &now
	case models.OperationCreate, models.OperationUpdate:
		meta.DeletedAt = nil
	}

	m := &models.Mutation{
		ID:         ulid.Make().String(),
		UserID:     q.userID,
		EntityType: entity.Kind(),
		EntityID:   entity.EntityID(),
		Operation:  op,
		Payload:    entity,
		Timestamp:  now,
		CreatedAt:  now,
	}
	if err := validation.ValidateMutation(m); err != nil {
		return nil, err
	}

	snap, err := models.SnapshotOf(q.userID, entity)
	if err != nil {
		return nil, err
	}
	if err := q.store.Append(ctx, m, snap); err != nil {
		return nil, err
	}

	q.logger.Debug("Mutation enqueued",
		"entity", m.Key().String(),
		"operation", m.Operation,
		"seq", m.SequenceNumber)
	return m, nil
}

// DrainBatch забирает до maxSize записей для отправки. Записи остаются
// в очереди в состоянии syncing до Acknowledge, RequeueFailed или Reject.
func (q *Queue) DrainBatch(ctx context.Context, maxSize int) (*Batch, error) {
	if maxSize <= 0 || maxSize > validation.MaxBatchSize {
		maxSize = validation.MaxBatchSize
	}
	entries, err := q.store.Claim(ctx, maxSize)
	if err != nil {
		return nil, err
	}
	return newBatch(entries), nil
}

// Acknowledge применяет ответ сервера к записям типа t из пакета.
// Упомянутые в ответе записи удаляются, снимки serverWins записываются в кэш
// и возвращаются вызывающему. Не упомянутые записи возвращаются в очередь.
func (q *Queue) Acknowledge(ctx context.Context, b *Batch, t models.EntityType, res *Result) ([]models.Entity, error) {
	answered := make(map[string]bool, len(res.SyncedIDs)+len(res.ServerWins)+len(res.SkippedIDs))
	for _, id := range res.SyncedIDs {
		answered[id] = true
	}
	for _, id := range res.SkippedIDs {
		answered[id] = true
	}

	snapshots := make([]*models.Snapshot, 0, len(res.ServerWins))
	for _, e := range res.ServerWins {
		answered[e.EntityID()] = true
		snap, err := models.SnapshotOf(q.userID, e)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	var done, missing []uint64
	for _, e := range b.entries(t) {
		if answered[e.Mutation.EntityID] {
			done = append(done, e.Seq())
		} else {
			missing = append(missing, e.Seq())
		}
	}

	if err := q.store.Complete(ctx, done, snapshots); err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		q.logger.Warn("Server response omitted entries", "entity_type", t, "count", len(missing))
		if err := q.store.Release(ctx, missing, storage.EntryFailed, "not acknowledged by server"); err != nil {
			return nil, err
		}
	}

	if len(res.SkippedIDs) > 0 {
		q.logger.Info("Server skipped mutations", "entity_type", t, "ids", res.SkippedIDs)
	}
	return res.ServerWins, nil
}

// RequeueFailed возвращает записи в очередь после временной ошибки,
// сохраняя их позицию
func (q *Queue) RequeueFailed(ctx context.Context, seqs []uint64, cause error) error {
	return q.store.Release(ctx, seqs, storage.EntryFailed, errorText(cause))
}

// Reject помечает записи отклоненными: сервер счел пакет структурно неверным,
// автоматический повтор бессмыслен
func (q *Queue) Reject(ctx context.Context, seqs []uint64, cause error) error {
	return q.store.Release(ctx, seqs, storage.EntryRejected, errorText(cause))
}

// Retry возвращает отклоненные записи в pending по команде пользователя
func (q *Queue) Retry(ctx context.Context) (int, error) {
	return q.store.ResetStatus(ctx, storage.EntryRejected, storage.EntryPending)
}

// Clear удаляет все записи без отправки. Только по явной команде пользователя.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	n, err := q.store.ClearOutbox(ctx)
	if err != nil {
		return 0, err
	}
	q.logger.Warn("Outbox cleared", "discarded", n)
	return n, nil
}

// Entries возвращает записи очереди в порядке отправки
func (q *Queue) Entries(ctx context.Context) ([]*storage.OutboxEntry, error) {
	return q.store.ListEntries(ctx)
}

// Stats считает записи по состояниям
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	entries, err := q.store.ListEntries(ctx)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, e := range entries {
		switch e.Status {
		case storage.EntryPending:
			s.Pending++
		case storage.EntrySyncing:
			s.Syncing++
		case storage.EntryFailed:
			s.Failed++
		case storage.EntryRejected:
			s.Rejected++
		}
	}
	return s, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
