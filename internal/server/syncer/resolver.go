// Package syncer применяет пакеты изменений клиентов к серверному хранилищу
// с разрешением конфликтов по правилу Last-Write-Wins.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/lww"
	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/internal/server/storage"
)

// Storage хранит время с точностью до миллисекунды; сравнение ведется в той же точности
const timestampPrecision = time.Millisecond

// Status исход обработки одного элемента пакета
type Status int

const (
	// StatusSynced изменение применено или уже было применено ранее
	StatusSynced Status = iota
	// StatusServerWins серверная версия новее, клиент получает snapshot
	StatusServerWins
	// StatusSkipped сущность или ее родитель не найдены либо принадлежат другому пользователю
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusServerWins:
		return "server_wins"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Outcome результат обработки элемента
type Outcome struct {
	Snapshot *models.Snapshot // серверная версия при StatusServerWins
	Reason   string           // причина для StatusSkipped
	Status   Status
}

// Resolver разрешает одно изменение внутри транзакции
type Resolver struct {
	now             func() time.Time
	duplicateWindow time.Duration
}

// NewResolver создает Resolver с окном подавления дубликатов window
func NewResolver(window time.Duration) *Resolver {
	if window <= 0 {
		window = lww.DefaultDuplicateWindow
	}
	return &Resolver{
		now:             time.Now,
		duplicateWindow: window,
	}
}

// Resolve применяет изменение m пользователя userID.
// Порядок проверок: владелец, существование, LWW, затем журнал дубликатов
// для изменений, которые не новее серверной версии.
// Ошибка возвращается только при сбое хранилища.
func (r *Resolver) Resolve(ctx context.Context, tx storage.Tx, userID string, m *models.Mutation) (Outcome, error) {
	ts := m.Timestamp.UTC().Truncate(timestampPrecision)

	// 1. Владелец родителя
	if parentType, parentID := m.Payload.Parent(); parentID != "" {
		includeDeleted := m.Operation == models.OperationDelete
		owner, err := tx.FindOwnerOf(ctx, parentType, parentID, includeDeleted)
		switch {
		case errors.Is(err, storage.ErrEntryNotFound):
			return Outcome{Status: StatusSkipped, Reason: "parent not found"}, nil
		case err != nil:
			return Outcome{}, err
		case owner != userID:
			return Outcome{Status: StatusSkipped, Reason: "parent owned by another user"}, nil
		}
	}

	current, err := tx.Get(ctx, m.EntityType, m.EntityID)
	if err != nil && !errors.Is(err, storage.ErrEntryNotFound) {
		return Outcome{}, err
	}
	exists := err == nil
	if exists && current.UserID != userID {
		return Outcome{Status: StatusSkipped, Reason: "entity owned by another user"}, nil
	}

	// 2. Новая сущность применяется без сравнения
	if !exists {
		return r.insert(ctx, tx, userID, m, ts)
	}

	// 3. LWW. Повторная доставка уже примененного изменения не новее сервера,
	// поэтому журнал проверяется только для проигравших изменений.
	if lww.Decide(ts, current.UpdatedAt) == lww.ServerWins {
		dup, err := r.isDuplicate(ctx, tx, userID, m, ts)
		if err != nil {
			return Outcome{}, err
		}
		if dup {
			return Outcome{Status: StatusSynced}, nil
		}
		return Outcome{Status: StatusServerWins, Snapshot: current}, nil
	}

	if m.Operation == models.OperationDelete {
		if err := tx.SoftDelete(ctx, m.EntityType, m.EntityID, ts); err != nil {
			return Outcome{}, err
		}
		return r.recorded(ctx, tx, userID, m, ts)
	}

	snap, err := r.snapshot(userID, m, ts)
	if err != nil {
		return Outcome{}, err
	}
	snap.CreatedAt = current.CreatedAt
	applied, err := tx.Upsert(ctx, snap)
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		return r.reread(ctx, tx, userID, m, ts)
	}
	return r.recorded(ctx, tx, userID, m, ts)
}

func (r *Resolver) insert(ctx context.Context, tx storage.Tx, userID string, m *models.Mutation, ts time.Time) (Outcome, error) {
	snap, err := r.snapshot(userID, m, ts)
	if err != nil {
		return Outcome{}, err
	}
	if m.Operation == models.OperationDelete {
		snap.DeletedAt = &ts
	}

	applied, err := tx.Upsert(ctx, snap)
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		// Строку успел вставить параллельный запрос
		return r.reread(ctx, tx, userID, m, ts)
	}
	return r.recorded(ctx, tx, userID, m, ts)
}

// reread разрешает изменение относительно строки, записанной конкурентом
func (r *Resolver) reread(ctx context.Context, tx storage.Tx, userID string, m *models.Mutation, ts time.Time) (Outcome, error) {
	current, err := tx.Get(ctx, m.EntityType, m.EntityID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to reread %s after conflict: %w", m.Key(), err)
	}
	if current.UserID != userID {
		return Outcome{Status: StatusSkipped, Reason: "entity owned by another user"}, nil
	}
	dup, err := r.isDuplicate(ctx, tx, userID, m, ts)
	if err != nil {
		return Outcome{}, err
	}
	if dup {
		return Outcome{Status: StatusSynced}, nil
	}
	return Outcome{Status: StatusServerWins, Snapshot: current}, nil
}

func (r *Resolver) recorded(ctx context.Context, tx storage.Tx, userID string, m *models.Mutation, ts time.Time) (Outcome, error) {
	err := tx.RecordMutation(ctx, &storage.MutationRecord{
		UserID:         userID,
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		Operation:      m.Operation,
		Timestamp:      ts,
		SequenceNumber: m.SequenceNumber,
		RecordedAt:     r.now().UTC(),
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusSynced}, nil
}

func (r *Resolver) isDuplicate(ctx context.Context, tx storage.Tx, userID string, m *models.Mutation, ts time.Time) (bool, error) {
	records, err := tx.FindMutations(ctx, userID, m.Key(), m.Operation,
		ts.Add(-r.duplicateWindow), ts.Add(r.duplicateWindow))
	if err != nil {
		return false, err
	}

	next := lww.Stamp{Timestamp: ts, SequenceNumber: m.SequenceNumber}
	for _, rec := range records {
		prev := lww.Stamp{Timestamp: rec.Timestamp, SequenceNumber: rec.SequenceNumber}
		if lww.IsDuplicate(prev, next, r.duplicateWindow) {
			return true, nil
		}
	}
	return false, nil
}

// snapshot строит серверную строку из payload; updatedAt берется из времени изменения
func (r *Resolver) snapshot(userID string, m *models.Mutation, ts time.Time) (*models.Snapshot, error) {
	snap, err := models.SnapshotOf(userID, m.Payload)
	if err != nil {
		return nil, err
	}
	snap.UpdatedAt = ts
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = ts
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	if m.Operation != models.OperationDelete {
		snap.DeletedAt = nil
	}
	return snap, nil
}
