package storage

import (
	"context"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// EntryStatus состояние записи outbox
type EntryStatus string

// Состояния записи outbox
const (
	EntryPending  EntryStatus = "pending"  // ожидает отправки
	EntrySyncing  EntryStatus = "syncing"  // отправлена, ждет подтверждения
	EntryFailed   EntryStatus = "failed"   // временная ошибка, будет отправлена повторно
	EntryRejected EntryStatus = "rejected" // сервер отклонил пакет, повтор только по команде пользователя
)

// Drainable сообщает, забирается ли запись в очередной пакет
func (s EntryStatus) Drainable() bool {
	return s == EntryPending || s == EntryFailed
}

// OutboxEntry запись очереди изменений. Ключом служит Mutation.SequenceNumber.
type OutboxEntry struct {
	UpdatedAt time.Time        `json:"updatedAt"`
	Mutation  *models.Mutation `json:"mutation"`
	Status    EntryStatus      `json:"status"`
	LastError string           `json:"lastError,omitempty"`
	Attempts  int              `json:"attempts"`
}

// Seq позиция записи в очереди
func (e *OutboxEntry) Seq() uint64 {
	return e.Mutation.SequenceNumber
}

// OutboxStorage defines durable storage for the client mutation queue
type OutboxStorage interface {
	// Append назначает m.SequenceNumber и сохраняет запись в состоянии pending.
	// cached (если не nil) записывается в кэш сущностей в той же транзакции.
	Append(ctx context.Context, m *models.Mutation, cached *models.Snapshot) error

	// Claim переводит до limit записей pending/failed в syncing
	// в порядке возрастания SequenceNumber и возвращает их
	Claim(ctx context.Context, limit int) ([]*OutboxEntry, error)

	// Complete удаляет записи и записывает снимки сервера в кэш атомарно.
	// Снимок не перезаписывает сущность, для которой в очереди остались изменения.
	Complete(ctx context.Context, seqs []uint64, snapshots []*models.Snapshot) error

	// Release переводит записи из syncing в status (failed или rejected),
	// увеличивая счетчик попыток. Записи в других состояниях не меняются.
	Release(ctx context.Context, seqs []uint64, status EntryStatus, cause string) error

	// ResetStatus переводит все записи из from в to, возвращает их количество
	ResetStatus(ctx context.Context, from, to EntryStatus) (int, error)

	// ListEntries возвращает все записи в порядке SequenceNumber
	ListEntries(ctx context.Context) ([]*OutboxEntry, error)

	// ClearOutbox удаляет все записи. Счетчик SequenceNumber не сбрасывается.
	ClearOutbox(ctx context.Context) (int, error)
}
