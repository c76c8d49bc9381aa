package storage

import (
	"context"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// MutationRecord запись журнала примененных изменений.
// Используется для подавления повторной доставки.
type MutationRecord struct {
	Timestamp      time.Time
	RecordedAt     time.Time
	UserID         string
	EntityType     models.EntityType
	EntityID       string
	Operation      models.Operation
	SequenceNumber uint64
}

// Store defines persistence of synchronized entities
type Store interface {
	// WithTx выполняет fn в одной транзакции.
	// Транзакция фиксируется, если fn вернула nil, иначе откатывается.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ListSince returns user entities of the given type.
	// since == nil: only non-deleted rows.
	// since != nil: rows with updatedAt strictly after since, tombstones included.
	// Rows are ordered by updatedAt, then id.
	ListSince(ctx context.Context, userID string, entityType models.EntityType, since *time.Time) ([]*models.Snapshot, error)

	// PruneMutations удаляет записи журнала, записанные раньше olderThan
	PruneMutations(ctx context.Context, olderThan time.Time) (int64, error)

	// Ping проверяет доступность хранилища
	Ping(ctx context.Context) error

	Close() error
}

// Tx операции внутри транзакции одного элемента пакета
type Tx interface {
	// FindOwnerOf returns user id of the entity owner.
	// includeDeleted allows tombstoned rows to be considered.
	// Returns ErrEntryNotFound if there is no such entity.
	FindOwnerOf(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (string, error)

	// Get returns current server row including tombstones.
	// Implementations lock the row until the end of transaction where supported.
	// Returns ErrEntryNotFound if the row doesn't exist.
	Get(ctx context.Context, entityType models.EntityType, id string) (*models.Snapshot, error)

	// Upsert inserts the row or replaces it when snapshot is strictly newer
	// and belongs to the same user. Returns false if nothing was written.
	Upsert(ctx context.Context, snap *models.Snapshot) (bool, error)

	// SoftDelete marks row as deleted at the given time and updates updatedAt.
	// Returns ErrEntryNotFound if the row doesn't exist.
	SoftDelete(ctx context.Context, entityType models.EntityType, id string, at time.Time) error

	// FindMutations returns ledger records of the entity and operation
	// with client timestamp in [from, to].
	FindMutations(ctx context.Context, userID string, key models.EntityKey, op models.Operation, from, to time.Time) ([]MutationRecord, error)

	// RecordMutation appends applied mutation to the ledger
	RecordMutation(ctx context.Context, rec *MutationRecord) error
}
