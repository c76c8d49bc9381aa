package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/internal/server/storage"
)

// pgTx реализует storage.Tx поверх pgx.Tx
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindOwnerOf(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (string, error) {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return "", err
	}

	query := `SELECT user_id FROM ` + table + ` WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at_ms IS NULL`
	}
	// Родитель не должен исчезнуть до фиксации потомка
	query += ` FOR SHARE`

	var userID string
	if err := t.tx.QueryRow(ctx, query, id).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrEntryNotFound
		}
		return "", fmt.Errorf("failed to find owner of %s %s: %w", entityType, id, err)
	}
	return userID, nil
}

func (t *pgTx) Get(ctx context.Context, entityType models.EntityType, id string) (*models.Snapshot, error) {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, parent_id, payload, created_at_ms, updated_at_ms, deleted_at_ms
		FROM ` + table + `
		WHERE id = $1
		FOR UPDATE
	`

	snap, err := scanSnapshot(entityType, t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", entityType, id, err)
	}
	return snap, nil
}

func (t *pgTx) Upsert(ctx context.Context, snap *models.Snapshot) (bool, error) {
	table, err := storage.TableFor(snap.EntityType)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO ` + table + ` AS t (
			id, user_id, parent_id, payload, created_at_ms, updated_at_ms, deleted_at_ms
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			payload = EXCLUDED.payload,
			updated_at_ms = EXCLUDED.updated_at_ms,
			deleted_at_ms = EXCLUDED.deleted_at_ms
		WHERE EXCLUDED.updated_at_ms > t.updated_at_ms
		  AND EXCLUDED.user_id = t.user_id
	`

	tag, err := t.tx.Exec(ctx, query,
		snap.ID,
		snap.UserID,
		nullString(snap.ParentID),
		string(snap.Payload),
		storage.ToMillis(snap.CreatedAt),
		storage.ToMillis(snap.UpdatedAt),
		nullMillis(snap.DeletedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert %s %s: %w", snap.EntityType, snap.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) SoftDelete(ctx context.Context, entityType models.EntityType, id string, at time.Time) error {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return err
	}

	ms := storage.ToMillis(at)
	tag, err := t.tx.Exec(ctx,
		`UPDATE `+table+` SET deleted_at_ms = $1, updated_at_ms = $1 WHERE id = $2`,
		ms, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrEntryNotFound
	}
	return nil
}

func (t *pgTx) FindMutations(
	ctx context.Context,
	userID string,
	key models.EntityKey,
	op models.Operation,
	from, to time.Time,
) ([]storage.MutationRecord, error) {
	query := `
		SELECT user_id, entity_type, entity_id, operation, client_ts_ms, sequence_number, recorded_at_ms
		FROM sync_mutations
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3 AND operation = $4
		  AND client_ts_ms BETWEEN $5 AND $6
		ORDER BY recorded_at_ms DESC
	`

	rows, err := t.tx.Query(ctx, query,
		userID, string(key.Type), key.ID, string(op),
		storage.ToMillis(from), storage.ToMillis(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutations: %w", err)
	}
	defer rows.Close()

	var records []storage.MutationRecord
	for rows.Next() {
		var (
			rec                  storage.MutationRecord
			entityType, opStr    string
			clientTS, recordedAt int64
			seq                  int64
		)
		if err := rows.Scan(&rec.UserID, &entityType, &rec.EntityID, &opStr, &clientTS, &seq, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		rec.EntityType = models.EntityType(entityType)
		rec.Operation = models.Operation(opStr)
		rec.Timestamp = storage.FromMillis(clientTS)
		rec.RecordedAt = storage.FromMillis(recordedAt)
		rec.SequenceNumber = uint64(seq)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

func (t *pgTx) RecordMutation(ctx context.Context, rec *storage.MutationRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sync_mutations (
			user_id, entity_type, entity_id, operation, client_ts_ms, sequence_number, recorded_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.UserID,
		string(rec.EntityType),
		rec.EntityID,
		string(rec.Operation),
		storage.ToMillis(rec.Timestamp),
		int64(rec.SequenceNumber),
		storage.ToMillis(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record mutation: %w", err)
	}
	return nil
}

// ListSince returns user entities changed after since
func (s *Storage) ListSince(ctx context.Context, userID string, entityType models.EntityType, since *time.Time) ([]*models.Snapshot, error) {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, parent_id, payload, created_at_ms, updated_at_ms, deleted_at_ms
		FROM ` + table + `
		WHERE user_id = $1`
	args := []any{userID}

	if since == nil {
		query += ` AND deleted_at_ms IS NULL`
	} else {
		query += ` AND updated_at_ms > $2`
		args = append(args, storage.ToMillis(*since))
	}
	query += ` ORDER BY updated_at_ms ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", entityType, err)
	}
	defer rows.Close()

	snapshots := make([]*models.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(entityType, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", entityType, err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return snapshots, nil
}

// PruneMutations удаляет старые записи журнала
func (s *Storage) PruneMutations(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sync_mutations WHERE recorded_at_ms < $1`,
		storage.ToMillis(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune mutations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshot(entityType models.EntityType, row pgx.Row) (*models.Snapshot, error) {
	var (
		snap                 models.Snapshot
		parentID             *string
		payload              []byte
		createdAt, updatedAt int64
		deletedAt            *int64
	)

	if err := row.Scan(&snap.ID, &snap.UserID, &parentID, &payload, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	snap.EntityType = entityType
	if parentID != nil {
		snap.ParentID = *parentID
	}
	snap.Payload = payload
	snap.CreatedAt = storage.FromMillis(createdAt)
	snap.UpdatedAt = storage.FromMillis(updatedAt)
	if deletedAt != nil {
		t := storage.FromMillis(*deletedAt)
		snap.DeletedAt = &t
	}
	return &snap, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := storage.ToMillis(*t)
	return &ms
}
