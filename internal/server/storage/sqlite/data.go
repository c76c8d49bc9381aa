package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/internal/server/storage"
)

// queryer общий интерфейс *sql.DB и *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqlTx реализует storage.Tx поверх *sql.Tx
type sqlTx struct {
	tx *sql.Tx
}

// FindOwnerOf returns user id of the entity owner
func (t *sqlTx) FindOwnerOf(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (string, error) {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return "", err
	}

	query := `SELECT user_id FROM ` + table + ` WHERE id = ?`
	if !includeDeleted {
		query += ` AND deleted_at_ms IS NULL`
	}

	var userID string
	if err := t.tx.QueryRowContext(ctx, query, id).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrEntryNotFound
		}
		return "", fmt.Errorf("failed to find owner of %s %s: %w", entityType, id, err)
	}
	return userID, nil
}

// Get returns current row including tombstones.
// SQLite сериализует писателей, поэтому отдельная блокировка строки не нужна.
func (t *sqlTx) Get(ctx context.Context, entityType models.EntityType, id string) (*models.Snapshot, error) {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, parent_id, payload, created_at_ms, updated_at_ms, deleted_at_ms
		FROM ` + table + `
		WHERE id = ?
	`

	snap, err := scanSnapshot(entityType, t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", entityType, id, err)
	}
	return snap, nil
}

// Upsert inserts the row or replaces it when snapshot is strictly newer
func (t *sqlTx) Upsert(ctx context.Context, snap *models.Snapshot) (bool, error) {
	table, err := storage.TableFor(snap.EntityType)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO ` + table + ` (
			id, user_id, parent_id, payload, created_at_ms, updated_at_ms, deleted_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = excluded.parent_id,
			payload = excluded.payload,
			updated_at_ms = excluded.updated_at_ms,
			deleted_at_ms = excluded.deleted_at_ms
		WHERE excluded.updated_at_ms > ` + table + `.updated_at_ms
		  AND excluded.user_id = ` + table + `.user_id
	`

	res, err := t.tx.ExecContext(ctx, query,
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

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// SoftDelete marks row as deleted (soft delete)
func (t *sqlTx) SoftDelete(ctx context.Context, entityType models.EntityType, id string, at time.Time) error {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return err
	}

	ms := storage.ToMillis(at)
	res, err := t.tx.ExecContext(ctx,
		`UPDATE `+table+` SET deleted_at_ms = ?, updated_at_ms = ? WHERE id = ?`,
		ms, ms, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrEntryNotFound
	}
	return nil
}

// FindMutations returns ledger records in the client timestamp range
func (t *sqlTx) FindMutations(
	ctx context.Context,
	userID string,
	key models.EntityKey,
	op models.Operation,
	from, to time.Time,
) ([]storage.MutationRecord, error) {
	query := `
		SELECT user_id, entity_type, entity_id, operation, client_ts_ms, sequence_number, recorded_at_ms
		FROM sync_mutations
		WHERE user_id = ? AND entity_type = ? AND entity_id = ? AND operation = ?
		  AND client_ts_ms BETWEEN ? AND ?
		ORDER BY recorded_at_ms DESC
	`

	rows, err := t.tx.QueryContext(ctx, query,
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

// RecordMutation appends applied mutation to the ledger
func (t *sqlTx) RecordMutation(ctx context.Context, rec *storage.MutationRecord) error {
	query := `
		INSERT INTO sync_mutations (
			user_id, entity_type, entity_id, operation, client_ts_ms, sequence_number, recorded_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
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
		WHERE user_id = ?`
	args := []any{userID}

	if since == nil {
		query += ` AND deleted_at_ms IS NULL`
	} else {
		query += ` AND updated_at_ms > ?`
		args = append(args, storage.ToMillis(*since))
	}
	query += ` ORDER BY updated_at_ms ASC, id ASC`

	return listSnapshots(ctx, s.db, entityType, query, args...)
}

// PruneMutations удаляет старые записи журнала
func (s *Storage) PruneMutations(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_mutations WHERE recorded_at_ms < ?`,
		storage.ToMillis(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune mutations: %w", err)
	}
	return res.RowsAffected()
}

func listSnapshots(ctx context.Context, q queryer, entityType models.EntityType, query string, args ...any) ([]*models.Snapshot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(entityType models.EntityType, row scanner) (*models.Snapshot, error) {
	var (
		snap                 models.Snapshot
		parentID             sql.NullString
		payload              string
		createdAt, updatedAt int64
		deletedAt            sql.NullInt64
	)

	if err := row.Scan(&snap.ID, &snap.UserID, &parentID, &payload, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	snap.EntityType = entityType
	snap.ParentID = parentID.String
	snap.Payload = []byte(payload)
	snap.CreatedAt = storage.FromMillis(createdAt)
	snap.UpdatedAt = storage.FromMillis(updatedAt)
	if deletedAt.Valid {
		t := storage.FromMillis(deletedAt.Int64)
		snap.DeletedAt = &t
	}
	return &snap, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: storage.ToMillis(*t), Valid: true}
}
