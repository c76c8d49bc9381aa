package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/nnsi/hono-practice-sub007/internal/client/storage"
	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// Append сохраняет изменение в outbox и сущность в кэш одной транзакцией
func (s *Storage) Append(ctx context.Context, m *models.Mutation, cached *models.Snapshot) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}

		// Последовательность хранится в самом bucket и переживает перезапуск
		seq, err := outbox.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence number: %w", err)
		}
		m.SequenceNumber = seq

		entry := &storage.OutboxEntry{
			Mutation:  m,
			Status:    storage.EntryPending,
			UpdatedAt: m.CreatedAt,
		}
		if err := putEntry(outbox, entry); err != nil {
			return err
		}

		if cached != nil {
			return putSnapshot(tx, cached)
		}
		return nil
	})
	if err != nil {
		m.SequenceNumber = 0
		return fmt.Errorf("failed to append mutation %s: %w", m.ID, err)
	}
	return nil
}

// Claim забирает записи для отправки
func (s *Storage) Claim(ctx context.Context, limit int) ([]*storage.OutboxEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var claimed []*storage.OutboxEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}

		now := s.now()
		c := outbox.Cursor()
		for k, v := c.First(); k != nil && len(claimed) < limit; k, v = c.Next() {
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			if !entry.Status.Drainable() {
				continue
			}
			entry.Status = storage.EntrySyncing
			entry.UpdatedAt = now
			claimed = append(claimed, entry)
		}

		// Запись после обхода: bbolt не допускает изменения bucket под курсором
		for _, entry := range claimed {
			if err := putEntry(outbox, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox entries: %w", err)
	}
	return claimed, nil
}

// Complete удаляет подтвержденные записи и применяет снимки сервера
func (s *Storage) Complete(ctx context.Context, seqs []uint64, snapshots []*models.Snapshot) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}
		for _, seq := range seqs {
			if err := outbox.Delete(seqKey(seq)); err != nil {
				return fmt.Errorf("failed to delete entry %d: %w", seq, err)
			}
		}

		queued, err := queuedKeys(outbox)
		if err != nil {
			return err
		}
		for _, snap := range snapshots {
			// Более новая локальная правка еще ждет отправки
			if queued[snapshotKey(snap)] {
				continue
			}
			if err := putSnapshot(tx, snap); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete outbox entries: %w", err)
	}
	return nil
}

// Release возвращает записи из syncing в очередь с пометкой об ошибке
func (s *Storage) Release(ctx context.Context, seqs []uint64, status storage.EntryStatus, cause string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}

		now := s.now()
		for _, seq := range seqs {
			data := outbox.Get(seqKey(seq))
			if data == nil {
				continue
			}
			entry, err := decodeEntry(data)
			if err != nil {
				return err
			}
			if entry.Status != storage.EntrySyncing {
				continue
			}
			entry.Status = status
			entry.Attempts++
			entry.LastError = cause
			entry.UpdatedAt = now
			if err := putEntry(outbox, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to release outbox entries: %w", err)
	}
	return nil
}

// ResetStatus переводит записи из одного состояния в другое
func (s *Storage) ResetStatus(ctx context.Context, from, to storage.EntryStatus) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var changed []*storage.OutboxEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}

		now := s.now()
		err = outbox.ForEach(func(k, v []byte) error {
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			if entry.Status == from {
				entry.Status = to
				entry.UpdatedAt = now
				if to == storage.EntryPending && from == storage.EntryRejected {
					entry.LastError = ""
				}
				changed = append(changed, entry)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, entry := range changed {
			if err := putEntry(outbox, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset %s entries: %w", from, err)
	}
	return len(changed), nil
}

// ListEntries возвращает все записи очереди
func (s *Storage) ListEntries(ctx context.Context) ([]*storage.OutboxEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var entries []*storage.OutboxEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}
		return outbox.ForEach(func(k, v []byte) error {
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox entries: %w", err)
	}
	return entries, nil
}

// ClearOutbox удаляет все записи очереди
func (s *Storage) ClearOutbox(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var removed int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}

		var keys [][]byte
		if err := outbox.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := outbox.Delete(k); err != nil {
				return err
			}
		}
		removed = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear outbox: %w", err)
	}
	return removed, nil
}

func putEntry(outbox *bbolt.Bucket, entry *storage.OutboxEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}
	if err := outbox.Put(seqKey(entry.Seq()), data); err != nil {
		return fmt.Errorf("failed to save outbox entry %d: %w", entry.Seq(), err)
	}
	return nil
}

func decodeEntry(data []byte) (*storage.OutboxEntry, error) {
	var entry storage.OutboxEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox entry: %w", err)
	}
	if entry.Mutation == nil {
		return nil, fmt.Errorf("outbox entry without mutation")
	}
	return &entry, nil
}

// queuedKeys ключи сущностей, у которых есть записи в очереди в любом состоянии
func queuedKeys(outbox *bbolt.Bucket) (map[string]bool, error) {
	keys := make(map[string]bool)
	err := outbox.ForEach(func(k, v []byte) error {
		entry, err := decodeEntry(v)
		if err != nil {
			return err
		}
		keys[entry.Mutation.Key().String()] = true
		return nil
	})
	return keys, err
}
