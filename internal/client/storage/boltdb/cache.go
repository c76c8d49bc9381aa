package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/nnsi/hono-practice-sub007/internal/client/storage"
	"github.com/nnsi/hono-practice-sub007/internal/lww"
	"github.com/nnsi/hono-practice-sub007/internal/models"
)

// GetSnapshot retrieves cached entity by key
func (s *Storage) GetSnapshot(ctx context.Context, key models.EntityKey) (*models.Snapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var snap *models.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		entities, err := bucket(tx, bucketEntities)
		if err != nil {
			return err
		}
		data := entities.Get([]byte(key.String()))
		if data == nil {
			return storage.ErrEntryNotFound
		}
		snap, err = decodeSnapshot(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListSnapshots returns all cached entities of the type, tombstones included
func (s *Storage) ListSnapshots(ctx context.Context, entityType models.EntityType) ([]*models.Snapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	prefix := []byte(string(entityType) + "/")
	var snaps []*models.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		entities, err := bucket(tx, bucketEntities)
		if err != nil {
			return err
		}
		c := entities.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			snap, err := decodeSnapshot(v)
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entityType, err)
	}
	return snaps, nil
}

// MergeSnapshots применяет снимки сервера к кэшу
func (s *Storage) MergeSnapshots(ctx context.Context, snapshots []*models.Snapshot) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var merged int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		outbox, err := bucket(tx, bucketOutbox)
		if err != nil {
			return err
		}
		entities, err := bucket(tx, bucketEntities)
		if err != nil {
			return err
		}

		queued, err := queuedKeys(outbox)
		if err != nil {
			return err
		}

		for _, snap := range snapshots {
			key := snapshotKey(snap)
			if queued[key] {
				continue
			}
			if data := entities.Get([]byte(key)); data != nil {
				local, err := decodeSnapshot(data)
				if err != nil {
					return err
				}
				if !lww.Newer(metaOf(snap), metaOf(local)) {
					continue
				}
			}
			if err := putSnapshot(tx, snap); err != nil {
				return err
			}
			merged++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to merge snapshots: %w", err)
	}
	return merged, nil
}

func putSnapshot(tx *bbolt.Tx, snap *models.Snapshot) error {
	entities, err := bucket(tx, bucketEntities)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := entities.Put([]byte(snapshotKey(snap)), data); err != nil {
		return fmt.Errorf("failed to save %s: %w", snapshotKey(snap), err)
	}
	return nil
}

func decodeSnapshot(data []byte) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func snapshotKey(snap *models.Snapshot) string {
	return models.EntityKey{Type: snap.EntityType, ID: snap.ID}.String()
}

func metaOf(snap *models.Snapshot) *models.SyncMeta {
	return &models.SyncMeta{CreatedAt: snap.CreatedAt, UpdatedAt: snap.UpdatedAt, DeletedAt: snap.DeletedAt}
}
