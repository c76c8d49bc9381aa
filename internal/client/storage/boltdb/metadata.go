package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nnsi/hono-practice-sub007/internal/client/storage"
	"github.com/nnsi/hono-practice-sub007/internal/models"
)

const (
	keyWatermarkPrefix = "watermark/"
	keySyncState       = "sync_state"
)

// SaveWatermark saves the updatedAt of the newest pulled entity of the type
func (s *Storage) SaveWatermark(ctx context.Context, entityType models.EntityType, ts time.Time) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		// Конвертируем время в bytes
		tsBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(tsBytes, uint64(ts.UnixNano()))

		if err := b.Put([]byte(keyWatermarkPrefix+string(entityType)), tsBytes); err != nil {
			return fmt.Errorf("failed to save %s watermark: %w", entityType, err)
		}
		return nil
	})
}

// GetWatermark retrieves the watermark of the type
// Returns nil if no pull has been performed yet
func (s *Storage) GetWatermark(ctx context.Context, entityType models.EntityType) (*time.Time, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var watermark *time.Time
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		tsBytes := b.Get([]byte(keyWatermarkPrefix + string(entityType)))
		if tsBytes == nil {
			// Первая синхронизация
			return nil
		}

		ts := time.Unix(0, int64(binary.BigEndian.Uint64(tsBytes))).UTC()
		watermark = &ts
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s watermark: %w", entityType, err)
	}
	return watermark, nil
}

// SaveSyncState saves the outcome of the last sync cycle
func (s *Storage) SaveSyncState(ctx context.Context, state storage.SyncState) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return fmt.Errorf("metadata bucket not found")
		}
		if err := b.Put([]byte(keySyncState), data); err != nil {
			return fmt.Errorf("failed to save sync state: %w", err)
		}
		return nil
	})
}

// GetSyncState retrieves the outcome of the last sync cycle
func (s *Storage) GetSyncState(ctx context.Context) (storage.SyncState, error) {
	var state storage.SyncState
	if s.db == nil {
		return state, storage.ErrStorageClosed
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return fmt.Errorf("metadata bucket not found")
		}
		data := b.Get([]byte(keySyncState))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return storage.SyncState{}, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state, nil
}
