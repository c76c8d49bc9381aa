// Package sync связывает очередь изменений с сервером: выполняет циклы
// отправки, подтягивает изменения других устройств и публикует состояние синхронизации.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	apiclient "github.com/nnsi/hono-practice-sub007/internal/client/api"
	"github.com/nnsi/hono-practice-sub007/internal/client/outbox"
	"github.com/nnsi/hono-practice-sub007/internal/client/storage"
	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

//go:generate moq -out api_mock.go . APIClient

// APIClient серверная сторона протокола синхронизации
type APIClient interface {
	SyncBatch(ctx context.Context, entityType models.EntityType, items []*models.Mutation) (*api.SyncResponse, error)
	Pull(ctx context.Context, entityType models.EntityType, since *time.Time) ([]json.RawMessage, error)
}

// Status снимок состояния синхронизации
type Status struct {
	LastSyncAt *time.Time
	LastError  string
	Pending    int
	Syncing    int
	Failed     int
	Rejected   int
}

// IsFullySynced сообщает, что в очереди нет неотправленных и неудачных изменений.
// Записи в полете не мешают: они либо подтвердятся, либо вернутся в очередь.
func (s Status) IsFullySynced() bool {
	return s.Pending == 0 && s.Failed == 0 && s.Rejected == 0
}

func (s Status) equal(o Status) bool {
	sameTime := (s.LastSyncAt == nil) == (o.LastSyncAt == nil) &&
		(s.LastSyncAt == nil || s.LastSyncAt.Equal(*o.LastSyncAt))
	return sameTime && s.LastError == o.LastError &&
		s.Pending == o.Pending && s.Syncing == o.Syncing &&
		s.Failed == o.Failed && s.Rejected == o.Rejected
}

// CycleResult итог одного или нескольких циклов отправки
type CycleResult struct {
	Drained    int // записей забрано из очереди
	Synced     int
	ServerWins int
	Skipped    int
	Requeued   int // возвращено в очередь после временной ошибки
	Rejected   int
}

func (r *CycleResult) add(o *CycleResult) {
	r.Drained += o.Drained
	r.Synced += o.Synced
	r.ServerWins += o.ServerWins
	r.Skipped += o.Skipped
	r.Requeued += o.Requeued
	r.Rejected += o.Rejected
}

// pullOverlap отступ watermark назад. updatedAt ставит клиент, поэтому устройство
// с отстающими часами может записать строку старше уже полученных.
// Повторно полученные сущности безопасно сливаются по LWW.
const pullOverlap = 5 * time.Minute

// Manager управляет синхронизацией очереди одного пользователя
type Manager struct {
	queue     *outbox.Queue
	cache     storage.CacheStorage
	meta      storage.MetadataStorage
	api       APIClient
	logger    *slog.Logger
	now       func() time.Time
	subs      map[int]func(Status)
	trigger   chan struct{}
	retry     RetryPolicy
	status    Status
	batchSize int
	nextSub   int

	// cycleMu гарантирует единственного drainer; mu защищает status и subs
	cycleMu sync.Mutex
	mu      sync.Mutex
}

// NewManager creates a new sync manager
func NewManager(ctx context.Context, queue *outbox.Queue, cache storage.CacheStorage, meta storage.MetadataStorage,
	client APIClient, batchSize int, retry RetryPolicy, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		queue:     queue,
		cache:     cache,
		meta:      meta,
		api:       client,
		logger:    logger,
		now:       time.Now,
		subs:      make(map[int]func(Status)),
		trigger:   make(chan struct{}, 1),
		retry:     retry,
		batchSize: batchSize,
	}

	state, err := meta.GetSyncState(ctx)
	if err != nil {
		return nil, err
	}
	m.status.LastSyncAt = state.LastSyncAt
	m.status.LastError = state.LastError

	if err := m.publish(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Status возвращает текущий снимок состояния
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe регистрирует подписчика. Подписчик сразу получает текущий снимок,
// затем снимок на каждое изменение состояния. Отписка идемпотентна.
func (m *Manager) Subscribe(fn func(Status)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	current := m.status
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Enqueue записывает изменение в очередь и будит фоновый цикл
func (m *Manager) Enqueue(ctx context.Context, op models.Operation, entity models.Entity) (*models.Mutation, error) {
	mut, err := m.queue.Enqueue(ctx, op, entity)
	if err != nil {
		return nil, err
	}
	if err := m.publish(ctx); err != nil {
		m.logger.Warn("Failed to refresh sync status", "error", err)
	}
	m.Trigger()
	return mut, nil
}

// Get возвращает сущность из локального кэша
func (m *Manager) Get(ctx context.Context, key models.EntityKey) (models.Entity, error) {
	snap, err := m.cache.GetSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	return snap.Entity()
}

// List возвращает сущности типа из локального кэша
func (m *Manager) List(ctx context.Context, entityType models.EntityType, includeDeleted bool) ([]models.Entity, error) {
	snaps, err := m.cache.ListSnapshots(ctx, entityType)
	if err != nil {
		return nil, err
	}
	out := make([]models.Entity, 0, len(snaps))
	for _, snap := range snaps {
		if snap.DeletedAt != nil && !includeDeleted {
			continue
		}
		e, err := snap.Entity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Entries возвращает записи очереди
func (m *Manager) Entries(ctx context.Context) ([]*storage.OutboxEntry, error) {
	return m.queue.Entries(ctx)
}

// SyncNow выполняет один цикл: drain, отправка по типам, подтверждение
func (m *Manager) SyncNow(ctx context.Context) (*CycleResult, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	return m.cycle(ctx)
}

// SyncAll повторяет циклы, пока очередь не опустеет или цикл не перестанет
// уменьшать число ожидающих записей
func (m *Manager) SyncAll(ctx context.Context) (*CycleResult, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	total := &CycleResult{}
	for {
		before, err := m.queue.Stats(ctx)
		if err != nil {
			return total, err
		}

		res, err := m.cycle(ctx)
		if res != nil {
			total.add(res)
		}
		if err != nil {
			return total, err
		}
		if res.Drained == 0 {
			return total, nil
		}

		after, err := m.queue.Stats(ctx)
		if err != nil {
			return total, err
		}
		if after.Pending+after.Failed >= before.Pending+before.Failed {
			m.logger.Warn("Sync cycle made no progress",
				"pending", after.Pending,
				"failed", after.Failed)
			return total, nil
		}
	}
}

func (m *Manager) cycle(ctx context.Context) (*CycleResult, error) {
	b, err := m.queue.DrainBatch(ctx, m.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to drain outbox: %w", err)
	}

	res := &CycleResult{Drained: b.Len()}
	if b.Len() == 0 {
		m.finish(ctx, nil)
		return res, nil
	}
	if err := m.publish(ctx); err != nil {
		m.logger.Warn("Failed to refresh sync status", "error", err)
	}

	var cycleErr error
	types := b.Types()
	for i, t := range types {
		err := m.send(ctx, b, t, res)
		if err == nil {
			continue
		}
		if cycleErr == nil {
			cycleErr = err
		}

		// Без авторизации остальные типы отправлять бессмысленно
		if errors.Is(err, apiclient.ErrUnauthorized) {
			for _, rest := range types[i+1:] {
				if err := m.queue.RequeueFailed(ctx, b.Seqs(rest), cycleErr); err != nil {
					m.logger.Error("Failed to requeue entries", "entity_type", rest, "error", err)
				}
				res.Requeued += len(b.Seqs(rest))
			}
			break
		}
	}

	m.logger.Info("Sync cycle completed",
		"drained", res.Drained,
		"synced", res.Synced,
		"server_wins", res.ServerWins,
		"skipped", res.Skipped,
		"requeued", res.Requeued,
		"rejected", res.Rejected)

	m.finish(ctx, cycleErr)
	return res, cycleErr
}

// send отправляет записи одного типа и применяет ответ.
// Любая ошибка оставляет записи в очереди: failed для временных, rejected для 400.
func (m *Manager) send(ctx context.Context, b *outbox.Batch, t models.EntityType, res *CycleResult) error {
	seqs := b.Seqs(t)
	items := b.Items(t)

	resp, err := m.api.SyncBatch(ctx, t, items)
	if err != nil {
		if errors.Is(err, apiclient.ErrRejected) {
			m.logger.Error("Batch rejected by server", "entity_type", t, "items", len(items), "error", err)
			if rerr := m.queue.Reject(ctx, seqs, err); rerr != nil {
				return errors.Join(err, rerr)
			}
			res.Rejected += len(seqs)
			return err
		}
		m.logger.Warn("Batch send failed", "entity_type", t, "items", len(items), "error", err)
		return m.requeue(ctx, seqs, err, res)
	}

	wins, err := api.DecodeEntities(t, resp.ServerWins)
	if err != nil {
		return m.requeue(ctx, seqs, fmt.Errorf("failed to decode server wins: %w", err), res)
	}

	applied, err := m.queue.Acknowledge(ctx, b, t, &outbox.Result{
		SyncedIDs:  resp.SyncedIDs,
		ServerWins: wins,
		SkippedIDs: resp.SkippedIDs,
	})
	if err != nil {
		return m.requeue(ctx, seqs, fmt.Errorf("failed to acknowledge %s: %w", t, err), res)
	}

	res.Synced += len(resp.SyncedIDs)
	res.ServerWins += len(applied)
	res.Skipped += len(resp.SkippedIDs)
	return nil
}

func (m *Manager) requeue(ctx context.Context, seqs []uint64, cause error, res *CycleResult) error {
	if err := m.queue.RequeueFailed(ctx, seqs, cause); err != nil {
		return errors.Join(cause, err)
	}
	res.Requeued += len(seqs)
	return cause
}

// Pull подтягивает изменения с сервера по всем типам начиная с сохраненного
// watermark (с отступом pullOverlap). Сущности с изменениями в очереди не перезаписываются.
func (m *Manager) Pull(ctx context.Context) (int, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	userID := m.queue.UserID()
	var merged int
	for _, t := range models.EntityTypes() {
		since, err := m.meta.GetWatermark(ctx, t)
		if err != nil {
			return merged, err
		}

		raws, err := m.api.Pull(ctx, t, since)
		if err != nil {
			return merged, err
		}
		entities, err := api.DecodeEntities(t, raws)
		if err != nil {
			return merged, fmt.Errorf("failed to decode pulled %s: %w", t, err)
		}
		if len(entities) == 0 {
			continue
		}

		snaps := make([]*models.Snapshot, 0, len(entities))
		var watermark time.Time
		for _, e := range entities {
			snap, err := models.SnapshotOf(userID, e)
			if err != nil {
				return merged, err
			}
			snaps = append(snaps, snap)
			if snap.UpdatedAt.After(watermark) {
				watermark = snap.UpdatedAt
			}
		}

		n, err := m.cache.MergeSnapshots(ctx, snaps)
		if err != nil {
			return merged, err
		}
		watermark = watermark.Add(-pullOverlap)
		if since == nil || watermark.After(*since) {
			if err := m.meta.SaveWatermark(ctx, t, watermark); err != nil {
				return merged, err
			}
		}
		merged += n

		m.logger.Info("Pulled server changes",
			"entity_type", t,
			"received", len(entities),
			"merged", n)
	}
	return merged, nil
}

// ClearQueue удаляет все неотправленные изменения. Только по явной команде пользователя.
func (m *Manager) ClearQueue(ctx context.Context) (int, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	n, err := m.queue.Clear(ctx)
	if err != nil {
		return 0, err
	}
	if err := m.publish(ctx); err != nil {
		m.logger.Warn("Failed to refresh sync status", "error", err)
	}
	return n, nil
}

// Retry возвращает отклоненные сервером записи в очередь
func (m *Manager) Retry(ctx context.Context) (int, error) {
	m.cycleMu.Lock()
	n, err := m.queue.Retry(ctx)
	m.cycleMu.Unlock()
	if err != nil {
		return 0, err
	}
	if err := m.publish(ctx); err != nil {
		m.logger.Warn("Failed to refresh sync status", "error", err)
	}
	m.Trigger()
	return n, nil
}

// Trigger будит фоновый цикл Run, не блокируясь
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run выполняет синхронизацию в фоне: сразу, по интервалу и по Trigger.
// После ошибки следующий запуск откладывается по RetryPolicy.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	bo := m.retry.NewBackOff()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-m.trigger:
		}

		wait := interval
		if _, err := m.SyncAll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if next := bo.NextBackOff(); next != backoff.Stop {
				wait = next
			}
			m.logger.Warn("Background sync failed", "error", err, "retry_in", wait)
		} else {
			bo.Reset()
		}
		timer.Reset(wait)
	}
}

// finish сохраняет итог цикла и публикует состояние
func (m *Manager) finish(ctx context.Context, cycleErr error) {
	state := storage.SyncState{LastSyncAt: m.Status().LastSyncAt}
	if cycleErr == nil {
		now := m.now().UTC()
		state.LastSyncAt = &now
	} else {
		state.LastError = cycleErr.Error()
	}

	if err := m.meta.SaveSyncState(ctx, state); err != nil {
		m.logger.Warn("Failed to save sync state", "error", err)
	}

	err := m.publish(ctx, func(s *Status) {
		s.LastSyncAt = state.LastSyncAt
		s.LastError = state.LastError
	})
	if err != nil {
		m.logger.Warn("Failed to refresh sync status", "error", err)
	}
}

// publish пересчитывает счетчики по очереди и уведомляет подписчиков при изменении
func (m *Manager) publish(ctx context.Context, updates ...func(*Status)) error {
	stats, err := m.queue.Stats(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	next := m.status
	next.Pending = stats.Pending
	next.Syncing = stats.Syncing
	next.Failed = stats.Failed
	next.Rejected = stats.Rejected
	for _, update := range updates {
		update(&next)
	}
	changed := !next.equal(m.status)
	m.status = next
	subs := make([]func(Status), 0, len(m.subs))
	if changed {
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return nil
}
