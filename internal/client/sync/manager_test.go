package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiclient "github.com/nnsi/hono-practice-sub007/internal/client/api"
	"github.com/nnsi/hono-practice-sub007/internal/client/outbox"
	"github.com/nnsi/hono-practice-sub007/internal/client/storage/boltdb"
	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

func newTestManager(t *testing.T, client APIClient, batchSize int) *Manager {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := boltdb.New(ctx, filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue, err := outbox.New(ctx, store, "user-1", logger)
	require.NoError(t, err)

	m, err := NewManager(ctx, queue, store, store, client, batchSize, DefaultRetryPolicy(), logger)
	require.NoError(t, err)
	return m
}

// syncedAll подтверждает все изменения пакета
func syncedAll(ctx context.Context, t models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
	resp := &api.SyncResponse{SyncedIDs: []string{}, ServerWins: []json.RawMessage{}, SkippedIDs: []string{}}
	for _, m := range items {
		resp.SyncedIDs = append(resp.SyncedIDs, m.EntityID)
	}
	return resp, nil
}

func activity(name string) *models.Activity {
	return &models.Activity{ID: uuid.NewString(), Name: name}
}

type recorder struct {
	statuses []Status
	mu       sync.Mutex
}

func (r *recorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func TestManager_SyncNow_Success(t *testing.T) {
	ctx := context.Background()
	client := &APIClientMock{SyncBatchFunc: syncedAll}
	m := newTestManager(t, client, 100)

	_, err := m.Enqueue(ctx, models.OperationCreate, &models.Task{ID: uuid.NewString(), Title: "t"})
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, models.OperationCreate, activity("Walking"))
	require.NoError(t, err)

	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.record)
	defer unsubscribe()

	res, err := m.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Drained)
	assert.Equal(t, 2, res.Synced)

	// Родительские типы отправляются раньше дочерних
	calls := client.SyncBatchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, models.EntityActivity, calls[0].EntityType)
	assert.Equal(t, models.EntityTask, calls[1].EntityType)

	status := m.Status()
	assert.True(t, status.IsFullySynced())
	assert.NotNil(t, status.LastSyncAt)
	assert.Empty(t, status.LastError)

	statuses := rec.all()
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, 2, statuses[0].Pending)
	assert.Equal(t, 2, statuses[1].Syncing)
	assert.True(t, statuses[len(statuses)-1].IsFullySynced())
}

func TestManager_SyncNow_ServerWinsUpdatesCache(t *testing.T) {
	ctx := context.Background()
	local := activity("local")

	server := activity("server")
	server.ID = local.ID
	server.UpdatedAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	client := &APIClientMock{
		SyncBatchFunc: func(ctx context.Context, t models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
			wins, err := api.EncodeEntities([]models.Entity{server})
			if err != nil {
				return nil, err
			}
			return &api.SyncResponse{SyncedIDs: []string{}, ServerWins: wins, SkippedIDs: []string{}}, nil
		},
	}
	m := newTestManager(t, client, 100)

	_, err := m.Enqueue(ctx, models.OperationUpdate, local)
	require.NoError(t, err)

	res, err := m.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ServerWins)

	got, err := m.Get(ctx, models.EntityKey{Type: models.EntityActivity, ID: local.ID})
	require.NoError(t, err)
	assert.Equal(t, "server", got.(*models.Activity).Name)
	assert.True(t, m.Status().IsFullySynced())
}

func TestManager_SyncNow_TransientErrorRequeues(t *testing.T) {
	ctx := context.Background()
	fail := true
	client := &APIClientMock{
		SyncBatchFunc: func(ctx context.Context, t models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
			if fail {
				return nil, errors.New("connection refused")
			}
			return syncedAll(ctx, t, items)
		},
	}
	m := newTestManager(t, client, 100)

	_, err := m.Enqueue(ctx, models.OperationCreate, activity("a"))
	require.NoError(t, err)

	res, err := m.SyncNow(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, res.Requeued)

	status := m.Status()
	assert.Equal(t, 1, status.Failed)
	assert.Contains(t, status.LastError, "connection refused")
	assert.False(t, status.IsFullySynced())
	assert.Nil(t, status.LastSyncAt)

	fail = false
	_, err = m.SyncNow(ctx)
	require.NoError(t, err)

	status = m.Status()
	assert.True(t, status.IsFullySynced())
	assert.Empty(t, status.LastError)
	assert.NotNil(t, status.LastSyncAt)
}

func TestManager_SyncNow_RejectedUntilRetry(t *testing.T) {
	ctx := context.Background()
	client := &APIClientMock{
		SyncBatchFunc: func(ctx context.Context, t models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
			return nil, &apiclient.ServerError{StatusCode: 400, Message: "Bad Request"}
		},
	}
	m := newTestManager(t, client, 100)

	_, err := m.Enqueue(ctx, models.OperationCreate, activity("a"))
	require.NoError(t, err)

	res, err := m.SyncNow(ctx)
	assert.ErrorIs(t, err, apiclient.ErrRejected)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, m.Status().Rejected)
	assert.False(t, m.Status().IsFullySynced())

	// Отклоненные записи не отправляются повторно сами по себе
	res, err = m.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Drained)
	assert.Len(t, client.SyncBatchCalls(), 1)

	n, err := m.Retry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Status().Pending)
}

func TestManager_SyncNow_UnauthorizedStopsCycle(t *testing.T) {
	ctx := context.Background()
	client := &APIClientMock{
		SyncBatchFunc: func(ctx context.Context, t models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
			return nil, &apiclient.ServerError{StatusCode: 401}
		},
	}
	m := newTestManager(t, client, 100)

	_, err := m.Enqueue(ctx, models.OperationCreate, activity("a"))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, models.OperationCreate, &models.Task{ID: uuid.NewString(), Title: "t"})
	require.NoError(t, err)

	res, err := m.SyncNow(ctx)
	assert.ErrorIs(t, err, apiclient.ErrUnauthorized)
	assert.Equal(t, 2, res.Requeued)
	assert.Len(t, client.SyncBatchCalls(), 1)
	assert.Equal(t, 2, m.Status().Failed)
}

func TestManager_SyncAll(t *testing.T) {
	ctx := context.Background()

	t.Run("drains in several cycles", func(t *testing.T) {
		client := &APIClientMock{SyncBatchFunc: syncedAll}
		m := newTestManager(t, client, 2)

		for range 5 {
			_, err := m.Enqueue(ctx, models.OperationCreate, activity("a"))
			require.NoError(t, err)
		}

		res, err := m.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, res.Synced)
		assert.Len(t, client.SyncBatchCalls(), 3)
		assert.True(t, m.Status().IsFullySynced())
	})

	t.Run("stops without progress", func(t *testing.T) {
		// Сервер не подтверждает ни одного изменения
		client := &APIClientMock{
			SyncBatchFunc: func(ctx context.Context, t models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
				return &api.SyncResponse{}, nil
			},
		}
		m := newTestManager(t, client, 100)

		for range 3 {
			_, err := m.Enqueue(ctx, models.OperationCreate, activity("a"))
			require.NoError(t, err)
		}

		_, err := m.SyncAll(ctx)
		require.NoError(t, err)
		assert.Len(t, client.SyncBatchCalls(), 1)
		assert.Equal(t, 3, m.Status().Failed)
	})

	t.Run("skipped items leave the queue", func(t *testing.T) {
		client := &APIClientMock{
			SyncBatchFunc: func(ctx context.Context, t models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
				resp := &api.SyncResponse{}
				for _, m := range items {
					resp.SkippedIDs = append(resp.SkippedIDs, m.EntityID)
				}
				return resp, nil
			},
		}
		m := newTestManager(t, client, 100)

		_, err := m.Enqueue(ctx, models.OperationCreate, &models.Goal{
			ID: uuid.NewString(), ActivityID: uuid.NewString(), StartDate: "2024-05-01",
		})
		require.NoError(t, err)

		res, err := m.SyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		assert.True(t, m.Status().IsFullySynced())
	})
}

func TestManager_SubscribeUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &APIClientMock{SyncBatchFunc: syncedAll}, 100)

	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.record)
	require.Len(t, rec.all(), 1)

	_, err := m.Enqueue(ctx, models.OperationCreate, activity("a"))
	require.NoError(t, err)
	require.Len(t, rec.all(), 2)
	assert.Equal(t, 1, rec.all()[1].Pending)

	unsubscribe()
	unsubscribe()

	_, err = m.Enqueue(ctx, models.OperationCreate, activity("b"))
	require.NoError(t, err)
	assert.Len(t, rec.all(), 2)
}

func TestManager_ClearQueue(t *testing.T) {
	ctx := context.Background()
	client := &APIClientMock{}
	m := newTestManager(t, client, 100)

	for range 3 {
		_, err := m.Enqueue(ctx, models.OperationCreate, activity("a"))
		require.NoError(t, err)
	}

	n, err := m.ClearQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, m.Status().IsFullySynced())
	assert.Empty(t, client.SyncBatchCalls())
}

func TestManager_Pull(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	edited := activity("local edit")
	serverEdited := activity("server")
	serverEdited.ID = edited.ID
	serverEdited.UpdatedAt = t1

	remote := activity("from other device")
	remote.UpdatedAt = t1.Add(time.Minute)

	client := &APIClientMock{
		PullFunc: func(ctx context.Context, t models.EntityType, since *time.Time) ([]json.RawMessage, error) {
			if t != models.EntityActivity || since != nil {
				return []json.RawMessage{}, nil
			}
			return api.EncodeEntities([]models.Entity{serverEdited, remote})
		},
	}
	m := newTestManager(t, client, 100)

	_, err := m.Enqueue(ctx, models.OperationUpdate, edited)
	require.NoError(t, err)

	merged, err := m.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	// Изменение в очереди не перезаписано
	got, err := m.Get(ctx, models.EntityKey{Type: models.EntityActivity, ID: edited.ID})
	require.NoError(t, err)
	assert.Equal(t, "local edit", got.(*models.Activity).Name)

	list, err := m.List(ctx, models.EntityActivity, false)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// Второй pull продолжает с watermark
	_, err = m.Pull(ctx)
	require.NoError(t, err)

	var activityCalls []*time.Time
	for _, c := range client.PullCalls() {
		if c.EntityType == models.EntityActivity {
			activityCalls = append(activityCalls, c.Since)
		}
	}
	require.Len(t, activityCalls, 2)
	assert.Nil(t, activityCalls[0])
	require.NotNil(t, activityCalls[1])
	assert.True(t, remote.UpdatedAt.Add(-pullOverlap).Equal(*activityCalls[1]))
}

func TestManager_PullPicksUpRowsFromLaggingClock(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	fast := activity("fast clock")
	fast.UpdatedAt = t1.Add(time.Minute)

	// Создана позже, но часы устройства отстают на 30 секунд
	lagging := activity("lagging clock")
	lagging.UpdatedAt = t1.Add(30 * time.Second)

	var serverRows []models.Entity
	client := &APIClientMock{
		PullFunc: func(ctx context.Context, t models.EntityType, since *time.Time) ([]json.RawMessage, error) {
			if t != models.EntityActivity {
				return []json.RawMessage{}, nil
			}
			var out []models.Entity
			for _, e := range serverRows {
				if since == nil || e.Meta().UpdatedAt.After(*since) {
					out = append(out, e)
				}
			}
			return api.EncodeEntities(out)
		},
	}
	m := newTestManager(t, client, 100)

	serverRows = []models.Entity{fast}
	_, err := m.Pull(ctx)
	require.NoError(t, err)

	serverRows = append(serverRows, lagging)
	_, err = m.Pull(ctx)
	require.NoError(t, err)

	got, err := m.Get(ctx, models.EntityKey{Type: models.EntityActivity, ID: lagging.ID})
	require.NoError(t, err)
	assert.Equal(t, "lagging clock", got.(*models.Activity).Name)

	// Watermark не откатывается назад, если новых строк нет
	serverRows = nil
	_, err = m.Pull(ctx)
	require.NoError(t, err)
	calls := client.PullCalls()
	var last *time.Time
	for _, c := range calls {
		if c.EntityType == models.EntityActivity {
			last = c.Since
		}
	}
	require.NotNil(t, last)
	assert.True(t, fast.UpdatedAt.Add(-pullOverlap).Equal(*last))
}

func TestManager_Run(t *testing.T) {
	sent := make(chan struct{}, 1)
	client := &APIClientMock{
		SyncBatchFunc: func(ctx context.Context, t models.EntityType, items []*models.Mutation) (*api.SyncResponse, error) {
			defer func() { sent <- struct{}{} }()
			return syncedAll(ctx, t, items)
		},
	}
	m := newTestManager(t, client, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Hour) }()

	_, err := m.Enqueue(ctx, models.OperationCreate, activity("a"))
	require.NoError(t, err)

	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("background sync did not run after enqueue")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRetryPolicy_NeverStops(t *testing.T) {
	p := RetryPolicy{InitialInterval: 10 * time.Millisecond, MaxInterval: 40 * time.Millisecond, Multiplier: 2}
	b := p.NewBackOff()

	for range 20 {
		next := b.NextBackOff()
		assert.Greater(t, next, time.Duration(0))
		assert.LessOrEqual(t, next, 60*time.Millisecond)
	}
}
