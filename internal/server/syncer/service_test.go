package syncer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnsi/hono-practice-sub007/internal/models"
	"github.com/nnsi/hono-practice-sub007/internal/server/storage/sqlite"
	"github.com/nnsi/hono-practice-sub007/internal/validation"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *sqlite.Storage
	service Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store:   store,
		service: NewService(store, NewResolver(time.Second), logger),
	}
}

func activityMutation(id string, op models.Operation, ts time.Time) *models.Mutation {
	a := &models.Activity{ID: id, Name: "Running"}
	a.UpdatedAt = ts
	return &models.Mutation{
		ID:         ulid.Make().String(),
		EntityType: models.EntityActivity,
		EntityID:   id,
		Operation:  op,
		Payload:    a,
		Timestamp:  ts,
	}
}

func logMutation(id, activityID string, op models.Operation, ts time.Time, memo string) *models.Mutation {
	l := &models.ActivityLog{ID: id, ActivityID: activityID, Date: "2024-05-01", Memo: memo}
	l.UpdatedAt = ts
	return &models.Mutation{
		ID:         ulid.Make().String(),
		EntityType: models.EntityActivityLog,
		EntityID:   id,
		Operation:  op,
		Payload:    l,
		Timestamp:  ts,
	}
}

func (f *fixture) seedActivity(t *testing.T, userID string) string {
	t.Helper()
	id := uuid.NewString()
	res, err := f.service.SyncBatch(context.Background(), userID, models.EntityActivity,
		[]*models.Mutation{activityMutation(id, models.OperationCreate, t0)})
	require.NoError(t, err)
	require.Equal(t, []string{id}, res.SyncedIDs)
	return id
}

func (f *fixture) sync(t *testing.T, userID string, items ...*models.Mutation) *Result {
	t.Helper()
	entityType := models.EntityActivityLog
	if len(items) > 0 {
		entityType = items[0].EntityType
	}
	res, err := f.service.SyncBatch(context.Background(), userID, entityType, items)
	require.NoError(t, err)
	return res
}

func TestSyncBatch_CreateWithOwnedParent(t *testing.T) {
	f := setup(t)
	activityID := f.seedActivity(t, "user-1")
	logID := uuid.NewString()

	res := f.sync(t, "user-1", logMutation(logID, activityID, models.OperationCreate, t0, "first"))

	assert.Equal(t, []string{logID}, res.SyncedIDs)
	assert.Empty(t, res.ServerWins)
	assert.Empty(t, res.SkippedIDs)

	pulled, err := f.service.Pull(context.Background(), "user-1", models.EntityActivityLog, nil)
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	assert.Equal(t, "first", pulled[0].(*models.ActivityLog).Memo)
}

func TestSyncBatch_ParentChecks(t *testing.T) {
	f := setup(t)
	mine := f.seedActivity(t, "user-1")
	theirs := f.seedActivity(t, "user-2")

	tests := []struct {
		name       string
		activityID string
	}{
		{name: "missing parent", activityID: uuid.NewString()},
		{name: "parent owned by another user", activityID: theirs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logID := uuid.NewString()
			res := f.sync(t, "user-1", logMutation(logID, tt.activityID, models.OperationCreate, t0, ""))
			assert.Equal(t, []string{logID}, res.SkippedIDs)
			assert.Empty(t, res.SyncedIDs)
		})
	}

	t.Run("entity row owned by another user", func(t *testing.T) {
		logID := uuid.NewString()
		otherParent := f.seedActivity(t, "user-2")
		f.sync(t, "user-2", logMutation(logID, otherParent, models.OperationCreate, t0, ""))

		res := f.sync(t, "user-1", logMutation(logID, mine, models.OperationUpdate, t0.Add(time.Hour), "steal"))
		assert.Equal(t, []string{logID}, res.SkippedIDs)
	})
}

func TestSyncBatch_LastWriteWins(t *testing.T) {
	tests := []struct {
		name          string
		incoming      time.Duration
		wantSynced    bool
		wantServerWin bool
	}{
		{name: "older client loses", incoming: -time.Minute, wantServerWin: true},
		{name: "equal timestamps keep server", incoming: 0, wantServerWin: true},
		{name: "newer client wins", incoming: time.Minute, wantSynced: true},
		{name: "older client inside duplicate window loses", incoming: -500 * time.Millisecond, wantServerWin: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			activityID := f.seedActivity(t, "user-1")
			logID := uuid.NewString()
			serverTime := t0.Add(time.Hour)

			first := logMutation(logID, activityID, models.OperationCreate, serverTime, "server")
			first.SequenceNumber = 1
			f.sync(t, "user-1", first)

			incoming := logMutation(logID, activityID, models.OperationUpdate, serverTime.Add(tt.incoming), "client")
			incoming.SequenceNumber = 2
			res := f.sync(t, "user-1", incoming)

			if tt.wantSynced {
				assert.Equal(t, []string{logID}, res.SyncedIDs)
				pulled, err := f.service.Pull(context.Background(), "user-1", models.EntityActivityLog, nil)
				require.NoError(t, err)
				require.Len(t, pulled, 1)
				assert.Equal(t, "client", pulled[0].(*models.ActivityLog).Memo)
				assert.Equal(t, serverTime.Add(tt.incoming), pulled[0].Meta().UpdatedAt)
			}
			if tt.wantServerWin {
				require.Len(t, res.ServerWins, 1)
				snap := res.ServerWins[0].(*models.ActivityLog)
				assert.Equal(t, "server", snap.Memo)
				assert.Equal(t, serverTime, snap.UpdatedAt)
				assert.Empty(t, res.SyncedIDs)
			}
		})
	}
}

func TestSyncBatch_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := setup(t)
	activityID := f.seedActivity(t, "user-1")
	logID := uuid.NewString()

	m := logMutation(logID, activityID, models.OperationUpdate, t0.Add(time.Minute), "once")
	m.SequenceNumber = 9

	first := f.sync(t, "user-1", m)
	second := f.sync(t, "user-1", m)

	assert.Equal(t, []string{logID}, first.SyncedIDs)
	assert.Equal(t, []string{logID}, second.SyncedIDs, "replay reports synced, not server wins")

	var count int
	err := f.store.DB().QueryRow(`SELECT COUNT(*) FROM sync_mutations WHERE entity_id = ?`, logID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "replay must not be recorded twice")
}

func TestSyncBatch_NewerWriteInsideDuplicateWindowIsApplied(t *testing.T) {
	tests := []struct {
		name     string
		first    uint64
		second   uint64
		gap      time.Duration
		wantMemo string
	}{
		{name: "unknown sequence numbers", gap: 500 * time.Millisecond, wantMemo: "v2"},
		{name: "colliding device counters", first: 7, second: 7, gap: 300 * time.Millisecond, wantMemo: "v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			activityID := f.seedActivity(t, "user-1")
			logID := uuid.NewString()
			f.sync(t, "user-1", logMutation(logID, activityID, models.OperationCreate, t0, "v0"))

			firstAt := t0.Add(time.Minute)
			first := logMutation(logID, activityID, models.OperationUpdate, firstAt, "v1")
			first.SequenceNumber = tt.first
			res := f.sync(t, "user-1", first)
			require.Equal(t, []string{logID}, res.SyncedIDs)

			secondAt := firstAt.Add(tt.gap)
			second := logMutation(logID, activityID, models.OperationUpdate, secondAt, tt.wantMemo)
			second.SequenceNumber = tt.second
			res = f.sync(t, "user-1", second)
			assert.Equal(t, []string{logID}, res.SyncedIDs)
			assert.Empty(t, res.ServerWins)

			pulled, err := f.service.Pull(context.Background(), "user-1", models.EntityActivityLog, nil)
			require.NoError(t, err)
			require.Len(t, pulled, 1)
			assert.Equal(t, tt.wantMemo, pulled[0].(*models.ActivityLog).Memo)
			assert.Equal(t, secondAt, pulled[0].Meta().UpdatedAt)

			// Повтор первого изменения остается дубликатом и ничего не откатывает
			res = f.sync(t, "user-1", first)
			assert.Equal(t, []string{logID}, res.SyncedIDs)
			pulled, err = f.service.Pull(context.Background(), "user-1", models.EntityActivityLog, nil)
			require.NoError(t, err)
			require.Len(t, pulled, 1)
			assert.Equal(t, tt.wantMemo, pulled[0].(*models.ActivityLog).Memo)
		})
	}
}

func TestSyncBatch_ReplayOfLatestWriteIsSynced(t *testing.T) {
	f := setup(t)
	activityID := f.seedActivity(t, "user-1")
	logID := uuid.NewString()
	f.sync(t, "user-1", logMutation(logID, activityID, models.OperationCreate, t0, "v0"))

	m := logMutation(logID, activityID, models.OperationUpdate, t0.Add(time.Minute), "v1")
	require.Equal(t, []string{logID}, f.sync(t, "user-1", m).SyncedIDs)

	res := f.sync(t, "user-1", m)
	assert.Equal(t, []string{logID}, res.SyncedIDs)
	assert.Empty(t, res.ServerWins)
}

func TestSyncBatch_Delete(t *testing.T) {
	t.Run("delete of absent entity stores tombstone", func(t *testing.T) {
		f := setup(t)
		activityID := f.seedActivity(t, "user-1")
		logID := uuid.NewString()

		res := f.sync(t, "user-1", logMutation(logID, activityID, models.OperationDelete, t0.Add(time.Minute), ""))
		assert.Equal(t, []string{logID}, res.SyncedIDs)

		since := t0
		pulled, err := f.service.Pull(context.Background(), "user-1", models.EntityActivityLog, &since)
		require.NoError(t, err)
		require.Len(t, pulled, 1)
		assert.True(t, pulled[0].Meta().Deleted())

		live, err := f.service.Pull(context.Background(), "user-1", models.EntityActivityLog, nil)
		require.NoError(t, err)
		assert.Empty(t, live)
	})

	t.Run("newer delete soft-deletes existing row", func(t *testing.T) {
		f := setup(t)
		activityID := f.seedActivity(t, "user-1")
		logID := uuid.NewString()
		f.sync(t, "user-1", logMutation(logID, activityID, models.OperationCreate, t0, "x"))

		deleteAt := t0.Add(time.Minute)
		res := f.sync(t, "user-1", logMutation(logID, activityID, models.OperationDelete, deleteAt, "x"))
		assert.Equal(t, []string{logID}, res.SyncedIDs)

		var deletedAt int64
		err := f.store.DB().QueryRow(`SELECT deleted_at_ms FROM activity_logs WHERE id = ?`, logID).Scan(&deletedAt)
		require.NoError(t, err)
		assert.Equal(t, deleteAt.UnixMilli(), deletedAt)
	})

	t.Run("delete under soft-deleted parent is accepted", func(t *testing.T) {
		f := setup(t)
		activityID := f.seedActivity(t, "user-1")
		logID := uuid.NewString()
		f.sync(t, "user-1", logMutation(logID, activityID, models.OperationCreate, t0, "x"))
		f.sync(t, "user-1", activityMutation(activityID, models.OperationDelete, t0.Add(time.Minute)))

		res := f.sync(t, "user-1", logMutation(logID, activityID, models.OperationDelete, t0.Add(2*time.Minute), "x"))
		assert.Equal(t, []string{logID}, res.SyncedIDs)

		res = f.sync(t, "user-1", logMutation(uuid.NewString(), activityID, models.OperationCreate, t0.Add(3*time.Minute), "y"))
		assert.Len(t, res.SkippedIDs, 1, "create under deleted parent is skipped")
	})
}

func TestSyncBatch_PartitionsIDs(t *testing.T) {
	f := setup(t)
	activityID := f.seedActivity(t, "user-1")

	existing := uuid.NewString()
	f.sync(t, "user-1", logMutation(existing, activityID, models.OperationCreate, t0.Add(time.Hour), "server"))

	items := []*models.Mutation{
		logMutation(uuid.NewString(), activityID, models.OperationCreate, t0, "new"),
		logMutation(existing, activityID, models.OperationUpdate, t0, "stale"),
		logMutation(uuid.NewString(), uuid.NewString(), models.OperationCreate, t0, "orphan"),
	}

	res := f.sync(t, "user-1", items...)

	seen := map[string]int{}
	for _, id := range res.SyncedIDs {
		seen[id]++
	}
	for _, e := range res.ServerWins {
		seen[e.EntityID()]++
	}
	for _, id := range res.SkippedIDs {
		seen[id]++
	}

	require.Len(t, seen, len(items))
	for _, m := range items {
		assert.Equal(t, 1, seen[m.EntityID], "id %s must appear exactly once", m.EntityID)
	}
	assert.Len(t, res.SyncedIDs, 1)
	assert.Len(t, res.ServerWins, 1)
	assert.Len(t, res.SkippedIDs, 1)
}

func TestSyncBatch_OrderInsensitive(t *testing.T) {
	build := func(activityID string, ids []string) []*models.Mutation {
		out := make([]*models.Mutation, 0, len(ids))
		for i, id := range ids {
			out = append(out, logMutation(id, activityID, models.OperationCreate, t0.Add(time.Duration(i)*time.Second), ""))
		}
		return out
	}

	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}

	f1 := setup(t)
	a1 := f1.seedActivity(t, "user-1")
	forward := f1.sync(t, "user-1", build(a1, ids)...)

	f2 := setup(t)
	a2 := f2.seedActivity(t, "user-1")
	items := build(a2, ids)
	reversed := []*models.Mutation{items[2], items[1], items[0]}
	backward := f2.sync(t, "user-1", reversed...)

	assert.ElementsMatch(t, forward.SyncedIDs, backward.SyncedIDs)
}

func TestSyncBatch_Validation(t *testing.T) {
	f := setup(t)
	activityID := f.seedActivity(t, "user-1")

	t.Run("empty batch", func(t *testing.T) {
		res, err := f.service.SyncBatch(context.Background(), "user-1", models.EntityActivityLog, nil)
		require.NoError(t, err)
		assert.Empty(t, res.SyncedIDs)
		assert.Empty(t, res.ServerWins)
		assert.Empty(t, res.SkippedIDs)
	})

	t.Run("oversized batch applies nothing", func(t *testing.T) {
		items := make([]*models.Mutation, 0, validation.MaxBatchSize+1)
		for range validation.MaxBatchSize + 1 {
			items = append(items, logMutation(uuid.NewString(), activityID, models.OperationCreate, t0, ""))
		}
		_, err := f.service.SyncBatch(context.Background(), "user-1", models.EntityActivityLog, items)
		require.ErrorIs(t, err, validation.ErrInvalid)

		live, err := f.service.Pull(context.Background(), "user-1", models.EntityActivityLog, nil)
		require.NoError(t, err)
		assert.Empty(t, live)
	})
}

func TestPull_SinceIsExclusive(t *testing.T) {
	f := setup(t)
	activityID := f.seedActivity(t, "user-1")

	a := uuid.NewString()
	b := uuid.NewString()
	f.sync(t, "user-1",
		logMutation(a, activityID, models.OperationCreate, t0, "a"),
		logMutation(b, activityID, models.OperationCreate, t0.Add(time.Second), "b"),
	)

	since := t0
	got, err := f.service.Pull(context.Background(), "user-1", models.EntityActivityLog, &since)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0].EntityID())

	other, err := f.service.Pull(context.Background(), "user-2", models.EntityActivityLog, nil)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestJanitor_PruneOnce(t *testing.T) {
	f := setup(t)
	activityID := f.seedActivity(t, "user-1")
	f.sync(t, "user-1", logMutation(uuid.NewString(), activityID, models.OperationCreate, t0, ""))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := NewJanitor(f.store, time.Hour, time.Hour, logger)
	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	assert.Equal(t, int64(2), j.PruneOnce(context.Background()))
}
