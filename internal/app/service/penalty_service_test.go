package service

import (
	"context"
	"testing"
	"time"

	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPenaltyFixture(t *testing.T) (*PenaltyService, repository.Store) {
	t.Helper()
	store := repository.NewMemStore()
	svc := NewPenaltyService(store, notify.NopNotifier{}, testLogger(), 3, 7, 50)
	return svc, store
}

func TestRecordCancellation_BlocksAtThreshold(t *testing.T) {
	svc, store := newPenaltyFixture(t)
	ctx := context.Background()
	worker := seedWorker(t, store, true)

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.RecordCancellation(ctx, worker.ID))
		record, err := store.Workers().FindByID(ctx, worker.ID)
		require.NoError(t, err)
		assert.Nil(t, record.BlockedUntil)
		assert.True(t, record.OnDuty)
	}

	// Third strike blocks.
	require.NoError(t, svc.RecordCancellation(ctx, worker.ID))
	record, err := store.Workers().FindByID(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, record.CancellationCount)
	require.NotNil(t, record.BlockedUntil)
	assert.False(t, record.OnDuty)
	assert.True(t, record.IsBlocked(time.Now()))

	// The block window is seven days.
	expected := time.Now().Add(7 * 24 * time.Hour)
	assert.WithinDuration(t, expected, *record.BlockedUntil, time.Minute)
}

func TestRecordCancellation_DoesNotExtendActiveBlock(t *testing.T) {
	svc, store := newPenaltyFixture(t)
	ctx := context.Background()
	worker := seedWorker(t, store, true)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.RecordCancellation(ctx, worker.ID))
	}
	blocked, err := store.Workers().FindByID(ctx, worker.ID)
	require.NoError(t, err)
	originalUntil := *blocked.BlockedUntil

	require.NoError(t, svc.RecordCancellation(ctx, worker.ID))
	after, err := store.Workers().FindByID(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, originalUntil, *after.BlockedUntil)
	assert.Equal(t, 4, after.CancellationCount)
}

func TestUnblockExpiredWorkers(t *testing.T) {
	svc, store := newPenaltyFixture(t)
	ctx := context.Background()

	expired := seedWorker(t, store, true)
	past := time.Now().Add(-time.Hour)
	expired.BlockedUntil = &past
	expired.CancellationCount = 3
	require.NoError(t, store.Workers().Update(ctx, expired))

	stillBlocked := seedWorker(t, store, true)
	future := time.Now().Add(48 * time.Hour)
	stillBlocked.BlockedUntil = &future
	stillBlocked.CancellationCount = 3
	require.NoError(t, store.Workers().Update(ctx, stillBlocked))

	reinstated, err := svc.UnblockExpiredWorkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reinstated)

	freed, err := store.Workers().FindByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Nil(t, freed.BlockedUntil)
	assert.Zero(t, freed.CancellationCount)

	kept, err := store.Workers().FindByID(ctx, stillBlocked.ID)
	require.NoError(t, err)
	require.NotNil(t, kept.BlockedUntil)
	assert.Equal(t, 3, kept.CancellationCount)
}

func TestUnblockExpiredWorkers_SweepIsIdempotent(t *testing.T) {
	svc, store := newPenaltyFixture(t)
	ctx := context.Background()

	worker := seedWorker(t, store, true)
	past := time.Now().Add(-time.Hour)
	worker.BlockedUntil = &past
	worker.CancellationCount = 3
	require.NoError(t, store.Workers().Update(ctx, worker))

	first, err := svc.UnblockExpiredWorkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := svc.UnblockExpiredWorkers(ctx)
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestPenaltyStatus(t *testing.T) {
	svc, store := newPenaltyFixture(t)
	ctx := context.Background()
	worker := seedWorker(t, store, true)

	status, err := svc.PenaltyStatus(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, worker.ID, status.ID)
	assert.False(t, status.IsBlocked(time.Now()))
}
