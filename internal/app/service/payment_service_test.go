package service

import (
	"context"
	"testing"

	"workbridge/internal/common"
	"workbridge/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockEscrow_HappyPath(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	txn, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentEscrowLocked, txn.Status)
	assert.Equal(t, job.Price, txn.Amount)
	require.NotNil(t, txn.GatewayRef)
	assert.Equal(t, 1, fx.gateway.lockCalls)
}

func TestLockEscrow_Guards(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)

	t.Run("cash job", func(t *testing.T) {
		job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeCash)
		_, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("job still open", func(t *testing.T) {
		job := seedJob(t, fx.store, client.ID, model.JobStatusOpenForBids, model.PaymentModeEscrow)
		_, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
		assert.ErrorIs(t, err, common.ErrIllegalStateTransition)
	})

	t.Run("other client", func(t *testing.T) {
		other := seedClient(t, fx.store)
		job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)
		_, err := fx.payments.LockEscrow(ctx, job.ID, other.ID, LockEscrowRequest{})
		assert.ErrorIs(t, err, common.ErrOwnershipViolation)
	})

	t.Run("double lock", func(t *testing.T) {
		job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)
		_, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
		require.NoError(t, err)
		_, err = fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
		assert.ErrorIs(t, err, common.ErrDuplicateResource)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)
		_, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{Amount: job.Price + 1})
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("negative amount", func(t *testing.T) {
		job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)
		_, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{Amount: -1})
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("explicit amount", func(t *testing.T) {
		job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)
		txn, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{Amount: job.Price})
		require.NoError(t, err)
		assert.Equal(t, job.Price, txn.Amount)
	})
}

// TestLockEscrow_GatewayDownDefersToReconciliation drives the decorator
// to exhaustion and asserts the outage never reaches the caller as an
// error: the transaction stays PENDING_ESCROW and lands on the
// reconciliation queue.
func TestLockEscrow_GatewayDownDefersToReconciliation(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	fx.gateway.lockErrs = []error{common.ErrGatewayUnavailable, common.ErrGatewayUnavailable}

	txn, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPendingEscrow, txn.Status)
	assert.Equal(t, 2, fx.gateway.lockCalls) // both retry attempts burned

	pending, err := fx.payments.PendingReconciliations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}

func TestReleaseEscrow_HappyPath(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	txn, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
	require.NoError(t, err)

	advanceJob(t, fx, job.ID, model.JobStatusInProgress, model.JobStatusCompletedPendingPayment)

	released, err := fx.payments.ReleaseEscrow(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaymentReleased, released.Status)

	final, err := fx.store.Payments().FindByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentReleased, final.Status)
}

func TestReleaseEscrow_RequiresCompletedJob(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	_, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
	require.NoError(t, err)

	_, err = fx.payments.ReleaseEscrow(ctx, job.ID)
	assert.ErrorIs(t, err, common.ErrIllegalStateTransition)
}

func TestReleaseEscrow_GatewayDownLeavesStateUntouched(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	txn, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
	require.NoError(t, err)

	advanceJob(t, fx, job.ID, model.JobStatusInProgress, model.JobStatusCompletedPendingPayment)

	fx.gateway.relErrs = []error{common.ErrGatewayUnavailable, common.ErrGatewayUnavailable}

	current, err := fx.payments.ReleaseEscrow(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompletedPendingPayment, current.Status)

	kept, err := fx.store.Payments().FindByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentEscrowLocked, kept.Status)

	pending, err := fx.payments.PendingReconciliations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	// Gateway back up: the retry path settles it.
	released, err := fx.payments.ReleaseEscrow(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaymentReleased, released.Status)
}

func advanceJob(t *testing.T, fx *settlementFixture, jobID string, statuses ...model.JobStatus) {
	t.Helper()
	ctx := context.Background()
	job, err := fx.store.Jobs().FindByID(ctx, jobID)
	require.NoError(t, err)
	for _, status := range statuses {
		job.Status = status
		require.NoError(t, fx.store.Jobs().Update(ctx, job))
	}
}
