package service

import (
	"context"
	"testing"

	"workbridge/internal/common"
	"workbridge/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodes_Idempotent(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	first, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)
	assert.Len(t, first.StartCode, model.CodeLength)
	assert.Len(t, first.ReleaseCode, model.CodeLength)
	assert.Equal(t, model.ConfirmationStartPending, first.Status)

	second, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)
	assert.Equal(t, first.StartCode, second.StartCode)
	assert.Equal(t, first.ReleaseCode, second.ReleaseCode)
}

func TestGenerateCodes_RequiresAssignedWorker(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	job := seedJob(t, fx.store, client.ID, model.JobStatusOpenForBids, model.PaymentModeEscrow)

	_, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	assert.ErrorIs(t, err, common.ErrIllegalStateTransition)
}

func TestGenerateCodes_OwnershipEnforced(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	other := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	_, err := fx.confirmations.GenerateCodes(ctx, job.ID, other.ID)
	assert.ErrorIs(t, err, common.ErrOwnershipViolation)
}

func TestRegenerateCodes_ResetsCountersAndStatus(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	first, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)

	// Burn a few start attempts.
	for i := 0; i < 3; i++ {
		_, err := fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, wrongCode(first.StartCode))
		assert.ErrorIs(t, err, common.ErrInvalidCredential)
	}

	regen, err := fx.confirmations.RegenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConfirmationStartPending, regen.Status)
	assert.Zero(t, regen.StartAttempts)
	assert.Zero(t, regen.ReleaseAttempts)

	// The old start code is void after regeneration.
	if regen.StartCode != first.StartCode {
		_, err = fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, first.StartCode)
		assert.ErrorIs(t, err, common.ErrInvalidCredential)
	}

	_, err = fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, regen.StartCode)
	require.NoError(t, err)
}

func TestVerifyStartCode_HappyPath(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	codes, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)

	updated, err := fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, codes.StartCode)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, updated.Status)

	conf, err := fx.store.Confirmations().FindByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConfirmationReleasePending, conf.Status)
	assert.Zero(t, conf.StartAttempts)
}

func TestVerifyStartCode_OnlyAssignedWorker(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	stranger := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	codes, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)

	_, err = fx.confirmations.VerifyStartCode(ctx, job.ID, stranger.ID, codes.StartCode)
	assert.ErrorIs(t, err, common.ErrOwnershipViolation)
}

func TestVerifyStartCode_LockoutAfterFiveFailures(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	codes, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)

	for i := 0; i < model.MaxCodeAttempts; i++ {
		_, err := fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, wrongCode(codes.StartCode))
		assert.ErrorIs(t, err, common.ErrInvalidCredential)
	}

	// The correct code no longer helps once the budget is spent.
	_, err = fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, codes.StartCode)
	assert.ErrorIs(t, err, common.ErrLockedOut)

	// Regeneration is the way out of a lockout.
	regen, err := fx.confirmations.RegenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)
	_, err = fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, regen.StartCode)
	require.NoError(t, err)
}

func TestVerifyStartCode_FailedAttemptSurvivesTheError(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	codes, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)

	// Each mismatch must leave its increment behind, or the attempt
	// budget never shrinks and the lockout can be brute-forced past.
	for i := 1; i <= 2; i++ {
		_, err := fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, wrongCode(codes.StartCode))
		assert.ErrorIs(t, err, common.ErrInvalidCredential)

		conf, err := fx.store.Confirmations().FindByJobID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, i, conf.StartAttempts)
	}
}

func TestVerifyReleaseCode_LockoutIsIndependentOfStartPhase(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeCash)

	codes, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)

	// Burn start attempts without locking out, then pass.
	for i := 0; i < model.MaxCodeAttempts-1; i++ {
		_, err := fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, wrongCode(codes.StartCode))
		assert.ErrorIs(t, err, common.ErrInvalidCredential)
	}
	_, err = fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, codes.StartCode)
	require.NoError(t, err)

	// The release phase starts with a fresh budget.
	for i := 0; i < model.MaxCodeAttempts; i++ {
		_, err := fx.confirmations.VerifyReleaseCode(ctx, job.ID, client.ID, wrongCode(codes.ReleaseCode))
		assert.ErrorIs(t, err, common.ErrInvalidCredential)
	}
	_, err = fx.confirmations.VerifyReleaseCode(ctx, job.ID, client.ID, codes.ReleaseCode)
	assert.ErrorIs(t, err, common.ErrLockedOut)
}

func TestVerifyReleaseCode_CashJobCompletesWithoutPayout(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeCash)

	codes, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)
	_, err = fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, codes.StartCode)
	require.NoError(t, err)

	updated, err := fx.confirmations.VerifyReleaseCode(ctx, job.ID, client.ID, codes.ReleaseCode)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, updated.Status)
	assert.Zero(t, fx.gateway.relCalls)
}

func TestVerifyReleaseCode_EscrowJobReleasesPayment(t *testing.T) {
	fx := newSettlementFixture(t)
	ctx := context.Background()

	client := seedClient(t, fx.store)
	worker := seedWorker(t, fx.store, true)
	job := seedAssignedJob(t, fx.store, client.ID, worker.ID, model.JobStatusReadyToStart, model.PaymentModeEscrow)

	locked, err := fx.payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
	require.NoError(t, err)

	codes, err := fx.confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)
	_, err = fx.confirmations.VerifyStartCode(ctx, job.ID, worker.ID, codes.StartCode)
	require.NoError(t, err)

	updated, err := fx.confirmations.VerifyReleaseCode(ctx, job.ID, client.ID, codes.ReleaseCode)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaymentReleased, updated.Status)

	txn, err := fx.store.Payments().FindByID(ctx, locked.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentReleased, txn.Status)
}

// wrongCode returns a syntactically valid code that differs from the real
// one.
func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}
