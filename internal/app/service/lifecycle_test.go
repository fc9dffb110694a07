package service

import (
	"context"
	"testing"
	"time"

	"workbridge/internal/app/resilience"
	"workbridge/internal/domain/model"
	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"
	"workbridge/internal/platform/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFullLifecycle walks one job from posting to payout through the real
// services sharing one store: publish, competing bids, selection,
// handshake, escrow lock, start code, release code, payment release.
func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemStore()
	logger := testLogger()
	nop := notify.NopNotifier{}

	gw := &fakeGateway{}
	decorator := resilience.New[*gateway.Receipt](resilience.Options{
		Name:         "payment-gateway-e2e",
		MinRequests:  100,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	}, logger)

	penalty := NewPenaltyService(store, nop, logger, 3, 7, 50)
	jobs := NewJobService(store, penalty, nop, logger, 24*time.Hour, 50)
	bids := NewBidService(store, newMemDedup(), nop, logger)
	payments := NewPaymentService(store, gw, decorator, &memReconQueue{}, nop, logger)
	confirmations := NewConfirmationService(store, payments, nop, logger)

	client := seedClient(t, store)
	plumber := seedWorker(t, store, true)
	rival := seedWorker(t, store, true)

	// Post and publish.
	job, err := jobs.CreateJob(ctx, client.ID, CreateJobRequest{
		Title:       "Replace bathroom faucet",
		Description: "Old faucet is seized, parts provided",
		Price:       18000,
		PaymentMode: "ESCROW",
		ScheduledAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	job, err = jobs.PublishJob(ctx, job.ID, client.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusOpenForBids, job.Status)

	// Two workers compete.
	winning, err := bids.PlaceBid(ctx, job.ID, plumber.ID, PlaceBidRequest{Amount: 17000})
	require.NoError(t, err)
	losing, err := bids.PlaceBid(ctx, job.ID, rival.ID, PlaceBidRequest{Amount: 16500})
	require.NoError(t, err)

	// Selection and handshake.
	_, err = bids.AcceptBid(ctx, winning.ID, client.ID)
	require.NoError(t, err)
	job, err = bids.Handshake(ctx, winning.ID, plumber.ID, true)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusReadyToStart, job.Status)

	rejected, err := store.Bids().FindByID(ctx, losing.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidStatusRejected, rejected.Status)

	// Funds into escrow, codes issued.
	txn, err := payments.LockEscrow(ctx, job.ID, client.ID, LockEscrowRequest{})
	require.NoError(t, err)
	require.Equal(t, model.PaymentEscrowLocked, txn.Status)

	codes, err := confirmations.GenerateCodes(ctx, job.ID, client.ID)
	require.NoError(t, err)

	// Worker starts with the client's start code.
	job, err = confirmations.VerifyStartCode(ctx, job.ID, plumber.ID, codes.StartCode)
	require.NoError(t, err)
	require.Equal(t, model.JobStatusInProgress, job.Status)

	// Client confirms completion with the release code; payout follows.
	job, err = confirmations.VerifyReleaseCode(ctx, job.ID, client.ID, codes.ReleaseCode)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaymentReleased, job.Status)

	paid, err := store.Payments().FindByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentReleased, paid.Status)

	// The winner carries no penalty from a clean job.
	record, err := store.Workers().FindByID(ctx, plumber.ID)
	require.NoError(t, err)
	assert.Zero(t, record.CancellationCount)
}
