package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"workbridge/internal/app/resilience"
	"workbridge/internal/domain/model"
	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"
	"workbridge/internal/platform/gateway"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memDedup is an exact in-process stand-in for the redis bloom filter.
// Being exact it never produces the false positives the real filter can,
// which the authoritative-lookup tests account for separately.
type memDedup struct {
	mu      sync.Mutex
	members map[string]bool
	fail    bool
}

func newMemDedup() *memDedup {
	return &memDedup{members: make(map[string]bool)}
}

func (d *memDedup) ProbablyExists(ctx context.Context, member string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return true, context.DeadlineExceeded
	}
	return d.members[member], nil
}

func (d *memDedup) Remember(ctx context.Context, member string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[member] = true
	return nil
}

// memReconQueue collects reconciliation payloads in memory.
type memReconQueue struct {
	mu      sync.Mutex
	entries [][]byte
}

func (q *memReconQueue) Enqueue(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, payload)
	return nil
}

func (q *memReconQueue) Pending(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// fakeGateway scripts gateway outcomes per call.
type fakeGateway struct {
	mu        sync.Mutex
	lockErrs  []error
	relErrs   []error
	lockCalls int
	relCalls  int
}

func (g *fakeGateway) LockFunds(ctx context.Context, req gateway.LockRequest) (*gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lockCalls++
	if len(g.lockErrs) > 0 {
		err := g.lockErrs[0]
		g.lockErrs = g.lockErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &gateway.Receipt{Reference: "lock-" + req.TransactionID, Status: "LOCKED"}, nil
}

func (g *fakeGateway) ReleaseFunds(ctx context.Context, req gateway.ReleaseRequest) (*gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relCalls++
	if len(g.relErrs) > 0 {
		err := g.relErrs[0]
		g.relErrs = g.relErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &gateway.Receipt{Reference: "rel-" + req.TransactionID, Status: "RELEASED"}, nil
}

func seedClient(t *testing.T, store repository.Store) *model.Client {
	t.Helper()
	client := &model.Client{
		ID:        uuid.NewString(),
		Name:      "Test Client",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Clients().Create(context.Background(), client))
	return client
}

func seedWorker(t *testing.T, store repository.Store, onDuty bool) *model.Worker {
	t.Helper()
	worker := &model.Worker{
		ID:        uuid.NewString(),
		Name:      "Test Worker",
		OnDuty:    onDuty,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.Workers().Create(context.Background(), worker))
	return worker
}

func seedJob(t *testing.T, store repository.Store, clientID string, status model.JobStatus, mode model.PaymentMode) *model.Job {
	t.Helper()
	job := &model.Job{
		ID:          uuid.NewString(),
		Title:       "Fix leaking sink",
		Slug:        "fix-leaking-sink",
		Description: "Kitchen sink leaks at the trap",
		Price:       15000,
		Status:      status,
		Urgency:     model.UrgencyNormal,
		PaymentMode: mode,
		ClientID:    clientID,
		ScheduledAt: time.Now().Add(48 * time.Hour),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, store.Jobs().Create(context.Background(), job))
	return job
}

func seedAssignedJob(t *testing.T, store repository.Store, clientID, workerID string, status model.JobStatus, mode model.PaymentMode) *model.Job {
	t.Helper()
	job := seedJob(t, store, clientID, status, mode)
	job.AssignedWorkerID = &workerID
	require.NoError(t, store.Jobs().Update(context.Background(), job))
	return job
}

func seedBid(t *testing.T, store repository.Store, jobID, workerID string, status model.BidStatus) *model.Bid {
	t.Helper()
	bid := &model.Bid{
		ID:        uuid.NewString(),
		JobID:     jobID,
		WorkerID:  workerID,
		Amount:    12000,
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.Bids().Create(context.Background(), bid))
	return bid
}

func timeInFuture(t *testing.T, hours int) time.Time {
	t.Helper()
	return time.Now().Add(time.Duration(hours) * time.Hour)
}

func newBidFixture(t *testing.T) (*BidService, repository.Store, *memDedup) {
	t.Helper()
	store := repository.NewMemStore()
	dedup := newMemDedup()
	svc := NewBidService(store, dedup, notify.NopNotifier{}, testLogger())
	return svc, store, dedup
}

// settlementFixture bundles the payment coordinator and confirmation
// service over one shared store and a scripted gateway.
type settlementFixture struct {
	store         repository.Store
	gateway       *fakeGateway
	reconcile     *memReconQueue
	payments      *PaymentService
	confirmations *ConfirmationService
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	store := repository.NewMemStore()
	gw := &fakeGateway{}
	reconcile := &memReconQueue{}
	decorator := resilience.New[*gateway.Receipt](resilience.Options{
		Name:         "payment-gateway-test",
		MinRequests:  100, // keep the breaker out of these tests
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, testLogger())
	payments := NewPaymentService(store, gw, decorator, reconcile, notify.NopNotifier{}, testLogger())
	confirmations := NewConfirmationService(store, payments, notify.NopNotifier{}, testLogger())
	return &settlementFixture{
		store:         store,
		gateway:       gw,
		reconcile:     reconcile,
		payments:      payments,
		confirmations: confirmations,
	}
}
