// Package repository defines narrow per-entity storage contracts and the
// transactional Store that bundles them. Any engine satisfying the
// contracts is interchangeable; the Postgres implementation backs
// production and the in-memory one backs tests.
package repository

import (
	"context"
	"time"

	"workbridge/internal/domain/model"
)

type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	FindByID(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, job *model.Job) error
	// UpdateGuarded persists the job only while its stored status still
	// equals prev, so concurrent transactions that both read the same
	// status cannot both advance it. Losing the guard is reported as
	// ErrIllegalStateTransition.
	UpdateGuarded(ctx context.Context, job *model.Job, prev model.JobStatus) error
	ListOpen(ctx context.Context, limit, offset int) ([]model.Job, error)
	// FindExpirable returns non-started jobs whose scheduled time passed
	// before the cutoff and that can still transition to
	// JOB_CLOSED_DUE_TO_EXPIRATION.
	FindExpirable(ctx context.Context, cutoff time.Time, limit int) ([]model.Job, error)
	// CountActiveAssignments counts jobs currently assigned to the worker
	// in READY_TO_START, IN_PROGRESS or COMPLETED_PENDING_PAYMENT.
	CountActiveAssignments(ctx context.Context, workerID string) (int, error)
}

type BidRepository interface {
	Create(ctx context.Context, bid *model.Bid) error
	FindByID(ctx context.Context, id string) (*model.Bid, error)
	FindByJobAndWorker(ctx context.Context, jobID, workerID string) (*model.Bid, error)
	ListByJob(ctx context.Context, jobID string) ([]model.Bid, error)
	ListByWorker(ctx context.Context, workerID string) ([]model.Bid, error)
	Update(ctx context.Context, bid *model.Bid) error
	// RejectSiblings flips every bid on the job except keepBidID to
	// REJECTED in a single statement.
	RejectSiblings(ctx context.Context, jobID, keepBidID string) error
}

type ConfirmationRepository interface {
	Create(ctx context.Context, code *model.ConfirmationCode) error
	FindByJobID(ctx context.Context, jobID string) (*model.ConfirmationCode, error)
	Update(ctx context.Context, code *model.ConfirmationCode) error
}

type PaymentRepository interface {
	Create(ctx context.Context, txn *model.PaymentTransaction) error
	FindByID(ctx context.Context, id string) (*model.PaymentTransaction, error)
	// FindActiveByJobID returns the job's single non-RELEASED transaction,
	// or ErrNotFound.
	FindActiveByJobID(ctx context.Context, jobID string) (*model.PaymentTransaction, error)
	Update(ctx context.Context, txn *model.PaymentTransaction) error
}

type WorkerRepository interface {
	Create(ctx context.Context, worker *model.Worker) error
	FindByID(ctx context.Context, id string) (*model.Worker, error)
	Update(ctx context.Context, worker *model.Worker) error
	// FindBlockExpired returns workers whose block window elapsed before
	// now and whose penalty state still needs resetting.
	FindBlockExpired(ctx context.Context, now time.Time, limit int) ([]model.Worker, error)
}

type ClientRepository interface {
	Create(ctx context.Context, client *model.Client) error
	FindByID(ctx context.Context, id string) (*model.Client, error)
}

// Store bundles the per-entity repositories behind one transactional
// boundary. ExecTx runs fn against a Store whose mutations commit
// atomically: either every change inside fn lands or none do. Reads inside
// fn observe the transaction's own writes.
type Store interface {
	Jobs() JobRepository
	Bids() BidRepository
	Confirmations() ConfirmationRepository
	Payments() PaymentRepository
	Workers() WorkerRepository
	Clients() ClientRepository

	ExecTx(ctx context.Context, fn func(Store) error) error
}
