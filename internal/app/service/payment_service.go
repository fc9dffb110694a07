package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"workbridge/internal/app/resilience"
	"workbridge/internal/common"
	"workbridge/internal/domain/model"
	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"
	"workbridge/internal/platform/gateway"

	"github.com/google/uuid"
)

// ReconciliationQueue receives payment requests the gateway could not be
// reached for, so operators can settle them out of band.
type ReconciliationQueue interface {
	Enqueue(ctx context.Context, payload []byte) error
	Pending(ctx context.Context) (int64, error)
}

// reconciliationEntry is the payload pushed onto the reconciliation queue.
type reconciliationEntry struct {
	Operation     string    `json:"operation"` // "lock" or "release"
	TransactionID string    `json:"transaction_id"`
	JobID         string    `json:"job_id"`
	Amount        int64     `json:"amount"`
	FailedAt      time.Time `json:"failed_at"`
	Cause         string    `json:"cause"`
}

// PaymentService coordinates escrow with the external gateway. Every
// gateway call goes through the resilience decorator; when it exhausts,
// the request lands on the reconciliation queue and the transaction stays
// in its pre-call status. Gateway outages never surface to API callers as
// errors.
type PaymentService struct {
	store     repository.Store
	gateway   gateway.PaymentGateway
	decorator *resilience.Decorator[*gateway.Receipt]
	reconcile ReconciliationQueue
	notifier  notify.Notifier
	logger    *slog.Logger
}

func NewPaymentService(
	store repository.Store,
	gw gateway.PaymentGateway,
	decorator *resilience.Decorator[*gateway.Receipt],
	reconcile ReconciliationQueue,
	notifier notify.Notifier,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		store:     store,
		gateway:   gw,
		decorator: decorator,
		reconcile: reconcile,
		notifier:  notifier,
		logger:    logger,
	}
}

type LockEscrowRequest struct {
	Amount int64 `json:"amount"`
}

// LockEscrow creates the job's escrow transaction and asks the gateway to
// hold the funds. Allowed once the job has an assigned worker and has not
// yet completed. The caller states the amount and it must match the job
// price; a zero amount defaults to it. On gateway failure the transaction
// is left in PENDING_ESCROW and queued for reconciliation.
func (s *PaymentService) LockEscrow(ctx context.Context, jobID, clientID string, req LockEscrowRequest) (*model.PaymentTransaction, error) {
	if req.Amount < 0 {
		return nil, common.Errorf("escrow amount cannot be negative: %w", common.ErrValidation)
	}
	var txn *model.PaymentTransaction
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		job, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != clientID {
			return common.Errorf("job %s belongs to another client: %w", jobID, common.ErrOwnershipViolation)
		}
		if job.PaymentMode != model.PaymentModeEscrow {
			return common.Errorf("job %s is not an escrow job: %w", jobID, common.ErrValidation)
		}
		if req.Amount != 0 && req.Amount != job.Price {
			return common.Errorf("escrow amount %d does not match job price %d: %w",
				req.Amount, job.Price, common.ErrValidation)
		}
		switch job.Status {
		case model.JobStatusReadyToStart, model.JobStatusInProgress:
		default:
			return common.Errorf("escrow cannot be locked while job %s is %s: %w",
				jobID, job.Status, common.ErrIllegalStateTransition)
		}
		if _, err := st.Payments().FindActiveByJobID(ctx, jobID); err == nil {
			return common.Errorf("job %s already has an active escrow transaction: %w",
				jobID, common.ErrDuplicateResource)
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		txn = &model.PaymentTransaction{
			ID:       uuid.NewString(),
			JobID:    jobID,
			ClientID: clientID,
			WorkerID: *job.AssignedWorkerID,
			Amount:   job.Price,
			Mode:     job.PaymentMode,
			Status:   model.PaymentPendingEscrow,
		}
		return st.Payments().Create(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	lockReq := gateway.LockRequest{
		TransactionID: txn.ID,
		JobID:         txn.JobID,
		ClientID:      txn.ClientID,
		WorkerID:      txn.WorkerID,
		Amount:        txn.Amount,
		Mode:          string(txn.Mode),
	}
	receipt, err := s.decorator.Do(ctx,
		func(ctx context.Context) (*gateway.Receipt, error) {
			return s.gateway.LockFunds(ctx, lockReq)
		},
		func(ctx context.Context, cause error) (*gateway.Receipt, error) {
			s.deferToReconciliation(ctx, "lock", txn, cause)
			return nil, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		// Deferred: funds are not held yet, ops will settle it.
		return txn, nil
	}

	err = s.store.ExecTx(ctx, func(st repository.Store) error {
		current, err := st.Payments().FindByID(ctx, txn.ID)
		if err != nil {
			return err
		}
		current.Status = model.PaymentEscrowLocked
		current.GatewayRef = &receipt.Reference
		if err := st.Payments().Update(ctx, current); err != nil {
			return err
		}
		txn = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("escrow locked",
		slog.String("job_id", jobID),
		slog.String("transaction_id", txn.ID),
		slog.Int64("amount", txn.Amount),
	)
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventEscrowLocked,
		RecipientID: txn.WorkerID,
		JobID:       jobID,
	}); err != nil {
		s.logger.Warn("escrow notification failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	return txn, nil
}

// ReleaseEscrow pays out a locked transaction after the release code has
// verified. On success the transaction becomes RELEASED and the job moves
// through PAYMENT_RELEASED; a gateway failure leaves both untouched and
// defers the request to reconciliation.
func (s *PaymentService) ReleaseEscrow(ctx context.Context, jobID string) (*model.Job, error) {
	var (
		job *model.Job
		txn *model.PaymentTransaction
	)
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		j, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status != model.JobStatusCompletedPendingPayment {
			return common.Errorf("job %s is not awaiting payment (status %s): %w",
				jobID, j.Status, common.ErrIllegalStateTransition)
		}
		t, err := st.Payments().FindActiveByJobID(ctx, jobID)
		if err != nil {
			return err
		}
		if t.Status != model.PaymentEscrowLocked {
			return common.Errorf("transaction %s is %s, release requires locked escrow: %w",
				t.ID, t.Status, common.ErrIllegalStateTransition)
		}
		job = j
		txn = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	req := gateway.ReleaseRequest{
		TransactionID: txn.ID,
		JobID:         txn.JobID,
		GatewayRef:    txn.GatewayRef,
		Amount:        txn.Amount,
	}
	receipt, err := s.decorator.Do(ctx,
		func(ctx context.Context) (*gateway.Receipt, error) {
			return s.gateway.ReleaseFunds(ctx, req)
		},
		func(ctx context.Context, cause error) (*gateway.Receipt, error) {
			s.deferToReconciliation(ctx, "release", txn, cause)
			return nil, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return job, nil
	}

	err = s.store.ExecTx(ctx, func(st repository.Store) error {
		j, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		t, err := st.Payments().FindByID(ctx, txn.ID)
		if err != nil {
			return err
		}
		t.Status = model.PaymentReleased
		if err := st.Payments().Update(ctx, t); err != nil {
			return err
		}
		if err := persistTransition(ctx, st, j, model.JobStatusPaymentReleased); err != nil {
			return err
		}
		job = j
		txn = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("escrow released",
		slog.String("job_id", jobID),
		slog.String("transaction_id", txn.ID),
	)
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventPaymentReleased,
		RecipientID: txn.WorkerID,
		JobID:       jobID,
	}); err != nil {
		s.logger.Warn("payout notification failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	return job, nil
}

// settleAfterCompletion routes a freshly completed job to its settlement
// path: cash jobs (or escrow jobs whose lock never happened) close out
// immediately, locked escrow goes through ReleaseEscrow.
func (s *PaymentService) settleAfterCompletion(ctx context.Context, job *model.Job) (*model.Job, error) {
	txn, err := s.store.Payments().FindActiveByJobID(ctx, job.ID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return s.closeWithoutPayout(ctx, job.ID)
	}

	switch txn.Status {
	case model.PaymentEscrowLocked:
		return s.ReleaseEscrow(ctx, job.ID)
	case model.PaymentPendingEscrow:
		// Lock was deferred to reconciliation and never confirmed; ops
		// must settle this one manually.
		s.alert(ctx, job.ID, "completed job has unconfirmed escrow lock")
		return job, nil
	default:
		return job, nil
	}
}

// closeWithoutPayout finishes a job that has no funds to move.
func (s *PaymentService) closeWithoutPayout(ctx context.Context, jobID string) (*model.Job, error) {
	var job *model.Job
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		j, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if err := persistTransition(ctx, st, j, model.JobStatusCompleted); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// PendingReconciliations reports the reconciliation queue depth for the
// ops endpoint.
func (s *PaymentService) PendingReconciliations(ctx context.Context) (int64, error) {
	return s.reconcile.Pending(ctx)
}

// deferToReconciliation enqueues a failed gateway request and alerts ops.
// Failures here are logged, not returned: the queue is best effort on top
// of the transaction record, which is the source of truth.
func (s *PaymentService) deferToReconciliation(ctx context.Context, op string, txn *model.PaymentTransaction, cause error) {
	entry := reconciliationEntry{
		Operation:     op,
		TransactionID: txn.ID,
		JobID:         txn.JobID,
		Amount:        txn.Amount,
		FailedAt:      time.Now().UTC(),
		Cause:         cause.Error(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("marshal reconciliation entry", slog.Any("error", err))
		return
	}
	if err := s.reconcile.Enqueue(ctx, payload); err != nil {
		s.logger.Error("enqueue reconciliation entry",
			slog.String("transaction_id", txn.ID),
			slog.Any("error", err),
		)
	}
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventReconcileRequested,
		RecipientID: "ops",
		JobID:       txn.JobID,
		Detail:      map[string]any{"operation": op, "transaction_id": txn.ID},
	}); err != nil {
		s.logger.Warn("reconciliation event failed", slog.String("job_id", txn.JobID), slog.Any("error", err))
	}
	s.alert(ctx, txn.JobID, "payment "+op+" deferred to reconciliation")
}

func (s *PaymentService) alert(ctx context.Context, jobID, subject string) {
	if err := s.notifier.Alert(ctx, subject, map[string]any{"job_id": jobID}); err != nil {
		s.logger.Error("operator alert failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
}
