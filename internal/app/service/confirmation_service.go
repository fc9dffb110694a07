package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"workbridge/internal/common"
	"workbridge/internal/domain/model"
	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"

	"github.com/google/uuid"
)

// ConfirmationService issues and verifies the start and release codes.
// The two codes are never exposed to the same party: the worker only
// learns verification outcomes, and the client only sees the code for the
// current phase (the handler layer projects responses accordingly).
type ConfirmationService struct {
	store    repository.Store
	payments *PaymentService
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewConfirmationService(store repository.Store, payments *PaymentService, notifier notify.Notifier, logger *slog.Logger) *ConfirmationService {
	return &ConfirmationService{store: store, payments: payments, notifier: notifier, logger: logger}
}

// generateCode draws a 6-digit code from a cryptographically strong
// source. Leading zeros are preserved.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < model.CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%0*d", model.CodeLength, n), nil
}

// GenerateCodes is idempotent: the job's existing record is returned when
// present, otherwise a fresh pair is issued with status START_PENDING.
func (s *ConfirmationService) GenerateCodes(ctx context.Context, jobID, clientID string) (*model.ConfirmationCode, error) {
	startCode, err := generateCode()
	if err != nil {
		return nil, err
	}
	releaseCode, err := generateCode()
	if err != nil {
		return nil, err
	}

	var (
		record  *model.ConfirmationCode
		created bool
	)
	err = s.store.ExecTx(ctx, func(st repository.Store) error {
		job, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != clientID {
			return common.Errorf("job %s belongs to another client: %w", jobID, common.ErrOwnershipViolation)
		}
		if job.AssignedWorkerID == nil {
			return common.Errorf("job %s has no assigned worker: %w", jobID, common.ErrIllegalStateTransition)
		}

		existing, err := st.Confirmations().FindByJobID(ctx, jobID)
		if err == nil {
			record = existing
			return nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		record = &model.ConfirmationCode{
			ID:          uuid.NewString(),
			JobID:       jobID,
			StartCode:   startCode,
			ReleaseCode: releaseCode,
			Status:      model.ConfirmationStartPending,
		}
		created = true
		return st.Confirmations().Create(ctx, record)
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("confirmation codes issued", slog.String("job_id", jobID))
		if err := s.notifier.Notify(ctx, notify.Event{
			Kind:        notify.EventCodesGenerated,
			RecipientID: clientID,
			JobID:       jobID,
		}); err != nil {
			s.logger.Warn("code notification failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
	}
	return record, nil
}

// RegenerateCodes overwrites both codes, resets both attempt counters and
// returns the record to START_PENDING. Callers are expected to rate-limit
// this externally.
func (s *ConfirmationService) RegenerateCodes(ctx context.Context, jobID, clientID string) (*model.ConfirmationCode, error) {
	startCode, err := generateCode()
	if err != nil {
		return nil, err
	}
	releaseCode, err := generateCode()
	if err != nil {
		return nil, err
	}

	var record *model.ConfirmationCode
	err = s.store.ExecTx(ctx, func(st repository.Store) error {
		job, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != clientID {
			return common.Errorf("job %s belongs to another client: %w", jobID, common.ErrOwnershipViolation)
		}
		code, err := st.Confirmations().FindByJobID(ctx, jobID)
		if err != nil {
			return err
		}
		code.StartCode = startCode
		code.ReleaseCode = releaseCode
		code.Status = model.ConfirmationStartPending
		code.StartAttempts = 0
		code.ReleaseAttempts = 0
		if err := st.Confirmations().Update(ctx, code); err != nil {
			return err
		}
		record = code
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("confirmation codes regenerated", slog.String("job_id", jobID))
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventCodesRegenerated,
		RecipientID: clientID,
		JobID:       jobID,
	}); err != nil {
		s.logger.Warn("code notification failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	return record, nil
}

// VerifyStartCode checks the worker-supplied start code. A match moves the
// confirmation to RELEASE_PENDING and the job to IN_PROGRESS; a mismatch
// burns one attempt, and once the budget is spent every further call fails
// with ErrLockedOut no matter what code is supplied.
func (s *ConfirmationService) VerifyStartCode(ctx context.Context, jobID, workerID, code string) (*model.Job, error) {
	var (
		job       *model.Job
		clientID  string
		verifyErr error
	)
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		j, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if j.AssignedWorkerID == nil || *j.AssignedWorkerID != workerID {
			return common.Errorf("worker %s is not assigned to job %s: %w", workerID, jobID, common.ErrOwnershipViolation)
		}
		if j.Status != model.JobStatusReadyToStart {
			return common.Errorf("job %s is not ready to start (status %s): %w",
				jobID, j.Status, common.ErrIllegalStateTransition)
		}
		conf, err := st.Confirmations().FindByJobID(ctx, jobID)
		if err != nil {
			return err
		}
		if conf.Status != model.ConfirmationStartPending {
			return common.Errorf("confirmation for job %s is %s: %w", jobID, conf.Status, common.ErrIllegalStateTransition)
		}
		if conf.StartAttempts >= model.MaxCodeAttempts {
			return common.Errorf("start code for job %s: %w", jobID, common.ErrLockedOut)
		}
		if code != conf.StartCode {
			conf.StartAttempts++
			if err := st.Confirmations().Update(ctx, conf); err != nil {
				return err
			}
			// Returning the mismatch from the closure would roll back the
			// burned attempt. Commit it, surface the error after.
			verifyErr = common.Errorf("start code mismatch for job %s: %w", jobID, common.ErrInvalidCredential)
			return nil
		}

		conf.StartAttempts = 0
		conf.Status = model.ConfirmationReleasePending
		if err := st.Confirmations().Update(ctx, conf); err != nil {
			return err
		}
		if err := persistTransition(ctx, st, j, model.JobStatusInProgress); err != nil {
			return err
		}
		clientID = j.ClientID
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	if verifyErr != nil {
		return nil, verifyErr
	}

	s.logger.Info("work started", slog.String("job_id", jobID), slog.String("worker_id", workerID))
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventWorkStarted,
		RecipientID: clientID,
		JobID:       jobID,
	}); err != nil {
		s.logger.Warn("start notification failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	return job, nil
}

// VerifyReleaseCode checks the client-supplied release code with an
// independent attempt counter and the same lockout policy. A match
// completes the confirmation, moves the job to COMPLETED_PENDING_PAYMENT
// and hands off to the payment coordinator.
func (s *ConfirmationService) VerifyReleaseCode(ctx context.Context, jobID, clientID, code string) (*model.Job, error) {
	var (
		job       *model.Job
		workerID  string
		verifyErr error
	)
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		j, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if j.ClientID != clientID {
			return common.Errorf("job %s belongs to another client: %w", jobID, common.ErrOwnershipViolation)
		}
		if j.Status != model.JobStatusInProgress {
			return common.Errorf("job %s is not in progress (status %s): %w",
				jobID, j.Status, common.ErrIllegalStateTransition)
		}
		conf, err := st.Confirmations().FindByJobID(ctx, jobID)
		if err != nil {
			return err
		}
		if conf.Status != model.ConfirmationReleasePending {
			return common.Errorf("confirmation for job %s is %s: %w", jobID, conf.Status, common.ErrIllegalStateTransition)
		}
		if conf.ReleaseAttempts >= model.MaxCodeAttempts {
			return common.Errorf("release code for job %s: %w", jobID, common.ErrLockedOut)
		}
		if code != conf.ReleaseCode {
			conf.ReleaseAttempts++
			if err := st.Confirmations().Update(ctx, conf); err != nil {
				return err
			}
			// Same as the start phase: commit the attempt, then fail.
			verifyErr = common.Errorf("release code mismatch for job %s: %w", jobID, common.ErrInvalidCredential)
			return nil
		}

		conf.ReleaseAttempts = 0
		conf.Status = model.ConfirmationCompleted
		if err := st.Confirmations().Update(ctx, conf); err != nil {
			return err
		}
		workerID = *j.AssignedWorkerID
		if err := persistTransition(ctx, st, j, model.JobStatusCompletedPendingPayment); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	if verifyErr != nil {
		return nil, verifyErr
	}

	s.logger.Info("work completed", slog.String("job_id", jobID))
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventWorkCompleted,
		RecipientID: workerID,
		JobID:       jobID,
	}); err != nil {
		s.logger.Warn("completion notification failed", slog.String("job_id", jobID), slog.Any("error", err))
	}

	// Settlement happens after the completion commit: a gateway outage
	// must not roll back the verified completion, it only defers payout.
	settled, err := s.payments.settleAfterCompletion(ctx, job)
	if err != nil {
		return nil, err
	}
	return settled, nil
}
