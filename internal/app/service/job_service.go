// Package service implements the lifecycle engine: job authority, bid
// admission and selection, confirmation codes, escrow coordination and the
// worker penalty tracker. Every state mutation runs inside Store.ExecTx so
// the status change and the business fact that caused it commit as one
// unit.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"workbridge/internal/common"
	"workbridge/internal/domain/model"
	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// JobService owns the Job state machine. All transitions funnel through
// transition(), which enforces the precondition table.
type JobService struct {
	store    repository.Store
	penalty  *PenaltyService
	notifier notify.Notifier
	logger   *slog.Logger

	expiryGrace time.Duration
	sweepBatch  int
}

func NewJobService(store repository.Store, penalty *PenaltyService, notifier notify.Notifier, logger *slog.Logger, expiryGrace time.Duration, sweepBatch int) *JobService {
	if sweepBatch <= 0 {
		sweepBatch = 200
	}
	return &JobService{
		store:       store,
		penalty:     penalty,
		notifier:    notifier,
		logger:      logger,
		expiryGrace: expiryGrace,
		sweepBatch:  sweepBatch,
	}
}

type CreateJobRequest struct {
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Price          int64     `json:"price"`
	LocationID     *string   `json:"location_id,omitempty"`
	Urgency        string    `json:"urgency"`
	PaymentMode    string    `json:"payment_mode"`
	RequiredSkills []string  `json:"required_skills,omitempty"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

func (s *JobService) CreateJob(ctx context.Context, clientID string, req CreateJobRequest) (*model.Job, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, common.Errorf("title is required: %w", common.ErrValidation)
	}
	if req.Price <= 0 {
		return nil, common.Errorf("price must be positive: %w", common.ErrValidation)
	}
	if req.ScheduledAt.Before(time.Now()) {
		return nil, common.Errorf("scheduled_at must be in the future: %w", common.ErrValidation)
	}

	urgency := model.JobUrgency(req.Urgency)
	if urgency == "" {
		urgency = model.UrgencyNormal
	}
	switch urgency {
	case model.UrgencyLow, model.UrgencyNormal, model.UrgencyHigh:
	default:
		return nil, common.Errorf("unknown urgency %q: %w", req.Urgency, common.ErrValidation)
	}

	mode := model.PaymentMode(req.PaymentMode)
	if mode == "" {
		mode = model.PaymentModeEscrow
	}
	switch mode {
	case model.PaymentModeCash, model.PaymentModeEscrow:
	default:
		return nil, common.Errorf("unknown payment mode %q: %w", req.PaymentMode, common.ErrValidation)
	}

	if _, err := s.store.Clients().FindByID(ctx, clientID); err != nil {
		return nil, common.Errorf("client %s: %w", clientID, err)
	}

	job := &model.Job{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Slug:           slug.Make(req.Title),
		Description:    req.Description,
		Price:          req.Price,
		LocationID:     req.LocationID,
		Status:         model.JobStatusCreated,
		Urgency:        urgency,
		PaymentMode:    mode,
		RequiredSkills: req.RequiredSkills,
		ClientID:       clientID,
		ScheduledAt:    req.ScheduledAt,
	}

	if err := s.store.Jobs().Create(ctx, job); err != nil {
		return nil, common.Errorf("failed to create job: %w", err)
	}
	s.logger.Info("job created",
		slog.String("job_id", job.ID),
		slog.String("client_id", clientID),
		slog.String("slug", job.Slug),
	)
	return job, nil
}

// PublishJob opens the job for bidding.
func (s *JobService) PublishJob(ctx context.Context, jobID, clientID string) (*model.Job, error) {
	var published *model.Job
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		job, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.ClientID != clientID {
			return common.Errorf("job %s belongs to another client: %w", jobID, common.ErrOwnershipViolation)
		}
		if err := persistTransition(ctx, st, job, model.JobStatusOpenForBids); err != nil {
			return err
		}
		published = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("job open for bids", slog.String("job_id", jobID))
	return published, nil
}

func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Jobs().FindByID(ctx, jobID)
}

func (s *JobService) ListOpenJobs(ctx context.Context, limit, offset int) ([]model.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.Jobs().ListOpen(ctx, limit, offset)
}

// CancelJob moves a pre-IN_PROGRESS job to CANCELLED. The owning client may
// always cancel; the assigned worker may cancel after the handshake, which
// counts against their penalty record in the same transaction.
func (s *JobService) CancelJob(ctx context.Context, jobID, actorID string) (*model.Job, error) {
	var (
		cancelled     *model.Job
		assignee      *string
		workerAtFault bool
	)
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		job, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		byClient := job.ClientID == actorID
		byWorker := job.AssignedWorkerID != nil && *job.AssignedWorkerID == actorID
		if !byClient && !byWorker {
			return common.Errorf("job %s cannot be cancelled by %s: %w", jobID, actorID, common.ErrOwnershipViolation)
		}
		// The transition clears the assignment; capture the worker first
		// for the penalty record and the notification fan-out.
		assignee = job.AssignedWorkerID
		if err := persistTransition(ctx, st, job, model.JobStatusCancelled); err != nil {
			return err
		}
		if byWorker {
			workerAtFault = true
			if err := s.penalty.recordCancellationTx(ctx, st, actorID); err != nil {
				return err
			}
		}
		cancelled = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("job cancelled",
		slog.String("job_id", jobID),
		slog.String("actor_id", actorID),
		slog.Bool("worker_at_fault", workerAtFault),
	)
	s.notifyCancellation(ctx, cancelled, assignee, actorID)
	return cancelled, nil
}

func (s *JobService) notifyCancellation(ctx context.Context, job *model.Job, assignee *string, actorID string) {
	recipients := []string{job.ClientID}
	if assignee != nil {
		recipients = append(recipients, *assignee)
	}
	for _, r := range recipients {
		if r == actorID {
			continue
		}
		event := notify.Event{
			Kind:        notify.EventJobCancelled,
			RecipientID: r,
			JobID:       job.ID,
		}
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.logger.Warn("cancellation notification failed", slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}
}

// ExpireStaleJobs closes jobs whose scheduled start slipped past the grace
// window without work beginning. Runs under the sweep lease.
func (s *JobService) ExpireStaleJobs(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.expiryGrace)
	stale, err := s.store.Jobs().FindExpirable(ctx, cutoff, s.sweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		jobID := stale[i].ID
		err := s.store.ExecTx(ctx, func(st repository.Store) error {
			job, err := st.Jobs().FindByID(ctx, jobID)
			if err != nil {
				return err
			}
			// Re-check inside the transaction; the job may have advanced
			// since the sweep query.
			return persistTransition(ctx, st, job, model.JobStatusClosedExpired)
		})
		if err != nil {
			if errors.Is(err, common.ErrIllegalStateTransition) || errors.Is(err, common.ErrNotFound) {
				continue
			}
			return expired, err
		}
		expired++
		if err := s.notifier.Notify(ctx, notify.Event{
			Kind:        notify.EventJobExpired,
			RecipientID: stale[i].ClientID,
			JobID:       jobID,
		}); err != nil {
			s.logger.Warn("expiry notification failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
	}
	if expired > 0 {
		s.logger.Info("expired stale jobs", slog.Int("count", expired))
	}
	return expired, nil
}

// transition applies the precondition table and enforces the assignment
// invariant; the caller persists the job afterwards. Callers that need
// the assignee after a cancellation or expiry must capture it first.
func transition(job *model.Job, to model.JobStatus) error {
	if !model.IsJobTransitionAllowed(job.Status, to) {
		return common.Errorf("job %s cannot move %s -> %s: %w",
			job.ID, job.Status, to, common.ErrIllegalStateTransition)
	}
	if model.RequiresAssignment(to) && job.AssignedWorkerID == nil {
		return common.Errorf("job %s has no assigned worker for %s: %w",
			job.ID, to, common.ErrIllegalStateTransition)
	}
	if !model.RequiresAssignment(to) {
		job.AssignedWorkerID = nil
	}
	job.Status = to
	return nil
}

// persistTransition applies the transition and writes the job with the old
// status as a guard, so two transactions reading the same status cannot
// both advance the job.
func persistTransition(ctx context.Context, st repository.Store, job *model.Job, to model.JobStatus) error {
	prev := job.Status
	if err := transition(job, to); err != nil {
		return err
	}
	return st.Jobs().UpdateGuarded(ctx, job, prev)
}
