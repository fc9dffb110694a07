package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"workbridge/internal/common"
	"workbridge/internal/domain/model"
	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"

	"github.com/google/uuid"
)

// DuplicateChecker is the fast probabilistic pre-check in front of the
// authoritative (job, worker) lookup. A pre-check hit is never trusted on
// its own: false positives must be confirmed against the source of truth.
type DuplicateChecker interface {
	ProbablyExists(ctx context.Context, member string) (bool, error)
	Remember(ctx context.Context, member string) error
}

// BidService governs bid admission, atomic single-winner selection and the
// worker handshake.
type BidService struct {
	store    repository.Store
	dedup    DuplicateChecker
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewBidService(store repository.Store, dedup DuplicateChecker, notifier notify.Notifier, logger *slog.Logger) *BidService {
	return &BidService{store: store, dedup: dedup, notifier: notifier, logger: logger}
}

type PlaceBidRequest struct {
	Amount int64   `json:"amount"`
	Notes  *string `json:"notes,omitempty"`
}

func dedupKey(jobID, workerID string) string {
	return jobID + ":" + workerID
}

// PlaceBid admits a worker's bid on an open job. Admission requires the
// job to be OPEN_FOR_BIDS and the worker to be on duty, unblocked, free of
// other active assignments, and not already bidding on this job.
func (s *BidService) PlaceBid(ctx context.Context, jobID, workerID string, req PlaceBidRequest) (*model.Bid, error) {
	if req.Amount <= 0 {
		return nil, common.Errorf("bid amount must be positive: %w", common.ErrValidation)
	}

	worker, err := s.store.Workers().FindByID(ctx, workerID)
	if err != nil {
		return nil, common.Errorf("worker %s: %w", workerID, err)
	}
	if !worker.OnDuty {
		return nil, common.Errorf("worker %s is off duty: %w", workerID, common.ErrIneligibleWorker)
	}
	if worker.IsBlocked(time.Now()) {
		return nil, common.Errorf("worker %s is blocked until %s: %w",
			workerID, worker.BlockedUntil.Format(time.RFC3339), common.ErrIneligibleWorker)
	}
	active, err := s.store.Jobs().CountActiveAssignments(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, common.Errorf("worker %s already has an active assignment: %w", workerID, common.ErrIneligibleWorker)
	}

	// Two-stage duplicate check: the bloom filter rejects most repeats
	// cheaply, the authoritative lookup confirms so a false positive never
	// rejects a legitimate bid.
	key := dedupKey(jobID, workerID)
	maybe, err := s.dedup.ProbablyExists(ctx, key)
	if err != nil {
		s.logger.Warn("duplicate pre-check unavailable, falling through to authoritative lookup",
			slog.String("job_id", jobID), slog.Any("error", err))
		maybe = true
	}
	if maybe {
		if _, err := s.store.Bids().FindByJobAndWorker(ctx, jobID, workerID); err == nil {
			return nil, common.Errorf("worker %s already bid on job %s: %w", workerID, jobID, common.ErrDuplicateResource)
		} else if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}

	bid := &model.Bid{
		ID:       uuid.NewString(),
		JobID:    jobID,
		WorkerID: workerID,
		Amount:   req.Amount,
		Notes:    req.Notes,
		Status:   model.BidStatusPending,
	}

	var clientID string
	err = s.store.ExecTx(ctx, func(st repository.Store) error {
		job, err := st.Jobs().FindByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != model.JobStatusOpenForBids {
			return common.Errorf("job %s is not open for bids (status %s): %w",
				jobID, job.Status, common.ErrIllegalStateTransition)
		}
		clientID = job.ClientID
		// The unique (job_id, worker_id) index is the last line of defense
		// against a concurrent duplicate submission.
		return st.Bids().Create(ctx, bid)
	})
	if err != nil {
		return nil, err
	}

	if err := s.dedup.Remember(ctx, key); err != nil {
		s.logger.Warn("failed to record bid in duplicate filter",
			slog.String("job_id", jobID), slog.Any("error", err))
	}
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventBidPlaced,
		RecipientID: clientID,
		JobID:       jobID,
		Detail:      map[string]any{"bid_id": bid.ID, "amount": bid.Amount},
	}); err != nil {
		s.logger.Warn("bid notification failed", slog.String("bid_id", bid.ID), slog.Any("error", err))
	}

	s.logger.Info("bid placed",
		slog.String("bid_id", bid.ID),
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)
	return bid, nil
}

// AcceptBid selects the winning bid in one atomic unit: the chosen bid
// becomes SELECTED, every sibling becomes REJECTED and the job advances to
// BID_SELECTED_AWAITING_HANDSHAKE. Concurrent accepts are resolved by the
// guarded status write: the winner's commit moves the job off
// OPEN_FOR_BIDS, so the loser's write hits zero rows and fails.
func (s *BidService) AcceptBid(ctx context.Context, bidID, clientID string) (*model.Bid, error) {
	var (
		selected *model.Bid
		losers   []model.Bid
	)
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		bid, err := st.Bids().FindByID(ctx, bidID)
		if err != nil {
			return err
		}
		job, err := st.Jobs().FindByID(ctx, bid.JobID)
		if err != nil {
			return err
		}
		if job.ClientID != clientID {
			return common.Errorf("job %s belongs to another client: %w", job.ID, common.ErrOwnershipViolation)
		}
		if bid.Status != model.BidStatusPending {
			return common.Errorf("bid %s is %s, not PENDING: %w", bidID, bid.Status, common.ErrIllegalStateTransition)
		}

		switch job.Status {
		case model.JobStatusOpenForBids:
			// Normal selection path.
		case model.JobStatusBidSelected:
			// Manual re-selection after a declined handshake: permitted
			// only while no SELECTED bid survives.
			all, err := st.Bids().ListByJob(ctx, job.ID)
			if err != nil {
				return err
			}
			for _, b := range all {
				if b.Status == model.BidStatusSelected {
					return common.Errorf("job %s already has a selected bid: %w", job.ID, common.ErrIllegalStateTransition)
				}
			}
		default:
			return common.Errorf("job %s is not accepting selections (status %s): %w",
				job.ID, job.Status, common.ErrIllegalStateTransition)
		}

		bid.Status = model.BidStatusSelected
		if err := st.Bids().Update(ctx, bid); err != nil {
			return err
		}
		if err := st.Bids().RejectSiblings(ctx, job.ID, bid.ID); err != nil {
			return err
		}
		if err := persistTransition(ctx, st, job, model.JobStatusBidSelected); err != nil {
			return err
		}

		all, err := st.Bids().ListByJob(ctx, job.ID)
		if err != nil {
			return err
		}
		for _, b := range all {
			if b.ID != bid.ID {
				losers = append(losers, b)
			}
		}
		selected = bid
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        notify.EventBidSelected,
		RecipientID: selected.WorkerID,
		JobID:       selected.JobID,
		Detail:      map[string]any{"bid_id": selected.ID},
	}); err != nil {
		s.logger.Warn("selection notification failed", slog.String("bid_id", selected.ID), slog.Any("error", err))
	}
	for _, loser := range losers {
		if err := s.notifier.Notify(ctx, notify.Event{
			Kind:        notify.EventBidRejected,
			RecipientID: loser.WorkerID,
			JobID:       loser.JobID,
			Detail:      map[string]any{"bid_id": loser.ID},
		}); err != nil {
			s.logger.Warn("rejection notification failed", slog.String("bid_id", loser.ID), slog.Any("error", err))
		}
	}

	s.logger.Info("bid accepted",
		slog.String("bid_id", selected.ID),
		slog.String("job_id", selected.JobID),
		slog.Int("rejected_siblings", len(losers)),
	)
	return selected, nil
}

// Handshake records the worker's accept or decline of their selected bid.
// Accept assigns the worker and readies the job; decline rejects the bid
// and leaves the job awaiting manual re-selection.
func (s *BidService) Handshake(ctx context.Context, bidID, workerID string, accepted bool) (*model.Job, error) {
	var (
		job      *model.Job
		clientID string
	)
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		bid, err := st.Bids().FindByID(ctx, bidID)
		if err != nil {
			return err
		}
		if bid.WorkerID != workerID {
			return common.Errorf("bid %s belongs to another worker: %w", bidID, common.ErrOwnershipViolation)
		}
		j, err := st.Jobs().FindByID(ctx, bid.JobID)
		if err != nil {
			return err
		}
		if j.Status != model.JobStatusBidSelected {
			return common.Errorf("job %s is not awaiting a handshake (status %s): %w",
				j.ID, j.Status, common.ErrIllegalStateTransition)
		}
		if bid.Status != model.BidStatusSelected {
			return common.Errorf("bid %s is %s, not SELECTED: %w", bidID, bid.Status, common.ErrIllegalStateTransition)
		}

		clientID = j.ClientID
		if accepted {
			j.AssignedWorkerID = &workerID
			if err := persistTransition(ctx, st, j, model.JobStatusReadyToStart); err != nil {
				return err
			}
		} else {
			bid.Status = model.BidStatusRejected
			if err := st.Bids().Update(ctx, bid); err != nil {
				return err
			}
			// No automatic reopen. Siblings rejected at selection time go
			// back to PENDING so the client can re-select manually.
			all, err := st.Bids().ListByJob(ctx, j.ID)
			if err != nil {
				return err
			}
			for i := range all {
				sibling := &all[i]
				if sibling.ID == bid.ID || sibling.Status != model.BidStatusRejected {
					continue
				}
				sibling.Status = model.BidStatusPending
				if err := st.Bids().Update(ctx, sibling); err != nil {
					return err
				}
			}
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := notify.EventHandshakeAccepted
	if !accepted {
		kind = notify.EventHandshakeDeclined
	}
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:        kind,
		RecipientID: clientID,
		JobID:       job.ID,
		Detail:      map[string]any{"bid_id": bidID},
	}); err != nil {
		s.logger.Warn("handshake notification failed", slog.String("bid_id", bidID), slog.Any("error", err))
	}

	s.logger.Info("handshake recorded",
		slog.String("bid_id", bidID),
		slog.String("job_id", job.ID),
		slog.Bool("accepted", accepted),
	)
	return job, nil
}

// ListBidsForJob returns all bids on a job; only the owning client may see
// them.
func (s *BidService) ListBidsForJob(ctx context.Context, jobID, clientID string) ([]model.Bid, error) {
	job, err := s.store.Jobs().FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, common.Errorf("job %s belongs to another client: %w", jobID, common.ErrOwnershipViolation)
	}
	return s.store.Bids().ListByJob(ctx, jobID)
}

// ListMyBids returns the worker's own bids, newest first.
func (s *BidService) ListMyBids(ctx context.Context, workerID string) ([]model.Bid, error) {
	return s.store.Bids().ListByWorker(ctx, workerID)
}
