package service

import (
	"context"
	"log/slog"
	"time"

	"workbridge/internal/domain/model"
	"workbridge/internal/domain/repository"
	"workbridge/internal/notify"
)

// PenaltyService tracks worker cancellations and enforces the block
// window once the threshold is crossed. The sweep reinstates workers whose
// window elapsed and zeroes their counter so old strikes do not haunt a
// reinstated worker.
type PenaltyService struct {
	store     repository.Store
	notifier  notify.Notifier
	logger    *slog.Logger
	threshold int
	blockFor  time.Duration
	batchSize int
}

func NewPenaltyService(store repository.Store, notifier notify.Notifier, logger *slog.Logger, threshold, blockDays, batchSize int) *PenaltyService {
	return &PenaltyService{
		store:     store,
		notifier:  notifier,
		logger:    logger,
		threshold: threshold,
		blockFor:  time.Duration(blockDays) * 24 * time.Hour,
		batchSize: batchSize,
	}
}

// RecordCancellation counts one cancellation against the worker in its own
// transaction. Callers already inside a transaction use
// recordCancellationTx so the strike commits or rolls back with the
// cancellation itself.
func (s *PenaltyService) RecordCancellation(ctx context.Context, workerID string) error {
	return s.store.ExecTx(ctx, func(st repository.Store) error {
		return s.recordCancellationTx(ctx, st, workerID)
	})
}

func (s *PenaltyService) recordCancellationTx(ctx context.Context, st repository.Store, workerID string) error {
	worker, err := st.Workers().FindByID(ctx, workerID)
	if err != nil {
		return err
	}
	worker.CancellationCount++

	blocked := false
	if worker.CancellationCount >= s.threshold && !worker.IsBlocked(time.Now()) {
		until := time.Now().Add(s.blockFor)
		worker.BlockedUntil = &until
		worker.OnDuty = false
		blocked = true
	}
	if err := st.Workers().Update(ctx, worker); err != nil {
		return err
	}

	s.logger.Info("cancellation recorded",
		slog.String("worker_id", workerID),
		slog.Int("count", worker.CancellationCount),
		slog.Bool("blocked", blocked),
	)
	if blocked {
		if err := s.notifier.Notify(ctx, notify.Event{
			Kind:        notify.EventWorkerBlocked,
			RecipientID: workerID,
			Detail:      map[string]any{"blocked_until": worker.BlockedUntil},
		}); err != nil {
			s.logger.Warn("block notification failed", slog.String("worker_id", workerID), slog.Any("error", err))
		}
	}
	return nil
}

// PenaltyStatus reports a worker's current standing.
func (s *PenaltyService) PenaltyStatus(ctx context.Context, workerID string) (*model.Worker, error) {
	worker, err := s.store.Workers().FindByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	return worker, nil
}

// UnblockExpiredWorkers reinstates every worker whose block window has
// elapsed: the block is cleared and the cancellation counter reset. Run
// periodically by the sweeper; returns the number reinstated.
func (s *PenaltyService) UnblockExpiredWorkers(ctx context.Context) (int, error) {
	now := time.Now()
	expired, err := s.store.Workers().FindBlockExpired(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}

	reinstated := 0
	for i := range expired {
		workerID := expired[i].ID
		err := s.store.ExecTx(ctx, func(st repository.Store) error {
			worker, err := st.Workers().FindByID(ctx, workerID)
			if err != nil {
				return err
			}
			// Re-check under the transaction; another instance may have
			// swept this worker already.
			if worker.BlockedUntil == nil || worker.BlockedUntil.After(now) {
				return nil
			}
			worker.BlockedUntil = nil
			worker.CancellationCount = 0
			return st.Workers().Update(ctx, worker)
		})
		if err != nil {
			s.logger.Error("worker reinstate failed", slog.String("worker_id", workerID), slog.Any("error", err))
			continue
		}
		reinstated++
		if err := s.notifier.Notify(ctx, notify.Event{
			Kind:        notify.EventWorkerUnblocked,
			RecipientID: workerID,
		}); err != nil {
			s.logger.Warn("unblock notification failed", slog.String("worker_id", workerID), slog.Any("error", err))
		}
	}

	if reinstated > 0 {
		s.logger.Info("blocked workers reinstated", slog.Int("count", reinstated))
	}
	return reinstated, nil
}
