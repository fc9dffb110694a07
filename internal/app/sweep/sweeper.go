// Package sweep schedules the periodic maintenance jobs (job expiration,
// worker reinstatement) and serializes them across instances with a redis
// lease, so exactly one instance runs a given sweep per cycle.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"workbridge/internal/platform/queue"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

type Sweeper struct {
	cron     *cron.Cron
	rdb      *redis.Client
	leaseTTL time.Duration
	logger   *slog.Logger
}

func New(rdb *redis.Client, leaseTTL time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cron:     cron.New(),
		rdb:      rdb,
		leaseTTL: leaseTTL,
		logger:   logger,
	}
}

// Register schedules fn under the given cron spec. Each cycle first takes
// the "sweep:<name>" lease; losing the race means another instance owns
// this cycle and we skip quietly.
func (s *Sweeper) Register(name, spec string, fn func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.leaseTTL)
		defer cancel()

		lease, ok, err := queue.AcquireLease(ctx, s.rdb, "sweep:"+name, s.leaseTTL)
		if err != nil {
			s.logger.Error("sweep lease error", slog.String("sweep", name), slog.Any("error", err))
			return
		}
		if !ok {
			s.logger.Debug("sweep cycle skipped, lease held elsewhere", slog.String("sweep", name))
			return
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				s.logger.Warn("sweep lease release failed", slog.String("sweep", name), slog.Any("error", err))
			}
		}()

		started := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Error("sweep cycle failed", slog.String("sweep", name), slog.Any("error", err))
			return
		}
		s.logger.Info("sweep cycle done",
			slog.String("sweep", name),
			slog.Duration("took", time.Since(started)),
		)
	})
	return err
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running cycle to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
