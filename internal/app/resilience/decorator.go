// Package resilience wraps unreliable downstream calls in a circuit
// breaker plus bounded exponential retry, ending in a caller-supplied
// fallback continuation. One decorator instance guards one downstream
// dependency; the pattern is generic so payment and any future flaky
// collaborator reuse it unchanged.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Fallback is invoked once retries exhaust or the breaker is open. It must
// produce a degraded-but-valid result; returning an error propagates to
// the caller.
type Fallback[T any] func(ctx context.Context, cause error) (T, error)

type Options struct {
	Name string

	// Breaker trips once at least MinRequests calls were observed in the
	// rolling window and the failure ratio crosses FailureRatio; it stays
	// open for OpenTimeout before probing half-open.
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration

	// MaxAttempts bounds calls per Do invocation, first try included.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type Decorator[T any] struct {
	name         string
	breaker      *gobreaker.CircuitBreaker[T]
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	fallbacks    atomic.Int64
	logger       *slog.Logger
}

func New[T any](opts Options, logger *slog.Logger) *Decorator[T] {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.FailureRatio <= 0 {
		opts.FailureRatio = 0.5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:    opts.Name,
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= opts.MinRequests && ratio >= opts.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Decorator[T]{
		name:         opts.Name,
		breaker:      breaker,
		maxAttempts:  opts.MaxAttempts,
		initialDelay: opts.InitialDelay,
		maxDelay:     opts.MaxDelay,
		logger:       logger,
	}
}

// Do runs call through the breaker with retries and hands the final error
// to the fallback. Callers see either a successful result, the fallback's
// result, or the fallback's own error; the downstream error never escapes
// raw.
func (d *Decorator[T]) Do(ctx context.Context, call func(context.Context) (T, error), fallback Fallback[T]) (T, error) {
	var lastErr error

attempts:
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		result, err := d.breaker.Execute(func() (T, error) {
			return call(ctx)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Retrying while the breaker is open is pointless.
			break
		}
		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break attempts
		case <-time.After(d.delay(attempt)):
		}
	}

	d.fallbacks.Add(1)
	d.logger.Warn("downstream call exhausted, invoking fallback",
		slog.String("dependency", d.name),
		slog.Any("error", lastErr),
	)
	return fallback(ctx, lastErr)
}

// FallbackCount reports how many Do invocations ended in the fallback.
func (d *Decorator[T]) FallbackCount() int64 {
	return d.fallbacks.Load()
}

// State exposes the breaker state for health reporting.
func (d *Decorator[T]) State() gobreaker.State {
	return d.breaker.State()
}

// delay returns InitialDelay * 2^(attempt-1), capped at MaxDelay.
func (d *Decorator[T]) delay(attempt int) time.Duration {
	delay := time.Duration(float64(d.initialDelay) * math.Pow(2, float64(attempt-1)))
	if d.maxDelay > 0 && delay > d.maxDelay {
		return d.maxDelay
	}
	return delay
}
