package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("downstream hiccup")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDecorator(maxAttempts int) *Decorator[string] {
	return New[string](Options{
		Name:         "test",
		MinRequests:  100, // breaker stays closed unless a test wants it
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	}, testLogger())
}

func TestDo_SuccessFirstTry(t *testing.T) {
	d := newTestDecorator(3)

	calls := 0
	got, err := d.Do(context.Background(),
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		},
		func(ctx context.Context, cause error) (string, error) {
			t.Fatal("fallback must not run on success")
			return "", nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
	assert.Zero(t, d.FallbackCount())
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	d := newTestDecorator(3)

	calls := 0
	got, err := d.Do(context.Background(),
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errFlaky
			}
			return "ok", nil
		},
		func(ctx context.Context, cause error) (string, error) {
			t.Fatal("fallback must not run when a retry succeeds")
			return "", nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustionInvokesFallbackWithCause(t *testing.T) {
	d := newTestDecorator(2)

	calls := 0
	got, err := d.Do(context.Background(),
		func(ctx context.Context) (string, error) {
			calls++
			return "", errFlaky
		},
		func(ctx context.Context, cause error) (string, error) {
			assert.ErrorIs(t, cause, errFlaky)
			return "degraded", nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "degraded", got)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 1, d.FallbackCount())
}

func TestDo_FallbackErrorPropagates(t *testing.T) {
	d := newTestDecorator(1)
	wantErr := errors.New("queue full")

	_, err := d.Do(context.Background(),
		func(ctx context.Context) (string, error) {
			return "", errFlaky
		},
		func(ctx context.Context, cause error) (string, error) {
			return "", wantErr
		},
	)
	assert.ErrorIs(t, err, wantErr)
}

func TestDo_OpenBreakerShortCircuitsRetries(t *testing.T) {
	d := New[string](Options{
		Name:         "trippy",
		MinRequests:  1,
		FailureRatio: 0.5,
		OpenTimeout:  time.Minute,
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
	}, testLogger())

	// Trip the breaker.
	failing := func(ctx context.Context) (string, error) { return "", errFlaky }
	swallow := func(ctx context.Context, cause error) (string, error) { return "", nil }
	_, _ = d.Do(context.Background(), failing, swallow)
	require.Equal(t, gobreaker.StateOpen, d.State())

	// With the breaker open the call function is never reached and the
	// retry loop stops immediately.
	calls := 0
	_, err := d.Do(context.Background(),
		func(ctx context.Context) (string, error) {
			calls++
			return "", errFlaky
		},
		func(ctx context.Context, cause error) (string, error) {
			assert.ErrorIs(t, cause, gobreaker.ErrOpenState)
			return "held", nil
		},
	)
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	d := New[string](Options{
		Name:         "ctx",
		MinRequests:  100,
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := d.Do(ctx,
		func(ctx context.Context) (string, error) {
			calls++
			cancel()
			return "", errFlaky
		},
		func(ctx context.Context, cause error) (string, error) {
			assert.ErrorIs(t, cause, context.Canceled)
			return "stopped", nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
