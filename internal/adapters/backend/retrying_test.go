package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetledger/sheetledger/internal/apperrors"
	"github.com/sheetledger/sheetledger/internal/core/domain"
	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// flakyBackend fails a configured number of calls before succeeding.
type flakyBackend struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

var _ ports.Backend = (*flakyBackend)(nil)

func (f *flakyBackend) attempt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyBackend) CreateContainer(context.Context, string) (string, error) {
	return "container-1", f.attempt()
}

func (f *flakyBackend) AppendRow(context.Context, string, []string) error {
	return f.attempt()
}

func (f *flakyBackend) AppendRows(context.Context, string, [][]string) error {
	return f.attempt()
}

func (f *flakyBackend) ReadRows(context.Context, string) ([][]string, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return [][]string{{"r1"}}, nil
}

func (f *flakyBackend) Share(context.Context, string, string, domain.Permission) error {
	return f.attempt()
}

// instantSleep records requested delays without waiting.
func instantSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func transientErr(msg string) error {
	return fmt.Errorf("%w: %s", apperrors.ErrTransient, msg)
}

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyBackend{failures: 2, err: transientErr("rate limited")}
	r := NewRetrying(inner, RetryConfig{BaseDelay: 10 * time.Millisecond, Factor: 2, MaxAttempts: 5}, nil)
	var delays []time.Duration
	r.sleep = instantSleep(&delays)

	require.NoError(t, r.AppendRow(context.Background(), "c1", []string{"r1"}))
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestRetryingExhaustsAttempts(t *testing.T) {
	inner := &flakyBackend{failures: 100, err: transientErr("still down")}
	r := NewRetrying(inner, RetryConfig{BaseDelay: time.Millisecond, MaxAttempts: 3}, nil)
	var delays []time.Duration
	r.sleep = instantSleep(&delays)

	err := r.AppendRow(context.Background(), "c1", []string{"r1"})
	var exhausted *apperrors.RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.True(t, errors.Is(err, apperrors.ErrTransient))
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyBackend{failures: 100, err: fmt.Errorf("%w: not found", apperrors.ErrPermanent)}
	r := NewRetrying(inner, RetryConfig{MaxAttempts: 5}, nil)
	var delays []time.Duration
	r.sleep = instantSleep(&delays)

	err := r.AppendRow(context.Background(), "c1", []string{"r1"})
	assert.True(t, errors.Is(err, apperrors.ErrPermanent))
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, delays)
}

func TestRetryingTreatsCallTimeoutAsTransient(t *testing.T) {
	inner := &flakyBackend{failures: 1, err: context.DeadlineExceeded}
	r := NewRetrying(inner, RetryConfig{BaseDelay: time.Millisecond, MaxAttempts: 3, CallTimeout: time.Second}, nil)
	var delays []time.Duration
	r.sleep = instantSleep(&delays)

	require.NoError(t, r.AppendRow(context.Background(), "c1", []string{"r1"}))
	assert.Equal(t, 2, inner.calls)
	assert.Len(t, delays, 1)
}

func TestRetryingStopsOnCancellation(t *testing.T) {
	inner := &flakyBackend{failures: 100, err: transientErr("still down")}
	r := NewRetrying(inner, RetryConfig{BaseDelay: time.Millisecond, MaxAttempts: 10}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := r.AppendRow(ctx, "c1", []string{"r1"})
	assert.True(t, errors.Is(err, context.Canceled))
	var exhausted *apperrors.RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted), "cancellation is not exhaustion")
}

func TestRetryingHonorsMaxElapsed(t *testing.T) {
	inner := &flakyBackend{failures: 100, err: transientErr("still down")}
	r := NewRetrying(inner, RetryConfig{BaseDelay: time.Hour, MaxAttempts: 10, MaxElapsed: time.Minute}, nil)
	var delays []time.Duration
	r.sleep = instantSleep(&delays)

	err := r.AppendRow(context.Background(), "c1", []string{"r1"})
	var exhausted *apperrors.RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, exhausted.Attempts, "a delay past the budget must not be slept")
	assert.Empty(t, delays)
}

func TestRetryingDelaySchedule(t *testing.T) {
	r := NewRetrying(&flakyBackend{}, RetryConfig{BaseDelay: 100 * time.Millisecond, Factor: 2}, nil)
	assert.Equal(t, 100*time.Millisecond, r.Delay(1))
	assert.Equal(t, 200*time.Millisecond, r.Delay(2))
	assert.Equal(t, 400*time.Millisecond, r.Delay(3))
}

func TestRetryingReadRows(t *testing.T) {
	inner := &flakyBackend{failures: 1, err: transientErr("blip")}
	r := NewRetrying(inner, RetryConfig{BaseDelay: time.Millisecond, MaxAttempts: 3}, nil)
	var delays []time.Duration
	r.sleep = instantSleep(&delays)

	rows, err := r.ReadRows(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"r1"}}, rows)
	assert.Equal(t, 2, inner.calls)
}
