package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sheetledger/sheetledger/internal/apperrors"
	"github.com/sheetledger/sheetledger/internal/core/domain"
	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// RetryConfig tunes the retrying decorator.
type RetryConfig struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor float64
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int
	// MaxElapsed bounds total time across all attempts; zero means no bound.
	MaxElapsed time.Duration
	// CallTimeout bounds each outbound call; zero means no per-call bound.
	CallTimeout time.Duration
}

// Retrying masks transient backend failures. Errors classified as
// transient are retried with exponential backoff; permanent errors and
// exhausted attempts surface immediately, the latter as a
// RetryExhaustedError. Cancellation through the caller's context aborts
// the in-progress attempt and prevents further retries.
//
// Backoff delays never hold a ledger or cache lock: the decorator only
// sleeps around its own outbound call.
type Retrying struct {
	inner  ports.Backend
	cfg    RetryConfig
	logger *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ ports.Backend = (*Retrying)(nil)

// NewRetrying wraps inner with retry-with-backoff semantics.
func NewRetrying(inner ports.Backend, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.Factor < 1 {
		cfg.Factor = 2
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: inner, cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Delay returns the backoff delay preceding retry attempt k (k >= 1):
// base * factor^(k-1).
func (r *Retrying) Delay(k int) time.Duration {
	return time.Duration(float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Factor, float64(k-1)))
}

func (r *Retrying) do(ctx context.Context, opName string, op func(ctx context.Context) error) error {
	start := time.Now()
	var last error
	for attempt := 1; ; attempt++ {
		callCtx := ctx
		cancel := func() {}
		if r.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		}
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s aborted after %d attempts: %w", opName, attempt, ctx.Err())
		}
		// DeadlineExceeded here comes from the per-call timeout, since the
		// caller's context is still live. A timed-out call is retried like
		// any other transient failure.
		if !errors.Is(err, apperrors.ErrTransient) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		last = err
		if attempt >= r.cfg.MaxAttempts {
			return &apperrors.RetryExhaustedError{Attempts: attempt, Err: last}
		}
		delay := r.Delay(attempt)
		if r.cfg.MaxElapsed > 0 && time.Since(start)+delay > r.cfg.MaxElapsed {
			return &apperrors.RetryExhaustedError{Attempts: attempt, Err: last}
		}
		r.logger.Debug("retrying backend call",
			slog.String("op", opName),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s aborted after %d attempts: %w", opName, attempt, err)
		}
	}
}

func (r *Retrying) CreateContainer(ctx context.Context, name string) (string, error) {
	var id string
	err := r.do(ctx, "create_container", func(ctx context.Context) error {
		var err error
		id, err = r.inner.CreateContainer(ctx, name)
		return err
	})
	return id, err
}

// AppendRow is retried even though it is not idempotent at the wire
// level: every row carries its record id in the first cell and readers
// de-duplicate by id, so an ambiguous response cannot double-insert.
func (r *Retrying) AppendRow(ctx context.Context, containerID string, cells []string) error {
	return r.do(ctx, "append_row", func(ctx context.Context) error {
		return r.inner.AppendRow(ctx, containerID, cells)
	})
}

func (r *Retrying) AppendRows(ctx context.Context, containerID string, rows [][]string) error {
	return r.do(ctx, "append_rows", func(ctx context.Context) error {
		return r.inner.AppendRows(ctx, containerID, rows)
	})
}

func (r *Retrying) ReadRows(ctx context.Context, containerID string) ([][]string, error) {
	var rows [][]string
	err := r.do(ctx, "read_rows", func(ctx context.Context) error {
		var err error
		rows, err = r.inner.ReadRows(ctx, containerID)
		return err
	})
	return rows, err
}

func (r *Retrying) Share(ctx context.Context, containerID, principal string, permission domain.Permission) error {
	return r.do(ctx, "share", func(ctx context.Context) error {
		return r.inner.Share(ctx, containerID, principal, permission)
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
