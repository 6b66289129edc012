package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sheetledger/sheetledger/internal/apperrors"
	"github.com/sheetledger/sheetledger/internal/core/domain"
	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// SharedLedger composes a Ledger with a persistence pipeline and a
// permission map, exposing access-controlled commit, read and share
// operations to multiple users.
//
// Commit is two-phase: the local append happens under the ledger's write
// lock, persistence happens outside it so network I/O never blocks other
// readers. If persistence ultimately fails the local append is rolled
// back and the caller receives a CommitFailedError.
type SharedLedger struct {
	ledger      *Ledger
	backend     ports.Backend
	containerID string
	logger      *slog.Logger

	mu          sync.RWMutex
	permissions map[string]domain.Permission
}

// NewSharedLedger creates the backing container and grants the owner
// Share permission.
func NewSharedLedger(ctx context.Context, ledger *Ledger, backend ports.Backend, owner string, logger *slog.Logger) (*SharedLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	containerID, err := backend.CreateContainer(ctx, ledger.Name())
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	return &SharedLedger{
		ledger:      ledger,
		backend:     backend,
		containerID: containerID,
		logger:      logger,
		permissions: map[string]domain.Permission{owner: domain.PermissionShare},
	}, nil
}

// ContainerID returns the identifier of the backing container.
func (s *SharedLedger) ContainerID() string {
	return s.containerID
}

func (s *SharedLedger) check(user string, required domain.Permission) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm, ok := s.permissions[user]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownUser, user)
	}
	if !perm.Allows(required) {
		return fmt.Errorf("%w: %s holds %s, needs %s", apperrors.ErrPermission, user, perm, required)
	}
	return nil
}

// Commit appends the record locally and persists it through the pipeline.
// Requires Write permission.
func (s *SharedLedger) Commit(ctx context.Context, user string, record domain.Record) (domain.Record, error) {
	if err := s.check(user, domain.PermissionWrite); err != nil {
		return domain.Record{}, err
	}
	stored, err := s.ledger.Append(record)
	if err != nil {
		return domain.Record{}, err
	}
	return s.persist(ctx, stored)
}

// ApplyAdjustment commits a correction referencing an earlier record.
// Requires Write permission.
func (s *SharedLedger) ApplyAdjustment(ctx context.Context, user string, originalID uuid.UUID, adjustment domain.Record) (domain.Record, error) {
	if err := s.check(user, domain.PermissionWrite); err != nil {
		return domain.Record{}, err
	}
	stored, err := s.ledger.ApplyAdjustment(originalID, adjustment)
	if err != nil {
		return domain.Record{}, err
	}
	return s.persist(ctx, stored)
}

// persist is commit phase two: push the already-appended record through
// the pipeline, rolling the local append back on failure.
func (s *SharedLedger) persist(ctx context.Context, stored domain.Record) (domain.Record, error) {
	err := s.backend.AppendRow(ctx, s.containerID, stored.Row())
	if err == nil {
		s.logger.Debug("record committed",
			slog.String("record_id", stored.ID.String()),
			slog.String("container_id", s.containerID))
		return stored, nil
	}

	rolledBack := s.ledger.removeLast(stored.ID)
	attempts := 0
	var exhausted *apperrors.RetryExhaustedError
	if errors.As(err, &exhausted) {
		attempts = exhausted.Attempts
	}
	s.logger.Warn("record persistence failed",
		slog.String("record_id", stored.ID.String()),
		slog.Bool("rolled_back", rolledBack),
		slog.String("error", err.Error()))
	return domain.Record{}, &apperrors.CommitFailedError{
		RolledBack: rolledBack,
		Attempts:   attempts,
		Err:        err,
	}
}

// GetRecord returns a single record. Requires Read permission.
func (s *SharedLedger) GetRecord(user string, id uuid.UUID) (domain.Record, error) {
	if err := s.check(user, domain.PermissionRead); err != nil {
		return domain.Record{}, err
	}
	return s.ledger.GetRecord(id)
}

// Records returns all records in commit order. Requires Read permission.
func (s *SharedLedger) Records(user string) ([]domain.Record, error) {
	if err := s.check(user, domain.PermissionRead); err != nil {
		return nil, err
	}
	return s.ledger.Records(), nil
}

// AdjustmentHistory returns the corrections recorded against the given
// record. Requires Read permission.
func (s *SharedLedger) AdjustmentHistory(user string, id uuid.UUID) ([]domain.Record, error) {
	if err := s.check(user, domain.PermissionRead); err != nil {
		return nil, err
	}
	return s.ledger.AdjustmentHistory(id), nil
}

// Balance computes an access-checked account balance. Requires Read
// permission.
func (s *SharedLedger) Balance(user string, account domain.Account, asOf time.Time, currency string, prices *PriceDatabase) (decimal.Decimal, error) {
	if err := s.check(user, domain.PermissionRead); err != nil {
		return decimal.Zero, err
	}
	return s.ledger.Balance(account, asOf, currency, prices)
}

// ShareWith grants or updates the target user's permission and shares the
// backing container with them. Requires Share permission. Permissions are
// set to exactly the requested level, never implicitly upgraded.
func (s *SharedLedger) ShareWith(ctx context.Context, actingUser, targetUser string, permission domain.Permission) error {
	if err := s.check(actingUser, domain.PermissionShare); err != nil {
		return err
	}
	if err := s.backend.Share(ctx, s.containerID, targetUser, permission); err != nil {
		return fmt.Errorf("share container: %w", err)
	}
	s.mu.Lock()
	s.permissions[targetUser] = permission
	s.mu.Unlock()
	s.logger.Info("ledger shared",
		slog.String("target", targetUser),
		slog.String("permission", permission.String()))
	return nil
}

// Verify reads all rows through the pipeline and recomputes the hash
// chain. It returns the mismatched row positions; when any exist the
// returned error wraps apperrors.ErrIntegrity. Requires Read permission.
func (s *SharedLedger) Verify(ctx context.Context, user string) ([]int, error) {
	if err := s.check(user, domain.PermissionRead); err != nil {
		return nil, err
	}
	rows, err := s.backend.ReadRows(ctx, s.containerID)
	if err != nil {
		return nil, fmt.Errorf("read rows for verification: %w", err)
	}
	mismatched := s.ledger.VerifyRows(rows)
	if len(mismatched) > 0 {
		return mismatched, fmt.Errorf("%w: %d mismatched rows", apperrors.ErrIntegrity, len(mismatched))
	}
	return nil, nil
}
