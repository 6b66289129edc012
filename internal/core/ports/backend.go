// Package ports declares the capability interfaces the core consumes.
// Concrete adapters (a spreadsheet API, a workbook API, a local file
// store) live behind these contracts; the decorators in
// internal/adapters/backend implement the same interface by wrapping
// another implementation.
package ports

import (
	"context"

	"github.com/sheetledger/sheetledger/internal/core/domain"
)

// Backend is the contract any row store must satisfy. Errors crossing this
// boundary are classified by wrapping apperrors.ErrTransient or
// apperrors.ErrPermanent.
type Backend interface {
	// CreateContainer creates a named container and returns its identifier.
	CreateContainer(ctx context.Context, name string) (string, error)
	// AppendRow appends one row of string cells to the container.
	AppendRow(ctx context.Context, containerID string, cells []string) error
	// AppendRows appends several rows in a single call. Used by the
	// batching decorator to flush a buffer with one round-trip.
	AppendRows(ctx context.Context, containerID string, rows [][]string) error
	// ReadRows returns all rows of the container in insertion order.
	ReadRows(ctx context.Context, containerID string) ([][]string, error)
	// Share grants a named principal a permission on the container.
	Share(ctx context.Context, containerID, principal string, permission domain.Permission) error
}
