// Package backend provides the in-process row store and the decorators
// that make up the persistence pipeline: batching with a read cache, and
// retry with exponential backoff. All types implement ports.Backend and
// compose by wrapping another implementation.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/sheetledger/sheetledger/internal/apperrors"
	"github.com/sheetledger/sheetledger/internal/core/domain"
	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// Memory is a thread-safe in-memory backend. It backs tests and local
// sessions that do not need a remote store.
type Memory struct {
	mu         sync.RWMutex
	seq        int
	containers map[string][][]string
	shares     map[string]map[string]domain.Permission
}

var _ ports.Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		containers: make(map[string][][]string),
		shares:     make(map[string]map[string]domain.Permission),
	}
}

func (m *Memory) CreateContainer(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("%s-%d", name, m.seq)
	m.containers[id] = nil
	m.shares[id] = make(map[string]domain.Permission)
	return id, nil
}

func (m *Memory) AppendRow(ctx context.Context, containerID string, cells []string) error {
	return m.AppendRows(ctx, containerID, [][]string{cells})
}

func (m *Memory) AppendRows(_ context.Context, containerID string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[containerID]; !ok {
		return fmt.Errorf("%w: container %q not found", apperrors.ErrPermanent, containerID)
	}
	for _, row := range rows {
		m.containers[containerID] = append(m.containers[containerID], append([]string(nil), row...))
	}
	return nil
}

func (m *Memory) ReadRows(_ context.Context, containerID string) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("%w: container %q not found", apperrors.ErrPermanent, containerID)
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (m *Memory) Share(_ context.Context, containerID, principal string, permission domain.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shares[containerID]; !ok {
		return fmt.Errorf("%w: container %q not found", apperrors.ErrPermanent, containerID)
	}
	m.shares[containerID][principal] = permission
	return nil
}

// SharedWith returns the permission granted to a principal, if any.
func (m *Memory) SharedWith(containerID, principal string) (domain.Permission, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perm, ok := m.shares[containerID][principal]
	return perm, ok
}
