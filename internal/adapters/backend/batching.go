package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sheetledger/sheetledger/internal/core/domain"
	"github.com/sheetledger/sheetledger/internal/core/ports"
)

// BatchingConfig tunes the batching and caching decorator.
type BatchingConfig struct {
	// BatchSize is the buffered row count that triggers a flush.
	BatchSize int
	// FlushInterval is the maximum age of the buffer's oldest entry
	// before a flush is forced.
	FlushInterval time.Duration
	// CacheCapacity bounds the number of cached container reads;
	// least-recently-used entries are evicted beyond it.
	CacheCapacity int
}

// BatchingCache reduces backend round-trips: appended rows are buffered
// per container and flushed in one batched call when the buffer reaches
// BatchSize or its oldest entry is FlushInterval old; container reads are
// cached until the next successful flush.
//
// A read issued after a locally buffered write for the same container
// observes the buffered rows even though the wrapped backend has not.
// Rows are de-duplicated by their id cell, so a retried append never
// yields a double insert.
type BatchingCache struct {
	inner  ports.Backend
	cfg    BatchingConfig
	cache  *lru.Cache[string, [][]string]
	logger *slog.Logger

	mu      sync.Mutex
	buffers map[string]*containerBuffer
}

type containerBuffer struct {
	rows  [][]string
	timer *time.Timer
}

var _ ports.Backend = (*BatchingCache)(nil)

// NewBatchingCache wraps inner with write batching and an LRU read cache.
func NewBatchingCache(inner ports.Backend, cfg BatchingConfig, logger *slog.Logger) (*BatchingCache, error) {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.CacheCapacity < 1 {
		cfg.CacheCapacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, [][]string](cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}
	return &BatchingCache{
		inner:   inner,
		cfg:     cfg,
		cache:   cache,
		logger:  logger,
		buffers: make(map[string]*containerBuffer),
	}, nil
}

func (b *BatchingCache) CreateContainer(ctx context.Context, name string) (string, error) {
	return b.inner.CreateContainer(ctx, name)
}

// AppendRow buffers the row. The buffer is flushed when it reaches the
// configured size; otherwise a timer forces a flush once the oldest entry
// is FlushInterval old. An error means the row was not accepted: it is
// removed from the buffer so a caller that undoes its local state cannot
// have the row resurface on a later flush. Rows accepted by earlier calls
// stay buffered.
func (b *BatchingCache) AppendRow(ctx context.Context, containerID string, cells []string) error {
	b.mu.Lock()
	buf, ok := b.buffers[containerID]
	if !ok {
		buf = &containerBuffer{}
		b.buffers[containerID] = buf
	}
	if !containsRowID(buf.rows, rowID(cells)) {
		buf.rows = append(buf.rows, append([]string(nil), cells...))
	}
	if len(buf.rows) >= b.cfg.BatchSize {
		rows := b.takeLocked(containerID, buf)
		b.mu.Unlock()
		if err := b.write(ctx, containerID, rows); err != nil {
			b.dropRow(containerID, rowID(cells))
			return err
		}
		return nil
	}
	if buf.timer == nil && b.cfg.FlushInterval > 0 {
		buf.timer = time.AfterFunc(b.cfg.FlushInterval, func() {
			if err := b.FlushContainer(context.Background(), containerID); err != nil {
				b.logger.Warn("interval flush failed",
					slog.String("container_id", containerID),
					slog.String("error", err.Error()))
			}
		})
	}
	b.mu.Unlock()
	return nil
}

func (b *BatchingCache) AppendRows(ctx context.Context, containerID string, rows [][]string) error {
	for _, row := range rows {
		if err := b.AppendRow(ctx, containerID, row); err != nil {
			return err
		}
	}
	return nil
}

// takeLocked empties the buffer and stops its timer. Callers hold b.mu.
func (b *BatchingCache) takeLocked(containerID string, buf *containerBuffer) [][]string {
	rows := buf.rows
	buf.rows = nil
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
	delete(b.buffers, containerID)
	return rows
}

// write pushes a taken batch to the wrapped backend. On failure the rows
// are restored to the front of the buffer so nothing is lost; on success
// the container's cached read is invalidated.
func (b *BatchingCache) write(ctx context.Context, containerID string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	if err := b.inner.AppendRows(ctx, containerID, rows); err != nil {
		b.mu.Lock()
		buf, ok := b.buffers[containerID]
		if !ok {
			buf = &containerBuffer{}
			b.buffers[containerID] = buf
		}
		buf.rows = append(rows, buf.rows...)
		b.mu.Unlock()
		return err
	}
	b.cache.Remove(containerID)
	b.logger.Debug("batch flushed",
		slog.String("container_id", containerID),
		slog.Int("rows", len(rows)))
	return nil
}

// dropRow removes a buffered row by its id cell.
func (b *BatchingCache) dropRow(containerID, id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[containerID]
	if !ok {
		return
	}
	for i, row := range buf.rows {
		if rowID(row) == id {
			buf.rows = append(buf.rows[:i], buf.rows[i+1:]...)
			return
		}
	}
}

// FlushContainer flushes the pending rows of one container.
func (b *BatchingCache) FlushContainer(ctx context.Context, containerID string) error {
	b.mu.Lock()
	buf, ok := b.buffers[containerID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	rows := b.takeLocked(containerID, buf)
	b.mu.Unlock()
	return b.write(ctx, containerID, rows)
}

// Flush flushes every container's pending rows.
func (b *BatchingCache) Flush(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.buffers))
	for id := range b.buffers {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		if err := b.FlushContainer(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ReadRows serves the container's rows from the cache when possible,
// fetching from the wrapped backend otherwise, and appends any rows still
// buffered locally so callers always read their own writes.
func (b *BatchingCache) ReadRows(ctx context.Context, containerID string) ([][]string, error) {
	rows, cached := b.cache.Get(containerID)
	if !cached {
		fetched, err := b.inner.ReadRows(ctx, containerID)
		if err != nil {
			return nil, err
		}
		b.cache.Add(containerID, fetched)
		rows = fetched
	}

	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}

	b.mu.Lock()
	buf, ok := b.buffers[containerID]
	if ok {
		for _, row := range buf.rows {
			if containsRowID(out, rowID(row)) {
				continue
			}
			out = append(out, append([]string(nil), row...))
		}
	}
	b.mu.Unlock()
	return out, nil
}

// Invalidate drops the container's cached read.
func (b *BatchingCache) Invalidate(containerID string) {
	b.cache.Remove(containerID)
}

func (b *BatchingCache) Share(ctx context.Context, containerID, principal string, permission domain.Permission) error {
	return b.inner.Share(ctx, containerID, principal, permission)
}

// Close flushes all pending writes.
func (b *BatchingCache) Close(ctx context.Context) error {
	return b.Flush(ctx)
}

// rowID returns the record id cell used for de-duplication.
func rowID(cells []string) string {
	if len(cells) == 0 {
		return ""
	}
	return cells[0]
}

func containsRowID(rows [][]string, id string) bool {
	if id == "" {
		return false
	}
	for _, row := range rows {
		if rowID(row) == id {
			return true
		}
	}
	return false
}
