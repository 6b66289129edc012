package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheetledger/sheetledger/internal/adapters/backend"
	"github.com/sheetledger/sheetledger/internal/core/domain"
	"github.com/sheetledger/sheetledger/internal/core/services"
	"github.com/sheetledger/sheetledger/internal/platform/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	ledger, err := services.NewLedger(cfg.LedgerName, cfg.LedgerSecret)
	if err != nil {
		logger.Error("Failed to create ledger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Pipeline: Retrying wraps BatchingCache wraps the backend. The memory
	// backend stands in for a remote adapter wired in by the host process.
	store := backend.NewMemory()
	batching, err := backend.NewBatchingCache(store, backend.BatchingConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		CacheCapacity: cfg.CacheCapacity,
	}, logger)
	if err != nil {
		logger.Error("Failed to create batching service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pipeline := backend.NewRetrying(batching, backend.RetryConfig{
		BaseDelay:   cfg.RetryBase,
		Factor:      cfg.RetryFactor,
		MaxAttempts: cfg.RetryMaxAttempts,
		MaxElapsed:  cfg.RetryMaxElapsed,
		CallTimeout: cfg.CallTimeout,
	}, logger)

	const owner = "owner@example.com"
	shared, err := services.NewSharedLedger(ctx, ledger, pipeline, owner, logger)
	if err != nil {
		logger.Error("Failed to create shared ledger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	record, err := domain.NewRecord(
		"opening balance",
		domain.ParseAccount("Assets:Bank:Checking"),
		domain.ParseAccount("Equity:Opening"),
		decimal.NewFromInt(1000),
		"USD",
	)
	if err != nil {
		logger.Error("Failed to build record", slog.String("error", err.Error()))
		os.Exit(1)
	}
	stored, err := shared.Commit(ctx, owner, record)
	if err != nil {
		logger.Error("Commit failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := batching.Flush(ctx); err != nil {
		logger.Error("Flush failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	prices := services.NewPriceDatabase()
	balance, err := shared.Balance(owner, domain.ParseAccount("Assets"), time.Now().UTC(), "USD", prices)
	if err != nil {
		logger.Error("Balance failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mismatched, err := shared.Verify(ctx, owner)
	if err != nil {
		logger.Error("Verification failed",
			slog.String("error", err.Error()),
			slog.Int("mismatched_rows", len(mismatched)))
		os.Exit(1)
	}

	logger.Info("Ledger session complete",
		slog.String("record_id", stored.ID.String()),
		slog.String("assets_balance", balance.String()))
}
