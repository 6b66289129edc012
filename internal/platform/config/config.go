// Package config loads the tuning parameters consumed by the core.
// Values are read from the environment (with an optional .env file) and
// handed to constructors as explicit structs, never as global state.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sheetledger/sheetledger/internal/apperrors"
)

// Config holds every tunable the core consumes.
type Config struct {
	// LedgerName is the required ledger identity, mixed into every
	// row signature.
	LedgerName string
	// LedgerSecret keys the signature MAC when set. It must never be
	// logged or echoed.
	LedgerSecret string

	BatchSize     int
	FlushInterval time.Duration
	CacheCapacity int

	RetryBase        time.Duration
	RetryFactor      float64
	RetryMaxAttempts int
	RetryMaxElapsed  time.Duration
	CallTimeout      time.Duration

	TokenRefreshThreshold time.Duration
	TokenFile             string
	TokenPassphrase       string
}

// Load reads configuration from environment variables, with .env file
// values as fallback defaults.
func Load() (*Config, error) {
	// Missing .env is fine; real environment variables win either way.
	_ = godotenv.Load()

	viper.SetDefault("LEDGER_NAME", "")
	viper.SetDefault("LEDGER_SECRET", "")
	viper.SetDefault("BATCH_SIZE", 10)
	viper.SetDefault("FLUSH_INTERVAL", "5s")
	viper.SetDefault("CACHE_CAPACITY", 16)
	viper.SetDefault("RETRY_BASE", "100ms")
	viper.SetDefault("RETRY_FACTOR", 2.0)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	viper.SetDefault("RETRY_MAX_ELAPSED", "30s")
	viper.SetDefault("CALL_TIMEOUT", "10s")
	viper.SetDefault("TOKEN_REFRESH_THRESHOLD", "5m")
	viper.SetDefault("TOKEN_FILE", "tokens.enc")
	viper.SetDefault("TOKEN_PASSPHRASE", "")
	viper.AutomaticEnv()

	cfg := &Config{
		LedgerName:            viper.GetString("LEDGER_NAME"),
		LedgerSecret:          viper.GetString("LEDGER_SECRET"),
		BatchSize:             viper.GetInt("BATCH_SIZE"),
		FlushInterval:         viper.GetDuration("FLUSH_INTERVAL"),
		CacheCapacity:         viper.GetInt("CACHE_CAPACITY"),
		RetryBase:             viper.GetDuration("RETRY_BASE"),
		RetryFactor:           viper.GetFloat64("RETRY_FACTOR"),
		RetryMaxAttempts:      viper.GetInt("RETRY_MAX_ATTEMPTS"),
		RetryMaxElapsed:       viper.GetDuration("RETRY_MAX_ELAPSED"),
		CallTimeout:           viper.GetDuration("CALL_TIMEOUT"),
		TokenRefreshThreshold: viper.GetDuration("TOKEN_REFRESH_THRESHOLD"),
		TokenFile:             viper.GetString("TOKEN_FILE"),
		TokenPassphrase:       viper.GetString("TOKEN_PASSPHRASE"),
	}

	if cfg.LedgerName == "" {
		return nil, fmt.Errorf("%w: LEDGER_NAME must be set", apperrors.ErrValidation)
	}
	return cfg, nil
}
