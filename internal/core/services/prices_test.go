package services_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetledger/sheetledger/internal/apperrors"
	"github.com/sheetledger/sheetledger/internal/core/services"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRateReturnsLatestOnOrBefore(t *testing.T) {
	prices := services.NewPriceDatabase()
	prices.AddRate(day(2024, 1, 1), "EUR", "USD", decimal.RequireFromString("1.10"))
	prices.AddRate(day(2024, 1, 10), "EUR", "USD", decimal.RequireFromString("1.20"))

	rate, err := prices.Rate(day(2024, 1, 5), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.10")))

	rate, err = prices.Rate(day(2024, 1, 10), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.20")))

	rate, err = prices.Rate(day(2025, 6, 1), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.20")))
}

func TestRateNotFoundBeforeFirstDate(t *testing.T) {
	prices := services.NewPriceDatabase()
	prices.AddRate(day(2024, 1, 10), "EUR", "USD", decimal.NewFromInt(1))

	_, err := prices.Rate(day(2024, 1, 5), "EUR", "USD")
	assert.True(t, errors.Is(err, apperrors.ErrConversion))

	_, err = prices.Rate(day(2024, 1, 15), "GBP", "USD")
	assert.True(t, errors.Is(err, apperrors.ErrConversion))
}

func TestRateIdentityPair(t *testing.T) {
	prices := services.NewPriceDatabase()
	rate, err := prices.Rate(day(2024, 1, 1), "USD", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestRateOutOfOrderInsertion(t *testing.T) {
	prices := services.NewPriceDatabase()
	prices.AddRate(day(2024, 3, 1), "EUR", "USD", decimal.RequireFromString("1.30"))
	prices.AddRate(day(2024, 1, 1), "EUR", "USD", decimal.RequireFromString("1.10"))

	rate, err := prices.Rate(day(2024, 2, 1), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.10")))
}

func TestCSVRoundTrip(t *testing.T) {
	prices := services.NewPriceDatabase()
	require.NoError(t, prices.LoadCSV(strings.NewReader(
		"date,from,to,rate\n2024-01-01,EUR,USD,1.10\n2024-02-01,GBP,USD,1.25\n")))

	rate, err := prices.Rate(day(2024, 1, 2), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.10")))

	var buf bytes.Buffer
	require.NoError(t, prices.WriteCSV(&buf))
	assert.Equal(t, "date,from,to,rate\n2024-01-01,EUR,USD,1.1\n2024-02-01,GBP,USD,1.25\n", buf.String())
}
