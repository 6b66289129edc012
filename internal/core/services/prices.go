package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheetledger/sheetledger/internal/apperrors"
)

// PriceDatabase is an append-only store of currency conversion rates keyed
// by effective date and currency pair. Lookups return the latest rate with
// an effective date on or before the target date.
type PriceDatabase struct {
	mu    sync.RWMutex
	rates map[currencyPair][]ratePoint
}

type currencyPair struct {
	from string
	to   string
}

type ratePoint struct {
	date time.Time
	rate decimal.Decimal
}

// NewPriceDatabase creates an empty price database.
func NewPriceDatabase() *PriceDatabase {
	return &PriceDatabase{rates: make(map[currencyPair][]ratePoint)}
}

// AddRate records a conversion rate effective from the given date.
// Rates are never removed or overwritten; adding a rate for an existing
// (date, pair) key shadows the older entry for lookups.
func (p *PriceDatabase) AddRate(date time.Time, from, to string, rate decimal.Decimal) {
	day := truncateToDay(date)
	pair := currencyPair{from: from, to: to}

	p.mu.Lock()
	defer p.mu.Unlock()
	points := p.rates[pair]
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].date.After(day)
	})
	points = append(points, ratePoint{})
	copy(points[idx+1:], points[idx:])
	points[idx] = ratePoint{date: day, rate: rate}
	p.rates[pair] = points
}

// Rate returns the most recent conversion rate for the pair effective on
// or before the given date. It fails with apperrors.ErrConversion when no
// applicable rate exists.
func (p *PriceDatabase) Rate(date time.Time, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	day := truncateToDay(date)

	p.mu.RLock()
	defer p.mu.RUnlock()
	points := p.rates[currencyPair{from: from, to: to}]
	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].date.After(day) {
			return points[i].rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s to %s on %s", apperrors.ErrConversion, from, to, day.Format("2006-01-02"))
}

// LoadCSV appends rates from CSV input with a "date,from,to,rate" header.
func (p *PriceDatabase) LoadCSV(r io.Reader) error {
	reader := csv.NewReader(r)
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("read rates csv: %w", err)
	}
	for i, row := range rows {
		if i == 0 || len(row) != 4 {
			continue
		}
		date, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return fmt.Errorf("%w: bad rate date %q", apperrors.ErrValidation, row[0])
		}
		rate, err := decimal.NewFromString(row[3])
		if err != nil {
			return fmt.Errorf("%w: bad rate %q", apperrors.ErrValidation, row[3])
		}
		p.AddRate(date, row[1], row[2], rate)
	}
	return nil
}

// WriteCSV writes all rates in date order with a header row.
func (p *PriceDatabase) WriteCSV(w io.Writer) error {
	p.mu.RLock()
	type entry struct {
		date     time.Time
		from, to string
		rate     decimal.Decimal
	}
	var entries []entry
	for pair, points := range p.rates {
		for _, pt := range points {
			entries = append(entries, entry{date: pt.date, from: pair.from, to: pair.to, rate: pt.rate})
		}
	}
	p.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].date.Equal(entries[j].date) {
			return entries[i].date.Before(entries[j].date)
		}
		if entries[i].from != entries[j].from {
			return entries[i].from < entries[j].from
		}
		return entries[i].to < entries[j].to
	})

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"date", "from", "to", "rate"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.Write([]string{e.date.Format("2006-01-02"), e.from, e.to, e.rate.String()}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
