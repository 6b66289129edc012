package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sheetledger/sheetledger/internal/apperrors"
)

// Split is an additional posting attached to a Record. Like the primary
// posting it moves a positive amount from a credit account to a debit
// account and therefore balances on its own; split amounts are independent
// of the primary amount rather than divisions of it, so a record's total
// movement is the sum over all of its postings.
type Split struct {
	Debit  Account
	Credit Account
	Amount decimal.Decimal
}

// Record is one immutable ledger entry: a primary posting pair, optional
// splits and metadata, plus the row signature assigned at append time.
type Record struct {
	ID                  uuid.UUID
	Timestamp           time.Time
	Description         string
	Debit               Account
	Credit              Account
	Amount              decimal.Decimal
	Currency            string
	Splits              []Split
	ReferenceID         *uuid.UUID
	ExternalRef         string
	Tags                []string
	OriginalDescription string
	Signature           string
}

// NewRecord builds a record with a fresh ID and UTC timestamp and
// validates its invariants.
func NewRecord(description string, debit, credit Account, amount decimal.Decimal, currency string) (Record, error) {
	r := Record{
		ID:          uuid.New(),
		Timestamp:   time.Now().UTC(),
		Description: description,
		Debit:       debit,
		Credit:      credit,
		Amount:      amount,
		Currency:    currency,
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Validate checks the record invariants: positive amounts, distinct debit
// and credit accounts for the primary posting and every split, and a
// recognized ISO currency code.
func (r Record) Validate() error {
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive, got %s", apperrors.ErrValidation, r.Amount)
	}
	if r.Debit.IsZero() || r.Credit.IsZero() {
		return fmt.Errorf("%w: debit and credit accounts are required", apperrors.ErrValidation)
	}
	if r.Debit.Equal(r.Credit) {
		return fmt.Errorf("%w: debit and credit accounts must differ", apperrors.ErrValidation)
	}
	if money.GetCurrency(r.Currency) == nil {
		return fmt.Errorf("%w: unsupported currency %q", apperrors.ErrValidation, r.Currency)
	}
	for i, s := range r.Splits {
		if s.Amount.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: split %d amount must be positive, got %s", apperrors.ErrValidation, i, s.Amount)
		}
		if s.Debit.IsZero() || s.Credit.IsZero() {
			return fmt.Errorf("%w: split %d debit and credit accounts are required", apperrors.ErrValidation, i)
		}
		if s.Debit.Equal(s.Credit) {
			return fmt.Errorf("%w: split %d debit and credit accounts must differ", apperrors.ErrValidation, i)
		}
	}
	return nil
}

// Postings returns the primary posting followed by the splits.
func (r Record) Postings() []Split {
	postings := make([]Split, 0, 1+len(r.Splits))
	postings = append(postings, Split{Debit: r.Debit, Credit: r.Credit, Amount: r.Amount})
	postings = append(postings, r.Splits...)
	return postings
}

// Clone returns a deep copy so callers cannot mutate stored state through
// shared slices or pointers.
func (r Record) Clone() Record {
	out := r
	if r.ReferenceID != nil {
		ref := *r.ReferenceID
		out.ReferenceID = &ref
	}
	out.Splits = append([]Split(nil), r.Splits...)
	out.Tags = append([]string(nil), r.Tags...)
	return out
}

// Row cell order, fixed by the backend contract.
const (
	cellID = iota
	cellTimestamp
	cellDescription
	cellDebit
	cellCredit
	cellAmount
	cellCurrency
	cellSplits
	cellReferenceID
	cellExternalRef
	cellTags
	cellOriginalDescription
	cellSignature

	// RowWidth is the number of cells a record occupies in a container row.
	RowWidth = cellSignature + 1
)

const (
	splitFieldSep = "|"
	splitSep      = ";"
	tagSep        = ","
)

// Row encodes the record as one backend row. The signature occupies the
// last cell and is empty until assigned by the ledger.
func (r Record) Row() []string {
	cells := make([]string, RowWidth)
	cells[cellID] = r.ID.String()
	cells[cellTimestamp] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	cells[cellDescription] = r.Description
	cells[cellDebit] = r.Debit.String()
	cells[cellCredit] = r.Credit.String()
	cells[cellAmount] = r.Amount.String()
	cells[cellCurrency] = r.Currency
	cells[cellSplits] = encodeSplits(r.Splits)
	if r.ReferenceID != nil {
		cells[cellReferenceID] = r.ReferenceID.String()
	}
	cells[cellExternalRef] = r.ExternalRef
	cells[cellTags] = strings.Join(r.Tags, tagSep)
	cells[cellOriginalDescription] = r.OriginalDescription
	cells[cellSignature] = r.Signature
	return cells
}

// RecordFromRow decodes a backend row produced by Row.
func RecordFromRow(cells []string) (Record, error) {
	if len(cells) != RowWidth {
		return Record{}, fmt.Errorf("%w: row has %d cells, want %d", apperrors.ErrValidation, len(cells), RowWidth)
	}
	id, err := uuid.Parse(cells[cellID])
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad record id %q", apperrors.ErrValidation, cells[cellID])
	}
	ts, err := time.Parse(time.RFC3339Nano, cells[cellTimestamp])
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad timestamp %q", apperrors.ErrValidation, cells[cellTimestamp])
	}
	amount, err := decimal.NewFromString(cells[cellAmount])
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad amount %q", apperrors.ErrValidation, cells[cellAmount])
	}
	splits, err := decodeSplits(cells[cellSplits])
	if err != nil {
		return Record{}, err
	}
	r := Record{
		ID:                  id,
		Timestamp:           ts.UTC(),
		Description:         cells[cellDescription],
		Debit:               ParseAccount(cells[cellDebit]),
		Credit:              ParseAccount(cells[cellCredit]),
		Amount:              amount,
		Currency:            cells[cellCurrency],
		Splits:              splits,
		ExternalRef:         cells[cellExternalRef],
		OriginalDescription: cells[cellOriginalDescription],
		Signature:           cells[cellSignature],
	}
	if cells[cellReferenceID] != "" {
		ref, err := uuid.Parse(cells[cellReferenceID])
		if err != nil {
			return Record{}, fmt.Errorf("%w: bad reference id %q", apperrors.ErrValidation, cells[cellReferenceID])
		}
		r.ReferenceID = &ref
	}
	if cells[cellTags] != "" {
		r.Tags = strings.Split(cells[cellTags], tagSep)
	}
	return r, nil
}

func encodeSplits(splits []Split) string {
	if len(splits) == 0 {
		return ""
	}
	parts := make([]string, len(splits))
	for i, s := range splits {
		parts[i] = s.Debit.String() + splitFieldSep + s.Credit.String() + splitFieldSep + s.Amount.String()
	}
	return strings.Join(parts, splitSep)
}

func decodeSplits(encoded string) ([]Split, error) {
	if encoded == "" {
		return nil, nil
	}
	parts := strings.Split(encoded, splitSep)
	splits := make([]Split, len(parts))
	for i, p := range parts {
		fields := strings.Split(p, splitFieldSep)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: bad split encoding %q", apperrors.ErrValidation, p)
		}
		amount, err := decimal.NewFromString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: bad split amount %q", apperrors.ErrValidation, fields[2])
		}
		splits[i] = Split{
			Debit:  ParseAccount(fields[0]),
			Credit: ParseAccount(fields[1]),
			Amount: amount,
		}
	}
	return splits, nil
}
