package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sheetledger/sheetledger/internal/apperrors"
	"github.com/sheetledger/sheetledger/internal/core/domain"
)

// Ledger is an in-memory append-only store of records. Every stored record
// carries a signature chained to the previous record's signature and keyed
// by the ledger identity (and optional secret), so altering any historical
// record invalidates every subsequent signature.
//
// Append and the adjustment path are serialized under an exclusive lock;
// reads take a shared lock and see a consistent snapshot.
type Ledger struct {
	mu         sync.RWMutex
	name       string
	signingKey []byte
	records    []domain.Record
	index      map[uuid.UUID]int
}

// NewLedger creates an empty ledger. The name is required and is mixed
// into every signature; the secret, when non-empty, keys the signature
// MAC so a party able to write rows cannot forge valid signatures.
func NewLedger(name, secret string) (*Ledger, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: ledger name must not be empty", apperrors.ErrValidation)
	}
	return &Ledger{
		name:       name,
		signingKey: deriveSigningKey(name, secret),
		index:      make(map[uuid.UUID]int),
	}, nil
}

// Name returns the ledger identity name.
func (l *Ledger) Name() string {
	return l.name
}

// deriveSigningKey encodes the ledger identity, and the secret when one is
// configured, into the HMAC key used for row signatures.
func deriveSigningKey(name, secret string) []byte {
	combined := name
	if secret != "" {
		combined = name + ":" + secret
	}
	return []byte(base64.StdEncoding.EncodeToString([]byte(combined)))
}

// chainSignature computes the HMAC-SHA256 signature of one row, chained to
// the previous row's signature. Cells exclude the signature column.
func chainSignature(key []byte, cells []string, prev string) string {
	mac := hmac.New(sha256.New, key)
	for _, c := range cells {
		mac.Write([]byte(c))
		mac.Write([]byte{0})
	}
	mac.Write([]byte(prev))
	return hex.EncodeToString(mac.Sum(nil))
}

// Append validates the record, assigns the next chained signature and
// stores it. The stored copy is returned; it is immutable from then on.
func (l *Ledger) Append(record domain.Record) (domain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(record)
}

func (l *Ledger) appendLocked(record domain.Record) (domain.Record, error) {
	if err := record.Validate(); err != nil {
		return domain.Record{}, err
	}
	if _, exists := l.index[record.ID]; exists {
		return domain.Record{}, fmt.Errorf("%w: record %s already committed", apperrors.ErrValidation, record.ID)
	}
	if record.ReferenceID != nil {
		if _, ok := l.index[*record.ReferenceID]; !ok {
			return domain.Record{}, fmt.Errorf("%w: referenced record %s", apperrors.ErrNotFound, record.ReferenceID)
		}
	}

	stored := record.Clone()
	prev := ""
	if n := len(l.records); n > 0 {
		prev = l.records[n-1].Signature
	}
	row := stored.Row()
	stored.Signature = chainSignature(l.signingKey, row[:len(row)-1], prev)

	l.index[stored.ID] = len(l.records)
	l.records = append(l.records, stored)
	return stored.Clone(), nil
}

// GetRecord returns the record with the given id.
func (l *Ledger) GetRecord(id uuid.UUID) (domain.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[id]
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: record %s", apperrors.ErrNotFound, id)
	}
	return l.records[pos].Clone(), nil
}

// Records returns all records in commit order.
func (l *Ledger) Records() []domain.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Record, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of committed records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// ModifyRecord always fails: committed records are immutable. Corrections
// are made with ApplyAdjustment.
func (l *Ledger) ModifyRecord(id uuid.UUID, _ domain.Record) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.index[id]; !ok {
		return fmt.Errorf("%w: record %s", apperrors.ErrNotFound, id)
	}
	return fmt.Errorf("%w: record %s cannot be modified", apperrors.ErrImmutable, id)
}

// DeleteRecord always fails: committed records are immutable.
func (l *Ledger) DeleteRecord(id uuid.UUID) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.index[id]; !ok {
		return fmt.Errorf("%w: record %s", apperrors.ErrNotFound, id)
	}
	return fmt.Errorf("%w: record %s cannot be deleted", apperrors.ErrImmutable, id)
}

// ApplyAdjustment appends a correction referencing an earlier record. The
// original record is never touched.
func (l *Ledger) ApplyAdjustment(originalID uuid.UUID, adjustment domain.Record) (domain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[originalID]; !ok {
		return domain.Record{}, fmt.Errorf("%w: record %s", apperrors.ErrNotFound, originalID)
	}
	ref := originalID
	adjustment.ReferenceID = &ref
	return l.appendLocked(adjustment)
}

// AdjustmentHistory returns, in commit order, the records whose reference
// points at the given id. The result is empty when the record has never
// been adjusted.
func (l *Ledger) AdjustmentHistory(id uuid.UUID) []domain.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Record
	for _, r := range l.records {
		if r.ReferenceID != nil && *r.ReferenceID == id {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Balance sums all postings up to asOf that touch the account's subtree,
// counting debits positive and credits negative, with every posting
// converted to the target currency at the rate on or before its date.
func (l *Ledger) Balance(account domain.Account, asOf time.Time, currency string, prices *PriceDatabase) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, r := range l.records {
		if r.Timestamp.After(asOf) {
			continue
		}
		for _, p := range r.Postings() {
			debitHit := p.Debit.StartsWith(account)
			creditHit := p.Credit.StartsWith(account)
			if !debitHit && !creditHit {
				continue
			}
			amount := p.Amount
			if r.Currency != currency {
				rate, err := prices.Rate(r.Timestamp, r.Currency, currency)
				if err != nil {
					return decimal.Zero, err
				}
				amount = amount.Mul(rate)
			}
			if debitHit {
				total = total.Add(amount)
			}
			if creditHit {
				total = total.Sub(amount)
			}
		}
	}
	return total, nil
}

// Verify recomputes the hash chain over the ledger's own records and
// returns the positions whose stored signature does not match. An empty
// result means the chain is intact.
func (l *Ledger) Verify() []int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rows := make([][]string, len(l.records))
	for i, r := range l.records {
		rows[i] = r.Row()
	}
	return l.verifyRows(rows)
}

// VerifyRows recomputes the hash chain over raw backend rows. This is the
// tamper-detection primitive: a backend edited outside the ledger is
// caught here. A mismatch at one position invalidates every subsequent
// position because recomputation chains forward.
func (l *Ledger) VerifyRows(rows [][]string) []int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verifyRows(rows)
}

func (l *Ledger) verifyRows(rows [][]string) []int {
	var mismatched []int
	prev := ""
	for i, row := range rows {
		if len(row) < 2 {
			mismatched = append(mismatched, i)
			continue
		}
		computed := chainSignature(l.signingKey, row[:len(row)-1], prev)
		if computed != row[len(row)-1] {
			mismatched = append(mismatched, i)
		}
		prev = computed
	}
	return mismatched
}

// removeLast undoes the most recent append when its id matches. It exists
// solely for the commit rollback path: the ledger's source of truth is
// "durable once accepted by the backend".
func (l *Ledger) removeLast(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.records)
	if n == 0 || l.records[n-1].ID != id {
		return false
	}
	delete(l.index, id)
	l.records = l.records[:n-1]
	return true
}
