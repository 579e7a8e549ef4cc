package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Ledger is the append-only history of balance-affecting attempts.
// It owns entry identity (monotonic ULIDs) and the read side used for
// pagination and replay. Entries are ordered per account by Seq.
type Ledger struct {
	store interfaces.LedgerStore
	now   func() time.Time

	mu      sync.Mutex // protects entropy
	entropy *ulid.MonotonicEntropy
}

// NewLedger creates a Ledger over any LedgerStore implementation.
func NewLedger(store interfaces.LedgerStore) *Ledger {
	return &Ledger{
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Draft describes an entry before it gets an id and a timestamp.
type Draft struct {
	AccountID     string
	Seq           int64
	Kind          models.EntryKind
	Status        models.EntryStatus
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
}

// NewEntry stamps a draft with a fresh id and the current time.
func (l *Ledger) NewEntry(d Draft) models.LedgerEntry {
	now := l.now()

	l.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), l.entropy)
	l.mu.Unlock()

	return models.LedgerEntry{
		ID:            id.String(),
		AccountID:     d.AccountID,
		Seq:           d.Seq,
		Kind:          d.Kind,
		Status:        d.Status,
		Amount:        d.Amount,
		BalanceBefore: d.BalanceBefore,
		BalanceAfter:  d.BalanceAfter,
		Description:   d.Description,
		CreatedAt:     now,
	}
}

// Append validates the entry and stores it outside of any unit of work.
func (l *Ledger) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	if err := entry.Validate(); err != nil {
		return models.LedgerEntry{}, err
	}
	return l.store.Append(ctx, entry)
}

// Page is one slice of an account's history. NextCursor is empty on the last page.
type Page struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// ListForAccount returns the entries after cursor in creation order.
// An empty cursor starts from the beginning.
func (l *Ledger) ListForAccount(ctx context.Context, accountID, cursor string, limit int) (Page, error) {
	limit = clampLimit(limit)

	afterSeq, err := parseCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	// fetch one extra row to learn whether another page exists
	entries, err := l.store.ListForAccount(ctx, accountID, afterSeq, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("list ledger entries: %w", err)
	}

	page := Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = strconv.FormatInt(entries[limit-1].Seq, 10)
	}
	if page.Entries == nil {
		page.Entries = []models.LedgerEntry{}
	}
	return page, nil
}

// Entries lazily walks an account's whole history one page at a time.
// Ranging over the sequence again starts from the first entry.
func (l *Ledger) Entries(ctx context.Context, accountID string, pageSize int) iter.Seq2[models.LedgerEntry, error] {
	return func(yield func(models.LedgerEntry, error) bool) {
		cursor := ""
		for {
			page, err := l.ListForAccount(ctx, accountID, cursor, pageSize)
			if err != nil {
				yield(models.LedgerEntry{}, err)
				return
			}
			for _, entry := range page.Entries {
				if !yield(entry, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// Replay is the result of folding an account's history from a zero balance.
type Replay struct {
	Balance   decimal.Decimal `json:"balance"`
	Completed int             `json:"completed"`
	Declined  int             `json:"declined"`
	Credits   decimal.Decimal `json:"credits"`
	Debits    decimal.Decimal `json:"debits"`
}

// Replay recomputes the balance from completed entries and checks that every
// entry starts where the previous one ended and that no sequence number is missing.
func (l *Ledger) Replay(ctx context.Context, accountID string) (Replay, error) {
	return l.ReplayTo(ctx, accountID, 0)
}

// ReplayTo is Replay stopping after the entry with sequence upTo. Zero means all.
func (l *Ledger) ReplayTo(ctx context.Context, accountID string, upTo int64) (Replay, error) {
	r := Replay{Balance: decimal.Zero, Credits: decimal.Zero, Debits: decimal.Zero}

	var seq int64
	for entry, err := range l.Entries(ctx, accountID, MaxPageSize) {
		if err != nil {
			return Replay{}, err
		}
		if upTo > 0 && entry.Seq > upTo {
			break
		}
		if err := entry.Validate(); err != nil {
			return Replay{}, fmt.Errorf("%w: entry %s: %w", ErrBrokenLedger, entry.ID, err)
		}
		if seq++; entry.Seq != seq {
			return Replay{}, fmt.Errorf("%w: entry %s: sequence %d, expected %d", ErrBrokenLedger, entry.ID, entry.Seq, seq)
		}

		switch entry.Status {
		case models.StatusCompleted:
			if !entry.BalanceBefore.Equal(r.Balance) {
				return Replay{}, fmt.Errorf("%w: entry %s: balance before %s does not follow %s", ErrBrokenLedger, entry.ID, entry.BalanceBefore, r.Balance)
			}
			r.Completed++
			if entry.Kind == models.EntryCredit {
				r.Credits = r.Credits.Add(entry.Amount)
			} else {
				r.Debits = r.Debits.Add(entry.Amount)
			}
			r.Balance = r.Balance.Add(entry.Delta())
		case models.StatusDeclined:
			if !entry.BalanceBefore.Equal(r.Balance) {
				return Replay{}, fmt.Errorf("%w: declined entry %s: recorded balance %s, ledger balance %s", ErrBrokenLedger, entry.ID, entry.BalanceBefore, r.Balance)
			}
			r.Declined++
		}
	}
	return r, nil
}

var (
	// ErrInvalidCursor is returned for a cursor this ledger did not produce.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrBrokenLedger means the stored history cannot be replayed: an invalid
	// entry, a missing sequence number or a break in the balance chain.
	ErrBrokenLedger = errors.New("broken ledger")
)

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq < 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
