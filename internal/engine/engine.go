package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/sheikh-saqib/allowance-ledger/internal/models/events"
	"github.com/shopspring/decimal"
)

const DefaultMaxAttempts = 3

// Engine applies balance-changing operations. It holds no locks: concurrent
// callers are serialised per account by the store's compare-and-swap, and each
// balance change commits together with its ledger entry.
type Engine struct {
	store       interfaces.Store
	ledger      *ledger.Ledger
	publisher   interfaces.EventPublisher
	events      *eventQueue
	eventBuffer int
	log         zerolog.Logger
	maxAttempts int
}

type Option func(*Engine)

// WithMaxAttempts bounds the read-validate-write loop. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxAttempts = n
		}
	}
}

// WithPublisher sends an event for every committed entry. Sending happens in
// the background; call Close to flush before exit.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithEventBuffer sets how many events may wait for the publisher before new
// ones are dropped. Values below 1 are ignored.
func WithEventBuffer(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.eventBuffer = n
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log.With().Str("component", "engine").Logger() }
}

func New(store interfaces.Store, l *ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		ledger:      l,
		log:         zerolog.Nop(),
		maxAttempts: DefaultMaxAttempts,
		eventBuffer: DefaultEventBuffer,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher != nil {
		e.events = newEventQueue(e.publisher, e.eventBuffer, e.log)
	}
	return e
}

// Close flushes queued events to the publisher. It does not close the
// publisher itself.
func (e *Engine) Close(ctx context.Context) error {
	if e.events == nil {
		return nil
	}
	return e.events.close(ctx)
}

// Fund credits amount to the account. Parents and children can both be funded.
func (e *Engine) Fund(ctx context.Context, accountID string, amount decimal.Decimal, note string) (models.Account, models.LedgerEntry, error) {
	if !models.ValidAmount(amount) {
		return models.Account{}, models.LedgerEntry{}, models.ErrInvalidAmount
	}

	account, entry, err := e.run(ctx, accountID, "fund", func(account models.Account) (ledger.Draft, error) {
		if !models.WithinMax(account.Balance.Add(amount)) {
			return ledger.Draft{}, fmt.Errorf("balance would exceed %s: %w", models.MaxAmount, models.ErrInvalidAmount)
		}
		return ledger.Draft{
			Kind:          models.EntryCredit,
			Status:        models.StatusCompleted,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance.Add(amount),
			Description:   note,
		}, nil
	})
	if err != nil {
		return models.Account{}, models.LedgerEntry{}, err
	}

	e.publish(ctx, entry, nil)
	return account, entry, nil
}

// Purchase debits amount from a child account if policy allows it. A refusal
// is recorded as a declined entry and reported as a *DeclinedError.
func (e *Engine) Purchase(ctx context.Context, accountID string, amount decimal.Decimal, description string) (models.Account, models.LedgerEntry, error) {
	if !models.ValidAmount(amount) {
		return models.Account{}, models.LedgerEntry{}, models.ErrInvalidAmount
	}

	// reason is re-evaluated on every attempt against the fresh read
	var reason error
	account, entry, err := e.run(ctx, accountID, "purchase", func(account models.Account) (ledger.Draft, error) {
		if !account.IsChild() {
			return ledger.Draft{}, models.ErrNotChild
		}

		reason = purchaseRejection(account, amount)
		draft := ledger.Draft{
			Kind:          models.EntryDebit,
			Status:        models.StatusCompleted,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance.Sub(amount),
			Description:   description,
		}
		if reason != nil {
			draft.Status = models.StatusDeclined
			draft.BalanceAfter = account.Balance
		}
		return draft, nil
	})
	if err != nil {
		return models.Account{}, models.LedgerEntry{}, err
	}

	e.publish(ctx, entry, reason)
	if reason != nil {
		e.log.Info().
			Str("account_id", accountID).
			Str("entry_id", entry.ID).
			Str("amount", amount.String()).
			Str("reason", reason.Error()).
			Msg("purchase declined")
		return account, entry, &DeclinedError{Reason: reason, Entry: entry}
	}
	return account, entry, nil
}

// purchaseRejection applies the purchase policy in a fixed order so the reason
// reported is always the first rule violated.
func purchaseRejection(account models.Account, amount decimal.Decimal) error {
	switch {
	case !account.Active:
		return models.ErrAccountInactive
	case amount.GreaterThan(account.SpendingLimit):
		return models.ErrLimitExceeded
	case amount.GreaterThan(account.Balance):
		return models.ErrInsufficientFunds
	}
	return nil
}

// SetSpendingLimit replaces a child's per-purchase ceiling. No ledger entry is written.
func (e *Engine) SetSpendingLimit(ctx context.Context, accountID string, limit decimal.Decimal) (models.Account, error) {
	if !models.ValidLimit(limit) {
		return models.Account{}, models.ErrInvalidAmount
	}
	if err := e.requireChild(ctx, accountID); err != nil {
		return models.Account{}, err
	}

	account, err := e.store.SetSpendingLimit(ctx, accountID, limit)
	if err != nil {
		return models.Account{}, classify(err)
	}
	return account, nil
}

// SetActive switches a child's ability to purchase. No ledger entry is written.
func (e *Engine) SetActive(ctx context.Context, accountID string, active bool) (models.Account, error) {
	if err := e.requireChild(ctx, accountID); err != nil {
		return models.Account{}, err
	}

	account, err := e.store.SetActive(ctx, accountID, active)
	if err != nil {
		return models.Account{}, classify(err)
	}
	return account, nil
}

func (e *Engine) requireChild(ctx context.Context, accountID string) error {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return classify(err)
	}
	if !account.IsChild() {
		return models.ErrNotChild
	}
	return nil
}

// planFunc turns a fresh read of the account into the entry to write, or
// refuses with a non-retryable error.
type planFunc func(account models.Account) (ledger.Draft, error)

// run is the read-validate-write loop. A conflict means another writer got
// there first, so the account is read and validated again.
func (e *Engine) run(ctx context.Context, accountID, op string, plan planFunc) (models.Account, models.LedgerEntry, error) {
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		account, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return models.Account{}, models.LedgerEntry{}, classify(err)
		}

		draft, err := plan(account)
		if err != nil {
			return models.Account{}, models.LedgerEntry{}, err
		}

		updated, entry, err := e.commit(ctx, account, draft)
		if errors.Is(err, models.ErrConflict) {
			e.log.Debug().
				Str("op", op).
				Str("account_id", accountID).
				Int("attempt", attempt).
				Msg("balance changed underneath, retrying")
			continue
		}
		if err != nil {
			return models.Account{}, models.LedgerEntry{}, classify(err)
		}
		return updated, entry, nil
	}

	e.log.Warn().Str("op", op).Str("account_id", accountID).Int("attempts", e.maxAttempts).Msg("retries exhausted")
	return models.Account{}, models.LedgerEntry{}, fmt.Errorf("%s %s: %w: gave up after %d conflicting attempts",
		op, accountID, models.ErrTransientFailure, e.maxAttempts)
}

// commit swaps the balance from the value read to the draft's target and
// appends the entry in the same unit of work. Declined drafts swap with a
// zero delta so the recorded balance is the one current at write time.
func (e *Engine) commit(ctx context.Context, read models.Account, draft ledger.Draft) (models.Account, models.LedgerEntry, error) {
	delta := draft.BalanceAfter.Sub(draft.BalanceBefore)

	var (
		updated models.Account
		saved   models.LedgerEntry
	)
	err := e.store.WithinTx(ctx, func(tx interfaces.TxStore) error {
		var err error
		updated, err = tx.ApplyDelta(ctx, read.ID, delta, read.Balance)
		if err != nil {
			return err
		}

		draft.AccountID = read.ID
		draft.Seq = updated.Version
		entry := e.ledger.NewEntry(draft)
		if err := entry.Validate(); err != nil {
			return err
		}

		saved, err = tx.Append(ctx, entry)
		return err
	})
	return updated, saved, err
}

// publish is best effort and never waits on the broker: the ledger, not the
// event stream, is the record.
func (e *Engine) publish(ctx context.Context, entry models.LedgerEntry, reason error) {
	if e.events == nil {
		return
	}

	event := events.LedgerEntryRecorded{
		EventType:     eventType(entry),
		EntryID:       entry.ID,
		AccountID:     entry.AccountID,
		Status:        string(entry.Status),
		Amount:        entry.Amount,
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
		OccurredAt:    entry.CreatedAt,
	}
	if reason != nil {
		event.Reason = reason.Error()
	}

	e.events.enqueue(ctx, entry.AccountID, event)
}

func eventType(entry models.LedgerEntry) string {
	switch {
	case entry.Kind == models.EntryCredit:
		return events.TypeAccountFunded
	case entry.Status == models.StatusDeclined:
		return events.TypePurchaseDeclined
	default:
		return events.TypePurchaseCompleted
	}
}
