package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory implementation of interfaces.Store.
// A single mutex serialises every write, so WithinTx is trivially atomic.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	emails   map[string]string // lower-cased email -> account id
	order    []string          // account ids in creation order
	entries  []models.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]models.Account),
		emails:   make(map[string]string),
		entries:  make([]models.LedgerEntry, 0),
	}
}

func (m *MemoryStore) CreateAccount(ctx context.Context, account models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.ID]; exists {
		return fmt.Errorf("account %s: %w", account.ID, models.ErrDuplicate)
	}
	email := strings.ToLower(account.Email)
	if _, exists := m.emails[email]; exists {
		return fmt.Errorf("email %s: %w", account.Email, models.ErrDuplicate)
	}
	if account.IsChild() {
		owner, ok := m.accounts[account.OwnerID]
		if !ok || !owner.IsParent() {
			return models.ErrInvalidOwner
		}
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	m.accounts[account.ID] = account
	m.emails[email] = account.ID
	m.order = append(m.order, account.ID)
	return nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	return account, nil
}

func (m *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return models.Account{}, fmt.Errorf("email %s: %w", email, models.ErrNotFound)
	}
	return m.accounts[id], nil
}

func (m *MemoryStore) ListChildren(ctx context.Context, parentID string) ([]models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var children []models.Account
	for _, id := range m.order {
		if a := m.accounts[id]; a.IsChild() && a.OwnerID == parentID {
			children = append(children, a)
		}
	}
	return children, nil
}

func (m *MemoryStore) ApplyDelta(ctx context.Context, id string, delta, expectedBalance decimal.Decimal) (models.Account, error) {
	var updated models.Account
	err := m.WithinTx(ctx, func(tx interfaces.TxStore) error {
		var err error
		updated, err = tx.ApplyDelta(ctx, id, delta, expectedBalance)
		return err
	})
	return updated, err
}

func (m *MemoryStore) SetSpendingLimit(ctx context.Context, id string, limit decimal.Decimal) (models.Account, error) {
	return m.update(ctx, id, func(a *models.Account) { a.SpendingLimit = limit })
}

func (m *MemoryStore) SetActive(ctx context.Context, id string, active bool) (models.Account, error) {
	return m.update(ctx, id, func(a *models.Account) { a.Active = active })
}

func (m *MemoryStore) UpdateProfile(ctx context.Context, id, name, email string) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}

	oldKey, newKey := strings.ToLower(account.Email), strings.ToLower(email)
	if owner, taken := m.emails[newKey]; taken && owner != id {
		return models.Account{}, fmt.Errorf("email %s: %w", email, models.ErrDuplicate)
	}
	delete(m.emails, oldKey)
	m.emails[newKey] = id

	account.Name = name
	account.Email = email
	account.UpdatedAt = time.Now().UTC()
	m.accounts[id] = account
	return account, nil
}

func (m *MemoryStore) update(ctx context.Context, id string, mutate func(*models.Account)) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	mutate(&account)
	account.UpdatedAt = time.Now().UTC()
	m.accounts[id] = account
	return account, nil
}

func (m *MemoryStore) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	var saved models.LedgerEntry
	err := m.WithinTx(ctx, func(tx interfaces.TxStore) error {
		var err error
		saved, err = tx.Append(ctx, entry)
		return err
	})
	return saved, err
}

// ListForAccount returns a copy so callers can't modify internal state.
func (m *MemoryStore) ListForAccount(ctx context.Context, accountID string, afterSeq int64, limit int) ([]models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountID && e.Seq > afterSeq {
			result = append(result, e)
		}
	}
	slices.SortFunc(result, func(a, b models.LedgerEntry) int { return cmp.Compare(a.Seq, b.Seq) })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// WithinTx runs fn against staged copies and publishes them only if fn succeeds.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx interfaces.TxStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{store: m, accounts: make(map[string]models.Account)}
	if err := fn(tx); err != nil {
		return err
	}

	for id, account := range tx.accounts {
		m.accounts[id] = account
	}
	m.entries = append(m.entries, tx.entries...)
	return nil
}

// memoryTx runs with the store mutex already held.
type memoryTx struct {
	store    *MemoryStore
	accounts map[string]models.Account
	entries  []models.LedgerEntry
}

func (tx *memoryTx) account(id string) (models.Account, bool) {
	if a, ok := tx.accounts[id]; ok {
		return a, true
	}
	a, ok := tx.store.accounts[id]
	return a, ok
}

func (tx *memoryTx) ApplyDelta(ctx context.Context, id string, delta, expectedBalance decimal.Decimal) (models.Account, error) {
	account, ok := tx.account(id)
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	if !account.Balance.Equal(expectedBalance) {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrConflict)
	}

	next := account.Balance.Add(delta)
	if next.IsNegative() {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrInsufficientFunds)
	}
	if !models.WithinMax(next) {
		return models.Account{}, fmt.Errorf("account %s: balance above %s: %w", id, models.MaxAmount, models.ErrInvalidAmount)
	}

	account.Balance = next
	account.Version++
	account.UpdatedAt = time.Now().UTC()
	tx.accounts[id] = account
	return account, nil
}

func (tx *memoryTx) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	if _, ok := tx.account(entry.AccountID); !ok {
		return models.LedgerEntry{}, fmt.Errorf("account %s: %w", entry.AccountID, models.ErrNotFound)
	}
	if tx.hasSeq(entry.AccountID, entry.Seq) {
		return models.LedgerEntry{}, fmt.Errorf("entry %s/%d: %w", entry.AccountID, entry.Seq, models.ErrDuplicate)
	}
	tx.entries = append(tx.entries, entry)
	return entry, nil
}

// hasSeq mirrors the (account_id, seq) unique key of the postgres schema.
func (tx *memoryTx) hasSeq(accountID string, seq int64) bool {
	for _, entries := range [][]models.LedgerEntry{tx.store.entries, tx.entries} {
		for _, e := range entries {
			if e.AccountID == accountID && e.Seq == seq {
				return true
			}
		}
	}
	return false
}

// Compile-time check: ensure MemoryStore implements Store interface
var _ interfaces.Store = (*MemoryStore)(nil)
