//go:build integration
// +build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a PostgreSQL container, applies the schema and returns a store.
func setupTestDB(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("allowance"),
		tcpostgres.WithUsername("allowance"),
		tcpostgres.WithPassword("allowance"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, connStr, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migration must be repeatable")

	return NewPostgresStore(db), db
}

func seedFamily(t *testing.T, s *PostgresStore, balance int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, models.Account{ID: "parent", Kind: models.KindParent, Email: "p@example.com", Active: true}))
	require.NoError(t, s.CreateAccount(ctx, models.Account{
		ID:            "child",
		Kind:          models.KindChild,
		Email:         "c@example.com",
		OwnerID:       "parent",
		Active:        true,
		Balance:       decimal.NewFromInt(balance),
		SpendingLimit: decimal.NewFromInt(100),
	}))
}

func TestPostgresAccounts(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestDB(t)
	seedFamily(t, s, 0)

	err := s.CreateAccount(ctx, models.Account{ID: "dup", Kind: models.KindParent, Email: "P@example.com"})
	assert.ErrorIs(t, err, models.ErrDuplicate)

	err = s.CreateAccount(ctx, models.Account{ID: "orphan", Kind: models.KindChild, Email: "o@example.com", OwnerID: "nobody"})
	assert.ErrorIs(t, err, models.ErrInvalidOwner)

	child, err := s.GetAccountByEmail(ctx, "C@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "parent", child.OwnerID)

	children, err := s.ListChildren(ctx, "parent")
	require.NoError(t, err)
	assert.Len(t, children, 1)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	updated, err := s.SetSpendingLimit(ctx, "child", decimal.RequireFromString("12.50"))
	require.NoError(t, err)
	assert.True(t, updated.SpendingLimit.Equal(decimal.RequireFromString("12.5")))
}

func TestPostgresApplyDeltaCAS(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestDB(t)
	seedFamily(t, s, 50)

	updated, err := s.ApplyDelta(ctx, "child", decimal.NewFromInt(-20), decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(30)))

	_, err = s.ApplyDelta(ctx, "child", decimal.NewFromInt(-20), decimal.NewFromInt(50))
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = s.ApplyDelta(ctx, "child", decimal.NewFromInt(-31), decimal.NewFromInt(30))
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	_, err = s.ApplyDelta(ctx, "ghost", decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// NUMERIC(18,2) overflow is a bad amount, not a transient failure
	_, err = s.ApplyDelta(ctx, "child", models.MaxAmount, decimal.NewFromInt(30))
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestPostgresConcurrentCAS(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestDB(t)
	seedFamily(t, s, 50)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyDelta(ctx, "child", decimal.NewFromInt(-40), decimal.NewFromInt(50))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	got, err := s.GetAccount(ctx, "child")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))
}

func TestPostgresLedgerIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s, db := setupTestDB(t)
	seedFamily(t, s, 0)

	entry := models.LedgerEntry{
		ID:            "01J0000000000000000000000A",
		AccountID:     "child",
		Seq:           1,
		Kind:          models.EntryCredit,
		Status:        models.StatusCompleted,
		Amount:        decimal.NewFromInt(25),
		BalanceBefore: decimal.Zero,
		BalanceAfter:  decimal.NewFromInt(25),
		CreatedAt:     time.Now().UTC(),
	}
	err := s.WithinTx(ctx, func(tx interfaces.TxStore) error {
		if _, err := tx.ApplyDelta(ctx, "child", entry.Amount, decimal.Zero); err != nil {
			return err
		}
		_, err := tx.Append(ctx, entry)
		return err
	})
	require.NoError(t, err)

	entries, err := s.ListForAccount(ctx, "child", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].BalanceAfter.Equal(decimal.NewFromInt(25)))

	_, err = s.Append(ctx, entry)
	assert.ErrorIs(t, err, models.ErrDuplicate)

	_, err = db.ExecContext(ctx, `UPDATE ledger_entries SET amount = 1`)
	assert.Error(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM ledger_entries`)
	assert.Error(t, err)
}

func TestPostgresWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestDB(t)
	seedFamily(t, s, 10)

	err := s.WithinTx(ctx, func(tx interfaces.TxStore) error {
		if _, err := tx.ApplyDelta(ctx, "child", decimal.NewFromInt(5), decimal.NewFromInt(10)); err != nil {
			return err
		}
		// account does not exist, so the whole unit must roll back
		_, err := tx.Append(ctx, models.LedgerEntry{
			ID: "01J0000000000000000000000B", AccountID: "ghost", Seq: 1, Kind: models.EntryCredit,
			Status: models.StatusCompleted, Amount: decimal.NewFromInt(5), CreatedAt: time.Now(),
		})
		return err
	})
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := s.GetAccount(ctx, "child")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))
}

func TestPostgresUpdateProfile(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestDB(t)
	seedFamily(t, s, 0)

	updated, err := s.UpdateProfile(ctx, "child", "Sam", "sam@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Sam", updated.Name)
	assert.Equal(t, "sam@example.com", updated.Email)

	parent, err := s.GetAccount(ctx, "parent")
	require.NoError(t, err)
	_, err = s.UpdateProfile(ctx, "child", "Sam", parent.Email)
	assert.ErrorIs(t, err, models.ErrDuplicate)

	_, err = s.UpdateProfile(ctx, "ghost", "x", "x@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
