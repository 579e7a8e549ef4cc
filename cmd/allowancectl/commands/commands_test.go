package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sheikh-saqib/allowance-ledger/internal/engine"
	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/sheikh-saqib/allowance-ledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) (*memory.MemoryStore, *ledger.Ledger, *engine.Engine) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.CreateAccount(ctx, models.Account{
		ID: "parent", Kind: models.KindParent, Email: "p@example.com", Active: true, CreatedAt: now,
	}))
	require.NoError(t, store.CreateAccount(ctx, models.Account{
		ID: "child", Kind: models.KindChild, Email: "c@example.com", OwnerID: "parent",
		Active: true, SpendingLimit: decimal.NewFromInt(20), CreatedAt: now,
	}))

	l := ledger.NewLedger(store)
	eng := engine.New(store, l)

	_, _, err := eng.Fund(ctx, "child", decimal.NewFromInt(50), "weekly")
	require.NoError(t, err)
	_, _, err = eng.Purchase(ctx, "child", decimal.NewFromInt(15), "book")
	require.NoError(t, err)
	_, _, err = eng.Purchase(ctx, "child", decimal.NewFromInt(25), "game")
	require.Error(t, err)

	return store, l, eng
}

func TestRunReconcile(t *testing.T) {
	store, _, eng := seed(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runReconcile(ctx, &out, eng, "child", false))
	assert.Contains(t, out.String(), "35.00")
	assert.Contains(t, out.String(), "2 completed, 1 declined")

	// a balance change with no ledger entry
	_, err := store.ApplyDelta(ctx, "child", decimal.NewFromInt(5), decimal.NewFromInt(35))
	require.NoError(t, err)

	out.Reset()
	err = runReconcile(ctx, &out, eng, "child", true)
	assert.ErrorIs(t, err, ErrInconsistent)

	var rec engine.Reconciliation
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.False(t, rec.Consistent)
	assert.True(t, rec.StoredBalance.Equal(decimal.NewFromInt(40)))
}

func TestRunReconcileUnknownAccount(t *testing.T) {
	_, _, eng := seed(t)
	err := runReconcile(context.Background(), &bytes.Buffer{}, eng, "nope", false)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunHistory(t *testing.T) {
	_, l, _ := seed(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runHistory(ctx, &out, l, "child", 1, false))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "SEQ")
	assert.Contains(t, lines[1], "weekly")
	assert.Contains(t, lines[3], "declined")
	assert.Equal(t, "3 entries", lines[4])

	out.Reset()
	require.NoError(t, runHistory(ctx, &out, l, "child", 2, true))
	dec := json.NewDecoder(&out)
	var seqs []int64
	for dec.More() {
		var entry models.LedgerEntry
		require.NoError(t, dec.Decode(&entry))
		seqs = append(seqs, entry.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestRunReconcileBrokenLedger(t *testing.T) {
	store, l, eng := seed(t)
	ctx := context.Background()

	// version 4 with an entry whose starting balance is wrong
	_, err := store.ApplyDelta(ctx, "child", decimal.NewFromInt(1), decimal.NewFromInt(35))
	require.NoError(t, err)
	_, err = store.Append(ctx, l.NewEntry(ledger.Draft{
		AccountID: "child", Seq: 4, Kind: models.EntryCredit, Status: models.StatusCompleted,
		Amount: decimal.NewFromInt(1), BalanceBefore: decimal.NewFromInt(7), BalanceAfter: decimal.NewFromInt(8),
	}))
	require.NoError(t, err)

	var out bytes.Buffer
	err = runReconcile(ctx, &out, eng, "child", false)
	assert.ErrorIs(t, err, ErrInconsistent)
	assert.Contains(t, out.String(), "PROBLEM")
}
