package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sheikh-saqib/allowance-ledger/internal/engine"
	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/sheikh-saqib/allowance-ledger/internal/storage/postgres"
	"github.com/spf13/cobra"
)

// ErrInconsistent makes the command exit non-zero when the stored balance and
// the ledger disagree.
var ErrInconsistent = errors.New("balance does not match ledger")

// reconcileCmd compares stored and replayed balances
var reconcileCmd = &cobra.Command{
	Use:   "reconcile <account-id>",
	Short: "Compare an account's balance with its ledger",
	Long: `Replay the account's ledger from zero and compare the result with
the stored balance. Exits non-zero on a mismatch.

Examples:
  allowancectl reconcile 3f1c...        # Human readable report
  allowancectl reconcile 3f1c... --json # Machine readable report`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		store := postgres.NewPostgresStore(db)
		eng := engine.New(store, ledger.NewLedger(store), engine.WithLogger(cliLogger()))
		return runReconcile(cmd.Context(), cmd.OutOrStdout(), eng, args[0], jsonOutput)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(ctx context.Context, out io.Writer, eng *engine.Engine, accountID string, asJSON bool) error {
	rec, err := eng.Reconcile(ctx, accountID)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ACCOUNT\t%s\n", rec.AccountID)
		fmt.Fprintf(w, "STORED\t%s\n", rec.StoredBalance.StringFixed(2))
		fmt.Fprintf(w, "LEDGER\t%s\n", rec.LedgerBalance.StringFixed(2))
		fmt.Fprintf(w, "VERSION\t%d\n", rec.Version)
		fmt.Fprintf(w, "ENTRIES\t%d completed, %d declined\n", rec.Completed, rec.Declined)
		fmt.Fprintf(w, "CONSISTENT\t%t\n", rec.Consistent)
		if rec.Problem != "" {
			fmt.Fprintf(w, "PROBLEM\t%s\n", rec.Problem)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if !rec.Consistent {
		return fmt.Errorf("account %s: %w", accountID, ErrInconsistent)
	}
	return nil
}
