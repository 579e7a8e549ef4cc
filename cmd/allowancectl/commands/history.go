package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/sheikh-saqib/allowance-ledger/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var pageSize int

// historyCmd streams an account's ledger
var historyCmd = &cobra.Command{
	Use:   "history <account-id>",
	Short: "Print an account's ledger",
	Long: `Print every ledger entry for an account in the order it was written.
Entries are fetched a page at a time, so long histories are not held in memory.

Examples:
  allowancectl history 3f1c...               # Table output
  allowancectl history 3f1c... --json        # One JSON object per line
  allowancectl history 3f1c... --page-size 500`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		l := ledger.NewLedger(postgres.NewPostgresStore(db))
		return runHistory(cmd.Context(), cmd.OutOrStdout(), l, args[0], pageSize, jsonOutput)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&pageSize, "page-size", ledger.MaxPageSize, "Entries fetched per round trip")
}

func runHistory(ctx context.Context, out io.Writer, l *ledger.Ledger, accountID string, size int, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for entry, err := range l.Entries(ctx, accountID, size) {
			if err != nil {
				return err
			}
			if err := enc.Encode(entry); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tKIND\tSTATUS\tAMOUNT\tBEFORE\tAFTER\tDESCRIPTION")

	count := 0
	for entry, err := range l.Entries(ctx, accountID, size) {
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.Seq,
			entry.CreatedAt.Format(time.RFC3339),
			entry.Kind,
			entry.Status,
			entry.Amount.StringFixed(2),
			entry.BalanceBefore.StringFixed(2),
			entry.BalanceAfter.StringFixed(2),
			entry.Description,
		)
		count++
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "%d entries\n", count)
	return nil
}
