package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, kind, name, email, password_hash, balance, version, spending_limit, active, owner_id, created_at, updated_at`

const entryColumns = `id, account_id, seq, kind, status, amount, balance_before, balance_after, description, created_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

func (p *PostgresStore) CreateAccount(ctx context.Context, account models.Account) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if account.IsChild() {
		var kind string
		err = dbTx.QueryRowContext(ctx, `SELECT kind FROM accounts WHERE id = $1 FOR SHARE`, account.OwnerID).Scan(&kind)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && kind != string(models.KindParent)) {
			err = models.ErrInvalidOwner
			return err
		}
		if err != nil {
			return err
		}
	}

	const query = `INSERT INTO accounts (id, kind, name, email, password_hash, balance, spending_limit, active, owner_id)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = dbTx.ExecContext(ctx, query,
		account.ID,
		account.Kind,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Balance,
		account.SpendingLimit,
		account.Active,
		sql.NullString{String: account.OwnerID, Valid: account.OwnerID != ""},
	)
	if err != nil {
		err = translate(err)
		return err
	}

	return dbTx.Commit()
}

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (models.Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	return account, err
}

func (p *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("email %s: %w", email, models.ErrNotFound)
	}
	return account, err
}

func (p *PostgresStore) ListChildren(ctx context.Context, parentID string) ([]models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts
	WHERE owner_id = $1 AND kind = 'child' ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var children []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return children, nil
}

func (p *PostgresStore) ApplyDelta(ctx context.Context, id string, delta, expectedBalance decimal.Decimal) (models.Account, error) {
	return applyDelta(ctx, p.db, id, delta, expectedBalance)
}

func (p *PostgresStore) SetSpendingLimit(ctx context.Context, id string, limit decimal.Decimal) (models.Account, error) {
	const query = `UPDATE accounts SET spending_limit = $1, updated_at = now() WHERE id = $2 RETURNING ` + accountColumns
	return p.updateOne(ctx, id, query, limit, id)
}

func (p *PostgresStore) SetActive(ctx context.Context, id string, active bool) (models.Account, error) {
	const query = `UPDATE accounts SET active = $1, updated_at = now() WHERE id = $2 RETURNING ` + accountColumns
	return p.updateOne(ctx, id, query, active, id)
}

func (p *PostgresStore) UpdateProfile(ctx context.Context, id, name, email string) (models.Account, error) {
	const query = `UPDATE accounts SET name = $1, email = $2, updated_at = now() WHERE id = $3 RETURNING ` + accountColumns
	return p.updateOne(ctx, id, query, name, email, id)
}

func (p *PostgresStore) updateOne(ctx context.Context, id, query string, args ...any) (models.Account, error) {
	account, err := scanAccount(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Account{}, translate(err)
	}
	return account, nil
}

func (p *PostgresStore) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	return appendEntry(ctx, p.db, entry)
}

func (p *PostgresStore) ListForAccount(ctx context.Context, accountID string, afterSeq int64, limit int) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE account_id = $1 AND seq > $2 ORDER BY seq`
	args := []any{accountID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&entry.Seq,
			&entry.Kind,
			&entry.Status,
			&entry.Amount,
			&entry.BalanceBefore,
			&entry.BalanceAfter,
			&entry.Description,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// WithinTx runs fn inside a database transaction, committing only if fn succeeds.
func (p *PostgresStore) WithinTx(ctx context.Context, fn func(tx interfaces.TxStore) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = fn(&postgresTx{tx: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) ApplyDelta(ctx context.Context, id string, delta, expectedBalance decimal.Decimal) (models.Account, error) {
	return applyDelta(ctx, t.tx, id, delta, expectedBalance)
}

func (t *postgresTx) Append(ctx context.Context, entry models.LedgerEntry) (models.LedgerEntry, error) {
	return appendEntry(ctx, t.tx, entry)
}

// applyDelta is the compare-and-swap. A concurrent writer holding the row makes
// this statement wait and then re-check the predicate against the new balance.
func applyDelta(ctx context.Context, q querier, id string, delta, expectedBalance decimal.Decimal) (models.Account, error) {
	const query = `UPDATE accounts SET balance = balance + $1, version = version + 1, updated_at = now()
	WHERE id = $2 AND balance = $3
	RETURNING ` + accountColumns

	account, err := scanAccount(q.QueryRowContext(ctx, query, delta, id, expectedBalance))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, translate(err)
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Account{}, err
	}
	return models.Account{}, fmt.Errorf("account %s: %w", id, models.ErrConflict)
}

func appendEntry(ctx context.Context, q querier, entry models.LedgerEntry) (models.LedgerEntry, error) {
	const query = `INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := q.ExecContext(ctx, query,
		entry.ID,
		entry.AccountID,
		entry.Seq,
		entry.Kind,
		entry.Status,
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.Description,
		entry.CreatedAt,
	)
	if err != nil {
		return models.LedgerEntry{}, translate(err)
	}
	return entry, nil
}

func scanAccount(row scanner) (models.Account, error) {
	var (
		account models.Account
		owner   sql.NullString
	)
	err := row.Scan(
		&account.ID,
		&account.Kind,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.Balance,
		&account.Version,
		&account.SpendingLimit,
		&account.Active,
		&owner,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return models.Account{}, err
	}
	account.OwnerID = owner.String
	return account, nil
}

// translate maps postgres error codes onto the domain sentinels.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%s: %w", pqErr.Constraint, models.ErrDuplicate)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%s: %w", pqErr.Constraint, models.ErrNotFound)
	case "22003": // numeric_value_out_of_range
		return fmt.Errorf("%s: %w", pqErr.Message, models.ErrInvalidAmount)
	case "23514": // check_violation
		if pqErr.Constraint == "accounts_balance_check" {
			return models.ErrInsufficientFunds
		}
		return fmt.Errorf("%s: %w", pqErr.Constraint, models.ErrInvalidAmount)
	}
	return err
}

var _ interfaces.Store = (*PostgresStore)(nil)
