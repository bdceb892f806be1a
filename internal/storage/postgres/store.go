package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// Schema creates the tables the store needs. Balances use unconstrained
// NUMERIC so no precision is lost.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id      TEXT PRIMARY KEY,
	balance NUMERIC NOT NULL CHECK (balance >= 0),
	version BIGINT  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transactions (
	id           BIGSERIAL PRIMARY KEY,
	from_account TEXT        NOT NULL,
	to_account   TEXT        NOT NULL,
	amount       NUMERIC     NOT NULL CHECK (amount > 0),
	created_at   TIMESTAMPTZ NOT NULL,
	CHECK (from_account <> to_account)
);

CREATE TABLE IF NOT EXISTS settlements (
	transaction_id BIGINT PRIMARY KEY REFERENCES transactions (id),
	settled_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres error codes that mean "lost a race, try again".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Migrate creates the schema if it does not exist.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (p *PostgresLedgerStore) EnsureAccount(ctx context.Context, id string, balance decimal.Decimal) error {
	const query = `INSERT INTO accounts (id, balance, version) VALUES ($1, $2, 0)
	ON CONFLICT (id) DO NOTHING`

	if _, err := p.db.ExecContext(ctx, query, id, balance); err != nil {
		return fmt.Errorf("failed to seed account %s: %w", id, err)
	}
	return nil
}

func (p *PostgresLedgerStore) ReadAccount(ctx context.Context, id string) (models.Account, error) {
	const query = `SELECT id, balance, version FROM accounts WHERE id = $1`

	var acc models.Account
	err := p.db.QueryRowContext(ctx, query, id).Scan(&acc.ID, &acc.Balance, &acc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, interfaces.ErrNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	return acc, nil
}

// ConditionalUpdate runs the settlement marker and every version-checked
// UPDATE in one SQL transaction. Rows are touched in id order so concurrent
// transfers over the same pair take row locks in the same order.
func (p *PostgresLedgerStore) ConditionalUpdate(ctx context.Context, transactionID int64, updates ...models.BalanceUpdate) (err error) {
	sorted := make([]models.BalanceUpdate, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	const settle = `INSERT INTO settlements (transaction_id) VALUES ($1)
	ON CONFLICT (transaction_id) DO NOTHING`

	res, err := dbTx.ExecContext(ctx, settle, transactionID)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = interfaces.ErrAlreadySettled
		return err
	}

	const update = `UPDATE accounts SET balance = $1, version = version + 1
	WHERE id = $2 AND version = $3`

	for _, u := range sorted {
		res, err = dbTx.ExecContext(ctx, update, u.NewBalance, u.AccountID, u.ExpectedVersion)
		if err != nil {
			return classify(err)
		}
		n, rerr := res.RowsAffected()
		if rerr != nil {
			err = fmt.Errorf("failed to read affected rows: %w", rerr)
			return err
		}
		if n == 0 {
			err = interfaces.ErrVersionConflict
			return err
		}
	}

	if err = dbTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (p *PostgresLedgerStore) AppendTransaction(ctx context.Context, fromID, toID string, amount decimal.Decimal, at time.Time) (models.Transaction, error) {
	const query = `INSERT INTO transactions (from_account, to_account, amount, created_at)
	VALUES ($1, $2, $3, $4) RETURNING id`

	tx := models.Transaction{
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		CreatedAt:     at,
	}
	if err := p.db.QueryRowContext(ctx, query, fromID, toID, amount, at).Scan(&tx.ID); err != nil {
		return models.Transaction{}, fmt.Errorf("failed to append transaction: %w", err)
	}
	return tx, nil
}

func (p *PostgresLedgerStore) ReadTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	const query = `SELECT t.id, t.from_account, t.to_account, t.amount, t.created_at, s.transaction_id IS NOT NULL
	FROM transactions t LEFT JOIN settlements s ON s.transaction_id = t.id
	WHERE t.id = $1`

	var tx models.Transaction
	err := p.db.QueryRowContext(ctx, query, id).
		Scan(&tx.ID, &tx.FromAccountID, &tx.ToAccountID, &tx.Amount, &tx.CreatedAt, &tx.Settled)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, interfaces.ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to read transaction: %w", err)
	}
	return tx, nil
}

func (p *PostgresLedgerStore) UnsettledTransactions(ctx context.Context, appendedBefore time.Time) ([]models.Transaction, error) {
	const query = `SELECT t.id, t.from_account, t.to_account, t.amount, t.created_at
	FROM transactions t LEFT JOIN settlements s ON s.transaction_id = t.id
	WHERE s.transaction_id IS NULL AND t.created_at < $1
	ORDER BY t.id`

	rows, err := p.db.QueryContext(ctx, query, appendedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled transactions: %w", err)
	}

	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.FromAccountID, &tx.ToAccountID, &tx.Amount, &tx.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// classify maps lost races reported by Postgres onto ErrVersionConflict.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", interfaces.ErrVersionConflict, pqErr.Message)
		}
	}
	return fmt.Errorf("failed to update balances: %w", err)
}

var (
	_ interfaces.LedgerStore   = (*PostgresLedgerStore)(nil)
	_ interfaces.Reconcilable  = (*PostgresLedgerStore)(nil)
	_ interfaces.AccountSeeder = (*PostgresLedgerStore)(nil)
)
