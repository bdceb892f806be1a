package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

var (
	// ErrNotFound is returned when an account or transaction does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned when a conditional write carries a stale version.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrAlreadySettled is returned when a transaction's balance effect was already applied.
	ErrAlreadySettled = errors.New("store: transaction already settled")
)

// LedgerStore is the storage boundary of the transfer engine.
// Implementations must make ConditionalUpdate linearizable per account.
type LedgerStore interface {
	ReadAccount(ctx context.Context, id string) (models.Account, error)
	// ConditionalUpdate applies every update or none. Each update is checked
	// against its expected version; on success every touched version is
	// bumped and transactionID is marked settled in the same step.
	ConditionalUpdate(ctx context.Context, transactionID int64, updates ...models.BalanceUpdate) error
	AppendTransaction(ctx context.Context, fromID, toID string, amount decimal.Decimal, at time.Time) (models.Transaction, error)
	ReadTransaction(ctx context.Context, id int64) (models.Transaction, error)
}

// Reconcilable stores can list ledger entries that never got a balance effect.
type Reconcilable interface {
	UnsettledTransactions(ctx context.Context, appendedBefore time.Time) ([]models.Transaction, error)
}

// AccountSeeder creates an account with an opening balance if it does not exist yet.
type AccountSeeder interface {
	EnsureAccount(ctx context.Context, id string, balance decimal.Decimal) error
}
