package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is an immutable ledger entry recording one transfer.
// ID is assigned by the store at append time and grows monotonically.
// CreatedAt is the commit time of the append, not the request time.
type Transaction struct {
	ID            int64           `json:"id"`
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"timestamp"`
	Settled       bool            `json:"settled"`
}
