package models

import (
	"github.com/shopspring/decimal"
)

// Account is a balance holder identified by an opaque string id.
// Version is the optimistic concurrency token: it grows by one on every
// successful balance write and a write carrying a stale Version is rejected.
type Account struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Version int64           `json:"version"`
}

// BalanceUpdate is one leg of a conditional write: set AccountID's balance to
// NewBalance only if its version is still ExpectedVersion.
type BalanceUpdate struct {
	AccountID       string
	NewBalance      decimal.Decimal
	ExpectedVersion int64
}

// Debit builds the update that takes amount out of the account.
func (a Account) Debit(amount decimal.Decimal) BalanceUpdate {
	return BalanceUpdate{
		AccountID:       a.ID,
		NewBalance:      a.Balance.Sub(amount),
		ExpectedVersion: a.Version,
	}
}

// Credit builds the update that adds amount to the account.
func (a Account) Credit(amount decimal.Decimal) BalanceUpdate {
	return BalanceUpdate{
		AccountID:       a.ID,
		NewBalance:      a.Balance.Add(amount),
		ExpectedVersion: a.Version,
	}
}
