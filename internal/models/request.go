package models

import "github.com/shopspring/decimal"

// TransferRequest asks for Amount to move from FromAccountID to ToAccountID.
type TransferRequest struct {
	FromAccountID string          `json:"fromAcct"`
	ToAccountID   string          `json:"toAcct"`
	Amount        decimal.Decimal `json:"amount"`
}
