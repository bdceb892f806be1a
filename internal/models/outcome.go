package models

import "github.com/shopspring/decimal"

// OutcomeStatus tags a TransferOutcome.
type OutcomeStatus string

const (
	OutcomeCommitted OutcomeStatus = "COMMITTED"
	OutcomeDegraded  OutcomeStatus = "DEGRADED"
)

// DegradedReason says which fallback produced a degraded outcome.
type DegradedReason string

const (
	ReasonNone              DegradedReason = ""
	ReasonRetriesExhausted  DegradedReason = "RETRIES_EXHAUSTED"
	ReasonCircuitOpen       DegradedReason = "CIRCUIT_OPEN"
	ReasonCommitUnconfirmed DegradedReason = "COMMIT_UNCONFIRMED"
)

// TransferOutcome is what the engine hands back for a transfer request.
// A degraded outcome carries a zero-amount transaction with the requested
// accounts filled in. For every reason except ReasonCommitUnconfirmed no
// funds moved and nothing was settled.
type TransferOutcome struct {
	Transaction Transaction    `json:"transaction"`
	Status      OutcomeStatus  `json:"status"`
	Reason      DegradedReason `json:"reason,omitempty"`
}

// Committed wraps a settled transaction.
func Committed(tx Transaction) TransferOutcome {
	return TransferOutcome{Transaction: tx, Status: OutcomeCommitted}
}

// Degraded builds the fallback outcome for a request that did not commit.
func Degraded(fromAccountID, toAccountID string, reason DegradedReason) TransferOutcome {
	return TransferOutcome{
		Transaction: Transaction{
			FromAccountID: fromAccountID,
			ToAccountID:   toAccountID,
			Amount:        decimal.Zero,
		},
		Status: OutcomeDegraded,
		Reason: reason,
	}
}

// Unconfirmed builds the outcome for a transaction whose balance write could
// not be confirmed. Its settlement is read back with the transaction id.
func Unconfirmed(fromAccountID, toAccountID string, transactionID int64) TransferOutcome {
	out := Degraded(fromAccountID, toAccountID, ReasonCommitUnconfirmed)
	out.Transaction.ID = transactionID
	return out
}

// IsDegraded reports whether the outcome is a fallback value.
func (o TransferOutcome) IsDegraded() bool {
	return o.Status == OutcomeDegraded
}
