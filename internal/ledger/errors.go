package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAccountID    = errors.New("ledger: account id is required")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrIdenticalAccount    = errors.New("ledger: sender and recipient account are the same")
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrInsufficientFunds   = errors.New("ledger: insufficient funds")
	ErrConcurrencyConflict = errors.New("ledger: concurrency conflict")
)

// Side names the leg of a transfer an error refers to.
type Side string

const (
	SideFrom Side = "from"
	SideTo   Side = "to"
)

// AccountNotFoundError tells which account of a transfer is missing.
type AccountNotFoundError struct {
	Side      Side
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	if e.Side == SideFrom {
		return fmt.Sprintf("sender account not found: %s", e.AccountID)
	}
	return fmt.Sprintf("recipient account not found: %s", e.AccountID)
}

func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound
}

// IsValidationError reports caller mistakes caught before any storage access.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingAccountID) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrIdenticalAccount)
}

// IsDomainError reports legitimate business outcomes of a transfer attempt.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInsufficientFunds)
}

// IsBusinessError reports errors that must never be retried nor counted as
// dependency failures.
func IsBusinessError(err error) bool {
	return IsValidationError(err) || IsDomainError(err)
}

// CommitUnconfirmedError is returned when a balance write failed in a way
// that may have committed and its outcome could not be read back before the
// commit deadline. The transaction must be looked up, not re-applied.
type CommitUnconfirmedError struct {
	TransactionID int64
	Err           error
}

func (e *CommitUnconfirmedError) Error() string {
	return fmt.Sprintf("balance write for transaction %d unconfirmed: %v", e.TransactionID, e.Err)
}

func (e *CommitUnconfirmedError) Unwrap() error {
	return e.Err
}
