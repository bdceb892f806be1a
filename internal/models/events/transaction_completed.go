package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// TransactionCompleted is emitted once per committed transfer.
// EventID lets consumers drop duplicates under at-least-once delivery.
type TransactionCompleted struct {
	EventID       string          `json:"event_id"`
	TransactionID int64           `json:"transaction_id"`
	FromAccount   string          `json:"from_account"`
	ToAccount     string          `json:"to_account"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewTransactionCompleted builds the notification for a settled transaction.
func NewTransactionCompleted(tx models.Transaction) TransactionCompleted {
	return TransactionCompleted{
		EventID:       uuid.New().String(),
		TransactionID: tx.ID,
		FromAccount:   tx.FromAccountID,
		ToAccount:     tx.ToAccountID,
		Amount:        tx.Amount,
		OccurredAt:    tx.CreatedAt,
	}
}

// Key is the partition/routing key for the event.
func (e TransactionCompleted) Key() string {
	return e.FromAccount
}

// ID is the message id used for deduplication.
func (e TransactionCompleted) ID() string {
	return e.EventID
}
