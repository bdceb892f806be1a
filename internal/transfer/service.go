package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
	"github.com/sheikh-saqib/transfer-engine/internal/models/events"
	"github.com/sheikh-saqib/transfer-engine/internal/resilience"
)

// ErrTransactionNotFound is returned by GetTransaction for unknown ids.
var ErrTransactionNotFound = errors.New("transfer: transaction not found")

// Mutator applies one transfer to the ledger.
type Mutator interface {
	Apply(ctx context.Context, fromID, toID string, amount decimal.Decimal) (models.Transaction, error)
}

// Config holds the policies of the transfer engine.
type Config struct {
	Retry          resilience.RetryPolicy
	Breaker        resilience.BreakerSettings
	Topic          string
	PublishTimeout time.Duration
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Retry:          resilience.DefaultRetryPolicy(),
		Breaker:        resilience.DefaultBreakerSettings(),
		Topic:          "payments",
		PublishTimeout: 3 * time.Second,
	}
}

// Service is the entry point for moving funds and reading the ledger.
type Service struct {
	store          interfaces.LedgerStore
	publisher      interfaces.EventPublisher
	breaker        *resilience.Breaker
	transfer       resilience.Func
	topic          string
	publishTimeout time.Duration
	logger         *zap.Logger
}

// NewService wires the mutator behind retry, breaker and fallback.
func NewService(
	store interfaces.LedgerStore,
	mutator Mutator,
	publisher interfaces.EventPublisher,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultConfig().Topic
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}

	apply := func(ctx context.Context, req models.TransferRequest) (models.TransferOutcome, error) {
		tx, err := mutator.Apply(ctx, req.FromAccountID, req.ToAccountID, req.Amount)
		if err != nil {
			return models.TransferOutcome{}, err
		}
		return models.Committed(tx), nil
	}

	breaker := resilience.NewBreaker(cfg.Breaker, logger)

	return &Service{
		store:     store,
		publisher: publisher,
		breaker:   breaker,
		transfer: resilience.Chain(apply,
			resilience.Retry(cfg.Retry, logger),
			breaker.Decorate,
			resilience.Fallback(logger),
		),
		topic:          cfg.Topic,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger,
	}
}

// Transfer moves amount from fromID to toID.
//
// Validation and domain failures come back as errors. Infrastructure
// failures never do: once retries run out, or while the breaker is open,
// the result is a degraded outcome with a zero amount. A circuit-open or
// retries-exhausted outcome moved nothing. A COMMIT_UNCONFIRMED outcome
// carries the id of the appended entry whose balance write could not be
// confirmed; reconciliation settles it later.
// A notification is published only for committed transfers.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) (models.TransferOutcome, error) {
	req := models.TransferRequest{
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
	}

	if err := validate(req); err != nil {
		s.logger.Warn("transfer rejected",
			zap.String("from", req.FromAccountID),
			zap.String("to", req.ToAccountID),
			zap.Error(err),
		)
		return models.TransferOutcome{}, err
	}

	s.logger.Info("starting to process transfer",
		zap.String("from", req.FromAccountID),
		zap.String("to", req.ToAccountID),
		zap.String("amount", req.Amount.String()),
	)

	out, err := s.transfer(ctx, req)
	if err != nil {
		return models.TransferOutcome{}, err
	}

	if out.IsDegraded() {
		s.logger.Warn("transfer degraded",
			zap.String("from", req.FromAccountID),
			zap.String("to", req.ToAccountID),
			zap.String("reason", string(out.Reason)),
			zap.Int64("transaction_id", out.Transaction.ID),
		)
		return out, nil
	}

	s.notify(ctx, out.Transaction)

	s.logger.Info("transfer completed",
		zap.Int64("transaction_id", out.Transaction.ID),
		zap.String("from", req.FromAccountID),
		zap.String("to", req.ToAccountID),
	)
	return out, nil
}

func validate(req models.TransferRequest) error {
	if strings.TrimSpace(req.FromAccountID) == "" || strings.TrimSpace(req.ToAccountID) == "" {
		return ledger.ErrMissingAccountID
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ledger.ErrInvalidAmount, req.Amount)
	}
	if req.FromAccountID == req.ToAccountID {
		return fmt.Errorf("%w: %s", ledger.ErrIdenticalAccount, req.FromAccountID)
	}
	return nil
}

// notify publishes the completion event. It is fire-and-forget: failures are
// logged and the committed transfer stands.
func (s *Service) notify(ctx context.Context, tx models.Transaction) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	event := events.NewTransactionCompleted(tx)
	if err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		s.logger.Error("failed to publish transaction event",
			zap.Int64("transaction_id", tx.ID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("published transaction event",
		zap.Int64("transaction_id", tx.ID),
		zap.String("topic", s.topic),
	)
}

// GetTransaction reads a ledger entry.
func (s *Service) GetTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	tx, err := s.store.ReadTransaction(ctx, id)
	if errors.Is(err, interfaces.ErrNotFound) {
		return models.Transaction{}, fmt.Errorf("%w: %d", ErrTransactionNotFound, id)
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("read transaction %d: %w", id, err)
	}
	return tx, nil
}

// GetBalance reads the current balance of an account.
func (s *Service) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acc, err := s.store.ReadAccount(ctx, accountID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read account %s: %w", accountID, err)
	}
	return acc.Balance, nil
}

// BreakerState reports the circuit breaker state for health checks.
func (s *Service) BreakerState() resilience.State {
	return s.breaker.State()
}
