package resilience

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// Fallback turns exhausted retries, breaker rejections and unconfirmed
// writes into a degraded outcome. Every other error, business ones
// included, passes through.
func Fallback(logger *zap.Logger) Decorator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next Func) Func {
		return func(ctx context.Context, req models.TransferRequest) (models.TransferOutcome, error) {
			out, err := next(ctx, req)
			switch {
			case err == nil:
				return out, nil
			case errors.Is(err, ErrCircuitOpen):
				logger.Info("circuit breaker fallback triggered", zap.Error(err))
				return models.Degraded(req.FromAccountID, req.ToAccountID, models.ReasonCircuitOpen), nil
			case errors.Is(err, ErrRetriesExhausted):
				logger.Info("retry fallback triggered", zap.Error(err))
				return models.Degraded(req.FromAccountID, req.ToAccountID, models.ReasonRetriesExhausted), nil
			}

			var unconfirmed *ledger.CommitUnconfirmedError
			if errors.As(err, &unconfirmed) {
				logger.Warn("unconfirmed write fallback triggered",
					zap.Int64("transaction_id", unconfirmed.TransactionID),
					zap.Error(err),
				)
				return models.Unconfirmed(req.FromAccountID, req.ToAccountID, unconfirmed.TransactionID), nil
			}
			return out, err
		}
	}
}
