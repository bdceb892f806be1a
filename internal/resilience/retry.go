package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/transfer-engine/internal/backoff"
	"github.com/sheikh-saqib/transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// RetryPolicy bounds the retry of transient failures.
type RetryPolicy struct {
	// MaxAttempts counts the first call.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// AttemptTimeout is the deadline of each attempt; a breach is retried
	// like any other infrastructure error. Zero means no per-attempt deadline.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is five attempts five seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		Delay:          5 * time.Second,
		AttemptTimeout: 2 * time.Second,
	}
}

// Retryable reports whether err is worth another attempt. Business outcomes
// never are, nor is a write whose outcome is unknown: a new attempt would
// append a second entry for the same transfer.
func Retryable(err error) bool {
	var unconfirmed *ledger.CommitUnconfirmedError
	return err != nil && !ledger.IsBusinessError(err) && !errors.As(err, &unconfirmed)
}

// Retry re-runs the operation on transient failures. Business errors pass
// through untouched and without consuming an attempt; when every attempt
// fails the returned error wraps ErrRetriesExhausted and the last failure.
func Retry(policy RetryPolicy, logger *zap.Logger) Decorator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next Func) Func {
		return func(ctx context.Context, req models.TransferRequest) (models.TransferOutcome, error) {
			log := logger.With(
				zap.String("from", req.FromAccountID),
				zap.String("to", req.ToAccountID),
				zap.String("amount", req.Amount.String()),
			)
			log.Debug("transfer is about to start")

			var lastErr error
			for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
				out, err := runAttempt(ctx, policy.AttemptTimeout, next, req)
				if err == nil {
					log.Info("transfer concluded successfully", zap.Int("attempt", attempt))
					return out, nil
				}
				if !Retryable(err) {
					return out, err
				}
				if ctx.Err() != nil {
					return models.TransferOutcome{}, fmt.Errorf("%w: %w", ErrAbandoned, err)
				}

				lastErr = err
				log.Error("transfer attempt failed", zap.Int("attempt", attempt), zap.Error(err))

				if attempt < policy.MaxAttempts {
					if err := backoff.SleepWithContext(ctx, policy.Delay); err != nil {
						return models.TransferOutcome{}, fmt.Errorf("%w: %w", ErrAbandoned, err)
					}
				}
			}

			log.Error("transfer retries exhausted",
				zap.Int("attempts", policy.MaxAttempts),
				zap.Error(lastErr),
			)
			return models.TransferOutcome{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, policy.MaxAttempts, lastErr)
		}
	}
}

func runAttempt(ctx context.Context, timeout time.Duration, next Func, req models.TransferRequest) (models.TransferOutcome, error) {
	if timeout <= 0 {
		return next(ctx, req)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return next(attemptCtx, req)
}
