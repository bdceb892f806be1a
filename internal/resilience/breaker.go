package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/transfer-engine/internal/ledger"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// BreakerSettings configures the circuit breaker.
type BreakerSettings struct {
	Name         string
	MaxRequests  uint32        // trial calls allowed while half-open
	Interval     time.Duration // rolling window after which closed-state counts reset
	Timeout      time.Duration // cool-down spent open before going half-open
	FailureRatio float64       // failure ratio that trips the breaker
	MinRequests  uint32        // calls in the window before the ratio is trusted
}

// DefaultBreakerSettings trips at 50% failures over at least ten calls.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:         "transfer",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  10,
	}
}

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts are the breaker statistics of the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards the transfer operation with a sony/gobreaker circuit breaker.
type Breaker struct {
	cb     *gobreaker.TwoStepCircuitBreaker
	logger *zap.Logger
}

// NewBreaker builds a breaker. Business errors and abandoned calls are
// neither successes nor failures: only calls that reached a verdict on the
// ledger store enter the failure ratio.
func NewBreaker(settings BreakerSettings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = 1
	}

	b := &Breaker{logger: logger}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Requests also counts ignored calls
			judged := counts.TotalSuccesses + counts.TotalFailures
			if judged < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(judged)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.handleStateChange(name, from, to)
		},
	})

	return b
}

// Decorate runs next through the breaker. Rejected calls return an error
// wrapping ErrCircuitOpen without invoking next.
func (b *Breaker) Decorate(next Func) Func {
	return func(ctx context.Context, req models.TransferRequest) (models.TransferOutcome, error) {
		halfOpen := b.cb.State() == gobreaker.StateHalfOpen
		done, err := b.cb.Allow()
		if err != nil {
			b.logger.Warn("circuit breaker rejected transfer",
				zap.String("breaker", b.cb.Name()),
				zap.String("state", string(b.State())),
			)
			return models.TransferOutcome{}, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}

		settled := false
		defer func() {
			if !settled {
				done(false)
			}
		}()

		out, err := next(ctx, req)
		settled = true
		switch {
		case err == nil:
			done(true)
		case ledger.IsBusinessError(err):
			// the store answered; a half-open trial slot must still be
			// released or the breaker never leaves half-open
			if halfOpen {
				done(true)
			}
		case errors.Is(err, ErrAbandoned):
			if halfOpen {
				done(false)
			}
		default:
			done(false)
		}

		return out, err
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	return convertState(b.cb.State())
}

// Counts returns the current window statistics.
func (b *Breaker) Counts() Counts {
	c := b.cb.Counts()

	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

func (b *Breaker) handleStateChange(name string, from, to gobreaker.State) {
	b.logger.Warn("circuit breaker state changed",
		zap.String("breaker", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)

	switch to {
	case gobreaker.StateOpen:
		b.logger.Error("circuit breaker opened, transfers will fast-fail", zap.String("breaker", name))
	case gobreaker.StateHalfOpen:
		b.logger.Info("circuit breaker half-open, admitting trial transfers", zap.String("breaker", name))
	case gobreaker.StateClosed:
		b.logger.Info("circuit breaker closed", zap.String("breaker", name))
	}
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
