// Package resilience composes the transfer operation with retry, circuit
// breaking and fallback. Each policy is a Decorator over the same Func
// signature so the order they run in is plain function composition:
//
//	Chain(apply, Retry(policy, log), breaker.Decorate, Fallback(log))
//
// yields Fallback(Breaker(Retry(apply))). While the breaker is open no retry
// attempt is issued, and a whole retry sequence is one breaker verdict.
package resilience

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

var (
	// ErrRetriesExhausted wraps the last error of a retry sequence that never succeeded.
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")
	// ErrCircuitOpen marks a call rejected by the breaker without running.
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")
	// ErrAbandoned marks a call whose caller went away before it committed.
	ErrAbandoned = errors.New("resilience: abandoned by caller")
)

// Func is a transfer operation.
type Func func(ctx context.Context, req models.TransferRequest) (models.TransferOutcome, error)

// Decorator wraps a Func with a policy, keeping its signature.
type Decorator func(next Func) Func

// Chain applies decorators innermost first.
func Chain(op Func, decorators ...Decorator) Func {
	for _, d := range decorators {
		op = d(op)
	}
	return op
}
