package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/transfer-engine/internal/backoff"
	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// Options tunes the optimistic retry loop.
type Options struct {
	// MaxConflictRetries bounds how many times one Apply re-reads after a
	// version conflict before giving up with ErrConcurrencyConflict.
	MaxConflictRetries int
	// CommitTimeout bounds the work done after the ledger append, which no
	// longer follows the caller's cancellation.
	CommitTimeout time.Duration
	// ConflictBackoff is the base of the jittered pause between conflict retries.
	ConflictBackoff time.Duration
	// CommitRetryDelay is the base of the pause after a store failure once
	// the entry is appended.
	CommitRetryDelay time.Duration
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxConflictRetries: 10,
		CommitTimeout:      5 * time.Second,
		ConflictBackoff:    time.Millisecond,
		CommitRetryDelay:   50 * time.Millisecond,
	}
}

// Ledger moves funds between two accounts under optimistic concurrency
// control: no lock is held between reading the accounts and writing them
// back, a stale version simply forces a fresh read.
type Ledger struct {
	store  interfaces.LedgerStore
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger on top of store.
func NewLedger(store interfaces.LedgerStore, opts Options, logger *zap.Logger) *Ledger {
	def := DefaultOptions()
	if opts.MaxConflictRetries <= 0 {
		opts.MaxConflictRetries = def.MaxConflictRetries
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = def.CommitTimeout
	}
	if opts.ConflictBackoff < 0 {
		opts.ConflictBackoff = 0
	}
	if opts.CommitRetryDelay <= 0 {
		opts.CommitRetryDelay = def.CommitRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Apply checks the sender's balance, appends the ledger entry and writes
// both balances conditioned on the versions it read.
//
// The entry is appended once, before the first balance write, so its id is
// durable even when the write loses a race. Every later retry reuses it:
// version conflicts up to MaxConflictRetries, store failures until
// CommitTimeout. From that point on the caller's cancellation is ignored.
//
// A balance write that failed with anything but a conflict may still have
// landed, so before trying again Apply reads the entry back and reports
// success if it is settled. When that cannot be established in time the
// error is a *CommitUnconfirmedError, which must not be retried with a new
// entry.
func (l *Ledger) Apply(ctx context.Context, fromID, toID string, amount decimal.Decimal) (models.Transaction, error) {
	if fromID == toID {
		return models.Transaction{}, ErrIdenticalAccount
	}
	if !amount.IsPositive() {
		return models.Transaction{}, ErrInvalidAmount
	}

	var (
		tx        models.Transaction
		appended  bool
		uncertain bool // a write failed in a way that may have committed
		conflicts int
		failures  int
	)

	// retryCommit pauses after a store failure in the commit phase. It
	// returns the error to surface once the commit deadline has passed.
	retryCommit := func(cause error) error {
		failures++
		l.logger.Warn("balance write failed, retrying with the same transaction",
			zap.Int64("transaction_id", tx.ID),
			zap.Int("failures", failures),
			zap.Bool("possibly_committed", uncertain),
			zap.Error(cause),
		)
		pause := backoff.ExponentialWithJitter(l.opts.CommitRetryDelay, failures, 20*l.opts.CommitRetryDelay)
		if err := backoff.SleepWithContext(ctx, pause); err == nil && ctx.Err() == nil {
			return nil
		}
		if uncertain {
			l.logger.Error("could not confirm balance write",
				zap.Int64("transaction_id", tx.ID),
				zap.Error(cause),
			)
			return &CommitUnconfirmedError{TransactionID: tx.ID, Err: cause}
		}
		return fmt.Errorf("update balances: %w", cause)
	}

	for attempt := 1; ; attempt++ {
		if uncertain {
			stored, err := l.store.ReadTransaction(ctx, tx.ID)
			if err != nil {
				if rerr := retryCommit(err); rerr != nil {
					return models.Transaction{}, rerr
				}
				continue
			}
			if stored.Settled {
				l.logger.Info("balance write confirmed after failure", zap.Int64("transaction_id", tx.ID))
				tx.Settled = true
				return tx, nil
			}
			uncertain = false
		}

		from, to, err := l.readPair(ctx, fromID, toID)
		if err != nil {
			if appended && !errors.Is(err, ErrAccountNotFound) {
				if rerr := retryCommit(err); rerr != nil {
					return models.Transaction{}, rerr
				}
				continue
			}
			return models.Transaction{}, err
		}

		if from.Balance.LessThan(amount) {
			l.logger.Warn("insufficient balance in sender account",
				zap.String("account_id", fromID),
				zap.String("balance", from.Balance.String()),
				zap.String("required", amount.String()),
				zap.Bool("entry_appended", appended),
			)
			return models.Transaction{}, fmt.Errorf("%w: account %s", ErrInsufficientFunds, fromID)
		}

		if !appended {
			tx, err = l.store.AppendTransaction(ctx, fromID, toID, amount, l.now())
			if err != nil {
				return models.Transaction{}, fmt.Errorf("append transaction: %w", err)
			}
			appended = true
			l.logger.Debug("transaction appended", zap.Int64("transaction_id", tx.ID))

			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), l.opts.CommitTimeout)
			defer cancel()
		}

		err = l.store.ConditionalUpdate(ctx, tx.ID, from.Debit(amount), to.Credit(amount))
		switch {
		case err == nil, errors.Is(err, interfaces.ErrAlreadySettled):
			tx.Settled = true
			l.logger.Info("account balances updated",
				zap.Int64("transaction_id", tx.ID),
				zap.String("from", fromID),
				zap.String("to", toID),
				zap.String("amount", amount.String()),
				zap.Int("attempt", attempt),
			)
			return tx, nil
		case errors.Is(err, interfaces.ErrVersionConflict):
			conflicts++
			l.logger.Debug("version conflict, re-reading accounts",
				zap.Int64("transaction_id", tx.ID),
				zap.Int("conflicts", conflicts),
			)
			if conflicts >= l.opts.MaxConflictRetries {
				l.logger.Warn("giving up after repeated version conflicts",
					zap.Int64("transaction_id", tx.ID),
					zap.Int("attempts", conflicts),
				)
				return models.Transaction{}, fmt.Errorf("%w: transaction %d after %d attempts", ErrConcurrencyConflict, tx.ID, conflicts)
			}
			pause := backoff.ExponentialWithJitter(l.opts.ConflictBackoff, conflicts, 50*l.opts.ConflictBackoff)
			if err := backoff.SleepWithContext(ctx, pause); err != nil {
				return models.Transaction{}, err
			}
		default:
			uncertain = true
			if rerr := retryCommit(err); rerr != nil {
				return models.Transaction{}, rerr
			}
		}
	}
}

func (l *Ledger) readPair(ctx context.Context, fromID, toID string) (models.Account, models.Account, error) {
	from, err := l.store.ReadAccount(ctx, fromID)
	if err != nil {
		return models.Account{}, models.Account{}, accountErr(err, SideFrom, fromID)
	}

	to, err := l.store.ReadAccount(ctx, toID)
	if err != nil {
		return models.Account{}, models.Account{}, accountErr(err, SideTo, toID)
	}

	return from, to, nil
}

func accountErr(err error, side Side, id string) error {
	if errors.Is(err, interfaces.ErrNotFound) {
		return &AccountNotFoundError{Side: side, AccountID: id}
	}
	return fmt.Errorf("read %s account %s: %w", side, id, err)
}
