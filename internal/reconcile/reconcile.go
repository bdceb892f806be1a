// Package reconcile finds ledger entries that were appended but never got a
// balance effect. They come from attempts that gave up after appending
// (insufficient funds on re-read, exhausted conflict retries, a commit that
// outlived its deadline, a crash). They are reported, never replayed.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// Report is the result of one sweep.
type Report struct {
	Cutoff  time.Time
	Orphans []models.Transaction
	// Unapplied is the sum of the orphans' amounts.
	Unapplied decimal.Decimal
}

type Sweeper struct {
	store  interfaces.Reconcilable
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper only reports entries older than grace, so transfers still in
// flight are left alone.
func NewSweeper(store interfaces.Reconcilable, grace time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:  store,
		grace:  grace,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	report := Report{
		Cutoff:    s.now().Add(-s.grace),
		Unapplied: decimal.Zero,
	}

	orphans, err := s.store.UnsettledTransactions(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("failed to list unsettled transactions: %w", err)
	}
	report.Orphans = orphans

	for _, tx := range orphans {
		report.Unapplied = report.Unapplied.Add(tx.Amount)
		s.logger.Warn("orphaned ledger entry",
			zap.Int64("transaction_id", tx.ID),
			zap.String("from", tx.FromAccountID),
			zap.String("to", tx.ToAccountID),
			zap.String("amount", tx.Amount.String()),
			zap.Time("appended_at", tx.CreatedAt),
		)
	}

	s.logger.Info("reconciliation sweep finished",
		zap.Time("cutoff", report.Cutoff),
		zap.Int("orphans", len(orphans)),
		zap.String("unapplied", report.Unapplied.String()),
	)
	return report, nil
}

// Schedule registers the sweep on a new cron runner. The caller starts and
// stops the returned runner. Overlapping runs are skipped.
func (s *Sweeper) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("reconciliation sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
