//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// openTestStore starts a disposable Postgres container, migrates it and
// returns a store bound to it. The container is terminated on cleanup.
func openTestStore(t *testing.T) *PostgresLedgerStore {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	store := NewPostgresLedgerStore(db)
	require.NoError(t, store.Migrate(ctx))
	// migrations are idempotent
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestIntegration_PostgresLedgerStore_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	from := "acc-" + uuid.NewString()
	to := "acc-" + uuid.NewString()
	require.NoError(t, store.EnsureAccount(ctx, from, decimal.NewFromInt(1000)))
	require.NoError(t, store.EnsureAccount(ctx, to, decimal.NewFromInt(500)))
	// seeding twice keeps the first balance
	require.NoError(t, store.EnsureAccount(ctx, from, decimal.NewFromInt(1)))

	a, err := store.ReadAccount(ctx, from)
	require.NoError(t, err)
	b, err := store.ReadAccount(ctx, to)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(1000)))

	amount := decimal.RequireFromString("200.25")
	tx, err := store.AppendTransaction(ctx, from, to, amount, time.Now().UTC())
	require.NoError(t, err)
	assert.Positive(t, tx.ID)

	stale := models.BalanceUpdate{AccountID: from, NewBalance: a.Balance.Sub(amount), ExpectedVersion: a.Version + 1}
	err = store.ConditionalUpdate(ctx, tx.ID, stale, b.Credit(amount))
	require.ErrorIs(t, err, interfaces.ErrVersionConflict)

	got, err := store.ReadAccount(ctx, to)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(b.Balance), "a rejected update must not apply any leg")

	unsettled, err := store.ReadTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, unsettled.Settled, "a rejected update must not leave a settlement marker")

	require.NoError(t, store.ConditionalUpdate(ctx, tx.ID, a.Debit(amount), b.Credit(amount)))

	got, err = store.ReadAccount(ctx, from)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("799.75")))
	assert.Equal(t, a.Version+1, got.Version)

	read, err := store.ReadTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, read.Settled)
	assert.True(t, read.Amount.Equal(amount))

	_, err = store.ReadAccount(ctx, "missing-"+uuid.NewString())
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = store.ReadTransaction(ctx, tx.ID+1000)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestIntegration_PostgresLedgerStore_SettlementIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureAccount(ctx, "acc1", decimal.NewFromInt(100)))
	require.NoError(t, store.EnsureAccount(ctx, "acc2", decimal.Zero))
	a, err := store.ReadAccount(ctx, "acc1")
	require.NoError(t, err)
	b, err := store.ReadAccount(ctx, "acc2")
	require.NoError(t, err)

	amount := decimal.NewFromInt(30)
	tx, err := store.AppendTransaction(ctx, "acc1", "acc2", amount, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.ConditionalUpdate(ctx, tx.ID, a.Debit(amount), b.Credit(amount)))

	// a replay after a lost acknowledgement must not move money again,
	// even with versions that would otherwise match
	a, err = store.ReadAccount(ctx, "acc1")
	require.NoError(t, err)
	b, err = store.ReadAccount(ctx, "acc2")
	require.NoError(t, err)
	err = store.ConditionalUpdate(ctx, tx.ID, a.Debit(amount), b.Credit(amount))
	require.ErrorIs(t, err, interfaces.ErrAlreadySettled)

	got, err := store.ReadAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(70)))
	got, err = store.ReadAccount(ctx, "acc2")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(30)))
}

func TestIntegration_PostgresLedgerStore_ConcurrentWritersConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureAccount(ctx, "acc1", decimal.NewFromInt(100)))
	require.NoError(t, store.EnsureAccount(ctx, "acc2", decimal.Zero))
	a, err := store.ReadAccount(ctx, "acc1")
	require.NoError(t, err)
	b, err := store.ReadAccount(ctx, "acc2")
	require.NoError(t, err)

	const writers = 2
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for range writers {
		tx, err := store.AppendTransaction(ctx, "acc1", "acc2", decimal.NewFromInt(1), time.Now())
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := store.ConditionalUpdate(ctx, tx.ID, a.Debit(decimal.NewFromInt(1)), b.Credit(decimal.NewFromInt(1)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, interfaces.ErrVersionConflict):
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins, "only one writer may win with the same expected version")
	assert.Equal(t, writers-1, conflicts)

	got, err := store.ReadAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(99)))
	assert.Equal(t, a.Version+1, got.Version)

	unsettled, err := store.UnsettledTransactions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, unsettled, writers-1, "the losing entry stays unsettled")
}

func TestIntegration_PostgresLedgerStore_Unsettled(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	from := "acc-" + uuid.NewString()
	to := "acc-" + uuid.NewString()
	require.NoError(t, store.EnsureAccount(ctx, from, decimal.NewFromInt(10)))
	require.NoError(t, store.EnsureAccount(ctx, to, decimal.Zero))

	orphan, err := store.AppendTransaction(ctx, from, to, decimal.NewFromInt(1), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	fresh, err := store.AppendTransaction(ctx, from, to, decimal.NewFromInt(1), time.Now())
	require.NoError(t, err)

	list, err := store.UnsettledTransactions(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	ids := make([]int64, 0, len(list))
	for _, tx := range list {
		ids = append(ids, tx.ID)
	}
	assert.Contains(t, ids, orphan.ID)
	assert.NotContains(t, ids, fresh.ID, "entries newer than the cut-off are not reported")
}
