// Package redis keeps the ledger in Redis. Account versions live next to the
// balance in one hash and conditional writes go through WATCH/MULTI/EXEC, so
// a concurrent writer aborts the transaction instead of overwriting it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

const (
	fieldBalance   = "balance"
	fieldVersion   = "version"
	fieldFrom      = "from"
	fieldTo        = "to"
	fieldAmount    = "amount"
	fieldCreatedAt = "created_at"
)

type RedisLedgerStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisLedgerStore stores every key under prefix (default "ledger").
func NewRedisLedgerStore(rdb redis.UniversalClient, prefix string) *RedisLedgerStore {
	if prefix == "" {
		prefix = "ledger"
	}
	return &RedisLedgerStore{rdb: rdb, prefix: prefix}
}

func (s *RedisLedgerStore) accountKey(id string) string { return s.prefix + ":account:" + id }

func (s *RedisLedgerStore) txKey(id int64) string {
	return s.prefix + ":tx:" + strconv.FormatInt(id, 10)
}

func (s *RedisLedgerStore) seqKey() string       { return s.prefix + ":tx:seq" }
func (s *RedisLedgerStore) settledKey() string   { return s.prefix + ":settled" }
func (s *RedisLedgerStore) unsettledKey() string { return s.prefix + ":unsettled" }

func (s *RedisLedgerStore) EnsureAccount(ctx context.Context, id string, balance decimal.Decimal) error {
	key := s.accountKey(id)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldBalance, balance.String())
		pipe.HSetNX(ctx, key, fieldVersion, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to seed account %s: %w", id, err)
	}
	return nil
}

func (s *RedisLedgerStore) ReadAccount(ctx context.Context, id string) (models.Account, error) {
	return readAccount(ctx, s.rdb, s.accountKey(id), id)
}

// hashReader is satisfied by both the client and a WATCH transaction.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readAccount(ctx context.Context, c hashReader, key, id string) (models.Account, error) {
	fields, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to read account: %w", err)
	}
	if len(fields) == 0 {
		return models.Account{}, interfaces.ErrNotFound
	}

	balance, err := decimal.NewFromString(fields[fieldBalance])
	if err != nil {
		return models.Account{}, fmt.Errorf("corrupt balance for %s: %w", id, err)
	}

	var version int64
	if v, ok := fields[fieldVersion]; ok {
		version, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return models.Account{}, fmt.Errorf("corrupt version for %s: %w", id, err)
		}
	}

	return models.Account{ID: id, Balance: balance, Version: version}, nil
}

// ConditionalUpdate watches every touched account, checks versions and the
// settled set, then writes all legs in one MULTI/EXEC. A watched key changing
// in between aborts EXEC and surfaces as ErrVersionConflict.
func (s *RedisLedgerStore) ConditionalUpdate(ctx context.Context, transactionID int64, updates ...models.BalanceUpdate) error {
	sorted := make([]models.BalanceUpdate, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	keys := make([]string, len(sorted))
	for i, u := range sorted {
		keys[i] = s.accountKey(u.AccountID)
	}
	member := strconv.FormatInt(transactionID, 10)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		for i, u := range sorted {
			acc, err := readAccount(ctx, tx, keys[i], u.AccountID)
			if err != nil {
				return err
			}
			if acc.Version != u.ExpectedVersion {
				return interfaces.ErrVersionConflict
			}
		}

		settled, err := tx.SIsMember(ctx, s.settledKey(), member).Result()
		if err != nil {
			return fmt.Errorf("failed to check settlement: %w", err)
		}
		if settled {
			return interfaces.ErrAlreadySettled
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, u := range sorted {
				pipe.HSet(ctx, keys[i], fieldBalance, u.NewBalance.String(), fieldVersion, u.ExpectedVersion+1)
			}
			pipe.SAdd(ctx, s.settledKey(), member)
			pipe.ZRem(ctx, s.unsettledKey(), member)
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return interfaces.ErrVersionConflict
	}
	return err
}

func (s *RedisLedgerStore) AppendTransaction(ctx context.Context, fromID, toID string, amount decimal.Decimal, at time.Time) (models.Transaction, error) {
	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to allocate transaction id: %w", err)
	}

	tx := models.Transaction{
		ID:            id,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		CreatedAt:     at,
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.txKey(id),
			fieldFrom, fromID,
			fieldTo, toID,
			fieldAmount, amount.String(),
			fieldCreatedAt, at.UTC().Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, s.unsettledKey(), redis.Z{Score: float64(at.UnixMilli()), Member: strconv.FormatInt(id, 10)})
		return nil
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to append transaction: %w", err)
	}
	return tx, nil
}

func (s *RedisLedgerStore) ReadTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	fields, err := s.rdb.HGetAll(ctx, s.txKey(id)).Result()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to read transaction: %w", err)
	}
	if len(fields) == 0 {
		return models.Transaction{}, interfaces.ErrNotFound
	}

	tx, err := decodeTransaction(id, fields)
	if err != nil {
		return models.Transaction{}, err
	}

	tx.Settled, err = s.rdb.SIsMember(ctx, s.settledKey(), strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to check settlement: %w", err)
	}
	return tx, nil
}

func (s *RedisLedgerStore) UnsettledTransactions(ctx context.Context, appendedBefore time.Time) ([]models.Transaction, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.unsettledKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(appendedBefore.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled transactions: %w", err)
	}

	result := make([]models.Transaction, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt unsettled member %q: %w", m, err)
		}
		tx, err := s.ReadTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}

func decodeTransaction(id int64, fields map[string]string) (models.Transaction, error) {
	amount, err := decimal.NewFromString(fields[fieldAmount])
	if err != nil {
		return models.Transaction{}, fmt.Errorf("corrupt amount for transaction %d: %w", id, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])
	if err != nil {
		return models.Transaction{}, fmt.Errorf("corrupt timestamp for transaction %d: %w", id, err)
	}

	return models.Transaction{
		ID:            id,
		FromAccountID: fields[fieldFrom],
		ToAccountID:   fields[fieldTo],
		Amount:        amount,
		CreatedAt:     createdAt,
	}, nil
}

var (
	_ interfaces.LedgerStore   = (*RedisLedgerStore)(nil)
	_ interfaces.Reconcilable  = (*RedisLedgerStore)(nil)
	_ interfaces.AccountSeeder = (*RedisLedgerStore)(nil)
)
