package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
	"github.com/sheikh-saqib/transfer-engine/internal/models"
)

// MemoryLedgerStore is an in-memory LedgerStore.
// Each account is guarded by its own mutex so writes on disjoint accounts
// never wait on each other; the transaction log has a separate lock.
type MemoryLedgerStore struct {
	mapMu    sync.RWMutex // protects accounts and muMap
	accounts map[string]*models.Account
	muMap    map[string]*sync.Mutex

	txMu    sync.RWMutex // protects the log, settled set and sequence
	log     []models.Transaction
	settled map[int64]struct{}
	nextID  int64
}

// NewMemoryLedgerStore creates an empty store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts: make(map[string]*models.Account),
		muMap:    make(map[string]*sync.Mutex),
		log:      make([]models.Transaction, 0),
		settled:  make(map[int64]struct{}),
	}
}

func (m *MemoryLedgerStore) account(id string) (*models.Account, *sync.Mutex, bool) {
	m.mapMu.RLock()
	defer m.mapMu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return nil, nil, false
	}
	return acc, m.muMap[id], true
}

// EnsureAccount creates the account with the given balance unless it already exists.
func (m *MemoryLedgerStore) EnsureAccount(ctx context.Context, id string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("seed account %s: negative balance %s", id, balance)
	}

	m.mapMu.Lock()
	defer m.mapMu.Unlock()

	if _, exists := m.accounts[id]; exists {
		return nil
	}
	m.accounts[id] = &models.Account{ID: id, Balance: balance}
	m.muMap[id] = &sync.Mutex{}
	return nil
}

// ReadAccount returns a snapshot of the account with its current version.
func (m *MemoryLedgerStore) ReadAccount(ctx context.Context, id string) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}

	acc, mu, ok := m.account(id)
	if !ok {
		return models.Account{}, interfaces.ErrNotFound
	}

	mu.Lock()
	defer mu.Unlock()
	return *acc, nil
}

// ConditionalUpdate locks every touched account in id order (so two
// transfers over the same pair cannot deadlock), verifies all versions and
// only then writes.
func (m *MemoryLedgerStore) ConditionalUpdate(ctx context.Context, transactionID int64, updates ...models.BalanceUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sorted := make([]models.BalanceUpdate, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountID < sorted[j].AccountID })

	accs := make([]*models.Account, len(sorted))
	for i, u := range sorted {
		if i > 0 && sorted[i-1].AccountID == u.AccountID {
			return fmt.Errorf("conditional update: duplicate account %s", u.AccountID)
		}
		acc, mu, ok := m.account(u.AccountID)
		if !ok {
			return interfaces.ErrNotFound
		}
		mu.Lock()
		defer mu.Unlock()
		accs[i] = acc
	}

	for i, u := range sorted {
		if accs[i].Version != u.ExpectedVersion {
			return interfaces.ErrVersionConflict
		}
		if u.NewBalance.IsNegative() {
			return fmt.Errorf("conditional update: negative balance for %s", u.AccountID)
		}
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	if _, done := m.settled[transactionID]; done {
		return interfaces.ErrAlreadySettled
	}
	for i, u := range sorted {
		accs[i].Balance = u.NewBalance
		accs[i].Version++
	}
	m.settled[transactionID] = struct{}{}
	return nil
}

// AppendTransaction adds a ledger entry and assigns the next id.
func (m *MemoryLedgerStore) AppendTransaction(ctx context.Context, fromID, toID string, amount decimal.Decimal, at time.Time) (models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return models.Transaction{}, err
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.nextID++
	tx := models.Transaction{
		ID:            m.nextID,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		CreatedAt:     at,
	}
	m.log = append(m.log, tx)
	return tx, nil
}

// ReadTransaction looks up a ledger entry by id.
func (m *MemoryLedgerStore) ReadTransaction(ctx context.Context, id int64) (models.Transaction, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()

	// ids are dense and start at 1
	if id < 1 || id > int64(len(m.log)) {
		return models.Transaction{}, interfaces.ErrNotFound
	}
	tx := m.log[id-1]
	_, tx.Settled = m.settled[id]
	return tx, nil
}

// UnsettledTransactions returns ledger entries appended before the cutoff
// that never had their balance effect applied.
func (m *MemoryLedgerStore) UnsettledTransactions(ctx context.Context, appendedBefore time.Time) ([]models.Transaction, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()

	var result []models.Transaction
	for _, tx := range m.log {
		if _, done := m.settled[tx.ID]; done {
			continue
		}
		if tx.CreatedAt.Before(appendedBefore) {
			result = append(result, tx)
		}
	}
	return result, nil
}

// Transactions returns a copy of the whole log.
func (m *MemoryLedgerStore) Transactions() []models.Transaction {
	m.txMu.RLock()
	defer m.txMu.RUnlock()

	copied := make([]models.Transaction, len(m.log))
	copy(copied, m.log)
	for i := range copied {
		_, copied[i].Settled = m.settled[copied[i].ID]
	}
	return copied
}

// Compile-time checks
var (
	_ interfaces.LedgerStore   = (*MemoryLedgerStore)(nil)
	_ interfaces.Reconcilable  = (*MemoryLedgerStore)(nil)
	_ interfaces.AccountSeeder = (*MemoryLedgerStore)(nil)
)
