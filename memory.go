package paygate

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an AccountStore kept in process memory. Records are copied
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	accts   map[string]*Account
	charges map[string][]Charge
}

var (
	_ AccountStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accts:   make(map[string]*Account),
		charges: make(map[string][]Charge),
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct, ok := m.accts[id]; ok {
		return acct.clone(), nil
	}
	acct := &Account{
		ID:            id,
		ConfirmedSum:  decimal.Zero,
		PendingDebits: decimal.Zero,
		KnownTxs:      map[string]decimal.Decimal{},
		CreatedAt:     time.Now().UTC(),
	}
	m.accts[id] = acct
	return acct.clone(), nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accts[id]
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	return acct.clone(), nil
}

func (m *MemoryStore) UpdateAccount(_ context.Context, id string, fn func(*Account) error) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accts[id]
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	work := acct.clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	m.accts[id] = work
	return work.clone(), nil
}

func (m *MemoryStore) ApplyCharge(_ context.Context, charge Charge) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accts[charge.AcctID]
	if !ok {
		return nil, ErrNotFound{ID: charge.AcctID}
	}
	work := acct.clone()
	if err := applyCharge(work, charge); err != nil {
		return nil, err
	}
	m.accts[charge.AcctID] = work
	m.charges[charge.AcctID] = append(m.charges[charge.AcctID], charge)
	return work.clone(), nil
}

func (m *MemoryStore) ListCharges(_ context.Context, id string) ([]Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accts[id]; !ok {
		return nil, ErrNotFound{ID: id}
	}
	out := make([]Charge, len(m.charges[id]))
	copy(out, m.charges[id])
	return out, nil
}
