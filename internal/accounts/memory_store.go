package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/remoteprojobs/wallet/internal/money"
)

// MemoryStore is an in-memory account store for development and tests.
type MemoryStore struct {
	accounts map[string]*Account
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

func (m *MemoryStore) Create(_ context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.ID]; ok {
		return ErrAccountExists
	}
	cp := *acct
	m.accounts[acct.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) Credit(_ context.Context, id, amount string) (*Account, error) {
	add, ok := money.ParsePositive(amount)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return m.mutate(id, func(a *Account) error {
		next := a.BalanceDecimal().Add(add)
		if !money.Fits(next) {
			return ErrInvalidAmount
		}
		a.Balance = money.Format(next)
		return nil
	})
}

func (m *MemoryStore) Debit(_ context.Context, id, amount string) (*Account, error) {
	sub, ok := money.ParsePositive(amount)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return m.mutate(id, func(a *Account) error {
		bal := a.BalanceDecimal()
		if bal.LessThan(sub) {
			return ErrInsufficientBalance
		}
		a.Balance = money.Format(bal.Sub(sub))
		return nil
	})
}

func (m *MemoryStore) SetEligibility(_ context.Context, id string, eligible bool) (*Account, error) {
	return m.mutate(id, func(a *Account) error {
		a.EligibleForWithdrawal = eligible
		return nil
	})
}

func (m *MemoryStore) SetTier(_ context.Context, id string, tier Tier) (*Account, error) {
	return m.mutate(id, func(a *Account) error {
		a.Tier = tier
		return nil
	})
}

func (m *MemoryStore) GrantConnects(_ context.Context, id string, n int) (*Account, error) {
	return m.mutate(id, func(a *Account) error {
		a.ConnectsGranted += n
		return nil
	})
}

func (m *MemoryStore) ApplyPaymentGrant(_ context.Context, id string, connects int) (*Account, error) {
	return m.mutate(id, func(a *Account) error {
		a.Verified = true
		a.EligibleForWithdrawal = true
		a.ConnectsGranted += connects
		return nil
	})
}

// mutate applies fn to the account under the write lock. A non-nil error
// from fn leaves the account untouched.
func (m *MemoryStore) mutate(id string, fn func(*Account) error) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	next := *acct
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	*acct = next

	cp := next
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
