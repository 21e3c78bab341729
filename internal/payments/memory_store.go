package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/remoteprojobs/wallet/internal/accounts"
)

// AccountGranter applies the success grant during a claim.
type AccountGranter interface {
	ApplyPaymentGrant(ctx context.Context, id string, connects int) (*accounts.Account, error)
}

// MemoryStore is an in-memory payment store for development and tests.
// Complete holds the store lock across the pending check, the grant and the
// status write.
type MemoryStore struct {
	byRef   map[string]*Transaction
	order   []string // references, oldest first
	granter AccountGranter
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore(granter AccountGranter) *MemoryStore {
	return &MemoryStore{
		byRef:   make(map[string]*Transaction),
		granter: granter,
	}
}

func (m *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byRef[tx.Reference]; exists {
		return fmt.Errorf("payment reference %s already exists", tx.Reference)
	}
	cp := *tx
	m.byRef[tx.Reference] = &cp
	m.order = append(m.order, tx.Reference)
	return nil
}

func (m *MemoryStore) GetByReference(_ context.Context, reference string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.byRef[reference]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return copyTransaction(tx), nil
}

func (m *MemoryStore) ListByAccount(_ context.Context, accountID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		if tx := m.byRef[m.order[i]]; tx.AccountID == accountID {
			result = append(result, copyTransaction(tx))
		}
	}
	return result, nil
}

func (m *MemoryStore) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, ref := range m.order {
		if len(result) >= limit {
			break
		}
		tx := m.byRef[ref]
		if tx.Status == StatusPending && tx.CreatedAt.Before(createdBefore) {
			result = append(result, copyTransaction(tx))
		}
	}
	return result, nil
}

func (m *MemoryStore) SetProviderReference(_ context.Context, reference, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.byRef[reference]
	if !ok {
		return ErrPaymentNotFound
	}
	tx.ProviderReference = providerRef
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Complete(ctx context.Context, c Claim) (*Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.byRef[c.Reference]
	if !ok {
		return nil, false, ErrPaymentNotFound
	}
	if tx.Status.IsTerminal() {
		return copyTransaction(tx), false, nil
	}

	if c.Success {
		if _, err := m.granter.ApplyPaymentGrant(ctx, tx.AccountID, c.Connects); err != nil {
			return nil, false, err
		}
	}

	applyClaim(tx, c)
	return copyTransaction(tx), true, nil
}

func applyClaim(tx *Transaction, c Claim) {
	tx.Status = StatusFailed
	if c.Success {
		tx.Status = StatusSuccess
	}
	if tx.ProviderReference == "" {
		tx.ProviderReference = c.ProviderReference
	}
	tx.ReceiptNumber = c.ReceiptNumber
	tx.ResultDesc = c.Description
	tx.SettledBy = c.Source
	at := c.At
	tx.CompletedAt = &at
	tx.UpdatedAt = at
}

func copyTransaction(tx *Transaction) *Transaction {
	cp := *tx
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
