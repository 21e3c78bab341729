package withdrawals

import (
	"context"
	"sync"

	"github.com/remoteprojobs/wallet/internal/accounts"
)

// AccountDebiter performs the conditional debit on approval.
type AccountDebiter interface {
	Debit(ctx context.Context, id, amount string) (*accounts.Account, error)
}

// MemoryStore is an in-memory withdrawal store for development and tests.
// Approve holds the store lock across the pending check, the debit and the
// status write, so no other decision can interleave.
type MemoryStore struct {
	requests map[string]*Request
	order    []string // insertion order, oldest first
	debiter  AccountDebiter
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory withdrawal store.
func NewMemoryStore(debiter AccountDebiter) *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*Request),
		debiter:  debiter,
	}
}

func (m *MemoryStore) Create(_ context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *req
	m.requests[req.ID] = &cp
	m.order = append(m.order, req.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return copyRequest(req), nil
}

func (m *MemoryStore) ListPending(_ context.Context, order Order, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	add := func(id string) bool {
		if req := m.requests[id]; req.Status == StatusPending {
			result = append(result, copyRequest(req))
		}
		return len(result) < limit
	}

	if order == NewestFirst {
		for i := len(m.order) - 1; i >= 0; i-- {
			if !add(m.order[i]) {
				break
			}
		}
	} else {
		for _, id := range m.order {
			if !add(id) {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByAccount(_ context.Context, accountID string, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		if req := m.requests[m.order[i]]; req.AccountID == accountID {
			result = append(result, copyRequest(req))
		}
	}
	return result, nil
}

func (m *MemoryStore) Approve(ctx context.Context, id string, d Decision) (*Request, *accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, nil, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return nil, nil, ErrAlreadyProcessed
	}

	acct, err := m.debiter.Debit(ctx, req.AccountID, req.Amount)
	if err != nil {
		return nil, nil, err
	}

	applyDecision(req, StatusApproved, d)
	return copyRequest(req), acct, nil
}

func (m *MemoryStore) Reject(_ context.Context, id string, d Decision) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	applyDecision(req, StatusRejected, d)
	return copyRequest(req), nil
}

func applyDecision(req *Request, status Status, d Decision) {
	at := d.At
	req.Status = status
	req.DecidedBy = d.DecidedBy
	req.Note = d.Note
	req.DecidedAt = &at
}

func copyRequest(req *Request) *Request {
	cp := *req
	if req.DecidedAt != nil {
		t := *req.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
