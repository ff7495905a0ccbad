package repository

import (
	"context"
	"sync"
	"time"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/domain"
)

// MemoryRepo is the reference Store implementation. A single mutex covers
// the read-modify-write of CompareAndTransition; records are copied in and
// out so callers never share memory with the store.
type MemoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	txs     map[string]*domain.Transaction
	applied map[string]map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		txs:     make(map[string]*domain.Transaction),
		applied: make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRepo) Create(_ context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.txs[t.MerchantOrderID]; ok {
		return domain.ErrDuplicateOrder
	}

	r.nextID++
	cp := *t
	cp.ID = r.nextID
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt

	r.txs[t.MerchantOrderID] = &cp
	r.applied[t.MerchantOrderID] = make(map[string]struct{})

	t.ID = cp.ID
	t.CreatedAt = cp.CreatedAt
	t.UpdatedAt = cp.UpdatedAt
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, merchantOrderID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.txs[merchantOrderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepo) GetByGatewayTxNumber(_ context.Context, gatewayTxNumber string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gatewayTxNumber == "" {
		return nil, domain.ErrNotFound
	}
	for _, t := range r.txs {
		if t.GatewayTxNumber == gatewayTxNumber {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryRepo) CompareAndTransition(_ context.Context, merchantOrderID string, expected, next domain.TxState, eventID, gatewayTxNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.txs[merchantOrderID]
	if !ok {
		return false, domain.ErrNotFound
	}

	seen := r.applied[merchantOrderID]
	if _, dup := seen[eventID]; dup {
		return false, nil
	}
	if t.State != expected {
		return false, nil
	}

	seen[eventID] = struct{}{}
	t.State = next
	t.LastEventID = eventID
	if t.GatewayTxNumber == "" {
		t.GatewayTxNumber = gatewayTxNumber
	}
	t.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepo) List(_ context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []domain.Transaction
	for _, t := range r.txs {
		if f.MerchantOrderID != "" && t.MerchantOrderID != f.MerchantOrderID {
			continue
		}
		if f.GatewayTxNumber != "" && t.GatewayTxNumber != f.GatewayTxNumber {
			continue
		}
		if f.State != "" && t.State != f.State {
			continue
		}
		all = append(all, *t)
	}

	// newest first, matching the SQLite ORDER BY id DESC
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].ID > all[i].ID {
				all[i], all[j] = all[j], all[i]
			}
		}
	}

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}
