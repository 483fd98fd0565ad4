package invoice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/chainpay/types"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps invoices in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	invoices map[string]*types.Invoice
	hashes   map[string]string // network/hash -> invoice id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*types.Invoice),
		hashes:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, inv *types.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; exists {
		return ErrConflict
	}
	s.invoices[inv.ID] = inv.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*types.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, expected types.InvoiceStatus, next *types.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.invoices[next.ID]
	if !ok {
		return ErrNotFound
	}
	if err := checkWrite(current, expected, next); err != nil {
		return err
	}
	if bindsHash(current, next) {
		key := hashKey(current.Network, *next.TransactionHash)
		if owner, taken := s.hashes[key]; taken && owner != current.ID {
			return ErrHashInUse
		}
		s.hashes[key] = current.ID
	}
	s.invoices[next.ID] = prepareWrite(current, next)
	return nil
}

func (s *MemoryStore) ClaimActivation(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return false, ErrNotFound
	}
	free, err := claimable(inv)
	if err != nil || !free {
		return false, err
	}
	t := at
	inv.ActivatedAt = &t
	return true, nil
}

func (s *MemoryStore) ReleaseActivation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.ActivatedAt = nil
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status types.InvoiceStatus, limit int) ([]*types.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Invoice
	for _, inv := range s.invoices {
		if inv.Status == status {
			out = append(out, inv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
