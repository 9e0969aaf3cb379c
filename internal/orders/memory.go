package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]Order
	byReference map[string]string
}

// NewMemoryStore creates an empty in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]Order),
		byReference: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byReference[o.PaymentReference]; exists {
		return Order{}, ErrDuplicateReference
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = StatusReceived
	}

	s.orders[o.ID] = o
	s.byReference[o.PaymentReference] = o.ID
	return o, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) GetByReference(_ context.Context, reference string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byReference[reference]
	if !ok {
		return Order{}, ErrNotFound
	}
	return s.orders[id], nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecentByUser(_ context.Context, userID string, window time.Duration) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var newest Order
	found := false
	for _, o := range s.orders {
		if o.UserID != userID || o.CreatedAt.Before(cutoff) {
			continue
		}
		if !found || o.CreatedAt.After(newest.CreatedAt) {
			newest = o
			found = true
		}
	}
	if !found {
		return Order{}, ErrNotFound
	}
	return newest, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	s.orders[id] = o
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
