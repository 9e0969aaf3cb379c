package cart

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, the default for development and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	carts   map[string]Cart
	temps   map[string]Cart
	backups map[string]Backup
}

// NewMemoryStore creates an empty in-memory cart store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts:   make(map[string]Cart),
		temps:   make(map[string]Cart),
		backups: make(map[string]Backup),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[userID]
	if !ok {
		return Cart{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Save(_ context.Context, c Cart) error {
	c.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[c.UserID] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

func (s *MemoryStore) GetTemp(_ context.Context, userID string) (Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.temps[userID]
	if !ok {
		return Cart{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) SaveTemp(_ context.Context, c Cart) error {
	c.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temps[c.UserID] = c
	return nil
}

func (s *MemoryStore) DeleteTemp(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.temps, userID)
	return nil
}

func (s *MemoryStore) SaveBackup(_ context.Context, b Backup) error {
	b.CreatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[b.Reference] = b
	return nil
}

func (s *MemoryStore) GetBackup(_ context.Context, reference string) (Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backups[reference]
	if !ok {
		return Backup{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) Close() error { return nil }
