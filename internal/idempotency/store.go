package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached reply to a previously seen request.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   time.Time
}

// Store caches responses keyed by idempotency key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-memory Store with LRU eviction and TTL expiry.
type MemoryStore struct {
	mu          sync.RWMutex
	cache       map[string]*cacheEntry
	expires     map[string]time.Time
	lru         *list.List
	maxSize     int
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type cacheEntry struct {
	key      string
	response *Response
	element  *list.Element
}

// NewMemoryStore creates a store capped at 10,000 entries.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(10000)
}

// NewMemoryStoreWithSize creates a store with a custom entry cap.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	s := &MemoryStore{
		cache:       make(map[string]*cacheEntry),
		expires:     make(map[string]time.Time),
		lru:         list.New(),
		maxSize:     maxSize,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.cleanup()
	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Response, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.expires[key]
	if !exists || now.After(expiry) {
		return nil, false
	}

	entry, found := s.cache[key]
	if !found {
		return nil, false
	}

	s.lru.MoveToFront(entry.element)
	return entry.response, true
}

func (s *MemoryStore) Set(ctx context.Context, key string, response *Response, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.cache[key]; exists {
		entry.response = response
		s.expires[key] = now.Add(ttl)
		s.lru.MoveToFront(entry.element)
		return nil
	}

	// Evict before inserting so the cap is never exceeded.
	if len(s.cache) >= s.maxSize {
		s.evictLRU()
	}

	entry := &cacheEntry{key: key, response: response}
	entry.element = s.lru.PushFront(entry)
	s.cache[key] = entry
	s.expires[key] = now.Add(ttl)
	return nil
}

// evictLRU removes the least recently used entry. Caller holds the lock.
func (s *MemoryStore) evictLRU() {
	element := s.lru.Back()
	if element == nil {
		return
	}
	entry := element.Value.(*cacheEntry)
	s.lru.Remove(element)
	delete(s.cache, entry.key)
	delete(s.expires, entry.key)
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.cache[key]; exists {
		s.lru.Remove(entry.element)
		delete(s.cache, key)
		delete(s.expires, key)
	}
	return nil
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			var expired []string
			for key, expiry := range s.expires {
				if now.After(expiry) {
					expired = append(expired, key)
				}
			}
			for _, key := range expired {
				if entry, exists := s.cache[key]; exists {
					s.lru.Remove(entry.element)
					delete(s.cache, key)
					delete(s.expires, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Stop shuts down the cleanup goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopCleanup)
	<-s.cleanupDone
}
