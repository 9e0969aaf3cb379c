package catalog

import (
	"context"
	"sync"
	"time"
)

// CachedRepository wraps a Repository with a TTL read cache for the
// storefront list query, which dominates traffic. Writes invalidate
// the cache immediately.
type CachedRepository struct {
	inner Repository
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cachedList
}

type cachedList struct {
	products []Product
	fetched  time.Time
}

// NewCached wraps repo with a read cache. A zero ttl disables caching.
func NewCached(repo Repository, ttl time.Duration) Repository {
	if ttl <= 0 {
		return repo
	}
	return &CachedRepository{
		inner:   repo,
		ttl:     ttl,
		entries: make(map[string]cachedList),
	}
}

func (c *CachedRepository) List(ctx context.Context, categoria string) ([]Product, error) {
	c.mu.RLock()
	entry, ok := c.entries[categoria]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetched) < c.ttl {
		return entry.products, nil
	}

	products, err := c.inner.List(ctx, categoria)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[categoria] = cachedList{products: products, fetched: time.Now()}
	c.mu.Unlock()
	return products, nil
}

func (c *CachedRepository) Get(ctx context.Context, id string) (Product, error) {
	return c.inner.Get(ctx, id)
}

func (c *CachedRepository) invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cachedList)
	c.mu.Unlock()
}

func (c *CachedRepository) Create(ctx context.Context, p Product) (Product, error) {
	created, err := c.inner.Create(ctx, p)
	if err == nil {
		c.invalidate()
	}
	return created, err
}

func (c *CachedRepository) Update(ctx context.Context, p Product) (Product, error) {
	updated, err := c.inner.Update(ctx, p)
	if err == nil {
		c.invalidate()
	}
	return updated, err
}

func (c *CachedRepository) Delete(ctx context.Context, id string) error {
	err := c.inner.Delete(ctx, id)
	if err == nil {
		c.invalidate()
	}
	return err
}

func (c *CachedRepository) ReserveStock(ctx context.Context, lines map[string]int64) error {
	err := c.inner.ReserveStock(ctx, lines)
	if err == nil {
		c.invalidate()
	}
	return err
}

func (c *CachedRepository) ReleaseStock(ctx context.Context, lines map[string]int64) error {
	err := c.inner.ReleaseStock(ctx, lines)
	if err == nil {
		c.invalidate()
	}
	return err
}
