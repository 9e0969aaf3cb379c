// Package catalog holds the product repository backing the storefront
// grid and the admin back-office.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supercasa/server/internal/config"
)

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("catalog: product not found")

// ErrOutOfStock is returned when a reservation exceeds available stock.
var ErrOutOfStock = errors.New("catalog: insufficient stock")

// Product is a storefront item. Prices are COP centavos.
type Product struct {
	ID          string    `json:"id"`
	Nombre      string    `json:"nombre"`
	Descripcion string    `json:"descripcion,omitempty"`
	PrecioCents int64     `json:"precio"`
	Imagen      string    `json:"imagen,omitempty"`
	Categoria   string    `json:"categoria"`
	Stock       int64     `json:"stock"`
	Activo      bool      `json:"activo"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repository is the product store consumed by the HTTP layer and the
// checkout path.
type Repository interface {
	List(ctx context.Context, categoria string) ([]Product, error)
	Get(ctx context.Context, id string) (Product, error)

	// Admin operations.
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) (Product, error)
	Delete(ctx context.Context, id string) error

	// ReserveStock atomically decrements stock for each line, failing
	// the whole call if any line exceeds availability.
	ReserveStock(ctx context.Context, lines map[string]int64) error
	// ReleaseStock returns previously reserved stock, used when a
	// payment attempt ends without an order.
	ReleaseStock(ctx context.Context, lines map[string]int64) error
}

// MemoryRepository is an in-memory Repository seeded from configuration.
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{products: make(map[string]Product)}
}

// NewFromConfig builds a repository seeded with the products declared
// in the YAML catalog section.
func NewFromConfig(cfg config.CatalogConfig) (*MemoryRepository, error) {
	repo := NewMemoryRepository()
	now := time.Now()
	for _, pc := range cfg.Productos {
		if pc.ID == "" || pc.Nombre == "" {
			return nil, errors.New("catalog: product requires id and nombre")
		}
		if pc.PrecioCents <= 0 {
			return nil, errors.New("catalog: product " + pc.ID + " requires a positive price")
		}
		repo.products[pc.ID] = Product{
			ID:          pc.ID,
			Nombre:      pc.Nombre,
			Descripcion: pc.Descripcion,
			PrecioCents: pc.PrecioCents,
			Imagen:      pc.Imagen,
			Categoria:   pc.Categoria,
			Stock:       pc.Stock,
			Activo:      true,
			UpdatedAt:   now,
		}
	}
	return repo, nil
}

func (r *MemoryRepository) List(_ context.Context, categoria string) ([]Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		if !p.Activo {
			continue
		}
		if categoria != "" && !strings.EqualFold(p.Categoria, categoria) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nombre < out[j].Nombre })
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok || !p.Activo {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) Create(_ context.Context, p Product) (Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Activo = true
	p.UpdatedAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return p, nil
}

func (r *MemoryRepository) Update(_ context.Context, p Product) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.products[p.ID]
	if !ok {
		return Product{}, ErrNotFound
	}
	if p.Nombre != "" {
		existing.Nombre = p.Nombre
	}
	if p.Descripcion != "" {
		existing.Descripcion = p.Descripcion
	}
	if p.PrecioCents > 0 {
		existing.PrecioCents = p.PrecioCents
	}
	if p.Imagen != "" {
		existing.Imagen = p.Imagen
	}
	if p.Categoria != "" {
		existing.Categoria = p.Categoria
	}
	if p.Stock >= 0 {
		existing.Stock = p.Stock
	}
	existing.UpdatedAt = time.Now()
	r.products[p.ID] = existing
	return existing, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return ErrNotFound
	}
	// Soft delete keeps the product resolvable for order history.
	p.Activo = false
	p.UpdatedAt = time.Now()
	r.products[id] = p
	return nil
}

func (r *MemoryRepository) ReserveStock(_ context.Context, lines map[string]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check every line before mutating any.
	for id, qty := range lines {
		p, ok := r.products[id]
		if !ok || !p.Activo {
			return ErrNotFound
		}
		if p.Stock < qty {
			return ErrOutOfStock
		}
	}
	for id, qty := range lines {
		p := r.products[id]
		p.Stock -= qty
		p.UpdatedAt = time.Now()
		r.products[id] = p
	}
	return nil
}

func (r *MemoryRepository) ReleaseStock(_ context.Context, lines map[string]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, qty := range lines {
		p, ok := r.products[id]
		if !ok {
			continue
		}
		p.Stock += qty
		p.UpdatedAt = time.Now()
		r.products[id] = p
	}
	return nil
}
