// Package cart manages the per-user shopping cart, including the
// temporary slot used to hand the cart across a forced re-login and
// the by-reference backup taken when a payment attempt starts.
package cart

import (
	"context"
	"errors"
	"time"

	"github.com/supercasa/server/internal/money"
)

// ErrNotFound is returned when no cart exists for the given key.
var ErrNotFound = errors.New("cart: not found")

// ErrEmptyCart is returned when an operation requires at least one item.
var ErrEmptyCart = errors.New("cart: empty")

// Item is a single cart line. Cantidad is always at least 1; a line
// dropping to zero is removed, never stored.
type Item struct {
	ID          string `json:"id" bson:"id"`
	Nombre      string `json:"nombre" bson:"nombre"`
	PrecioCents int64  `json:"precio" bson:"precio"`
	Cantidad    int64  `json:"cantidad" bson:"cantidad"`
	Imagen      string `json:"imagen,omitempty" bson:"imagen,omitempty"`
	Categoria   string `json:"categoria,omitempty" bson:"categoria,omitempty"`
	Stock       int64  `json:"stock,omitempty" bson:"stock,omitempty"`
}

// Cart is one user's cart contents for a session.
type Cart struct {
	UserID    string    `json:"user_id" bson:"user_id"`
	Items     []Item    `json:"items" bson:"items"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Total sums all lines with overflow checking.
func (c Cart) Total() (int64, error) {
	var lines []int64
	for _, it := range c.Items {
		line, err := money.Line(it.PrecioCents, it.Cantidad)
		if err != nil {
			return 0, err
		}
		lines = append(lines, line)
	}
	return money.Sum(lines...)
}

// ItemCount returns the total unit count across all lines.
func (c Cart) ItemCount() int64 {
	var n int64
	for _, it := range c.Items {
		n += it.Cantidad
	}
	return n
}

// Backup is the by-reference snapshot saved when a payment attempt
// starts, so an interrupted checkout can be reconciled later.
type Backup struct {
	Reference string    `json:"referencia" bson:"reference"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Items     []Item    `json:"productos" bson:"items"`
	Delivery  []byte    `json:"datos_entrega,omitempty" bson:"delivery,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Store persists carts. The primary and temp slots mirror the two
// client-side storage keys: at most one of the two is active per user.
type Store interface {
	Get(ctx context.Context, userID string) (Cart, error)
	Save(ctx context.Context, c Cart) error
	Delete(ctx context.Context, userID string) error

	GetTemp(ctx context.Context, userID string) (Cart, error)
	SaveTemp(ctx context.Context, c Cart) error
	DeleteTemp(ctx context.Context, userID string) error

	SaveBackup(ctx context.Context, b Backup) error
	GetBackup(ctx context.Context, reference string) (Backup, error)

	Close() error
}
