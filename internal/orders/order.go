// Package orders persists confirmed purchases. Order creation is
// idempotent by payment reference: retries, duplicate confirmation
// signals, and the background requeue loop all converge on a single
// order row per reference.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/delivery"
)

// ErrNotFound is returned when no order matches the query.
var ErrNotFound = errors.New("orders: not found")

// ErrDuplicateReference is returned by stores on a unique-constraint
// conflict for the payment reference.
var ErrDuplicateReference = errors.New("orders: payment reference already used")

// Payment methods recorded on an order.
const (
	MethodCard      = "CARD"
	MethodNequi     = "NEQUI"
	MethodDaviplata = "DAVIPLATA"
	MethodPSE       = "PSE"
	MethodCash      = "EFECTIVO"
)

// Payment statuses recorded on an order.
const (
	PaymentApproved    = "APROBADO"
	PaymentPendingCash = "PENDIENTE_EFECTIVO"
)

// Fulfillment states for the back-office.
const (
	StatusReceived   = "RECIBIDO"
	StatusPreparing  = "EN_PREPARACION"
	StatusDelivering = "EN_CAMINO"
	StatusDelivered  = "ENTREGADO"
	StatusCancelled  = "CANCELADO"
)

// Order is one confirmed purchase.
type Order struct {
	ID               string        `json:"pedidoId" bson:"id"`
	UserID           string        `json:"user_id" bson:"user_id"`
	Productos        []cart.Item   `json:"productos" bson:"productos"`
	TotalCents       int64         `json:"total" bson:"total_cents"`
	Delivery         delivery.Data `json:"entrega" bson:"delivery"`
	PaymentReference string        `json:"payment_reference" bson:"payment_reference"`
	PaymentStatus    string        `json:"payment_status" bson:"payment_status"`
	PaymentMethod    string        `json:"payment_method" bson:"payment_method"`
	TransactionID    string        `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
	Status           string        `json:"status" bson:"status"`
	Requeued         bool          `json:"-" bson:"requeued"`
	CreatedAt        time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" bson:"updated_at"`
}

// Store persists orders.
type Store interface {
	Create(ctx context.Context, o Order) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)
	GetByReference(ctx context.Context, reference string) (Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// RecentByUser returns the newest order for the user created
	// within the window, for the checkout short-circuit check.
	RecentByUser(ctx context.Context, userID string, window time.Duration) (Order, error)
	UpdateStatus(ctx context.Context, id, status string) error
	List(ctx context.Context, limit int) ([]Order, error)
	Close() error
}
