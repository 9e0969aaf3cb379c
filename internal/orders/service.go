package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/delivery"
	"github.com/supercasa/server/internal/metrics"
	"github.com/supercasa/server/internal/money"
)

// CreateRequest carries everything needed to materialize an order.
type CreateRequest struct {
	UserID           string
	Productos        []cart.Item
	Delivery         delivery.Data
	PaymentReference string
	PaymentStatus    string
	PaymentMethod    string
	TransactionID    string
	Requeued         bool
}

// Service wraps a Store with validation and idempotent creation.
type Service struct {
	store   Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewService creates an order service.
func NewService(store Store, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "orders").Logger(),
	}
}

// Create materializes an order, idempotent by payment reference: a
// second call with the same reference returns the existing order
// instead of an error or a duplicate.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Order, error) {
	if err := s.validate(req); err != nil {
		return Order{}, err
	}

	if existing, err := s.store.GetByReference(ctx, req.PaymentReference); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Order{}, err
	}

	total, err := lineTotal(req.Productos)
	if err != nil {
		return Order{}, err
	}

	o, err := s.store.Create(ctx, Order{
		UserID:           req.UserID,
		Productos:        req.Productos,
		TotalCents:       total,
		Delivery:         req.Delivery,
		PaymentReference: req.PaymentReference,
		PaymentStatus:    req.PaymentStatus,
		PaymentMethod:    req.PaymentMethod,
		TransactionID:    req.TransactionID,
		Requeued:         req.Requeued,
	})
	if errors.Is(err, ErrDuplicateReference) {
		// Lost a race with a concurrent creation for the same
		// reference. The winner's order is the right answer.
		return s.store.GetByReference(ctx, req.PaymentReference)
	}
	if err != nil {
		return Order{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveOrder(o.PaymentMethod, o.TotalCents, o.Requeued)
	}
	s.logger.Info().
		Str("order_id", o.ID).
		Str("reference", o.PaymentReference).
		Str("method", o.PaymentMethod).
		Int64("total_cents", o.TotalCents).
		Bool("requeued", o.Requeued).
		Msg("order.created")
	return o, nil
}

// CreateCash is the cash-on-delivery path: no gateway involvement,
// one insert with the cash method and pending-cash status.
func (s *Service) CreateCash(ctx context.Context, userID string, productos []cart.Item, d delivery.Data, reference string) (Order, error) {
	return s.Create(ctx, CreateRequest{
		UserID:           userID,
		Productos:        productos,
		Delivery:         d,
		PaymentReference: reference,
		PaymentStatus:    PaymentPendingCash,
		PaymentMethod:    MethodCash,
	})
}

func (s *Service) validate(req CreateRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("orders: user id required")
	}
	if len(req.Productos) == 0 {
		return fmt.Errorf("orders: empty cart")
	}
	for _, it := range req.Productos {
		if it.Cantidad < 1 || it.PrecioCents <= 0 {
			return fmt.Errorf("orders: invalid line %q", it.ID)
		}
	}
	if req.PaymentReference == "" {
		return fmt.Errorf("orders: payment reference required")
	}
	if errs := delivery.Validate(req.Delivery); len(errs) > 0 {
		return fmt.Errorf("orders: invalid delivery data: %v", errs[0])
	}
	return nil
}

func lineTotal(items []cart.Item) (int64, error) {
	lines := make([]int64, 0, len(items))
	for _, it := range items {
		line, err := money.Line(it.PrecioCents, it.Cantidad)
		if err != nil {
			return 0, err
		}
		lines = append(lines, line)
	}
	return money.Sum(lines...)
}

// GetByID returns one order.
func (s *Service) GetByID(ctx context.Context, id string) (Order, error) {
	return s.store.GetByID(ctx, id)
}

// GetByReference returns the order for a payment reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (Order, error) {
	return s.store.GetByReference(ctx, reference)
}

// ListByUser returns the user's order history, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

// Recent returns the user's newest order inside the freshness window.
func (s *Service) Recent(ctx context.Context, userID string, window time.Duration) (Order, error) {
	return s.store.RecentByUser(ctx, userID, window)
}

// UpdateStatus advances the fulfillment state. Back-office only.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) error {
	switch status {
	case StatusReceived, StatusPreparing, StatusDelivering, StatusDelivered, StatusCancelled:
	default:
		return fmt.Errorf("orders: unknown status %q", status)
	}
	return s.store.UpdateStatus(ctx, id, status)
}

// List returns recent orders for the back-office.
func (s *Service) List(ctx context.Context, limit int) ([]Order, error) {
	return s.store.List(ctx, limit)
}
