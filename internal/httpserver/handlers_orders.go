package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/supercasa/server/internal/auth"
	"github.com/supercasa/server/internal/callbacks"
	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/catalog"
	"github.com/supercasa/server/internal/delivery"
	apierrors "github.com/supercasa/server/internal/errors"
	"github.com/supercasa/server/internal/logger"
	"github.com/supercasa/server/internal/orders"
	"github.com/supercasa/server/internal/payment"
	"github.com/supercasa/server/internal/wompi"
	"github.com/supercasa/server/pkg/responders"
)

// CreateOrderRequest creates an order. Cash orders go straight in; a
// digital order needs the reference of an approved payment attempt.
type CreateOrderRequest struct {
	MetodoPago     string        `json:"metodo_pago,omitempty"`
	ReferenciaPago string        `json:"referencia_pago,omitempty"`
	Productos      []cart.Item   `json:"productos,omitempty"`
	DatosEntrega   delivery.Data `json:"datos_entrega"`
}

// createOrder inserts an order. Cash on delivery needs no gateway at
// all: one insert, status PENDIENTE_EFECTIVO. Digital orders are
// normally created by the reconciliation engine; this path covers the
// storefront retry after a transient failure and stays idempotent by
// payment reference.
func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	userID := auth.UserID(r.Context())

	var req CreateOrderRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	productos := req.Productos
	if len(productos) == 0 {
		c, err := h.carts.Get(r.Context(), userID)
		if err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load cart")
			return
		}
		productos = c.Items
	}

	if len(productos) == 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeEmptyCart, "cart is empty")
		return
	}
	if fieldErrs := delivery.Validate(req.DatosEntrega); len(fieldErrs) > 0 {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidDelivery, "delivery data is invalid", map[string]interface{}{
			"errores": fieldErrs,
		})
		return
	}

	method := strings.ToUpper(strings.TrimSpace(req.MetodoPago))
	if method == "" || method == orders.MethodCash {
		h.createCashOrder(w, r, userID, productos, req.DatosEntrega)
		return
	}

	// Digital path: the gateway must have approved the attempt.
	reference := req.ReferenciaPago
	if reference == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "referencia_pago is required for digital payments")
		return
	}

	// A retry for a reference the engine already settled replays the
	// existing order without touching stock again.
	if o, err := h.orders.GetByReference(r.Context(), reference); err == nil {
		responders.JSON(w, http.StatusCreated, o)
		return
	}

	a, err := h.payments.Get(reference)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound, "payment attempt not found")
		return
	}
	if a.State != payment.StateApproved {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentUnconfirmed, "payment is not approved")
		return
	}

	lines := stockLines(productos)
	if err := h.catalog.ReserveStock(r.Context(), lines); err != nil {
		h.writeOrderError(w, err)
		return
	}

	o, err := h.orders.Create(r.Context(), orders.CreateRequest{
		UserID:           userID,
		Productos:        productos,
		Delivery:         req.DatosEntrega,
		PaymentReference: reference,
		PaymentStatus:    orders.PaymentApproved,
		PaymentMethod:    string(a.Method),
		TransactionID:    a.TransactionID,
	})
	if err != nil {
		if relErr := h.catalog.ReleaseStock(r.Context(), lines); relErr != nil {
			log.Warn().Err(relErr).Str("reference", reference).Msg("order.stock_release_failed")
		}
		h.writeOrderError(w, err)
		return
	}

	if a.PromoCode != "" {
		if err := h.promos.Consume(a.PromoCode, reference); err != nil {
			log.Warn().Err(err).Str("reference", reference).Str("promo", a.PromoCode).Msg("order.promo_consume_failed")
		}
	}

	h.finishOrder(r, userID, o)
	log.Info().Str("order_id", o.ID).Str("reference", reference).Msg("order.created_from_attempt")
	responders.JSON(w, http.StatusCreated, o)
}

func (h *handlers) createCashOrder(w http.ResponseWriter, r *http.Request, userID string, productos []cart.Item, d delivery.Data) {
	log := logger.FromContext(r.Context())

	lines := stockLines(productos)
	if err := h.catalog.ReserveStock(r.Context(), lines); err != nil {
		h.writeOrderError(w, err)
		return
	}

	reference := wompi.NewCashReference()
	o, err := h.orders.CreateCash(r.Context(), userID, productos, d, reference)
	if err != nil {
		if relErr := h.catalog.ReleaseStock(r.Context(), lines); relErr != nil {
			log.Warn().Err(relErr).Str("reference", reference).Msg("order.stock_release_failed")
		}
		h.writeOrderError(w, err)
		return
	}

	h.finishOrder(r, userID, o)
	log.Info().Str("order_id", o.ID).Str("reference", reference).Msg("order.created_cash")
	responders.JSON(w, http.StatusCreated, o)
}

// stockLines aggregates cart items into product id -> quantity.
func stockLines(items []cart.Item) map[string]int64 {
	lines := make(map[string]int64, len(items))
	for _, it := range items {
		lines[it.ID] += it.Cantidad
	}
	return lines
}

// finishOrder runs the post-insert bookkeeping shared by both paths:
// clear the session cart, credit loyalty points, notify downstream.
func (h *handlers) finishOrder(r *http.Request, userID string, o orders.Order) {
	log := logger.FromContext(r.Context())

	if err := h.carts.Clear(r.Context(), userID); err != nil {
		log.Warn().Err(err).Str("order_id", o.ID).Msg("order.cart_clear_failed")
	}
	if h.metrics != nil {
		h.metrics.ObserveCartCheckout("completed", len(o.Productos))
	}
	if _, err := h.loyalty.EarnFromOrder(r.Context(), userID, o.TotalCents); err != nil {
		log.Warn().Err(err).Str("order_id", o.ID).Msg("order.loyalty_earn_failed")
	}
	h.notifier.OrderConfirmed(r.Context(), callbacks.OrderEvent{
		OrderID:          o.ID,
		UserID:           o.UserID,
		TotalCents:       o.TotalCents,
		PaymentMethod:    o.PaymentMethod,
		PaymentReference: o.PaymentReference,
		Torre:            o.Delivery.TorreEntrega,
		Piso:             o.Delivery.PisoEntrega,
		Apartamento:      o.Delivery.ApartamentoEntrega,
	})
}

func (h *handlers) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeOrderNotFound, "order not found")
	case errors.Is(err, catalog.ErrOutOfStock):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeOutOfStock, "insufficient stock for one or more items")
	case errors.Is(err, catalog.ErrNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeProductNotFound, "product no longer available")
	default:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to create order")
	}
}

// listOrders returns the session user's order history, newest first.
func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	limit := 20
	if raw := r.URL.Query().Get("limite"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	list, err := h.orders.ListByUser(r.Context(), userID, limit)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to list orders")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"pedidos": list})
}

// listAllOrders is the back-office order feed.
func (h *handlers) listAllOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limite"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	list, err := h.orders.List(r.Context(), limit)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to list orders")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"pedidos": list})
}

// updateOrderStatus moves an order along the fulfillment pipeline.
func (h *handlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Estado string `json:"estado"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	if err := h.orders.UpdateStatus(r.Context(), id, strings.ToUpper(req.Estado)); err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeOrderNotFound, "order not found")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid order status")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]string{"id": id, "estado": strings.ToUpper(req.Estado)})
}
