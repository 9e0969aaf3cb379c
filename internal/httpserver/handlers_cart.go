package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supercasa/server/internal/auth"
	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/delivery"
	apierrors "github.com/supercasa/server/internal/errors"
	"github.com/supercasa/server/pkg/responders"
)

func writeCart(w http.ResponseWriter, c cart.Cart) {
	total, err := c.Total()
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidCartItem, "cart total overflows")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"productos": c.Items,
		"total":     total,
		"cantidad":  c.ItemCount(),
	})
}

// getCart returns the session cart. A missing cart is an empty one.
func (h *handlers) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load cart")
		return
	}
	writeCart(w, c)
}

// replaceCart swaps the whole cart contents in one call.
func (h *handlers) replaceCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Productos []cart.Item `json:"productos"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	c, err := h.carts.Replace(r.Context(), auth.UserID(r.Context()), req.Productos)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidCartItem, "invalid cart contents")
		return
	}
	writeCart(w, c)
}

func (h *handlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), auth.UserID(r.Context())); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to clear cart")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"productos": []cart.Item{}, "total": 0})
}

// addCartItem merges one product into the cart. A repeated product id
// bumps the quantity instead of duplicating the line.
func (h *handlers) addCartItem(w http.ResponseWriter, r *http.Request) {
	var item cart.Item
	if err := decodeJSON(r.Body, &item); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	c, err := h.carts.AddItem(r.Context(), auth.UserID(r.Context()), item)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidCartItem, "invalid cart item")
		return
	}
	writeCart(w, c)
}

// setCartQuantity sets a line's quantity; zero removes the line.
func (h *handlers) setCartQuantity(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	var req struct {
		Cantidad int64 `json:"cantidad"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	c, err := h.carts.SetQuantity(r.Context(), auth.UserID(r.Context()), itemID, req.Cantidad)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeCartNotFound, "item not in cart")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidCartItem, "invalid quantity")
		return
	}
	writeCart(w, c)
}

func (h *handlers) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to update cart")
		return
	}
	writeCart(w, c)
}

// restoreCart moves the stashed checkout cart back into the primary
// slot. Without a stash it is a no-op returning the current cart.
func (h *handlers) restoreCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Restore(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to restore cart")
		return
	}
	writeCart(w, c)
}

// BackupCartRequest snapshots the cart under a payment reference so an
// interrupted checkout can be reconciled server-side.
type BackupCartRequest struct {
	Referencia   string        `json:"referencia"`
	DatosEntrega delivery.Data `json:"datos_entrega"`
}

func (h *handlers) backupCart(w http.ResponseWriter, r *http.Request) {
	var req BackupCartRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	if req.Referencia == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "referencia is required")
		return
	}

	deliveryJSON, _ := json.Marshal(req.DatosEntrega)
	err := h.carts.Backup(r.Context(), auth.UserID(r.Context()), req.Referencia, deliveryJSON)
	if err != nil {
		if errors.Is(err, cart.ErrEmptyCart) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeEmptyCart, "cart is empty")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to back up cart")
		return
	}
	responders.JSON(w, http.StatusCreated, map[string]string{"referencia": req.Referencia})
}
