package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supercasa/server/internal/auth"
	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/config"
	apierrors "github.com/supercasa/server/internal/errors"
	"github.com/supercasa/server/internal/promo"
	"github.com/supercasa/server/pkg/responders"
)

func writePromoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, promo.ErrNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePromoNotFound, "promo code not found")
	case errors.Is(err, promo.ErrExpired):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePromoExpired, "promo code expired or not yet valid")
	case errors.Is(err, promo.ErrExhausted):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePromoUsageLimitReached, "promo code usage limit reached")
	case errors.Is(err, promo.ErrMinSpend):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePromoNotApplicable, "cart total below the promo minimum")
	case errors.Is(err, promo.ErrNotApplicable):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePromoNotApplicable, "no cart items match the promo categories")
	default:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to apply promo")
	}
}

// cartPromoLines projects cart items onto the engine's view: one line
// per item with its category and subtotal.
func cartPromoLines(items []cart.Item) []promo.Line {
	lines := make([]promo.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, promo.Line{
			Categoria:     it.Categoria,
			SubtotalCents: it.PrecioCents * it.Cantidad,
		})
	}
	return lines
}

// validatePromo quotes a promo code against a cart total. Quoting
// never burns a use; that happens when the order completes.
func (h *handlers) validatePromo(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req struct {
		Codigo string `json:"codigo"`
		Total  int64  `json:"total"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	if req.Total <= 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "total must be positive")
		return
	}

	// Category-scoped codes need the cart lines; a missing cart just
	// means no category matches.
	var lines []promo.Line
	if c, err := h.carts.Get(r.Context(), userID); err == nil {
		lines = cartPromoLines(c.Items)
	}

	app, err := h.promos.Apply(r.Context(), req.Codigo, req.Total, lines)
	if err != nil {
		writePromoError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, app)
}

// PromoRuleRequest mirrors config.PromoRule for the admin API.
type PromoRuleRequest struct {
	Code          string   `json:"codigo"`
	Kind          string   `json:"tipo"`
	PercentBps    int32    `json:"porcentaje_bps,omitempty"`
	AmountCents   int64    `json:"monto,omitempty"`
	MinSpendCents int64    `json:"compra_minima,omitempty"`
	ValidFrom     string   `json:"valido_desde,omitempty"`
	ValidTo       string   `json:"valido_hasta,omitempty"`
	UsageLimit    int32    `json:"limite_usos,omitempty"`
	Categorias    []string `json:"categorias,omitempty"`
}

// addPromo registers a new code at runtime.
func (h *handlers) addPromo(w http.ResponseWriter, r *http.Request) {
	var req PromoRuleRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	rule := config.PromoRule{
		Code:          req.Code,
		Kind:          req.Kind,
		PercentBps:    req.PercentBps,
		AmountCents:   req.AmountCents,
		MinSpendCents: req.MinSpendCents,
		ValidFrom:     req.ValidFrom,
		ValidTo:       req.ValidTo,
		UsageLimit:    req.UsageLimit,
		Categorias:    req.Categorias,
	}

	if err := h.promos.AddCode(rule); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid promo rule")
		return
	}
	responders.JSON(w, http.StatusCreated, map[string]string{"codigo": rule.Code})
}

func (h *handlers) removePromo(w http.ResponseWriter, r *http.Request) {
	if err := h.promos.RemoveCode(chi.URLParam(r, "codigo")); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePromoNotFound, "promo code not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
