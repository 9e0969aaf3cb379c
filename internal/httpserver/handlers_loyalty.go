package httpserver

import (
	"errors"
	"net/http"

	"github.com/supercasa/server/internal/auth"
	apierrors "github.com/supercasa/server/internal/errors"
	"github.com/supercasa/server/internal/loyalty"
	"github.com/supercasa/server/pkg/responders"
)

// loyaltyBalance returns the session user's point balance.
func (h *handlers) loyaltyBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.loyalty.Balance(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load balance")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"puntos":   b.Points,
		"activado": h.loyalty.Enabled(),
	})
}

// redeemPoints converts points into a checkout discount.
func (h *handlers) redeemPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Puntos int64 `json:"puntos"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	red, err := h.loyalty.Redeem(r.Context(), auth.UserID(r.Context()), req.Puntos)
	switch {
	case errors.Is(err, loyalty.ErrDisabled):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "loyalty program is disabled")
		return
	case errors.Is(err, loyalty.ErrBelowMinimum):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "redemption below the minimum")
		return
	case errors.Is(err, loyalty.ErrInsufficientPoints):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInsufficientPoints, "not enough points")
		return
	case err != nil:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to redeem points")
		return
	}
	responders.JSON(w, http.StatusOK, red)
}
