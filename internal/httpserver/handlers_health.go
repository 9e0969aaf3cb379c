package httpserver

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/supercasa/server/internal/errors"
	"github.com/supercasa/server/pkg/responders"
)

// health reports liveness and process uptime.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(serverStartTime).Seconds()),
	})
}

// createSession mints an anonymous shopper session. The storefront has
// no accounts; a session token scopes the cart, orders, and payment
// attempts to one browser.
func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	userID := uuid.NewString()
	token, err := h.auth.Token(userID)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to create session")
		return
	}
	responders.JSON(w, http.StatusCreated, map[string]string{
		"user_id": userID,
		"token":   token,
	})
}
