package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supercasa/server/internal/catalog"
	apierrors "github.com/supercasa/server/internal/errors"
	"github.com/supercasa/server/internal/logger"
	"github.com/supercasa/server/pkg/responders"
)

// listProducts returns the active catalog, optionally filtered by
// categoria. Reads go through the cache when one is configured.
func (h *handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context(), r.URL.Query().Get("categoria"))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to fetch products")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"productos": products})
}

func (h *handlers) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeProductNotFound, "product not found")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to fetch product")
		return
	}
	responders.JSON(w, http.StatusOK, p)
}

func (h *handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var p catalog.Product
	if err := decodeJSON(r.Body, &p); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	created, err := h.catalog.Create(r.Context(), p)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid product")
		return
	}
	log.Info().Str("product_id", created.ID).Msg("catalog.product_created")
	responders.JSON(w, http.StatusCreated, created)
}

func (h *handlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	var p catalog.Product
	if err := decodeJSON(r.Body, &p); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	p.ID = chi.URLParam(r, "id")

	updated, err := h.catalog.Update(r.Context(), p)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeProductNotFound, "product not found")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid product")
		return
	}
	responders.JSON(w, http.StatusOK, updated)
}

func (h *handlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeProductNotFound, "product not found")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to delete product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
