package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/supercasa/server/internal/auth"
	"github.com/supercasa/server/internal/card"
	"github.com/supercasa/server/internal/delivery"
	apierrors "github.com/supercasa/server/internal/errors"
	"github.com/supercasa/server/internal/logger"
	"github.com/supercasa/server/internal/payment"
	"github.com/supercasa/server/internal/wompi"
	"github.com/supercasa/server/pkg/responders"
)

// CreatePaymentRequest opens a checkout attempt on one payment rail.
type CreatePaymentRequest struct {
	Metodo       string        `json:"metodo"`
	DatosEntrega delivery.Data `json:"datos_entrega"`
	Email        string        `json:"email"`
	Telefono     string        `json:"telefono,omitempty"`
	CodigoPromo  string        `json:"codigo_promo,omitempty"`

	// Card rail, server-side charge with a previously issued token.
	TokenTarjeta string `json:"token_tarjeta,omitempty"`
	Cuotas       int    `json:"cuotas,omitempty"`

	// PSE rail.
	TipoPersona   string `json:"tipo_persona,omitempty"`
	TipoDocumento string `json:"tipo_documento,omitempty"`
	Documento     string `json:"documento,omitempty"`
	CodigoBanco   string `json:"codigo_banco,omitempty"`
}

// CreatePaymentResponse carries everything the storefront needs to
// continue the chosen rail: widget bootstrap data for cards, the bank
// redirect for PSE, and the attempt state for everything else.
type CreatePaymentResponse struct {
	Referencia   string `json:"referencia"`
	Estado       string `json:"estado"`
	Monto        int64  `json:"monto"`
	Moneda       string `json:"moneda"`
	Firma        string `json:"firma,omitempty"`
	LlavePublica string `json:"llave_publica,omitempty"`
	URLBanco     string `json:"url_banco,omitempty"`
	Descuento    int64  `json:"descuento,omitempty"`
}

// createPayment starts a payment attempt for the session cart. The
// delivery data is validated before any network call so a bad
// apartment number never reaches the gateway.
func (h *handlers) createPayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	userID := auth.UserID(r.Context())

	var req CreatePaymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	method := payment.Method(strings.ToUpper(strings.TrimSpace(req.Metodo)))
	if !method.Valid() {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidMethod, "unknown payment method")
		return
	}

	if fieldErrs := delivery.Validate(req.DatosEntrega); len(fieldErrs) > 0 {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidDelivery, "delivery data is invalid", map[string]interface{}{
			"errores": fieldErrs,
		})
		return
	}

	c, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load cart")
		return
	}
	total, err := c.Total()
	if err != nil || total <= 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeEmptyCart, "cart is empty")
		return
	}

	var discount int64
	var promoCode string
	if req.CodigoPromo != "" {
		app, err := h.promos.Apply(r.Context(), req.CodigoPromo, total, cartPromoLines(c.Items))
		if err != nil {
			writePromoError(w, err)
			return
		}
		discount = app.DiscountCents
		total = app.TotalCents
		promoCode = app.Code
	}

	attempt, err := h.payments.Start(payment.StartRequest{
		UserID:      userID,
		Method:      method,
		AmountCents: total,
		PromoCode:   promoCode,
	})
	if err != nil {
		if errors.Is(err, payment.ErrAttemptInProgress) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentInProgress, "a payment is already in progress")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to start payment")
		return
	}

	deliveryJSON, _ := json.Marshal(req.DatosEntrega)
	if err := h.carts.Backup(r.Context(), userID, attempt.Reference, deliveryJSON); err != nil {
		h.payments.Cancel(attempt.Reference)
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to snapshot cart")
		return
	}
	// Park the cart in the temp slot so a cancelled checkout can
	// restore it.
	if err := h.carts.Stash(r.Context(), userID); err != nil {
		log.Warn().Err(err).Str("reference", attempt.Reference).Msg("payment.cart_stash_failed")
	}
	if h.metrics != nil {
		h.metrics.ObserveCartCheckout("started", len(c.Items))
	}

	resp := CreatePaymentResponse{
		Referencia: attempt.Reference,
		Estado:     string(attempt.State),
		Monto:      total,
		Moneda:     h.gateway.Currency(),
		Descuento:  discount,
	}

	// Cards without a token run through the browser widget; the widget
	// needs the reference, the integrity signature, and the public key.
	if method == payment.MethodCard && req.TokenTarjeta == "" {
		resp.Firma = attempt.Signature
		resp.LlavePublica = h.cfg.Wompi.PublicKey
		log.Info().Str("reference", attempt.Reference).Str("method", string(method)).Msg("payment.widget_opened")
		responders.JSON(w, http.StatusCreated, resp)
		return
	}

	tx, err := h.gateway.CreateTransaction(r.Context(), wompi.CreateTransactionRequest{
		Reference:     attempt.Reference,
		AmountInCents: total,
		CustomerEmail: req.Email,
		Method:        gatewayMethodInput(method, req),
		RedirectURL:   h.cfg.Wompi.RedirectURL,
	})
	if err != nil {
		h.payments.Cancel(attempt.Reference)
		if _, err := h.carts.Restore(r.Context(), userID); err != nil {
			log.Warn().Err(err).Msg("payment.cart_restore_failed")
		}
		log.Error().Err(err).Str("reference", attempt.Reference).Msg("payment.gateway_create_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeGatewayError, "gateway rejected the transaction")
		return
	}

	if method == payment.MethodDaviplata {
		// DaviPlata settles out of band in the user's app; the grace
		// wait gives them time before the first status check.
		attempt, err = h.payments.ReportWidgetResult(attempt.Reference, nil)
	} else {
		attempt, err = h.payments.ReportWidgetResult(attempt.Reference, &payment.WidgetResult{
			TransactionID: tx.ID,
			Status:        tx.Status,
		})
	}
	if err != nil && !errors.Is(err, payment.ErrInvalidTransition) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to track payment")
		return
	}

	resp.Estado = string(attempt.State)
	resp.URLBanco = tx.PaymentMethod.Extra.AsyncPaymentURL
	log.Info().
		Str("reference", attempt.Reference).
		Str("method", string(method)).
		Str("state", string(attempt.State)).
		Msg("payment.started")
	responders.JSON(w, http.StatusCreated, resp)
}

// gatewayMethodInput maps a rail plus request fields onto the gateway
// payment_method payload.
func gatewayMethodInput(method payment.Method, req CreatePaymentRequest) wompi.PaymentMethodInput {
	switch method {
	case payment.MethodCard:
		cuotas := req.Cuotas
		if cuotas <= 0 {
			cuotas = 1
		}
		return wompi.PaymentMethodInput{Type: wompi.MethodCard, Token: req.TokenTarjeta, Installments: cuotas}
	case payment.MethodNequi:
		return wompi.PaymentMethodInput{Type: wompi.MethodNequi, PhoneNumber: req.Telefono}
	case payment.MethodDaviplata:
		return wompi.PaymentMethodInput{
			Type:            wompi.MethodDaviplata,
			PhoneNumber:     req.Telefono,
			UserLegalID:     req.Documento,
			UserLegalIDType: req.TipoDocumento,
		}
	default:
		return wompi.PaymentMethodInput{
			Type:               wompi.MethodPSE,
			UserType:           req.TipoPersona,
			UserLegalID:        req.Documento,
			UserLegalIDType:    req.TipoDocumento,
			FinancialInstCode:  req.CodigoBanco,
			PaymentDescription: "Mercado Supercasa",
		}
	}
}

// TokenizeCardRequest carries raw card data for tokenization.
type TokenizeCardRequest struct {
	Numero  string `json:"numero"`
	CVC     string `json:"cvc"`
	Mes     int    `json:"mes"`
	Anio    int    `json:"anio"`
	Titular string `json:"titular"`
}

// tokenizeCard validates card data locally, then exchanges it for a
// single-use gateway token. Raw numbers are never logged or stored.
func (h *handlers) tokenizeCard(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req TokenizeCardRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	c := card.Card{
		Number:   req.Numero,
		CVV:      req.CVC,
		ExpMonth: req.Mes,
		ExpYear:  req.Anio,
		Holder:   req.Titular,
	}
	if errs := c.Validate(time.Now()); len(errs) > 0 {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidCard, "card validation failed", map[string]interface{}{
			"errores": errs,
		})
		return
	}

	token, err := h.gateway.TokenizeCard(r.Context(), wompi.CardTokenRequest{
		Number:     card.Normalize(req.Numero),
		CVC:        req.CVC,
		ExpMonth:   twoDigits(req.Mes),
		ExpYear:    twoDigits(req.Anio % 100),
		CardHolder: req.Titular,
	})
	if err != nil {
		log.Error().Err(err).Str("card", card.Mask(req.Numero)).Msg("payment.tokenize_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeTokenizeError, "failed to tokenize card")
		return
	}

	log.Info().Str("card", card.Mask(req.Numero)).Msg("payment.card_tokenized")
	responders.JSON(w, http.StatusOK, map[string]string{"token": token})
}

func twoDigits(n int) string {
	return fmt.Sprintf("%02d", n)
}

// attemptResponse is the storefront view of a payment attempt.
type attemptResponse struct {
	Referencia string `json:"referencia"`
	Estado     string `json:"estado"`
	Metodo     string `json:"metodo"`
	Monto      int64  `json:"monto"`
	Intentos   int    `json:"intentos"`
	PedidoID   string `json:"pedidoId,omitempty"`
	Detalle    string `json:"detalle,omitempty"`
}

func toAttemptResponse(a payment.Attempt) attemptResponse {
	return attemptResponse{
		Referencia: a.Reference,
		Estado:     string(a.State),
		Metodo:     string(a.Method),
		Monto:      a.AmountCents,
		Intentos:   a.PollAttempts,
		PedidoID:   a.OrderID,
		Detalle:    a.LastError,
	}
}

// verifyPayment returns the attempt state for a reference. When the
// widget callback result is passed as query parameters (?id=&estado=),
// it is folded into the state machine first: an APPROVED result
// resolves the attempt immediately, anything else hands it to polling.
// A claimed approval is cross-checked against the gateway before it
// can resolve anything; an unverifiable claim is left to polling.
func (h *handlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	reference := chi.URLParam(r, "reference")

	txID := r.URL.Query().Get("id")
	status := strings.ToUpper(r.URL.Query().Get("estado"))

	var (
		a   payment.Attempt
		err error
	)
	if txID != "" && status != "" {
		if status == wompi.StatusApproved {
			tx, lookupErr := h.gateway.TransactionByID(r.Context(), txID)
			switch {
			case lookupErr != nil || tx.Reference != reference:
				log.Warn().
					Str("reference", reference).
					Str("transaction_id", txID).
					Msg("payment.widget_approval_unverified")
				status = wompi.StatusPending
			default:
				status = tx.Status
			}
		}
		a, err = h.payments.ReportWidgetResult(reference, &payment.WidgetResult{
			TransactionID: txID,
			Status:        status,
		})
	} else {
		a, err = h.payments.Get(reference)
	}
	if errors.Is(err, payment.ErrNotFound) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound, "payment attempt not found")
		return
	}
	responders.JSON(w, http.StatusOK, toAttemptResponse(a))
}

// lookupTransaction proxies a gateway status lookup by transaction id.
func (h *handlers) lookupTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.gateway.TransactionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, wompi.ErrNotFound) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound, "transaction not found")
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeGatewayError, "gateway lookup failed")
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"id":         tx.ID,
		"referencia": tx.Reference,
		"estado":     tx.Status,
		"monto":      tx.AmountInCents,
	})
}

// confirmPayment handles the user's "I already paid" assertion. During
// the DaviPlata grace wait it starts polling early; after a TIMEOUT it
// runs one gateway cross-check.
func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	a, err := h.payments.ConfirmPaid(r.Context(), reference)
	switch {
	case errors.Is(err, payment.ErrNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound, "payment attempt not found")
		return
	case errors.Is(err, payment.ErrUnconfirmed):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentUnconfirmed, "gateway did not confirm the payment")
		return
	case errors.Is(err, payment.ErrInvalidTransition):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "attempt is not waiting for confirmation")
		return
	}
	responders.JSON(w, http.StatusOK, toAttemptResponse(a))
}

// cancelPayment aborts an attempt and hands the stashed cart back.
func (h *handlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	reference := chi.URLParam(r, "reference")
	userID := auth.UserID(r.Context())

	a, err := h.payments.Cancel(reference)
	if errors.Is(err, payment.ErrNotFound) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentNotFound, "payment attempt not found")
		return
	}

	if _, err := h.carts.Restore(r.Context(), userID); err != nil {
		log.Warn().Err(err).Str("reference", reference).Msg("payment.cart_restore_failed")
	}
	responders.JSON(w, http.StatusOK, toAttemptResponse(a))
}

// recentOrder is the short-circuit check the storefront runs before
// re-polling: an order created within the freshness window means the
// previous attempt already settled.
func (h *handlers) recentOrder(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	o, err := h.orders.Recent(r.Context(), userID, h.cfg.Payments.RecentOrderWindow.Duration)
	if err != nil {
		responders.JSON(w, http.StatusOK, map[string]any{"encontrado": false})
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"encontrado": true,
		"pedido":     o,
	})
}
