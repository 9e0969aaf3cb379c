// Package wompi is the payment gateway boundary. The client validates
// its own configuration at construction time, so a misconfigured
// merchant key fails fast instead of surfacing as malformed requests
// deep inside a checkout.
package wompi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/circuitbreaker"
	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/httputil"
	"github.com/supercasa/server/internal/metrics"
)

// Transaction statuses as reported by the gateway.
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusPending  = "PENDING"
	StatusError    = "ERROR"
	StatusVoided   = "VOIDED"
)

// Payment method types accepted by the gateway.
const (
	MethodCard      = "CARD"
	MethodNequi     = "NEQUI"
	MethodDaviplata = "DAVIPLATA"
	MethodPSE       = "PSE"
)

// ErrNotFound is returned when no transaction matches the query.
var ErrNotFound = errors.New("wompi: transaction not found")

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wompi: gateway returned %d: %s", e.StatusCode, e.Reason)
}

// Transaction is the gateway's view of one payment.
type Transaction struct {
	ID            string `json:"id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
	AmountInCents int64  `json:"amount_in_cents"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email,omitempty"`
	PaymentMethod struct {
		Type  string `json:"type"`
		Extra struct {
			AsyncPaymentURL string `json:"async_payment_url,omitempty"`
			TicketID        string `json:"ticket_id,omitempty"`
		} `json:"extra"`
	} `json:"payment_method"`
	CreatedAt   string `json:"created_at,omitempty"`
	FinalizedAt string `json:"finalized_at,omitempty"`
}

// IsTerminal reports whether the status will never change again.
func IsTerminal(status string) bool {
	switch status {
	case StatusApproved, StatusDeclined, StatusError, StatusVoided:
		return true
	}
	return false
}

// Client talks to the gateway REST API.
type Client struct {
	cfg     config.WompiConfig
	http    *http.Client
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewClient validates the gateway configuration and builds a client.
// Both keys, the integrity secret, and a parseable base URL are
// required; anything missing is a configuration error, not a runtime
// surprise.
func NewClient(cfg config.WompiConfig, breaker *circuitbreaker.Manager, m *metrics.Metrics, logger zerolog.Logger) (*Client, error) {
	var errs []error
	if cfg.PublicKey == "" {
		errs = append(errs, errors.New("wompi: public_key is required"))
	}
	if cfg.PrivateKey == "" {
		errs = append(errs, errors.New("wompi: private_key is required"))
	}
	if cfg.IntegritySecret == "" {
		errs = append(errs, errors.New("wompi: integrity_secret is required"))
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("wompi: invalid base_url: %w", err))
	}
	if len(cfg.Currency) != 3 {
		errs = append(errs, errors.New("wompi: currency must be a 3-letter code"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg:     cfg,
		http:    httputil.NewClient(timeout),
		breaker: breaker,
		metrics: m,
		logger:  logger.With().Str("component", "wompi").Logger(),
	}, nil
}

// Sign computes the integrity signature for an attempt about to open
// the checkout widget.
func (c *Client) Sign(reference string, amountCents int64) string {
	return IntegritySignature(reference, amountCents, c.cfg.Currency, c.cfg.IntegritySecret)
}

// Currency returns the configured settlement currency.
func (c *Client) Currency() string { return c.cfg.Currency }

// VerifyEvent checks an inbound event checksum against the events
// secret.
func (c *Client) VerifyEvent(propertyValues []string, timestamp int64, checksum string) bool {
	if c.cfg.EventsSecret == "" {
		return false
	}
	return EventChecksum(propertyValues, timestamp, c.cfg.EventsSecret) == checksum
}

// TransactionByReference looks up the latest transaction for a
// payment reference.
func (c *Client) TransactionByReference(ctx context.Context, reference string) (Transaction, error) {
	var out struct {
		Data []Transaction `json:"data"`
	}
	endpoint := c.cfg.BaseURL + "/v1/transactions?reference=" + url.QueryEscape(reference)
	if err := c.do(ctx, "get_transaction", http.MethodGet, endpoint, c.cfg.PrivateKey, nil, &out); err != nil {
		return Transaction{}, err
	}
	if len(out.Data) == 0 {
		return Transaction{}, ErrNotFound
	}
	// The gateway returns newest first.
	return out.Data[0], nil
}

// TransactionByID looks up a transaction by its gateway ID.
func (c *Client) TransactionByID(ctx context.Context, id string) (Transaction, error) {
	var out struct {
		Data Transaction `json:"data"`
	}
	endpoint := c.cfg.BaseURL + "/v1/transactions/" + url.PathEscape(id)
	err := c.do(ctx, "get_transaction", http.MethodGet, endpoint, c.cfg.PrivateKey, nil, &out)
	if err != nil {
		return Transaction{}, err
	}
	if out.Data.ID == "" {
		return Transaction{}, ErrNotFound
	}
	return out.Data, nil
}

// CardTokenRequest carries the raw card fields for tokenization.
type CardTokenRequest struct {
	Number     string `json:"number"`
	CVC        string `json:"cvc"`
	ExpMonth   string `json:"exp_month"`
	ExpYear    string `json:"exp_year"`
	CardHolder string `json:"card_holder"`
}

// TokenizeCard exchanges raw card data for a single-use token. Uses
// the public key: raw card numbers never touch the private key path.
func (c *Client) TokenizeCard(ctx context.Context, req CardTokenRequest) (string, error) {
	var out struct {
		Status string `json:"status"`
		Data   struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	endpoint := c.cfg.BaseURL + "/v1/tokens/cards"
	if err := c.do(ctx, "tokenize_card", http.MethodPost, endpoint, c.cfg.PublicKey, req, &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", &APIError{StatusCode: http.StatusBadGateway, Reason: "tokenization returned no token"}
	}
	return out.Data.ID, nil
}

// AcceptanceToken fetches the merchant presigned acceptance token
// required on transaction creation.
func (c *Client) AcceptanceToken(ctx context.Context) (string, error) {
	var out struct {
		Data struct {
			PresignedAcceptance struct {
				AcceptanceToken string `json:"acceptance_token"`
			} `json:"presigned_acceptance"`
		} `json:"data"`
	}
	endpoint := c.cfg.BaseURL + "/v1/merchants/" + url.PathEscape(c.cfg.PublicKey)
	if err := c.do(ctx, "acceptance_token", http.MethodGet, endpoint, "", nil, &out); err != nil {
		return "", err
	}
	return out.Data.PresignedAcceptance.AcceptanceToken, nil
}

// PaymentMethodInput selects the rail for a created transaction.
type PaymentMethodInput struct {
	Type               string `json:"type"`
	Token              string `json:"token,omitempty"`
	Installments       int    `json:"installments,omitempty"`
	PhoneNumber        string `json:"phone_number,omitempty"`
	UserType           string `json:"user_type,omitempty"`
	UserLegalID        string `json:"user_legal_id,omitempty"`
	UserLegalIDType    string `json:"user_legal_id_type,omitempty"`
	FinancialInstCode  string `json:"financial_institution_code,omitempty"`
	PaymentDescription string `json:"payment_description,omitempty"`
}

// CreateTransactionRequest starts a gateway transaction for the
// non-widget rails (Nequi, DaviPlata, PSE, tokenized card).
type CreateTransactionRequest struct {
	Reference     string
	AmountInCents int64
	CustomerEmail string
	Method        PaymentMethodInput
	RedirectURL   string
}

// CreateTransaction posts a new transaction with the integrity
// signature computed server-side.
func (c *Client) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (Transaction, error) {
	acceptance, err := c.AcceptanceToken(ctx)
	if err != nil {
		return Transaction{}, err
	}

	redirect := req.RedirectURL
	if redirect == "" {
		redirect = c.cfg.RedirectURL
	}

	body := map[string]interface{}{
		"reference":        req.Reference,
		"amount_in_cents":  req.AmountInCents,
		"currency":         c.cfg.Currency,
		"customer_email":   req.CustomerEmail,
		"signature":        c.Sign(req.Reference, req.AmountInCents),
		"acceptance_token": acceptance,
		"payment_method":   req.Method,
		"redirect_url":     redirect,
	}

	var out struct {
		Data Transaction `json:"data"`
	}
	endpoint := c.cfg.BaseURL + "/v1/transactions"
	if err := c.do(ctx, "create_transaction", http.MethodPost, endpoint, c.cfg.PrivateKey, body, &out); err != nil {
		return Transaction{}, err
	}
	if out.Data.ID == "" {
		return Transaction{}, &APIError{StatusCode: http.StatusBadGateway, Reason: "transaction creation returned no id"}
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, operation, method, endpoint, bearer string, body, out interface{}) error {
	start := time.Now()
	call := func() (interface{}, error) {
		return nil, c.doOnce(ctx, method, endpoint, bearer, body, out)
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(circuitbreaker.ServiceGateway, call)
	} else {
		_, err = call()
	}

	if c.metrics != nil {
		c.metrics.ObserveGatewayCall(operation, time.Since(start), err)
	}
	if err != nil {
		c.logger.Warn().
			Str("operation", operation).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("gateway.call_failed")
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, endpoint, bearer string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("wompi: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("wompi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("wompi: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("wompi: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := gatewayReason(raw)
		return &APIError{StatusCode: resp.StatusCode, Reason: reason}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("wompi: decode response: %w", err)
		}
	}
	return nil
}

func gatewayReason(raw []byte) string {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Reason != "" {
		return e.Error.Reason
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
