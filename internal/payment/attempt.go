// Package payment owns the checkout reconciliation state machine. A
// payment attempt converges on exactly one terminal outcome despite
// racing signals from the widget callback, gateway polls, inbound
// gateway events, and manual user confirmation. Each attempt owns at
// most one polling task, cancelled explicitly when superseded.
package payment

import (
	"errors"
	"time"
)

// State is the lifecycle position of a payment attempt.
type State string

const (
	StateInitiated     State = "INITIATED"
	StateWidgetOpen    State = "WIDGET_OPEN"
	StateDaviplataWait State = "DAVIPLATA_WAIT"
	StatePolling       State = "POLLING"
	StateApproved      State = "APPROVED"
	StateDeclined      State = "DECLINED"
	StateUserCancelled State = "USER_CANCELLED"
	StateTimeout       State = "TIMEOUT"
)

// Terminal reports whether the state never changes again, except for
// TIMEOUT, which admits one manual-confirmation cross-check.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateDeclined, StateUserCancelled, StateTimeout:
		return true
	}
	return false
}

// Method is the payment rail chosen by the user. The rail is always
// explicit: the engine never infers it from timing.
type Method string

const (
	MethodCard      Method = "CARD"
	MethodNequi     Method = "NEQUI"
	MethodDaviplata Method = "DAVIPLATA"
	MethodPSE       Method = "PSE"
)

// Valid reports whether m is a known digital rail.
func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodNequi, MethodDaviplata, MethodPSE:
		return true
	}
	return false
}

// Attempt is the in-memory record of one checkout attempt.
type Attempt struct {
	Reference     string    `json:"reference"`
	UserID        string    `json:"user_id"`
	Method        Method    `json:"method"`
	AmountCents   int64     `json:"amount_cents"`
	State         State     `json:"state"`
	Signature     string    `json:"signature,omitempty"`
	PromoCode     string    `json:"promo_code,omitempty"`
	PollAttempts  int       `json:"poll_attempts"`
	TransactionID string    `json:"transaction_id,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Errors returned by the engine.
var (
	ErrNotFound          = errors.New("payment: attempt not found")
	ErrAttemptInProgress = errors.New("payment: an attempt is already in progress for this user")
	ErrInvalidTransition = errors.New("payment: invalid state transition")
	ErrUnconfirmed       = errors.New("payment: gateway did not confirm the payment")
)
