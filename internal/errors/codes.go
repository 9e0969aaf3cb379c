package errors

// ErrorCode represents a machine-readable error identifier for frontend error handling.
type ErrorCode string

// Validation errors (request input validation, caught before any network call)
const (
	ErrCodeMissingField    ErrorCode = "missing_field"
	ErrCodeInvalidField    ErrorCode = "invalid_field"
	ErrCodeInvalidAmount   ErrorCode = "invalid_amount"
	ErrCodeEmptyCart       ErrorCode = "empty_cart"
	ErrCodeInvalidCartItem ErrorCode = "invalid_cart_item"
	ErrCodeInvalidDelivery ErrorCode = "invalid_delivery"
	ErrCodeInvalidCard     ErrorCode = "invalid_card"
	ErrCodeInvalidMethod   ErrorCode = "invalid_payment_method"
)

// Authentication errors - intercepted distinctly so clients can run the
// cart-preservation flow before forcing a re-login.
const (
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeForbidden    ErrorCode = "forbidden"
)

// Payment outcome errors - legitimate terminal outcomes, not software faults.
const (
	ErrCodePaymentDeclined    ErrorCode = "payment_declined"
	ErrCodePaymentCancelled   ErrorCode = "payment_cancelled"
	ErrCodePaymentUnconfirmed ErrorCode = "payment_unconfirmed"
	ErrCodePaymentInProgress  ErrorCode = "payment_in_progress"
	ErrCodeReferenceReused    ErrorCode = "reference_reused"
)

// Resource/state errors
const (
	ErrCodeProductNotFound ErrorCode = "product_not_found"
	ErrCodeOrderNotFound   ErrorCode = "order_not_found"
	ErrCodePaymentNotFound ErrorCode = "payment_not_found"
	ErrCodePromoNotFound   ErrorCode = "promo_not_found"
	ErrCodeCartNotFound    ErrorCode = "cart_not_found"
	ErrCodeOutOfStock      ErrorCode = "out_of_stock"
)

// Promo-specific errors
const (
	ErrCodePromoExpired           ErrorCode = "promo_expired"
	ErrCodePromoUsageLimitReached ErrorCode = "promo_usage_limit_reached"
	ErrCodePromoNotApplicable     ErrorCode = "promo_not_applicable"
)

// Loyalty errors
const (
	ErrCodeInsufficientPoints ErrorCode = "insufficient_points"
)

// External service errors (gateway, webhooks)
const (
	ErrCodeGatewayError  ErrorCode = "gateway_error"
	ErrCodeNetworkError  ErrorCode = "network_error"
	ErrCodeTokenizeError ErrorCode = "tokenize_error"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient network/service issues, not validation failures.
// Per the storefront's recovery policy, even retryable failures require a new
// explicit user action; the flag only informs client messaging.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeGatewayError,
		ErrCodeNetworkError,
		ErrCodePaymentUnconfirmed:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - client validation errors
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeEmptyCart,
		ErrCodeInvalidCartItem,
		ErrCodeInvalidDelivery,
		ErrCodeInvalidCard,
		ErrCodeInvalidMethod:
		return 400

	// 401/403 - auth errors, intercepted globally by the storefront
	case ErrCodeUnauthorized:
		return 401
	case ErrCodeForbidden:
		return 403

	// 402 Payment Required - payment outcomes
	case ErrCodePaymentDeclined,
		ErrCodePaymentCancelled,
		ErrCodePaymentUnconfirmed:
		return 402

	// 404 Not Found
	case ErrCodeProductNotFound,
		ErrCodeOrderNotFound,
		ErrCodePaymentNotFound,
		ErrCodePromoNotFound,
		ErrCodeCartNotFound:
		return 404

	// 409 Conflict - business rule conflicts
	case ErrCodePromoExpired,
		ErrCodePromoUsageLimitReached,
		ErrCodePromoNotApplicable,
		ErrCodeReferenceReused,
		ErrCodePaymentInProgress,
		ErrCodeOutOfStock,
		ErrCodeInsufficientPoints:
		return 409

	// 502 Bad Gateway - external service errors
	case ErrCodeGatewayError,
		ErrCodeNetworkError,
		ErrCodeTokenizeError:
		return 502

	default:
		return 500
	}
}
