package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Supercasa backend.
type Metrics struct {
	// Payment metrics
	PaymentsTotal      *prometheus.CounterVec
	PaymentsByOutcome  *prometheus.CounterVec
	PaymentAmountTotal *prometheus.CounterVec
	PaymentDuration    *prometheus.HistogramVec
	PollTicksTotal     *prometheus.CounterVec
	PollAttemptsToEnd  *prometheus.HistogramVec

	// Gateway call metrics
	GatewayCallsTotal   *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec
	GatewayErrorsTotal  *prometheus.CounterVec

	// Order metrics
	OrdersTotal      *prometheus.CounterVec
	OrderAmountTotal *prometheus.CounterVec
	RequeuedOrders   prometheus.Counter

	// Cart metrics
	CartCheckoutsTotal *prometheus.CounterVec
	CartItemsTotal     prometheus.Counter

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_payments_total",
				Help: "Total number of payment attempts started",
			},
			[]string{"method"},
		),
		PaymentsByOutcome: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_payments_outcome_total",
				Help: "Payment attempts by terminal state",
			},
			[]string{"method", "state"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_payment_amount_total",
				Help: "Approved payment amount in COP centavos",
			},
			[]string{"method"},
		),
		PaymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supercasa_payment_duration_seconds",
				Help:    "Time from attempt start to terminal state",
				Buckets: []float64{0.5, 1, 3, 5, 10, 30, 60, 120, 180},
			},
			[]string{"method", "state"},
		),
		PollTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_poll_ticks_total",
				Help: "Total status poll ticks against the payment gateway",
			},
			[]string{"result"},
		),
		PollAttemptsToEnd: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supercasa_poll_attempts_to_resolution",
				Help:    "Poll attempts consumed before a polling attempt resolved",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 40, 60},
			},
			[]string{"state"},
		),

		GatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_gateway_calls_total",
				Help: "Total HTTP calls to the payment gateway",
			},
			[]string{"operation"},
		),
		GatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supercasa_gateway_call_duration_seconds",
				Help:    "Duration of payment gateway calls",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		GatewayErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_gateway_errors_total",
				Help: "Total payment gateway call errors",
			},
			[]string{"operation", "error_type"},
		),

		OrdersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_orders_total",
				Help: "Total orders created",
			},
			[]string{"payment_method"},
		),
		OrderAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_order_amount_total",
				Help: "Total order value in COP centavos",
			},
			[]string{"payment_method"},
		),
		RequeuedOrders: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "supercasa_orders_requeued_total",
				Help: "Orders created by the approved-but-unordered requeue loop",
			},
		),

		CartCheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_cart_checkouts_total",
				Help: "Total cart checkouts",
			},
			[]string{"status"},
		),
		CartItemsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "supercasa_cart_items_total",
				Help: "Total items added to carts",
			},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_webhooks_total",
				Help: "Total outbound webhook deliveries",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_webhook_retries_total",
				Help: "Total webhook retry attempts",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supercasa_webhook_duration_seconds",
				Help:    "Time taken for webhook delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supercasa_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supercasa_db_query_duration_seconds",
				Help:    "Database query duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObservePaymentStarted records a new payment attempt.
func (m *Metrics) ObservePaymentStarted(method string) {
	m.PaymentsTotal.WithLabelValues(method).Inc()
}

// ObservePaymentResolved records an attempt reaching a terminal state.
func (m *Metrics) ObservePaymentResolved(method, state string, duration time.Duration, amountCents int64) {
	m.PaymentsByOutcome.WithLabelValues(method, state).Inc()
	m.PaymentDuration.WithLabelValues(method, state).Observe(duration.Seconds())
	if state == "APPROVED" {
		m.PaymentAmountTotal.WithLabelValues(method).Add(float64(amountCents))
	}
}

// ObservePollTick records one poll against the gateway.
func (m *Metrics) ObservePollTick(result string) {
	m.PollTicksTotal.WithLabelValues(result).Inc()
}

// ObservePollResolution records how many ticks a polling attempt consumed.
func (m *Metrics) ObservePollResolution(state string, attempts int) {
	m.PollAttemptsToEnd.WithLabelValues(state).Observe(float64(attempts))
}

// ObserveGatewayCall records a call to the payment gateway.
func (m *Metrics) ObserveGatewayCall(operation string, duration time.Duration, err error) {
	m.GatewayCallsTotal.WithLabelValues(operation).Inc()
	m.GatewayCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.GatewayErrorsTotal.WithLabelValues(operation, categorizeError(err)).Inc()
	}
}

// ObserveOrder records a created order.
func (m *Metrics) ObserveOrder(paymentMethod string, amountCents int64, requeued bool) {
	m.OrdersTotal.WithLabelValues(paymentMethod).Inc()
	m.OrderAmountTotal.WithLabelValues(paymentMethod).Add(float64(amountCents))
	if requeued {
		m.RequeuedOrders.Inc()
	}
}

// ObserveCartCheckout records a cart checkout.
func (m *Metrics) ObserveCartCheckout(status string, itemCount int) {
	m.CartCheckoutsTotal.WithLabelValues(status).Inc()
	m.CartItemsTotal.Add(float64(itemCount))
}

// ObserveWebhook records an outbound webhook delivery.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType).Inc()
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func categorizeError(err error) string {
	s := err.Error()
	switch {
	case containsSubstr(s, "timeout"), containsSubstr(s, "deadline"):
		return "timeout"
	case containsSubstr(s, "connection"):
		return "connection"
	case containsSubstr(s, "not found"):
		return "not_found"
	default:
		return "other"
	}
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
