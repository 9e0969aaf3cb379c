package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.PaymentsTotal == nil {
		t.Error("PaymentsTotal should be initialized")
	}
	if m.PaymentsByOutcome == nil {
		t.Error("PaymentsByOutcome should be initialized")
	}
	if m.PollTicksTotal == nil {
		t.Error("PollTicksTotal should be initialized")
	}
	if m.GatewayCallsTotal == nil {
		t.Error("GatewayCallsTotal should be initialized")
	}
	if m.OrdersTotal == nil {
		t.Error("OrdersTotal should be initialized")
	}
}

func TestObservePaymentResolved(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePaymentStarted("CARD")
	m.ObservePaymentResolved("CARD", "APPROVED", 5*time.Second, 250000)

	if count := promtest.ToFloat64(m.PaymentsTotal.WithLabelValues("CARD")); count != 1 {
		t.Errorf("expected 1 payment attempt, got %.0f", count)
	}
	if count := promtest.ToFloat64(m.PaymentsByOutcome.WithLabelValues("CARD", "APPROVED")); count != 1 {
		t.Errorf("expected 1 approved payment, got %.0f", count)
	}
	if amount := promtest.ToFloat64(m.PaymentAmountTotal.WithLabelValues("CARD")); amount != 250000 {
		t.Errorf("expected amount 250000, got %.0f", amount)
	}
}

func TestObservePaymentDeclinedDoesNotAddAmount(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePaymentResolved("PSE", "DECLINED", 30*time.Second, 100000)

	if amount := promtest.ToFloat64(m.PaymentAmountTotal.WithLabelValues("PSE")); amount != 0 {
		t.Errorf("declined payment should not add to amount, got %.0f", amount)
	}
}

func TestObserveGatewayCallError(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveGatewayCall("get_transaction", 100*time.Millisecond, errors.New("request timeout"))

	if count := promtest.ToFloat64(m.GatewayErrorsTotal.WithLabelValues("get_transaction", "timeout")); count != 1 {
		t.Errorf("expected 1 timeout error, got %.0f", count)
	}
}

func TestObserveOrderRequeued(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveOrder("NEQUI", 50000, true)
	m.ObserveOrder("CASH", 20000, false)

	if count := promtest.ToFloat64(m.RequeuedOrders); count != 1 {
		t.Errorf("expected 1 requeued order, got %.0f", count)
	}
	if count := promtest.ToFloat64(m.OrdersTotal.WithLabelValues("CASH")); count != 1 {
		t.Errorf("expected 1 cash order, got %.0f", count)
	}
}
