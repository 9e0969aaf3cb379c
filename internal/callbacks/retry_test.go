package callbacks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/supercasa/server/internal/config"
)

func waitForCalls(t *testing.T, counter *atomic.Int32, want int32, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d calls, got %d", want, counter.Load())
}

func TestNoopWhenUnconfigured(t *testing.T) {
	n := NewRetryableClient(config.CallbacksConfig{})
	if _, ok := n.(NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", n)
	}
}

func TestOrderConfirmedDelivers(t *testing.T) {
	var calls atomic.Int32
	var gotEvent OrderEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewDecoder(r.Body).Decode(&gotEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewRetryableClient(config.CallbacksConfig{
		OrderConfirmedURL: srv.URL,
		Headers:           map[string]string{"X-Api-Key": "k"},
	})
	n.OrderConfirmed(context.Background(), OrderEvent{
		OrderID:          "order-1",
		PaymentReference: "SC-1",
		TotalCents:       250000,
	})

	waitForCalls(t, &calls, 1, 2*time.Second)
	if gotEvent.EventID == "" {
		t.Fatal("event id must be filled in")
	}
	if gotEvent.EventType != "order.confirmed" {
		t.Fatalf("unexpected event type %q", gotEvent.EventType)
	}
}

func TestRetriesUntilSuccessWithStableEventID(t *testing.T) {
	var calls atomic.Int32
	seen := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev OrderEvent
		json.NewDecoder(r.Body).Decode(&ev)
		seen <- ev.EventID
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewRetryableClient(
		config.CallbacksConfig{
			OrderConfirmedURL: srv.URL,
			Retry:             config.RetryConfig{Enabled: true},
		},
		WithRetryConfig(RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Multiplier:      2.0,
			Timeout:         time.Second,
		}),
	)
	n.OrderConfirmed(context.Background(), OrderEvent{OrderID: "order-2"})

	waitForCalls(t, &calls, 3, 3*time.Second)

	first := <-seen
	for i := 0; i < 2; i++ {
		if id := <-seen; id != first {
			t.Fatalf("event id changed between retries: %q vs %q", first, id)
		}
	}
}
