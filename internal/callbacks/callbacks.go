// Package callbacks delivers order-confirmed events to an operator
// endpoint, typically the back-office that dispatches the runner.
package callbacks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Notifier delivers order events to the configured callback URL.
type Notifier interface {
	OrderConfirmed(ctx context.Context, event OrderEvent)
}

// NoopNotifier ignores all events. Used when no callback URL is set.
type NoopNotifier struct{}

func (NoopNotifier) OrderConfirmed(context.Context, OrderEvent) {}

// OrderEvent is the payload posted when an order is confirmed.
// EventID is the idempotency key: consumers must deduplicate on it, a
// retried delivery carries the same ID.
type OrderEvent struct {
	EventID          string    `json:"eventId"`
	EventType        string    `json:"eventType"`
	EventTimestamp   time.Time `json:"eventTimestamp"`
	OrderID          string    `json:"orderId"`
	UserID           string    `json:"userId"`
	PaymentReference string    `json:"paymentReference"`
	PaymentMethod    string    `json:"paymentMethod"`
	TotalCents       int64     `json:"totalCents"`
	Torre            string    `json:"torre"`
	Piso             int       `json:"piso"`
	Apartamento      string    `json:"apartamento"`
}

// prepareOrderEvent fills idempotency metadata once, before any
// serialization, so every retry carries identical bytes.
func prepareOrderEvent(event *OrderEvent) {
	if event.EventID == "" {
		event.EventID = "evt_" + randomHex(12)
	}
	if event.EventType == "" {
		event.EventType = "order.confirmed"
	}
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = time.Now().UTC()
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return time.Now().UTC().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}
