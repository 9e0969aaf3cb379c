package httpserver

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/supercasa/server/internal/errors"
	"github.com/supercasa/server/internal/logger"
	"github.com/supercasa/server/internal/wompi"
	"github.com/supercasa/server/pkg/responders"
)

// GatewayEvent is the inbound event envelope the gateway posts.
type GatewayEvent struct {
	Event string `json:"event"`
	Data  struct {
		Transaction wompi.Transaction `json:"transaction"`
	} `json:"data"`
	SentAt    string `json:"sent_at,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Signature struct {
		Properties []string `json:"properties"`
		Checksum   string   `json:"checksum"`
	} `json:"signature"`
}

// eventPropertyValue resolves one signed property path against the
// event payload. Unknown paths resolve to "" and fail the checksum.
func eventPropertyValue(ev GatewayEvent, property string) string {
	switch property {
	case "transaction.id":
		return ev.Data.Transaction.ID
	case "transaction.reference":
		return ev.Data.Transaction.Reference
	case "transaction.status":
		return ev.Data.Transaction.Status
	case "transaction.amount_in_cents":
		return strconv.FormatInt(ev.Data.Transaction.AmountInCents, 10)
	case "transaction.currency":
		return ev.Data.Transaction.Currency
	default:
		return ""
	}
}

// wompiWebhook ingests a gateway event. The checksum covers the signed
// property values plus the timestamp; a mismatch is rejected before
// the event touches any attempt. Verified events feed the polling
// fallback and resolve attempts early when terminal.
func (h *handlers) wompiWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	var ev GatewayEvent
	if err := decodeJSON(r.Body, &ev); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid event payload")
		return
	}

	values := make([]string, 0, len(ev.Signature.Properties))
	for _, p := range ev.Signature.Properties {
		values = append(values, eventPropertyValue(ev, p))
	}
	if len(values) == 0 || !h.gateway.VerifyEvent(values, ev.Timestamp, ev.Signature.Checksum) {
		log.Warn().
			Str("event", ev.Event).
			Str("reference", ev.Data.Transaction.Reference).
			Msg("webhook.checksum_mismatch")
		if h.metrics != nil {
			h.metrics.ObserveWebhook(ev.Event, "rejected", time.Since(start), 1)
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "event checksum mismatch")
		return
	}

	h.payments.RecordGatewayEvent(ev.Data.Transaction)
	if h.metrics != nil {
		h.metrics.ObserveWebhook(ev.Event, "accepted", time.Since(start), 1)
	}
	log.Info().
		Str("event", ev.Event).
		Str("reference", ev.Data.Transaction.Reference).
		Str("status", ev.Data.Transaction.Status).
		Msg("webhook.accepted")
	responders.JSON(w, http.StatusOK, map[string]string{"estado": "recibido"})
}
