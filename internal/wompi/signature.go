package wompi

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// IntegritySignature computes the widget integrity signature: the hex
// SHA-256 of reference, amount in cents, currency, and the integrity
// secret concatenated in that order. This matches the gateway's
// documented integrity-check scheme.
func IntegritySignature(reference string, amountCents int64, currency, secret string) string {
	h := sha256.New()
	h.Write([]byte(reference))
	h.Write([]byte(strconv.FormatInt(amountCents, 10)))
	h.Write([]byte(currency))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// EventChecksum computes the expected checksum for an inbound gateway
// event: hex SHA-256 of the listed property values, the event
// timestamp, and the events secret, concatenated in order.
func EventChecksum(propertyValues []string, timestamp int64, secret string) string {
	h := sha256.New()
	for _, v := range propertyValues {
		h.Write([]byte(v))
	}
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}
