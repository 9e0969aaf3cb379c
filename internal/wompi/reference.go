package wompi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	referencePrefix = "SC"
	cashPrefix      = "SC-CASH"
)

// NewReference generates a payment reference unique across concurrent
// sessions: prefix, millisecond timestamp, a random hex suffix, and a
// random 4-digit number.
func NewReference() string {
	return buildReference(referencePrefix)
}

// NewCashReference generates a reference for the cash-on-delivery
// path, which never touches the gateway but still needs a traceable
// order key.
func NewCashReference() string {
	return buildReference(cashPrefix)
}

// IsCashReference reports whether a reference belongs to the cash path.
func IsCashReference(ref string) bool {
	return strings.HasPrefix(ref, cashPrefix+"-")
}

func buildReference(prefix string) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for payment references.
		panic(fmt.Sprintf("wompi: reference entropy unavailable: %v", err))
	}
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		panic(fmt.Sprintf("wompi: reference entropy unavailable: %v", err))
	}
	return fmt.Sprintf("%s-%d-%s-%04d",
		prefix,
		time.Now().UnixMilli(),
		hex.EncodeToString(b),
		n.Int64(),
	)
}
