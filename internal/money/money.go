package money

import (
	"errors"
	"fmt"
)

// Amounts are Colombian pesos expressed in centavos (minor units, int64).
// The gateway bills in centavos while the storefront displays whole pesos,
// so all arithmetic stays in minor units until rendering.

// ErrOverflow is returned when a cart computation exceeds int64 range.
var ErrOverflow = errors.New("money: amount overflow")

// ErrNegativeAmount is returned for amounts below zero.
var ErrNegativeAmount = errors.New("money: negative amount")

// CentsPerPeso is the minor-unit scale for COP.
const CentsPerPeso = 100

// FromPesos converts whole pesos to centavos.
func FromPesos(pesos int64) (int64, error) {
	if pesos < 0 {
		return 0, ErrNegativeAmount
	}
	if pesos > (1<<62)/CentsPerPeso {
		return 0, ErrOverflow
	}
	return pesos * CentsPerPeso, nil
}

// Line multiplies a unit price by a quantity with overflow checking.
func Line(unitCents int64, quantity int64) (int64, error) {
	if unitCents < 0 {
		return 0, ErrNegativeAmount
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("money: quantity must be positive, got %d", quantity)
	}
	if unitCents != 0 && quantity > (1<<62)/unitCents {
		return 0, ErrOverflow
	}
	return unitCents * quantity, nil
}

// Sum adds amounts with overflow checking.
func Sum(amounts ...int64) (int64, error) {
	var total int64
	for _, a := range amounts {
		if a < 0 {
			return 0, ErrNegativeAmount
		}
		if total > (1<<62)-a {
			return 0, ErrOverflow
		}
		total += a
	}
	return total, nil
}

// PercentBps applies a basis-point percentage (100 bps = 1%) rounding down.
func PercentBps(amountCents int64, bps int32) int64 {
	if amountCents <= 0 || bps <= 0 {
		return 0
	}
	return amountCents * int64(bps) / 10000
}

// FormatCOP renders centavos as a human-readable peso string ("$2.500").
func FormatCOP(cents int64) string {
	pesos := cents / CentsPerPeso
	neg := pesos < 0
	if neg {
		pesos = -pesos
	}

	digits := fmt.Sprintf("%d", pesos)
	var out []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, d)
	}
	if neg {
		return "-$" + string(out)
	}
	return "$" + string(out)
}
