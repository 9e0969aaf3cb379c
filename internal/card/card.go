package card

import (
	"strings"
	"time"
)

// Brand identifies the card network inferred from leading digits.
type Brand string

const (
	BrandVisa       Brand = "VISA"
	BrandMastercard Brand = "MASTERCARD"
	BrandAmex       Brand = "AMEX"
	BrandDiscover   Brand = "DISCOVER"
	BrandUnknown    Brand = "UNKNOWN"
)

// Validation is entirely synchronous and never touches the network;
// tokenization happens elsewhere, only after a card passes these checks.

// Normalize strips spaces and dashes from a card number.
func Normalize(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DetectBrand infers the card network from the leading digits.
// Visa 4; Mastercard 51-55 and 22-27; Amex 34/37; Discover 6011/644/65.
func DetectBrand(number string) Brand {
	n := Normalize(number)
	if n == "" {
		return BrandUnknown
	}

	switch {
	case n[0] == '4':
		return BrandVisa
	case len(n) >= 2 && n[0] == '5' && n[1] >= '1' && n[1] <= '5':
		return BrandMastercard
	case len(n) >= 2 && n[0] == '2' && n[1] >= '2' && n[1] <= '7':
		return BrandMastercard
	case len(n) >= 2 && n[0] == '3' && (n[1] == '4' || n[1] == '7'):
		return BrandAmex
	case strings.HasPrefix(n, "6011") || strings.HasPrefix(n, "644") || strings.HasPrefix(n, "65"):
		return BrandDiscover
	default:
		return BrandUnknown
	}
}

// Luhn reports whether the number passes the Luhn checksum.
func Luhn(number string) bool {
	n := Normalize(number)
	if len(n) < 12 || len(n) > 19 {
		return false
	}

	var sum int
	double := false
	for i := len(n) - 1; i >= 0; i-- {
		d := int(n[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidExpiry checks the month/year pair against the given current time.
// Years may be two-digit (interpreted as 20xx) or four-digit.
func ValidExpiry(month, year int, now time.Time) bool {
	if month < 1 || month > 12 {
		return false
	}
	if year < 100 {
		year += 2000
	}
	currentYear, currentMonth := now.Year(), int(now.Month())
	if year < currentYear || year > currentYear+20 {
		return false
	}
	if year == currentYear && month < currentMonth {
		return false
	}
	return true
}

// ValidCVV checks the security code length: 4 digits for Amex, 3 otherwise.
func ValidCVV(cvv string, brand Brand) bool {
	for _, r := range cvv {
		if r < '0' || r > '9' {
			return false
		}
	}
	if brand == BrandAmex {
		return len(cvv) == 4
	}
	return len(cvv) == 3
}

// Mask keeps only the last four digits for display and logging.
func Mask(number string) string {
	n := Normalize(number)
	if len(n) <= 4 {
		return "****"
	}
	return "**** **** **** " + n[len(n)-4:]
}

// ValidationError carries a field-scoped message for inline display.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Card holds raw input fields prior to tokenization.
type Card struct {
	Number   string
	CVV      string
	ExpMonth int
	ExpYear  int
	Holder   string
}

// Validate runs all synchronous checks and returns every failure found.
func (c Card) Validate(now time.Time) []ValidationError {
	var errs []ValidationError

	brand := DetectBrand(c.Number)
	if brand == BrandUnknown {
		errs = append(errs, ValidationError{Field: "number", Message: "unrecognized card brand"})
	}
	if !Luhn(c.Number) {
		errs = append(errs, ValidationError{Field: "number", Message: "invalid card number"})
	}
	if !ValidExpiry(c.ExpMonth, c.ExpYear, now) {
		errs = append(errs, ValidationError{Field: "expiry", Message: "card expired or invalid date"})
	}
	if !ValidCVV(c.CVV, brand) {
		errs = append(errs, ValidationError{Field: "cvv", Message: "invalid security code"})
	}
	if strings.TrimSpace(c.Holder) == "" {
		errs = append(errs, ValidationError{Field: "holder", Message: "card holder name required"})
	}
	return errs
}
