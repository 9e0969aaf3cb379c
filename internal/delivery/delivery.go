// Package delivery validates the address data collected before checkout.
// The complex has five towers of thirty floors each; anything outside
// that range is rejected before any payment attempt starts.
package delivery

import (
	"strconv"
	"strings"
)

const (
	MinPiso = 1
	MaxPiso = 30
)

// Data is the delivery address and contact info attached to an order.
type Data struct {
	TorreEntrega         string `json:"torre_entrega"`
	PisoEntrega          int    `json:"piso_entrega"`
	ApartamentoEntrega   string `json:"apartamento_entrega"`
	TelefonoContacto     string `json:"telefono_contacto"`
	InstruccionesEntrega string `json:"instrucciones_entrega"`
	Nombre               string `json:"nombre"`
	Email                string `json:"email"`
}

// FieldError reports a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

var validTorres = map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true}

// Validate checks the address against the complex layout. It returns
// every failing field so the caller can surface them all at once.
func Validate(d Data) []FieldError {
	var errs []FieldError

	if !validTorres[strings.TrimSpace(d.TorreEntrega)] {
		errs = append(errs, FieldError{
			Field:   "torre_entrega",
			Message: "torre must be one of 1 through 5",
		})
	}
	if d.PisoEntrega < MinPiso || d.PisoEntrega > MaxPiso {
		errs = append(errs, FieldError{
			Field:   "piso_entrega",
			Message: "piso must be between " + strconv.Itoa(MinPiso) + " and " + strconv.Itoa(MaxPiso),
		})
	}
	if strings.TrimSpace(d.ApartamentoEntrega) == "" {
		errs = append(errs, FieldError{
			Field:   "apartamento_entrega",
			Message: "apartamento is required",
		})
	}
	return errs
}

// Valid reports whether the data passes all checks.
func Valid(d Data) bool {
	return len(Validate(d)) == 0
}
