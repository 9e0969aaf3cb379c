// Package promo evaluates promotional codes against a cart total.
package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/money"
)

var (
	ErrNotFound      = errors.New("promo: code not found")
	ErrExpired       = errors.New("promo: code expired or not yet valid")
	ErrMinSpend      = errors.New("promo: cart total below minimum spend")
	ErrExhausted     = errors.New("promo: usage limit reached")
	ErrNotApplicable = errors.New("promo: no eligible items in cart")
	ErrInvalidRule   = errors.New("promo: invalid rule")
)

// Kind distinguishes discount calculation.
const (
	KindPercent = "percent"
	KindFixed   = "fixed"
)

// Code is one promotional rule.
type Code struct {
	Code          string
	Kind          string
	PercentBps    int32
	AmountCents   int64
	MinSpendCents int64
	ValidFrom     time.Time
	ValidTo       time.Time
	UsageLimit    int32
	Categorias    []string
}

// Application is the result of applying a code.
type Application struct {
	Code          string `json:"codigo"`
	DiscountCents int64  `json:"descuento"`
	TotalCents    int64  `json:"total"`
}

// Line is one cart line as the engine sees it: the category it
// belongs to and its subtotal in centavos.
type Line struct {
	Categoria     string
	SubtotalCents int64
}

// Engine validates and applies codes, tracking per-code usage. Uses
// are consumed on completed orders, never on quotes.
type Engine struct {
	mu       sync.Mutex
	codes    map[string]Code
	used     map[string]int32
	consumed map[string]string // payment reference -> code
}

// NewEngine builds an engine from the configured rules.
func NewEngine(cfg config.PromosConfig) (*Engine, error) {
	e := &Engine{
		codes:    make(map[string]Code),
		used:     make(map[string]int32),
		consumed: make(map[string]string),
	}
	for _, rule := range cfg.Codigos {
		code, err := fromRule(rule)
		if err != nil {
			return nil, err
		}
		e.codes[code.Code] = code
	}
	return e, nil
}

func fromRule(rule config.PromoRule) (Code, error) {
	code := Code{
		Code:          normalize(rule.Code),
		Kind:          rule.Kind,
		PercentBps:    rule.PercentBps,
		AmountCents:   rule.AmountCents,
		MinSpendCents: rule.MinSpendCents,
		UsageLimit:    rule.UsageLimit,
		Categorias:    rule.Categorias,
	}
	if code.Code == "" {
		return Code{}, fmt.Errorf("%w: empty code", ErrInvalidRule)
	}
	switch code.Kind {
	case KindPercent:
		if code.PercentBps <= 0 || code.PercentBps > 10000 {
			return Code{}, fmt.Errorf("%w: %s percent_bps out of range", ErrInvalidRule, code.Code)
		}
	case KindFixed:
		if code.AmountCents <= 0 {
			return Code{}, fmt.Errorf("%w: %s requires a positive amount", ErrInvalidRule, code.Code)
		}
	default:
		return Code{}, fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidRule, code.Code, rule.Kind)
	}

	var err error
	if rule.ValidFrom != "" {
		if code.ValidFrom, err = time.Parse(time.RFC3339, rule.ValidFrom); err != nil {
			return Code{}, fmt.Errorf("%w: %s bad valid_from", ErrInvalidRule, code.Code)
		}
	}
	if rule.ValidTo != "" {
		if code.ValidTo, err = time.Parse(time.RFC3339, rule.ValidTo); err != nil {
			return Code{}, fmt.Errorf("%w: %s bad valid_to", ErrInvalidRule, code.Code)
		}
	}
	return code, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns the rule without consuming a use.
func (e *Engine) Lookup(code string) (Code, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.codes[normalize(code)]
	if !ok {
		return Code{}, ErrNotFound
	}
	return c, nil
}

// Apply validates the code against the cart and quotes the discount.
// It has no side effects: a use is only burned by Consume when an
// order completes. Category-scoped codes discount only the matching
// lines; the discount never exceeds the total.
func (e *Engine) Apply(_ context.Context, code string, totalCents int64, lines []Line) (Application, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := normalize(code)
	c, ok := e.codes[key]
	if !ok {
		return Application{}, ErrNotFound
	}

	now := time.Now()
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return Application{}, ErrExpired
	}
	if !c.ValidTo.IsZero() && now.After(c.ValidTo) {
		return Application{}, ErrExpired
	}
	if totalCents < c.MinSpendCents {
		return Application{}, ErrMinSpend
	}
	if c.UsageLimit > 0 && e.used[key] >= c.UsageLimit {
		return Application{}, ErrExhausted
	}

	base := totalCents
	if len(c.Categorias) > 0 {
		base = eligibleBase(c.Categorias, lines)
		if base <= 0 {
			return Application{}, ErrNotApplicable
		}
	}

	var discount int64
	switch c.Kind {
	case KindPercent:
		discount = money.PercentBps(base, c.PercentBps)
	case KindFixed:
		discount = c.AmountCents
		if discount > base {
			discount = base
		}
	}
	if discount > totalCents {
		discount = totalCents
	}

	return Application{
		Code:          key,
		DiscountCents: discount,
		TotalCents:    totalCents - discount,
	}, nil
}

func eligibleBase(categorias []string, lines []Line) int64 {
	var base int64
	for _, line := range lines {
		for _, cat := range categorias {
			if strings.EqualFold(line.Categoria, cat) {
				base += line.SubtotalCents
				break
			}
		}
	}
	return base
}

// Consume burns one use of a code for a completed order, idempotent
// by payment reference: the requeue loop and a storefront retry for
// the same order count once.
func (e *Engine) Consume(code, reference string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := normalize(code)
	if _, ok := e.consumed[reference]; ok {
		return nil
	}
	c, ok := e.codes[key]
	if !ok {
		return ErrNotFound
	}
	if c.UsageLimit > 0 && e.used[key] >= c.UsageLimit {
		return ErrExhausted
	}
	e.used[key]++
	e.consumed[reference] = key
	return nil
}

// AddCode registers a rule at runtime. Back-office only.
func (e *Engine) AddCode(rule config.PromoRule) error {
	code, err := fromRule(rule)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes[code.Code] = code
	return nil
}

// RemoveCode deletes a rule.
func (e *Engine) RemoveCode(code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := normalize(code)
	if _, ok := e.codes[key]; !ok {
		return ErrNotFound
	}
	delete(e.codes, key)
	delete(e.used, key)
	for ref, c := range e.consumed {
		if c == key {
			delete(e.consumed, ref)
		}
	}
	return nil
}
