// Package types is the shared vocabulary for the trading core — Symbol,
// Price, Quantity, and the domain models (Order, Position, Trade, Signal,
// Fill) built on top of them. It has no dependency on any other internal
// package, so every other package may import it.
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrKind identifies the taxonomy of primitive-construction failures
// (spec §7: InvalidSymbol / InvalidPrice / InvalidQuantity / DecimalOverflow).
type ErrKind string

const (
	ErrInvalidSymbol   ErrKind = "InvalidSymbol"
	ErrInvalidPrice    ErrKind = "InvalidPrice"
	ErrInvalidQuantity ErrKind = "InvalidQuantity"
	ErrDecimalOverflow ErrKind = "DecimalOverflow"
)

// PrimitiveError is returned by the primitive constructors. It always
// carries a Kind so callers can branch on the error taxonomy with
// errors.As instead of string matching.
type PrimitiveError struct {
	Kind ErrKind
	Msg  string
}

func (e *PrimitiveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newErr(kind ErrKind, format string, args ...any) *PrimitiveError {
	return &PrimitiveError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// decimalScale is the minimum number of fractional digits Price and
// Quantity preserve (spec §3: "at least 8 fractional digits of precision").
const decimalScale = 8

// Symbol is a normalized uppercase BASE-QUOTE pair, e.g. "BTC-USDT".
// The zero value is not a valid Symbol; only NewSymbol produces one.
type Symbol struct {
	norm string
}

// NewSymbol validates and normalizes a symbol string. Exactly one "-"
// separator must be present with non-empty parts on both sides.
func NewSymbol(raw string) (Symbol, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Symbol{}, newErr(ErrInvalidSymbol, "empty symbol")
	}
	upper := strings.ToUpper(trimmed)
	parts := strings.Split(upper, "-")
	if len(parts) != 2 {
		return Symbol{}, newErr(ErrInvalidSymbol, "expected exactly one '-' separator, got %d in %q", len(parts)-1, raw)
	}
	base, quote := parts[0], parts[1]
	if base == "" || quote == "" {
		return Symbol{}, newErr(ErrInvalidSymbol, "base and quote must both be non-empty in %q", raw)
	}
	return Symbol{norm: base + "-" + quote}, nil
}

// MustSymbol is a test/config-loading convenience that panics on failure.
func MustSymbol(raw string) Symbol {
	s, err := NewSymbol(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the normalized "BASE-QUOTE" form.
func (s Symbol) String() string { return s.norm }

// Base returns the base asset, e.g. "BTC" for "BTC-USDT".
func (s Symbol) Base() string { return strings.SplitN(s.norm, "-", 2)[0] }

// Quote returns the quote asset, e.g. "USDT" for "BTC-USDT".
func (s Symbol) Quote() string { return strings.SplitN(s.norm, "-", 2)[1] }

// Equal compares two symbols on their normalized form.
func (s Symbol) Equal(o Symbol) bool { return s.norm == o.norm }

// IsZero reports whether s was never constructed via NewSymbol.
func (s Symbol) IsZero() bool { return s.norm == "" }

func (s Symbol) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.norm + `"`), nil
}

func (s *Symbol) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	sym, err := NewSymbol(raw)
	if err != nil {
		return err
	}
	*s = sym
	return nil
}

// Price is a strictly-positive fixed-point decimal. There is no path to
// construct a zero or negative Price.
type Price struct {
	d decimal.Decimal
	// set distinguishes the zero value (unconstructed) from a valid Price;
	// Price is never exported with a public zero-value meaning.
	set bool
}

// NewPrice validates and wraps a decimal value as a Price. Must be > 0.
func NewPrice(d decimal.Decimal) (Price, error) {
	if d.Sign() <= 0 {
		return Price{}, newErr(ErrInvalidPrice, "price must be strictly positive, got %s", d.String())
	}
	return Price{d: d.Truncate(decimalScale + 10), set: true}, nil
}

// NewPriceFromString parses and validates a Price from a decimal string.
func NewPriceFromString(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, newErr(ErrInvalidPrice, "cannot parse %q: %v", s, err)
	}
	return NewPrice(d)
}

// MustPrice panics on an invalid price; for tests and static config.
func MustPrice(s string) Price {
	p, err := NewPriceFromString(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Decimal returns the underlying arbitrary-precision value.
func (p Price) Decimal() decimal.Decimal { return p.d }

func (p Price) String() string { return p.d.String() }

func (p Price) IsZero() bool { return !p.set }

func (p Price) Cmp(o Price) int { return p.d.Cmp(o.d) }

func (p Price) GreaterThan(o Price) bool { return p.d.GreaterThan(o.d) }
func (p Price) LessThan(o Price) bool    { return p.d.LessThan(o.d) }
func (p Price) Equal(o Price) bool       { return p.d.Equal(o.d) }

func (p Price) Mul(q Quantity) decimal.Decimal { return p.d.Mul(q.d) }

func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.d.String()), nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	d, err := decimal.NewFromString(strings.Trim(string(b), `"`))
	if err != nil {
		return newErr(ErrInvalidPrice, "cannot parse %q: %v", string(b), err)
	}
	np, err := NewPrice(d)
	if err != nil {
		return err
	}
	*p = np
	return nil
}

// Quantity is a non-negative fixed-point decimal (zero permitted).
type Quantity struct {
	d   decimal.Decimal
	set bool
}

// NewQuantity validates and wraps a decimal value as a Quantity. Must be >= 0.
func NewQuantity(d decimal.Decimal) (Quantity, error) {
	if d.Sign() < 0 {
		return Quantity{}, newErr(ErrInvalidQuantity, "quantity must be non-negative, got %s", d.String())
	}
	return Quantity{d: d.Truncate(decimalScale + 10), set: true}, nil
}

// NewQuantityFromString parses and validates a Quantity from a decimal string.
func NewQuantityFromString(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, newErr(ErrInvalidQuantity, "cannot parse %q: %v", s, err)
	}
	return NewQuantity(d)
}

// MustQuantity panics on an invalid quantity; for tests and static config.
func MustQuantity(s string) Quantity {
	q, err := NewQuantityFromString(s)
	if err != nil {
		panic(err)
	}
	return q
}

// ZeroQuantity is the valid zero quantity.
func ZeroQuantity() Quantity { q, _ := NewQuantity(decimal.Zero); return q }

func (q Quantity) Decimal() decimal.Decimal { return q.d }

func (q Quantity) String() string { return q.d.String() }

func (q Quantity) IsZero() bool { return !q.set || q.d.IsZero() }

func (q Quantity) Cmp(o Quantity) int { return q.d.Cmp(o.d) }

func (q Quantity) GreaterThan(o Quantity) bool { return q.d.GreaterThan(o.d) }
func (q Quantity) LessThan(o Quantity) bool    { return q.d.LessThan(o.d) }
func (q Quantity) Equal(o Quantity) bool       { return q.d.Equal(o.d) }

func (q Quantity) Add(o Quantity) Quantity {
	r, _ := NewQuantity(q.d.Add(o.d))
	return r
}

// Sub subtracts o from q. Callers must ensure q >= o; a negative result
// would violate the Quantity invariant and is reported as an error rather
// than silently clamped.
func (q Quantity) Sub(o Quantity) (Quantity, error) {
	return NewQuantity(q.d.Sub(o.d))
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.d.String()), nil
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	d, err := decimal.NewFromString(strings.Trim(string(b), `"`))
	if err != nil {
		return newErr(ErrInvalidQuantity, "cannot parse %q: %v", string(b), err)
	}
	nq, err := NewQuantity(d)
	if err != nil {
		return err
	}
	*q = nq
	return nil
}
