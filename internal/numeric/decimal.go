// Package numeric is the single choke point for money math. Every price,
// amount, fee and balance in the engine is a shopspring decimal; floats are
// never used for monetary values.
package numeric

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a value leaves the 30-digit envelope
	// (up to 22 integer digits with 8 fractional digits).
	ErrOverflow = errors.New("numeric overflow")
	// ErrScale is returned when a value cannot be represented at the target
	// precision without rounding, in contexts that forbid rounding.
	ErrScale = errors.New("value not representable at target precision")
	// ErrDivisionByZero is returned by Div for a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
)

// Scale is the fractional scale carried by every monetary column.
const Scale int32 = 8

// maxAbs bounds the representable magnitude: 30 total digits, 8 fractional.
var maxAbs = decimal.New(1, 22)

// divPrecision is the internal precision used before banker's rounding.
const divPrecision int32 = 16

// CheckRange validates that d fits the monetary envelope.
func CheckRange(d decimal.Decimal) error {
	if d.Abs().Cmp(maxAbs) >= 0 {
		return ErrOverflow
	}
	return nil
}

// Add returns a+b, guarding the envelope.
func Add(a, b decimal.Decimal) (decimal.Decimal, error) {
	s := a.Add(b)
	if err := CheckRange(s); err != nil {
		return decimal.Zero, err
	}
	return s, nil
}

// Sub returns a-b, guarding the envelope.
func Sub(a, b decimal.Decimal) (decimal.Decimal, error) {
	s := a.Sub(b)
	if err := CheckRange(s); err != nil {
		return decimal.Zero, err
	}
	return s, nil
}

// Mul returns a*b, guarding the envelope.
func Mul(a, b decimal.Decimal) (decimal.Decimal, error) {
	p := a.Mul(b)
	if err := CheckRange(p); err != nil {
		return decimal.Zero, err
	}
	return p, nil
}

// Div returns a/b rounded to scale using banker's rounding.
func Div(a, b decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q := a.DivRound(b, divPrecision).RoundBank(scale)
	if err := CheckRange(q); err != nil {
		return decimal.Zero, err
	}
	return q, nil
}

// DivFloor returns a/b truncated toward zero at scale. Budget math uses this
// so a capped amount never exceeds what the budget can pay for.
func DivFloor(a, b decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.QuoRem(b, scale)
	if err := CheckRange(q); err != nil {
		return decimal.Zero, err
	}
	return q, nil
}

// TruncateAmount quantizes an amount to the given precision, flooring toward
// zero so a holder is never credited more than was actually traded.
func TruncateAmount(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Truncate(precision)
}

// CeilAmount quantizes up to the given precision. Used for reservations, which
// must never under-lock.
func CeilAmount(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.RoundCeil(precision)
}

// RoundBank rounds half-to-even at the given precision.
func RoundBank(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.RoundBank(precision)
}

// IsQuantized reports whether d is already a multiple of 10^-precision.
func IsQuantized(d decimal.Decimal, precision int32) bool {
	return d.Equal(d.Truncate(precision))
}

// RequireQuantized returns ErrScale unless d sits on the 10^-precision grid.
// Price grids forbid silent rounding.
func RequireQuantized(d decimal.Decimal, precision int32) error {
	if !IsQuantized(d, precision) {
		return ErrScale
	}
	return nil
}

// UnitAt returns the smallest representable amount at the given precision.
func UnitAt(precision int32) decimal.Decimal {
	return decimal.New(1, -precision)
}

// IsDust reports whether d is a positive residual smaller than one unit at the
// given precision. Dust remainders are treated as zero by the match loop.
func IsDust(d decimal.Decimal, precision int32) bool {
	return d.IsPositive() && d.LessThan(UnitAt(precision))
}
