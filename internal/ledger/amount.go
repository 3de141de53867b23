// Package ledger provides the fixed-point monetary primitive used by every
// settlement calculation. Amounts are unsigned 256-bit integers denominated in
// the settlement token's smallest unit (USDC, 6 decimals). There is no floating
// point anywhere in payout math: every addition is overflow-checked, every
// subtraction is sufficiency-checked and every division floors.
package ledger

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the settlement token.
const Decimals = 6

// Unit is one whole token expressed in base units.
const Unit uint64 = 1_000_000

// BpsDenominator is the basis-point scale (10000 = 100%).
const BpsDenominator uint64 = 10_000

var (
	ErrOverflow            = errors.New("overflow")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Amount is an immutable unsigned token amount in base units. The zero value
// is a valid zero amount.
type Amount struct {
	v uint256.Int
}

// New returns an Amount of u base units.
func New(u uint64) Amount {
	var a Amount
	a.v.SetUint64(u)
	return a
}

// USDC returns an Amount of n whole tokens.
func USDC(n uint64) Amount {
	a, err := New(n).Mul(New(Unit))
	if err != nil {
		// n * 1e6 always fits in 256 bits.
		panic(err)
	}
	return a
}

// Add returns a+b or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, fmt.Errorf("ledger: %s + %s: %w", a, b, ErrOverflow)
	}
	return out, nil
}

// Sub returns a-b or ErrInsufficientBalance when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.Lt(&b.v) {
		return Amount{}, fmt.Errorf("ledger: need %s, have %s: %w", b, a, ErrInsufficientBalance)
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

// Mul returns a*b or ErrOverflow.
func (a Amount) Mul(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.MulOverflow(&a.v, &b.v); overflow {
		return Amount{}, fmt.Errorf("ledger: %s * %s: %w", a, b, ErrOverflow)
	}
	return out, nil
}

// MulDiv returns floor(a*b/d) computed with a 512-bit intermediate product.
func MulDiv(a, b, d Amount) (Amount, error) {
	if d.IsZero() {
		return Amount{}, fmt.Errorf("ledger: %s * %s / 0: %w", a, b, ErrDivisionByZero)
	}
	var out Amount
	if _, overflow := out.v.MulDivOverflow(&a.v, &b.v, &d.v); overflow {
		return Amount{}, fmt.Errorf("ledger: %s * %s / %s: %w", a, b, d, ErrOverflow)
	}
	return out, nil
}

// Bps returns floor(a * bps / 10000). Rates above 100% are capped at 100%, so
// the result never exceeds a.
func (a Amount) Bps(bps uint64) Amount {
	if bps > BpsDenominator {
		bps = BpsDenominator
	}
	out, err := MulDiv(a, New(bps), New(BpsDenominator))
	if err != nil {
		// bps <= denominator keeps the quotient <= a.
		panic(err)
	}
	return out
}

// Sum adds all amounts, failing on the first overflow.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, x := range amounts {
		var err error
		if total, err = total.Add(x); err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Lt(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a.Gt(b) {
		return a
	}
	return b
}

func (a Amount) Cmp(b Amount) int  { return a.v.Cmp(&b.v) }
func (a Amount) Lt(b Amount) bool  { return a.v.Lt(&b.v) }
func (a Amount) Gt(b Amount) bool  { return a.v.Gt(&b.v) }
func (a Amount) Eq(b Amount) bool  { return a.v.Eq(&b.v) }
func (a Amount) Gte(b Amount) bool { return !a.v.Lt(&b.v) }
func (a Amount) IsZero() bool      { return a.v.IsZero() }

// IsEven reports whether the amount is divisible by two.
func (a Amount) IsEven() bool { return a.v[0]&1 == 0 }

// Half returns floor(a/2).
func (a Amount) Half() Amount {
	var out Amount
	out.v.Rsh(&a.v, 1)
	return out
}

// Uint64 returns the amount as a uint64 and whether it fit.
func (a Amount) Uint64() (uint64, bool) {
	return a.v.Uint64(), a.v.IsUint64()
}

// String returns the amount in base units as a decimal string.
func (a Amount) String() string {
	return a.v.Dec()
}

// Decimal returns the amount in whole tokens for display.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.v.ToBig(), -Decimals)
}

// Display formats the amount in whole tokens with all six decimals.
func (a Amount) Display() string {
	return a.Decimal().StringFixed(Decimals)
}

// Parse reads a base-unit decimal string ("1500000").
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("ledger: parse %q: %w", s, ErrInvalidAmount)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("ledger: parse %q: %w", s, ErrInvalidAmount)
	}
	return Amount{v: *v}, nil
}

// ParseUSDC reads a whole-token decimal string ("1.5") with at most six
// fractional digits.
func ParseUSDC(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("ledger: parse usdc %q: %w", s, ErrInvalidAmount)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("ledger: parse usdc %q: negative: %w", s, ErrInvalidAmount)
	}
	base := d.Shift(Decimals)
	if !base.Equal(base.Truncate(0)) {
		return Amount{}, fmt.Errorf("ledger: parse usdc %q: more than %d decimals: %w", s, Decimals, ErrInvalidAmount)
	}
	return Parse(base.StringFixed(0))
}

// MarshalText encodes the amount as base units.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a base-unit decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes the amount as a quoted base-unit string so values above
// 2^53 survive JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare base-unit integers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*a = Amount{}
		return nil
	}
	return a.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer; amounts are stored as NUMERIC/TEXT.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("ledger: scan negative amount %d: %w", v, ErrInvalidAmount)
		}
		*a = New(uint64(v))
		return nil
	default:
		return fmt.Errorf("ledger: scan unsupported type %T", src)
	}
}
