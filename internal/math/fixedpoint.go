package math

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrUnderflow      = errors.New("arithmetic underflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// ArithmeticError is raised (as a panic) by checked operations. Callers that
// run a unit of work convert it back into an error with Recover.
type ArithmeticError struct {
	Op   string
	A, B Uint
	Err  error
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("%s(%s, %s): %v", e.Op, e.A, e.B, e.Err)
}

func (e *ArithmeticError) Unwrap() error { return e.Err }

func fault(op string, a, b Uint, err error) {
	panic(&ArithmeticError{Op: op, A: a, B: b, Err: err})
}

// Recover turns an ArithmeticError panic into *errp. Any other panic is
// re-raised. Use as: defer fpmath.Recover(&err).
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if ae, ok := r.(*ArithmeticError); ok {
		*errp = ae
		return
	}
	panic(r)
}

type RoundingMode int

const (
	RoundHalfUp RoundingMode = iota // half added before truncating (default)
	RoundDown
	RoundUp
)

// Uint is an unsigned 256-bit integer with checked arithmetic. It is a value
// type; the zero value is 0. Token amounts and Ray-scaled values share it.
type Uint struct {
	v uint256.Int
}

var Zero Uint

func U64(x uint64) Uint {
	var u Uint
	u.v.SetUint64(x)
	return u
}

// MustParse parses a base-10 integer and panics on malformed input. Intended
// for constants and tests.
func MustParse(s string) Uint {
	u, err := ParseUint(s)
	if err != nil {
		panic(err)
	}
	return u
}

func ParseUint(s string) (Uint, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Zero, fmt.Errorf("parse uint %q: %w", s, err)
	}
	return Uint{v: *v}, nil
}

func FromBig(b *big.Int) (Uint, error) {
	if b.Sign() < 0 {
		return Zero, fmt.Errorf("from big %s: %w", b, ErrUnderflow)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Zero, fmt.Errorf("from big %s: %w", b, ErrOverflow)
	}
	return Uint{v: *v}, nil
}

func (a Uint) Big() *big.Int { return a.v.ToBig() }

func (a Uint) String() string { return a.v.Dec() }

// Bytes32 is the big-endian fixed-width encoding, used for hashing.
func (a Uint) Bytes32() [32]byte { return a.v.Bytes32() }

func (a Uint) IsZero() bool { return a.v.IsZero() }

func (a Uint) Cmp(b Uint) int { return a.v.Cmp(&b.v) }

func (a Uint) Eq(b Uint) bool { return a.v.Eq(&b.v) }

func (a Uint) Lt(b Uint) bool { return a.v.Lt(&b.v) }

func (a Uint) Lte(b Uint) bool { return !a.v.Gt(&b.v) }

func (a Uint) Gt(b Uint) bool { return a.v.Gt(&b.v) }

func (a Uint) Gte(b Uint) bool { return !a.v.Lt(&b.v) }

// Uint64 returns the value as uint64, faulting if it does not fit.
func (a Uint) Uint64() uint64 {
	if !a.v.IsUint64() {
		fault("uint64", a, Zero, ErrOverflow)
	}
	return a.v.Uint64()
}

func (a Uint) Add(b Uint) Uint {
	var z Uint
	if _, overflow := z.v.AddOverflow(&a.v, &b.v); overflow {
		fault("add", a, b, ErrOverflow)
	}
	return z
}

func (a Uint) Sub(b Uint) Uint {
	var z Uint
	if _, underflow := z.v.SubOverflow(&a.v, &b.v); underflow {
		fault("sub", a, b, ErrUnderflow)
	}
	return z
}

// SubFloor subtracts b and clamps at zero. Only for bookkeeping that can be
// off by rounding dust; capital balances use Sub.
func (a Uint) SubFloor(b Uint) Uint {
	if a.Lte(b) {
		return Zero
	}
	return a.Sub(b)
}

func (a Uint) Mul(b Uint) Uint {
	var z Uint
	if _, overflow := z.v.MulOverflow(&a.v, &b.v); overflow {
		fault("mul", a, b, ErrOverflow)
	}
	return z
}

// Div is truncating integer division.
func (a Uint) Div(b Uint) Uint {
	if b.IsZero() {
		fault("div", a, b, ErrDivisionByZero)
	}
	var z Uint
	z.v.Div(&a.v, &b.v)
	return z
}

func (a Uint) Mod(b Uint) Uint {
	if b.IsZero() {
		fault("mod", a, b, ErrDivisionByZero)
	}
	var z Uint
	z.v.Mod(&a.v, &b.v)
	return z
}

// MulDiv computes a*b/d with a 512-bit intermediate product.
func MulDiv(a, b, d Uint, mode RoundingMode) Uint {
	if d.IsZero() {
		fault("muldiv", a, b, ErrDivisionByZero)
	}
	var q, rem Uint
	if _, overflow := q.v.MulDivOverflow(&a.v, &b.v, &d.v); overflow {
		fault("muldiv", a, b, ErrOverflow)
	}
	rem.v.MulMod(&a.v, &b.v, &d.v)

	switch mode {
	case RoundHalfUp:
		// (a*b + d/2) / d rounds up exactly when rem >= d - d/2.
		half := d.Sub(d.Div(two))
		if rem.Gte(half) {
			q = q.Add(one)
		}
	case RoundUp:
		if !rem.IsZero() {
			q = q.Add(one)
		}
	}
	return q
}

func Min(a, b Uint) Uint {
	if a.Lt(b) {
		return a
	}
	return b
}

func Max(a, b Uint) Uint {
	if a.Gt(b) {
		return a
	}
	return b
}

// Pow10 returns 10^n.
func Pow10(n uint) Uint {
	if n > 77 {
		fault("pow10", U64(uint64(n)), Zero, ErrOverflow)
	}
	var z Uint
	z.v.Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
	return z
}

func (a Uint) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Uint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Plain JSON numbers are accepted as well.
		s = string(data)
	}
	u, err := ParseUint(s)
	if err != nil {
		return err
	}
	*a = u
	return nil
}

func (a Uint) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Uint) UnmarshalText(text []byte) error {
	u, err := ParseUint(string(text))
	if err != nil {
		return err
	}
	*a = u
	return nil
}

var (
	one = U64(1)
	two = U64(2)
)
