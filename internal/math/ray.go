package math

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	RayDecimals = 27

	// PercentageBase converts percent Rays to fractions: 1% is one Ray.
	PercentageBase = 100

	SecondsPerDay  = 86_400
	SecondsPerYear = 365 * SecondsPerDay
)

var (
	Ray     = Pow10(RayDecimals)
	HalfRay = Ray.Div(two)

	// FullCapacity is 100% utilization expressed as a percent Ray.
	FullCapacity = Ray.Mul(U64(PercentageBase))

	Year = U64(SecondsPerYear)
	Day  = U64(SecondsPerDay)

	// MaxUint is the "remove everything" sentinel accepted by cover updates.
	MaxUint = func() Uint {
		var u Uint
		u.v.SetAllOne()
		return u
	}()
)

// RayMul returns (a*b + RAY/2) / RAY.
func RayMul(a, b Uint) Uint { return MulDiv(a, b, Ray, RoundHalfUp) }

// RayDiv returns (a*RAY + b/2) / b.
func RayDiv(a, b Uint) Uint {
	if b.IsZero() {
		fault("raydiv", a, b, ErrDivisionByZero)
	}
	return MulDiv(a, Ray, b, RoundHalfUp)
}

func RayMulDown(a, b Uint) Uint { return MulDiv(a, b, Ray, RoundDown) }

func RayMulUp(a, b Uint) Uint { return MulDiv(a, b, Ray, RoundUp) }

func RayDivUp(a, b Uint) Uint {
	if b.IsZero() {
		fault("raydiv", a, b, ErrDivisionByZero)
	}
	return MulDiv(a, Ray, b, RoundUp)
}

// ToRay scales a value carrying `decimals` fractional digits to 27 digits.
func ToRay(value Uint, decimals uint8) Uint {
	switch {
	case decimals == RayDecimals:
		return value
	case decimals < RayDecimals:
		return value.Mul(Pow10(uint(RayDecimals - decimals)))
	default:
		return MulDiv(value, one, Pow10(uint(decimals-RayDecimals)), RoundHalfUp)
	}
}

// FromRay is the inverse of ToRay, rounding to nearest.
func FromRay(value Uint, decimals uint8) Uint {
	switch {
	case decimals == RayDecimals:
		return value
	case decimals < RayDecimals:
		return MulDiv(value, one, Pow10(uint(RayDecimals-decimals)), RoundHalfUp)
	default:
		return value.Mul(Pow10(uint(decimals - RayDecimals)))
	}
}

// ParseRay parses a human-readable decimal ("4.125") into a Ray. Rates are
// percent Rays, so "4.125" is 4.125%.
func ParseRay(s string) (Uint, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse ray %q: %w", s, err)
	}
	return DecimalToRay(d)
}

func DecimalToRay(d decimal.Decimal) (Uint, error) {
	if d.IsNegative() {
		return Zero, fmt.Errorf("ray %s: negative value", d)
	}
	scaled := d.Shift(RayDecimals)
	if !scaled.IsInteger() {
		return Zero, fmt.Errorf("ray %s: more than %d fractional digits", d, RayDecimals)
	}
	return FromBig(scaled.BigInt())
}

// RayDecimal renders a Ray as a decimal, e.g. 4125*10^24 -> 4.125.
func RayDecimal(r Uint) decimal.Decimal {
	return decimal.NewFromBigInt(r.Big(), -RayDecimals)
}

// AmountDecimal renders a token amount carrying `decimals` fractional digits.
func AmountDecimal(a Uint, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(a.Big(), -int32(decimals))
}
