package math

import (
	"errors"
	"fmt"
)

// Formula holds the kinked premium curve parameters, all percent Rays.
type Formula struct {
	UOptimal Uint `json:"u_optimal"`
	R0       Uint `json:"r0"`
	RSlope1  Uint `json:"r_slope1"`
	RSlope2  Uint `json:"r_slope2"`
}

// MaxRateSpread bounds MaxRate / R0. Ticks shrink by that factor between
// an idle and a full pool.
const MaxRateSpread = 10_000

var (
	ErrInvalidUOptimal = errors.New("u_optimal must be strictly between 0 and 100%")
	ErrZeroBaseRate    = errors.New("r0 must be positive")
	ErrRateSpread      = errors.New("max rate exceeds r0 by more than the allowed spread")
)

// Validate rejects curves that could yield a zero rate or a degenerate kink.
// A zero rate would make tick rescaling divide by zero.
func (f Formula) Validate() (err error) {
	defer Recover(&err)
	if f.UOptimal.IsZero() || f.UOptimal.Gte(FullCapacity) {
		return fmt.Errorf("formula: %w (got %s)", ErrInvalidUOptimal, f.UOptimal)
	}
	if f.R0.IsZero() {
		return fmt.Errorf("formula: %w", ErrZeroBaseRate)
	}
	if f.MaxRate().Gt(f.R0.Mul(U64(MaxRateSpread))) {
		return fmt.Errorf("formula: %w (%d)", ErrRateSpread, MaxRateSpread)
	}
	return nil
}

// MaxRate is the flat rate charged at or above full utilization.
func (f Formula) MaxRate() Uint {
	return f.R0.Add(f.RSlope1).Add(f.RSlope2)
}

// PremiumRate maps a utilization rate to a premium rate on the three-segment
// curve: linear up to UOptimal, steeper up to 100%, flat beyond.
func PremiumRate(f Formula, utilization Uint) Uint {
	if utilization.Lt(f.UOptimal) {
		return f.R0.Add(RayMul(f.RSlope1, RayDiv(utilization, f.UOptimal)))
	}
	if utilization.Lt(FullCapacity) {
		excess := RayDiv(utilization.Sub(f.UOptimal), FullCapacity.Sub(f.UOptimal))
		return f.R0.Add(f.RSlope1).Add(RayMul(f.RSlope2, excess))
	}
	return f.MaxRate()
}

// Utilization returns covered/liquidity as a percent Ray, capped at 100%.
func Utilization(coveredCapital, totalLiquidity Uint) Uint {
	if totalLiquidity.IsZero() {
		return Zero
	}
	if totalLiquidity.Lt(coveredCapital) {
		return FullCapacity
	}
	return MulDiv(coveredCapital.Mul(U64(PercentageBase)), Ray, totalLiquidity, RoundHalfUp)
}

// DailyCost is the premium charged per day for `amount` at `rate`.
func DailyCost(amount, rate Uint) Uint {
	return RayMul(amount, rate).Div(U64(PercentageBase * 365))
}

// RescaleDailyCost moves a daily cost computed at beginRate to newRate.
func RescaleDailyCost(beginDailyCost, beginRate, newRate Uint) Uint {
	if beginRate.IsZero() {
		return Zero
	}
	return MulDiv(beginDailyCost, newRate, beginRate, RoundHalfUp)
}
