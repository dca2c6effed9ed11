package math

// Tick clock and index arithmetic. SecondsPerTick values are Ray-scaled
// seconds so that repeated rescaling keeps sub-second precision.

// SecondsToRay converts whole seconds to a Ray-scaled duration.
func SecondsToRay(seconds uint64) Uint { return U64(seconds).Mul(Ray) }

// MinSecondsPerTick is the shortest tick. Below one second SecondsIn would
// advance ticks without advancing time.
var MinSecondsPerTick = Ray

// RescaleSecondsPerTick keeps premium burned per second continuous across a
// rate change: a higher rate gives shorter ticks, never shorter than
// MinSecondsPerTick.
func RescaleSecondsPerTick(secondsPerTick, oldRate, newRate Uint) Uint {
	if oldRate.Eq(newRate) {
		return secondsPerTick
	}
	return Max(MulDiv(secondsPerTick, oldRate, newRate, RoundHalfUp), MinSecondsPerTick)
}

// TicksIn returns floor(seconds / secondsPerTick).
func TicksIn(seconds uint64, secondsPerTick Uint) uint64 {
	return MulDiv(U64(seconds), Ray, secondsPerTick, RoundDown).Uint64()
}

// SecondsIn returns the whole seconds spanned by ticks, truncated.
func SecondsIn(ticks uint64, secondsPerTick Uint) uint64 {
	return MulDiv(U64(ticks), secondsPerTick, Ray, RoundDown).Uint64()
}

// DurationFromPremiums returns how many seconds `premiums` fund a cover of
// `amount` at `rate`: floor(rayDiv(premiums*YEAR*100, rate)) / amount.
func DurationFromPremiums(premiums, amount, rate Uint) uint64 {
	if amount.IsZero() {
		fault("duration", premiums, amount, ErrDivisionByZero)
	}
	scaled := RayDiv(premiums.Mul(Year).Mul(U64(PercentageBase)), rate)
	d := scaled.Div(amount)
	if !d.v.IsUint64() {
		return ^uint64(0)
	}
	return d.v.Uint64()
}

// PremiumsForDuration is the premium consumed by `amount` at `rate` over
// `seconds`, rounded down.
func PremiumsForDuration(amount, rate Uint, seconds uint64) Uint {
	if seconds == 0 || amount.IsZero() {
		return Zero
	}
	denom := Year.Mul(U64(PercentageBase)).Mul(Ray)
	return MulDiv(amount.Mul(rate), U64(seconds), denom, RoundDown)
}

// IndexDelta is the liquidity index growth for `seconds` at the given
// utilization and premium rate (percent Rays).
func IndexDelta(utilization, rate Uint, seconds uint64) Uint {
	if seconds == 0 {
		return Zero
	}
	return MulDiv(RayMul(utilization, rate), U64(seconds), Year, RoundHalfUp)
}

// indexNormalizer removes the two percent scalings carried by the index.
var indexNormalizer = Ray.Mul(U64(PercentageBase * PercentageBase))

// CoverReward converts a liquidity index delta into premium yield for
// `capital`, rounded down.
func CoverReward(capital, indexDelta Uint) Uint {
	return MulDiv(capital, indexDelta, indexNormalizer, RoundDown)
}

// StrategyReward is the yield of `capital` as the strategy index grows from
// baseline to current.
func StrategyReward(capital, baseline, current Uint) Uint {
	if baseline.IsZero() || current.Lte(baseline) {
		return Zero
	}
	return MulDiv(capital, current.Sub(baseline), baseline, RoundDown)
}
