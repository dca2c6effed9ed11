package math_test

import (
	"errors"
	"math/big"
	"math/rand/v2"
	"testing"

	fpmath "CoverLedger/internal/math"

	"github.com/stretchr/testify/require"
)

func pct(t *testing.T, s string) fpmath.Uint {
	t.Helper()
	r, err := fpmath.ParseRay(s)
	require.NoError(t, err)
	return r
}

func scenarioFormula(t *testing.T) fpmath.Formula {
	return fpmath.Formula{
		UOptimal: pct(t, "80"),
		R0:       pct(t, "1"),
		RSlope1:  pct(t, "5"),
		RSlope2:  pct(t, "20"),
	}
}

// ===========================================================================
// Ray arithmetic
// ===========================================================================

func TestRayMul_RoundsHalfUp(t *testing.T) {
	one := fpmath.U64(1)
	require.Equal(t, "1", fpmath.RayMul(one, fpmath.HalfRay).String())
	require.Equal(t, "0", fpmath.RayMul(one, fpmath.HalfRay.Sub(one)).String())
	require.Equal(t, "6", fpmath.RayMul(fpmath.U64(2), fpmath.Ray.Mul(fpmath.U64(3))).String())
}

func TestRayDiv_RoundsHalfUp(t *testing.T) {
	// 1/3 in Ray is 0.333... with 27 threes.
	got := fpmath.RayDiv(fpmath.U64(1), fpmath.U64(3))
	require.Equal(t, "333333333333333333333333333", got.String())

	// 2/3 rounds the last digit up.
	got = fpmath.RayDiv(fpmath.U64(2), fpmath.U64(3))
	require.Equal(t, "666666666666666666666666667", got.String())
}

func TestRayMul_ErrorBound(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	ray := fpmath.Ray.Big()
	for i := 0; i < 500; i++ {
		a := fpmath.U64(rng.Uint64()).Mul(fpmath.U64(rng.Uint64N(1 << 40)))
		b := fpmath.U64(rng.Uint64()).Mul(fpmath.U64(rng.Uint64N(1 << 40)))

		got := fpmath.RayMul(a, b).Big()
		// |got*RAY - a*b| * 2 <= RAY
		diff := new(big.Int).Sub(new(big.Int).Mul(got, ray), new(big.Int).Mul(a.Big(), b.Big()))
		diff.Abs(diff).Lsh(diff, 1)
		require.LessOrEqual(t, diff.Cmp(ray), 0, "rayMul(%s, %s) off by more than half a unit", a, b)
	}
}

func TestRayDiv_ErrorBound(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	ray := fpmath.Ray.Big()
	for i := 0; i < 500; i++ {
		a := fpmath.U64(rng.Uint64())
		b := fpmath.U64(rng.Uint64()|1).Mul(fpmath.U64(rng.Uint64N(1<<30) + 1))

		got := fpmath.RayDiv(a, b).Big()
		// |got*b - a*RAY| * 2 <= b
		diff := new(big.Int).Sub(new(big.Int).Mul(got, b.Big()), new(big.Int).Mul(a.Big(), ray))
		diff.Abs(diff).Lsh(diff, 1)
		require.LessOrEqual(t, diff.Cmp(b.Big()), 0, "rayDiv(%s, %s) off by more than half a unit", a, b)
	}
}

func TestRayDivThenMul_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		a := fpmath.U64(rng.Uint64())
		// b at most one Ray keeps the compounded error within one unit.
		b := fpmath.MulDiv(fpmath.Ray, fpmath.U64(rng.Uint64N(1_000_000)+1), fpmath.U64(1_000_000), fpmath.RoundDown)

		back := fpmath.RayMul(fpmath.RayDiv(a, b), b)
		var diff fpmath.Uint
		if back.Gt(a) {
			diff = back.Sub(a)
		} else {
			diff = a.Sub(back)
		}
		require.True(t, diff.Lte(fpmath.U64(1)), "a=%s b=%s back=%s", a, b, back)
	}
}

func TestDirectionalRounding(t *testing.T) {
	a := fpmath.U64(10)
	third := fpmath.RayDiv(fpmath.U64(1), fpmath.U64(3))
	require.Equal(t, "3", fpmath.RayMulDown(a, third).String())
	require.Equal(t, "4", fpmath.RayMulUp(a, third).String())
	require.Equal(t, "333333333333333333333333334", fpmath.RayDivUp(fpmath.U64(1), fpmath.U64(3)).String())
}

// ===========================================================================
// Checked arithmetic
// ===========================================================================

func catch(f func()) (err error) {
	defer fpmath.Recover(&err)
	f()
	return nil
}

func TestCheckedArithmetic_Faults(t *testing.T) {
	err := catch(func() { fpmath.MaxUint.Add(fpmath.U64(1)) })
	require.ErrorIs(t, err, fpmath.ErrOverflow)

	err = catch(func() { fpmath.U64(1).Sub(fpmath.U64(2)) })
	require.ErrorIs(t, err, fpmath.ErrUnderflow)

	err = catch(func() { fpmath.RayDiv(fpmath.U64(1), fpmath.Zero) })
	require.ErrorIs(t, err, fpmath.ErrDivisionByZero)

	err = catch(func() { fpmath.MaxUint.Mul(fpmath.U64(2)) })
	var ae *fpmath.ArithmeticError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, "mul", ae.Op)
}

func TestRecover_RepanicsForeignPanics(t *testing.T) {
	require.PanicsWithValue(t, "boom", func() {
		_ = catch(func() { panic("boom") })
	})
}

func TestSubFloor_ClampsAtZero(t *testing.T) {
	require.True(t, fpmath.U64(3).SubFloor(fpmath.U64(5)).IsZero())
	require.Equal(t, "2", fpmath.U64(5).SubFloor(fpmath.U64(3)).String())
}

// ===========================================================================
// Scaling and parsing
// ===========================================================================

func TestToRay_FromRay(t *testing.T) {
	require.True(t, fpmath.ToRay(fpmath.U64(1_000_000), 6).Eq(fpmath.Ray))
	require.True(t, fpmath.ToRay(fpmath.Ray, 27).Eq(fpmath.Ray))
	// 30 decimals: 1.5e30 -> 1.5e27
	require.Equal(t, "1500000000000000000000000000", fpmath.ToRay(fpmath.MustParse("1500000000000000000000000000000"), 30).String())

	require.Equal(t, "1000000", fpmath.FromRay(fpmath.Ray, 6).String())
	// half a unit of the 6th digit rounds up
	require.Equal(t, "1", fpmath.FromRay(fpmath.MustParse("500000000000000000000"), 6).String())
}

func TestParseRay(t *testing.T) {
	r, err := fpmath.ParseRay("4.125")
	require.NoError(t, err)
	require.Equal(t, "4125000000000000000000000000", r.String())
	require.Equal(t, "4.125", fpmath.RayDecimal(r).String())

	_, err = fpmath.ParseRay("-1")
	require.Error(t, err)

	_, err = fpmath.ParseRay("0.0000000000000000000000000001")
	require.Error(t, err)

	_, err = fpmath.ParseRay("abc")
	require.Error(t, err)
}

func TestUint_JSON(t *testing.T) {
	u := fpmath.MustParse("123456789012345678901234567890")
	data, err := u.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"123456789012345678901234567890"`, string(data))

	var back fpmath.Uint
	require.NoError(t, back.UnmarshalJSON(data))
	require.True(t, back.Eq(u))

	require.NoError(t, back.UnmarshalJSON([]byte("42")))
	require.Equal(t, "42", back.String())
}

// ===========================================================================
// Premium curve
// ===========================================================================

func TestUtilization(t *testing.T) {
	require.True(t, fpmath.Utilization(fpmath.U64(500), fpmath.Zero).IsZero())
	require.True(t, fpmath.Utilization(fpmath.U64(1001), fpmath.U64(1000)).Eq(fpmath.FullCapacity))
	require.Equal(t, pct(t, "50"), fpmath.Utilization(fpmath.U64(500), fpmath.U64(1000)))
}

func TestPremiumRate_Scenario(t *testing.T) {
	f := scenarioFormula(t)
	u := fpmath.Utilization(fpmath.U64(500), fpmath.U64(1000))
	require.Equal(t, pct(t, "4.125"), fpmath.PremiumRate(f, u))
}

func TestPremiumRate_Monotonic(t *testing.T) {
	f := scenarioFormula(t)
	prev := fpmath.Zero
	for i := uint64(0); i <= 1000; i++ {
		u := fpmath.MulDiv(fpmath.FullCapacity, fpmath.U64(i), fpmath.U64(1000), fpmath.RoundDown)
		rate := fpmath.PremiumRate(f, u)
		require.True(t, rate.Gte(prev), "rate decreased at u=%s", u)
		prev = rate
	}
}

func TestPremiumRate_ContinuousAtKink(t *testing.T) {
	f := scenarioFormula(t)
	atKink := fpmath.PremiumRate(f, f.UOptimal)
	require.Equal(t, f.R0.Add(f.RSlope1), atKink)

	justBelow := fpmath.PremiumRate(f, f.UOptimal.Sub(fpmath.U64(1)))
	require.True(t, atKink.Sub(justBelow).Lte(fpmath.U64(1)))
}

func TestPremiumRate_FlatCap(t *testing.T) {
	f := scenarioFormula(t)
	require.Equal(t, f.MaxRate(), fpmath.PremiumRate(f, fpmath.FullCapacity))
	require.Equal(t, f.MaxRate(), fpmath.PremiumRate(f, fpmath.FullCapacity.Mul(fpmath.U64(3))))
	require.Equal(t, pct(t, "26"), f.MaxRate())
}

func TestFormula_Validate(t *testing.T) {
	f := scenarioFormula(t)
	require.NoError(t, f.Validate())

	bad := f
	bad.UOptimal = fpmath.FullCapacity
	require.ErrorIs(t, bad.Validate(), fpmath.ErrInvalidUOptimal)

	bad = f
	bad.R0 = fpmath.Zero
	require.ErrorIs(t, bad.Validate(), fpmath.ErrZeroBaseRate)

	bad = f
	bad.R0 = pct(t, "0.0001")
	bad.RSlope2 = pct(t, "300")
	require.ErrorIs(t, bad.Validate(), fpmath.ErrRateSpread)

	bad = f
	bad.R0 = fpmath.MaxUint
	require.ErrorIs(t, bad.Validate(), fpmath.ErrOverflow)
}

// ===========================================================================
// Tick clock
// ===========================================================================

func TestRescaleSecondsPerTick_RoundTrip(t *testing.T) {
	spt := fpmath.SecondsToRay(fpmath.SecondsPerDay)
	r1 := pct(t, "1")
	r2 := pct(t, "4.125")

	there := fpmath.RescaleSecondsPerTick(spt, r1, r2)
	require.True(t, there.Lt(spt), "higher rate must shorten ticks")
	back := fpmath.RescaleSecondsPerTick(there, r2, r1)

	var diff fpmath.Uint
	if back.Gt(spt) {
		diff = back.Sub(spt)
	} else {
		diff = spt.Sub(back)
	}
	require.True(t, diff.Lte(fpmath.U64(5)), "round trip drifted by %s", diff)
}

func TestRescaleSecondsPerTick_NeverBelowOneSecond(t *testing.T) {
	spt := fpmath.SecondsToRay(10)
	got := fpmath.RescaleSecondsPerTick(spt, pct(t, "1"), pct(t, "1000"))
	require.Equal(t, fpmath.MinSecondsPerTick, got)
	require.Equal(t, uint64(5), fpmath.SecondsIn(5, got), "every tick still spans a second")
}

func TestTicksIn_Floors(t *testing.T) {
	spt := fpmath.SecondsToRay(100)
	require.Equal(t, uint64(2), fpmath.TicksIn(299, spt))
	require.Equal(t, uint64(3), fpmath.TicksIn(300, spt))
	require.Equal(t, uint64(250), fpmath.SecondsIn(2, fpmath.MustParse("125000000000000000000000000000")))
}

func TestDurationFromPremiums_Scenario(t *testing.T) {
	d := fpmath.DurationFromPremiums(fpmath.U64(100), fpmath.U64(500), pct(t, "4.125"))
	require.Equal(t, uint64(152_901_818), d)

	// Consuming the whole duration costs the premium minus truncation dust.
	spent := fpmath.PremiumsForDuration(fpmath.U64(500), pct(t, "4.125"), d)
	require.Equal(t, "99", spent.String())
}

func TestCoverReward_MatchesPremiumIncome(t *testing.T) {
	// 1000 capital at 50% utilization and 4.125% earns the cover's yearly
	// premium of 500 * 4.125% = 20.625.
	delta := fpmath.IndexDelta(pct(t, "50"), pct(t, "4.125"), fpmath.SecondsPerYear)
	reward := fpmath.CoverReward(fpmath.U64(1_000_000), delta)
	require.Equal(t, "20625", reward.String())
}

func TestStrategyReward(t *testing.T) {
	base := fpmath.Ray
	current := pct(t, "1.05")
	require.Equal(t, "50", fpmath.StrategyReward(fpmath.U64(1000), base, current).String())
	require.True(t, fpmath.StrategyReward(fpmath.U64(1000), current, base).IsZero())
}
