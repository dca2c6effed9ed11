package state_test

import (
	"encoding/json"
	"errors"
	"testing"

	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	t0 = uint64(1_700_000_000)

	poolA state.PoolID = 1
	poolB state.PoolID = 2
	poolC state.PoolID = 3
)

// units converts whole tokens to 6-decimal base units.
func units(n uint64) fpmath.Uint { return fpmath.U64(n * 1_000_000) }

func pct(t *testing.T, s string) fpmath.Uint {
	t.Helper()
	r, err := fpmath.ParseRay(s)
	require.NoError(t, err)
	return r
}

func formula(t *testing.T) fpmath.Formula {
	return fpmath.Formula{
		UOptimal: pct(t, "80"),
		R0:       pct(t, "1"),
		RSlope1:  pct(t, "5"),
		RSlope2:  pct(t, "20"),
	}
}

type fixture struct {
	store    *state.Store
	lp       uuid.UUID
	buyer    uuid.UUID
	position uuid.UUID
	cover    uuid.UUID
}

func update(t *testing.T, s *state.Store, fn func(tx *state.Txn) error) *state.ChangeSet {
	t.Helper()
	cs, err := s.Update(fn)
	require.NoError(t, err)
	return cs
}

func createPools(t *testing.T, s *state.Store, ids ...state.PoolID) {
	t.Helper()
	update(t, s, func(tx *state.Txn) error {
		for _, id := range ids {
			if _, err := tx.CreatePool(state.CreatePoolParams{PoolID: id, Formula: formula(t), Now: t0}); err != nil {
				return err
			}
		}
		return nil
	})
}

// newFixture builds the reference scenario: 1000 tokens of liquidity in pool
// A and a 500 token cover funded with 100 tokens of premium.
func newFixture(t *testing.T) (*fixture, *state.ChangeSet) {
	t.Helper()
	params := state.DefaultProtocolParams
	params.ClaimCollateral = units(10)
	f := &fixture{
		store:    state.NewStore(params),
		lp:       uuid.New(),
		buyer:    uuid.New(),
		position: uuid.New(),
		cover:    uuid.New(),
	}
	createPools(t, f.store, poolA)
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.OpenPosition(state.OpenPositionParams{
			PositionID: f.position, Owner: f.lp, Amount: units(1000), PoolIDs: []state.PoolID{poolA}, Now: t0,
		})
		return err
	})
	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.OpenCover(state.OpenCoverParams{
			CoverID: f.cover, Owner: f.buyer, PoolID: poolA, Amount: units(500), Premiums: units(100), Now: t0,
		})
		return err
	})
	return f, cs
}

func viewPool(t *testing.T, s *state.Store, id state.PoolID) *state.Pool {
	t.Helper()
	var p *state.Pool
	require.NoError(t, s.View(func(tx *state.Txn) error {
		var err error
		p, err = tx.Pool(id)
		return err
	}))
	return p
}

func viewCover(t *testing.T, s *state.Store, id uuid.UUID) *state.Cover {
	t.Helper()
	var c *state.Cover
	require.NoError(t, s.View(func(tx *state.Txn) error {
		var err error
		c, err = tx.Cover(id)
		return err
	}))
	return c
}

func viewClaim(t *testing.T, s *state.Store, id uuid.UUID) *state.Claim {
	t.Helper()
	var c *state.Claim
	require.NoError(t, s.View(func(tx *state.Txn) error {
		var err error
		c, err = tx.Claim(id)
		return err
	}))
	return c
}

func sumEffects(cs *state.ChangeSet, kind state.EffectKind) fpmath.Uint {
	total := fpmath.Zero
	for _, e := range cs.Effects {
		if e.Kind == kind {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// --- covers ---

func TestOpenCover_Scenario(t *testing.T) {
	f, cs := newFixture(t)

	p := viewPool(t, f.store, poolA)
	require.Equal(t, pct(t, "4.125"), p.PremiumRate)
	require.Equal(t, pct(t, "50"), p.UtilizationRate)
	require.Equal(t, units(500), p.Slot0.CoveredCapital)
	require.Equal(t, units(500), p.AvailableLiquidity())

	c := viewCover(t, f.store, f.cover)
	require.True(t, c.IsActive)
	require.Equal(t, uint64(7299), c.LastTick)
	require.Equal(t, "99986300", c.PremiumsLeft.String())

	require.Equal(t, units(100), sumEffects(cs, state.EffectPremiumsDeposited))
	require.Equal(t, "13700", sumEffects(cs, state.EffectPremiumsBurned).String(),
		"seconds lost to the tick boundary are burned")
	require.True(t, sumEffects(cs, state.EffectPremiumsRefunded).IsZero())
}

func TestOpenCover_LessThanOneTickBurnsEverything(t *testing.T) {
	f, _ := newFixture(t)
	id := uuid.New()
	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.OpenCover(state.OpenCoverParams{
			CoverID: id, Owner: f.buyer, PoolID: poolA, Amount: units(100), Premiums: fpmath.U64(1), Now: t0 + 10,
		})
		return err
	})
	require.False(t, viewCover(t, f.store, id).IsActive)
	require.Equal(t, fpmath.U64(1), sumEffects(cs, state.EffectPremiumsBurned))
	require.Equal(t, units(500), viewPool(t, f.store, poolA).Slot0.CoveredCapital)
}

func TestOpenCover_Preconditions(t *testing.T) {
	f, _ := newFixture(t)
	open := func(amount fpmath.Uint, pool state.PoolID) error {
		_, err := f.store.Update(func(tx *state.Txn) error {
			_, err := tx.OpenCover(state.OpenCoverParams{
				CoverID: uuid.New(), Owner: f.buyer, PoolID: pool, Amount: amount, Premiums: units(1), Now: t0,
			})
			return err
		})
		return err
	}
	require.ErrorIs(t, open(units(501), poolA), state.ErrInsufficientLiquidity)
	require.ErrorIs(t, open(fpmath.Zero, poolA), state.ErrZeroAmount)
	require.ErrorIs(t, open(units(1), 99), state.ErrPoolNotFound)

	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.SetPoolPaused(poolA, true, t0)
		return err
	})
	require.ErrorIs(t, open(units(1), poolA), state.ErrPoolPaused)
}

func TestCover_ExpiresAfterLastTick(t *testing.T) {
	f, _ := newFixture(t)
	const lifetime = 152_880_872

	var info state.CoverInfo
	update(t, f.store, func(tx *state.Txn) error {
		var err error
		info, err = tx.CoverInfo(f.cover, t0+lifetime-1)
		return err
	})
	require.True(t, info.IsActive)

	cs := update(t, f.store, func(tx *state.Txn) error {
		var err error
		info, err = tx.CoverInfo(f.cover, t0+lifetime)
		return err
	})
	require.False(t, info.IsActive)
	require.True(t, info.PremiumsLeft.IsZero())
	require.Equal(t, "99986300", sumEffects(cs, state.EffectPremiumsConsumed).String())

	p := viewPool(t, f.store, poolA)
	require.True(t, p.Slot0.CoveredCapital.IsZero())
	require.Equal(t, pct(t, "1"), p.PremiumRate)
	require.Zero(t, p.Ticks.Len())
	require.False(t, viewCover(t, f.store, f.cover).IsActive)
}

func TestUpdateCover_RemoveAllPremiumsCloses(t *testing.T) {
	f, _ := newFixture(t)
	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.UpdateCover(state.UpdateCoverParams{
			CoverID: f.cover, Caller: f.buyer, PremiumsToRemove: fpmath.MaxUint, Now: t0 + fpmath.SecondsPerDay,
		})
		return err
	})

	c := viewCover(t, f.store, f.cover)
	require.False(t, c.IsActive)
	require.True(t, c.PremiumsLeft.IsZero())
	require.True(t, c.DailyCost.IsZero())

	consumed := sumEffects(cs, state.EffectPremiumsConsumed)
	refunded := sumEffects(cs, state.EffectPremiumsRefunded)
	require.False(t, consumed.IsZero())
	require.Equal(t, "99986300", consumed.Add(refunded).String())

	p := viewPool(t, f.store, poolA)
	require.True(t, p.Slot0.CoveredCapital.IsZero())
	require.Zero(t, p.Ticks.Len())
}

func TestUpdateCover_Rejections(t *testing.T) {
	f, _ := newFixture(t)
	run := func(params state.UpdateCoverParams) error {
		params.CoverID = f.cover
		params.Now = t0 + 100
		_, err := f.store.Update(func(tx *state.Txn) error {
			_, err := tx.UpdateCover(params)
			return err
		})
		return err
	}
	require.ErrorIs(t, run(state.UpdateCoverParams{Caller: uuid.New()}), state.ErrNotOwner)
	require.ErrorIs(t, run(state.UpdateCoverParams{Caller: f.buyer, AmountToRemove: units(501)}), state.ErrCoverAmountUnderflow)
	require.ErrorIs(t, run(state.UpdateCoverParams{Caller: f.buyer, PremiumsToRemove: units(101)}), state.ErrInsufficientPremiums)
	require.ErrorIs(t, run(state.UpdateCoverParams{Caller: f.buyer, AmountToAdd: units(501)}), state.ErrInsufficientLiquidity)
}

func TestUpdateCover_GrowKeepsEscrowBalanced(t *testing.T) {
	f, _ := newFixture(t)
	before := viewCover(t, f.store, f.cover).PremiumsLeft
	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.UpdateCover(state.UpdateCoverParams{
			CoverID: f.cover, Caller: f.buyer, AmountToAdd: units(100), PremiumsToAdd: units(50), Now: t0 + 30*fpmath.SecondsPerDay,
		})
		return err
	})
	c := viewCover(t, f.store, f.cover)
	require.True(t, c.IsActive)
	require.Equal(t, units(600), c.CoverAmount)

	in := before.Add(sumEffects(cs, state.EffectPremiumsDeposited))
	out := sumEffects(cs, state.EffectPremiumsConsumed).
		Add(sumEffects(cs, state.EffectPremiumsBurned)).
		Add(sumEffects(cs, state.EffectPremiumsRefunded))
	require.Equal(t, in, out.Add(c.PremiumsLeft))

	p := viewPool(t, f.store, poolA)
	require.Equal(t, units(600), p.Slot0.CoveredCapital)
	require.Equal(t, pct(t, "4.75"), p.PremiumRate)
}

// --- positions ---

func TestOpenPosition_IncompatiblePoolsRejectedWithoutMutation(t *testing.T) {
	s := state.NewStore(state.DefaultProtocolParams)
	createPools(t, s, poolA)
	update(t, s, func(tx *state.Txn) error {
		_, err := tx.CreatePool(state.CreatePoolParams{
			PoolID: poolB, Formula: formula(t), Incompatible: []state.PoolID{poolA}, Now: t0,
		})
		return err
	})

	id := uuid.New()
	_, err := s.Update(func(tx *state.Txn) error {
		_, err := tx.OpenPosition(state.OpenPositionParams{
			PositionID: id, Owner: uuid.New(), Amount: units(10), PoolIDs: []state.PoolID{poolA, poolB}, Now: t0,
		})
		return err
	})
	require.ErrorIs(t, err, state.ErrIncompatiblePools)

	require.True(t, viewPool(t, s, poolA).TotalLiquidity().IsZero())
	require.True(t, viewPool(t, s, poolB).TotalLiquidity().IsZero())
	require.ErrorIs(t, s.View(func(tx *state.Txn) error {
		_, err := tx.Position(id)
		return err
	}), state.ErrPositionNotFound)
}

func TestOpenPosition_SetValidation(t *testing.T) {
	s := state.NewStore(state.DefaultProtocolParams)
	createPools(t, s, poolA)
	update(t, s, func(tx *state.Txn) error {
		_, err := tx.CreatePool(state.CreatePoolParams{PoolID: poolB, Formula: formula(t), StrategyID: 7, Now: t0})
		return err
	})
	open := func(ids ...state.PoolID) error {
		_, err := s.Update(func(tx *state.Txn) error {
			_, err := tx.OpenPosition(state.OpenPositionParams{
				PositionID: uuid.New(), Owner: uuid.New(), Amount: units(1), PoolIDs: ids, Now: t0,
			})
			return err
		})
		return err
	}
	require.ErrorIs(t, open(), state.ErrNoPools)
	require.ErrorIs(t, open(poolA, poolA), state.ErrDuplicatePool)
	require.ErrorIs(t, open(poolA, poolB), state.ErrStrategyMismatch)
	require.ErrorIs(t, open(poolA, 42), state.ErrPoolNotFound)
}

func TestOpenPosition_OverlapsAreSymmetric(t *testing.T) {
	s := state.NewStore(state.DefaultProtocolParams)
	createPools(t, s, poolA, poolB, poolC)
	update(t, s, func(tx *state.Txn) error {
		_, err := tx.OpenPosition(state.OpenPositionParams{
			PositionID: uuid.New(), Owner: uuid.New(), Amount: units(300), PoolIDs: []state.PoolID{poolA, poolB, poolC}, Now: t0,
		})
		return err
	})
	update(t, s, func(tx *state.Txn) error {
		_, err := tx.OpenPosition(state.OpenPositionParams{
			PositionID: uuid.New(), Owner: uuid.New(), Amount: units(100), PoolIDs: []state.PoolID{poolA, poolB}, Now: t0,
		})
		return err
	})

	a, b, c := viewPool(t, s, poolA), viewPool(t, s, poolB), viewPool(t, s, poolC)
	require.Equal(t, units(400), a.TotalLiquidity())
	require.Equal(t, units(400), b.TotalLiquidity())
	require.Equal(t, units(300), c.TotalLiquidity())
	require.Equal(t, units(400), a.Overlaps[poolB])
	require.Equal(t, a.Overlaps[poolB], b.Overlaps[poolA])
	require.Equal(t, units(300), a.Overlaps[poolC])
	require.Equal(t, a.Overlaps[poolC], c.Overlaps[poolA])
	require.Equal(t, []state.PoolID{poolA, poolB, poolC}, a.OverlappingPools())
}

func TestTakeInterest_RewardConservation(t *testing.T) {
	const lifetime = 152_880_872
	take := func(f *fixture, now uint64) fpmath.Uint {
		cs := update(t, f.store, func(tx *state.Txn) error {
			_, err := tx.TakeInterest(f.position, f.lp, now)
			return err
		})
		return sumEffects(cs, state.EffectCoverRewardsPaid)
	}

	split, _ := newFixture(t)
	first := take(split, t0+lifetime/2)
	second := take(split, t0+lifetime)

	once, _ := newFixture(t)
	whole := take(once, t0+lifetime)

	require.Equal(t, "99986300", whole.String(), "providers earn exactly the premium consumed")
	require.True(t, first.Add(second).Lte(whole))
	require.True(t, whole.Sub(first.Add(second)).Lte(fpmath.U64(1)), "one unit of rounding per realisation")
}

func TestPositionInfo_IncludesPartialTickWithoutCommitting(t *testing.T) {
	f, _ := newFixture(t)
	var info state.PositionInfo
	require.NoError(t, f.store.View(func(tx *state.Txn) error {
		var err error
		info, err = tx.PositionInfo(f.position, t0+100)
		return err
	}))
	require.False(t, info.CoverRewards[poolA].IsZero(), "100s is less than one tick but the lead is previewed")

	p := viewPool(t, f.store, poolA)
	require.Equal(t, t0, p.Slot0.LastUpdateTimestamp)
	require.True(t, p.Slot0.LiquidityIndex.IsZero())
}

func TestRemoveLiquidity_Lifecycle(t *testing.T) {
	f, _ := newFixture(t)
	remove := func(amount fpmath.Uint, now uint64) (*state.ChangeSet, error) {
		return f.store.Update(func(tx *state.Txn) error {
			_, err := tx.RemoveLiquidity(state.RemoveLiquidityParams{
				PositionID: f.position, Caller: f.lp, Amount: amount, Now: now,
			})
			return err
		})
	}

	_, err := remove(units(100), t0+10)
	require.ErrorIs(t, err, state.ErrWithdrawalNotCommitted)

	commitAt := t0 + 100
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.CommitWithdrawal(f.position, f.lp, commitAt)
		return err
	})
	_, err = f.store.Update(func(tx *state.Txn) error {
		_, err := tx.AddLiquidity(state.AddLiquidityParams{PositionID: f.position, Caller: f.lp, Amount: units(1), Now: commitAt})
		return err
	})
	require.ErrorIs(t, err, state.ErrWithdrawalCommitted)

	delay := state.DefaultProtocolParams.WithdrawDelay
	_, err = remove(units(100), commitAt+delay-1)
	require.ErrorIs(t, err, state.ErrWithdrawDelay)
	_, err = remove(units(501), commitAt+delay)
	require.ErrorIs(t, err, state.ErrInsufficientLiquidity, "500 of the 1000 are covered")

	cs, err := remove(units(400), commitAt+delay)
	require.NoError(t, err)
	require.Equal(t, units(400), sumEffects(cs, state.EffectCapitalWithdrawn))
	require.False(t, sumEffects(cs, state.EffectCoverRewardsPaid).IsZero())

	p := viewPool(t, f.store, poolA)
	require.Equal(t, units(600), p.TotalLiquidity())
	require.True(t, p.UtilizationRate.Gt(p.Formula.UOptimal), "500/600 covered is past the kink")
	require.Equal(t, fpmath.PremiumRate(p.Formula, fpmath.Utilization(units(500), units(600))), p.PremiumRate)

	var pos *state.Position
	require.NoError(t, f.store.View(func(tx *state.Txn) error {
		var err error
		pos, err = tx.Position(f.position)
		return err
	}))
	require.Equal(t, units(600), pos.NewUserCapital)
	require.False(t, pos.Committed())
}

func TestRemoveLiquidity_FullRemovalDeletesPosition(t *testing.T) {
	s := state.NewStore(state.DefaultProtocolParams)
	createPools(t, s, poolA)
	owner, id := uuid.New(), uuid.New()
	update(t, s, func(tx *state.Txn) error {
		if _, err := tx.OpenPosition(state.OpenPositionParams{PositionID: id, Owner: owner, Amount: units(5), PoolIDs: []state.PoolID{poolA}, Now: t0}); err != nil {
			return err
		}
		_, err := tx.CommitWithdrawal(id, owner, t0)
		return err
	})
	cs := update(t, s, func(tx *state.Txn) error {
		pos, err := tx.RemoveLiquidity(state.RemoveLiquidityParams{
			PositionID: id, Caller: owner, Amount: units(5), Now: t0 + state.DefaultProtocolParams.WithdrawDelay,
		})
		require.Nil(t, pos)
		return err
	})
	require.Equal(t, []uuid.UUID{id}, cs.DeletedPositions)
	require.True(t, viewPool(t, s, poolA).TotalLiquidity().IsZero())
}

// --- claims ---

func initiate(t *testing.T, f *fixture, amount fpmath.Uint, now uint64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.InitiateClaim(state.InitiateClaimParams{
			ClaimID: id, CoverID: f.cover, Claimant: f.buyer, Amount: amount, Deposit: units(10), Now: now,
		})
		return err
	})
	return id
}

func TestClaim_FullAmountCompensatedClosesCover(t *testing.T) {
	f, _ := newFixture(t)
	created := t0 + 1000
	claimID := initiate(t, f, units(500), created)

	require.Equal(t, uint64(1), viewPool(t, f.store, poolA).OngoingClaims)
	require.True(t, viewCover(t, f.store, f.cover).Locked())

	_, err := f.store.Update(func(tx *state.Txn) error {
		_, err := tx.WithdrawCompensation(claimID, f.buyer, created+10)
		return err
	})
	require.ErrorIs(t, err, state.ErrChallengePeriodActive)

	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.WithdrawCompensation(claimID, f.buyer, created+state.DefaultProtocolParams.ChallengePeriod)
		return err
	})
	require.Equal(t, units(500), sumEffects(cs, state.EffectCompensationPaid))
	require.False(t, sumEffects(cs, state.EffectPremiumsRefunded).IsZero())
	require.Equal(t, units(10), sumEffects(cs, state.EffectClaimDepositRefunded))

	require.Equal(t, state.ClaimCompensated, viewClaim(t, f.store, claimID).Status)
	c := viewCover(t, f.store, f.cover)
	require.False(t, c.IsActive)
	require.False(t, c.Locked())

	p := viewPool(t, f.store, poolA)
	require.Equal(t, units(500), p.TotalLiquidity())
	require.True(t, p.Slot0.CoveredCapital.IsZero())
	require.Zero(t, p.OngoingClaims)
	require.Len(t, p.CompensationIDs, 1)

	cs = update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.TakeInterest(f.position, f.lp, created+state.DefaultProtocolParams.ChallengePeriod+1)
		return err
	})
	require.Equal(t, units(500), sumEffects(cs, state.EffectCapitalLost))
}

func TestClaim_PartialCompensationAcrossOverlappingPools(t *testing.T) {
	f, _ := newFixture(t)
	createPools(t, f.store, poolB)
	shared := uuid.New()
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.OpenPosition(state.OpenPositionParams{
			PositionID: shared, Owner: f.lp, Amount: units(1000), PoolIDs: []state.PoolID{poolA, poolB}, Now: t0,
		})
		return err
	})

	claimID := initiate(t, f, units(200), t0+50)
	payAt := t0 + 50 + state.DefaultProtocolParams.ChallengePeriod
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.WithdrawCompensation(claimID, f.buyer, payAt)
		return err
	})

	a, b := viewPool(t, f.store, poolA), viewPool(t, f.store, poolB)
	require.Equal(t, units(1800), a.TotalLiquidity())
	require.Equal(t, units(900), b.TotalLiquidity(), "a tenth of the shared capital backed the claim")
	require.Equal(t, units(900), a.Overlaps[poolB])
	require.Equal(t, units(900), b.Overlaps[poolA])

	c := viewCover(t, f.store, f.cover)
	require.True(t, c.IsActive)
	require.Equal(t, units(300), c.CoverAmount)
	require.Equal(t, units(300), a.Slot0.CoveredCapital)

	lost := fpmath.Zero
	for _, id := range []uuid.UUID{f.position, shared} {
		cs := update(t, f.store, func(tx *state.Txn) error {
			_, err := tx.TakeInterest(id, f.lp, payAt+1)
			return err
		})
		lost = lost.Add(sumEffects(cs, state.EffectCapitalLost))
	}
	require.Equal(t, units(200), lost)
}

func TestClaim_DisputeRejectedPaysProsecutor(t *testing.T) {
	f, _ := newFixture(t)
	challenger := uuid.New()
	claimID := initiate(t, f, units(100), t0)

	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.DisputeClaim(state.DisputeClaimParams{
			ClaimID: claimID, Challenger: challenger, DisputeID: 77, Deposit: units(10), Now: t0 + 5,
		})
		return err
	})
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.SubmitEvidence(claimID, challenger, []string{"ipfs://counter"}, t0+6)
		return err
	})
	ruledAt := t0 + 100
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.RuleClaim(77, state.RulingRejectClaim, ruledAt)
		return err
	})

	cl := viewClaim(t, f.store, claimID)
	require.Equal(t, state.ClaimRejectedByCourtDecision, cl.Status)
	require.True(t, cl.HoldReleased)
	require.Equal(t, []string{"ipfs://counter"}, cl.CounterEvidence)
	require.Zero(t, viewPool(t, f.store, poolA).OngoingClaims)

	_, err := f.store.Update(func(tx *state.Txn) error {
		_, err := tx.WithdrawProsecutorReward(claimID, challenger, ruledAt+1)
		return err
	})
	require.ErrorIs(t, err, state.ErrOverrulePeriodActive)

	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.WithdrawProsecutorReward(claimID, challenger, ruledAt+state.DefaultProtocolParams.OverrulePeriod)
		return err
	})
	require.Equal(t, state.ClaimProsecutorPaid, viewClaim(t, f.store, claimID).Status)
	require.False(t, viewCover(t, f.store, f.cover).Locked())

	var reward state.Effect
	for _, e := range cs.Effects {
		if e.Kind == state.EffectProsecutorRewardPaid {
			reward = e
		}
	}
	require.Equal(t, f.buyer, reward.Owner)
	require.Equal(t, challenger, reward.Beneficiary)
	require.Equal(t, units(10), reward.Amount)
}

func TestClaim_AppealReleasesHoldOnlyOnce(t *testing.T) {
	f, _ := newFixture(t)
	challenger := uuid.New()
	claimID := initiate(t, f, units(50), t0)
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.DisputeClaim(state.DisputeClaimParams{
			ClaimID: claimID, Challenger: challenger, DisputeID: 9, Deposit: units(10), Now: t0 + 1,
		})
		return err
	})
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.RuleClaim(9, state.RulingRejectClaim, t0+10)
		return err
	})
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.AppealClaim(claimID, f.buyer, t0+20)
		return err
	})
	require.Equal(t, state.ClaimAppealed, viewClaim(t, f.store, claimID).Status)

	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.RuleClaim(9, state.RulingPayClaimant, t0+30)
		return err
	})
	require.Zero(t, viewPool(t, f.store, poolA).OngoingClaims)

	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.WithdrawCompensation(claimID, f.buyer, t0+30+state.DefaultProtocolParams.OverrulePeriod)
		return err
	})
	require.Equal(t, state.ClaimCompensatedAfterDispute, viewClaim(t, f.store, claimID).Status)
	require.Zero(t, viewPool(t, f.store, poolA).OngoingClaims)
}

func TestClaim_IllegalTransitions(t *testing.T) {
	f, _ := newFixture(t)
	claimID := initiate(t, f, units(50), t0)

	var te *state.TransitionError
	_, err := f.store.Update(func(tx *state.Txn) error {
		_, err := tx.AppealClaim(claimID, f.buyer, t0+1)
		return err
	})
	require.True(t, errors.As(err, &te))
	require.Equal(t, state.ClaimInitiated, te.From)
	require.Equal(t, state.ActionAppeal, te.Action)

	_, err = f.store.Update(func(tx *state.Txn) error {
		_, err := tx.OverruleClaim(claimID, t0+1)
		return err
	})
	require.True(t, errors.As(err, &te))

	_, err = f.store.Update(func(tx *state.Txn) error {
		_, err := tx.RuleClaim(12345, state.RulingPayClaimant, t0+1)
		return err
	})
	require.ErrorIs(t, err, state.ErrDisputeNotFound)
}

func TestClaim_InitiatePreconditions(t *testing.T) {
	f, _ := newFixture(t)
	try := func(claimant uuid.UUID, amount, deposit fpmath.Uint) error {
		_, err := f.store.Update(func(tx *state.Txn) error {
			_, err := tx.InitiateClaim(state.InitiateClaimParams{
				ClaimID: uuid.New(), CoverID: f.cover, Claimant: claimant, Amount: amount, Deposit: deposit, Now: t0,
			})
			return err
		})
		return err
	}
	require.ErrorIs(t, try(uuid.New(), units(1), units(10)), state.ErrNotOwner)
	require.ErrorIs(t, try(f.buyer, units(501), units(10)), state.ErrClaimExceedsCover)
	require.ErrorIs(t, try(f.buyer, units(1), units(9)), state.ErrInsufficientDeposit)

	initiate(t, f, units(1), t0)
	require.ErrorIs(t, try(f.buyer, units(1), units(10)), state.ErrCoverLocked)

	_, err := f.store.Update(func(tx *state.Txn) error {
		_, err := tx.UpdateCover(state.UpdateCoverParams{CoverID: f.cover, Caller: f.buyer, PremiumsToAdd: units(1), Now: t0})
		return err
	})
	require.ErrorIs(t, err, state.ErrCoverLocked)
}

func TestRemoveLiquidity_BlockedByOngoingClaim(t *testing.T) {
	f, _ := newFixture(t)
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.CommitWithdrawal(f.position, f.lp, t0)
		return err
	})
	initiate(t, f, units(10), t0+1)
	_, err := f.store.Update(func(tx *state.Txn) error {
		_, err := tx.RemoveLiquidity(state.RemoveLiquidityParams{
			PositionID: f.position, Caller: f.lp, Amount: units(1), Now: t0 + state.DefaultProtocolParams.WithdrawDelay,
		})
		return err
	})
	require.ErrorIs(t, err, state.ErrPoolHasOngoingClaims)
}

// --- store ---

func TestUpdate_ArithmeticFaultDiscardsTransaction(t *testing.T) {
	s := state.NewStore(state.DefaultProtocolParams)
	createPools(t, s, poolA)
	owner, id := uuid.New(), uuid.New()
	update(t, s, func(tx *state.Txn) error {
		_, err := tx.OpenPosition(state.OpenPositionParams{
			PositionID: id, Owner: owner, Amount: fpmath.MaxUint, PoolIDs: []state.PoolID{poolA}, Now: t0,
		})
		return err
	})
	_, err := s.Update(func(tx *state.Txn) error {
		_, err := tx.AddLiquidity(state.AddLiquidityParams{PositionID: id, Caller: owner, Amount: fpmath.U64(1), Now: t0})
		return err
	})
	require.ErrorIs(t, err, state.ErrInvariant)
	require.ErrorIs(t, err, fpmath.ErrOverflow)
	require.Equal(t, fpmath.MaxUint, viewPool(t, s, poolA).TotalLiquidity())
}

func TestUpdate_FailedTransactionRestoresTickIndex(t *testing.T) {
	f, _ := newFixture(t)
	boom := errors.New("boom")
	_, err := f.store.Update(func(tx *state.Txn) error {
		if _, err := tx.CoverInfo(f.cover, t0+200_000_000); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p := viewPool(t, f.store, poolA)
	require.Equal(t, 1, p.Ticks.Len())
	require.Equal(t, units(500), p.Slot0.CoveredCapital)
	require.True(t, viewCover(t, f.store, f.cover).IsActive)
}

func TestRefresh_RejectsStaleTimestamp(t *testing.T) {
	f, _ := newFixture(t)
	_, err := f.store.Update(func(tx *state.Txn) error {
		_, err := tx.CoverInfo(f.cover, t0-1)
		return err
	})
	require.ErrorIs(t, err, state.ErrStaleTimestamp)
}

func TestStrategyIndex_OnlyGrows(t *testing.T) {
	s := state.NewStore(state.DefaultProtocolParams)
	twice := fpmath.Ray.Mul(fpmath.U64(2))
	update(t, s, func(tx *state.Txn) error {
		return tx.UpdateStrategyIndex(3, twice)
	})
	_, err := s.Update(func(tx *state.Txn) error {
		return tx.UpdateStrategyIndex(3, twice)
	})
	require.NoError(t, err, "an unchanged index is accepted")
	_, err = s.Update(func(tx *state.Txn) error {
		return tx.UpdateStrategyIndex(3, fpmath.Ray)
	})
	require.ErrorIs(t, err, state.ErrStrategyIndexDecreased)
}

func TestStrategyRewards_AccrueToPosition(t *testing.T) {
	f, _ := newFixture(t)
	update(t, f.store, func(tx *state.Txn) error {
		return tx.UpdateStrategyIndex(0, fpmath.Ray.Add(fpmath.Ray.Div(fpmath.U64(20))))
	})
	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.TakeInterest(f.position, f.lp, t0+1)
		return err
	})
	require.Equal(t, units(50), sumEffects(cs, state.EffectStrategyRewardsPaid), "5% of 1000")
}

func TestCompatibilityGraph_ReportsEveryIssue(t *testing.T) {
	known := func(id state.PoolID) bool { return id <= 3 }
	_, err := state.NewCompatibilityGraph(map[state.PoolID][]state.PoolID{
		1: {1},
		2: {3},
		3: {9},
	}, known)

	var ce *state.ConfigError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Issues, 3, "self reference, missing reverse 2→3, unknown 9")

	g, err := state.NewCompatibilityGraph(map[state.PoolID][]state.PoolID{1: {2}, 2: {1}}, known)
	require.NoError(t, err)
	require.False(t, g.Compatible(1, 2))
	require.True(t, g.Compatible(1, 3))
	require.ErrorIs(t, g.ValidateSet([]state.PoolID{3, 2, 1}), state.ErrIncompatiblePools)

	merged, err := g.Merge(map[state.PoolID][]state.PoolID{1: nil, 2: nil}, known)
	require.NoError(t, err)
	require.True(t, merged.Compatible(2, 1))
	require.False(t, g.Compatible(2, 1), "the original graph is not modified")
}

func TestSnapshot_RoundTrip(t *testing.T) {
	f, _ := newFixture(t)
	initiate(t, f, units(10), t0+1)

	data, err := json.Marshal(f.store.Export())
	require.NoError(t, err)

	var snap state.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	restored := state.NewStore(state.DefaultProtocolParams)
	require.NoError(t, restored.Import(&snap))

	again, err := json.Marshal(restored.Export())
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(again))

	p := viewPool(t, restored, poolA)
	require.Equal(t, 1, p.Ticks.Len())
	require.Equal(t, uint64(1), p.OngoingClaims)
}

// --- claim outcomes ---

func dispute(t *testing.T, f *fixture, claimID, challenger uuid.UUID, disputeID, now uint64) {
	t.Helper()
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.DisputeClaim(state.DisputeClaimParams{
			ClaimID: claimID, Challenger: challenger, DisputeID: disputeID, Deposit: units(10), Now: now,
		})
		return err
	})
}

func TestClaim_RefusedToArbitrateRefundsBothDeposits(t *testing.T) {
	f, _ := newFixture(t)
	challenger := uuid.New()
	claimID := initiate(t, f, units(100), t0)
	dispute(t, f, claimID, challenger, 5, t0+5)

	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.RuleClaim(5, state.RulingRefusedToArbitrate, t0+100)
		return err
	})
	require.Equal(t, units(20), sumEffects(cs, state.EffectClaimDepositRefunded))
	require.True(t, sumEffects(cs, state.EffectClaimDepositForfeited).IsZero())
	require.True(t, sumEffects(cs, state.EffectCompensationPaid).IsZero())

	cl := viewClaim(t, f.store, claimID)
	require.Equal(t, state.ClaimRefusedToArbitrate, cl.Status)
	require.True(t, cl.Status.Terminal())
	require.True(t, cl.HoldReleased)
	require.Zero(t, viewPool(t, f.store, poolA).OngoingClaims)
	require.False(t, viewCover(t, f.store, f.cover).Locked())

	var te *state.TransitionError
	for _, op := range []func(tx *state.Txn) (*state.Claim, error){
		func(tx *state.Txn) (*state.Claim, error) { return tx.AppealClaim(claimID, f.buyer, t0+101) },
		func(tx *state.Txn) (*state.Claim, error) { return tx.OverruleClaim(claimID, t0+101) },
		func(tx *state.Txn) (*state.Claim, error) { return tx.RuleClaim(5, state.RulingPayClaimant, t0+101) },
	} {
		_, err := f.store.Update(func(tx *state.Txn) error {
			_, err := op(tx)
			return err
		})
		require.True(t, errors.As(err, &te), "got %v", err)
	}
	require.Zero(t, viewPool(t, f.store, poolA).OngoingClaims)

	initiate(t, f, units(10), t0+200)
	require.Equal(t, uint64(1), viewPool(t, f.store, poolA).OngoingClaims)
}

func TestClaim_OverruleForfeitsClaimantDeposit(t *testing.T) {
	f, _ := newFixture(t)
	challenger := uuid.New()
	claimID := initiate(t, f, units(100), t0)
	dispute(t, f, claimID, challenger, 8, t0+5)

	ruledAt := t0 + 100
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.RuleClaim(8, state.RulingPayClaimant, ruledAt)
		return err
	})
	require.Equal(t, state.ClaimAcceptedByCourtDecision, viewClaim(t, f.store, claimID).Status)
	require.Zero(t, viewPool(t, f.store, poolA).OngoingClaims)
	require.True(t, viewCover(t, f.store, f.cover).Locked(), "an accepted claim can still be paid")

	_, err := f.store.Update(func(tx *state.Txn) error {
		_, err := tx.OverruleClaim(claimID, ruledAt+state.DefaultProtocolParams.OverrulePeriod)
		return err
	})
	require.ErrorIs(t, err, state.ErrOverrulePeriodOver)

	cs := update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.OverruleClaim(claimID, ruledAt+1)
		return err
	})
	require.Equal(t, units(10), sumEffects(cs, state.EffectClaimDepositForfeited))
	require.Equal(t, units(10), sumEffects(cs, state.EffectClaimDepositRefunded))
	for _, e := range cs.Effects {
		switch e.Kind {
		case state.EffectClaimDepositForfeited:
			require.Equal(t, f.buyer, e.Owner)
		case state.EffectClaimDepositRefunded:
			require.Equal(t, challenger, e.Owner)
		}
	}

	require.Equal(t, state.ClaimRejectedByOverrule, viewClaim(t, f.store, claimID).Status)
	require.Zero(t, viewPool(t, f.store, poolA).OngoingClaims, "the hold was already released at the ruling")
	require.False(t, viewCover(t, f.store, f.cover).Locked())

	var te *state.TransitionError
	_, err = f.store.Update(func(tx *state.Txn) error {
		_, err := tx.WithdrawCompensation(claimID, f.buyer, ruledAt+state.DefaultProtocolParams.OverrulePeriod)
		return err
	})
	require.True(t, errors.As(err, &te))
	require.Equal(t, units(500), viewPool(t, f.store, poolA).TotalLiquidity())
}

func TestClaim_RejectedClaimStopsLockingAfterAppealWindow(t *testing.T) {
	f, _ := newFixture(t)
	challenger := uuid.New()
	claimID := initiate(t, f, units(100), t0)
	dispute(t, f, claimID, challenger, 3, t0+5)
	ruledAt := t0 + 100
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.RuleClaim(3, state.RulingRejectClaim, ruledAt)
		return err
	})

	addPremiums := func(now uint64) error {
		_, err := f.store.Update(func(tx *state.Txn) error {
			_, err := tx.UpdateCover(state.UpdateCoverParams{CoverID: f.cover, Caller: f.buyer, PremiumsToAdd: units(1), Now: now})
			return err
		})
		return err
	}
	params := state.DefaultProtocolParams
	released := ruledAt + max(params.OverrulePeriod, params.AppealPeriod)
	require.ErrorIs(t, addPremiums(ruledAt+params.OverrulePeriod), state.ErrCoverLocked, "the claimant may still appeal")
	require.ErrorIs(t, addPremiums(released-1), state.ErrCoverLocked)

	require.NoError(t, addPremiums(released))
	require.False(t, viewCover(t, f.store, f.cover).Locked())
	require.Equal(t, state.ClaimRejectedByCourtDecision, viewClaim(t, f.store, claimID).Status)

	next := initiate(t, f, units(10), released+1)
	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.WithdrawProsecutorReward(claimID, challenger, released+2)
		return err
	})
	require.Equal(t, state.ClaimProsecutorPaid, viewClaim(t, f.store, claimID).Status)
	require.Equal(t, next, viewCover(t, f.store, f.cover).OngoingClaimID, "collecting the reward leaves the newer claim's lock alone")
}

// --- withdrawals ---

func TestUncommitWithdrawal_RealisesRewardsAndBlocksRemoval(t *testing.T) {
	f, _ := newFixture(t)
	_, err := f.store.Update(func(tx *state.Txn) error {
		_, err := tx.UncommitWithdrawal(f.position, f.lp, t0)
		return err
	})
	require.ErrorIs(t, err, state.ErrWithdrawalNotCommitted)

	update(t, f.store, func(tx *state.Txn) error {
		_, err := tx.CommitWithdrawal(f.position, f.lp, t0+10)
		return err
	})
	_, err = f.store.Update(func(tx *state.Txn) error {
		_, err := tx.UncommitWithdrawal(f.position, uuid.New(), t0+20)
		return err
	})
	require.ErrorIs(t, err, state.ErrNotOwner)

	var pos *state.Position
	update(t, f.store, func(tx *state.Txn) error {
		var err error
		pos, err = tx.UncommitWithdrawal(f.position, f.lp, t0+1_000_000)
		return err
	})
	require.False(t, pos.Committed())
	require.Zero(t, pos.CommitWithdrawalTimestamp)
	require.False(t, pos.CoverRewards[poolA].IsZero(), "rewards up to the uncommit are realised on the position")
	require.Equal(t, viewPool(t, f.store, poolA).Slot0.LiquidityIndex, pos.LiquidityIndexes[poolA])

	_, err = f.store.Update(func(tx *state.Txn) error {
		_, err := tx.RemoveLiquidity(state.RemoveLiquidityParams{
			PositionID: f.position, Caller: f.lp, Amount: units(1), Now: t0 + 10 + state.DefaultProtocolParams.WithdrawDelay,
		})
		return err
	})
	require.ErrorIs(t, err, state.ErrWithdrawalNotCommitted)
}

// --- compatibility updates ---

func TestUpdateCompatibility_RejectsOneSidedUpdates(t *testing.T) {
	s := state.NewStore(state.DefaultProtocolParams)
	createPools(t, s, poolA, poolB, poolC)
	apply := func(entries map[state.PoolID][]state.PoolID) error {
		_, err := s.Update(func(tx *state.Txn) error { return tx.UpdateCompatibility(entries) })
		return err
	}
	compatible := func(a, b state.PoolID) bool {
		var ok bool
		require.NoError(t, s.View(func(tx *state.Txn) error {
			ok = tx.Compatibility().Compatible(a, b)
			return nil
		}))
		return ok
	}

	var ce *state.ConfigError
	require.True(t, errors.As(apply(map[state.PoolID][]state.PoolID{poolA: {poolB}}), &ce))
	require.Equal(t, []state.ConfigIssue{{PoolID: poolA, Other: poolB, Reason: "missing reverse entry"}}, ce.Issues)
	require.True(t, compatible(poolA, poolB), "a rejected update leaves the graph untouched")

	require.NoError(t, apply(map[state.PoolID][]state.PoolID{poolA: {poolB}, poolB: {poolA}}))
	require.False(t, compatible(poolA, poolB))
	require.False(t, compatible(poolB, poolA))

	require.True(t, errors.As(apply(map[state.PoolID][]state.PoolID{poolA: nil}), &ce), "pool B would still list A")
	require.False(t, compatible(poolA, poolB))

	require.NoError(t, apply(map[state.PoolID][]state.PoolID{poolA: nil, poolB: nil}))
	require.True(t, compatible(poolA, poolB))
}

func TestUpdateCompatibility_ContradictoryUpdateIsDeterministic(t *testing.T) {
	for range 100 {
		s := state.NewStore(state.DefaultProtocolParams)
		createPools(t, s, poolA, poolB)
		_, err := s.Update(func(tx *state.Txn) error {
			return tx.UpdateCompatibility(map[state.PoolID][]state.PoolID{poolA: {poolB}, poolB: {}})
		})
		var ce *state.ConfigError
		require.True(t, errors.As(err, &ce))
		require.Equal(t, []state.ConfigIssue{{PoolID: poolA, Other: poolB, Reason: "missing reverse entry"}}, ce.Issues)
		require.Empty(t, s.Export().Compatibility)
	}
}

func TestCreatePool_IncompatibilityAppliesBothWays(t *testing.T) {
	s := state.NewStore(state.DefaultProtocolParams)
	createPools(t, s, poolA, poolB)
	update(t, s, func(tx *state.Txn) error {
		_, err := tx.CreatePool(state.CreatePoolParams{PoolID: poolC, Formula: formula(t), Incompatible: []state.PoolID{poolA}, Now: t0})
		return err
	})
	require.Equal(t, map[state.PoolID][]state.PoolID{poolA: {poolC}, poolC: {poolA}}, s.Export().Compatibility)

	_, err := s.Update(func(tx *state.Txn) error {
		_, err := tx.CreatePool(state.CreatePoolParams{PoolID: 4, Formula: formula(t), Incompatible: []state.PoolID{9}, Now: t0})
		return err
	})
	var ce *state.ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	require.Equal(t, []state.PoolID{poolA, poolB, poolC}, s.PoolIDs())
}

// --- bookkeeping across a lifecycle ---

func TestLifecycle_BalancesStayConsistent(t *testing.T) {
	f, _ := newFixture(t)
	createPools(t, f.store, poolB)
	shared := uuid.New()
	claims := uint64(0)

	check := func(step string) {
		t.Helper()
		for _, id := range []state.PoolID{poolA, poolB} {
			p := viewPool(t, f.store, id)
			require.LessOrEqual(t, p.OngoingClaims, claims, "%s: pool %d ongoing claims", step, id)
			require.True(t, p.AvailableLiquidity().Lte(p.TotalLiquidity()), "%s: pool %d available liquidity", step, id)
			for other, overlap := range p.Overlaps {
				require.True(t, overlap.Lte(p.TotalLiquidity()), "%s: pool %d overlap with %d", step, id, other)
			}
		}
		c := viewCover(t, f.store, f.cover)
		require.True(t, c.CoverAmount.Lte(units(500)), "%s: cover amount", step)
		require.True(t, c.PremiumsLeft.Lte(units(120)), "%s: premiums left", step)
	}
	check("fixture")

	steps := []struct {
		name string
		fn   func(tx *state.Txn) error
	}{
		{"shared position", func(tx *state.Txn) error {
			_, err := tx.OpenPosition(state.OpenPositionParams{
				PositionID: shared, Owner: f.lp, Amount: units(1000), PoolIDs: []state.PoolID{poolA, poolB}, Now: t0,
			})
			return err
		}},
		{"add premiums", func(tx *state.Txn) error {
			_, err := tx.UpdateCover(state.UpdateCoverParams{CoverID: f.cover, Caller: f.buyer, PremiumsToAdd: units(20), Now: t0 + 10})
			return err
		}},
		{"first claim", func(tx *state.Txn) error {
			claims++
			_, err := tx.InitiateClaim(state.InitiateClaimParams{
				ClaimID: uuid.New(), CoverID: f.cover, Claimant: f.buyer, Amount: units(200), Deposit: units(10), Now: t0 + 50,
			})
			return err
		}},
		{"pay first claim", func(tx *state.Txn) error {
			c, err := tx.Cover(f.cover)
			if err != nil {
				return err
			}
			_, err = tx.WithdrawCompensation(c.OngoingClaimID, f.buyer, t0+50+state.DefaultProtocolParams.ChallengePeriod)
			return err
		}},
		{"take interest", func(tx *state.Txn) error {
			now := t0 + 51 + state.DefaultProtocolParams.ChallengePeriod
			if _, err := tx.TakeInterest(f.position, f.lp, now); err != nil {
				return err
			}
			_, err := tx.TakeInterest(shared, f.lp, now)
			return err
		}},
		{"second claim", func(tx *state.Txn) error {
			claims++
			id := uuid.New()
			now := t0 + 52 + state.DefaultProtocolParams.ChallengePeriod
			if _, err := tx.InitiateClaim(state.InitiateClaimParams{
				ClaimID: id, CoverID: f.cover, Claimant: f.buyer, Amount: units(100), Deposit: units(10), Now: now,
			}); err != nil {
				return err
			}
			if _, err := tx.DisputeClaim(state.DisputeClaimParams{
				ClaimID: id, Challenger: uuid.New(), DisputeID: 42, Deposit: units(10), Now: now,
			}); err != nil {
				return err
			}
			_, err := tx.RuleClaim(42, state.RulingRefusedToArbitrate, now+1)
			return err
		}},
		{"commit shared", func(tx *state.Txn) error {
			_, err := tx.CommitWithdrawal(shared, f.lp, t0+54+state.DefaultProtocolParams.ChallengePeriod)
			return err
		}},
		{"remove shared", func(tx *state.Txn) error {
			now := t0 + 54 + state.DefaultProtocolParams.ChallengePeriod + state.DefaultProtocolParams.WithdrawDelay
			_, err := tx.RemoveLiquidity(state.RemoveLiquidityParams{PositionID: shared, Caller: f.lp, Amount: units(100), Now: now})
			return err
		}},
	}
	for _, step := range steps {
		_, err := f.store.Update(step.fn)
		require.NoError(t, err, step.name)
		check(step.name)
	}
	require.Zero(t, viewPool(t, f.store, poolA).OngoingClaims)
	require.Zero(t, viewPool(t, f.store, poolB).OngoingClaims)
}

// --- faults and digests ---

func TestUpdate_MissingOverlapPoolIsAnInvariantError(t *testing.T) {
	f, _ := newFixture(t)
	claimID := initiate(t, f, units(10), t0+1)

	snap := f.store.Export()
	snap.Pools[0].Overlaps[99] = units(1)
	s := state.NewStore(f.store.Params())
	require.NoError(t, s.Import(snap))

	require.NotPanics(t, func() {
		_, err := s.Update(func(tx *state.Txn) error {
			_, err := tx.WithdrawCompensation(claimID, f.buyer, t0+1+state.DefaultProtocolParams.ChallengePeriod)
			return err
		})
		require.ErrorIs(t, err, state.ErrInvariant)
		require.ErrorIs(t, err, state.ErrPoolNotFound)
	})
	require.Equal(t, state.ClaimInitiated, viewClaim(t, s, claimID).Status)
	require.Equal(t, units(1000), viewPool(t, s, poolA).TotalLiquidity())
}

func TestChangeSet_DigestCoversIndexesCompatibilityAndParams(t *testing.T) {
	digest := func(fn func(tx *state.Txn) error) []byte {
		s := state.NewStore(state.DefaultProtocolParams)
		createPools(t, s, poolA, poolB)
		return update(t, s, fn).Digest()
	}

	strategy := func(bump uint64) func(tx *state.Txn) error {
		return func(tx *state.Txn) error { return tx.UpdateStrategyIndex(0, fpmath.Ray.Add(fpmath.U64(bump))) }
	}
	require.Equal(t, digest(strategy(1)), digest(strategy(1)))
	require.NotEqual(t, digest(strategy(1)), digest(strategy(2)))

	compat := func(entries map[state.PoolID][]state.PoolID) func(tx *state.Txn) error {
		return func(tx *state.Txn) error { return tx.UpdateCompatibility(entries) }
	}
	require.NotEqual(t,
		digest(compat(map[state.PoolID][]state.PoolID{poolA: {poolB}, poolB: {poolA}})),
		digest(compat(map[state.PoolID][]state.PoolID{poolA: nil, poolB: nil})),
	)

	params := func(delay uint64) func(tx *state.Txn) error {
		return func(tx *state.Txn) error {
			p := state.DefaultProtocolParams
			p.WithdrawDelay = delay
			return tx.SetParams(p)
		}
	}
	require.NotEqual(t, digest(params(60)), digest(params(61)))
}
