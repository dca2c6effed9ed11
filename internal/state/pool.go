package state

import (
	"maps"
	"slices"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

type (
	PoolID         uint64
	StrategyID     uint32
	CompensationID uint64
)

// Slot0 is the pool's time-and-capital state, advanced by refresh.
type Slot0 struct {
	Tick uint64 `json:"tick"`
	// SecondsPerTick is Ray-scaled seconds.
	SecondsPerTick      fpmath.Uint `json:"seconds_per_tick"`
	CoveredCapital      fpmath.Uint `json:"covered_capital"`
	LastUpdateTimestamp uint64      `json:"last_update_timestamp"`
	LiquidityIndex      fpmath.Uint `json:"liquidity_index"`
}

// Pool is one risk pool. Overlaps[ID] is the pool's own liquidity; every other
// key holds the capital jointly backing this pool and that one.
type Pool struct {
	ID              PoolID                 `json:"id"`
	Formula         fpmath.Formula         `json:"formula"`
	Slot0           Slot0                  `json:"slot0"`
	UtilizationRate fpmath.Uint            `json:"utilization_rate"`
	PremiumRate     fpmath.Uint            `json:"premium_rate"`
	Overlaps        map[PoolID]fpmath.Uint `json:"overlaps"`
	OngoingClaims   uint64                 `json:"ongoing_claims"`
	StrategyID      StrategyID             `json:"strategy_id"`
	IsPaused        bool                   `json:"is_paused"`
	CompensationIDs []CompensationID       `json:"compensation_ids"`
	Ticks           *TickIndex             `json:"ticks"`
	CreatedAt       uint64                 `json:"created_at"`
}

func newPool(id PoolID, formula fpmath.Formula, strategy StrategyID, secondsPerTick uint64, now uint64) *Pool {
	return &Pool{
		ID:      id,
		Formula: formula,
		Slot0: Slot0{
			SecondsPerTick:      fpmath.SecondsToRay(secondsPerTick),
			LastUpdateTimestamp: now,
		},
		UtilizationRate: fpmath.Zero,
		PremiumRate:     fpmath.PremiumRate(formula, fpmath.Zero),
		Overlaps:        map[PoolID]fpmath.Uint{id: fpmath.Zero},
		StrategyID:      strategy,
		Ticks:           NewTickIndex(),
		CreatedAt:       now,
	}
}

// clone copies everything but the tick index, which the transaction guards
// through its undo log.
func (p *Pool) clone() *Pool {
	c := *p
	c.Overlaps = maps.Clone(p.Overlaps)
	c.CompensationIDs = slices.Clip(p.CompensationIDs)
	return &c
}

func (p *Pool) TotalLiquidity() fpmath.Uint { return p.Overlaps[p.ID] }

// AvailableLiquidity is liquidity not committed to covers, floored at zero
// while a payout leaves the pool short.
func (p *Pool) AvailableLiquidity() fpmath.Uint {
	return p.TotalLiquidity().SubFloor(p.Slot0.CoveredCapital)
}

// OverlappingPools lists every pool sharing capital with this one, own id
// included, in ascending order.
func (p *Pool) OverlappingPools() []PoolID {
	ids := make([]PoolID, 0, len(p.Overlaps))
	for id := range p.Overlaps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// refresh catches the pool up to now, crossing expiry ticks one at a time so
// each segment accrues at the rate that was in force. It returns the covers
// that expired on the way.
func (p *Pool) refresh(now uint64, log undoLog) []uuid.UUID {
	var expired []uuid.UUID
	for now > p.Slot0.LastUpdateTimestamp {
		remaining := now - p.Slot0.LastUpdateTimestamp
		ticks := fpmath.TicksIn(remaining, p.Slot0.SecondsPerTick)
		if ticks == 0 {
			break
		}

		next, ok := p.Ticks.Next(p.Slot0.Tick)
		if !ok || next > p.Slot0.Tick+ticks {
			p.advance(ticks)
			break
		}

		p.advance(next - p.Slot0.Tick)
		info := p.Ticks.pop(next, log)
		p.Slot0.CoveredCapital = p.Slot0.CoveredCapital.Sub(info.Capital)
		expired = append(expired, info.CoverIDs...)
		p.reprice()
	}
	return expired
}

// advance moves the clock by whole ticks and accrues the liquidity index for
// the wall time they span. Sub-tick remainders stay in the next interval.
func (p *Pool) advance(ticks uint64) {
	seconds := fpmath.SecondsIn(ticks, p.Slot0.SecondsPerTick)
	p.Slot0.LiquidityIndex = p.Slot0.LiquidityIndex.Add(
		fpmath.IndexDelta(p.UtilizationRate, p.PremiumRate, seconds),
	)
	p.Slot0.Tick += ticks
	p.Slot0.LastUpdateTimestamp += seconds
}

// reprice recomputes utilization and rate from current capital and rescales
// the tick length to the new rate.
func (p *Pool) reprice() {
	utilization := fpmath.Utilization(p.Slot0.CoveredCapital, p.TotalLiquidity())
	rate := fpmath.PremiumRate(p.Formula, utilization)
	p.Slot0.SecondsPerTick = fpmath.RescaleSecondsPerTick(p.Slot0.SecondsPerTick, p.PremiumRate, rate)
	p.UtilizationRate = utilization
	p.PremiumRate = rate
}

// syncLiquidity applies a change to the pool's own liquidity. The pool must
// already be refreshed.
func (p *Pool) syncLiquidity(added, removed fpmath.Uint) {
	p.Overlaps[p.ID] = p.TotalLiquidity().Add(added).Sub(removed)
	p.reprice()
}

func (p *Pool) addOverlap(other PoolID, amount fpmath.Uint) {
	p.Overlaps[other] = p.Overlaps[other].Add(amount)
}

// reduceOverlap lowers a cross-pool entry, tolerating rounding dust, and
// drops it once empty.
func (p *Pool) reduceOverlap(other PoolID, amount fpmath.Uint) {
	if other == p.ID {
		return
	}
	left := p.Overlaps[other].SubFloor(amount)
	if left.IsZero() {
		delete(p.Overlaps, other)
		return
	}
	p.Overlaps[other] = left
}

// IndexLead is the index growth of the current partial tick, not yet
// committed. The pool should be refreshed to now first.
func (p *Pool) IndexLead(now uint64) fpmath.Uint {
	if now <= p.Slot0.LastUpdateTimestamp {
		return fpmath.Zero
	}
	return fpmath.IndexDelta(p.UtilizationRate, p.PremiumRate, now-p.Slot0.LastUpdateTimestamp)
}
