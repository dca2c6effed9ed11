package state

import (
	"fmt"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

// Compensation records one payout so positions can replay it later. Pools
// apply it at once; positions apply it on their next touch.
type Compensation struct {
	ID                             CompensationID         `json:"id"`
	ClaimID                        uuid.UUID              `json:"claim_id"`
	FromPoolID                     PoolID                 `json:"from_pool_id"`
	Amount                         fpmath.Uint            `json:"amount"`
	Ratio                          fpmath.Uint            `json:"ratio"`
	StrategyRewardIndexBeforeClaim fpmath.Uint            `json:"strategy_reward_index_before_claim"`
	LiquidityIndexBeforeClaim      map[PoolID]fpmath.Uint `json:"liquidity_index_before_claim"`
	Timestamp                      uint64                 `json:"timestamp"`
}

// payCompensation takes the claim amount out of the claimed pool and, in
// proportion, out of every pool sharing its capital, then adjusts the cover.
// The ratio rounds up and per-pool removals round down, so the capital
// positions later lose is never less than what the pools gave up.
func (tx *Txn) payCompensation(cl *Claim, now uint64) (*Compensation, error) {
	from, err := tx.Pool(cl.PoolID)
	if err != nil {
		return nil, err
	}
	if err := tx.refreshPool(from, now); err != nil {
		return nil, err
	}
	c, err := tx.Cover(cl.CoverID)
	if err != nil {
		return nil, err
	}
	if c.CoverAmount.Lt(cl.Amount) {
		return nil, fmt.Errorf("%w: cover %s holds %s", ErrClaimExceedsCover, c.ID, c.CoverAmount)
	}
	total := from.TotalLiquidity()
	if cl.Amount.Gt(total) {
		return nil, fmt.Errorf("%w: pool %d has %s, claim %s", ErrInsufficientLiquidity, from.ID, total, cl.Amount)
	}

	comp := &Compensation{
		ID:                             tx.nextCompensationID,
		ClaimID:                        cl.ID,
		FromPoolID:                     from.ID,
		Amount:                         cl.Amount,
		Ratio:                          fpmath.RayDivUp(cl.Amount, total),
		StrategyRewardIndexBeforeClaim: tx.StrategyIndex(from.StrategyID),
		LiquidityIndexBeforeClaim:      make(map[PoolID]fpmath.Uint, len(from.Overlaps)),
		Timestamp:                      now,
	}
	tx.nextCompensationID++

	for _, id := range from.OverlappingPools() {
		pool := from
		if id != from.ID {
			pool = tx.mustPool(id)
			if err := tx.refreshPool(pool, now); err != nil {
				return nil, err
			}
		}
		comp.LiquidityIndexBeforeClaim[id] = pool.Slot0.LiquidityIndex

		removed := cl.Amount
		if id != from.ID {
			removed = fpmath.Min(fpmath.RayMulDown(from.Overlaps[id], comp.Ratio), pool.TotalLiquidity())
			from.reduceOverlap(id, removed)
			pool.reduceOverlap(from.ID, removed)
		}
		pool.syncLiquidity(fpmath.Zero, removed)
		pool.CompensationIDs = append(pool.CompensationIDs, comp.ID)
	}
	tx.compensations[comp.ID] = comp

	tx.adjustCoverForClaim(from, c, cl.Amount, now)
	tx.emit(Effect{Kind: EffectCompensationPaid, Owner: cl.Claimant, Ref: cl.ID, PoolID: from.ID, Amount: cl.Amount})
	return comp, nil
}
