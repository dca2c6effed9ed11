package state

import (
	"fmt"
	"maps"
	"slices"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

// Position is one provider's capital, backing every pool in PoolIDs at once.
// Rewards accrue against per-pool index baselines and are realised into the
// unclaimed balances whenever the position is touched.
type Position struct {
	ID                        uuid.UUID              `json:"id"`
	Owner                     uuid.UUID              `json:"owner"`
	Supplied                  fpmath.Uint            `json:"supplied"`
	NewUserCapital            fpmath.Uint            `json:"new_user_capital"`
	PoolIDs                   []PoolID               `json:"pool_ids"`
	StrategyID                StrategyID             `json:"strategy_id"`
	CoverRewards              map[PoolID]fpmath.Uint `json:"cover_rewards"`
	StrategyRewards           fpmath.Uint            `json:"strategy_rewards"`
	CommitWithdrawalTimestamp uint64                 `json:"commit_withdrawal_timestamp"`
	LiquidityIndexes          map[PoolID]fpmath.Uint `json:"liquidity_indexes"`
	StrategyRewardIndex       fpmath.Uint            `json:"strategy_reward_index"`
	CompensationCursor        int                    `json:"compensation_cursor"`
	CreatedAt                 uint64                 `json:"created_at"`
	UpdatedAt                 uint64                 `json:"updated_at"`
}

func (p *Position) clone() *Position {
	c := *p
	c.PoolIDs = slices.Clone(p.PoolIDs)
	c.CoverRewards = maps.Clone(p.CoverRewards)
	c.LiquidityIndexes = maps.Clone(p.LiquidityIndexes)
	return &c
}

func (p *Position) Committed() bool { return p.CommitWithdrawalTimestamp != 0 }

func (p *Position) hasPool(id PoolID) bool { return slices.Contains(p.PoolIDs, id) }

// accrue realises rewards from the baselines up to the given indexes and
// moves the baselines there.
func (p *Position) accrue(indexes map[PoolID]fpmath.Uint, strategyIndex fpmath.Uint) {
	for _, id := range p.PoolIDs {
		idx := indexes[id]
		base := p.LiquidityIndexes[id]
		if idx.Gt(base) {
			reward := fpmath.CoverReward(p.NewUserCapital, idx.Sub(base))
			p.CoverRewards[id] = p.CoverRewards[id].Add(reward)
			p.LiquidityIndexes[id] = idx
		}
	}
	if strategyIndex.Gt(p.StrategyRewardIndex) {
		p.StrategyRewards = p.StrategyRewards.Add(
			fpmath.StrategyReward(p.NewUserCapital, p.StrategyRewardIndex, strategyIndex),
		)
		p.StrategyRewardIndex = strategyIndex
	}
}

// settle replays pending compensations in order, then realises rewards up to
// the pools' current indexes. The pools must already be refreshed.
func (tx *Txn) settle(pos *Position, pools []*Pool) {
	first := pools[0]
	for ; pos.CompensationCursor < len(first.CompensationIDs); pos.CompensationCursor++ {
		comp := tx.compensation(first.CompensationIDs[pos.CompensationCursor])
		if !pos.hasPool(comp.FromPoolID) {
			continue
		}
		pos.accrue(comp.LiquidityIndexBeforeClaim, comp.StrategyRewardIndexBeforeClaim)

		loss := fpmath.Min(fpmath.RayMulUp(pos.NewUserCapital, comp.Ratio), pos.NewUserCapital)
		if loss.IsZero() {
			continue
		}
		pos.NewUserCapital = pos.NewUserCapital.Sub(loss)
		for _, a := range pools {
			for _, b := range pools {
				if a.ID != b.ID && a.ID != comp.FromPoolID && b.ID != comp.FromPoolID {
					a.reduceOverlap(b.ID, loss)
				}
			}
		}
		tx.emit(Effect{Kind: EffectCapitalLost, Owner: pos.Owner, Ref: pos.ID, PoolID: comp.FromPoolID, Amount: loss})
	}

	current := make(map[PoolID]fpmath.Uint, len(pools))
	for _, p := range pools {
		current[p.ID] = p.Slot0.LiquidityIndex
	}
	pos.accrue(current, tx.StrategyIndex(pos.StrategyID))
}

// touchPosition loads the pools behind a position, refreshes them to now and
// settles the position against them.
func (tx *Txn) touchPosition(pos *Position, now uint64) ([]*Pool, error) {
	pools := make([]*Pool, len(pos.PoolIDs))
	for i, id := range pos.PoolIDs {
		p, err := tx.Pool(id)
		if err != nil {
			return nil, err
		}
		if err := tx.refreshPool(p, now); err != nil {
			return nil, err
		}
		pools[i] = p
	}
	tx.settle(pos, pools)
	pos.UpdatedAt = now
	return pools, nil
}

// depositCapital adds amount to every pool of the position and to every
// pairwise overlap between them.
func depositCapital(pools []*Pool, amount fpmath.Uint) {
	for _, a := range pools {
		for _, b := range pools {
			if a.ID != b.ID {
				a.addOverlap(b.ID, amount)
			}
		}
		a.syncLiquidity(amount, fpmath.Zero)
	}
}

func (tx *Txn) payRewards(pos *Position) {
	for _, id := range pos.PoolIDs {
		tx.emit(Effect{Kind: EffectCoverRewardsPaid, Owner: pos.Owner, Ref: pos.ID, PoolID: id, Amount: pos.CoverRewards[id]})
		pos.CoverRewards[id] = fpmath.Zero
	}
	tx.emit(Effect{Kind: EffectStrategyRewardsPaid, Owner: pos.Owner, Ref: pos.ID, PoolID: pos.PoolIDs[0], Amount: pos.StrategyRewards})
	pos.StrategyRewards = fpmath.Zero
}

type OpenPositionParams struct {
	PositionID uuid.UUID
	Owner      uuid.UUID
	Amount     fpmath.Uint
	PoolIDs    []PoolID
	Now        uint64
}

func (tx *Txn) OpenPosition(params OpenPositionParams) (*Position, error) {
	if params.Amount.IsZero() {
		return nil, fmt.Errorf("open position: %w", ErrZeroAmount)
	}
	if tx.hasPosition(params.PositionID) {
		return nil, fmt.Errorf("open position: %w: %s", ErrPositionExists, params.PositionID)
	}
	if err := tx.Compatibility().ValidateSet(params.PoolIDs); err != nil {
		return nil, fmt.Errorf("open position: %w", err)
	}

	pools := make([]*Pool, len(params.PoolIDs))
	for i, id := range params.PoolIDs {
		p, err := tx.Pool(id)
		if err != nil {
			return nil, fmt.Errorf("open position: %w", err)
		}
		if p.IsPaused {
			return nil, fmt.Errorf("open position: %w: %d", ErrPoolPaused, id)
		}
		if i > 0 && p.StrategyID != pools[0].StrategyID {
			return nil, fmt.Errorf("open position: %w: pool %d uses %d, pool %d uses %d",
				ErrStrategyMismatch, pools[0].ID, pools[0].StrategyID, id, p.StrategyID)
		}
		pools[i] = p
	}
	for _, p := range pools {
		if err := tx.refreshPool(p, params.Now); err != nil {
			return nil, fmt.Errorf("open position: %w", err)
		}
	}

	pos := &Position{
		ID:                  params.PositionID,
		Owner:               params.Owner,
		Supplied:            params.Amount,
		NewUserCapital:      params.Amount,
		PoolIDs:             slices.Clone(params.PoolIDs),
		StrategyID:          pools[0].StrategyID,
		CoverRewards:        make(map[PoolID]fpmath.Uint, len(pools)),
		LiquidityIndexes:    make(map[PoolID]fpmath.Uint, len(pools)),
		StrategyRewardIndex: tx.StrategyIndex(pools[0].StrategyID),
		CompensationCursor:  len(pools[0].CompensationIDs),
		CreatedAt:           params.Now,
		UpdatedAt:           params.Now,
	}
	for _, p := range pools {
		pos.LiquidityIndexes[p.ID] = p.Slot0.LiquidityIndex
	}
	depositCapital(pools, params.Amount)
	tx.positions[pos.ID] = pos
	tx.emit(Effect{Kind: EffectCapitalDeposited, Owner: pos.Owner, Ref: pos.ID, PoolID: pools[0].ID, Amount: params.Amount})
	return pos, nil
}

func (tx *Txn) ownedPosition(id, caller uuid.UUID) (*Position, error) {
	pos, err := tx.Position(id)
	if err != nil {
		return nil, err
	}
	if pos.Owner != caller {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotOwner)
	}
	return pos, nil
}

type AddLiquidityParams struct {
	PositionID uuid.UUID
	Caller     uuid.UUID
	Amount     fpmath.Uint
	Now        uint64
}

func (tx *Txn) AddLiquidity(params AddLiquidityParams) (*Position, error) {
	if params.Amount.IsZero() {
		return nil, fmt.Errorf("add liquidity: %w", ErrZeroAmount)
	}
	pos, err := tx.ownedPosition(params.PositionID, params.Caller)
	if err != nil {
		return nil, fmt.Errorf("add liquidity: %w", err)
	}
	if pos.Committed() {
		return nil, fmt.Errorf("add liquidity %s: %w", pos.ID, ErrWithdrawalCommitted)
	}
	for _, id := range pos.PoolIDs {
		p, err := tx.Pool(id)
		if err != nil {
			return nil, fmt.Errorf("add liquidity: %w", err)
		}
		if p.IsPaused {
			return nil, fmt.Errorf("add liquidity %s: %w: %d", pos.ID, ErrPoolPaused, id)
		}
	}

	pools, err := tx.touchPosition(pos, params.Now)
	if err != nil {
		return nil, fmt.Errorf("add liquidity: %w", err)
	}
	depositCapital(pools, params.Amount)
	pos.Supplied = pos.Supplied.Add(params.Amount)
	pos.NewUserCapital = pos.NewUserCapital.Add(params.Amount)
	tx.emit(Effect{Kind: EffectCapitalDeposited, Owner: pos.Owner, Ref: pos.ID, PoolID: pos.PoolIDs[0], Amount: params.Amount})
	return pos, nil
}

// TakeInterest realises and pays out both reward balances.
func (tx *Txn) TakeInterest(positionID, caller uuid.UUID, now uint64) (*Position, error) {
	pos, err := tx.ownedPosition(positionID, caller)
	if err != nil {
		return nil, fmt.Errorf("take interest: %w", err)
	}
	if _, err := tx.touchPosition(pos, now); err != nil {
		return nil, fmt.Errorf("take interest: %w", err)
	}
	tx.payRewards(pos)
	return pos, nil
}

func (tx *Txn) CommitWithdrawal(positionID, caller uuid.UUID, now uint64) (*Position, error) {
	pos, err := tx.ownedPosition(positionID, caller)
	if err != nil {
		return nil, fmt.Errorf("commit withdrawal: %w", err)
	}
	if pos.Committed() {
		return nil, fmt.Errorf("commit withdrawal %s: %w", pos.ID, ErrWithdrawalCommitted)
	}
	if _, err := tx.touchPosition(pos, now); err != nil {
		return nil, fmt.Errorf("commit withdrawal: %w", err)
	}
	pos.CommitWithdrawalTimestamp = now
	return pos, nil
}

func (tx *Txn) UncommitWithdrawal(positionID, caller uuid.UUID, now uint64) (*Position, error) {
	pos, err := tx.ownedPosition(positionID, caller)
	if err != nil {
		return nil, fmt.Errorf("uncommit withdrawal: %w", err)
	}
	if !pos.Committed() {
		return nil, fmt.Errorf("uncommit withdrawal %s: %w", pos.ID, ErrWithdrawalNotCommitted)
	}
	if _, err := tx.touchPosition(pos, now); err != nil {
		return nil, fmt.Errorf("uncommit withdrawal: %w", err)
	}
	pos.CommitWithdrawalTimestamp = 0
	return pos, nil
}

type RemoveLiquidityParams struct {
	PositionID uuid.UUID
	Caller     uuid.UUID
	Amount     fpmath.Uint
	Now        uint64
}

// RemoveLiquidity withdraws capital from a committed position once the
// withdraw delay has passed. Rewards are paid out with it; removing all
// capital destroys the position. The returned position is nil when it was
// destroyed.
func (tx *Txn) RemoveLiquidity(params RemoveLiquidityParams) (*Position, error) {
	if params.Amount.IsZero() {
		return nil, fmt.Errorf("remove liquidity: %w", ErrZeroAmount)
	}
	pos, err := tx.ownedPosition(params.PositionID, params.Caller)
	if err != nil {
		return nil, fmt.Errorf("remove liquidity: %w", err)
	}
	if !pos.Committed() {
		return nil, fmt.Errorf("remove liquidity %s: %w", pos.ID, ErrWithdrawalNotCommitted)
	}
	if unlock := pos.CommitWithdrawalTimestamp + tx.Params().WithdrawDelay; params.Now < unlock {
		return nil, fmt.Errorf("remove liquidity %s: %w: unlocks at %d", pos.ID, ErrWithdrawDelay, unlock)
	}
	for _, id := range pos.PoolIDs {
		p, err := tx.Pool(id)
		if err != nil {
			return nil, fmt.Errorf("remove liquidity: %w", err)
		}
		if p.OngoingClaims > 0 {
			return nil, fmt.Errorf("remove liquidity %s: %w: pool %d", pos.ID, ErrPoolHasOngoingClaims, id)
		}
	}

	pools, err := tx.touchPosition(pos, params.Now)
	if err != nil {
		return nil, fmt.Errorf("remove liquidity: %w", err)
	}
	if params.Amount.Gt(pos.NewUserCapital) {
		return nil, fmt.Errorf("remove liquidity %s: %w: have %s, remove %s",
			pos.ID, ErrInsufficientCapital, pos.NewUserCapital, params.Amount)
	}
	for _, p := range pools {
		if p.AvailableLiquidity().Lt(params.Amount) {
			return nil, fmt.Errorf("remove liquidity %s: %w: pool %d", pos.ID, ErrInsufficientLiquidity, p.ID)
		}
	}

	for _, a := range pools {
		for _, b := range pools {
			if a.ID != b.ID {
				a.reduceOverlap(b.ID, params.Amount)
			}
		}
		a.syncLiquidity(fpmath.Zero, params.Amount)
	}
	tx.payRewards(pos)
	tx.emit(Effect{Kind: EffectCapitalWithdrawn, Owner: pos.Owner, Ref: pos.ID, PoolID: pos.PoolIDs[0], Amount: params.Amount})

	remaining := pos.NewUserCapital.Sub(params.Amount)
	if remaining.IsZero() {
		tx.deletePosition(pos.ID)
		return nil, nil
	}
	pos.Supplied = fpmath.MulDiv(pos.Supplied, remaining, pos.NewUserCapital, fpmath.RoundDown)
	pos.NewUserCapital = remaining
	pos.CommitWithdrawalTimestamp = 0
	return pos, nil
}

// PositionInfo is a position settled to now, without committing anything.
type PositionInfo struct {
	Position        *Position              `json:"position"`
	CoverRewards    map[PoolID]fpmath.Uint `json:"cover_rewards"`
	StrategyRewards fpmath.Uint            `json:"strategy_rewards"`
}

// PositionInfo settles the position to now, including the index lead of each
// pool's partial tick. Run it inside Store.View.
func (tx *Txn) PositionInfo(id uuid.UUID, now uint64) (PositionInfo, error) {
	pos, err := tx.Position(id)
	if err != nil {
		return PositionInfo{}, err
	}
	pools, err := tx.touchPosition(pos, now)
	if err != nil {
		return PositionInfo{}, err
	}
	lead := make(map[PoolID]fpmath.Uint, len(pools))
	for _, p := range pools {
		lead[p.ID] = p.Slot0.LiquidityIndex.Add(p.IndexLead(now))
	}
	pos.accrue(lead, tx.StrategyIndex(pos.StrategyID))
	return PositionInfo{
		Position:        pos,
		CoverRewards:    maps.Clone(pos.CoverRewards),
		StrategyRewards: pos.StrategyRewards,
	}, nil
}
