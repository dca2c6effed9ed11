package state

import (
	"fmt"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

// Cover is a premium-funded exposure against one pool. Its remaining life is
// stored as LastTick; the pool's tick clock burns it down without the cover
// being revisited. PremiumsLeft, DailyCost and PremiumRate are as of the last
// time the cover was touched; CoverInfo gives the live values.
type Cover struct {
	ID               uuid.UUID   `json:"id"`
	Owner            uuid.UUID   `json:"owner"`
	PoolID           PoolID      `json:"pool_id"`
	CoverAmount      fpmath.Uint `json:"cover_amount"`
	IsActive         bool        `json:"is_active"`
	PremiumsLeft     fpmath.Uint `json:"premiums_left"`
	DailyCost        fpmath.Uint `json:"daily_cost"`
	PremiumRate      fpmath.Uint `json:"premium_rate"`
	BeginPremiumRate fpmath.Uint `json:"begin_premium_rate"`
	BeginDailyCost   fpmath.Uint `json:"begin_daily_cost"`
	LastTick         uint64      `json:"last_tick"`
	OngoingClaimID   uuid.UUID   `json:"ongoing_claim_id"`
	CreatedAt        uint64      `json:"created_at"`
	UpdatedAt        uint64      `json:"updated_at"`
}

func (c *Cover) clone() *Cover {
	cc := *c
	return &cc
}

// Locked reports whether a claim against the cover is still ongoing.
func (c *Cover) Locked() bool { return c.OngoingClaimID != uuid.Nil }

func (c *Cover) expire() {
	c.IsActive = false
	c.DailyCost = fpmath.Zero
	c.PremiumRate = fpmath.Zero
}

// CoverInfo is a cover evaluated against its pool's current state.
type CoverInfo struct {
	CoverID      uuid.UUID   `json:"cover_id"`
	PoolID       PoolID      `json:"pool_id"`
	CoverAmount  fpmath.Uint `json:"cover_amount"`
	IsActive     bool        `json:"is_active"`
	PremiumsLeft fpmath.Uint `json:"premiums_left"`
	DailyCost    fpmath.Uint `json:"daily_cost"`
	PremiumRate  fpmath.Uint `json:"premium_rate"`
	LastTick     uint64      `json:"last_tick"`
	SecondsLeft  uint64      `json:"seconds_left"`
}

// coverInfo values a cover at the pool's current tick and rate. Remaining
// premium is invariant under tick rescaling: fewer seconds left at a higher
// rate. It never exceeds the escrow booked at the last touch.
func coverInfo(p *Pool, c *Cover) CoverInfo {
	info := CoverInfo{
		CoverID:     c.ID,
		PoolID:      c.PoolID,
		CoverAmount: c.CoverAmount,
		LastTick:    c.LastTick,
	}
	if !c.IsActive || c.LastTick <= p.Slot0.Tick {
		return info
	}
	seconds := fpmath.SecondsIn(c.LastTick-p.Slot0.Tick, p.Slot0.SecondsPerTick)
	info.IsActive = true
	info.SecondsLeft = seconds
	info.PremiumRate = p.PremiumRate
	info.DailyCost = fpmath.RescaleDailyCost(c.BeginDailyCost, c.BeginPremiumRate, p.PremiumRate)
	info.PremiumsLeft = fpmath.Min(
		fpmath.PremiumsForDuration(c.CoverAmount, p.PremiumRate, seconds),
		c.PremiumsLeft,
	)
	return info
}

// CoverInfo refreshes the cover's pool to now and returns the live view.
func (tx *Txn) CoverInfo(id uuid.UUID, now uint64) (CoverInfo, error) {
	c, err := tx.Cover(id)
	if err != nil {
		return CoverInfo{}, err
	}
	p, err := tx.Pool(c.PoolID)
	if err != nil {
		return CoverInfo{}, err
	}
	if err := tx.refreshPool(p, now); err != nil {
		return CoverInfo{}, err
	}
	return coverInfo(p, c), nil
}

// registerCover prices `amount` into the pool and converts `premiums` into an
// expiry tick. The seconds lost to the tick boundary are burned: the returned
// amount is neither refunded nor paid to liquidity providers. A premium
// funding less than one tick leaves the cover inactive and burns all of it.
func (tx *Txn) registerCover(p *Pool, c *Cover, amount, premiums fpmath.Uint) (burned fpmath.Uint) {
	beginRate := p.PremiumRate
	covered := p.Slot0.CoveredCapital.Add(amount)
	newRate := fpmath.PremiumRate(p.Formula, fpmath.Utilization(covered, p.TotalLiquidity()))
	newSecondsPerTick := fpmath.RescaleSecondsPerTick(p.Slot0.SecondsPerTick, beginRate, newRate)
	duration := fpmath.DurationFromPremiums(premiums, amount, newRate)
	ticks := fpmath.TicksIn(duration, newSecondsPerTick)

	c.CoverAmount = amount
	c.BeginPremiumRate = beginRate
	c.BeginDailyCost = fpmath.DailyCost(amount, beginRate)
	if ticks == 0 {
		c.expire()
		c.LastTick = p.Slot0.Tick
		c.PremiumsLeft = fpmath.Zero
		return premiums
	}

	p.Slot0.CoveredCapital = covered
	p.reprice()

	c.IsActive = true
	c.PremiumRate = p.PremiumRate
	c.DailyCost = fpmath.RescaleDailyCost(c.BeginDailyCost, beginRate, p.PremiumRate)
	c.LastTick = p.Slot0.Tick + ticks
	p.Ticks.add(c.LastTick, c.ID, amount, tx)

	left := fpmath.PremiumsForDuration(amount, p.PremiumRate, fpmath.SecondsIn(ticks, p.Slot0.SecondsPerTick))
	left = fpmath.Min(left, premiums)
	c.PremiumsLeft = left
	return premiums.Sub(left)
}

// unregisterCover takes a still-running cover's capital out of the pool.
func (tx *Txn) unregisterCover(p *Pool, c *Cover) {
	if !c.IsActive || c.LastTick <= p.Slot0.Tick {
		return
	}
	if p.Ticks.remove(c.LastTick, c.ID, c.CoverAmount, tx) {
		p.Slot0.CoveredCapital = p.Slot0.CoveredCapital.Sub(c.CoverAmount)
		p.reprice()
	}
}

// closeCover ends a cover's funding: rate, cost and premiums are zeroed and
// LastTick is placed one tick behind the pool.
func (tx *Txn) closeCover(p *Pool, c *Cover) {
	tx.unregisterCover(p, c)
	c.expire()
	c.PremiumsLeft = fpmath.Zero
	if p.Slot0.Tick > 0 {
		c.LastTick = p.Slot0.Tick - 1
	} else {
		c.LastTick = 0
	}
}

// settleCoverPremiums books the premium burned since the cover was last
// touched and brings PremiumsLeft up to date.
func (tx *Txn) settleCoverPremiums(p *Pool, c *Cover) CoverInfo {
	info := coverInfo(p, c)
	consumed := c.PremiumsLeft.SubFloor(info.PremiumsLeft)
	tx.emit(Effect{Kind: EffectPremiumsConsumed, Owner: c.Owner, Ref: c.ID, PoolID: c.PoolID, Amount: consumed})
	c.PremiumsLeft = info.PremiumsLeft
	return info
}

type OpenCoverParams struct {
	CoverID  uuid.UUID
	Owner    uuid.UUID
	PoolID   PoolID
	Amount   fpmath.Uint
	Premiums fpmath.Uint
	Now      uint64
}

func (tx *Txn) OpenCover(params OpenCoverParams) (*Cover, error) {
	if params.Amount.IsZero() || params.Premiums.IsZero() {
		return nil, fmt.Errorf("open cover: %w", ErrZeroAmount)
	}
	if tx.hasCover(params.CoverID) {
		return nil, fmt.Errorf("open cover: %w: %s", ErrCoverExists, params.CoverID)
	}
	p, err := tx.Pool(params.PoolID)
	if err != nil {
		return nil, fmt.Errorf("open cover: %w", err)
	}
	if p.IsPaused {
		return nil, fmt.Errorf("open cover: %w: %d", ErrPoolPaused, p.ID)
	}
	if err := tx.refreshPool(p, params.Now); err != nil {
		return nil, fmt.Errorf("open cover: %w", err)
	}
	if p.AvailableLiquidity().Lt(params.Amount) {
		return nil, fmt.Errorf("open cover: %w: pool %d has %s, need %s",
			ErrInsufficientLiquidity, p.ID, p.AvailableLiquidity(), params.Amount)
	}

	c := &Cover{
		ID:        params.CoverID,
		Owner:     params.Owner,
		PoolID:    p.ID,
		CreatedAt: params.Now,
		UpdatedAt: params.Now,
	}
	tx.covers[c.ID] = c

	tx.emit(Effect{Kind: EffectPremiumsDeposited, Owner: c.Owner, Ref: c.ID, PoolID: p.ID, Amount: params.Premiums})
	burned := tx.registerCover(p, c, params.Amount, params.Premiums)
	tx.emit(Effect{Kind: EffectPremiumsBurned, Owner: c.Owner, Ref: c.ID, PoolID: p.ID, Amount: burned})
	return c, nil
}

// UpdateCoverParams carries independent deltas. PremiumsToRemove may be
// fpmath.MaxUint to withdraw everything and close the cover.
type UpdateCoverParams struct {
	CoverID          uuid.UUID
	Caller           uuid.UUID
	AmountToAdd      fpmath.Uint
	AmountToRemove   fpmath.Uint
	PremiumsToAdd    fpmath.Uint
	PremiumsToRemove fpmath.Uint
	Now              uint64
}

func (tx *Txn) UpdateCover(params UpdateCoverParams) (*Cover, error) {
	c, err := tx.Cover(params.CoverID)
	if err != nil {
		return nil, fmt.Errorf("update cover: %w", err)
	}
	if c.Owner != params.Caller {
		return nil, fmt.Errorf("update cover %s: %w", c.ID, ErrNotOwner)
	}
	locked, err := tx.coverLocked(c, params.Now)
	if err != nil {
		return nil, fmt.Errorf("update cover: %w", err)
	}
	if locked {
		return nil, fmt.Errorf("update cover %s: %w", c.ID, ErrCoverLocked)
	}
	if params.AmountToRemove.Gt(c.CoverAmount) {
		return nil, fmt.Errorf("update cover %s: %w", c.ID, ErrCoverAmountUnderflow)
	}
	p, err := tx.Pool(c.PoolID)
	if err != nil {
		return nil, fmt.Errorf("update cover: %w", err)
	}
	growing := !params.AmountToAdd.IsZero() || !params.PremiumsToAdd.IsZero()
	if p.IsPaused && growing {
		return nil, fmt.Errorf("update cover %s: %w: %d", c.ID, ErrPoolPaused, p.ID)
	}
	if err := tx.refreshPool(p, params.Now); err != nil {
		return nil, fmt.Errorf("update cover: %w", err)
	}
	if !c.IsActive {
		return nil, fmt.Errorf("update cover %s: %w", c.ID, ErrCoverInactive)
	}

	info := coverInfo(p, c)
	available := info.PremiumsLeft.Add(params.PremiumsToAdd)
	toRemove := params.PremiumsToRemove
	if toRemove.Eq(fpmath.MaxUint) {
		toRemove = available
	}
	if toRemove.Gt(available) {
		return nil, fmt.Errorf("update cover %s: %w: have %s, remove %s",
			c.ID, ErrInsufficientPremiums, available, toRemove)
	}
	if params.AmountToAdd.Gt(params.AmountToRemove) {
		extra := params.AmountToAdd.Sub(params.AmountToRemove)
		if p.AvailableLiquidity().Lt(extra) {
			return nil, fmt.Errorf("update cover %s: %w", c.ID, ErrInsufficientLiquidity)
		}
	}

	tx.settleCoverPremiums(p, c)
	tx.emit(Effect{Kind: EffectPremiumsDeposited, Owner: c.Owner, Ref: c.ID, PoolID: p.ID, Amount: params.PremiumsToAdd})
	c.UpdatedAt = params.Now

	newAmount := c.CoverAmount.Add(params.AmountToAdd).Sub(params.AmountToRemove)
	newPremiums := available.Sub(toRemove)
	if newPremiums.IsZero() || newAmount.IsZero() {
		tx.closeCover(p, c)
		tx.emit(Effect{Kind: EffectPremiumsRefunded, Owner: c.Owner, Ref: c.ID, PoolID: p.ID, Amount: available})
		return c, nil
	}

	tx.emit(Effect{Kind: EffectPremiumsRefunded, Owner: c.Owner, Ref: c.ID, PoolID: p.ID, Amount: toRemove})
	tx.unregisterCover(p, c)
	burned := tx.registerCover(p, c, newAmount, newPremiums)
	tx.emit(Effect{Kind: EffectPremiumsBurned, Owner: c.Owner, Ref: c.ID, PoolID: p.ID, Amount: burned})
	return c, nil
}

// adjustCoverForClaim applies a compensated claim to its cover. A claim for
// the whole amount, or a pool left short of its covered capital, closes the
// cover and refunds what premium remains; otherwise the cover shrinks and its
// premium is re-priced at the post-claim rate.
func (tx *Txn) adjustCoverForClaim(p *Pool, c *Cover, claimAmount fpmath.Uint, now uint64) {
	c.UpdatedAt = now
	if !c.IsActive {
		return
	}
	tx.settleCoverPremiums(p, c)
	if claimAmount.Eq(c.CoverAmount) || p.TotalLiquidity().Lt(p.Slot0.CoveredCapital) {
		refund := c.PremiumsLeft
		tx.closeCover(p, c)
		tx.emit(Effect{Kind: EffectPremiumsRefunded, Owner: c.Owner, Ref: c.ID, PoolID: p.ID, Amount: refund})
		return
	}
	premiums := c.PremiumsLeft
	tx.unregisterCover(p, c)
	burned := tx.registerCover(p, c, c.CoverAmount.Sub(claimAmount), premiums)
	tx.emit(Effect{Kind: EffectPremiumsBurned, Owner: c.Owner, Ref: c.ID, PoolID: p.ID, Amount: burned})
}
