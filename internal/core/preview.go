package core

import (
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

// Preview methods evaluate records at a caller-supplied timestamp in a
// discarded transaction. They are safe to call from any goroutine.

// PreviewPool returns a pool caught up to now. The tick index is detached
// since it is shared with the live pool.
func (c *DeterministicCore) PreviewPool(id state.PoolID, now uint64) (state.PoolInfo, error) {
	var info state.PoolInfo
	err := c.store.View(func(tx *state.Txn) error {
		var err error
		info, err = tx.PoolInfo(id, now)
		if err == nil {
			info.Pool.Ticks = nil
		}
		return err
	})
	return info, err
}

// LiquidityIndexLead returns the index growth a pool has accrued in its
// current partial tick.
func (c *DeterministicCore) LiquidityIndexLead(id state.PoolID, now uint64) (fpmath.Uint, error) {
	info, err := c.PreviewPool(id, now)
	if err != nil {
		return fpmath.Zero, err
	}
	return info.IndexLead, nil
}

func (c *DeterministicCore) PreviewPosition(id uuid.UUID, now uint64) (state.PositionInfo, error) {
	var info state.PositionInfo
	err := c.store.View(func(tx *state.Txn) error {
		var err error
		info, err = tx.PositionInfo(id, now)
		return err
	})
	return info, err
}

func (c *DeterministicCore) PreviewCover(id uuid.UUID, now uint64) (state.CoverInfo, error) {
	var info state.CoverInfo
	err := c.store.View(func(tx *state.Txn) error {
		var err error
		info, err = tx.CoverInfo(id, now)
		return err
	})
	return info, err
}

// PreviewClaim returns a copy of a claim. Claims do not accrue, so no
// timestamp is needed.
func (c *DeterministicCore) PreviewClaim(id uuid.UUID) (*state.Claim, error) {
	var cl *state.Claim
	err := c.store.View(func(tx *state.Txn) error {
		var err error
		cl, err = tx.Claim(id)
		return err
	})
	return cl, err
}
