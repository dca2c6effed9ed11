package state

import (
	"fmt"

	fpmath "CoverLedger/internal/math"
)

// StrategyIndex returns a strategy's cumulative reward index. Strategies
// never reported start at one Ray, meaning no yield.
func (tx *Txn) StrategyIndex(id StrategyID) fpmath.Uint {
	if idx, ok := tx.strategies[id]; ok {
		return idx
	}
	if idx, ok := tx.store.strategies[id]; ok {
		return idx
	}
	return fpmath.Ray
}

// UpdateStrategyIndex records a new reward index reported by a strategy
// adapter. Indexes only grow.
func (tx *Txn) UpdateStrategyIndex(id StrategyID, index fpmath.Uint) error {
	current := tx.StrategyIndex(id)
	if index.Lt(current) {
		return fmt.Errorf("strategy %d: %w: %s < %s", id, ErrStrategyIndexDecreased, index, current)
	}
	tx.strategies[id] = index
	return nil
}

type CreatePoolParams struct {
	PoolID       PoolID
	Formula      fpmath.Formula
	StrategyID   StrategyID
	Incompatible []PoolID
	Now          uint64
}

// CreatePool registers a new pool and its incompatibilities, which are
// applied in both directions.
func (tx *Txn) CreatePool(params CreatePoolParams) (*Pool, error) {
	if tx.hasPool(params.PoolID) {
		return nil, fmt.Errorf("create pool: %w: %d", ErrPoolExists, params.PoolID)
	}
	if err := params.Formula.Validate(); err != nil {
		return nil, fmt.Errorf("create pool %d: %w", params.PoolID, err)
	}
	p := newPool(params.PoolID, params.Formula, params.StrategyID, tx.Params().InitialSecondsPerTick, params.Now)
	tx.pools[p.ID] = p
	if len(params.Incompatible) > 0 {
		if err := tx.UpdateCompatibility(tx.Compatibility().linkEntries(p.ID, params.Incompatible)); err != nil {
			return nil, fmt.Errorf("create pool %d: %w", p.ID, err)
		}
	}
	return p, nil
}

// UpdatePoolFormula swaps a pool's curve. The pool is caught up to now under
// the old curve first so accrued rewards are unaffected.
func (tx *Txn) UpdatePoolFormula(id PoolID, formula fpmath.Formula, now uint64) (*Pool, error) {
	if err := formula.Validate(); err != nil {
		return nil, fmt.Errorf("update pool %d formula: %w", id, err)
	}
	p, err := tx.Pool(id)
	if err != nil {
		return nil, fmt.Errorf("update pool formula: %w", err)
	}
	if err := tx.refreshPool(p, now); err != nil {
		return nil, fmt.Errorf("update pool formula: %w", err)
	}
	p.Formula = formula
	p.reprice()
	return p, nil
}

func (tx *Txn) SetPoolPaused(id PoolID, paused bool, now uint64) (*Pool, error) {
	p, err := tx.Pool(id)
	if err != nil {
		return nil, fmt.Errorf("set pool paused: %w", err)
	}
	if err := tx.refreshPool(p, now); err != nil {
		return nil, fmt.Errorf("set pool paused: %w", err)
	}
	p.IsPaused = paused
	return p, nil
}

// PoolInfo is a pool caught up to now, with the index lead of the current
// partial tick. Run it inside Store.View.
type PoolInfo struct {
	Pool               *Pool       `json:"pool"`
	AvailableLiquidity fpmath.Uint `json:"available_liquidity"`
	IndexLead          fpmath.Uint `json:"index_lead"`
}

func (tx *Txn) PoolInfo(id PoolID, now uint64) (PoolInfo, error) {
	p, err := tx.Pool(id)
	if err != nil {
		return PoolInfo{}, err
	}
	if err := tx.refreshPool(p, now); err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{
		Pool:               p,
		AvailableLiquidity: p.AvailableLiquidity(),
		IndexLead:          p.IndexLead(now),
	}, nil
}
