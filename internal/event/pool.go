package event

import (
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"
)

// PoolCreated registers a coverage pool. Incompatible lists pools whose
// capital may not be shared with this one.
type PoolCreated struct {
	Meta
	PoolID       state.PoolID     `json:"pool_id"`
	Formula      fpmath.Formula   `json:"formula"`
	StrategyID   state.StrategyID `json:"strategy_id"`
	Incompatible []state.PoolID   `json:"incompatible,omitempty"`
}

func (e *PoolCreated) EventType() EventType { return EventTypePoolCreated }
func (e *PoolCreated) Stream() string       { return StreamPool }

type PoolFormulaUpdated struct {
	Meta
	PoolID  state.PoolID   `json:"pool_id"`
	Formula fpmath.Formula `json:"formula"`
}

func (e *PoolFormulaUpdated) EventType() EventType { return EventTypePoolFormulaUpdated }
func (e *PoolFormulaUpdated) Stream() string       { return StreamPool }

type PoolPauseSet struct {
	Meta
	PoolID state.PoolID `json:"pool_id"`
	Paused bool         `json:"paused"`
}

func (e *PoolPauseSet) EventType() EventType { return EventTypePoolPauseSet }
func (e *PoolPauseSet) Stream() string       { return StreamPool }

// CompatibilityUpdated adds incompatibility entries. Every listed pair must
// be listed from both sides.
type CompatibilityUpdated struct {
	Meta
	Entries map[state.PoolID][]state.PoolID `json:"entries"`
}

func (e *CompatibilityUpdated) EventType() EventType { return EventTypeCompatibilityUpdated }
func (e *CompatibilityUpdated) Stream() string       { return StreamPool }

// StrategyIndexUpdated is reported by a yield strategy adapter.
type StrategyIndexUpdated struct {
	Meta
	StrategyID  state.StrategyID `json:"strategy_id"`
	RewardIndex fpmath.Uint      `json:"reward_index"`
}

func (e *StrategyIndexUpdated) EventType() EventType { return EventTypeStrategyIndexUpdated }
func (e *StrategyIndexUpdated) Stream() string       { return StreamStrategy }
