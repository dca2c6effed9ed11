package event

import (
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

type PositionOpened struct {
	Meta
	PositionID uuid.UUID      `json:"position_id"`
	Owner      uuid.UUID      `json:"owner"`
	Amount     fpmath.Uint    `json:"amount"`
	PoolIDs    []state.PoolID `json:"pool_ids"`
}

func (e *PositionOpened) EventType() EventType { return EventTypePositionOpened }
func (e *PositionOpened) Stream() string       { return StreamPosition }

type LiquidityAdded struct {
	Meta
	PositionID uuid.UUID   `json:"position_id"`
	Caller     uuid.UUID   `json:"caller"`
	Amount     fpmath.Uint `json:"amount"`
}

func (e *LiquidityAdded) EventType() EventType { return EventTypeLiquidityAdded }
func (e *LiquidityAdded) Stream() string       { return StreamPosition }

type InterestTaken struct {
	Meta
	PositionID uuid.UUID `json:"position_id"`
	Caller     uuid.UUID `json:"caller"`
}

func (e *InterestTaken) EventType() EventType { return EventTypeInterestTaken }
func (e *InterestTaken) Stream() string       { return StreamPosition }

type WithdrawalCommitted struct {
	Meta
	PositionID uuid.UUID `json:"position_id"`
	Caller     uuid.UUID `json:"caller"`
}

func (e *WithdrawalCommitted) EventType() EventType { return EventTypeWithdrawalCommitted }
func (e *WithdrawalCommitted) Stream() string       { return StreamPosition }

type WithdrawalUncommitted struct {
	Meta
	PositionID uuid.UUID `json:"position_id"`
	Caller     uuid.UUID `json:"caller"`
}

func (e *WithdrawalUncommitted) EventType() EventType { return EventTypeWithdrawalUncommitted }
func (e *WithdrawalUncommitted) Stream() string       { return StreamPosition }

type LiquidityRemoved struct {
	Meta
	PositionID uuid.UUID   `json:"position_id"`
	Caller     uuid.UUID   `json:"caller"`
	Amount     fpmath.Uint `json:"amount"`
}

func (e *LiquidityRemoved) EventType() EventType { return EventTypeLiquidityRemoved }
func (e *LiquidityRemoved) Stream() string       { return StreamPosition }
