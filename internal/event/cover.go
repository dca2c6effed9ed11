package event

import (
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

type CoverOpened struct {
	Meta
	CoverID  uuid.UUID    `json:"cover_id"`
	Owner    uuid.UUID    `json:"owner"`
	PoolID   state.PoolID `json:"pool_id"`
	Amount   fpmath.Uint  `json:"amount"`
	Premiums fpmath.Uint  `json:"premiums"`
}

func (e *CoverOpened) EventType() EventType { return EventTypeCoverOpened }
func (e *CoverOpened) Stream() string       { return StreamCover }

// CoverUpdated changes a cover's amount and escrow. A PremiumsToRemove of
// 2^256-1 removes all remaining premiums and closes the cover.
type CoverUpdated struct {
	Meta
	CoverID          uuid.UUID   `json:"cover_id"`
	Caller           uuid.UUID   `json:"caller"`
	AmountToAdd      fpmath.Uint `json:"amount_to_add"`
	AmountToRemove   fpmath.Uint `json:"amount_to_remove"`
	PremiumsToAdd    fpmath.Uint `json:"premiums_to_add"`
	PremiumsToRemove fpmath.Uint `json:"premiums_to_remove"`
}

func (e *CoverUpdated) EventType() EventType { return EventTypeCoverUpdated }
func (e *CoverUpdated) Stream() string       { return StreamCover }
