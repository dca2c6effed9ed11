package state

import (
	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

// EffectKind names a capital movement the settlement layer has to carry out.
// The engine only computes amounts; it never moves funds itself.
type EffectKind uint8

const (
	EffectCapitalDeposited EffectKind = iota + 1
	EffectCapitalWithdrawn
	EffectCapitalLost
	EffectPremiumsDeposited
	EffectPremiumsRefunded
	EffectPremiumsConsumed
	EffectPremiumsBurned
	EffectCoverRewardsPaid
	EffectStrategyRewardsPaid
	EffectCompensationPaid
	EffectClaimDepositHeld
	EffectClaimDepositRefunded
	EffectClaimDepositForfeited
	EffectProsecutorRewardPaid
)

func (k EffectKind) String() string {
	switch k {
	case EffectCapitalDeposited:
		return "CapitalDeposited"
	case EffectCapitalWithdrawn:
		return "CapitalWithdrawn"
	case EffectCapitalLost:
		return "CapitalLost"
	case EffectPremiumsDeposited:
		return "PremiumsDeposited"
	case EffectPremiumsRefunded:
		return "PremiumsRefunded"
	case EffectPremiumsConsumed:
		return "PremiumsConsumed"
	case EffectPremiumsBurned:
		return "PremiumsBurned"
	case EffectCoverRewardsPaid:
		return "CoverRewardsPaid"
	case EffectStrategyRewardsPaid:
		return "StrategyRewardsPaid"
	case EffectCompensationPaid:
		return "CompensationPaid"
	case EffectClaimDepositHeld:
		return "ClaimDepositHeld"
	case EffectClaimDepositRefunded:
		return "ClaimDepositRefunded"
	case EffectClaimDepositForfeited:
		return "ClaimDepositForfeited"
	case EffectProsecutorRewardPaid:
		return "ProsecutorRewardPaid"
	default:
		return "Unknown"
	}
}

// Effect is one capital movement. Owner is the account the amount is booked
// against; Beneficiary is set when funds leave to someone else (a prosecutor
// collecting the claimant's deposit).
type Effect struct {
	Kind        EffectKind  `json:"kind"`
	Owner       uuid.UUID   `json:"owner"`
	Beneficiary uuid.UUID   `json:"beneficiary,omitempty"`
	Ref         uuid.UUID   `json:"ref"`
	PoolID      PoolID      `json:"pool_id"`
	Amount      fpmath.Uint `json:"amount"`
}
