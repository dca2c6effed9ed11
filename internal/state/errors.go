package state

import "errors"

// Precondition failures. Every operation checks these before touching state,
// so a returned precondition error means nothing was mutated.
var (
	ErrZeroAmount             = errors.New("amount must be positive")
	ErrPoolNotFound           = errors.New("pool not found")
	ErrPoolExists             = errors.New("pool already exists")
	ErrPoolPaused             = errors.New("pool is paused")
	ErrNoPools                = errors.New("position must back at least one pool")
	ErrDuplicatePool          = errors.New("pool listed more than once")
	ErrIncompatiblePools      = errors.New("pools are incompatible")
	ErrStrategyMismatch       = errors.New("pools use different strategies")
	ErrStrategyIndexDecreased = errors.New("strategy reward index cannot decrease")
	ErrInsufficientLiquidity  = errors.New("insufficient available liquidity")
	ErrPoolHasOngoingClaims   = errors.New("pool has ongoing claims")

	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionExists         = errors.New("position already exists")
	ErrNotOwner               = errors.New("caller does not own this record")
	ErrWithdrawalCommitted    = errors.New("position is committed to withdraw")
	ErrWithdrawalNotCommitted = errors.New("position is not committed to withdraw")
	ErrWithdrawDelay          = errors.New("withdrawal delay has not elapsed")
	ErrInsufficientCapital    = errors.New("amount exceeds position capital")

	ErrCoverNotFound         = errors.New("cover not found")
	ErrCoverExists           = errors.New("cover already exists")
	ErrCoverInactive         = errors.New("cover is not active")
	ErrCoverLocked           = errors.New("cover has an ongoing claim")
	ErrInsufficientPremiums  = errors.New("premium removal exceeds remaining premiums")
	ErrCoverAmountUnderflow  = errors.New("cover reduction exceeds cover amount")
	ErrClaimExceedsCover     = errors.New("claim amount exceeds cover amount")
	ErrClaimNotFound         = errors.New("claim not found")
	ErrClaimExists           = errors.New("claim already exists")
	ErrDisputeNotFound       = errors.New("dispute not found")
	ErrDisputeExists         = errors.New("dispute id already used")
	ErrInsufficientDeposit   = errors.New("deposit below required collateral")
	ErrChallengePeriodOver   = errors.New("challenge period has elapsed")
	ErrChallengePeriodActive = errors.New("challenge period has not elapsed")
	ErrOverrulePeriodOver    = errors.New("overrule period has elapsed")
	ErrOverrulePeriodActive  = errors.New("overrule period has not elapsed")
	ErrAppealPeriodOver      = errors.New("appeal period has elapsed")
	ErrEvidencePeriodOver    = errors.New("evidence upload period has elapsed")
	ErrEmptyEvidence         = errors.New("evidence list is empty")
	ErrStaleTimestamp        = errors.New("timestamp precedes pool state")
)

// ErrInvariant marks a condition that correct operation can never reach. The
// operation is aborted and the transaction discarded.
var ErrInvariant = errors.New("invariant violation")
