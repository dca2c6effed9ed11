package core

import (
	"errors"
	"fmt"

	"CoverLedger/internal/event"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"
)

// dispatchEvent maps one event onto its engine operation inside tx.
func dispatchEvent(tx *state.Txn, evt event.Event) error {
	now := evt.Now()

	switch e := evt.(type) {
	// Pools and strategies
	case *event.PoolCreated:
		_, err := tx.CreatePool(state.CreatePoolParams{
			PoolID:       e.PoolID,
			Formula:      e.Formula,
			StrategyID:   e.StrategyID,
			Incompatible: e.Incompatible,
			Now:          now,
		})
		return err
	case *event.PoolFormulaUpdated:
		_, err := tx.UpdatePoolFormula(e.PoolID, e.Formula, now)
		return err
	case *event.PoolPauseSet:
		_, err := tx.SetPoolPaused(e.PoolID, e.Paused, now)
		return err
	case *event.CompatibilityUpdated:
		return tx.UpdateCompatibility(e.Entries)
	case *event.StrategyIndexUpdated:
		return tx.UpdateStrategyIndex(e.StrategyID, e.RewardIndex)

	// Positions
	case *event.PositionOpened:
		_, err := tx.OpenPosition(state.OpenPositionParams{
			PositionID: e.PositionID,
			Owner:      e.Owner,
			Amount:     e.Amount,
			PoolIDs:    e.PoolIDs,
			Now:        now,
		})
		return err
	case *event.LiquidityAdded:
		_, err := tx.AddLiquidity(state.AddLiquidityParams{
			PositionID: e.PositionID,
			Caller:     e.Caller,
			Amount:     e.Amount,
			Now:        now,
		})
		return err
	case *event.InterestTaken:
		_, err := tx.TakeInterest(e.PositionID, e.Caller, now)
		return err
	case *event.WithdrawalCommitted:
		_, err := tx.CommitWithdrawal(e.PositionID, e.Caller, now)
		return err
	case *event.WithdrawalUncommitted:
		_, err := tx.UncommitWithdrawal(e.PositionID, e.Caller, now)
		return err
	case *event.LiquidityRemoved:
		_, err := tx.RemoveLiquidity(state.RemoveLiquidityParams{
			PositionID: e.PositionID,
			Caller:     e.Caller,
			Amount:     e.Amount,
			Now:        now,
		})
		return err

	// Covers
	case *event.CoverOpened:
		_, err := tx.OpenCover(state.OpenCoverParams{
			CoverID:  e.CoverID,
			Owner:    e.Owner,
			PoolID:   e.PoolID,
			Amount:   e.Amount,
			Premiums: e.Premiums,
			Now:      now,
		})
		return err
	case *event.CoverUpdated:
		_, err := tx.UpdateCover(state.UpdateCoverParams{
			CoverID:          e.CoverID,
			Caller:           e.Caller,
			AmountToAdd:      e.AmountToAdd,
			AmountToRemove:   e.AmountToRemove,
			PremiumsToAdd:    e.PremiumsToAdd,
			PremiumsToRemove: e.PremiumsToRemove,
			Now:              now,
		})
		return err

	// Claims
	case *event.ClaimInitiated:
		_, err := tx.InitiateClaim(state.InitiateClaimParams{
			ClaimID:  e.ClaimID,
			CoverID:  e.CoverID,
			Claimant: e.Claimant,
			Amount:   e.Amount,
			Deposit:  e.Deposit,
			Evidence: e.Evidence,
			Now:      now,
		})
		return err
	case *event.EvidenceSubmitted:
		_, err := tx.SubmitEvidence(e.ClaimID, e.Submitter, e.URIs, now)
		return err
	case *event.ClaimDisputed:
		_, err := tx.DisputeClaim(state.DisputeClaimParams{
			ClaimID:    e.ClaimID,
			Challenger: e.Challenger,
			DisputeID:  e.DisputeID,
			Deposit:    e.Deposit,
			Now:        now,
		})
		return err
	case *event.ClaimRuled:
		_, err := tx.RuleClaim(e.DisputeID, e.Ruling, now)
		return err
	case *event.ClaimOverruled:
		_, err := tx.OverruleClaim(e.ClaimID, now)
		return err
	case *event.ClaimAppealed:
		_, err := tx.AppealClaim(e.ClaimID, e.Caller, now)
		return err
	case *event.CompensationWithdrawn:
		_, err := tx.WithdrawCompensation(e.ClaimID, e.Caller, now)
		return err
	case *event.ProsecutorRewardWithdrawn:
		_, err := tx.WithdrawProsecutorReward(e.ClaimID, e.Caller, now)
		return err

	default:
		return fmt.Errorf("unknown event type: %T", evt)
	}
}

// reasons lists the errors worth a metric label of their own.
var reasons = []error{
	state.ErrInvariant,
	state.ErrZeroAmount,
	state.ErrPoolNotFound,
	state.ErrPoolExists,
	state.ErrPoolPaused,
	state.ErrNoPools,
	state.ErrDuplicatePool,
	state.ErrIncompatiblePools,
	state.ErrStrategyMismatch,
	state.ErrStrategyIndexDecreased,
	state.ErrInsufficientLiquidity,
	state.ErrPoolHasOngoingClaims,
	state.ErrPositionNotFound,
	state.ErrPositionExists,
	state.ErrNotOwner,
	state.ErrWithdrawalCommitted,
	state.ErrWithdrawalNotCommitted,
	state.ErrWithdrawDelay,
	state.ErrInsufficientCapital,
	state.ErrCoverNotFound,
	state.ErrCoverExists,
	state.ErrCoverInactive,
	state.ErrCoverLocked,
	state.ErrInsufficientPremiums,
	state.ErrCoverAmountUnderflow,
	state.ErrClaimExceedsCover,
	state.ErrClaimNotFound,
	state.ErrClaimExists,
	state.ErrDisputeNotFound,
	state.ErrDisputeExists,
	state.ErrInsufficientDeposit,
	state.ErrChallengePeriodOver,
	state.ErrChallengePeriodActive,
	state.ErrOverrulePeriodOver,
	state.ErrOverrulePeriodActive,
	state.ErrAppealPeriodOver,
	state.ErrEvidencePeriodOver,
	state.ErrEmptyEvidence,
	state.ErrStaleTimestamp,
	fpmath.ErrInvalidUOptimal,
	fpmath.ErrZeroBaseRate,
}

// rejectReason maps an engine error onto a bounded label set.
func rejectReason(err error) string {
	var te *state.TransitionError
	if errors.As(err, &te) {
		return "illegal_transition"
	}
	var ce *state.ConfigError
	if errors.As(err, &ce) {
		return "invalid_compatibility"
	}
	for _, r := range reasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return "other"
}
