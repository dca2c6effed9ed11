package state

import (
	"fmt"
	"slices"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

type ClaimStatus uint8

const (
	ClaimInitiated ClaimStatus = iota + 1
	ClaimDisputed
	ClaimAppealed
	ClaimAcceptedByCourtDecision
	ClaimRejectedByCourtDecision
	ClaimRefusedToArbitrate
	ClaimRejectedByOverrule
	ClaimCompensated
	ClaimCompensatedAfterDispute
	ClaimProsecutorPaid
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimInitiated:
		return "Initiated"
	case ClaimDisputed:
		return "Disputed"
	case ClaimAppealed:
		return "Appealed"
	case ClaimAcceptedByCourtDecision:
		return "AcceptedByCourtDecision"
	case ClaimRejectedByCourtDecision:
		return "RejectedByCourtDecision"
	case ClaimRefusedToArbitrate:
		return "RefusedToArbitrate"
	case ClaimRejectedByOverrule:
		return "RejectedByOverrule"
	case ClaimCompensated:
		return "Compensated"
	case ClaimCompensatedAfterDispute:
		return "CompensatedAfterDispute"
	case ClaimProsecutorPaid:
		return "ProsecutorPaid"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition can leave the status.
func (s ClaimStatus) Terminal() bool {
	switch s {
	case ClaimRefusedToArbitrate, ClaimRejectedByOverrule, ClaimCompensated,
		ClaimCompensatedAfterDispute, ClaimProsecutorPaid:
		return true
	}
	return false
}

// Ruling is the arbitration outcome delivered for a dispute.
type Ruling uint8

const (
	RulingRefusedToArbitrate Ruling = iota
	RulingPayClaimant
	RulingRejectClaim
)

func (r Ruling) String() string {
	switch r {
	case RulingRefusedToArbitrate:
		return "RefusedToArbitrate"
	case RulingPayClaimant:
		return "PayClaimant"
	case RulingRejectClaim:
		return "RejectClaim"
	default:
		return "Unknown"
	}
}

type ClaimAction uint8

const (
	ActionDispute ClaimAction = iota + 1
	ActionRulePayClaimant
	ActionRuleRejectClaim
	ActionRuleRefused
	ActionAppeal
	ActionOverrule
	ActionWithdrawCompensation
	ActionWithdrawProsecutorReward
	ActionSubmitEvidence
)

func (a ClaimAction) String() string {
	switch a {
	case ActionDispute:
		return "Dispute"
	case ActionRulePayClaimant:
		return "Rule(PayClaimant)"
	case ActionRuleRejectClaim:
		return "Rule(RejectClaim)"
	case ActionRuleRefused:
		return "Rule(RefusedToArbitrate)"
	case ActionAppeal:
		return "Appeal"
	case ActionOverrule:
		return "Overrule"
	case ActionWithdrawCompensation:
		return "WithdrawCompensation"
	case ActionWithdrawProsecutorReward:
		return "WithdrawProsecutorReward"
	case ActionSubmitEvidence:
		return "SubmitEvidence"
	default:
		return "Unknown"
	}
}

func rulingAction(r Ruling) ClaimAction {
	switch r {
	case RulingPayClaimant:
		return ActionRulePayClaimant
	case RulingRejectClaim:
		return ActionRuleRejectClaim
	default:
		return ActionRuleRefused
	}
}

type transition struct {
	from   ClaimStatus
	action ClaimAction
}

// claimTransitions is the complete set of legal moves. Time windows are
// checked separately by each operation.
var claimTransitions = map[transition]ClaimStatus{
	{ClaimInitiated, ActionDispute}:              ClaimDisputed,
	{ClaimInitiated, ActionWithdrawCompensation}: ClaimCompensated,

	{ClaimDisputed, ActionRulePayClaimant}: ClaimAcceptedByCourtDecision,
	{ClaimDisputed, ActionRuleRejectClaim}: ClaimRejectedByCourtDecision,
	{ClaimDisputed, ActionRuleRefused}:     ClaimRefusedToArbitrate,
	{ClaimAppealed, ActionRulePayClaimant}: ClaimAcceptedByCourtDecision,
	{ClaimAppealed, ActionRuleRejectClaim}: ClaimRejectedByCourtDecision,
	{ClaimAppealed, ActionRuleRefused}:     ClaimRefusedToArbitrate,

	{ClaimAcceptedByCourtDecision, ActionAppeal}:               ClaimAppealed,
	{ClaimRejectedByCourtDecision, ActionAppeal}:               ClaimAppealed,
	{ClaimAcceptedByCourtDecision, ActionOverrule}:             ClaimRejectedByOverrule,
	{ClaimRejectedByCourtDecision, ActionOverrule}:             ClaimRejectedByOverrule,
	{ClaimAcceptedByCourtDecision, ActionWithdrawCompensation}: ClaimCompensatedAfterDispute,

	{ClaimRejectedByCourtDecision, ActionWithdrawProsecutorReward}: ClaimProsecutorPaid,
}

// TransitionError is returned for an action the claim's status does not allow.
type TransitionError struct {
	Claim  uuid.UUID
	From   ClaimStatus
	Action ClaimAction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("claim %s: %s not allowed from %s", e.Claim, e.Action, e.From)
}

// Claim is a request for compensation against one cover.
type Claim struct {
	ID                uuid.UUID      `json:"id"`
	CoverID           uuid.UUID      `json:"cover_id"`
	PoolID            PoolID         `json:"pool_id"`
	Status            ClaimStatus    `json:"status"`
	Amount            fpmath.Uint    `json:"amount"`
	Claimant          uuid.UUID      `json:"claimant"`
	Challenger        uuid.UUID      `json:"challenger"`
	DisputeID         uint64         `json:"dispute_id"`
	Deposit           fpmath.Uint    `json:"deposit"`
	ChallengerDeposit fpmath.Uint    `json:"challenger_deposit"`
	Evidence          []string       `json:"evidence"`
	CounterEvidence   []string       `json:"counter_evidence"`
	CreatedAt         uint64         `json:"created_at"`
	RulingTimestamp   uint64         `json:"ruling_timestamp"`
	HoldReleased      bool           `json:"hold_released"`
	CompensationID    CompensationID `json:"compensation_id,omitempty"`
}

func (c *Claim) clone() *Claim {
	cc := *c
	cc.Evidence = slices.Clone(c.Evidence)
	cc.CounterEvidence = slices.Clone(c.CounterEvidence)
	return &cc
}

func (c *Claim) disputed() bool { return c.Challenger != uuid.Nil }

// advance applies a table transition or reports why it is illegal.
func (c *Claim) advance(action ClaimAction) error {
	next, ok := claimTransitions[transition{c.Status, action}]
	if !ok {
		return &TransitionError{Claim: c.ID, From: c.Status, Action: action}
	}
	c.Status = next
	return nil
}

func (c *Claim) can(action ClaimAction) error {
	if _, ok := claimTransitions[transition{c.Status, action}]; !ok {
		return &TransitionError{Claim: c.ID, From: c.Status, Action: action}
	}
	return nil
}

// releaseHold lifts the claim's block on its pool's withdrawals. It runs at
// most once per claim.
func (tx *Txn) releaseHold(cl *Claim) error {
	if cl.HoldReleased {
		return nil
	}
	p, err := tx.Pool(cl.PoolID)
	if err != nil {
		return err
	}
	if p.OngoingClaims == 0 {
		return fmt.Errorf("%w: pool %d ongoing claims underflow on claim %s", ErrInvariant, p.ID, cl.ID)
	}
	p.OngoingClaims--
	cl.HoldReleased = true
	return nil
}

// finish unlocks the cover once the claim can no longer change.
func (tx *Txn) finish(cl *Claim) error {
	if err := tx.releaseHold(cl); err != nil {
		return err
	}
	c, err := tx.Cover(cl.CoverID)
	if err != nil {
		return err
	}
	if c.OngoingClaimID == cl.ID {
		c.OngoingClaimID = uuid.Nil
	}
	return nil
}

// coverLocked reports whether an ongoing claim still blocks the cover. A
// claim rejected in arbitration stops blocking once it can no longer be
// appealed or overruled, and the stale lock is cleared.
func (tx *Txn) coverLocked(c *Cover, now uint64) (bool, error) {
	if !c.Locked() {
		return false, nil
	}
	cl, err := tx.Claim(c.OngoingClaimID)
	if err != nil {
		return false, fmt.Errorf("%w: cover %s lock: %w", ErrInvariant, c.ID, err)
	}
	if cl.Status != ClaimRejectedByCourtDecision {
		return true, nil
	}
	p := tx.Params()
	if now < cl.RulingTimestamp+max(p.OverrulePeriod, p.AppealPeriod) {
		return true, nil
	}
	c.OngoingClaimID = uuid.Nil
	return false, nil
}

func (tx *Txn) refundDeposits(cl *Claim) {
	tx.emit(Effect{Kind: EffectClaimDepositRefunded, Owner: cl.Claimant, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.Deposit})
	if cl.disputed() {
		tx.emit(Effect{Kind: EffectClaimDepositRefunded, Owner: cl.Challenger, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.ChallengerDeposit})
	}
}

type InitiateClaimParams struct {
	ClaimID  uuid.UUID
	CoverID  uuid.UUID
	Claimant uuid.UUID
	Amount   fpmath.Uint
	Deposit  fpmath.Uint
	Evidence []string
	Now      uint64
}

func (tx *Txn) InitiateClaim(params InitiateClaimParams) (*Claim, error) {
	if params.Amount.IsZero() {
		return nil, fmt.Errorf("initiate claim: %w", ErrZeroAmount)
	}
	if tx.hasClaim(params.ClaimID) {
		return nil, fmt.Errorf("initiate claim: %w: %s", ErrClaimExists, params.ClaimID)
	}
	if collateral := tx.Params().ClaimCollateral; params.Deposit.Lt(collateral) {
		return nil, fmt.Errorf("initiate claim: %w: need %s", ErrInsufficientDeposit, collateral)
	}
	c, err := tx.Cover(params.CoverID)
	if err != nil {
		return nil, fmt.Errorf("initiate claim: %w", err)
	}
	if c.Owner != params.Claimant {
		return nil, fmt.Errorf("initiate claim on cover %s: %w", c.ID, ErrNotOwner)
	}
	locked, err := tx.coverLocked(c, params.Now)
	if err != nil {
		return nil, fmt.Errorf("initiate claim: %w", err)
	}
	if locked {
		return nil, fmt.Errorf("initiate claim on cover %s: %w", c.ID, ErrCoverLocked)
	}
	if params.Amount.Gt(c.CoverAmount) {
		return nil, fmt.Errorf("initiate claim on cover %s: %w", c.ID, ErrClaimExceedsCover)
	}
	p, err := tx.Pool(c.PoolID)
	if err != nil {
		return nil, fmt.Errorf("initiate claim: %w", err)
	}
	if err := tx.refreshPool(p, params.Now); err != nil {
		return nil, fmt.Errorf("initiate claim: %w", err)
	}
	if !c.IsActive {
		return nil, fmt.Errorf("initiate claim on cover %s: %w", c.ID, ErrCoverInactive)
	}

	cl := &Claim{
		ID:        params.ClaimID,
		CoverID:   c.ID,
		PoolID:    p.ID,
		Status:    ClaimInitiated,
		Amount:    params.Amount,
		Claimant:  params.Claimant,
		Deposit:   params.Deposit,
		Evidence:  slices.Clone(params.Evidence),
		CreatedAt: params.Now,
	}
	tx.claims[cl.ID] = cl
	c.OngoingClaimID = cl.ID
	p.OngoingClaims++
	tx.emit(Effect{Kind: EffectClaimDepositHeld, Owner: cl.Claimant, Ref: cl.ID, PoolID: p.ID, Amount: cl.Deposit})
	return cl, nil
}

type DisputeClaimParams struct {
	ClaimID    uuid.UUID
	Challenger uuid.UUID
	DisputeID  uint64
	Deposit    fpmath.Uint
	Now        uint64
}

func (tx *Txn) DisputeClaim(params DisputeClaimParams) (*Claim, error) {
	cl, err := tx.Claim(params.ClaimID)
	if err != nil {
		return nil, fmt.Errorf("dispute claim: %w", err)
	}
	if err := cl.can(ActionDispute); err != nil {
		return nil, err
	}
	if end := cl.CreatedAt + tx.Params().ChallengePeriod; params.Now >= end {
		return nil, fmt.Errorf("dispute claim %s: %w: ended at %d", cl.ID, ErrChallengePeriodOver, end)
	}
	if params.Deposit.Lt(cl.Deposit) {
		return nil, fmt.Errorf("dispute claim %s: %w: need %s", cl.ID, ErrInsufficientDeposit, cl.Deposit)
	}
	if tx.disputeUsed(params.DisputeID) {
		return nil, fmt.Errorf("dispute claim %s: %w: %d", cl.ID, ErrDisputeExists, params.DisputeID)
	}

	if err := cl.advance(ActionDispute); err != nil {
		return nil, err
	}
	cl.Challenger = params.Challenger
	cl.ChallengerDeposit = params.Deposit
	cl.DisputeID = params.DisputeID
	tx.disputes[params.DisputeID] = cl.ID
	tx.emit(Effect{Kind: EffectClaimDepositHeld, Owner: cl.Challenger, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.ChallengerDeposit})
	return cl, nil
}

// SubmitEvidence appends to the claimant's evidence or the challenger's
// counter-evidence depending on who submits.
func (tx *Txn) SubmitEvidence(claimID, submitter uuid.UUID, uris []string, now uint64) (*Claim, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("submit evidence: %w", ErrEmptyEvidence)
	}
	cl, err := tx.Claim(claimID)
	if err != nil {
		return nil, fmt.Errorf("submit evidence: %w", err)
	}
	switch cl.Status {
	case ClaimInitiated:
		p := tx.Params()
		if end := cl.CreatedAt + p.ChallengePeriod + p.EvidenceUploadPeriod; now >= end {
			return nil, fmt.Errorf("submit evidence on claim %s: %w", cl.ID, ErrEvidencePeriodOver)
		}
	case ClaimDisputed, ClaimAppealed:
	default:
		return nil, &TransitionError{Claim: cl.ID, From: cl.Status, Action: ActionSubmitEvidence}
	}

	switch submitter {
	case cl.Claimant:
		cl.Evidence = append(cl.Evidence, uris...)
	case cl.Challenger:
		if !cl.disputed() {
			return nil, fmt.Errorf("submit evidence on claim %s: %w", cl.ID, ErrNotOwner)
		}
		cl.CounterEvidence = append(cl.CounterEvidence, uris...)
	default:
		return nil, fmt.Errorf("submit evidence on claim %s: %w", cl.ID, ErrNotOwner)
	}
	return cl, nil
}

// RuleClaim applies an arbitration ruling to the claim behind disputeID.
func (tx *Txn) RuleClaim(disputeID uint64, ruling Ruling, now uint64) (*Claim, error) {
	cl, err := tx.ClaimByDispute(disputeID)
	if err != nil {
		return nil, fmt.Errorf("rule claim: %w", err)
	}
	if err := cl.advance(rulingAction(ruling)); err != nil {
		return nil, err
	}
	cl.RulingTimestamp = now
	if err := tx.releaseHold(cl); err != nil {
		return nil, err
	}
	if cl.Status == ClaimRefusedToArbitrate {
		tx.refundDeposits(cl)
		if err := tx.finish(cl); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

// AppealClaim reopens a ruled claim for another arbitration round. Either
// party may appeal.
func (tx *Txn) AppealClaim(claimID, caller uuid.UUID, now uint64) (*Claim, error) {
	cl, err := tx.Claim(claimID)
	if err != nil {
		return nil, fmt.Errorf("appeal claim: %w", err)
	}
	if err := cl.can(ActionAppeal); err != nil {
		return nil, err
	}
	if caller != cl.Claimant && caller != cl.Challenger {
		return nil, fmt.Errorf("appeal claim %s: %w", cl.ID, ErrNotOwner)
	}
	if end := cl.RulingTimestamp + tx.Params().AppealPeriod; now >= end {
		return nil, fmt.Errorf("appeal claim %s: %w", cl.ID, ErrAppealPeriodOver)
	}
	if err := cl.advance(ActionAppeal); err != nil {
		return nil, err
	}
	return cl, nil
}

// OverruleClaim rejects a ruled claim by protocol decision. The claimant's
// deposit is forfeited and the challenger's returned.
func (tx *Txn) OverruleClaim(claimID uuid.UUID, now uint64) (*Claim, error) {
	cl, err := tx.Claim(claimID)
	if err != nil {
		return nil, fmt.Errorf("overrule claim: %w", err)
	}
	if err := cl.can(ActionOverrule); err != nil {
		return nil, err
	}
	if end := cl.RulingTimestamp + tx.Params().OverrulePeriod; now >= end {
		return nil, fmt.Errorf("overrule claim %s: %w", cl.ID, ErrOverrulePeriodOver)
	}
	if err := cl.advance(ActionOverrule); err != nil {
		return nil, err
	}
	if err := tx.finish(cl); err != nil {
		return nil, err
	}
	tx.emit(Effect{Kind: EffectClaimDepositForfeited, Owner: cl.Claimant, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.Deposit})
	tx.emit(Effect{Kind: EffectClaimDepositRefunded, Owner: cl.Challenger, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.ChallengerDeposit})
	return cl, nil
}

// WithdrawCompensation pays an undisputed claim after the challenge period,
// or an accepted one after the overrule period, and takes the amount out of
// the pools backing the cover.
func (tx *Txn) WithdrawCompensation(claimID, caller uuid.UUID, now uint64) (*Claim, error) {
	cl, err := tx.Claim(claimID)
	if err != nil {
		return nil, fmt.Errorf("withdraw compensation: %w", err)
	}
	if cl.Claimant != caller {
		return nil, fmt.Errorf("withdraw compensation %s: %w", cl.ID, ErrNotOwner)
	}
	if err := cl.can(ActionWithdrawCompensation); err != nil {
		return nil, err
	}
	p := tx.Params()
	switch cl.Status {
	case ClaimInitiated:
		if end := cl.CreatedAt + p.ChallengePeriod; now < end {
			return nil, fmt.Errorf("withdraw compensation %s: %w: ends at %d", cl.ID, ErrChallengePeriodActive, end)
		}
	case ClaimAcceptedByCourtDecision:
		if end := cl.RulingTimestamp + p.OverrulePeriod; now < end {
			return nil, fmt.Errorf("withdraw compensation %s: %w: ends at %d", cl.ID, ErrOverrulePeriodActive, end)
		}
	}

	if err := cl.advance(ActionWithdrawCompensation); err != nil {
		return nil, err
	}
	if err := tx.releaseHold(cl); err != nil {
		return nil, err
	}
	comp, err := tx.payCompensation(cl, now)
	if err != nil {
		return nil, fmt.Errorf("withdraw compensation %s: %w", cl.ID, err)
	}
	cl.CompensationID = comp.ID
	if err := tx.finish(cl); err != nil {
		return nil, err
	}

	tx.emit(Effect{Kind: EffectClaimDepositRefunded, Owner: cl.Claimant, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.Deposit})
	if cl.disputed() {
		tx.emit(Effect{Kind: EffectClaimDepositForfeited, Owner: cl.Challenger, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.ChallengerDeposit})
	}
	return cl, nil
}

// WithdrawProsecutorReward lets the challenger of a rejected claim collect
// the claimant's deposit once the overrule period has passed.
func (tx *Txn) WithdrawProsecutorReward(claimID, caller uuid.UUID, now uint64) (*Claim, error) {
	cl, err := tx.Claim(claimID)
	if err != nil {
		return nil, fmt.Errorf("withdraw prosecutor reward: %w", err)
	}
	if cl.Challenger != caller || !cl.disputed() {
		return nil, fmt.Errorf("withdraw prosecutor reward %s: %w", cl.ID, ErrNotOwner)
	}
	if err := cl.can(ActionWithdrawProsecutorReward); err != nil {
		return nil, err
	}
	if end := cl.RulingTimestamp + tx.Params().OverrulePeriod; now < end {
		return nil, fmt.Errorf("withdraw prosecutor reward %s: %w: ends at %d", cl.ID, ErrOverrulePeriodActive, end)
	}
	if err := cl.advance(ActionWithdrawProsecutorReward); err != nil {
		return nil, err
	}
	if err := tx.finish(cl); err != nil {
		return nil, err
	}
	tx.emit(Effect{Kind: EffectProsecutorRewardPaid, Owner: cl.Claimant, Beneficiary: cl.Challenger, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.Deposit})
	tx.emit(Effect{Kind: EffectClaimDepositRefunded, Owner: cl.Challenger, Ref: cl.ID, PoolID: cl.PoolID, Amount: cl.ChallengerDeposit})
	return cl, nil
}
