package query

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amounts are scaled to whole tokens and rates to percent. Every response
// carries as_of_sequence, the last event the projections reflect.

// PoolResponse represents a pool for API queries.
type PoolResponse struct {
	PoolID              uint64          `json:"pool_id"`
	StrategyID          uint32          `json:"strategy_id"`
	IsPaused            bool            `json:"is_paused"`
	UOptimal            decimal.Decimal `json:"u_optimal"`
	R0                  decimal.Decimal `json:"r0"`
	RSlope1             decimal.Decimal `json:"r_slope1"`
	RSlope2             decimal.Decimal `json:"r_slope2"`
	TotalLiquidity      decimal.Decimal `json:"total_liquidity"`
	AvailableLiquidity  decimal.Decimal `json:"available_liquidity"`
	CoveredCapital      decimal.Decimal `json:"covered_capital"`
	UtilizationRate     decimal.Decimal `json:"utilization_rate"`
	PremiumRate         decimal.Decimal `json:"premium_rate"`
	LiquidityIndex      decimal.Decimal `json:"liquidity_index"`
	SecondsPerTick      decimal.Decimal `json:"seconds_per_tick"`
	CurrentTick         uint64          `json:"current_tick"`
	OngoingClaims       uint64          `json:"ongoing_claims"`
	LastUpdateTimestamp uint64          `json:"last_update_timestamp"`
	AsOfSequence        int64           `json:"as_of_sequence"`
}

// PositionResponse represents a liquidity position for API queries.
type PositionResponse struct {
	PositionID                uuid.UUID       `json:"position_id"`
	Owner                     uuid.UUID       `json:"owner"`
	Supplied                  decimal.Decimal `json:"supplied"`
	Capital                   decimal.Decimal `json:"capital"`
	PoolIDs                   []int64         `json:"pool_ids"`
	StrategyID                uint32          `json:"strategy_id"`
	StrategyRewards           decimal.Decimal `json:"strategy_rewards"`
	CommitWithdrawalTimestamp uint64          `json:"commit_withdrawal_timestamp"`
	CreatedAt                 uint64          `json:"created_at"`
	UpdatedAt                 uint64          `json:"updated_at"`
	AsOfSequence              int64           `json:"as_of_sequence"`
}

// CoverResponse represents a cover for API queries.
type CoverResponse struct {
	CoverID        uuid.UUID       `json:"cover_id"`
	Owner          uuid.UUID       `json:"owner"`
	PoolID         uint64          `json:"pool_id"`
	CoverAmount    decimal.Decimal `json:"cover_amount"`
	IsActive       bool            `json:"is_active"`
	PremiumsLeft   decimal.Decimal `json:"premiums_left"`
	DailyCost      decimal.Decimal `json:"daily_cost"`
	PremiumRate    decimal.Decimal `json:"premium_rate"`
	LastTick       uint64          `json:"last_tick"`
	OngoingClaimID *uuid.UUID      `json:"ongoing_claim_id,omitempty"`
	CreatedAt      uint64          `json:"created_at"`
	UpdatedAt      uint64          `json:"updated_at"`
	AsOfSequence   int64           `json:"as_of_sequence"`
}

// ClaimResponse represents a claim for API queries.
type ClaimResponse struct {
	ClaimID           uuid.UUID       `json:"claim_id"`
	CoverID           uuid.UUID       `json:"cover_id"`
	PoolID            uint64          `json:"pool_id"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Claimant          uuid.UUID       `json:"claimant"`
	Challenger        *uuid.UUID      `json:"challenger,omitempty"`
	DisputeID         uint64          `json:"dispute_id,omitempty"`
	Deposit           decimal.Decimal `json:"deposit"`
	ChallengerDeposit decimal.Decimal `json:"challenger_deposit"`
	Evidence          []string        `json:"evidence"`
	CounterEvidence   []string        `json:"counter_evidence"`
	CreatedAt         uint64          `json:"created_at"`
	RulingTimestamp   uint64          `json:"ruling_timestamp,omitempty"`
	CompensationID    uint64          `json:"compensation_id,omitempty"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

// CompensationResponse is one paid-out claim as seen by the pools it drew on.
type CompensationResponse struct {
	CompensationID uint64          `json:"compensation_id"`
	ClaimID        uuid.UUID       `json:"claim_id"`
	FromPoolID     uint64          `json:"from_pool_id"`
	AffectedPools  []int64         `json:"affected_pools"`
	Amount         decimal.Decimal `json:"amount"`
	Ratio          decimal.Decimal `json:"ratio"`
	Timestamp      uint64          `json:"timestamp"`
}

// AccountBalance is one ledger account of an owner.
type AccountBalance struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// BalancesResponse lists every ledger account an owner holds.
type BalancesResponse struct {
	Owner        uuid.UUID        `json:"owner"`
	Accounts     []AccountBalance `json:"accounts"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string          `json:"journal_id"`
	BatchID       string          `json:"batch_id"`
	EventRef      string          `json:"event_ref"`
	Sequence      int64           `json:"sequence"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	AssetID       uint16          `json:"asset_id"`
	Amount        decimal.Decimal `json:"amount"`
	JournalType   string          `json:"journal_type"`
	PoolID        uint64          `json:"pool_id"`
	Timestamp     int64           `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy          bool              `json:"is_healthy"`
	LatestSequence     int64             `json:"latest_sequence"`
	GenesisMismatch    bool              `json:"genesis_mismatch,omitempty"`
	SequenceGaps       []int64           `json:"sequence_gaps,omitempty"`
	HashChainBreaks    []int64           `json:"hash_chain_breaks,omitempty"`
	SnapshotMismatches []int64           `json:"snapshot_mismatches,omitempty"`
	UnbalancedAssets   []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16          `json:"asset_id"`
	Imbalance decimal.Decimal `json:"imbalance"`
}
