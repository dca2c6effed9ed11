package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to projection tables. Queries never
// touch the core; all responses include as_of_sequence for freshness.
type QueryService struct {
	db       *sql.DB
	decimals uint8
	metrics  *observability.Metrics
}

// NewQueryService renders amounts with the settlement asset's decimals.
func NewQueryService(db *sql.DB, decimals uint8, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, decimals: decimals, metrics: metrics}
}

// GetPool returns a pool's projected state.
func (qs *QueryService) GetPool(ctx context.Context, poolID uint64) (resp *PoolResponse, err error) {
	defer qs.observe("pool", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	p := PoolResponse{AsOfSequence: asOf}
	var (
		uOpt, r0, s1, s2, total, avail, covered, util, rate, index, spt decimal.Decimal
		strategy                                                        int64
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT pool_id, strategy_id, is_paused, u_optimal, r0, r_slope1, r_slope2,
		       total_liquidity, available_liquidity, covered_capital,
		       utilization_rate, premium_rate, liquidity_index, seconds_per_tick,
		       current_tick, ongoing_claims, last_update_timestamp
		FROM projections.pools
		WHERE pool_id = $1
	`, int64(poolID)).Scan(
		&p.PoolID, &strategy, &p.IsPaused, &uOpt, &r0, &s1, &s2,
		&total, &avail, &covered, &util, &rate, &index, &spt,
		&p.CurrentTick, &p.OngoingClaims, &p.LastUpdateTimestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool %d: %w", poolID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	p.StrategyID = uint32(strategy)
	p.UOptimal, p.R0, p.RSlope1, p.RSlope2 = ray(uOpt), ray(r0), ray(s1), ray(s2)
	p.TotalLiquidity, p.AvailableLiquidity, p.CoveredCapital = qs.amount(total), qs.amount(avail), qs.amount(covered)
	p.UtilizationRate, p.PremiumRate = ray(util), ray(rate)
	p.LiquidityIndex, p.SecondsPerTick = ray(index), ray(spt)
	return &p, nil
}

// GetPosition returns a liquidity position.
func (qs *QueryService) GetPosition(ctx context.Context, positionID uuid.UUID) (resp *PositionResponse, err error) {
	defer qs.observe("position", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.queryPositions(ctx, `WHERE position_id = $1`, positionID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	rows[0].AsOfSequence = asOf
	return &rows[0], nil
}

// GetPositionsByOwner returns every open position of an owner.
func (qs *QueryService) GetPositionsByOwner(ctx context.Context, owner uuid.UUID) (resp []PositionResponse, err error) {
	defer qs.observe("positions_by_owner", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.queryPositions(ctx, `WHERE owner = $1 ORDER BY created_at, position_id`, owner)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].AsOfSequence = asOf
	}
	return rows, nil
}

func (qs *QueryService) queryPositions(ctx context.Context, where string, arg any) ([]PositionResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, owner, supplied, capital, pool_ids, strategy_id,
		       strategy_rewards, commit_withdrawal_timestamp, created_at, updated_at
		FROM projections.positions `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionResponse
	for rows.Next() {
		var (
			p                          PositionResponse
			supplied, capital, rewards decimal.Decimal
			pools                      pq.Int64Array
			strategy                   int64
		)
		if err := rows.Scan(
			&p.PositionID, &p.Owner, &supplied, &capital, &pools, &strategy,
			&rewards, &p.CommitWithdrawalTimestamp, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Supplied, p.Capital, p.StrategyRewards = qs.amount(supplied), qs.amount(capital), qs.amount(rewards)
		p.PoolIDs = pools
		p.StrategyID = uint32(strategy)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetCover returns a cover.
func (qs *QueryService) GetCover(ctx context.Context, coverID uuid.UUID) (resp *CoverResponse, err error) {
	defer qs.observe("cover", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	c := CoverResponse{AsOfSequence: asOf}
	var (
		amount, premiums, daily, rate decimal.Decimal
		claim                         uuid.NullUUID
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT cover_id, owner, pool_id, cover_amount, is_active, premiums_left,
		       daily_cost, premium_rate, last_tick, ongoing_claim_id, created_at, updated_at
		FROM projections.covers
		WHERE cover_id = $1
	`, coverID).Scan(
		&c.CoverID, &c.Owner, &c.PoolID, &amount, &c.IsActive, &premiums,
		&daily, &rate, &c.LastTick, &claim, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cover %s: %w", coverID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.CoverAmount, c.PremiumsLeft, c.DailyCost = qs.amount(amount), qs.amount(premiums), qs.amount(daily)
	c.PremiumRate = ray(rate)
	if claim.Valid {
		c.OngoingClaimID = &claim.UUID
	}
	return &c, nil
}

// GetClaim returns a claim with its current status.
func (qs *QueryService) GetClaim(ctx context.Context, claimID uuid.UUID) (resp *ClaimResponse, err error) {
	defer qs.observe("claim", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	c := ClaimResponse{AsOfSequence: asOf}
	var (
		amount, deposit, challengerDeposit decimal.Decimal
		challenger                         uuid.NullUUID
		evidence, counter                  pq.StringArray
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT claim_id, cover_id, pool_id, status, amount, claimant, challenger,
		       dispute_id, deposit, challenger_deposit, evidence, counter_evidence,
		       created_at, ruling_timestamp, compensation_id
		FROM projections.claims
		WHERE claim_id = $1
	`, claimID).Scan(
		&c.ClaimID, &c.CoverID, &c.PoolID, &c.Status, &amount, &c.Claimant, &challenger,
		&c.DisputeID, &deposit, &challengerDeposit, &evidence, &counter,
		&c.CreatedAt, &c.RulingTimestamp, &c.CompensationID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim %s: %w", claimID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.Amount, c.Deposit, c.ChallengerDeposit = qs.amount(amount), qs.amount(deposit), qs.amount(challengerDeposit)
	if challenger.Valid {
		c.Challenger = &challenger.UUID
	}
	c.Evidence, c.CounterEvidence = evidence, counter
	return &c, nil
}

// GetCompensations returns the compensations that drew on a pool, newest
// first.
func (qs *QueryService) GetCompensations(ctx context.Context, poolID uint64, limit int) (resp []CompensationResponse, err error) {
	defer qs.observe("compensations", time.Now(), &err)

	rows, err := qs.db.QueryContext(ctx, `
		SELECT compensation_id, claim_id, from_pool_id, affected_pools, amount, ratio, timestamp
		FROM projections.compensations
		WHERE $1 = ANY(affected_pools)
		ORDER BY compensation_id DESC
		LIMIT $2
	`, int64(poolID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c             CompensationResponse
			amount, ratio decimal.Decimal
			affected      pq.Int64Array
		)
		if err := rows.Scan(&c.CompensationID, &c.ClaimID, &c.FromPoolID, &affected, &amount, &ratio, &c.Timestamp); err != nil {
			return nil, err
		}
		c.AffectedPools = affected
		c.Amount = qs.amount(amount)
		c.Ratio = ray(ratio)
		resp = append(resp, c)
	}
	return resp, rows.Err()
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) amount(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-int32(qs.decimals))
}

// ray scales a raw Ray column. Rates come out in percent.
func ray(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-fpmath.RayDecimals)
}

func (qs *QueryService) observe(endpoint string, start time.Time, errp *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(*errp, ErrNotFound):
		status = "not_found"
	case *errp != nil:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	if status == "error" {
		qs.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
