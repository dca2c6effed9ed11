package projection

import (
	"fmt"
	"strings"

	"CoverLedger/internal/core"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// table describes one projection table written with absolute upserts. Rows
// only overwrite rows stamped with an older or equal sequence, so a resync
// racing a late output cannot roll a record back.
type table struct {
	name string
	key  []string
	cols []string
}

var (
	poolsTable = table{
		name: "projections.pools",
		key:  []string{"pool_id"},
		cols: []string{
			"pool_id", "strategy_id", "is_paused",
			"u_optimal", "r0", "r_slope1", "r_slope2",
			"total_liquidity", "available_liquidity", "covered_capital",
			"utilization_rate", "premium_rate", "liquidity_index", "seconds_per_tick",
			"current_tick", "ongoing_claims", "last_update_timestamp", "created_at",
			"last_sequence",
		},
	}
	positionsTable = table{
		name: "projections.positions",
		key:  []string{"position_id"},
		cols: []string{
			"position_id", "owner", "supplied", "capital", "pool_ids", "strategy_id",
			"strategy_rewards", "commit_withdrawal_timestamp", "created_at", "updated_at",
			"last_sequence",
		},
	}
	coversTable = table{
		name: "projections.covers",
		key:  []string{"cover_id"},
		cols: []string{
			"cover_id", "owner", "pool_id", "cover_amount", "is_active", "premiums_left",
			"daily_cost", "premium_rate", "last_tick", "ongoing_claim_id", "created_at",
			"updated_at", "last_sequence",
		},
	}
	claimsTable = table{
		name: "projections.claims",
		key:  []string{"claim_id"},
		cols: []string{
			"claim_id", "cover_id", "pool_id", "status", "amount", "claimant", "challenger",
			"dispute_id", "deposit", "challenger_deposit", "evidence", "counter_evidence",
			"created_at", "ruling_timestamp", "compensation_id", "last_sequence",
		},
	}
	balancesTable = table{
		name: "projections.balances",
		key:  []string{"account_path"},
		cols: []string{"account_path", "owner", "asset_id", "balance", "last_sequence"},
	}
)

// upsertSQL renders a multi-row upsert for n rows.
func (t table) upsertSQL(n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", t.name, strings.Join(t.cols, ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for k := range t.cols {
			if k > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*len(t.cols)+k+1)
		}
		b.WriteByte(')')
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET ", strings.Join(t.key, ", "))
	first := true
	for _, c := range t.cols {
		if isKey(t.key, c) {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", c, c)
	}
	fmt.Fprintf(&b, " WHERE %s.last_sequence <= EXCLUDED.last_sequence", t.name)
	return b.String()
}

func isKey(key []string, col string) bool {
	for _, k := range key {
		if k == col {
			return true
		}
	}
	return false
}

// nullUUID maps uuid.Nil to SQL NULL.
func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func poolRow(p *state.Pool, seq int64) []any {
	return []any{
		int64(p.ID), int64(p.StrategyID), p.IsPaused,
		p.Formula.UOptimal.String(), p.Formula.R0.String(), p.Formula.RSlope1.String(), p.Formula.RSlope2.String(),
		p.TotalLiquidity().String(), p.AvailableLiquidity().String(), p.Slot0.CoveredCapital.String(),
		p.UtilizationRate.String(), p.PremiumRate.String(), p.Slot0.LiquidityIndex.String(), p.Slot0.SecondsPerTick.String(),
		int64(p.Slot0.Tick), int64(p.OngoingClaims), int64(p.Slot0.LastUpdateTimestamp), int64(p.CreatedAt),
		seq,
	}
}

func positionRow(p *state.Position, seq int64) []any {
	pools := make([]int64, len(p.PoolIDs))
	for i, id := range p.PoolIDs {
		pools[i] = int64(id)
	}
	return []any{
		p.ID.String(), p.Owner.String(), p.Supplied.String(), p.NewUserCapital.String(),
		pq.Array(pools), int64(p.StrategyID), p.StrategyRewards.String(),
		int64(p.CommitWithdrawalTimestamp), int64(p.CreatedAt), int64(p.UpdatedAt),
		seq,
	}
}

func coverRow(c *state.Cover, seq int64) []any {
	return []any{
		c.ID.String(), c.Owner.String(), int64(c.PoolID), c.CoverAmount.String(), c.IsActive,
		c.PremiumsLeft.String(), c.DailyCost.String(), c.PremiumRate.String(), int64(c.LastTick),
		nullUUID(c.OngoingClaimID), int64(c.CreatedAt), int64(c.UpdatedAt),
		seq,
	}
}

func claimRow(c *state.Claim, seq int64) []any {
	return []any{
		c.ID.String(), c.CoverID.String(), int64(c.PoolID), c.Status.String(), c.Amount.String(),
		c.Claimant.String(), nullUUID(c.Challenger), int64(c.DisputeID),
		c.Deposit.String(), c.ChallengerDeposit.String(),
		pq.Array(nonNil(c.Evidence)), pq.Array(nonNil(c.CounterEvidence)),
		int64(c.CreatedAt), int64(c.RulingTimestamp), int64(c.CompensationID),
		seq,
	}
}

func balanceRow(b core.BalanceEntry, seq int64) []any {
	return []any{
		b.Account.AccountPath(), nullUUID(b.Account.Owner()), int64(b.Account.AssetID), b.Balance, seq,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// batch collects rows per table so each table takes one statement.
type batch struct {
	rows map[*table][][]any
}

func newBatch() *batch { return &batch{rows: make(map[*table][][]any)} }

func (b *batch) add(t *table, row []any) { b.rows[t] = append(b.rows[t], row) }

func (b *batch) size() int {
	n := 0
	for _, r := range b.rows {
		n += len(r)
	}
	return n
}

// statements renders the batch in a fixed table order. Large tables are
// split so no statement exceeds Postgres' bind parameter limit.
func (b *batch) statements() []statement {
	const maxParams = 65535
	var out []statement
	for _, t := range []*table{&poolsTable, &positionsTable, &coversTable, &claimsTable, &balancesTable, &compensationsTable} {
		rows := b.rows[t]
		per := maxParams / len(t.cols)
		for len(rows) > 0 {
			n := min(per, len(rows))
			args := make([]any, 0, n*len(t.cols))
			for _, r := range rows[:n] {
				args = append(args, r...)
			}
			out = append(out, statement{table: t.name, query: t.upsertSQL(n), args: args})
			rows = rows[n:]
		}
	}
	return out
}

type statement struct {
	table string
	query string
	args  []any
}

// outputBatch turns one core output into projection rows.
func outputBatch(out core.CoreOutput) *batch {
	b := newBatch()
	seq := out.Envelope.Sequence
	if cs := out.Changes; cs != nil {
		for _, p := range cs.Pools {
			b.add(&poolsTable, poolRow(p, seq))
		}
		for _, p := range cs.Positions {
			b.add(&positionsTable, positionRow(p, seq))
		}
		for _, c := range cs.Covers {
			b.add(&coversTable, coverRow(c, seq))
		}
		for _, c := range cs.Claims {
			b.add(&claimsTable, claimRow(c, seq))
		}
		for _, c := range cs.Compensations {
			b.add(&compensationsTable, compensationRow(c, seq))
		}
	}
	for _, bal := range out.Balances {
		b.add(&balancesTable, balanceRow(bal, seq))
	}
	return b
}

// snapshotBatch turns a full core snapshot into projection rows.
func snapshotBatch(snap *core.SnapshotState) *batch {
	b := newBatch()
	seq := snap.Sequence
	if s := snap.Store; s != nil {
		for _, p := range s.Pools {
			b.add(&poolsTable, poolRow(p, seq))
		}
		for _, p := range s.Positions {
			b.add(&positionsTable, positionRow(p, seq))
		}
		for _, c := range s.Covers {
			b.add(&coversTable, coverRow(c, seq))
		}
		for _, c := range s.Claims {
			b.add(&claimsTable, claimRow(c, seq))
		}
		for _, c := range s.Compensations {
			b.add(&compensationsTable, compensationRow(c, seq))
		}
	}
	for _, bal := range snap.Balances {
		b.add(&balancesTable, balanceRow(bal, seq))
	}
	return b
}

// livePositions lists the position ids present in a snapshot.
func livePositions(snap *core.SnapshotState) []string {
	if snap.Store == nil {
		return nil
	}
	ids := make([]string, len(snap.Store.Positions))
	for i, p := range snap.Store.Positions {
		ids[i] = p.ID.String()
	}
	return ids
}
