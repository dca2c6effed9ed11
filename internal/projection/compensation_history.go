package projection

import (
	"slices"

	"CoverLedger/internal/state"

	"github.com/lib/pq"
)

// Compensations are written once and never change, but they go through the
// same upsert path so a resync can rewrite them.
var compensationsTable = table{
	name: "projections.compensations",
	key:  []string{"compensation_id"},
	cols: []string{
		"compensation_id", "claim_id", "from_pool_id", "affected_pools",
		"amount", "ratio", "timestamp", "last_sequence",
	},
}

func compensationRow(c *state.Compensation, seq int64) []any {
	affected := make([]int64, 0, len(c.LiquidityIndexBeforeClaim))
	for id := range c.LiquidityIndexBeforeClaim {
		affected = append(affected, int64(id))
	}
	slices.Sort(affected)
	return []any{
		int64(c.ID), c.ClaimID.String(), int64(c.FromPoolID), pq.Array(affected),
		c.Amount.String(), c.Ratio.String(), int64(c.Timestamp),
		seq,
	}
}
