package query

import (
	"bytes"
	"context"
	"time"

	"CoverLedger/internal/core"

	"github.com/shopspring/decimal"
)

const (
	integrityPage     = 5000
	maxReportedIssues = 100
)

// VerifyIntegrity walks the event log checking that sequences are contiguous
// and every prev_hash matches the previous state_hash, then checks stored
// snapshots against the log and that balances net to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("integrity", time.Now(), &err)

	report = &IntegrityReport{LatestSequence: -1}
	if err := qs.walkChain(ctx, report); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT s.sequence
		FROM event_log.snapshots s
		JOIN event_log.events e ON e.sequence = s.sequence
		WHERE e.state_hash != s.state_hash
		ORDER BY s.sequence
		LIMIT $1
	`, maxReportedIssues)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.SnapshotMismatches = append(report.SnapshotMismatches, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()
	for balanceRows.Next() {
		var (
			u     UnbalancedAsset
			total decimal.Decimal
		)
		if err := balanceRows.Scan(&u.AssetID, &total); err != nil {
			return nil, err
		}
		u.Imbalance = qs.amount(total)
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = !report.GenesisMismatch &&
		len(report.SequenceGaps) == 0 &&
		len(report.HashChainBreaks) == 0 &&
		len(report.SnapshotMismatches) == 0 &&
		len(report.UnbalancedAssets) == 0
	return report, nil
}

// walkChain pages through the log in sequence order.
func (qs *QueryService) walkChain(ctx context.Context, report *IntegrityReport) error {
	genesis := core.GenesisHash()
	var (
		prevState []byte
		expect    int64
	)
	for {
		rows, err := qs.db.QueryContext(ctx, `
			SELECT sequence, state_hash, prev_hash
			FROM event_log.events
			WHERE sequence >= $1
			ORDER BY sequence
			LIMIT $2
		`, expect, integrityPage)
		if err != nil {
			return err
		}

		n := 0
		for rows.Next() {
			var (
				seq             int64
				state, prevHash []byte
			)
			if err := rows.Scan(&seq, &state, &prevHash); err != nil {
				rows.Close()
				return err
			}
			n++

			switch {
			case seq == 0:
				report.GenesisMismatch = !bytes.Equal(prevHash, genesis[:])
			case seq != expect:
				addIssue(&report.SequenceGaps, expect)
			case !bytes.Equal(prevHash, prevState):
				addIssue(&report.HashChainBreaks, seq)
			}
			prevState = state
			expect = seq + 1
			report.LatestSequence = seq
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
		if n < integrityPage {
			return nil
		}
	}
}

func addIssue(list *[]int64, seq int64) {
	if len(*list) < maxReportedIssues {
		*list = append(*list, seq)
	}
}
