package query

import (
	"context"
	"fmt"
	"time"

	"CoverLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GetBalances returns every ledger account an owner holds.
func (qs *QueryService) GetBalances(ctx context.Context, owner uuid.UUID) (resp *BalancesResponse, err error) {
	defer qs.observe("balances", time.Now(), &err)

	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance
		FROM projections.balances
		WHERE owner = $1
		ORDER BY account_path
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp = &BalancesResponse{Owner: owner, Accounts: []AccountBalance{}, AsOfSequence: asOf}
	for rows.Next() {
		var (
			a       AccountBalance
			assetID uint16
			raw     decimal.Decimal
		)
		if err := rows.Scan(&a.Account, &assetID, &raw); err != nil {
			return nil, err
		}
		a.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		a.Balance = qs.amount(raw)
		resp.Accounts = append(resp.Accounts, a)
	}
	return resp, rows.Err()
}

// GetJournalHistory returns journal entries touching an owner's accounts,
// newest first. beforeSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) (entries []JournalHistoryEntry, err error) {
	defer qs.observe("journal_history", time.Now(), &err)

	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, pool_id, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e   JournalHistoryEntry
			raw decimal.Decimal
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &raw,
			&e.JournalType, &e.PoolID, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = qs.amount(raw)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
