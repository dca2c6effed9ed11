package ledger

import (
	"bytes"
	"fmt"
	"sort"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceTracker maintains in-memory account balances. Balances are signed:
// system and external accounts run negative as funds cross the boundary,
// user accounts never do.
type BalanceTracker struct {
	balances map[AccountKey]decimal.Decimal
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]decimal.Decimal),
	}
}

func amountOf(u fpmath.Uint) decimal.Decimal {
	return decimal.NewFromBigInt(u.Big(), 0)
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	amt := amountOf(j.Amount)
	bt.balances[j.DebitAccount] = bt.balances[j.DebitAccount].Add(amt)
	bt.balances[j.CreditAccount] = bt.balances[j.CreditAccount].Sub(amt)
}

// ApplyBatch applies all journals in a batch, or none of them when the batch
// is malformed or would drive a user account negative.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	pending := make(map[AccountKey]decimal.Decimal)
	for _, j := range batch.Journals {
		amt := amountOf(j.Amount)
		if _, ok := pending[j.DebitAccount]; !ok {
			pending[j.DebitAccount] = bt.balances[j.DebitAccount]
		}
		if _, ok := pending[j.CreditAccount]; !ok {
			pending[j.CreditAccount] = bt.balances[j.CreditAccount]
		}
		pending[j.DebitAccount] = pending[j.DebitAccount].Add(amt)
		pending[j.CreditAccount] = pending[j.CreditAccount].Sub(amt)
	}
	for key, bal := range pending {
		if key.Scope == AccountScopeUser && bal.IsNegative() {
			return fmt.Errorf("batch %s drives %s negative: %s", batch.BatchID, key.AccountPath(), bal)
		}
	}

	for key, bal := range pending {
		bt.balances[key] = bal
	}
	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) decimal.Decimal {
	return bt.balances[key]
}

// === User Balance Queries ===

// GetUserCapital returns the capital a user has supplied across positions,
// net of withdrawals and claim losses.
func (bt *BalanceTracker) GetUserCapital(owner uuid.UUID, assetID AssetID) decimal.Decimal {
	return bt.GetBalance(NewUserAccountKey(owner, SubTypeCapital, assetID))
}

// GetUserPremiums returns premiums a user holds in cover escrow.
func (bt *BalanceTracker) GetUserPremiums(owner uuid.UUID, assetID AssetID) decimal.Decimal {
	return bt.GetBalance(NewUserAccountKey(owner, SubTypePremiums, assetID))
}

// GetUserClaimDeposits returns claim collateral a user has locked.
func (bt *BalanceTracker) GetUserClaimDeposits(owner uuid.UUID, assetID AssetID) decimal.Decimal {
	return bt.GetBalance(NewUserAccountKey(owner, SubTypeClaimDeposit, assetID))
}

// GetUserTotalBalance sums every user sub-account.
func (bt *BalanceTracker) GetUserTotalBalance(owner uuid.UUID, assetID AssetID) decimal.Decimal {
	return bt.GetUserCapital(owner, assetID).
		Add(bt.GetUserPremiums(owner, assetID)).
		Add(bt.GetUserClaimDeposits(owner, assetID))
}

// === Invariant Checks ===

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.IsNegative() {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]decimal.Decimal {
	totals := make(map[AssetID]decimal.Decimal)

	for key, balance := range bt.balances {
		totals[key.AssetID] = totals[key.AssetID].Add(balance)
	}

	return totals
}

// Keys returns every tracked account in a stable order (scope, entity,
// sub-type, asset). State hashing and snapshots depend on the order.
func (bt *BalanceTracker) Keys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	return keys
}

func keyLess(a, b AccountKey) bool {
	if a.Scope != b.Scope {
		return a.Scope < b.Scope
	}
	if c := bytes.Compare(a.EntityID[:], b.EntityID[:]); c != 0 {
		return c < 0
	}
	if a.SubType != b.SubType {
		return a.SubType < b.SubType
	}
	return a.AssetID < b.AssetID
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]decimal.Decimal {
	snapshot := make(map[AccountKey]decimal.Decimal, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances, used when loading a snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]decimal.Decimal) {
	bt.balances = make(map[AccountKey]decimal.Decimal, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
