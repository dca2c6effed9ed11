package ledger_test

import (
	"testing"

	"CoverLedger/internal/ledger"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

func usdc(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	return id
}

func deposit(owner uuid.UUID, assetID ledger.AssetID, amount uint64) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(owner, ledger.SubTypeCapital, assetID),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        fpmath.U64(amount),
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	owner := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(owner, ledger.SubTypePremiums, usdc(t))

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:premiums:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
	if key.Owner() != owner {
		t.Errorf("owner: got %s, want %s", key.Owner(), owner)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SubTypeSystemCompensationClearing, usdc(t))

	if path := key.AccountPath(); path != "system:compensation_clearing:USDC" {
		t.Errorf("got %q, want %q", path, "system:compensation_clearing:USDC")
	}
	if key.Owner() != uuid.Nil {
		t.Error("system accounts have no owner")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, usdc(t))

	if path := key.AccountPath(); path != "external:withdrawals:USDC" {
		t.Errorf("got %q, want %q", path, "external:withdrawals:USDC")
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	assetID := usdc(t)

	bt.ApplyJournal(deposit(owner, assetID, 1_000_000))

	if got := bt.GetUserCapital(owner, assetID); got.IntPart() != 1_000_000 {
		t.Errorf("capital: got %s, want 1000000", got)
	}
	ext := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID))
	if ext.IntPart() != -1_000_000 {
		t.Errorf("external deposits: got %s, want -1000000", ext)
	}
}

func TestBalanceTracker_ApplyBatch_RejectsNegativeUserAccount(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	assetID := usdc(t)
	bt.ApplyJournal(deposit(owner, assetID, 100))

	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, assetID),
				CreditAccount: ledger.NewUserAccountKey(owner, ledger.SubTypeCapital, assetID),
				AssetID:       assetID,
				Amount:        fpmath.U64(60),
			},
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, assetID),
				CreditAccount: ledger.NewUserAccountKey(owner, ledger.SubTypeCapital, assetID),
				AssetID:       assetID,
				Amount:        fpmath.U64(60),
			},
		},
	}

	if err := bt.ApplyBatch(batch); err == nil {
		t.Fatal("expected overdraw to be rejected")
	}
	if got := bt.GetUserCapital(owner, assetID); got.IntPart() != 100 {
		t.Errorf("rejected batch must not apply: got %s, want 100", got)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	assetID := usdc(t)

	bt.ApplyJournal(deposit(owner, assetID, 1_000_000))
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewSystemAccountKey(ledger.SubTypeSystemCompensationClearing, assetID),
		CreditAccount: ledger.NewUserAccountKey(owner, ledger.SubTypeCapital, assetID),
		AssetID:       assetID,
		Amount:        fpmath.U64(300_000),
	})

	for aid, total := range bt.ComputeGlobalBalance() {
		if !total.IsZero() {
			t.Errorf("asset %d has non-zero global balance: %s", aid, total)
		}
	}
}

func TestBalanceTracker_SnapshotAndRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	owner := uuid.New()
	assetID := usdc(t)
	bt.ApplyJournal(deposit(owner, assetID, 999))

	snap := bt.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size: got %d, want 2", len(snap))
	}
	for k := range snap {
		delete(snap, k)
	}
	if bt.GetUserCapital(owner, assetID).IntPart() != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}

	restored := ledger.NewBalanceTracker()
	restored.Restore(bt.Snapshot())
	if restored.GetUserCapital(owner, assetID).IntPart() != 999 {
		t.Error("restored tracker lost the balance")
	}
	keys := restored.Keys()
	if len(keys) != 2 || keys[0].Scope != ledger.AccountScopeUser {
		t.Errorf("keys should be ordered user scope first: %+v", keys)
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	assetID := usdc(t)
	batchID := uuid.New()
	j := deposit(uuid.New(), assetID, 0)
	j.BatchID = batchID

	batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	assetID := usdc(t)
	batchID := uuid.New()
	same := ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeCapital, assetID)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  same,
			CreditAccount: same,
			AssetID:       assetID,
			Amount:        fpmath.U64(100),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	j := deposit(uuid.New(), usdc(t), 100)
	batch := &ledger.Batch{BatchID: uuid.New(), Journals: []ledger.Journal{j}}
	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestJournalGenerator_NoEffects(t *testing.T) {
	jg := ledger.NewJournalGenerator(usdc(t))
	batch, err := jg.Generate("op-1", 1, 1000, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch != nil {
		t.Error("no effects should produce no batch")
	}
}

func TestJournalGenerator_CoverLifecycle(t *testing.T) {
	assetID := usdc(t)
	jg := ledger.NewJournalGenerator(assetID)
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	owner, coverID := uuid.New(), uuid.New()

	effects := []state.Effect{
		{Kind: state.EffectPremiumsDeposited, Owner: owner, Ref: coverID, PoolID: 1, Amount: fpmath.U64(100_000_000)},
		{Kind: state.EffectPremiumsBurned, Owner: owner, Ref: coverID, PoolID: 1, Amount: fpmath.U64(13_700)},
	}
	batch, err := jg.Generate("op-1", 7, 1000, effects)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("journals: got %d, want 2", len(batch.Journals))
	}
	if batch.Journals[1].JournalType != ledger.JournalTypePremiumBurn {
		t.Errorf("journal type: got %s, want premium_burn", batch.Journals[1].JournalType)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if err := v.ValidateUserAccountsNonNegative(batch); err != nil {
		t.Fatalf("user accounts: %v", err)
	}
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Fatalf("global balance: %v", err)
	}

	if got := bt.GetUserPremiums(owner, assetID); got.IntPart() != 99_986_300 {
		t.Errorf("premiums escrow: got %s, want 99986300", got)
	}
	burned := bt.GetBalance(ledger.NewSystemAccountKey(ledger.SubTypeSystemPremiumsBurned, assetID))
	if burned.IntPart() != 13_700 {
		t.Errorf("burned: got %s, want 13700", burned)
	}
}

func TestJournalGenerator_DeterministicIDs(t *testing.T) {
	jg := ledger.NewJournalGenerator(usdc(t))
	effects := []state.Effect{
		{Kind: state.EffectCapitalDeposited, Owner: uuid.New(), Ref: uuid.New(), PoolID: 1, Amount: fpmath.U64(5)},
	}

	a, err := jg.Generate("op-9", 3, 10, effects)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := jg.Generate("op-9", 3, 10, effects)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("replaying the same event should yield the same ids")
	}
}

func TestJournalGenerator_ProsecutorReward(t *testing.T) {
	assetID := usdc(t)
	jg := ledger.NewJournalGenerator(assetID)
	bt := ledger.NewBalanceTracker()
	claimant, challenger, claimID := uuid.New(), uuid.New(), uuid.New()

	held, err := jg.Generate("op-1", 1, 10, []state.Effect{
		{Kind: state.EffectClaimDepositHeld, Owner: claimant, Ref: claimID, Amount: fpmath.U64(10)},
		{Kind: state.EffectClaimDepositHeld, Owner: challenger, Ref: claimID, Amount: fpmath.U64(10)},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := bt.ApplyBatch(held); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	paid, err := jg.Generate("op-2", 2, 20, []state.Effect{
		{Kind: state.EffectProsecutorRewardPaid, Owner: claimant, Beneficiary: challenger, Ref: claimID, Amount: fpmath.U64(10)},
		{Kind: state.EffectClaimDepositRefunded, Owner: challenger, Ref: claimID, Amount: fpmath.U64(10)},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if paid.Journals[0].Counterparty != challenger {
		t.Errorf("counterparty: got %s, want %s", paid.Journals[0].Counterparty, challenger)
	}
	if err := bt.ApplyBatch(paid); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if !bt.GetUserClaimDeposits(claimant, assetID).IsZero() || !bt.GetUserClaimDeposits(challenger, assetID).IsZero() {
		t.Error("both deposits should be released")
	}
	out := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, assetID))
	if out.IntPart() != 20 {
		t.Errorf("withdrawals: got %s, want 20", out)
	}
}

func TestJournalGenerator_UnknownEffect(t *testing.T) {
	jg := ledger.NewJournalGenerator(usdc(t))
	_, err := jg.Generate("op-1", 1, 10, []state.Effect{{Kind: 0, Amount: fpmath.U64(1)}})
	if err == nil {
		t.Error("unknown effect kinds should be rejected")
	}
}
