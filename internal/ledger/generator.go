package ledger

import (
	"fmt"
	"strconv"

	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

// batchNamespace seeds batch ids so a replayed event regenerates the same
// batch and journal ids.
var batchNamespace = uuid.MustParse("6f1c2a4e-9b7d-5e3f-8a21-c04d7e9b3f15")

// posting describes how one effect kind is booked.
type posting struct {
	debit       func(e state.Effect, asset AssetID) AccountKey
	credit      func(e state.Effect, asset AssetID) AccountKey
	journalType JournalType
}

func user(sub AccountSubType) func(state.Effect, AssetID) AccountKey {
	return func(e state.Effect, asset AssetID) AccountKey { return NewUserAccountKey(e.Owner, sub, asset) }
}

func system(sub AccountSubType) func(state.Effect, AssetID) AccountKey {
	return func(_ state.Effect, asset AssetID) AccountKey { return NewSystemAccountKey(sub, asset) }
}

func external(sub AccountSubType) func(state.Effect, AssetID) AccountKey {
	return func(_ state.Effect, asset AssetID) AccountKey { return NewExternalAccountKey(sub, asset) }
}

var postings = map[state.EffectKind]posting{
	state.EffectCapitalDeposited:      {user(SubTypeCapital), external(SubTypeExternalDeposits), JournalTypeCapitalDeposit},
	state.EffectCapitalWithdrawn:      {external(SubTypeExternalWithdrawals), user(SubTypeCapital), JournalTypeCapitalWithdraw},
	state.EffectCapitalLost:           {system(SubTypeSystemCompensationClearing), user(SubTypeCapital), JournalTypeCapitalLoss},
	state.EffectCompensationPaid:      {external(SubTypeExternalWithdrawals), system(SubTypeSystemCompensationClearing), JournalTypeCompensation},
	state.EffectPremiumsDeposited:     {user(SubTypePremiums), external(SubTypeExternalDeposits), JournalTypePremiumDeposit},
	state.EffectPremiumsRefunded:      {external(SubTypeExternalWithdrawals), user(SubTypePremiums), JournalTypePremiumRefund},
	state.EffectPremiumsConsumed:      {system(SubTypeSystemPremiumsEarned), user(SubTypePremiums), JournalTypePremiumConsume},
	state.EffectPremiumsBurned:        {system(SubTypeSystemPremiumsBurned), user(SubTypePremiums), JournalTypePremiumBurn},
	state.EffectCoverRewardsPaid:      {external(SubTypeExternalWithdrawals), system(SubTypeSystemPremiumsEarned), JournalTypeCoverReward},
	state.EffectStrategyRewardsPaid:   {external(SubTypeExternalWithdrawals), system(SubTypeSystemStrategyYield), JournalTypeStrategyReward},
	state.EffectClaimDepositHeld:      {user(SubTypeClaimDeposit), external(SubTypeExternalDeposits), JournalTypeClaimDepositHold},
	state.EffectClaimDepositRefunded:  {external(SubTypeExternalWithdrawals), user(SubTypeClaimDeposit), JournalTypeClaimDepositRefund},
	state.EffectClaimDepositForfeited: {system(SubTypeSystemClaimPenalties), user(SubTypeClaimDeposit), JournalTypeClaimDepositForfeit},
	state.EffectProsecutorRewardPaid:  {external(SubTypeExternalWithdrawals), user(SubTypeClaimDeposit), JournalTypeProsecutorReward},
}

// JournalGenerator turns the effects of one committed operation into a
// balanced journal batch.
type JournalGenerator struct {
	assetID AssetID
}

func NewJournalGenerator(assetID AssetID) *JournalGenerator {
	return &JournalGenerator{assetID: assetID}
}

func (jg *JournalGenerator) AssetID() AssetID { return jg.assetID }

// Generate books effects in emission order. Operations without capital
// movements (pool admin, evidence, disputes without deposits) return a nil
// batch.
func (jg *JournalGenerator) Generate(eventRef string, sequence, timestamp int64, effects []state.Effect) (*Batch, error) {
	if len(effects) == 0 {
		return nil, nil
	}

	batchID := uuid.NewSHA1(batchNamespace, []byte(eventRef+":"+strconv.FormatInt(sequence, 10)))
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(effects)),
	}

	for i, e := range effects {
		p, ok := postings[e.Kind]
		if !ok {
			return nil, fmt.Errorf("no posting for effect %s", e.Kind)
		}
		j := Journal{
			JournalID:     uuid.NewSHA1(batchID, []byte(strconv.Itoa(i))),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      sequence,
			DebitAccount:  p.debit(e, jg.assetID),
			CreditAccount: p.credit(e, jg.assetID),
			AssetID:       jg.assetID,
			Amount:        e.Amount,
			JournalType:   p.journalType,
			EntityRef:     e.Ref,
			PoolID:        e.PoolID,
			Counterparty:  e.Beneficiary,
			Timestamp:     timestamp,
		}
		batch.Journals = append(batch.Journals, j)
	}

	return batch, nil
}
