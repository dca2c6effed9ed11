package ledger

import (
	"fmt"

	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry. There is one type
// per engine effect kind.
type JournalType int32

const (
	JournalTypeCapitalDeposit JournalType = iota
	JournalTypeCapitalWithdraw
	JournalTypeCapitalLoss
	JournalTypeCompensation
	JournalTypePremiumDeposit
	JournalTypePremiumRefund
	JournalTypePremiumConsume
	JournalTypePremiumBurn
	JournalTypeCoverReward
	JournalTypeStrategyReward
	JournalTypeClaimDepositHold
	JournalTypeClaimDepositRefund
	JournalTypeClaimDepositForfeit
	JournalTypeProsecutorReward
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCapitalDeposit:
		return "capital_deposit"
	case JournalTypeCapitalWithdraw:
		return "capital_withdraw"
	case JournalTypeCapitalLoss:
		return "capital_loss"
	case JournalTypeCompensation:
		return "compensation"
	case JournalTypePremiumDeposit:
		return "premium_deposit"
	case JournalTypePremiumRefund:
		return "premium_refund"
	case JournalTypePremiumConsume:
		return "premium_consume"
	case JournalTypePremiumBurn:
		return "premium_burn"
	case JournalTypeCoverReward:
		return "cover_reward"
	case JournalTypeStrategyReward:
		return "strategy_reward"
	case JournalTypeClaimDepositHold:
		return "claim_deposit_hold"
	case JournalTypeClaimDepositRefund:
		return "claim_deposit_refund"
	case JournalTypeClaimDepositForfeit:
		return "claim_deposit_forfeit"
	case JournalTypeProsecutorReward:
		return "prosecutor_reward"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Derived from the batch id and position in the batch
	BatchID       uuid.UUID    // Groups the entries of one event
	EventRef      string       // Idempotency key of source event
	Sequence      int64        // Global event sequence
	DebitAccount  AccountKey   // Account receiving debit (balance increases)
	CreditAccount AccountKey   // Account receiving credit (balance decreases)
	AssetID       AssetID      // Asset being transferred
	Amount        fpmath.Uint  // Base units, always positive
	JournalType   JournalType  // Entry type
	EntityRef     uuid.UUID    // Position, cover or claim the movement belongs to
	PoolID        state.PoolID // Pool the movement is attributed to
	Counterparty  uuid.UUID    // Receiving user when funds leave someone else's account
	Timestamp     int64        // Event timestamp (epoch seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from its credit account to its debit account, so a well-formed
// batch is balanced entry by entry.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
