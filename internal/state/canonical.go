package state

import (
	"encoding/binary"

	fpmath "CoverLedger/internal/math"
)

// CanonicalBytes encodings are fixed-width and field-ordered so that the same
// record always hashes the same way. Maps are written in ascending key order.

func appendUint(buf []byte, v fpmath.Uint) []byte {
	b := v.Bytes32()
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendPoolMap(buf []byte, m map[PoolID]fpmath.Uint) []byte {
	buf = appendU64(buf, uint64(len(m)))
	for _, id := range sortedKeys(m) {
		buf = appendU64(buf, uint64(id))
		buf = appendUint(buf, m[id])
	}
	return buf
}

func appendStrings(buf []byte, ss []string) []byte {
	buf = appendU64(buf, uint64(len(ss)))
	for _, s := range ss {
		buf = appendU64(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func (p *Pool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 512)
	buf = appendU64(buf, uint64(p.ID))
	buf = appendUint(buf, p.Formula.UOptimal)
	buf = appendUint(buf, p.Formula.R0)
	buf = appendUint(buf, p.Formula.RSlope1)
	buf = appendUint(buf, p.Formula.RSlope2)
	buf = appendU64(buf, p.Slot0.Tick)
	buf = appendUint(buf, p.Slot0.SecondsPerTick)
	buf = appendUint(buf, p.Slot0.CoveredCapital)
	buf = appendU64(buf, p.Slot0.LastUpdateTimestamp)
	buf = appendUint(buf, p.Slot0.LiquidityIndex)
	buf = appendUint(buf, p.UtilizationRate)
	buf = appendUint(buf, p.PremiumRate)
	buf = appendPoolMap(buf, p.Overlaps)
	buf = appendU64(buf, p.OngoingClaims)
	buf = appendU64(buf, uint64(p.StrategyID))
	buf = appendBool(buf, p.IsPaused)
	buf = appendU64(buf, uint64(len(p.CompensationIDs)))
	buf = appendU64(buf, uint64(p.Ticks.Len()))
	return buf
}

func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, p.ID[:]...)
	buf = append(buf, p.Owner[:]...)
	buf = appendUint(buf, p.Supplied)
	buf = appendUint(buf, p.NewUserCapital)
	buf = appendU64(buf, uint64(len(p.PoolIDs)))
	for _, id := range p.PoolIDs {
		buf = appendU64(buf, uint64(id))
	}
	buf = appendPoolMap(buf, p.CoverRewards)
	buf = appendUint(buf, p.StrategyRewards)
	buf = appendU64(buf, p.CommitWithdrawalTimestamp)
	buf = appendPoolMap(buf, p.LiquidityIndexes)
	buf = appendUint(buf, p.StrategyRewardIndex)
	buf = appendU64(buf, uint64(p.CompensationCursor))
	return buf
}

func (c *Cover) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, c.ID[:]...)
	buf = append(buf, c.Owner[:]...)
	buf = appendU64(buf, uint64(c.PoolID))
	buf = appendUint(buf, c.CoverAmount)
	buf = appendBool(buf, c.IsActive)
	buf = appendUint(buf, c.PremiumsLeft)
	buf = appendUint(buf, c.DailyCost)
	buf = appendUint(buf, c.PremiumRate)
	buf = appendU64(buf, c.LastTick)
	buf = append(buf, c.OngoingClaimID[:]...)
	return buf
}

func (c *Claim) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, c.ID[:]...)
	buf = append(buf, c.CoverID[:]...)
	buf = append(buf, byte(c.Status))
	buf = appendUint(buf, c.Amount)
	buf = append(buf, c.Challenger[:]...)
	buf = appendU64(buf, c.DisputeID)
	buf = appendUint(buf, c.Deposit)
	buf = appendUint(buf, c.ChallengerDeposit)
	buf = appendStrings(buf, c.Evidence)
	buf = appendStrings(buf, c.CounterEvidence)
	buf = appendU64(buf, c.RulingTimestamp)
	buf = appendBool(buf, c.HoldReleased)
	return buf
}

func (e Effect) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, byte(e.Kind))
	buf = append(buf, e.Owner[:]...)
	buf = append(buf, e.Beneficiary[:]...)
	buf = append(buf, e.Ref[:]...)
	buf = appendU64(buf, uint64(e.PoolID))
	buf = appendUint(buf, e.Amount)
	return buf
}

func (c *Compensation) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	buf = appendU64(buf, uint64(c.ID))
	buf = append(buf, c.ClaimID[:]...)
	buf = appendU64(buf, uint64(c.FromPoolID))
	buf = appendUint(buf, c.Amount)
	buf = appendUint(buf, c.Ratio)
	buf = appendUint(buf, c.StrategyRewardIndexBeforeClaim)
	buf = appendPoolMap(buf, c.LiquidityIndexBeforeClaim)
	buf = appendU64(buf, c.Timestamp)
	return buf
}

func (p ProtocolParams) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = appendU64(buf, p.WithdrawDelay)
	buf = appendU64(buf, p.ChallengePeriod)
	buf = appendU64(buf, p.OverrulePeriod)
	buf = appendU64(buf, p.AppealPeriod)
	buf = appendU64(buf, p.EvidenceUploadPeriod)
	buf = appendU64(buf, p.InitialSecondsPerTick)
	buf = appendUint(buf, p.ClaimCollateral)
	return buf
}

func appendCompatibility(buf []byte, table map[PoolID][]PoolID) []byte {
	buf = appendU64(buf, uint64(len(table)))
	for _, id := range sortedKeys(table) {
		buf = appendU64(buf, uint64(id))
		buf = appendU64(buf, uint64(len(table[id])))
		for _, other := range table[id] {
			buf = appendU64(buf, uint64(other))
		}
	}
	return buf
}

// Digest concatenates the canonical encodings of everything the change set
// wrote: records, deleted position ids, strategy indexes, the compatibility
// table and protocol parameters when they changed, then the effects. Each
// section is tagged so an empty section cannot be confused with another.
func (cs *ChangeSet) Digest() []byte {
	var buf []byte
	for _, p := range cs.Pools {
		buf = append(buf, p.CanonicalBytes()...)
	}
	for _, p := range cs.Positions {
		buf = append(buf, p.CanonicalBytes()...)
	}
	for _, id := range cs.DeletedPositions {
		buf = append(buf, id[:]...)
	}
	for _, c := range cs.Covers {
		buf = append(buf, c.CanonicalBytes()...)
	}
	for _, c := range cs.Claims {
		buf = append(buf, c.CanonicalBytes()...)
	}
	buf = append(buf, 'M')
	for _, c := range cs.Compensations {
		buf = append(buf, c.CanonicalBytes()...)
	}
	buf = append(buf, 'S')
	for _, id := range sortedKeys(cs.Strategies) {
		buf = appendU64(buf, uint64(id))
		buf = appendUint(buf, cs.Strategies[id])
	}
	if cs.CompatibilityChanged {
		buf = append(buf, 'G')
		buf = appendCompatibility(buf, cs.Compatibility)
	}
	if cs.ParamsChanged {
		buf = append(buf, 'P')
		buf = append(buf, cs.Params.CanonicalBytes()...)
	}
	buf = append(buf, 'E')
	for _, e := range cs.Effects {
		buf = append(buf, e.CanonicalBytes()...)
	}
	return buf
}
