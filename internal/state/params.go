package state

import (
	"fmt"

	fpmath "CoverLedger/internal/math"
)

// ProtocolParams are the protocol-wide timing and collateral settings. All
// durations are in seconds.
type ProtocolParams struct {
	WithdrawDelay         uint64      `json:"withdraw_delay" yaml:"withdraw_delay"`
	ChallengePeriod       uint64      `json:"challenge_period" yaml:"challenge_period"`
	OverrulePeriod        uint64      `json:"overrule_period" yaml:"overrule_period"`
	AppealPeriod          uint64      `json:"appeal_period" yaml:"appeal_period"`
	EvidenceUploadPeriod  uint64      `json:"evidence_upload_period" yaml:"evidence_upload_period"`
	InitialSecondsPerTick uint64      `json:"initial_seconds_per_tick" yaml:"initial_seconds_per_tick"`
	ClaimCollateral       fpmath.Uint `json:"claim_collateral" yaml:"-"`
}

var DefaultProtocolParams = ProtocolParams{
	WithdrawDelay:         14 * fpmath.SecondsPerDay,
	ChallengePeriod:       14 * fpmath.SecondsPerDay,
	OverrulePeriod:        4 * fpmath.SecondsPerDay,
	AppealPeriod:          7 * fpmath.SecondsPerDay,
	EvidenceUploadPeriod:  2 * fpmath.SecondsPerDay,
	InitialSecondsPerTick: fpmath.SecondsPerDay,
	ClaimCollateral:       fpmath.Zero,
}

// ValidateProtocolParams checks that periods are usable. A zero tick length
// would stall the tick clock.
func ValidateProtocolParams(p ProtocolParams) error {
	if p.InitialSecondsPerTick == 0 {
		return fmt.Errorf("initial_seconds_per_tick must be > 0")
	}
	if p.ChallengePeriod == 0 {
		return fmt.Errorf("challenge_period must be > 0")
	}
	if p.OverrulePeriod == 0 {
		return fmt.Errorf("overrule_period must be > 0")
	}
	if p.AppealPeriod == 0 {
		return fmt.Errorf("appeal_period must be > 0")
	}
	return nil
}
