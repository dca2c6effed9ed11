package event

import (
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

type ClaimInitiated struct {
	Meta
	ClaimID  uuid.UUID   `json:"claim_id"`
	CoverID  uuid.UUID   `json:"cover_id"`
	Claimant uuid.UUID   `json:"claimant"`
	Amount   fpmath.Uint `json:"amount"`
	Deposit  fpmath.Uint `json:"deposit"`
	Evidence []string    `json:"evidence,omitempty"`
}

func (e *ClaimInitiated) EventType() EventType { return EventTypeClaimInitiated }
func (e *ClaimInitiated) Stream() string       { return StreamClaim }

type EvidenceSubmitted struct {
	Meta
	ClaimID   uuid.UUID `json:"claim_id"`
	Submitter uuid.UUID `json:"submitter"`
	URIs      []string  `json:"uris"`
}

func (e *EvidenceSubmitted) EventType() EventType { return EventTypeEvidenceSubmitted }
func (e *EvidenceSubmitted) Stream() string       { return StreamClaim }

type ClaimDisputed struct {
	Meta
	ClaimID    uuid.UUID   `json:"claim_id"`
	Challenger uuid.UUID   `json:"challenger"`
	DisputeID  uint64      `json:"dispute_id"`
	Deposit    fpmath.Uint `json:"deposit"`
}

func (e *ClaimDisputed) EventType() EventType { return EventTypeClaimDisputed }
func (e *ClaimDisputed) Stream() string       { return StreamClaim }

// ClaimRuled is delivered by the arbitration service.
type ClaimRuled struct {
	Meta
	DisputeID uint64       `json:"dispute_id"`
	Ruling    state.Ruling `json:"ruling"`
}

func (e *ClaimRuled) EventType() EventType { return EventTypeClaimRuled }
func (e *ClaimRuled) Stream() string       { return StreamClaim }

type ClaimOverruled struct {
	Meta
	ClaimID uuid.UUID `json:"claim_id"`
}

func (e *ClaimOverruled) EventType() EventType { return EventTypeClaimOverruled }
func (e *ClaimOverruled) Stream() string       { return StreamClaim }

type ClaimAppealed struct {
	Meta
	ClaimID uuid.UUID `json:"claim_id"`
	Caller  uuid.UUID `json:"caller"`
}

func (e *ClaimAppealed) EventType() EventType { return EventTypeClaimAppealed }
func (e *ClaimAppealed) Stream() string       { return StreamClaim }

type CompensationWithdrawn struct {
	Meta
	ClaimID uuid.UUID `json:"claim_id"`
	Caller  uuid.UUID `json:"caller"`
}

func (e *CompensationWithdrawn) EventType() EventType { return EventTypeCompensationWithdrawn }
func (e *CompensationWithdrawn) Stream() string       { return StreamClaim }

type ProsecutorRewardWithdrawn struct {
	Meta
	ClaimID uuid.UUID `json:"claim_id"`
	Caller  uuid.UUID `json:"caller"`
}

func (e *ProsecutorRewardWithdrawn) EventType() EventType { return EventTypeProsecutorRewardWithdrawn }
func (e *ProsecutorRewardWithdrawn) Stream() string       { return StreamClaim }
