package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePoolCreated
	EventTypePoolFormulaUpdated
	EventTypePoolPauseSet
	EventTypeCompatibilityUpdated
	EventTypeStrategyIndexUpdated
	EventTypePositionOpened
	EventTypeLiquidityAdded
	EventTypeInterestTaken
	EventTypeWithdrawalCommitted
	EventTypeWithdrawalUncommitted
	EventTypeLiquidityRemoved
	EventTypeCoverOpened
	EventTypeCoverUpdated
	EventTypeClaimInitiated
	EventTypeEvidenceSubmitted
	EventTypeClaimDisputed
	EventTypeClaimRuled
	EventTypeClaimOverruled
	EventTypeClaimAppealed
	EventTypeCompensationWithdrawn
	EventTypeProsecutorRewardWithdrawn
)

// Streams partition source sequences. Each upstream producer numbers its own
// stream.
const (
	StreamPool     = "pool"
	StreamStrategy = "strategy"
	StreamPosition = "position"
	StreamCover    = "cover"
	StreamClaim    = "claim"
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Source stream the event was numbered in
	Stream string

	// Operation timestamp in unix seconds (NOT wall-clock at processing)
	Timestamp uint64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte

	// Engine refusal message; empty when the event was applied
	Rejection string
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Stream returns the source stream for sequence validation
	Stream() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Now returns the operation timestamp in unix seconds
	Now() uint64
}

// Meta carries the fields every operation shares. Embedding it gives an
// event its idempotency key, source sequence and timestamp.
type Meta struct {
	OperationID uuid.UUID `json:"operation_id"`
	Sequence    int64     `json:"source_sequence"`
	Timestamp   uint64    `json:"timestamp"`
}

func (m Meta) IdempotencyKey() string { return m.OperationID.String() }

func (m Meta) SourceSequence() int64 { return m.Sequence }

func (m Meta) Now() uint64 { return m.Timestamp }

// OccurredAt is the timestamp as wall-clock time, for logs and projections.
func (m Meta) OccurredAt() time.Time { return time.Unix(int64(m.Timestamp), 0).UTC() }

var names = map[EventType]string{
	EventTypePoolCreated:               "PoolCreated",
	EventTypePoolFormulaUpdated:        "PoolFormulaUpdated",
	EventTypePoolPauseSet:              "PoolPauseSet",
	EventTypeCompatibilityUpdated:      "CompatibilityUpdated",
	EventTypeStrategyIndexUpdated:      "StrategyIndexUpdated",
	EventTypePositionOpened:            "PositionOpened",
	EventTypeLiquidityAdded:            "LiquidityAdded",
	EventTypeInterestTaken:             "InterestTaken",
	EventTypeWithdrawalCommitted:       "WithdrawalCommitted",
	EventTypeWithdrawalUncommitted:     "WithdrawalUncommitted",
	EventTypeLiquidityRemoved:          "LiquidityRemoved",
	EventTypeCoverOpened:               "CoverOpened",
	EventTypeCoverUpdated:              "CoverUpdated",
	EventTypeClaimInitiated:            "ClaimInitiated",
	EventTypeEvidenceSubmitted:         "EvidenceSubmitted",
	EventTypeClaimDisputed:             "ClaimDisputed",
	EventTypeClaimRuled:                "ClaimRuled",
	EventTypeClaimOverruled:            "ClaimOverruled",
	EventTypeClaimAppealed:             "ClaimAppealed",
	EventTypeCompensationWithdrawn:     "CompensationWithdrawn",
	EventTypeProsecutorRewardWithdrawn: "ProsecutorRewardWithdrawn",
}

func (et EventType) String() string {
	if n, ok := names[et]; ok {
		return n
	}
	return "Unknown"
}

// ParseEventType maps a wire name back to its discriminator.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range names {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// New returns an empty event of the given type, ready to be decoded into.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypePoolCreated:
		return &PoolCreated{}, nil
	case EventTypePoolFormulaUpdated:
		return &PoolFormulaUpdated{}, nil
	case EventTypePoolPauseSet:
		return &PoolPauseSet{}, nil
	case EventTypeCompatibilityUpdated:
		return &CompatibilityUpdated{}, nil
	case EventTypeStrategyIndexUpdated:
		return &StrategyIndexUpdated{}, nil
	case EventTypePositionOpened:
		return &PositionOpened{}, nil
	case EventTypeLiquidityAdded:
		return &LiquidityAdded{}, nil
	case EventTypeInterestTaken:
		return &InterestTaken{}, nil
	case EventTypeWithdrawalCommitted:
		return &WithdrawalCommitted{}, nil
	case EventTypeWithdrawalUncommitted:
		return &WithdrawalUncommitted{}, nil
	case EventTypeLiquidityRemoved:
		return &LiquidityRemoved{}, nil
	case EventTypeCoverOpened:
		return &CoverOpened{}, nil
	case EventTypeCoverUpdated:
		return &CoverUpdated{}, nil
	case EventTypeClaimInitiated:
		return &ClaimInitiated{}, nil
	case EventTypeEvidenceSubmitted:
		return &EvidenceSubmitted{}, nil
	case EventTypeClaimDisputed:
		return &ClaimDisputed{}, nil
	case EventTypeClaimRuled:
		return &ClaimRuled{}, nil
	case EventTypeClaimOverruled:
		return &ClaimOverruled{}, nil
	case EventTypeClaimAppealed:
		return &ClaimAppealed{}, nil
	case EventTypeCompensationWithdrawn:
		return &CompensationWithdrawn{}, nil
	case EventTypeProsecutorRewardWithdrawn:
		return &ProsecutorRewardWithdrawn{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
}

// Encode serializes an event for the event log.
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// Decode rebuilds an event from its log payload, used on replay.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
