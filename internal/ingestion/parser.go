package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"CoverLedger/internal/event"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingOperation = errors.New("operation_id is required")
	ErrMissingTimestamp = errors.New("timestamp is required")
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type name) into a
// typed event.Event. Amounts are integer strings in token units; pool
// formulas and rulings have friendlier wire forms handled here.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	et, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	var (
		evt event.Event
		err error
	)
	switch et {
	case event.EventTypePoolCreated:
		evt, err = parsePoolCreated(raw.Data)
	case event.EventTypePoolFormulaUpdated:
		evt, err = parsePoolFormulaUpdated(raw.Data)
	case event.EventTypeClaimRuled:
		evt, err = parseClaimRuled(raw.Data)
	default:
		evt, err = event.Decode(et, raw.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	if err := validateMeta(evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	return evt, nil
}

// EventTypeFromSubject extracts the event type name from a subject such as
// cover.claim.ClaimInitiated.
func EventTypeFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

func validateMeta(evt event.Event) error {
	if evt.IdempotencyKey() == uuid.Nil.String() {
		return ErrMissingOperation
	}
	if evt.Now() == 0 {
		return ErrMissingTimestamp
	}
	if evt.SourceSequence() < 0 {
		return fmt.Errorf("negative source_sequence %d", evt.SourceSequence())
	}
	return nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

// formulaJSON carries rates as percent strings, e.g. "80" or "4.125".
type formulaJSON struct {
	UOptimal string `json:"u_optimal"`
	R0       string `json:"r0"`
	RSlope1  string `json:"r_slope1"`
	RSlope2  string `json:"r_slope2"`
}

func (j formulaJSON) toFormula() (fpmath.Formula, error) {
	var f fpmath.Formula
	fields := []struct {
		name string
		raw  string
		dst  *fpmath.Uint
	}{
		{"u_optimal", j.UOptimal, &f.UOptimal},
		{"r0", j.R0, &f.R0},
		{"r_slope1", j.RSlope1, &f.RSlope1},
		{"r_slope2", j.RSlope2, &f.RSlope2},
	}
	for _, fld := range fields {
		if fld.raw == "" {
			return fpmath.Formula{}, fmt.Errorf("formula.%s is required", fld.name)
		}
		r, err := fpmath.ParseRay(fld.raw)
		if err != nil {
			return fpmath.Formula{}, fmt.Errorf("formula.%s: %w", fld.name, err)
		}
		*fld.dst = r
	}
	return f, nil
}

type poolCreatedJSON struct {
	event.Meta
	PoolID       state.PoolID     `json:"pool_id"`
	Formula      formulaJSON      `json:"formula"`
	StrategyID   state.StrategyID `json:"strategy_id"`
	Incompatible []state.PoolID   `json:"incompatible"`
}

func parsePoolCreated(data []byte) (*event.PoolCreated, error) {
	var j poolCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	f, err := j.Formula.toFormula()
	if err != nil {
		return nil, err
	}
	return &event.PoolCreated{
		Meta:         j.Meta,
		PoolID:       j.PoolID,
		Formula:      f,
		StrategyID:   j.StrategyID,
		Incompatible: j.Incompatible,
	}, nil
}

type poolFormulaUpdatedJSON struct {
	event.Meta
	PoolID  state.PoolID `json:"pool_id"`
	Formula formulaJSON  `json:"formula"`
}

func parsePoolFormulaUpdated(data []byte) (*event.PoolFormulaUpdated, error) {
	var j poolFormulaUpdatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	f, err := j.Formula.toFormula()
	if err != nil {
		return nil, err
	}
	return &event.PoolFormulaUpdated{Meta: j.Meta, PoolID: j.PoolID, Formula: f}, nil
}

type claimRuledJSON struct {
	event.Meta
	DisputeID uint64 `json:"dispute_id"`
	Ruling    string `json:"ruling"`
}

var rulings = map[string]state.Ruling{
	"refused_to_arbitrate": state.RulingRefusedToArbitrate,
	"pay_claimant":         state.RulingPayClaimant,
	"reject_claim":         state.RulingRejectClaim,
}

func parseClaimRuled(data []byte) (*event.ClaimRuled, error) {
	var j claimRuledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	r, ok := rulings[j.Ruling]
	if !ok {
		return nil, fmt.Errorf("unknown ruling %q", j.Ruling)
	}
	return &event.ClaimRuled{Meta: j.Meta, DisputeID: j.DisputeID, Ruling: r}, nil
}
