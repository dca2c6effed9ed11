package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"

	"CoverLedger/internal/event"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// genesisNamespace derives stable operation ids for genesis events, so a
// repeated bootstrap is caught by idempotency.
var genesisNamespace = uuid.MustParse("6f1c3b52-8f0e-4c1d-9a57-0d2b6c7e4a10")

// Genesis is the protocol bootstrap file.
//
//	timestamp: 1700000000
//	params:
//	  withdraw_delay: 1209600
//	  claim_collateral: "10"   # asset units
//	pools:
//	  - id: 1
//	    strategy_id: 0
//	    formula: {u_optimal: "80", r0: "1", r_slope1: "5", r_slope2: "20"}
//	    incompatible: [2]
//	strategies:
//	  - id: 1
//	    reward_index: "1.02"
type Genesis struct {
	Timestamp  uint64         `yaml:"timestamp"`
	Params     GenesisParams  `yaml:"params"`
	Pools      []GenesisPool  `yaml:"pools"`
	Strategies []GenesisIndex `yaml:"strategies"`
}

// GenesisParams overrides protocol defaults. Unset fields keep the default.
type GenesisParams struct {
	state.ProtocolParams `yaml:",inline"`
	ClaimCollateral      string `yaml:"claim_collateral"`
}

type GenesisPool struct {
	ID           state.PoolID     `yaml:"id"`
	StrategyID   state.StrategyID `yaml:"strategy_id"`
	Formula      GenesisFormula   `yaml:"formula"`
	Incompatible []state.PoolID   `yaml:"incompatible"`
}

// GenesisFormula holds the curve as percent strings, e.g. "4.125".
type GenesisFormula struct {
	UOptimal string `yaml:"u_optimal"`
	R0       string `yaml:"r0"`
	RSlope1  string `yaml:"r_slope1"`
	RSlope2  string `yaml:"r_slope2"`
}

type GenesisIndex struct {
	ID          state.StrategyID `yaml:"id"`
	RewardIndex string           `yaml:"reward_index"`
}

// LoadGenesis reads and validates a genesis file.
func LoadGenesis(path string, decimals uint8) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data, decimals)
}

// ParseGenesis decodes YAML over the protocol defaults and validates it.
func ParseGenesis(data []byte, decimals uint8) (*Genesis, error) {
	g := &Genesis{Params: GenesisParams{ProtocolParams: state.DefaultProtocolParams}}
	if err := yaml.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.validate(decimals); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return g, nil
}

func (g *Genesis) validate(decimals uint8) error {
	var errs []error
	if g.Timestamp == 0 {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if _, err := g.ProtocolParams(decimals); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[state.PoolID]bool, len(g.Pools))
	table := make(map[state.PoolID][]state.PoolID)
	for _, p := range g.Pools {
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("pool %d: listed more than once", p.ID))
		}
		seen[p.ID] = true
		if _, err := p.Formula.parse(); err != nil {
			errs = append(errs, fmt.Errorf("pool %d: %w", p.ID, err))
		}
		if len(p.Incompatible) > 0 {
			table[p.ID] = p.Incompatible
		}
	}
	if _, err := state.NewCompatibilityGraph(table, func(id state.PoolID) bool { return seen[id] }); err != nil {
		errs = append(errs, err)
	}

	for _, s := range g.Strategies {
		if _, err := fpmath.ParseRay(s.RewardIndex); err != nil {
			errs = append(errs, fmt.Errorf("strategy %d: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ProtocolParams resolves the parameters, scaling the claim collateral from
// asset units to base units.
func (g *Genesis) ProtocolParams(decimals uint8) (state.ProtocolParams, error) {
	p := g.Params.ProtocolParams
	if g.Params.ClaimCollateral != "" {
		d, err := decimal.NewFromString(g.Params.ClaimCollateral)
		if err != nil {
			return p, fmt.Errorf("claim_collateral: %w", err)
		}
		raw := d.Shift(int32(decimals))
		if raw.IsNegative() || !raw.IsInteger() {
			return p, fmt.Errorf("claim_collateral: %s is not a whole number of base units", d)
		}
		v, err := fpmath.FromBig(raw.BigInt())
		if err != nil {
			return p, fmt.Errorf("claim_collateral: %w", err)
		}
		p.ClaimCollateral = v
	}
	if err := state.ValidateProtocolParams(p); err != nil {
		return p, err
	}
	return p, nil
}

func (f GenesisFormula) parse() (fpmath.Formula, error) {
	var out fpmath.Formula
	for _, fld := range []struct {
		name string
		raw  string
		dst  *fpmath.Uint
	}{
		{"u_optimal", f.UOptimal, &out.UOptimal},
		{"r0", f.R0, &out.R0},
		{"r_slope1", f.RSlope1, &out.RSlope1},
		{"r_slope2", f.RSlope2, &out.RSlope2},
	} {
		if fld.raw == "" {
			return out, fmt.Errorf("formula.%s is required", fld.name)
		}
		r, err := fpmath.ParseRay(fld.raw)
		if err != nil {
			return out, fmt.Errorf("formula.%s: %w", fld.name, err)
		}
		*fld.dst = r
	}
	return out, out.Validate()
}

// Events renders the genesis as the opening events of the log: one
// PoolCreated per pool, then a single CompatibilityUpdated, then strategy
// indexes. Pool and strategy streams start at source sequence 0, so
// upstream producers continue numbering after these.
func (g *Genesis) Events() ([]event.Event, error) {
	meta := func(kind string, id uint64, seq int64) event.Meta {
		return event.Meta{
			OperationID: uuid.NewSHA1(genesisNamespace, []byte(kind+":"+strconv.FormatUint(id, 10))),
			Sequence:    seq,
			Timestamp:   g.Timestamp,
		}
	}
	var out []event.Event
	var poolSeq int64
	table := make(map[state.PoolID][]state.PoolID)

	for _, p := range g.Pools {
		f, err := p.Formula.parse()
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", p.ID, err)
		}
		out = append(out, &event.PoolCreated{
			Meta:       meta("pool", uint64(p.ID), poolSeq),
			PoolID:     p.ID,
			Formula:    f,
			StrategyID: p.StrategyID,
		})
		poolSeq++
		if len(p.Incompatible) > 0 {
			table[p.ID] = slices.Clone(p.Incompatible)
		}
	}
	if len(table) > 0 {
		out = append(out, &event.CompatibilityUpdated{
			Meta:    meta("compatibility", 0, poolSeq),
			Entries: table,
		})
	}

	for i, s := range g.Strategies {
		idx, err := fpmath.ParseRay(s.RewardIndex)
		if err != nil {
			return nil, fmt.Errorf("strategy %d: %w", s.ID, err)
		}
		out = append(out, &event.StrategyIndexUpdated{
			Meta:        meta("strategy", uint64(s.ID), int64(i)),
			StrategyID:  s.ID,
			RewardIndex: idx,
		})
	}
	return out, nil
}
