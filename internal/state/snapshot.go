package state

import (
	"fmt"
	"maps"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

// Snapshot is a deep copy of the whole store, safe to serialise while the
// store keeps running.
type Snapshot struct {
	Params             ProtocolParams             `json:"params"`
	Pools              []*Pool                    `json:"pools"`
	Positions          []*Position                `json:"positions"`
	Covers             []*Cover                   `json:"covers"`
	Claims             []*Claim                   `json:"claims"`
	Disputes           map[uint64]uuid.UUID       `json:"disputes"`
	Compensations      []*Compensation            `json:"compensations"`
	NextCompensationID CompensationID             `json:"next_compensation_id"`
	Strategies         map[StrategyID]fpmath.Uint `json:"strategies"`
	Compatibility      map[PoolID][]PoolID        `json:"compatibility"`
}

func (s *Store) Export() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Params:             s.params,
		Disputes:           maps.Clone(s.disputes),
		NextCompensationID: s.nextCompensationID,
		Strategies:         maps.Clone(s.strategies),
		Compatibility:      s.compat.Table(),
	}
	for _, id := range sortedKeys(s.pools) {
		p := s.pools[id].clone()
		p.Ticks = p.Ticks.clone()
		snap.Pools = append(snap.Pools, p)
	}
	for _, id := range sortedUUIDs(s.positions) {
		snap.Positions = append(snap.Positions, s.positions[id].clone())
	}
	for _, id := range sortedUUIDs(s.covers) {
		snap.Covers = append(snap.Covers, s.covers[id].clone())
	}
	for _, id := range sortedUUIDs(s.claims) {
		snap.Claims = append(snap.Claims, s.claims[id].clone())
	}
	for _, id := range sortedKeys(s.compensations) {
		c := *s.compensations[id]
		c.LiquidityIndexBeforeClaim = maps.Clone(c.LiquidityIndexBeforeClaim)
		snap.Compensations = append(snap.Compensations, &c)
	}
	return snap
}

// Import replaces the store's contents with a snapshot. The compatibility
// table is validated against the snapshot's pools.
func (s *Store) Import(snap *Snapshot) error {
	if err := ValidateProtocolParams(snap.Params); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	pools := make(map[PoolID]*Pool, len(snap.Pools))
	for _, p := range snap.Pools {
		if p.Ticks == nil {
			p.Ticks = NewTickIndex()
		}
		if p.Overlaps == nil {
			p.Overlaps = map[PoolID]fpmath.Uint{p.ID: fpmath.Zero}
		}
		pools[p.ID] = p
	}
	compat, err := NewCompatibilityGraph(snap.Compatibility, func(id PoolID) bool {
		_, ok := pools[id]
		return ok
	})
	if err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = snap.Params
	s.pools = pools
	s.positions = make(map[uuid.UUID]*Position, len(snap.Positions))
	for _, p := range snap.Positions {
		if p.CoverRewards == nil {
			p.CoverRewards = make(map[PoolID]fpmath.Uint)
		}
		if p.LiquidityIndexes == nil {
			p.LiquidityIndexes = make(map[PoolID]fpmath.Uint)
		}
		s.positions[p.ID] = p
	}
	s.covers = make(map[uuid.UUID]*Cover, len(snap.Covers))
	for _, c := range snap.Covers {
		s.covers[c.ID] = c
	}
	s.claims = make(map[uuid.UUID]*Claim, len(snap.Claims))
	for _, c := range snap.Claims {
		s.claims[c.ID] = c
	}
	s.disputes = maps.Clone(snap.Disputes)
	if s.disputes == nil {
		s.disputes = make(map[uint64]uuid.UUID)
	}
	s.compensations = make(map[CompensationID]*Compensation, len(snap.Compensations))
	for _, c := range snap.Compensations {
		s.compensations[c.ID] = c
	}
	s.nextCompensationID = snap.NextCompensationID
	s.strategies = maps.Clone(snap.Strategies)
	if s.strategies == nil {
		s.strategies = make(map[StrategyID]fpmath.Uint)
	}
	s.compat = compat
	return nil
}
