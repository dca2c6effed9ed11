package state

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ConfigIssue is one problem found while validating configuration.
type ConfigIssue struct {
	PoolID PoolID
	Other  PoolID
	Reason string
}

func (i ConfigIssue) String() string {
	return fmt.Sprintf("pool %d / %d: %s", i.PoolID, i.Other, i.Reason)
}

// ConfigError reports every issue found, not just the first.
type ConfigError struct {
	Issues []ConfigIssue
}

func (e *ConfigError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "invalid compatibility table: " + strings.Join(parts, "; ")
}

// CompatibilityGraph records which pools may not share a position. A pair
// absent from the table is compatible. Graphs are immutable; changes build a
// new graph that is validated before it replaces the old one.
type CompatibilityGraph struct {
	incompatible map[PoolID]map[PoolID]struct{}
}

func EmptyCompatibilityGraph() *CompatibilityGraph {
	return &CompatibilityGraph{incompatible: make(map[PoolID]map[PoolID]struct{})}
}

// NewCompatibilityGraph validates a table of pool → incompatible pools
// against the known pool ids. The table must be symmetric and free of self
// references.
func NewCompatibilityGraph(table map[PoolID][]PoolID, known func(PoolID) bool) (*CompatibilityGraph, error) {
	var issues []ConfigIssue
	g := EmptyCompatibilityGraph()

	for _, id := range sortedKeys(table) {
		if known != nil && !known(id) {
			issues = append(issues, ConfigIssue{PoolID: id, Other: id, Reason: "unknown pool"})
		}
		set := make(map[PoolID]struct{}, len(table[id]))
		for _, other := range table[id] {
			switch {
			case other == id:
				issues = append(issues, ConfigIssue{PoolID: id, Other: other, Reason: "pool listed as incompatible with itself"})
				continue
			case known != nil && !known(other):
				issues = append(issues, ConfigIssue{PoolID: id, Other: other, Reason: "unknown pool"})
			case !slices.Contains(table[other], id):
				issues = append(issues, ConfigIssue{PoolID: id, Other: other, Reason: "missing reverse entry"})
			}
			set[other] = struct{}{}
		}
		if len(set) > 0 {
			g.incompatible[id] = set
		}
	}

	if len(issues) > 0 {
		return nil, &ConfigError{Issues: issues}
	}
	return g, nil
}

func (g *CompatibilityGraph) Compatible(a, b PoolID) bool {
	_, blocked := g.incompatible[a][b]
	return !blocked
}

// ValidateSet checks that ids has no duplicates and is pairwise compatible.
func (g *CompatibilityGraph) ValidateSet(ids []PoolID) error {
	if len(ids) == 0 {
		return ErrNoPools
	}
	seen := make(map[PoolID]struct{}, len(ids))
	for i, a := range ids {
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicatePool, a)
		}
		seen[a] = struct{}{}
		for _, b := range ids[i+1:] {
			if !g.Compatible(a, b) {
				return fmt.Errorf("%w: %d and %d", ErrIncompatiblePools, a, b)
			}
		}
	}
	return nil
}

// Table returns the graph as pool → sorted incompatible pools.
func (g *CompatibilityGraph) Table() map[PoolID][]PoolID {
	out := make(map[PoolID][]PoolID, len(g.incompatible))
	for id, set := range g.incompatible {
		others := slices.Collect(maps.Keys(set))
		slices.Sort(others)
		out[id] = others
	}
	return out
}

// Merge replaces the lists of the pools named in entries and validates the
// result as a whole. Reverse entries are never inferred: an update that has
// a list b while b, after the update, does not list a is rejected. Clearing
// a pool therefore has to name its former partners too.
func (g *CompatibilityGraph) Merge(entries map[PoolID][]PoolID, known func(PoolID) bool) (*CompatibilityGraph, error) {
	table := g.Table()
	for _, id := range sortedKeys(entries) {
		if len(entries[id]) == 0 {
			delete(table, id)
			continue
		}
		table[id] = slices.Clone(entries[id])
	}
	return NewCompatibilityGraph(table, known)
}

// linkEntries builds the symmetric update that marks id incompatible with
// each of others on top of the current graph.
func (g *CompatibilityGraph) linkEntries(id PoolID, others []PoolID) map[PoolID][]PoolID {
	table := g.Table()
	entries := map[PoolID][]PoolID{id: slices.Clone(others)}
	for _, other := range others {
		if other == id {
			continue
		}
		list, ok := entries[other]
		if !ok {
			list = table[other]
		}
		if !slices.Contains(list, id) {
			list = append(list, id)
		}
		entries[other] = list
	}
	return entries
}

// UpdateCompatibility merges entries into the live graph and swaps it in
// only when the result validates.
func (tx *Txn) UpdateCompatibility(entries map[PoolID][]PoolID) error {
	g, err := tx.Compatibility().Merge(entries, tx.hasPool)
	if err != nil {
		return err
	}
	tx.compat = g
	return nil
}
