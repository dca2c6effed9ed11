package state

import (
	"encoding/json"
	"slices"
	"sort"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

// TickInfo aggregates the covers whose premiums run out at one tick.
type TickInfo struct {
	Tick     uint64      `json:"tick"`
	CoverIDs []uuid.UUID `json:"cover_ids"`
	Capital  fpmath.Uint `json:"capital"`
}

func (ti *TickInfo) clone() *TickInfo {
	c := *ti
	c.CoverIDs = slices.Clone(ti.CoverIDs)
	return &c
}

// TickIndex maps expiry ticks to the capital leaving coverage there, with a
// sorted list of initialised ticks so the next expiry is found in O(log n).
// It is shared between a pool and its working copies; mutations register an
// inverse with the transaction so a discarded transaction leaves it intact.
type TickIndex struct {
	entries map[uint64]*TickInfo
	order   []uint64
}

type undoLog interface {
	push(func())
}

func NewTickIndex() *TickIndex {
	return &TickIndex{entries: make(map[uint64]*TickInfo)}
}

func (ti *TickIndex) Len() int { return len(ti.order) }

func (ti *TickIndex) Get(tick uint64) (*TickInfo, bool) {
	info, ok := ti.entries[tick]
	return info, ok
}

// Next returns the smallest initialised tick strictly greater than after.
func (ti *TickIndex) Next(after uint64) (uint64, bool) {
	i := sort.Search(len(ti.order), func(i int) bool { return ti.order[i] > after })
	if i == len(ti.order) {
		return 0, false
	}
	return ti.order[i], true
}

// saveFor records how to restore tick to its present contents.
func (ti *TickIndex) saveFor(tick uint64, log undoLog) {
	if log == nil {
		return
	}
	prev, existed := ti.entries[tick]
	if existed {
		prev = prev.clone()
	}
	log.push(func() {
		if existed {
			ti.entries[tick] = prev
			ti.insertOrder(tick)
		} else {
			delete(ti.entries, tick)
			ti.removeOrder(tick)
		}
	})
}

func (ti *TickIndex) add(tick uint64, coverID uuid.UUID, capital fpmath.Uint, log undoLog) {
	ti.saveFor(tick, log)
	info, ok := ti.entries[tick]
	if !ok {
		info = &TickInfo{Tick: tick}
		ti.entries[tick] = info
		ti.insertOrder(tick)
	}
	info.CoverIDs = append(info.CoverIDs, coverID)
	info.Capital = info.Capital.Add(capital)
}

// remove takes one cover out of its expiry tick. It reports false when the
// tick no longer lists the cover (already crossed).
func (ti *TickIndex) remove(tick uint64, coverID uuid.UUID, capital fpmath.Uint, log undoLog) bool {
	info, ok := ti.entries[tick]
	if !ok {
		return false
	}
	idx := slices.Index(info.CoverIDs, coverID)
	if idx < 0 {
		return false
	}
	ti.saveFor(tick, log)
	info.CoverIDs = slices.Delete(info.CoverIDs, idx, idx+1)
	info.Capital = info.Capital.Sub(capital)
	if len(info.CoverIDs) == 0 {
		delete(ti.entries, tick)
		ti.removeOrder(tick)
	}
	return true
}

// pop removes a crossed tick and returns what expired there.
func (ti *TickIndex) pop(tick uint64, log undoLog) *TickInfo {
	info, ok := ti.entries[tick]
	if !ok {
		return nil
	}
	ti.saveFor(tick, log)
	delete(ti.entries, tick)
	ti.removeOrder(tick)
	return info.clone()
}

func (ti *TickIndex) insertOrder(tick uint64) {
	i, found := slices.BinarySearch(ti.order, tick)
	if !found {
		ti.order = slices.Insert(ti.order, i, tick)
	}
}

func (ti *TickIndex) removeOrder(tick uint64) {
	if i, found := slices.BinarySearch(ti.order, tick); found {
		ti.order = slices.Delete(ti.order, i, i+1)
	}
}

// Entries returns the initialised ticks in ascending order.
func (ti *TickIndex) Entries() []TickInfo {
	out := make([]TickInfo, 0, len(ti.order))
	for _, t := range ti.order {
		out = append(out, *ti.entries[t].clone())
	}
	return out
}

func (ti *TickIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(ti.Entries())
}

func (ti *TickIndex) UnmarshalJSON(data []byte) error {
	var entries []TickInfo
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	ti.entries = make(map[uint64]*TickInfo, len(entries))
	ti.order = ti.order[:0]
	for i := range entries {
		e := entries[i]
		ti.entries[e.Tick] = &e
		ti.insertOrder(e.Tick)
	}
	return nil
}

func (ti *TickIndex) clone() *TickIndex {
	c := &TickIndex{
		entries: make(map[uint64]*TickInfo, len(ti.entries)),
		order:   slices.Clone(ti.order),
	}
	for t, info := range ti.entries {
		c.entries[t] = info.clone()
	}
	return c
}
