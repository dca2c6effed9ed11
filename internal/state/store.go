package state

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

// Store is the arena holding every pool, position, cover and claim. It is
// only mutated through Update, which gives the operation a copy-on-write
// transaction and commits all touched records or none.
type Store struct {
	mu sync.Mutex

	params             ProtocolParams
	pools              map[PoolID]*Pool
	positions          map[uuid.UUID]*Position
	covers             map[uuid.UUID]*Cover
	claims             map[uuid.UUID]*Claim
	disputes           map[uint64]uuid.UUID
	compensations      map[CompensationID]*Compensation
	nextCompensationID CompensationID
	strategies         map[StrategyID]fpmath.Uint
	compat             *CompatibilityGraph
}

func NewStore(params ProtocolParams) *Store {
	return &Store{
		params:        params,
		pools:         make(map[PoolID]*Pool),
		positions:     make(map[uuid.UUID]*Position),
		covers:        make(map[uuid.UUID]*Cover),
		claims:        make(map[uuid.UUID]*Claim),
		disputes:      make(map[uint64]uuid.UUID),
		compensations: make(map[CompensationID]*Compensation),
		strategies:    make(map[StrategyID]fpmath.Uint),
		compat:        EmptyCompatibilityGraph(),

		nextCompensationID: 1,
	}
}

// Update runs fn against a fresh transaction. On error, or on an arithmetic
// or invariant fault inside fn, every change is discarded and the fault is
// returned wrapping ErrInvariant.
func (s *Store) Update(fn func(tx *Txn) error) (cs *ChangeSet, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			cs, err = nil, faultError(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return nil, err
	}
	return tx.commit(), nil
}

// invariantFault is raised by lookups that an earlier check guarantees. It
// means the store is inconsistent, not that the caller erred.
type invariantFault struct{ err error }

func fault(format string, args ...any) {
	panic(invariantFault{fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...)})
}

// faultError converts a recovered arithmetic or invariant fault into an
// error wrapping ErrInvariant. Anything else is re-raised.
func faultError(r any) error {
	switch f := r.(type) {
	case *fpmath.ArithmeticError:
		return fmt.Errorf("%w: %w", ErrInvariant, f)
	case invariantFault:
		return f.err
	}
	panic(r)
}

// View runs fn against a transaction that is always discarded. Used for
// read-only previews that still need pools caught up to a timestamp.
func (s *Store) View(fn func(tx *Txn) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	defer func() {
		tx.rollback()
		if r := recover(); r != nil {
			err = faultError(r)
		}
	}()
	return fn(tx)
}

func (s *Store) Params() ProtocolParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// PoolIDs returns all pool ids in ascending order.
func (s *Store) PoolIDs() []PoolID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Collect(maps.Keys(s.pools))
	slices.Sort(ids)
	return ids
}

// Txn is a unit of work over the store. Records are cloned on first access;
// the tick indexes, shared with the committed pools, are protected by an undo
// log instead.
type Txn struct {
	store *Store

	pools              map[PoolID]*Pool
	positions          map[uuid.UUID]*Position
	deletedPositions   map[uuid.UUID]struct{}
	covers             map[uuid.UUID]*Cover
	claims             map[uuid.UUID]*Claim
	disputes           map[uint64]uuid.UUID
	compensations      map[CompensationID]*Compensation
	nextCompensationID CompensationID
	strategies         map[StrategyID]fpmath.Uint
	compat             *CompatibilityGraph
	params             *ProtocolParams

	effects []Effect
	undo    []func()
}

func (s *Store) begin() *Txn {
	return &Txn{
		store:              s,
		pools:              make(map[PoolID]*Pool),
		positions:          make(map[uuid.UUID]*Position),
		deletedPositions:   make(map[uuid.UUID]struct{}),
		covers:             make(map[uuid.UUID]*Cover),
		claims:             make(map[uuid.UUID]*Claim),
		disputes:           make(map[uint64]uuid.UUID),
		compensations:      make(map[CompensationID]*Compensation),
		nextCompensationID: s.nextCompensationID,
		strategies:         make(map[StrategyID]fpmath.Uint),
	}
}

func (tx *Txn) push(f func()) { tx.undo = append(tx.undo, f) }

func (tx *Txn) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *Txn) commit() *ChangeSet {
	s := tx.store
	cs := &ChangeSet{Effects: tx.effects}

	for _, id := range sortedKeys(tx.pools) {
		s.pools[id] = tx.pools[id]
		cs.Pools = append(cs.Pools, tx.pools[id])
	}
	for _, id := range sortedUUIDs(tx.positions) {
		if _, gone := tx.deletedPositions[id]; gone {
			continue
		}
		s.positions[id] = tx.positions[id]
		cs.Positions = append(cs.Positions, tx.positions[id])
	}
	for _, id := range sortedUUIDs(tx.deletedPositions) {
		delete(s.positions, id)
		cs.DeletedPositions = append(cs.DeletedPositions, id)
	}
	for _, id := range sortedUUIDs(tx.covers) {
		s.covers[id] = tx.covers[id]
		cs.Covers = append(cs.Covers, tx.covers[id])
	}
	for _, id := range sortedUUIDs(tx.claims) {
		s.claims[id] = tx.claims[id]
		cs.Claims = append(cs.Claims, tx.claims[id])
	}
	maps.Copy(s.disputes, tx.disputes)
	for _, id := range sortedKeys(tx.compensations) {
		s.compensations[id] = tx.compensations[id]
		cs.Compensations = append(cs.Compensations, tx.compensations[id])
	}
	s.nextCompensationID = tx.nextCompensationID
	if len(tx.strategies) > 0 {
		maps.Copy(s.strategies, tx.strategies)
		cs.Strategies = maps.Clone(tx.strategies)
	}
	if tx.compat != nil {
		s.compat = tx.compat
		cs.CompatibilityChanged = true
		cs.Compatibility = tx.compat.Table()
	}
	if tx.params != nil {
		s.params = *tx.params
		cs.ParamsChanged = true
		cs.Params = *tx.params
	}
	return cs
}

// ChangeSet lists the records a committed transaction wrote, in a stable
// order, plus the capital effects it produced.
type ChangeSet struct {
	Pools                []*Pool
	Positions            []*Position
	DeletedPositions     []uuid.UUID
	Covers               []*Cover
	Claims               []*Claim
	Compensations        []*Compensation
	Strategies           map[StrategyID]fpmath.Uint
	CompatibilityChanged bool
	Compatibility        map[PoolID][]PoolID // full table, set when CompatibilityChanged
	ParamsChanged        bool
	Params               ProtocolParams // set when ParamsChanged
	Effects              []Effect
}

// --- record access ---

func (tx *Txn) Params() ProtocolParams {
	if tx.params != nil {
		return *tx.params
	}
	return tx.store.params
}

func (tx *Txn) SetParams(p ProtocolParams) error {
	if err := ValidateProtocolParams(p); err != nil {
		return err
	}
	tx.params = &p
	return nil
}

func (tx *Txn) Pool(id PoolID) (*Pool, error) {
	if p, ok := tx.pools[id]; ok {
		return p, nil
	}
	orig, ok := tx.store.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	p := orig.clone()
	tx.pools[id] = p
	return p, nil
}

func (tx *Txn) hasPool(id PoolID) bool {
	if _, ok := tx.pools[id]; ok {
		return true
	}
	_, ok := tx.store.pools[id]
	return ok
}

// mustPool loads a pool that an earlier check or an overlap entry guarantees.
func (tx *Txn) mustPool(id PoolID) *Pool {
	p, err := tx.Pool(id)
	if err != nil {
		fault("%w", err)
	}
	return p
}

func (tx *Txn) Position(id uuid.UUID) (*Position, error) {
	if _, gone := tx.deletedPositions[id]; gone {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if p, ok := tx.positions[id]; ok {
		return p, nil
	}
	orig, ok := tx.store.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	p := orig.clone()
	tx.positions[id] = p
	return p, nil
}

func (tx *Txn) hasPosition(id uuid.UUID) bool {
	if _, ok := tx.positions[id]; ok {
		return true
	}
	_, ok := tx.store.positions[id]
	return ok
}

func (tx *Txn) deletePosition(id uuid.UUID) {
	tx.deletedPositions[id] = struct{}{}
}

func (tx *Txn) Cover(id uuid.UUID) (*Cover, error) {
	if c, ok := tx.covers[id]; ok {
		return c, nil
	}
	orig, ok := tx.store.covers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCoverNotFound, id)
	}
	c := orig.clone()
	tx.covers[id] = c
	return c, nil
}

func (tx *Txn) hasCover(id uuid.UUID) bool {
	if _, ok := tx.covers[id]; ok {
		return true
	}
	_, ok := tx.store.covers[id]
	return ok
}

func (tx *Txn) Claim(id uuid.UUID) (*Claim, error) {
	if c, ok := tx.claims[id]; ok {
		return c, nil
	}
	orig, ok := tx.store.claims[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, id)
	}
	c := orig.clone()
	tx.claims[id] = c
	return c, nil
}

func (tx *Txn) hasClaim(id uuid.UUID) bool {
	if _, ok := tx.claims[id]; ok {
		return true
	}
	_, ok := tx.store.claims[id]
	return ok
}

// ClaimByDispute resolves the claim an arbitration dispute id belongs to.
func (tx *Txn) ClaimByDispute(disputeID uint64) (*Claim, error) {
	id, ok := tx.disputes[disputeID]
	if !ok {
		id, ok = tx.store.disputes[disputeID]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDisputeNotFound, disputeID)
	}
	return tx.Claim(id)
}

func (tx *Txn) disputeUsed(disputeID uint64) bool {
	if _, ok := tx.disputes[disputeID]; ok {
		return true
	}
	_, ok := tx.store.disputes[disputeID]
	return ok
}

// compensation returns a compensation record. They are immutable once
// written, so no copy is taken.
func (tx *Txn) compensation(id CompensationID) *Compensation {
	if c, ok := tx.compensations[id]; ok {
		return c
	}
	c, ok := tx.store.compensations[id]
	if !ok {
		fault("compensation %d missing", id)
	}
	return c
}

func (tx *Txn) Compatibility() *CompatibilityGraph {
	if tx.compat != nil {
		return tx.compat
	}
	return tx.store.compat
}

func (tx *Txn) emit(e Effect) {
	if e.Amount.IsZero() {
		return
	}
	tx.effects = append(tx.effects, e)
}

// Effects returns the effects produced so far in this transaction.
func (tx *Txn) Effects() []Effect { return tx.effects }

// refreshPool brings a pool to now and settles covers that expired on the
// way: each is marked inactive and its unconsumed escrow is booked as earned.
func (tx *Txn) refreshPool(p *Pool, now uint64) error {
	if now < p.Slot0.LastUpdateTimestamp {
		return fmt.Errorf("%w: pool %d at %d, got %d", ErrStaleTimestamp, p.ID, p.Slot0.LastUpdateTimestamp, now)
	}
	for _, coverID := range p.refresh(now, tx) {
		c, err := tx.Cover(coverID)
		if err != nil {
			return fmt.Errorf("%w: expired %v", ErrInvariant, err)
		}
		c.expire()
		tx.emit(Effect{Kind: EffectPremiumsConsumed, Owner: c.Owner, Ref: c.ID, PoolID: c.PoolID, Amount: c.PremiumsLeft})
		c.PremiumsLeft = fpmath.Zero
	}
	return nil
}

func sortedKeys[K ~uint64 | ~uint32, V any](m map[K]V) []K {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}

func sortedUUIDs[V any](m map[uuid.UUID]V) []uuid.UUID {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return keys
}
