package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/state"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrRejected marks an operation the engine refused on a precondition. The
// event is consumed: its source sequence advances and it is never retried.
var ErrRejected = errors.New("operation rejected")

// RejectedError carries the refused event and the engine's reason.
type RejectedError struct {
	EventType      event.EventType
	IdempotencyKey string
	Err            error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s %s rejected: %v", e.EventType, e.IdempotencyKey, e.Err)
}

func (e *RejectedError) Unwrap() []error { return []error{ErrRejected, e.Err} }

// DeterministicCore is the single-threaded event processor. Every operation
// flows through ProcessEvent; the store is never written from anywhere else.
type DeterministicCore struct {
	sequence          int64
	store             *state.Store
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need from one applied event.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	Changes    *state.ChangeSet
	StateDelta []byte
	// Balances holds the post-event balance of every account the batch touched.
	Balances []BalanceEntry
	// EmittedAt is wall-clock time of hand-off to persistence. Not hashed.
	EmittedAt time.Time
}

func NewDeterministicCore(
	store *state.Store,
	assetID ledger.AssetID,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	idempotency := NewIdempotencyChecker(1_000_000, dbChecker)
	idempotency.prom = metrics
	sequenceValidator := NewSequenceValidator()
	sequenceValidator.prom = metrics

	return &DeterministicCore{
		sequence:          startSequence,
		store:             store,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(assetID),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		idempotency:       idempotency,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		logger:            observability.NewLogger("core"),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// SetLogger replaces the component logger.
func (c *DeterministicCore) SetLogger(l zerolog.Logger) { c.logger = l }

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation per source stream
	stream := evt.Stream()
	sourceSequence := evt.SourceSequence()
	if err := c.sequenceValidator.ValidateSequence(stream, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		c.rejected(eventType, "sequence")
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.rejected(eventType, "duplicate")
		return nil
	}

	// Steps 3-5: engine, ledger, hash chain
	output, err := c.apply(evt)
	if err != nil {
		// Rejections are logged and chained too, so replay consumes the
		// same source sequences.
		rejection := c.chainRejection(evt, err)
		c.persist(rejection)
		c.project(rejection)
		c.idempotency.MarkProcessed(eventType, idempotencyKey)
		c.rejected(eventType, "precondition")
		if c.metrics != nil {
			c.metrics.RejectedOperations.WithLabelValues(eventType, rejectReason(err)).Inc()
		}
		return &RejectedError{EventType: evt.EventType(), IdempotencyKey: idempotencyKey, Err: err}
	}

	// Step 6: Emit outputs. Persistence blocks, projections drop when full
	// and resync from a core snapshot.
	c.persist(output)
	c.project(output)

	// Step 7: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.recordApplied(eventType, output.Changes, output.Batch, start)
	}
	return nil
}

// apply runs an event through the engine, books its effects and extends the
// hash chain. A returned error means nothing changed.
func (c *DeterministicCore) apply(evt event.Event) (CoreOutput, error) {
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	changes, err := c.store.Update(func(tx *state.Txn) error {
		return dispatchEvent(tx, evt)
	})
	if err != nil {
		if errors.Is(err, state.ErrInvariant) {
			c.logger.Error().Err(err).
				Str("event_type", eventType).
				Str("idempotency_key", idempotencyKey).
				Msg("invariant violation, transaction discarded")
		}
		return CoreOutput{}, err
	}

	batch, err := c.journalGen.Generate(idempotencyKey, c.sequence, int64(evt.Now()), changes.Effects)
	if err != nil {
		c.logger.Fatal().Err(err).Str("event_type", eventType).Msg("effects could not be journaled")
	}
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			c.logger.Fatal().Err(err).Str("event_type", eventType).Msg("unbalanced batch")
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			c.logger.Fatal().Err(err).Str("event_type", eventType).Msg("batch violates ledger invariants")
		}
	}

	hashStart := time.Now()
	stateDigest := c.computeStateDigest(idempotencyKey, changes, batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := event.Encode(evt)
	if err != nil {
		c.logger.Fatal().Err(err).Str("event_type", eventType).Msg("applied event cannot be encoded")
	}

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			Stream:         evt.Stream(),
			Timestamp:      evt.Now(),
			SourceSequence: evt.SourceSequence(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:      batch,
		Changes:    changes,
		StateDelta: stateDigest,
		Balances:   c.touchedBalances(batch),
	}
	c.sequence++
	return output, nil
}

// chainRejection records a refused event in the hash chain. Its digest is the
// key and the refusal message; state is untouched.
func (c *DeterministicCore) chainRejection(evt event.Event, cause error) CoreOutput {
	key := evt.IdempotencyKey()
	reason := cause.Error()
	digest := make([]byte, 0, len(key)+len(reason)+17)
	digest = appendField(digest, key)
	digest = append(digest, 0xff)
	digest = appendField(digest, reason)

	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	payload, err := event.Encode(evt)
	if err != nil {
		c.logger.Fatal().Err(err).Str("event_type", evt.EventType().String()).Msg("rejected event cannot be encoded")
	}

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: key,
			EventType:      evt.EventType(),
			Stream:         evt.Stream(),
			Timestamp:      evt.Now(),
			SourceSequence: evt.SourceSequence(),
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
			Rejection:      reason,
		},
		StateDelta: digest,
	}
	c.sequence++
	return output
}

// ReplayEvent re-applies a persisted event during recovery. Nothing is
// emitted; the recomputed hash must match the logged one.
func (c *DeterministicCore) ReplayEvent(env *event.EventEnvelope) error {
	if env.Sequence != c.sequence {
		return fmt.Errorf("replay: expected sequence %d, got %d", c.sequence, env.Sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay %d: %w", env.Sequence, err)
	}
	output, err := c.apply(evt)
	switch {
	case err != nil && env.Rejection == "":
		return fmt.Errorf("replay %d: logged event no longer applies: %w", env.Sequence, err)
	case err == nil && env.Rejection != "":
		return fmt.Errorf("replay %d: logged rejection now applies", env.Sequence)
	case err != nil:
		output = c.chainRejection(evt, err)
	}
	if output.Envelope.StateHash != env.StateHash {
		return fmt.Errorf("replay %d: state hash diverged from log", env.Sequence)
	}
	if next := evt.SourceSequence() + 1; next > c.sequenceValidator.GetExpectedSequence(evt.Stream()) {
		c.sequenceValidator.RestorePartition(evt.Stream(), next)
	}
	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// project never blocks. The projection worker notices the sequence gap a
// drop leaves and resyncs from a snapshot.
func (c *DeterministicCore) project(output CoreOutput) {
	if c.projectionChan == nil {
		return
	}
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}
}

// persist hands an output to the persistence worker, blocking when the
// channel is full.
func (c *DeterministicCore) persist(out CoreOutput) {
	if c.persistChan == nil {
		return
	}
	out.EmittedAt = time.Now()
	select {
	case c.persistChan <- out:
		return
	default:
	}
	if c.metrics != nil {
		c.metrics.PersistBackpressure.Inc()
	}
	c.persistChan <- out
}

func (c *DeterministicCore) rejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordApplied(eventType string, cs *state.ChangeSet, batch *ledger.Batch, start time.Time) {
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.DedupWindowSize.Set(float64(c.idempotency.Len()))

	if batch != nil {
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	for _, e := range cs.Effects {
		c.metrics.ProtocolEffects.WithLabelValues(e.Kind.String()).Inc()
		if e.Kind == state.EffectCompensationPaid {
			c.metrics.CompensationsPaid.WithLabelValues(strconv.FormatUint(uint64(e.PoolID), 10)).Inc()
		}
	}
	for _, cl := range cs.Claims {
		c.metrics.ClaimTransitions.WithLabelValues(cl.Status.String()).Inc()
	}
	for _, p := range cs.Pools {
		id := strconv.FormatUint(uint64(p.ID), 10)
		util, _ := fpmath.RayDecimal(p.UtilizationRate).Float64()
		rate, _ := fpmath.RayDecimal(p.PremiumRate).Float64()
		total, _ := fpmath.AmountDecimal(p.TotalLiquidity(), 0).Float64()
		covered, _ := fpmath.AmountDecimal(p.Slot0.CoveredCapital, 0).Float64()
		c.metrics.PoolUtilization.WithLabelValues(id).Set(util)
		c.metrics.PoolPremiumRate.WithLabelValues(id).Set(rate)
		c.metrics.PoolLiquidity.WithLabelValues(id, "total").Set(total)
		c.metrics.PoolLiquidity.WithLabelValues(id, "covered").Set(covered)
		c.metrics.PoolOngoingClaims.WithLabelValues(id).Set(float64(p.OngoingClaims))
	}
}

// computeStateDigest covers the event key, every record the event wrote and
// the balances of every account it touched.
func (c *DeterministicCore) computeStateDigest(key string, cs *state.ChangeSet, batch *ledger.Batch) []byte {
	digest := make([]byte, 0, 512)
	digest = appendField(digest, key)
	digest = append(digest, cs.Digest()...)

	if batch == nil {
		return digest
	}

	affected := make(map[ledger.AccountKey]struct{})
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = struct{}{}
		affected[j.CreditAccount] = struct{}{}
	}
	for _, k := range c.balanceTracker.Keys() {
		if _, ok := affected[k]; !ok {
			continue
		}
		digest = appendField(digest, k.AccountPath())
		digest = appendField(digest, c.balanceTracker.GetBalance(k).String())
	}
	return digest
}

// appendField writes s with a fixed-width length prefix.
func appendField(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

func (c *DeterministicCore) touchedBalances(batch *ledger.Batch) []BalanceEntry {
	if batch == nil {
		return nil
	}
	seen := make(map[ledger.AccountKey]struct{}, len(batch.Journals)*2)
	var out []BalanceEntry
	for _, j := range batch.Journals {
		for _, k := range [2]ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, BalanceEntry{Account: k, Balance: c.balanceTracker.GetBalance(k).String()})
		}
	}
	return out
}

// --- Snapshot Restore & Startup Methods ---

// BalanceEntry is one account balance in a snapshot.
type BalanceEntry struct {
	Account ledger.AccountKey `json:"account"`
	Balance string            `json:"balance"`
}

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64            `json:"sequence"`
	StateHash       [32]byte         `json:"state_hash"`
	Store           *state.Snapshot  `json:"store"`
	Balances        []BalanceEntry   `json:"balances"`
	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
// It must run on the core goroutine, between events.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	balances := make([]BalanceEntry, 0)
	for _, k := range c.balanceTracker.Keys() {
		balances = append(balances, BalanceEntry{Account: k, Balance: c.balanceTracker.GetBalance(k).String()})
	}
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Store:           c.store.Export(),
		Balances:        balances,
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.Recent(),
	}
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Events after snap.Sequence are then replayed from the log.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if err := c.store.Import(snap.Store); err != nil {
		return fmt.Errorf("restore store: %w", err)
	}

	balances, err := decodeBalances(snap.Balances)
	if err != nil {
		return err
	}
	c.balanceTracker.Restore(balances)

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)
	return nil
}

func decodeBalances(entries []BalanceEntry) (map[ledger.AccountKey]decimal.Decimal, error) {
	balances := make(map[ledger.AccountKey]decimal.Decimal, len(entries))
	for _, e := range entries {
		d, err := decimal.NewFromString(e.Balance)
		if err != nil {
			return nil, fmt.Errorf("restore balance %s: %w", e.Account.AccountPath(), err)
		}
		balances[e.Account] = d
	}
	return balances, nil
}

// GetSequence returns the next global sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Balances exposes the tracker for integrity checks and tests.
func (c *DeterministicCore) Balances() *ledger.BalanceTracker {
	return c.balanceTracker
}

// Store exposes the engine arena for read-only previews.
func (c *DeterministicCore) Store() *state.Store {
	return c.store
}
