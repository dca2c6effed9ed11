package core

import (
	"CoverLedger/internal/observability"
)

// DBIdempotencyChecker answers whether an operation is already in the event
// log. It is consulted only when the in-memory window misses.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker deduplicates operations by (event type, operation id).
// Recent keys live in a bounded in-memory window; older ones fall through to
// the durable checker. Only the core goroutine touches it.
type IdempotencyChecker struct {
	recent  *recentKeys
	durable DBIdempotencyChecker
	prom    *observability.Metrics

	durableErrors int64
}

func NewIdempotencyChecker(capacity int, durable DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		recent:  newRecentKeys(capacity),
		durable: durable,
	}
}

// CompositeKey scopes an operation id by event type so two producers reusing
// an id cannot collide.
func CompositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := CompositeKey(eventType, idempotencyKey)
	if ic.recent.has(key) {
		ic.count(eventType, "memory")
		return true
	}
	if ic.durable == nil {
		return false
	}

	dup, err := ic.durable.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		// Treated as unseen. The unique index on the event log still
		// refuses a real duplicate when the batch is written.
		ic.durableErrors++
		return false
	}
	if dup {
		ic.count(eventType, "postgres")
		ic.recent.add(key)
	}
	return dup
}

// MarkProcessed records an operation the core has sequenced, applied or not.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.recent.add(CompositeKey(eventType, idempotencyKey))
}

// Recent returns the in-memory window oldest first, the order Warm expects.
func (ic *IdempotencyChecker) Recent() []string { return ic.recent.keys() }

// Warm refills the in-memory window from a snapshot.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.recent.add(k)
	}
}

func (ic *IdempotencyChecker) Len() int { return len(ic.recent.set) }

// DurableErrors counts failed durable lookups since start.
func (ic *IdempotencyChecker) DurableErrors() int64 { return ic.durableErrors }

func (ic *IdempotencyChecker) count(eventType, tier string) {
	if ic.prom != nil {
		ic.prom.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// recentKeys is a fixed-capacity insertion-ordered set. When full, the
// oldest key is overwritten.
type recentKeys struct {
	capacity int
	ring     []string
	head     int // oldest entry once the ring is full
	set      map[string]struct{}
}

func newRecentKeys(capacity int) *recentKeys {
	return &recentKeys{
		capacity: max(capacity, 1),
		set:      make(map[string]struct{}),
	}
}

func (r *recentKeys) has(key string) bool {
	_, ok := r.set[key]
	return ok
}

func (r *recentKeys) add(key string) {
	if r.has(key) {
		return
	}
	r.set[key] = struct{}{}
	if len(r.ring) < r.capacity {
		r.ring = append(r.ring, key)
		return
	}
	delete(r.set, r.ring[r.head])
	r.ring[r.head] = key
	r.head = (r.head + 1) % r.capacity
}

func (r *recentKeys) keys() []string {
	out := make([]string, 0, len(r.ring))
	out = append(out, r.ring[r.head:]...)
	return append(out, r.ring[:r.head]...)
}
