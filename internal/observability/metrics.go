package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cover"

// Metrics holds all Prometheus metrics for CoverLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupWindowSize       prometheus.Gauge
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Protocol ---
	PoolUtilization    *prometheus.GaugeVec
	PoolPremiumRate    *prometheus.GaugeVec
	PoolLiquidity      *prometheus.GaugeVec
	PoolOngoingClaims  *prometheus.GaugeVec
	ClaimTransitions   *prometheus.CounterVec
	CompensationsPaid  *prometheus.CounterVec
	ProtocolEffects    *prometheus.CounterVec
	RejectedOperations *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics registers the metrics on the default registry. Call it once
// per process.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics on reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := factory{promauto.With(reg)}
	fast := []float64{1e-6, 5e-6, 1e-5, 2.5e-5, 5e-5, 1e-4, 2.5e-4, 5e-4, 1e-3, 2e-3, 5e-3, 1e-2}
	slow := []float64{1e-4, 5e-4, 1e-3, 5e-3, 1e-2, 2.5e-2, 5e-2, 0.1, 0.25, 0.5}

	return &Metrics{
		CoreEventsApplied:  f.counterVec("core_events_applied_total", "Events applied by the core", "event_type"),
		CoreEventsRejected: f.counterVec("core_events_rejected_total", "Events rejected by dedup, ordering or a precondition", "event_type", "reason"),
		CoreEventDuration:  f.histogramVec("core_event_apply_duration_seconds", "Time to apply one event", fast, "event_type"),
		CoreJournals:       f.counterVec("core_journals_generated_total", "Journal entries generated", "journal_type"),
		CoreStateHashDur:   f.histogram("core_state_hash_duration_seconds", "Time to hash one state change", fast),
		CoreSequence:       f.gauge("core_sequence", "Next global sequence number"),

		IngestToApply:       f.histogramVec("ingest_to_apply_seconds", "Receive to core apply", fast[2:], "event_type"),
		ApplyToPersist:      f.histogram("apply_to_persist_seconds", "Core hand-off to Postgres commit", slow),
		PersistBatchDur:     f.histogram("persist_batch_duration_seconds", "Postgres batch write duration", slow),
		ProjectionUpdateDur: f.histogramVec("projection_update_duration_seconds", "Projection update duration", slow, "projection"),

		ChannelSize:         f.gaugeVec("channel_size", "Items queued in a pipeline channel", "name"),
		ChannelCapacity:     f.gaugeVec("channel_capacity", "Pipeline channel capacity", "name"),
		ChannelUtilization:  f.gaugeVec("channel_utilization", "Queued items over capacity", "name"),
		ProjectionDrops:     f.counterVec("projection_drops_total", "Outputs dropped on a full projection channel", "projection"),
		PublishDrops:        f.counter("publish_drops_total", "Outputs dropped on a full publish channel"),
		PersistBackpressure: f.counter("persist_backpressure_total", "Times the core blocked on the persist channel"),

		IdempotencyDuplicates: f.counterVec("idempotency_duplicates_total", "Duplicates caught, by tier", "event_type", "tier"),
		DedupWindowSize:       f.gauge("dedup_window_size", "Operation keys held in the in-memory dedup window"),
		EventSequenceGap:      f.counterVec("event_sequence_gap_total", "Source sequence gaps", "stream"),
		EventOutOfOrder:       f.counterVec("event_out_of_order_total", "Out-of-order rejections", "stream"),

		PoolUtilization:    f.gaugeVec("pool_utilization_percent", "Covered capital over total liquidity, percent", "pool_id"),
		PoolPremiumRate:    f.gaugeVec("pool_premium_rate_percent", "Annual premium rate, percent", "pool_id"),
		PoolLiquidity:      f.gaugeVec("pool_liquidity", "Pool liquidity in base units", "pool_id", "kind"),
		PoolOngoingClaims:  f.gaugeVec("pool_ongoing_claims", "Claims holding the pool's withdrawals", "pool_id"),
		ClaimTransitions:   f.counterVec("claim_transitions_total", "Claims entering each status", "status"),
		CompensationsPaid:  f.counterVec("compensations_paid_total", "Compensations paid out of a pool", "pool_id"),
		ProtocolEffects:    f.counterVec("protocol_effects_total", "Capital movements emitted by the engine", "kind"),
		RejectedOperations: f.counterVec("rejected_operations_total", "Operations refused by a precondition", "event_type", "error"),

		PersistEventsWritten:   f.counter("persist_events_written_total", "Events written to Postgres"),
		PersistJournalsWritten: f.counter("persist_journals_written_total", "Journal entries written to Postgres"),
		PersistBatchSize:       f.histogram("persist_batch_size", "Events per batch", []float64{1, 5, 10, 25, 50, 100, 250, 500}),
		PersistErrors:          f.counterVec("persist_errors_total", "Persistence errors", "error_type"),
		PersistRetry:           f.counter("persist_retry_total", "Persistence retries"),
		PersistLastSequence:    f.gauge("persist_last_sequence", "Last persisted sequence"),

		SnapshotTaken:     f.counter("snapshot_taken_total", "Snapshots created"),
		SnapshotDuration:  f.histogram("snapshot_duration_seconds", "Snapshot creation time", []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10}),
		SnapshotSizeBytes: f.gauge("snapshot_size_bytes", "Last snapshot size"),
		SnapshotLastSeq:   f.gauge("snapshot_last_sequence", "Sequence of the last snapshot"),
		ReplayEventsTotal: f.counter("replay_events_total", "Events replayed on startup"),
		ReplayDuration:    f.gauge("replay_duration_seconds", "Startup replay time"),

		QueryRequests: f.counterVec("query_requests_total", "Query requests", "endpoint", "status"),
		QueryDuration: f.histogramVec("query_duration_seconds", "Query latency", slow[:8], "endpoint"),
		QueryErrors:   f.counterVec("query_errors_total", "Query errors", "endpoint", "code"),
	}
}

// factory prefixes every metric with the cover namespace.
type factory struct{ promauto.Factory }

func (f factory) counter(name, help string) prometheus.Counter {
	return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func (f factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func (f factory) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func (f factory) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return f.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets})
}

func (f factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
