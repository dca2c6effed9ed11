package core

import (
	"fmt"
	"maps"

	"CoverLedger/internal/observability"
)

// SequenceValidator checks that each source stream delivers its sequence
// numbers without gaps. Not thread-safe; only the core goroutine uses it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // stream -> next expected sequence
	metrics         *SequenceMetrics
	prom            *observability.Metrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence accepts exactly the next expected sequence of a stream.
// A lower sequence is fine for a known duplicate; anything else is an error
// and the message should be redelivered in order.
func (sv *SequenceValidator) ValidateSequence(
	stream string,
	sourceSequence int64,
	idempotencyKey string,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[stream]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordOutOfOrder(stream)
		if sv.prom != nil {
			sv.prom.EventOutOfOrder.WithLabelValues(stream).Inc()
		}
		return fmt.Errorf("out-of-order event %s: stream=%s, expected=%d, got=%d",
			idempotencyKey, stream, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[stream] = expected + 1
		return nil
	}

	sv.metrics.RecordGap(stream)
	if sv.prom != nil {
		sv.prom.EventSequenceGap.WithLabelValues(stream).Inc()
	}
	return fmt.Errorf("sequence gap: stream=%s, expected=%d, got=%d",
		stream, expected, sourceSequence)
}

// GetExpectedSequence returns next expected sequence for a stream
func (sv *SequenceValidator) GetExpectedSequence(stream string) int64 {
	return sv.expectedNextSeq[stream]
}

// RestorePartition sets a stream's next expected sequence during recovery.
func (sv *SequenceValidator) RestorePartition(stream string, next int64) {
	sv.expectedNextSeq[stream] = next
}

// GetAllPartitions copies the expected sequence of every stream.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	return maps.Clone(sv.expectedNextSeq)
}

func (sv *SequenceValidator) Metrics() *SequenceMetrics { return sv.metrics }

// SequenceMetrics counts ordering failures per stream. Not thread-safe.
type SequenceMetrics struct {
	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(stream string) {
	m.gaps[stream]++
}

func (m *SequenceMetrics) RecordOutOfOrder(stream string) {
	m.outOfOrder[stream]++
}

func (m *SequenceMetrics) GetGaps(stream string) int64 {
	return m.gaps[stream]
}

func (m *SequenceMetrics) GetOutOfOrder(stream string) int64 {
	return m.outOfOrder[stream]
}
