package ingestion

import (
	"context"
	"errors"
	"fmt"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
)

// ErrInvalidEvent marks a payload that could not be parsed into an event.
var ErrInvalidEvent = errors.New("invalid event")

// Submission is an admin-injected event waiting for the core's verdict.
type Submission struct {
	Event  event.Event
	Result chan<- error
}

// IngestResult reports what the core did with an admin-injected event.
type IngestResult struct {
	IdempotencyKey string `json:"idempotency_key"`
	EventType      string `json:"event_type"`
	Applied        bool   `json:"applied"`
	Rejection      string `json:"rejection,omitempty"`
}

// GRPCIngestService provides admin/manual event injection via gRPC and the
// HTTP gateway. It is not a high-throughput surface; use NATS for that.
type GRPCIngestService struct {
	submitChan chan<- Submission
}

func NewGRPCIngestService(submitChan chan<- Submission) *GRPCIngestService {
	return &GRPCIngestService{submitChan: submitChan}
}

// Ingest parses a JSON payload and waits until the core has consumed it.
// A rejected operation is reported in the result, not as an error.
// Duplicates are reported as applied.
func (s *GRPCIngestService) Ingest(ctx context.Context, eventType string, payload []byte) (*IngestResult, error) {
	evt, err := ParseRawEvent(RawEvent{Subject: "admin", EventType: eventType, Data: payload}, eventType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	result := make(chan error, 1)
	select {
	case s.submitChan <- Submission{Event: evt, Result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var procErr error
	select {
	case procErr = <-result:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res := &IngestResult{IdempotencyKey: evt.IdempotencyKey(), EventType: evt.EventType().String()}
	var rejected *core.RejectedError
	switch {
	case procErr == nil:
		res.Applied = true
	case errors.As(procErr, &rejected):
		res.Rejection = rejected.Err.Error()
	default:
		return nil, fmt.Errorf("ingest %s: %w", eventType, procErr)
	}
	return res, nil
}
