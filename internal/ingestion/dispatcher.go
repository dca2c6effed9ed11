package ingestion

import (
	"context"
	"errors"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Processor is the single-writer sink events are fed into.
type Processor interface {
	ProcessEvent(evt event.Event) error
}

// Dispatcher owns the core goroutine. It merges NATS deliveries, admin
// submissions and maintenance tasks so the core is only ever touched from
// one goroutine.
type Dispatcher struct {
	proc    Processor
	raw     <-chan RawEvent
	admin   <-chan Submission
	tasks   chan func()
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(proc Processor, raw <-chan RawEvent, admin <-chan Submission, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		proc:    proc,
		raw:     raw,
		admin:   admin,
		tasks:   make(chan func()),
		metrics: metrics,
		logger:  logger,
	}
}

// Run processes inputs until ctx is cancelled or both event channels close.
func (d *Dispatcher) Run(ctx context.Context) error {
	raw, admin := d.raw, d.admin
	for raw != nil || admin != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-raw:
			if !ok {
				raw = nil
				continue
			}
			d.handleRaw(r)

		case s, ok := <-admin:
			if !ok {
				admin = nil
				continue
			}
			s.Result <- d.proc.ProcessEvent(s.Event)

		case fn := <-d.tasks:
			fn()
		}
	}
	return nil
}

// Do runs fn on the core goroutine and waits for it to finish.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case d.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// handleRaw parses and applies one delivery. Applied, duplicate and
// rejected events are acked; malformed payloads are terminated; anything
// else is nacked for redelivery.
func (d *Dispatcher) handleRaw(r RawEvent) {
	evt, err := ParseRawEvent(r, r.EventType)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", r.Subject).Msg("dropping unparseable event")
		if d.metrics != nil {
			d.metrics.CoreEventsRejected.WithLabelValues(r.EventType, "parse").Inc()
		}
		settle(r.TermFunc, r.AckFunc)
		return
	}

	err = d.proc.ProcessEvent(evt)
	switch {
	case err == nil:
		if d.metrics != nil && !r.Timestamp.IsZero() {
			d.metrics.IngestToApply.WithLabelValues(r.EventType).Observe(time.Since(r.Timestamp).Seconds())
		}
		settle(r.AckFunc)
	case errors.Is(err, core.ErrRejected):
		d.logger.Info().Err(err).Str("event_type", r.EventType).Str("key", evt.IdempotencyKey()).Msg("operation rejected")
		settle(r.AckFunc)
	default:
		d.logger.Error().Err(err).Str("event_type", r.EventType).Str("key", evt.IdempotencyKey()).Msg("event not processed")
		settle(r.NakFunc)
	}
}

// settle calls the first non-nil callback.
func settle(fns ...func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
			return
		}
	}
}
