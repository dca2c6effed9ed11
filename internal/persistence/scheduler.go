package persistence

import (
	"context"
	"fmt"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CaptureFunc takes a snapshot of the core. It must hop onto the core
// goroutine to do so.
type CaptureFunc func(ctx context.Context) (*core.SnapshotState, error)

// SnapshotScheduler takes snapshots on a cron schedule, verifies the ones
// the event log has caught up with and prunes old ones.
type SnapshotScheduler struct {
	cron    *cron.Cron
	mgr     *SnapshotManager
	capture CaptureFunc
	keep    int
	ctx     context.Context
	metrics *observability.Metrics
	logger  zerolog.Logger

	lastSequence int64
}

func NewSnapshotScheduler(
	ctx context.Context,
	mgr *SnapshotManager,
	capture CaptureFunc,
	keep int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *SnapshotScheduler {
	return &SnapshotScheduler{
		cron:         cron.New(cron.WithSeconds()),
		mgr:          mgr,
		capture:      capture,
		keep:         keep,
		ctx:          ctx,
		metrics:      metrics,
		logger:       logger,
		lastSequence: -1,
	}
}

// Register adds the snapshot job. schedule uses six cron fields, seconds first.
func (s *SnapshotScheduler) Register(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("register snapshot job %q: %w", schedule, err)
	}
	return nil
}

func (s *SnapshotScheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("snapshot scheduler started")
}

// Stop waits for a running job to finish.
func (s *SnapshotScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("snapshot scheduler stopped")
}

func (s *SnapshotScheduler) run() {
	if err := s.TakeSnapshot(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("scheduled snapshot failed")
	}
}

// TakeSnapshot verifies pending snapshots, captures a new one if the core
// has moved and prunes old verified snapshots.
func (s *SnapshotScheduler) TakeSnapshot(ctx context.Context) error {
	if n, err := s.mgr.VerifyPending(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot verification failed")
	} else if n > 0 {
		s.logger.Info().Int64("verified", n).Msg("snapshots verified")
	}

	start := time.Now()
	snap, err := s.capture(ctx)
	if err != nil {
		return fmt.Errorf("capture snapshot: %w", err)
	}
	if snap.Sequence < 0 || snap.Sequence == s.lastSequence {
		return nil
	}

	size, err := s.mgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}
	s.lastSequence = snap.Sequence

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")

	if s.keep > 0 {
		if _, err := s.mgr.Prune(ctx, s.keep); err != nil {
			s.logger.Warn().Err(err).Msg("snapshot prune failed")
		}
	}
	return nil
}
