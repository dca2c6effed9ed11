package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const workerID = "main"

// SnapshotFunc captures the live core state. It must hop onto the core
// goroutine to do so.
type SnapshotFunc func(ctx context.Context) (*core.SnapshotState, error)

// ProjectionWorker keeps the read tables in step with the core. The
// projection channel drops when full, so every row is written absolutely
// rather than as a delta, and a sequence gap triggers a full resync from a
// core snapshot.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	snapshot  SnapshotFunc
	metrics   *observability.Metrics
	logger    zerolog.Logger

	lastSeq int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	snapshot SnapshotFunc,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		snapshot:  snapshot,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := pw.loadWatermark(ctx)
	if err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	pw.lastSeq = seq
	pw.logger.Info().Int64("watermark", seq).Msg("projection worker started")

	for {
		if pw.metrics != nil {
			pw.metrics.SetChannelMetrics("projection", len(pw.inputChan), cap(pw.inputChan))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.handle(ctx, output); err != nil {
				// Projections are eventually consistent: force a resync
				// on the next output.
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				pw.lastSeq = -1
			}
		}
	}
}

func (pw *ProjectionWorker) handle(ctx context.Context, out core.CoreOutput) error {
	seq := out.Envelope.Sequence
	if seq <= pw.lastSeq {
		return nil
	}
	if seq != pw.lastSeq+1 {
		pw.logger.Info().Int64("watermark", pw.lastSeq).Int64("sequence", seq).Msg("projection gap, resyncing")
		if err := pw.Resync(ctx); err != nil {
			return err
		}
		if seq <= pw.lastSeq {
			return nil
		}
	}

	start := time.Now()
	if err := pw.write(ctx, outputBatch(out), seq, nil, deletedPositions(out)); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("output").Observe(time.Since(start).Seconds())
	}
	pw.lastSeq = seq
	return nil
}

// Resync rewrites every projection from a fresh core snapshot.
func (pw *ProjectionWorker) Resync(ctx context.Context) error {
	if pw.snapshot == nil {
		return errors.New("projection resync: no snapshot source")
	}
	start := time.Now()
	snap, err := pw.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("projection resync: %w", err)
	}
	if snap.Sequence < 0 {
		return nil
	}

	b := snapshotBatch(snap)
	if err := pw.write(ctx, b, snap.Sequence, livePositions(snap), nil); err != nil {
		return fmt.Errorf("projection resync: %w", err)
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("resync").Observe(time.Since(start).Seconds())
	}
	pw.lastSeq = snap.Sequence
	pw.logger.Info().Int64("sequence", snap.Sequence).Int("rows", b.size()).Msg("projections resynced")
	return nil
}

// write applies a batch and moves the watermark in one transaction. A
// non-nil live list marks a full resync: positions missing from it are
// removed.
func (pw *ProjectionWorker) write(ctx context.Context, b *batch, seq int64, live, deleted []string) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range b.statements() {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("upsert %s: %w", st.table, err)
		}
	}

	if len(deleted) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.positions
			WHERE last_sequence <= $1 AND position_id = ANY($2::uuid[])
		`, seq, pq.Array(deleted)); err != nil {
			return fmt.Errorf("delete positions: %w", err)
		}
	}
	if live != nil {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.positions
			WHERE last_sequence <= $1 AND NOT (position_id = ANY($2::uuid[]))
		`, seq, pq.Array(live)); err != nil {
			return fmt.Errorf("prune positions: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return tx.Commit()
}

func deletedPositions(out core.CoreOutput) []string {
	if out.Changes == nil {
		return nil
	}
	return uuidStrings(out.Changes.DeletedPositions)
}

func uuidStrings(ids []uuid.UUID) []string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	return s
}

func (pw *ProjectionWorker) loadWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := pw.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, workerID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// RebuildProjections clears every projection table and refills it from a
// core snapshot.
func RebuildProjections(ctx context.Context, db *sql.DB, snapshot SnapshotFunc, logger zerolog.Logger) error {
	truncate := []string{
		`TRUNCATE projections.pools`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.covers`,
		`TRUNCATE projections.claims`,
		`TRUNCATE projections.compensations`,
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncate {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	pw := NewProjectionWorker(db, nil, snapshot, nil, logger)
	if err := pw.Resync(ctx); err != nil {
		return err
	}
	logger.Info().Int64("sequence", pw.lastSeq).Msg("projection rebuild complete")
	return nil
}
