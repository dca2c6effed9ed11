package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"CoverLedger/internal/config"
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/projection"
	"CoverLedger/internal/query"
	"CoverLedger/internal/server"
	"CoverLedger/internal/state"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := observability.NewLogger("main")
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	level := observability.ParseLogLevel(cfg.LogLevel)
	newLogger := func(component string) zerolog.Logger {
		return observability.NewLoggerTo(observability.Output(cfg.LogFormat, os.Stdout), component, level)
	}
	logger := newLogger("main")
	logger.Info().Str("asset", cfg.Asset).Msg("CoverLedger starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	// --- Genesis ---
	params := state.DefaultProtocolParams
	var genesis []event.Event
	g, err := config.LoadGenesis(cfg.ProtocolFile, cfg.AssetDecimals)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn().Str("file", cfg.ProtocolFile).Msg("no genesis file, using default protocol parameters and no pools")
	case err != nil:
		logger.Fatal().Err(err).Str("file", cfg.ProtocolFile).Msg("load genesis")
	default:
		if params, err = g.ProtocolParams(cfg.AssetDecimals); err != nil {
			logger.Fatal().Err(err).Msg("genesis parameters")
		}
		if genesis, err = g.Events(); err != nil {
			logger.Fatal().Err(err).Msg("genesis events")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, newLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Deterministic core ---
	// Persist sends block (backpressure), projection sends drop.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	deterministicCore := core.NewDeterministicCore(
		state.NewStore(params),
		cfg.AssetID,
		0,
		persistChan,
		projectionChan,
		persistence.NewPostgresIdempotencyChecker(db),
		metrics,
	)
	deterministicCore.SetLogger(newLogger("core"))

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	if n, err := snapMgr.VerifyPending(ctx); err != nil {
		logger.Warn().Err(err).Msg("snapshot verification failed")
	} else if n > 0 {
		logger.Info().Int64("verified", n).Msg("snapshots verified")
	}
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
		snap = nil
	}
	if snap != nil {
		if err := deterministicCore.RestoreFromSnapshot(snap); err != nil {
			logger.Fatal().Err(err).Int64("sequence", snap.Sequence).Msg("restore snapshot")
		}
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	}

	replayStart := time.Now()
	replayed, err := replayEventLog(ctx, snapMgr, deterministicCore)
	if err != nil {
		logger.Fatal().Err(err).Msg("event replay failed")
	}
	metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", deterministicCore.GetSequence()).
		Msg("event log replayed")

	// --- NATS ---
	natsLogger := newLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// The core goroutine stops before the workers that drain it.
	coreCtx, stopCore := context.WithCancel(ctx)
	defer stopCore()

	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, natsLogger)
	submitChan := make(chan ingestion.Submission)
	dispatcher := ingestion.NewDispatcher(deterministicCore, rawEventChan, submitChan, metrics, newLogger("dispatcher"))

	capture := func(ctx context.Context) (*core.SnapshotState, error) {
		var s *core.SnapshotState
		if err := dispatcher.Do(ctx, func() { s = deterministicCore.CreateSnapshotState() }); err != nil {
			return nil, err
		}
		return s, nil
	}

	errChan := make(chan error, 10)
	var coreDone sync.WaitGroup
	coreDone.Add(1)
	go func() {
		defer coreDone.Done()
		if err := dispatcher.Run(coreCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	// --- Persistence and outbound publishing ---
	publishChan := make(chan ingestion.PublishableEvent, 4096)
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, newLogger("persistence"))
	persistWorker.OnFlushed(func(batch []core.CoreOutput) {
		for _, out := range batch {
			select {
			case publishChan <- ingestion.SummaryFromOutput(out):
			default:
				metrics.PublishDrops.Inc()
			}
		}
	})

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var persistDone sync.WaitGroup
	persistDone.Add(1)
	go func() {
		defer persistDone.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, natsLogger)
	go func() {
		if err := outboundPublisher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("outbound publisher: %w", err)
		}
	}()

	// --- Projections ---
	projLogger := newLogger("projection")
	projWorker := projection.NewProjectionWorker(db, projectionChan, capture, metrics, projLogger)
	go func() {
		if err := projWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()

	// --- Genesis on an empty log ---
	if deterministicCore.GetSequence() == 0 && len(genesis) > 0 {
		if err := applyGenesis(ctx, dispatcher, deterministicCore, genesis); err != nil {
			logger.Fatal().Err(err).Msg("apply genesis")
		}
		logger.Info().Int("events", len(genesis)).Msg("genesis applied")
	}

	// --- Snapshots ---
	scheduler := persistence.NewSnapshotScheduler(ctx, snapMgr, capture, cfg.SnapshotKeep, metrics, newLogger("snapshot"))
	if cfg.SnapshotSchedule != "" {
		if err := scheduler.Register(cfg.SnapshotSchedule); err != nil {
			logger.Fatal().Err(err).Msg("snapshot schedule")
		}
		scheduler.Start()
	}

	// --- Query and servers ---
	serverLogger := newLogger("server")
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  query.NewQueryService(db, cfg.AssetDecimals, metrics),
		IngestService: ingestion.NewGRPCIngestService(submitChan),
		SnapshotMgr:   snapMgr,
		Snapshotter:   scheduler,
		Rebuild: func(ctx context.Context) error {
			return projection.RebuildProjections(ctx, db, capture, projLogger)
		},
		Preview:       deterministicCore,
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
		Logger:        serverLogger,
	})

	go func() {
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go func() {
		if err := serveMetrics(ctx, cfg.MetricsAddr, serverLogger); err != nil {
			errChan <- err
		}
	}()

	// NATS consumption starts last so nothing races genesis.
	if err := natsSubscriber.Subscribe(coreCtx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	healthChecker.RegisterCheck("postgres", db.PingContext)
	healthChecker.RegisterCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})
	healthChecker.SetReady(true)

	logger.Info().
		Int64("next_sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("CoverLedger ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}
	healthChecker.SetReady(false)

	// Stop intake, then let the core finish its current event.
	natsSubscriber.Stop()
	scheduler.Stop()
	stopCore()
	coreDone.Wait()
	cancel()

	// Drain persistence, then snapshot the now idle core.
	close(persistChan)
	close(projectionChan)
	flushed := make(chan struct{})
	go func() { persistDone.Wait(); close(flushed) }()
	select {
	case <-flushed:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence did not drain in time")
	}

	if deterministicCore.GetSequence() > 0 {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		final := deterministicCore.CreateSnapshotState()
		if _, err := snapMgr.SaveSnapshot(shutdownCtx, final); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Int64("sequence", final.Sequence).Msg("final snapshot saved")
		}
	}

	stopWorkers()
	logger.Info().Msg("CoverLedger shutdown complete")
}

// replayEventLog re-applies every logged event after the restored snapshot,
// verifying the hash chain as it goes.
func replayEventLog(ctx context.Context, snapMgr *persistence.SnapshotManager, c *core.DeterministicCore) (int64, error) {
	var total int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, c.GetSequence(), replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", c.GetSequence(), err)
		}
		if len(rows) == 0 {
			return total, nil
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return total, err
			}
			if err := c.ReplayEvent(env); err != nil {
				return total, err
			}
			total++
		}
	}
}

// applyGenesis feeds the genesis events through the core goroutine. Every
// one must apply.
func applyGenesis(ctx context.Context, d *ingestion.Dispatcher, c *core.DeterministicCore, events []event.Event) error {
	for _, evt := range events {
		var perr error
		if err := d.Do(ctx, func() { perr = c.ProcessEvent(evt) }); err != nil {
			return err
		}
		if perr != nil {
			return fmt.Errorf("%s %s: %w", evt.EventType(), evt.IdempotencyKey(), perr)
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
