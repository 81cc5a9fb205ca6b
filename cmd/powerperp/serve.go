package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"PowerPerp/internal/config"
	"PowerPerp/internal/core"
	"PowerPerp/internal/ingestion"
	"PowerPerp/internal/ledger"
	"PowerPerp/internal/observability"
	"PowerPerp/internal/oracle"
	"PowerPerp/internal/persistence"
	"PowerPerp/internal/projection"
	"PowerPerp/internal/query"
	"PowerPerp/internal/scheduler"
	"PowerPerp/internal/server"
	"PowerPerp/internal/state"
	"PowerPerp/internal/venue"
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its RPC, ingestion, persistence and keeper workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// app holds every long-running component of the service
type app struct {
	cfg      *config.Config
	stateCfg state.Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
	health   *observability.HealthChecker

	db      *sql.DB
	snaps   *persistence.SnapshotManager
	writer  *persistence.EventLogWriter
	nc      *nats.Conn
	prices  *oracle.Oracle
	engine  *core.Engine
	runner  *core.Runner
	restore *core.SnapshotState

	persistChan    chan core.CoreOutput
	projectionChan chan core.CoreOutput
	publishChan    chan core.CoreOutput
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLoggerTo(os.Stdout, "main", observability.ParseLogLevel(cfg.LogLevel))
	stateCfg, err := cfg.Protocol.ToState()
	if err != nil {
		return err
	}

	a := &app{
		cfg:      cfg,
		stateCfg: stateCfg,
		logger:   logger,
		metrics:  observability.NewMetrics(prometheus.DefaultRegisterer),
		health:   observability.NewHealthChecker(),
		prices:   oracle.New(),
	}
	defer a.close()

	if cfg.Postgres.Enabled {
		if err := a.openPostgres(ctx); err != nil {
			return err
		}
	}
	if err := a.buildEngine(ctx); err != nil {
		return err
	}
	return a.run(ctx)
}

// openPostgres connects, migrates and loads the snapshot the engine restores from
func (a *app) openPostgres(ctx context.Context) error {
	pg := a.cfg.Postgres
	db, err := sql.Open("postgres", pg.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(pg.MaxOpenConns)
	db.SetMaxIdleConns(pg.MaxIdleConns)
	db.SetConnMaxLifetime(pg.ConnMaxLifetime)
	a.db = db

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	a.logger.Info().Msg("postgres connected")
	a.health.AddCheck("postgres", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})

	if pg.AutoMigrate {
		n, err := persistence.NewMigrator(db, pg.MigrationsDir, observability.NewLoggerTo(os.Stdout, "migrator", a.logger.GetLevel())).Up(ctx)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	a.snaps = persistence.NewSnapshotManager(db)
	a.writer = persistence.NewEventLogWriter(db)

	if _, err := a.snaps.VerifyPending(ctx); err != nil {
		return fmt.Errorf("verify snapshots: %w", err)
	}
	snap, err := a.snaps.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	next := int64(0)
	if snap != nil {
		next = snap.Sequence
	}
	if err := checkEventLogCovered(ctx, a.writer, next); err != nil {
		return err
	}
	a.restore = snap
	return nil
}

// eventLog is the part of the event log start-up consults
type eventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

// checkEventLogCovered refuses to start when the log holds events past next,
// the first sequence the snapshot does not cover. Events are outputs of
// commands and cannot rebuild engine state.
func checkEventLogCovered(ctx context.Context, events eventLog, next int64) error {
	latest, err := events.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("read event log head: %w", err)
	}
	if latest < next {
		return nil
	}

	first := "unknown"
	missing, err := events.LoadEventsFrom(ctx, next, 1)
	if err != nil {
		return fmt.Errorf("event log is ahead of the latest verified snapshot (log head %d, snapshot covers up to %d) and reading the first uncovered event failed: %w",
			latest, next-1, err)
	}
	if len(missing) > 0 {
		first = missing[0].EventType
	}
	return fmt.Errorf("event log is ahead of the latest verified snapshot: log head %d, snapshot covers up to %d (first uncovered event %s). "+
		"Restore a snapshot taken at sequence %d or later, or delete events with sequence >= %d from event_log.events after archiving them, then restart",
		latest, next-1, first, latest+1, next)
}

func (a *app) buildEngine(ctx context.Context) error {
	ec := a.cfg.Engine
	now := time.Now().Unix()

	store, err := state.NewStore(a.stateCfg, ec.Admin, now)
	if err != nil {
		return err
	}
	led := ledger.New()
	led.SetMintAuthority(a.stateCfg.PowerAsset, ec.Address)

	v, err := venue.New(a.cfg.VenuePools()...)
	if err != nil {
		return err
	}

	opts := core.Options{
		Address:             ec.Address,
		IdempotencyCapacity: ec.IdempotencyCapacity,
		Metrics:             a.metrics,
		Logger:              observability.NewLoggerTo(os.Stdout, "engine", a.logger.GetLevel()),
	}
	if a.db != nil {
		a.persistChan = make(chan core.CoreOutput, ec.PersistChanSize)
		a.projectionChan = make(chan core.CoreOutput, ec.ProjectionChanSize)
		opts.PersistChan = a.persistChan
		opts.ProjectionChan = a.projectionChan
		opts.DBChecker = persistence.NewPostgresIdempotencyChecker(a.db)
	}
	if a.cfg.NATS.Enabled {
		a.publishChan = make(chan core.CoreOutput, ec.PublishChanSize)
		opts.PublishChan = a.publishChan
	}

	engine, err := core.NewEngine(store, led, a.prices, v, opts)
	if err != nil {
		return err
	}

	if a.restore != nil {
		if err := engine.RestoreFromSnapshot(a.restore); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		if got := engine.QueryConfig(); got.FeeRate.String() != a.stateCfg.FeeRate.String() || got.FeePool != a.stateCfg.FeePool {
			a.logger.Info().Msg("fee settings restored from snapshot override the configured ones")
		}
	}
	if a.writer != nil && ec.WarmIdempotency > 0 {
		keys, err := a.writer.RecentRequestIDs(ctx, ec.WarmIdempotency)
		if err != nil {
			return fmt.Errorf("load recent request ids: %w", err)
		}
		engine.WarmLRU(keys)
		a.logger.Info().Int("keys", len(keys)).Msg("idempotency cache warmed")
	}

	a.engine = engine
	a.runner = core.NewRunner(engine, ec.RunnerQueueSize)
	a.logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("owner", engine.QueryOwner()).
		Bool("restored", a.restore != nil).
		Msg("engine ready")
	return nil
}

func (a *app) run(ctx context.Context) error {
	errChan := make(chan error, 16)
	intake := make(chan struct{}, 16)
	intakeCount := 0
	goIntake := func(name string, fn func() error) {
		intakeCount++
		go func() {
			defer func() { intake <- struct{}{} }()
			if err := fn(); err != nil && ctx.Err() == nil {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// Workers outlive the intake so that they drain what the engine emitted
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	workersDone := make(chan struct{}, 4)
	workerCount := 0
	goWorker := func(name string, fn func(context.Context) error) {
		workerCount++
		go func() {
			defer func() { workersDone <- struct{}{} }()
			if err := fn(workerCtx); err != nil && workerCtx.Err() == nil {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	var (
		projections server.Projections
		snapshots   server.Snapshots
		takeSnap    func(context.Context) error
		snapshotJob scheduler.JobFunc
	)
	if a.db != nil {
		snapshotJob = scheduler.SnapshotJob(a.runner, a.snaps, a.metrics)
		pw := persistence.NewPersistenceWorker(a.db, a.persistChan, a.cfg.Engine.PersistBatchSize, a.cfg.Engine.PersistFlushTimeout,
			a.metrics, observability.NewLoggerTo(os.Stdout, "persistence", a.logger.GetLevel()))
		goWorker("persistence", pw.Run)

		xdb := sqlx.NewDb(a.db, "postgres")
		proj := projection.NewProjectionWorker(xdb, a.projectionChan, a.metrics,
			observability.NewLoggerTo(os.Stdout, "projection", a.logger.GetLevel()))
		goWorker("projection", proj.Run)

		projections = query.NewQueryService(xdb, a.stateCfg.PowerAsset)
		snapshots = a.snaps
		takeSnap = func(ctx context.Context) error {
			_, err := snapshotJob(ctx)
			return err
		}
	}

	// NATS: outbound events, inbound prices and commands
	var subscriber *ingestion.NATSSubscriber
	var priceSink scheduler.PriceSink = scheduler.OracleSink{Recorder: a.prices}
	if a.cfg.NATS.Enabled {
		natsLogger := observability.NewLoggerTo(os.Stdout, "ingestion", a.logger.GetLevel())
		nc, js, err := ingestion.ConnectNATS(a.cfg.NATS.URL, natsLogger)
		if err != nil {
			return err
		}
		a.nc = nc
		a.health.AddCheck("nats", func() error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return err
		}

		goWorker("publisher", ingestion.NewOutboundPublisher(js, a.publishChan, natsLogger).Run)

		rawChan := make(chan ingestion.RawEvent, 4096)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return err
		}
		dispatcher := ingestion.NewDispatcher(a.prices, a.runner, nc, a.metrics, natsLogger)
		goIntake("dispatcher", func() error { return dispatcher.Run(ctx, rawChan) })

		if a.cfg.NATS.SharePrices {
			priceSink = ingestion.NewPricePublisher(js)
		}
	}

	// Engine loop
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	go a.runner.Run(runnerCtx)

	// Keeper
	if kc := a.cfg.Keeper; kc.Enabled {
		keeper := scheduler.New(kc.JobTimeout, a.metrics, observability.NewLoggerTo(os.Stdout, "keeper", a.logger.GetLevel()))
		jobs := []keeperJob{
			{scheduler.JobApplyFunding, kc.FundingSpec, scheduler.ApplyFundingJob(a.runner, kc.Address, nil)},
			{scheduler.JobRemoveEmptyVaults, kc.GCSpec, scheduler.RemoveEmptyVaultsJob(a.runner, kc.Address, kc.GCLimit, nil)},
			{scheduler.JobObservePrices, kc.PriceSpec, scheduler.ObservePricesJob(a.runner, priceSink, a.pricePairs(), nil)},
		}
		if a.db != nil {
			jobs = append(jobs, keeperJob{scheduler.JobSnapshot, kc.SnapshotSpec, snapshotJob})
		}
		for _, j := range jobs {
			if err := keeper.Add(j.name, j.spec, j.fn); err != nil {
				return err
			}
		}
		goIntake("keeper", func() error { return keeper.Run(ctx) })
	}

	// RPC
	svc := server.NewEngineService(server.Deps{
		Engine:       a.runner,
		Projections:  projections,
		Snapshots:    snapshots,
		TakeSnapshot: takeSnap,
	})
	rpc := server.NewGRPCServer(a.cfg.Server.GRPCAddr, a.cfg.Server.HTTPAddr, svc, a.health, a.metrics,
		observability.NewLoggerTo(os.Stdout, "server", a.logger.GetLevel()))
	goIntake("grpc", func() error { return rpc.StartGRPC(ctx) })
	goIntake("http", func() error { return rpc.StartHTTPGateway(ctx) })
	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		goIntake("metrics", func() error { return serveMetrics(ctx, addr) })
	}

	a.health.SetReady(true)
	rpc.SetServing(true)
	a.logger.Info().
		Int64("sequence", a.engine.GetSequence()).
		Str("grpc", a.cfg.Server.GRPCAddr).
		Str("http", a.cfg.Server.HTTPAddr).
		Str("metrics", a.cfg.Server.MetricsAddr).
		Msg("powerperp ready")

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutdown requested")
	case runErr = <-errChan:
		a.logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// Shutdown: stop intake, stop the engine, drain workers, final snapshot
	a.health.SetReady(false)
	rpc.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	waitN(intake, intakeCount, 15*time.Second)

	stopRunner()
	<-a.runner.Done()

	if a.persistChan != nil {
		close(a.persistChan)
	}
	if a.projectionChan != nil {
		close(a.projectionChan)
	}
	if a.publishChan != nil {
		close(a.publishChan)
	}
	if !waitN(workersDone, workerCount, 30*time.Second) {
		a.logger.Warn().Msg("workers did not drain in time")
		cancelWorkers()
		waitN(workersDone, workerCount, 5*time.Second)
	}

	if a.snaps != nil {
		if err := a.finalSnapshot(); err != nil {
			a.logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			a.logger.Info().Int64("sequence", a.engine.GetSequence()).Msg("final snapshot saved")
		}
	}

	a.logger.Info().Msg("powerperp shutdown complete")
	return runErr
}

type keeperJob struct {
	name string
	spec string
	fn   scheduler.JobFunc
}

// finalSnapshot runs after the engine loop has exited, so the engine is
// read directly.
func (a *app) finalSnapshot() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := a.engine.CreateSnapshotState()
	if err != nil {
		return err
	}
	if _, err := a.snaps.SaveSnapshot(ctx, snap, time.Now().UTC()); err != nil {
		return err
	}
	n, err := a.snaps.VerifyPending(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("snapshot at %d is not covered by the event log", snap.Sequence)
	}
	return nil
}

// pricePairs lists every pool the oracle must price
func (a *app) pricePairs() []scheduler.PricePair {
	c := a.stateCfg
	pairs := []scheduler.PricePair{
		{Pool: c.BasePool, Base: c.BaseAsset, Quote: c.QuoteAsset},
		{Pool: c.PowerPool, Base: c.PowerAsset, Quote: c.BaseAsset},
	}
	for _, sa := range c.StakedAssets {
		pairs = append(pairs, scheduler.PricePair{Pool: sa.Pool, Base: sa.Denom, Quote: c.BaseAsset})
	}
	return pairs
}

func (a *app) close() {
	if a.nc != nil {
		a.nc.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// waitN waits for n signals on ch, reporting false on timeout
func waitN(ch <-chan struct{}, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}
