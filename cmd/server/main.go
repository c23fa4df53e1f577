package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/pacsight/internal/api"
	"github.com/ahrav/pacsight/internal/app/analysis"
	"github.com/ahrav/pacsight/internal/app/assembly"
	"github.com/ahrav/pacsight/internal/app/delivery"
	"github.com/ahrav/pacsight/internal/app/orchestration"
	"github.com/ahrav/pacsight/internal/app/receiving"
	"github.com/ahrav/pacsight/internal/app/reporting"
	"github.com/ahrav/pacsight/internal/config"
	"github.com/ahrav/pacsight/internal/config/fileloader"
	"github.com/ahrav/pacsight/internal/infra/dicomweb"
	"github.com/ahrav/pacsight/internal/infra/eventbus/memory"
	imagingStore "github.com/ahrav/pacsight/internal/infra/storage/imaging/postgres"
	pipelineStore "github.com/ahrav/pacsight/internal/infra/storage/pipeline/postgres"
	"github.com/ahrav/pacsight/pkg/common/logger"
	"github.com/ahrav/pacsight/pkg/common/otel"
)

const serviceType = "pacsight"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			// Output the error event with valid JSON details.
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("PACSIGHT-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prob := 1.0
	if raw := os.Getenv("OTEL_SAMPLING_RATIO"); raw != "" {
		prob, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(serviceType)

	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err = fileloader.NewFileLoader(path).Load(ctx)
		if err != nil {
			log.Error(ctx, "failed to load config", "path", path, "error", err)
			os.Exit(1)
		}
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			cfg.Database.User, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Migrations applied successfully. Starting application...")

	for _, dir := range []string{cfg.Server.StorageDir, cfg.Reports.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error(ctx, "failed to create data dir", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	mp := otel.GetMeterProvider()
	metricCollector, err := orchestration.NewOrchestrationMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	eventBus := memory.NewEventBus()
	defer eventBus.Close()
	eventPublisher := memory.NewDomainEventPublisher(eventBus)

	instanceRepo := imagingStore.NewInstanceStore(pool, tracer)
	studyRepo := imagingStore.NewStudyStore(pool, tracer)
	jobRepo := pipelineStore.NewJobStore(pool, tracer)
	findingRepo := pipelineStore.NewFindingStore(pool, tracer)
	reportRepo := pipelineStore.NewReportStore(pool, tracer)

	receiveService := receiving.NewService(instanceRepo, eventPublisher, log, tracer)
	assembler := assembly.NewAssembler(studyRepo, eventPublisher, cfg.Pipeline.IdleTimeout, log, tracer,
		assembly.WithSweepInterval(cfg.Pipeline.SweepInterval))

	analyzer := analysis.NewAnalyzer(instanceRepo, analysis.NewStubEngine(), cfg.Pipeline.EngineTimeout, log, tracer,
		analysis.WithConfidenceThreshold(cfg.Pipeline.ConfidenceThreshold))
	builder := reporting.NewBuilder(cfg.Reports.Dir, log, tracer)
	archiveClient := dicomweb.NewArchiveClient(cfg.Archive, cfg.Server.AETitle, log, tracer)
	deliverer := delivery.NewDeliverer(archiveClient, cfg.Archive.SendTimeout, log, tracer)

	orchestrator := orchestration.NewOrchestrator(
		jobRepo,
		findingRepo,
		reportRepo,
		studyRepo,
		analyzer,
		builder,
		deliverer,
		eventBus,
		eventPublisher,
		log,
		metricCollector,
		tracer,
		orchestration.WithWorkers(cfg.Pipeline.Workers),
		orchestration.WithQueueSize(cfg.Pipeline.QueueSize),
		orchestration.WithLeaseDuration(cfg.Pipeline.LeaseDuration),
		orchestration.WithReclaimInterval(cfg.Pipeline.ReclaimInterval),
	)

	transferServer := dicomweb.NewServer(cfg.Server, cfg.Server.StorageDir, receiveService, log, tracer)
	apiServer := api.NewServer(cfg, log, tracer, pool, studyRepo, jobRepo, findingRepo, reportRepo)

	log.Info(ctx, "Pipeline initialized",
		"ae_title", cfg.Server.AETitle,
		"idle_timeout", cfg.Pipeline.IdleTimeout.String(),
		"workers", cfg.Pipeline.Workers)

	errCh := make(chan error, 4)
	go func() {
		if err := orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("orchestrator: %w", err)
		}
	}()
	go func() {
		if err := assembler.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("assembler: %w", err)
		}
	}()
	go func() {
		if err := transferServer.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("transfer server: %w", err)
		}
	}()
	go func() {
		if err := apiServer.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case sig := <-sigCh:
		log.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		orchestrator.Shutdown(shutdownCtx)
		if err := eventBus.Close(); err != nil {
			log.Error(shutdownCtx, "Failed to close event bus", "error", err)
		}

	case err := <-errCh:
		log.Error(ctx, "Component failed", "error", err)
		os.Exit(1)
	}
}

// runMigrations uses golang-migrate to apply all up migrations. It acquires a
// single pgx connection from the pool, runs migrations, and releases the
// connection back to the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
