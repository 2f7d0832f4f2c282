package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cspwatch/cspwatch/config"
	"github.com/cspwatch/cspwatch/internal/archive"
	"github.com/cspwatch/cspwatch/internal/auth"
	"github.com/cspwatch/cspwatch/internal/bootstrap"
	"github.com/cspwatch/cspwatch/internal/dashboard"
	"github.com/cspwatch/cspwatch/internal/ingest"
	"github.com/cspwatch/cspwatch/internal/metrics"
	"github.com/cspwatch/cspwatch/internal/retention"
	"github.com/cspwatch/cspwatch/internal/search"
	"github.com/cspwatch/cspwatch/internal/storage/postgres"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
	violationshttp "github.com/cspwatch/cspwatch/internal/violations/http"
	"github.com/cspwatch/cspwatch/internal/violations/repository"
	"github.com/cspwatch/cspwatch/internal/violations/service"
)

const serviceName = "cspwatch-api"

func main() {
	if err := run(); err != nil {
		log.Fatalf("%s: %v", serviceName, err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := bootstrap.NewLogger(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	bootstrap.SetGinMode(cfg.App.Environment)

	pool, err := bootstrap.OpenDB(ctx, bootstrap.DBOptions{DSN: cfg.Database.DSN()})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	rdb, err := bootstrap.OpenRedis(ctx, bootstrap.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	groups := repository.NewGroupRepository(pool)
	reports := repository.NewReportRepository(pool)
	feed := repository.NewFeedRepository(rdb)
	backend := search.NewBackend(pool)
	processor := service.NewService(groups, reports, feed, logger)

	policy, err := ingest.LoadPolicy(cfg.Ingest.PolicyPath)
	if err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}
	go updateGroupGauges(ctx, groups, m, logger)

	ingestHandler := violationshttp.NewIngestHandler(violationshttp.IngestDeps{
		Processor:   processor,
		Policy:      policy,
		Sources:     ingest.NewSourceLimiter(cfg.Ingest.SourceRate, cfg.Ingest.SourceBurst),
		Projects:    ingest.NewProjectLimiter(rdb, cfg.Ingest.ProjectRateMax, cfg.Ingest.ProjectRateSpan),
		ProjectKeys: cfg.Ingest.ProjectKeys,
		Metrics:     m,
		Logger:      logger,
		MaxBody:     cfg.Ingest.MaxBodyBytes,
	})
	apiHandler := violationshttp.NewAPIHandler(backend, groups, reports, feed, logger)
	streamHandler := violationshttp.NewStreamHandler(feed, logger)

	projects := make([]string, 0, len(cfg.Ingest.ProjectKeys))
	for projectID := range cfg.Ingest.ProjectKeys {
		projects = append(projects, projectID)
	}
	sort.Strings(projects)
	dashboardHandler := dashboard.NewHandler(backend, groups, reports, projects, logger)

	var firebaseAuth *fbauth.Client
	if cfg.Auth.FirebaseCredentialsPath != "" {
		firebaseAuth, err = auth.NewVerifier(ctx, cfg.Auth.FirebaseCredentialsPath)
		if err != nil {
			return err
		}
	}

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:  serviceName,
		Version:      cfg.App.Version,
		CORSOrigins:  cfg.Server.CORSOrigins,
		DB:           pool,
		Redis:        rdb,
		Logger:       logger,
		Metrics:      m,
		Ingest:       ingestHandler,
		API:          apiHandler,
		Stream:       streamHandler,
		Dashboard:    dashboardHandler,
		APIKey:       cfg.Auth.APIKey,
		FirebaseAuth: firebaseAuth,
	})

	var scheduler *retention.Scheduler
	if cfg.Retention.SweepEnabled {
		sweeper, cleanup, err := buildSweeper(ctx, cfg, pool, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		scheduler = retention.NewScheduler(sweeper, cfg.Retention.SweepSpec, logger)
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.App.Version),
			zap.Int("projects", len(projects)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildSweeper wires the in-process retention sweeper for single-binary
// deployments. When a bucket is configured the exporter gets its own
// database handle; the returned cleanup closes it.
func buildSweeper(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*retention.Sweeper, func(), error) {
	groups := repository.NewGroupRepository(pool)
	reports := repository.NewReportRepository(pool)

	var archiver retention.Archiver
	cleanup := func() {}

	if cfg.Archive.Bucket != "" {
		db, err := postgres.NewConnection(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive connection: %w", err)
		}
		s3Client, err := archive.NewS3Client(ctx, cfg.Archive.Region)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		archiver = archive.NewExporter(
			postgres.NewArchiveStore(db),
			s3Client,
			cfg.Archive.Bucket,
			cfg.Archive.Prefix,
			cfg.Retention.BatchSize,
			cfg.Archive.Concurrency,
			logger,
		)
		cleanup = func() { db.Close() }
	}

	sweeper := retention.NewSweeper(reports, groups, archiver, cfg.Retention.Days, cfg.Retention.BatchSize, logger)
	return sweeper, cleanup, nil
}

// updateGroupGauges refreshes the per-status group gauges once a minute.
// Statuses with no rows are reset to zero so resolved spikes decay.
func updateGroupGauges(ctx context.Context, groups *repository.GroupRepository, m *metrics.Metrics, logger *zap.Logger) {
	statuses := []domain.GroupStatus{
		domain.StatusUnresolved,
		domain.StatusResolved,
		domain.StatusIgnored,
		domain.StatusPendingDeletion,
		domain.StatusDeletionInProgress,
		domain.StatusPendingMerge,
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		counts, err := groups.CountByStatus(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			logger.Warn("group gauge refresh failed", zap.Error(err))
		default:
			for _, status := range statuses {
				m.SetGroupCount(status.String(), float64(counts[status]))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
