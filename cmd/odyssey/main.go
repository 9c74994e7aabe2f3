package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-intake/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-intake/internal/app"
	"github.com/odyssey-erp/odyssey-intake/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-intake/internal/audit/http"
	"github.com/odyssey-erp/odyssey-intake/internal/masterdata"
	"github.com/odyssey-erp/odyssey-intake/internal/observability"
	"github.com/odyssey-erp/odyssey-intake/internal/orders"
	"github.com/odyssey-erp/odyssey-intake/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-intake/internal/platform/db"
	"github.com/odyssey-erp/odyssey-intake/internal/platform/events"
	"github.com/odyssey-erp/odyssey-intake/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-intake/internal/shared"
	"github.com/odyssey-erp/odyssey-intake/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := dispatch(ctx, cfg, logger, os.Args[1:]); err != nil {
		logger.Error("odyssey", slog.Any("error", err))
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) == 0 || args[0] == "serve" {
		return serve(ctx, cfg, logger)
	}
	switch args[0] {
	case "migrate":
		return db.Migrate(cfg.PGDSN, logger)
	case "rollback":
		return db.Rollback(cfg.PGDSN, logger)
	case "jobs":
		jobsCLI, err := cli.NewJobsCLI(redisOpts(cfg))
		if err != nil {
			return err
		}
		defer jobsCLI.Close()
		return jobsCLI.Run(ctx, os.Stdout, args[1:])
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate, rollback or jobs)", args[0])
	}
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		if cfg.SubmitLockEnabled {
			return fmt.Errorf("submit lock needs redis: %w", err)
		}
		logger.Warn("redis unavailable, running without snapshot cache", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	blobs, err := storage.New(ctx, cfg.Storage())
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	if closer, ok := blobs.(io.Closer); ok {
		defer closer.Close()
	}

	resolver := masterdata.NewResolver(
		masterDataSource(cfg, dbpool),
		masterdata.NewSnapshotCache(redisClient, cfg.MasterDataTTL),
		logger,
		masterdata.ResolverConfig{TTL: cfg.MasterDataTTL},
	)

	publisher, closePublisher, err := eventPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	repo := orders.NewRepository(dbpool)
	deps := orders.Dependencies{
		Allocator:   orders.NewAllocator(repo, cfg.DOLookback),
		MasterData:  resolver,
		Blobs:       blobs,
		Events:      publisher,
		Idempotency: shared.NewIdempotencyStore(dbpool),
		Metrics:     metrics,
		Logger:      logger,
	}
	if cfg.SubmitLockEnabled {
		deps.Locker = shared.NewRedisLocker(redisClient, cfg.SubmitLockWait)
	}
	service := orders.NewService(repo, deps, orders.ServiceConfig{
		MaxAttempts: cfg.SubmitMaxAttempts,
		LockTTL:     cfg.SubmitLockTTL,
	})
	tracker := orders.NewTracker(repo, shared.NewAuditLogger(dbpool), logger)
	query := orders.NewQueryService(repo, blobs, cfg.AttachmentLinkTTL, logger)

	params := app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		OrdersHandler:     orders.NewHandler(logger, service, tracker, query, cfg.AttachmentMaxSize),
		MasterDataHandler: masterdata.NewHandler(logger, resolver),
		AuditHandler:      audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		Metrics:           metrics,
		Checks: map[string]app.HealthCheck{
			"postgres": func(ctx context.Context) error { return dbpool.Ping(ctx) },
		},
	}
	if redisClient != nil {
		inspector := asynq.NewInspector(redisOpts(cfg))
		defer inspector.Close()
		params.JobHandler = jobs.NewHandler(inspector, logger)
		params.Checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		params.JobHandler = jobs.NewHandler(nil, logger)
	}
	if local, ok := blobs.(*storage.LocalStore); ok {
		params.Files = local.Handler()
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      app.NewRouter(params),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if _, err := resolver.Status(gctx); err != nil {
			logger.Warn("initial master data load", slog.Any("error", err))
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func masterDataSource(cfg *app.Config, pool *pgxpool.Pool) masterdata.Source {
	if cfg.MasterDataSource == app.MasterDataXLSX {
		return masterdata.NewXLSXSource(cfg.MasterDataXLSXPath, cfg.MasterDataXLSXSheet)
	}
	return masterdata.NewPostgresSource(pool, cfg.MasterDataTable)
}

func eventPublisher(cfg *app.Config) (orders.Publisher, func(), error) {
	switch cfg.EventsDriver {
	case app.EventsKafka:
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return orders.NewTopicPublisher(kp), func() { _ = kp.Close() }, nil
	case app.EventsAsynq:
		client, err := jobs.NewClient(redisOpts(cfg))
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
