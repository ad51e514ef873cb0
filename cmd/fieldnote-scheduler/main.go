package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldnote/fieldnote/pkg/allocation"
	"github.com/fieldnote/fieldnote/pkg/async"
	"github.com/fieldnote/fieldnote/pkg/config"
	"github.com/fieldnote/fieldnote/pkg/jobs"
	"github.com/fieldnote/fieldnote/pkg/notify"
	"github.com/fieldnote/fieldnote/pkg/observability"
	"github.com/fieldnote/fieldnote/pkg/schema"
	"github.com/fieldnote/fieldnote/pkg/storage"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", false, "Apply schema migrations before starting")
	flag.Parse()

	if err := run(*migrate); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(migrate bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	dispatcher, err := notify.New(cfg.Notify.Dispatcher, notify.HTTPConfig{
		Endpoint:    cfg.Notify.Endpoint,
		AccessToken: cfg.Notify.AccessToken,
		ChunkSize:   cfg.Notify.ChunkSize,
		Timeout:     cfg.Notify.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	db, err := storage.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Database connected")

	if migrate {
		if err := schema.Run(ctx, db, logger); err != nil {
			db.Close()
			return err
		}
	}

	// the scheduler has no grant cache, but a configured redis backs the health check
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient, err = storage.OpenRedis(ctx, cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, health will report degraded")
		}
	}

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
		gatherer = registry
	}

	registry := jobs.NewRegistry(jobs.SystemClock{})
	pollerOpts := []allocation.Option{
		allocation.WithConfig(allocation.Config{
			InitialDelay: cfg.Scheduler.InitialDelay,
			Interval:     cfg.Scheduler.Interval,
			Throttle:     cfg.Scheduler.Throttle,
			BatchSize:    cfg.Scheduler.BatchSize,
			Concurrency:  cfg.Scheduler.Concurrency,
		}),
		allocation.WithLogger(logger),
	}
	if metrics != nil {
		pollerOpts = append(pollerOpts, allocation.WithMetrics(metrics))
	}
	if providers != nil {
		pollerOpts = append(pollerOpts, allocation.WithTracerProvider(providers.TracerProvider))
	}
	poller := allocation.NewPoller(allocation.NewPostgresStore(db), dispatcher, registry, pollerOpts...)

	var watchdog *jobs.Watchdog
	if cfg.Scheduler.WatchdogSchedule != "" {
		watchdogOpts := []jobs.WatchdogOption{
			jobs.WithSchedule(cfg.Scheduler.WatchdogSchedule),
			jobs.WithLogger(logger),
		}
		if metrics != nil {
			watchdogOpts = append(watchdogOpts, jobs.WithMetrics(metrics))
		}
		watchdog = jobs.NewWatchdog(registry, allocation.JobName, poller.Restart, watchdogOpts...)
	}

	checker := observability.NewHealthChecker(db, redisClient, version)
	checker.AddCheck("schema", schemaCheck(db), true)
	checker.AddCheck("push_job", pushJobCheck(registry), false)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newOpsHandler(registry, poller, checker, gatherer, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("push job", func(context.Context) error {
		poller.Stop()
		return nil
	})
	if watchdog != nil {
		shutdown.Register("watchdog", watchdog.Stop)
	}
	shutdown.Register("telemetry", providers.Shutdown)
	shutdown.Register("connections", func(context.Context) error {
		if redisClient != nil {
			redisClient.Close()
		}
		return db.Close()
	})

	if path := os.Getenv(config.FileEnv); path != "" {
		async.SafeGo(ctx, 0, logger, "config watch", func(ctx context.Context) error {
			return config.Watch(ctx, path, logger, func(next *config.Config) {
				logger.SetLevel(next.Observability.Level())
			})
		})
	}

	poller.Start(ctx)
	if watchdog != nil {
		if err := watchdog.Start(); err != nil {
			return err
		}
	}

	async.SafeGo(ctx, 0, logger, "ops server", func(context.Context) error {
		logger.Infof("Ops server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			return err
		}
		return nil
	})

	return shutdown.WaitForShutdown(ctx)
}
