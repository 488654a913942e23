// kestreld is the search index daemon: it owns one index data directory,
// consumes record-lifecycle events, and serves search and rebuild over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kestrelsearch/kestrel/internal/lifecycle"
	"github.com/kestrelsearch/kestrel/internal/manager"
	"github.com/kestrelsearch/kestrel/internal/record"
	"github.com/kestrelsearch/kestrel/internal/schema"
	"github.com/kestrelsearch/kestrel/internal/searcher/cache"
	"github.com/kestrelsearch/kestrel/internal/server"
	"github.com/kestrelsearch/kestrel/pkg/config"
	"github.com/kestrelsearch/kestrel/pkg/health"
	"github.com/kestrelsearch/kestrel/pkg/kafka"
	"github.com/kestrelsearch/kestrel/pkg/logger"
	"github.com/kestrelsearch/kestrel/pkg/metrics"
	"github.com/kestrelsearch/kestrel/pkg/postgres"
	pkgredis "github.com/kestrelsearch/kestrel/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting kestreld",
		"port", cfg.Server.Port,
		"data_dir", cfg.Index.DataDir,
	)

	registry, err := schema.NewRegistry(cfg.Schemas)
	if err != nil {
		slog.Error("invalid schema configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("schemas resolved", "classes", registry.Classes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	opts := []manager.Option{}
	if queryCache != nil {
		opts = append(opts, manager.WithCache(queryCache))
	}
	if m != nil {
		opts = append(opts, manager.WithMetrics(m))
	}
	mgr, err := manager.Open(*cfg, registry, opts...)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()
	mgr.StartMaintenanceLoop(ctx)

	var store *record.Store
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to record database", "error", err)
			os.Exit(1)
		}
		defer pgClient.Close()
		store = record.NewStore(pgClient)
		slog.Info("record store connected", "host", cfg.Postgres.Host)
	}

	var rebuildProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		rebuildProducer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RebuildComplete)
		defer rebuildProducer.Close()

		consumer := lifecycle.New(kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.RecordEvents,
			lifecycle.HandleRecordEvent(mgr),
		))
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("lifecycle consumer error", "error", err)
			}
		}()
		slog.Info("lifecycle consumer started", "topic", cfg.Kafka.Topics.RecordEvents)
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	h := server.NewHandler(mgr, store, rebuildProducer)
	srv := server.New(cfg.Server, h, checker, m)

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("kestreld listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("kestreld stopped")
}
