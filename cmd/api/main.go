package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cartcache-backend/api/routes"
	"github.com/angelmondragon/cartcache-backend/internal/cart"
	"github.com/angelmondragon/cartcache-backend/internal/popularity"
	"github.com/angelmondragon/cartcache-backend/pkg/config"
	"github.com/angelmondragon/cartcache-backend/pkg/db"
	"github.com/angelmondragon/cartcache-backend/pkg/instance"
	"github.com/angelmondragon/cartcache-backend/pkg/logger"
	"github.com/angelmondragon/cartcache-backend/pkg/metrics"
	"github.com/angelmondragon/cartcache-backend/pkg/migrate"
	"github.com/angelmondragon/cartcache-backend/pkg/redis"
	"github.com/angelmondragon/cartcache-backend/pkg/startup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := startup.Policy{MaxRetries: cfg.Startup.MaxRetries, Backoff: cfg.Startup.Backoff}

	dbClient, err := startup.Connect(ctx, logg, "database", policy, func(ctx context.Context) (*db.Client, error) {
		return db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := startup.Connect(ctx, logg, "redis", policy, func(ctx context.Context) (*redis.Client, error) {
		return redis.New(ctx, cfg.Redis, logg)
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, redisClient.Close())
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	aggregator, err := popularity.NewAggregator(redisClient, cfg.Cache.PopularityKey, cfg.Cache.TopProductsDefault)
	if err != nil {
		return err
	}
	locker, err := cart.NewLocker(cfg.Cart, redisClient)
	if err != nil {
		return err
	}
	cartService, err := cart.NewService(cart.ServiceParams{
		Store:      cart.NewRepository(dbClient.DB(), dbClient),
		Cache:      cart.NewCache(redisClient, cfg.Cache.CartKeyPrefix, cfg.Cache.TTL),
		Popularity: aggregator,
		Locker:     locker,
		Metrics:    metrics.NewCartMetrics(registry),
		Logger:     logg,
	})
	if err != nil {
		return err
	}
	addr := ":" + cfg.App.Port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":                 cfg.App.Env,
		"addr":                addr,
		"instance":            instance.GetID(),
		"replicas":            len(cfg.Redis.ReplicaURLs),
		"replica_selector":    cfg.Redis.ReplicaSelector,
		"write_serialization": cfg.Cart.WriteSerialization,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, registry, metrics.NewHTTPMetrics(registry), cartService),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
