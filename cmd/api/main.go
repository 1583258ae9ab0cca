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

	"github.com/angelmondragon/resale-ledger/api/routes"
	"github.com/angelmondragon/resale-ledger/internal/catalog"
	"github.com/angelmondragon/resale-ledger/internal/checkout"
	"github.com/angelmondragon/resale-ledger/internal/history"
	"github.com/angelmondragon/resale-ledger/internal/inventory"
	"github.com/angelmondragon/resale-ledger/internal/ledger"
	"github.com/angelmondragon/resale-ledger/internal/reconcile"
	"github.com/angelmondragon/resale-ledger/pkg/config"
	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/instance"
	"github.com/angelmondragon/resale-ledger/pkg/lock"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
	"github.com/angelmondragon/resale-ledger/pkg/metrics"
	"github.com/angelmondragon/resale-ledger/pkg/migrate"
	"github.com/angelmondragon/resale-ledger/pkg/outbox"
	"github.com/angelmondragon/resale-ledger/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	// Redis is optional for a single replica: locks fall back to in-process
	// mutexes, catalog lookups go straight to the database and idempotency
	// keys are not enforced.
	var redisClient *redis.Client
	if cfg.Redis.Configured() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	}

	locker, err := newLocker(cfg.Lock, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build locker", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(promRegistry)

	conn := dbClient.DB()
	entries := ledger.NewRepository(conn)
	inventories := inventory.NewRepository(conn)
	lots := inventory.NewLotRepository(conn)
	historyRepo := history.NewRepository(conn)
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	var itemCache catalog.Cache
	if redisClient != nil {
		itemCache = redisClient
	}
	items := catalog.NewCachedRegistry(catalog.NewRepository(conn), itemCache, cfg.Catalog.CacheTTL, logg)

	engine, err := reconcile.NewEngine(conn, inventories, lots, reconcile.EngineOptions{
		RestateProfit: cfg.Ledger.RestateProfit,
		Metrics:       ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Tx:           dbClient,
		Entries:      entries,
		Inventories:  inventories,
		Lots:         lots,
		History:      historyRepo,
		Catalog:      items,
		Reconciler:   engine,
		Locker:       locker,
		Outbox:       events,
		Metrics:      ledgerMetrics,
		Logger:       logg,
		HistoryLimit: cfg.Ledger.HistoryLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Tx:          dbClient,
		Repo:        checkout.NewRepository(conn),
		Entries:     entries,
		Inventories: inventories,
		Lots:        lots,
		History:     historyRepo,
		Catalog:     items,
		Ledger:      ledgerService,
		Reconciler:  engine,
		Locker:      locker,
		Outbox:      events,
		Metrics:     ledgerMetrics,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"instance":     instance.ID(),
		"lock_backend": cfg.Lock.Backend,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, promRegistry, ledgerService, checkoutService),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}

// newLocker picks the critical-section backend. Config.Load already rejects
// the redis backend without a redis endpoint.
func newLocker(cfg config.LockConfig, client *redis.Client) (lock.Locker, error) {
	if !cfg.UsesRedis() {
		return lock.NewKeyedMutex(), nil
	}
	if client == nil {
		return nil, errors.New("redis lock backend requires a redis client")
	}
	return lock.NewRedisLocker(client.Scripter(), lock.RedisOptions{
		TTL:           cfg.TTL,
		RetryInterval: cfg.RetryInterval,
		MaxRetries:    cfg.MaxRetries,
		KeyFunc:       client.LockKey,
	})
}
