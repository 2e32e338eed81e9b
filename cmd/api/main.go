package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-groupbuy/internal/campaign"
	"github.com/ariefcatur/go-groupbuy/internal/config"
	"github.com/ariefcatur/go-groupbuy/internal/httpx"
	kafkax "github.com/ariefcatur/go-groupbuy/internal/kafka"
	"github.com/ariefcatur/go-groupbuy/internal/ledger"
	"github.com/ariefcatur/go-groupbuy/internal/lifecycle"
	"github.com/ariefcatur/go-groupbuy/internal/logging"
	"github.com/ariefcatur/go-groupbuy/internal/memstore"
	"github.com/ariefcatur/go-groupbuy/internal/metrics"
	"github.com/ariefcatur/go-groupbuy/internal/outbox"
	"github.com/ariefcatur/go-groupbuy/internal/postgres"
	"github.com/ariefcatur/go-groupbuy/internal/redisx"
	"github.com/ariefcatur/go-groupbuy/internal/store"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := map[string]httpx.Check{}

	// Store
	var st store.Store
	switch cfg.Store {
	case config.StoreMemory:
		st = memstore.New(memstore.WithLockTimeout(cfg.LockTimeout))
		log.Warn("using in-memory store; state is lost on exit")
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		pg := postgres.NewStore(db, cfg.LockTimeout)
		checks["postgres"] = pg.Ping
		st = pg
	}

	// Redis is optional; without it the cache is a no-op
	var cache *redisx.Cache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache = redisx.NewCache(rdb)
		if err := cache.Ping(ctx); err != nil {
			log.Warn("redis unreachable, continuing without cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		checks["redis"] = cache.Ping
	}

	eng := campaign.New(st, ledger.New(log), log, m, campaign.Config{
		Producer:       cfg.ServiceName,
		CommissionRate: cfg.CommissionRate,
	})

	router := httpx.NewRouter(log, m, reg)
	router.Get("/readyz", httpx.Ready(checks))
	(&httpx.Handler{Engine: eng, Cache: cache, Log: log}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// The memory store lives in this process only, so the timer and relay run here too.
	if cfg.Store == config.StoreMemory {
		sched := lifecycle.New(st, eng, log.Named("scheduler"), m)
		g.Go(func() error { return sched.Run(gctx, cfg.SweepInterval) })

		if len(cfg.KafkaBrokers) > 0 {
			prod := kafkax.NewProducer(cfg.KafkaBrokers)
			defer prod.Close()
			relay := outbox.NewRelay(st, prod, log.Named("outbox"), m, cfg.RelayBatch)
			g.Go(func() error { return relay.Run(gctx, cfg.RelayInterval) })
		}
	}

	return g.Wait()
}
