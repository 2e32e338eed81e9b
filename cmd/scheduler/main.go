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
	kafkax "github.com/ariefcatur/go-groupbuy/internal/kafka"
	"github.com/ariefcatur/go-groupbuy/internal/ledger"
	"github.com/ariefcatur/go-groupbuy/internal/lifecycle"
	"github.com/ariefcatur/go-groupbuy/internal/logging"
	"github.com/ariefcatur/go-groupbuy/internal/metrics"
	"github.com/ariefcatur/go-groupbuy/internal/outbox"
	"github.com/ariefcatur/go-groupbuy/internal/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
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
	if cfg.Store != config.StorePostgres {
		fmt.Fprintln(os.Stderr, "scheduler needs STORE=postgres; the api runs sweeps itself with STORE=memory")
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-scheduler")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("scheduler exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	st := postgres.NewStore(db, cfg.LockTimeout)

	eng := campaign.New(st, ledger.New(log), log, m, campaign.Config{
		Producer:       cfg.ServiceName + "-scheduler",
		CommissionRate: cfg.CommissionRate,
	})
	sched := lifecycle.New(st, eng, log, m)

	// metrics only
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("scheduler started", zap.Duration("sweep_interval", cfg.SweepInterval), zap.Duration("relay_interval", cfg.RelayInterval))
		return sched.Run(gctx, cfg.SweepInterval)
	})
	if len(cfg.KafkaBrokers) > 0 {
		prod := kafkax.NewProducer(cfg.KafkaBrokers)
		defer prod.Close()
		relay := outbox.NewRelay(st, prod, log.Named("outbox"), m, cfg.RelayBatch)
		g.Go(func() error { return relay.Run(gctx, cfg.RelayInterval) })
	} else {
		log.Warn("KAFKA_BROKERS not set; outbox events stay pending")
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
