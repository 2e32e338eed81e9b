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

	"github.com/ariefcatur/go-groupbuy/internal/config"
	"github.com/ariefcatur/go-groupbuy/internal/groupbuy"
	kafkax "github.com/ariefcatur/go-groupbuy/internal/kafka"
	"github.com/ariefcatur/go-groupbuy/internal/logging"
	"github.com/ariefcatur/go-groupbuy/internal/metrics"
	"github.com/ariefcatur/go-groupbuy/internal/notify"
	"github.com/ariefcatur/go-groupbuy/internal/redisx"
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
	if len(cfg.KafkaBrokers) == 0 {
		fmt.Fprintln(os.Stderr, "notifier needs KAFKA_BROKERS")
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-notifier")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("notifier exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Redis (dedup + campaign cache invalidation)
	var cache notify.Cache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache = redisx.NewCache(rdb)
	} else {
		log.Warn("REDIS_ADDR not set; redelivered events are not deduplicated")
	}

	var sink notify.Sink = notify.LogSink{Log: log}
	if cfg.NotifyWebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.NotifyWebhookURL)
	}
	svc := notify.NewService(cache, sink, log, m)

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, groupbuy.Topics, cfg.NotifierWorkers, log)

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("notifier consumer started",
			zap.String("group", cfg.NotifierGroup),
			zap.Strings("topics", groupbuy.Topics),
			zap.Int("workers", cfg.NotifierWorkers))
		return cons.Start(gctx, svc.Handle)
	})
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
