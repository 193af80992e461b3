package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-orders-go/internal/cache"
	"github.com/nazeru/tx-lab-orders-go/internal/config"
	"github.com/nazeru/tx-lab-orders-go/internal/httpapi"
	"github.com/nazeru/tx-lab-orders-go/internal/inventory"
	"github.com/nazeru/tx-lab-orders-go/internal/order"
	"github.com/nazeru/tx-lab-orders-go/internal/store"
	"github.com/nazeru/tx-lab-orders-go/internal/store/memory"
	"github.com/nazeru/tx-lab-orders-go/internal/store/postgres"
	"github.com/nazeru/tx-lab-orders-go/pkg/kafka"
	"github.com/nazeru/tx-lab-orders-go/pkg/logging"
	"github.com/nazeru/tx-lab-orders-go/pkg/metrics"
	"github.com/nazeru/tx-lab-orders-go/pkg/outbox"
	"github.com/nazeru/tx-lab-orders-go/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(config.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, config.ServiceName, config.ServiceVersion, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing setup error", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	st, source, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	opts := []order.Option{order.WithLogger(logger)}

	if cfg.RedisURL != "" {
		rdb, err := cache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connect error", zap.Error(err))
		}
		defer rdb.Close()
		opts = append(opts, order.WithCache(cache.New(rdb, cfg.ProductCacheTTL, logger)))
	}

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		opts = append(opts, order.WithEvents(cfg.KafkaTopic))
		pub := kafka.NewPublisher(kafkaClient)
		defer pub.Close()
		relay := &outbox.Relay{
			Source:    source,
			Publisher: pub,
			Batch:     cfg.OutboxBatch,
			Interval:  cfg.OutboxInterval,
			Log:       logger,
		}
		go relay.Run(ctx)
	}

	svc := order.NewService(st, inventory.NewLedger(), opts...)
	srvMetrics := metrics.NewServerMetrics("order_service", prometheus.DefaultRegisterer)
	h := httpapi.NewHandler(svc, srvMetrics, logger, cfg.RequestTimeout, config.ServiceVersion)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(h, metrics.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("order-service listening",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.Store),
		zap.Bool("kafka", kafkaClient.Enabled()),
		zap.Bool("cache", cfg.RedisURL != ""),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, outbox.Source, func()) {
	if cfg.Store == config.StoreMemory {
		mem := memory.New()
		if cfg.SeedDemoData {
			mem.Seed()
		}
		return mem, mem, func() {}
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal("db connect error", zap.Error(err))
	}
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatal("db migrate error", zap.Error(err))
	}
	if cfg.SeedDemoData {
		if err := pg.Seed(ctx); err != nil {
			logger.Fatal("db seed error", zap.Error(err))
		}
	}
	return pg, outbox.PGSource{DB: pg.Pool()}, pg.Close
}
