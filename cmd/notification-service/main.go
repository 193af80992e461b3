package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-orders-go/internal/config"
	"github.com/nazeru/tx-lab-orders-go/internal/notify"
	"github.com/nazeru/tx-lab-orders-go/pkg/kafka"
	"github.com/nazeru/tx-lab-orders-go/pkg/logging"
	"github.com/nazeru/tx-lab-orders-go/pkg/metrics"
)

func main() {
	cfg, err := config.LoadNotifier()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New("notification-service", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.New(dialCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Fatal("db connect error", zap.Error(err))
	}
	defer pool.Close()

	srvMetrics := metrics.NewServerMetrics("notification_service", prometheus.DefaultRegisterer)

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		reader := kafkaClient.NewReader(cfg.Topic, cfg.GroupID)
		defer reader.Close()
		consumer := &notify.Consumer{Reader: reader, Sink: notify.PGSink{Pool: pool}, Log: logger}
		go func() { _ = consumer.Run(ctx) }()
	} else {
		logger.Warn("consumer not started", zap.Error(kafka.ErrDisabled))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			srvMetrics.Observe("health", http.StatusServiceUnavailable, start)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		srvMetrics.Observe("health", http.StatusOK, start)
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("notification-service listening", zap.String("port", cfg.Port), zap.String("topic", cfg.Topic))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
