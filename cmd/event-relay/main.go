package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/dental-clinic-scheduling/internal/appointment"
	"github.com/hackgods/dental-clinic-scheduling/internal/config"
	"github.com/hackgods/dental-clinic-scheduling/internal/db"
	"github.com/hackgods/dental-clinic-scheduling/internal/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("event-relay starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Int("batch_size", cfg.RelayBatchSize),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	var publisher events.Publisher
	if cfg.RabbitMQURL == "" {
		logger.Warn("RABBITMQ_URL not set, events will only be logged")
		publisher = events.NewNoopPublisher(logger)
	} else {
		rmq, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			logger.Fatal("rabbitmq connection error", zap.Error(err))
		}
		publisher = events.NewBreakerPublisher(rmq, events.DefaultBreakerConfig(), logger)
		logger.Info("connected to RabbitMQ", zap.String("exchange", cfg.RabbitMQExchange))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("error closing publisher", zap.Error(err))
		}
	}()

	relay := events.NewRelay(appointment.NewPgRepository(pgPool), publisher, cfg.RelayBatchSize, logger)

	runOnce(rootCtx, relay, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping event relay")
			return
		case <-ticker.C:
			runOnce(rootCtx, relay, logger)
		}
	}
}

func runOnce(ctx context.Context, relay *events.Relay, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	published, err := relay.RunOnce(runCtx)
	if err != nil {
		logger.Warn("relay run stopped early",
			zap.Int("published", published),
			zap.Error(err),
		)
		return
	}
	if published > 0 {
		logger.Info("relay run complete",
			zap.Int("published", published),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
