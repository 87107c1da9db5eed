package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/trade-settlement/internal/api"
	"github.com/ayo6706/trade-settlement/internal/config"
	"github.com/ayo6706/trade-settlement/internal/db"
	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/notify"
	"github.com/ayo6706/trade-settlement/internal/observability"
	"github.com/ayo6706/trade-settlement/internal/repository"
	"github.com/ayo6706/trade-settlement/internal/service"
	"github.com/ayo6706/trade-settlement/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the settlement workers and ops HTTP server, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	logger.Info("configuration loaded", zap.Stringer("config", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.SchemaAutoApply {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	store := repository.NewStore(pool)
	ledgerSvc := service.NewLedgerService(store)
	feePoolSvc := service.NewFeePoolService(store, cfg.FeeShareScale)
	if err := feePoolSvc.ProvisionPools(ctx, cfg.FeePools); err != nil {
		return fmt.Errorf("provision fee pools: %w", err)
	}

	publisher, redisClient, closePublisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init notification sink: %w", err)
	}
	defer closePublisher()

	processor := service.NewJobProcessor(store, service.JobProcessorConfig{
		Backoff:        domain.BackoffPolicy{Base: cfg.JobBackoffBase, Max: cfg.JobBackoffMax},
		StaleAfter:     cfg.JobStaleAfter,
		HandlerTimeout: cfg.JobHandlerTimeout,
	})
	processor.Register(domain.JobTypeLedgerUpdate, ledgerSvc)
	processor.Register(domain.JobTypeFeeDistribution, feePoolSvc)
	processor.Register(domain.JobTypeNotify, service.NewNotificationService(publisher))

	listener := notify.NewPGListener(pool, service.JobsChannel)
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		if err := listener.Run(ctx); err != nil {
			logger.Error("settlement job listener stopped", zap.Error(err))
		}
	}()

	settlementWorkers := worker.NewSettlementWorkerPool(processor).
		WithConcurrency(cfg.WorkerConcurrency).
		WithPollInterval(cfg.WorkerPollInterval).
		WithBatchSize(cfg.WorkerBatchSize).
		WithWakeup(listener.Wake())
	stopWorkers := settlementWorkers.Run(ctx)
	logger.Info("settlement workers started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("interval", cfg.WorkerPollInterval),
		zap.Int32("batch", cfg.WorkerBatchSize),
	)

	reconciler := worker.NewReconciliationWorker(service.NewReconciliationService(store, feePoolSvc)).
		WithInterval(cfg.ReconciliationInterval)
	stopReconciler := reconciler.Run(ctx)

	services := api.Services{
		DB:       pool,
		Ledger:   ledgerSvc,
		FeePools: feePoolSvc,
		Jobs:     processor,
	}
	if redisClient != nil {
		services.Redis = redisClient
	}
	router := api.NewRouter(cfg, logger, services)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	// Workers release their claims on the way out, so stop them before the pool closes.
	logger.Info("stopping settlement workers")
	stopWorkers()
	stopReconciler()
	cancel()
	<-listenerDone

	logger.Info("shutdown complete")
	return nil
}

// newPublisher builds the configured notification sink. The returned Redis
// client is nil unless the sink is Redis; it is reused for readiness checks.
func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.Publisher, *redis.Client, func(), error) {
	switch cfg.NotifySink {
	case config.NotifySinkRedis:
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		client, err := notify.NewRedisClient(pingCtx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}
		return notify.NewRedisStreamPublisher(client, cfg.NotifyStream, cfg.NotifyStreamMaxLen), client, closeFn, nil
	case config.NotifySinkKafka:
		producer, err := notify.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, nil, nil, err
		}
		publisher := notify.NewKafkaPublisher(producer, cfg.NotifyTopic)
		closeFn := func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka producer close failed", zap.Error(err))
			}
		}
		return publisher, nil, closeFn, nil
	default:
		return notify.NewLogPublisher(logger), nil, func() {}, nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
