package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/adapter/handler"
	"github.com/flashmart/flash-sale/internal/adapter/lock"
	"github.com/flashmart/flash-sale/internal/adapter/metrics"
	"github.com/flashmart/flash-sale/internal/adapter/queue"
	"github.com/flashmart/flash-sale/internal/adapter/storage"
	"github.com/flashmart/flash-sale/internal/config"
	"github.com/flashmart/flash-sale/internal/core/service"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Queue Redis
	queueClient := redis.NewClient(&redis.Options{Addr: cfg.QueueRedisAddr, PoolSize: 100})
	if err := queueClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect queue redis", zap.Error(err))
	}
	logger.Info("connected to queue redis", zap.String("addr", cfg.QueueRedisAddr))

	// Lock nodes: one independent client per node, presumed to fail
	// independently.
	lockNodes := make([]*redis.Client, 0, len(cfg.LockNodeAddrs))
	for _, addr := range cfg.LockNodeAddrs {
		node := redis.NewClient(&redis.Options{Addr: addr})
		if err := node.Ping(ctx).Err(); err != nil {
			logger.Warn("lock node unreachable at startup", zap.String("addr", addr), zap.Error(err))
		}
		lockNodes = append(lockNodes, node)
	}
	logger.Info("lock manager configured", zap.Int("nodes", len(lockNodes)))

	// Adapters
	recorder, err := metrics.NewOTelRecorder(otel.Meter("flashsale"), logger)
	if err != nil {
		logger.Fatal("failed to init metrics recorder", zap.Error(err))
	}
	store := storage.NewMySQLAdapter(db, recorder, logger)
	locks := lock.NewQuorumLock(lockNodes, logger)
	jobQueue := queue.NewRedisQueue(queueClient, cfg.QueueName, logger,
		queue.WithRetryPolicy(cfg.QueueMaxAttempts, cfg.QueueBackoffBase))

	// Core services
	admission := service.NewAdmissionService(store, store, locks, jobQueue, recorder, logger,
		service.WithLockTTL(cfg.LockTTL))
	worker := service.NewReservationWorker(jobQueue, locks, store, store, recorder, logger)

	// Worker pool
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workerCtx)
		}()
	}
	logger.Info("started reservation workers", zap.Int("count", cfg.WorkerCount))

	// HTTP server
	httpHandler := handler.NewHTTPHandler(admission, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", httpHandler.HealthCheck)
	mux.HandleFunc("POST /api/orders", httpHandler.PlaceOrder)
	mux.HandleFunc("GET /api/orders/{id}", httpHandler.GetOrder)
	mux.HandleFunc("GET /api/queue/{jobID}", httpHandler.GetQueueStatus)
	mux.HandleFunc("GET /api/users/{userID}/orders", httpHandler.ListUserOrders)
	mux.HandleFunc("GET /api/metrics/orders", httpHandler.GetOrderMetrics)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	stopWorkers()
	wg.Wait()
	logger.Info("workers stopped")

	queueClient.Close()
	for _, node := range lockNodes {
		node.Close()
	}
	db.Close()
	logger.Info("connections closed")
}
