package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cartloom/capture-service/internal/awsx"
	"github.com/cartloom/capture-service/internal/capture"
	"github.com/cartloom/capture-service/internal/gateway"
	"github.com/cartloom/capture-service/internal/idempotency"
	"github.com/cartloom/capture-service/internal/orders"
	"github.com/cartloom/capture-service/internal/queue"
	"github.com/cartloom/capture-service/internal/webhooks"
)

const (
	processingTTL = 10 * time.Minute
	processedTTL  = 24 * time.Hour

	retentionKeep  = 1000
	retentionEvery = time.Hour

	shutdownGrace = 30 * time.Second
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := awsx.NewClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr: envOr("REDIS_ADDR", "localhost:6379"),
	})
	store := queue.NewRedisStore(redisClient)
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}

	notifier := awsx.NewNotifier(
		clients.SQS,
		clients.CloudWatch,
		os.Getenv("ALERTS_QUEUE_URL"),
		logger,
	)

	ordersStore := orders.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"))
	gw := gateway.NewHTTPClient(
		os.Getenv("GATEWAY_BASE_URL"),
		os.Getenv("GATEWAY_API_KEY"),
	)

	algo := capture.NewAlgorithm(gw, logger)
	captureWorker := capture.NewWorker(ordersStore, gw, algo, notifier, logger)
	scheduler := capture.NewScheduler(store, logger)

	idemStore := idempotency.NewStore(
		clients.DynamoDB,
		os.Getenv("IDEMPOTENCY_TABLE"),
		processingTTL,
		processedTTL,
	)
	webhookWorker := webhooks.NewWorker(
		idempotency.NewFailOpen(idemStore, logger),
		notifier,
		logger,
	)
	capture.RegisterEventHandlers(webhookWorker, scheduler, logger)

	limiter := queue.NewLimiter(queue.LimitConfig{
		Queue:          capture.Queue,
		MaxConcurrency: envInt("CAPTURE_MAX_CONCURRENCY", 3),
		RateLimit:      5, // gateway rate budget
		RateBurst:      5,
	})

	pool := queue.NewPool(store, logger,
		queue.WithQueues(capture.Queue, webhooks.Queue),
		queue.WithConcurrency(envInt("WORKER_CONCURRENCY", 5)),
		queue.WithBackoff(queue.DefaultStrategy()),
		queue.WithLimiter(limiter),
		queue.WithRetention(retentionKeep, retentionEvery),
		queue.WithDeadLetter(func(ctx context.Context, j *queue.Job, cause error) {
			switch j.Queue {
			case capture.Queue:
				captureWorker.DeadLetter(ctx, j, cause)
			case webhooks.Queue:
				webhookWorker.DeadLetter(ctx, j, cause)
			}
		}),
	)
	pool.Register(capture.JobName, captureWorker.Handle)
	pool.Register(webhooks.JobName, webhookWorker.Handle)

	if err := pool.Start(ctx); err != nil {
		log.Fatalf("failed to start worker pool: %v", err)
	}
	logger.Info("worker pool started",
		slog.String("queues", capture.Queue+","+webhooks.Queue),
	)

	<-ctx.Done()
	logger.Info("shutting down worker pool")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		logger.Error("worker pool did not stop cleanly", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
