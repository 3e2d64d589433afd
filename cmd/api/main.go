package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cartloom/capture-service/internal/awsx"
	"github.com/cartloom/capture-service/internal/idempotency"
	"github.com/cartloom/capture-service/internal/queue"
	"github.com/cartloom/capture-service/internal/webhooks"
)

const (
	processingTTL = 10 * time.Minute
	processedTTL  = 24 * time.Hour
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupRouter(intake *webhooks.Intake) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	webhooks.RegisterRoutes(r, intake)

	return r
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	clients, err := awsx.NewClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr: envOr("REDIS_ADDR", "localhost:6379"),
	})
	store := queue.NewRedisStore(redisClient)
	if err := store.Ping(context.Background()); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}

	idemStore := idempotency.NewStore(
		clients.DynamoDB,
		os.Getenv("IDEMPOTENCY_TABLE"),
		processingTTL,
		processedTTL,
	)
	intake := webhooks.NewIntake(
		idempotency.NewFailOpen(idemStore, logger),
		store,
		logger,
	)

	r := setupRouter(intake)

	addr := ":" + envOr("PORT", "8080")
	logger.Info("webhook intake listening", slog.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
