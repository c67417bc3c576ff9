package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/esi-pager/pkg/client"
	"github.com/Sternrassler/esi-pager/pkg/esi"
	"github.com/Sternrassler/esi-pager/pkg/logging"
	"github.com/Sternrassler/esi-pager/pkg/paged"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := logging.Setup(logging.ConfigFromEnv())

	// Configuration from environment
	redisURL := getEnv("REDIS_URL", "")
	port := getEnv("PORT", "8080")
	userAgent := getEnv("USER_AGENT", "esi-pager/0.1.0")
	baseURL := getEnv("ESI_BASE_URL", client.DefaultBaseURL)
	endpoint := getEnv("ESI_ENDPOINT", "/v1/markets/10000002/orders/?order_type=all")
	pageSize, err := strconv.Atoi(getEnv("PAGE_SIZE", "1000"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid PAGE_SIZE")
	}

	ctx := context.Background()

	// Redis is optional; without it pages are not cached and the error
	// limit is tracked in process.
	var redisClient *redis.Client
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis", redisURL).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		logger.Info().Str("redis", redisURL).Msg("Connected to Redis")
	}

	cfg := client.DefaultConfig(redisClient, userAgent)
	cfg.BaseURL = baseURL
	esiClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create ESI client")
	}
	defer esiClient.Close()

	source, err := esi.NewListSource[json.RawMessage](ctx, esiClient, endpoint, pageSize)
	if err != nil {
		logger.Fatal().Err(err).Str("endpoint", endpoint).Msg("Failed to load first page")
	}

	model, err := paged.New[json.RawMessage](source, logging.NewLogger("paged"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create paged model")
	}

	logger.Info().
		Str("endpoint", endpoint).
		Int("elements", model.Len()).
		Int("pages", model.PageCount()).
		Msg("Listing loaded")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newServer(model, logging.NewLogger("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("user_agent", userAgent).Msg("Starting esi-pager server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
