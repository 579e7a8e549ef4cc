package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sheikh-saqib/allowance-ledger/internal/api"
	"github.com/sheikh-saqib/allowance-ledger/internal/api/handlers"
	"github.com/sheikh-saqib/allowance-ledger/internal/auth"
	"github.com/sheikh-saqib/allowance-ledger/internal/config"
	"github.com/sheikh-saqib/allowance-ledger/internal/engine"
	"github.com/sheikh-saqib/allowance-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/ledger"
	"github.com/sheikh-saqib/allowance-ledger/internal/logger"
	"github.com/sheikh-saqib/allowance-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/allowance-ledger/internal/storage/postgres"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	ctx := logger.WithContext(context.Background(), log)

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	l := ledger.NewLedger(store)
	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMaxAttempts(cfg.CASMaxAttempts),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		opts = append(opts, engine.WithPublisher(publisher))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Publishing ledger events")
	} else {
		log.Warn().Msg("No Kafka brokers configured - ledger events will not be published")
	}
	eng := engine.New(store, l, opts...)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid token configuration")
	}
	authSvc, err := auth.NewService(store, tokens, auth.WithServiceLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auth service")
	}

	rl := api.RateLimit{Limit: cfg.RateLimit, Window: cfg.RateWindow}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable - rate limiter will fail open")
		}
		rl.Client = rdb
	} else {
		log.Warn().Msg("No Redis configured - rate limiting disabled")
	}

	h := handlers.New(authSvc, eng, l, store)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(h, tokens, rl, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// flush ledger events queued by in-flight requests
	if err := eng.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ledger events not fully flushed")
	}

	log.Info().Msg("Server exited")
}

// openStore uses Postgres when DATABASE_URL is set and the in-memory store
// otherwise. The schema is applied on start.
func openStore(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (interfaces.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("No DATABASE_URL configured - using in-memory store, data is lost on exit")
		return memory.NewMemoryStore(), func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { closeQuietly(db, log) }

	if err := postgres.Migrate(ctx, db); err != nil {
		closeDB()
		return nil, nil, err
	}
	return postgres.NewPostgresStore(db), closeDB, nil
}

func closeQuietly(db *sql.DB, log zerolog.Logger) {
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}
