package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/zachwright/daily-drops/internal/api"
	"github.com/zachwright/daily-drops/internal/config"
	"github.com/zachwright/daily-drops/internal/mailer"
	"github.com/zachwright/daily-drops/internal/newsletter"
	"github.com/zachwright/daily-drops/internal/pkg/distlock"
	"github.com/zachwright/daily-drops/internal/pkg/logger"
	"github.com/zachwright/daily-drops/internal/privacy"
	"github.com/zachwright/daily-drops/internal/updates"
)

const dispatchLockKey = "newsletter:dispatch"

// The TTL bounds how long a crashed dispatch run can block the next cron
// fire when the lock is Redis-backed.
const dispatchLockTTL = 10 * time.Minute

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logger.DEBUG)
	}

	key, err := privacy.ParseKey(cfg.Newsletter.EncryptionKey)
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}
	cipher, err := privacy.NewCipher(key)
	if err != nil {
		log.Fatalf("Failed to initialize cipher: %v", err)
	}
	hasher, err := privacy.NewHasher(cfg.Newsletter.EffectiveHashSecret())
	if err != nil {
		log.Fatalf("Failed to initialize hasher: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Info("connected to database")

	// Redis is optional; without it the dispatch lock falls back to a
	// PostgreSQL advisory lock.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, dispatch lock falls back to postgres", "error", err)
			redisClient = nil
		}
		cancel()
	}

	ctx := context.Background()
	m, err := mailer.New(ctx, cfg.Mailer, cfg.Newsletter.FromEmail)
	if err != nil {
		log.Fatalf("Failed to initialize mailer: %v", err)
	}

	var source updates.Source
	switch cfg.Updates.Source {
	case "feed":
		source = updates.NewFeedSource(cfg.Updates.FeedURL)
	default:
		source = updates.NewFileSource(cfg.Updates.Path)
	}

	store := newsletter.NewStore(db)
	tokens := newsletter.NewTokenSigner(hasher)

	server := api.NewServer(cfg.Newsletter, api.Deps{
		Store:      store,
		Limiter:    newsletter.NewLimiter(store),
		Dispatcher: newsletter.NewDispatcher(store, cipher, tokens, m, cfg.Newsletter.SiteBaseURL),
		Hasher:     hasher,
		Cipher:     cipher,
		Tokens:     tokens,
		Mailer:     m,
		Updates:    source,
		SendLock:   distlock.NewLock(redisClient, db, dispatchLockKey, dispatchLockTTL),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "mailer", cfg.Mailer.Provider, "updates", cfg.Updates.Source)
		errCh <- server.ListenAndServe(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	logger.Info("server stopped")
}
