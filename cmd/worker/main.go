/**
 * Card Scan Worker - Main Entry Point
 *
 * Go worker that resolves photographed trading cards to canonical card
 * records.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed scan job queue
 * - Scan pipeline: capture -> ROI crop -> preprocess -> Tesseract OCR ->
 *   normalize -> resolve
 * - Rate-limited, TTL-cached client for the card-data providers
 *   (price/print lookup with card-database fallback, bulk name corpus)
 * - PostgreSQL persistence for scan results
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tcgvault/cardscan-worker/internal/cards"
	"github.com/tcgvault/cardscan-worker/internal/config"
	"github.com/tcgvault/cardscan-worker/internal/ocr"
	"github.com/tcgvault/cardscan-worker/internal/pipeline"
	"github.com/tcgvault/cardscan-worker/internal/queue"
	"github.com/tcgvault/cardscan-worker/internal/resolve"
	"github.com/tcgvault/cardscan-worker/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.cardscan"); err != nil {
		log.Printf("Warning: .env.cardscan not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Card scan worker starting...")
	log.Printf("Configuration loaded: Redis=%s, PriceAPI=%s, CardDB=%s, Workers=%d, RateCeiling=%d req/s",
		cfg.RedisURL, cfg.PriceAPIBaseURL, cfg.CardDBBaseURL, cfg.WorkerConcurrency, cfg.MaxRequestsPerSecond)

	// Initialize scan result storage (optional)
	var store *storage.PostgresClient
	if cfg.DatabaseURL != "" {
		log.Printf("Connecting to PostgreSQL...")
		store, err = storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL client: %v", err)
		}
		defer store.Close()
		log.Printf("PostgreSQL client initialized")
	} else {
		log.Printf("DATABASE_URL not set, scan results will not be persisted")
	}

	// Initialize the provider cache store
	var cacheStore cards.CacheStore
	switch cfg.CacheBackend {
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL for cache backend: %v", err)
		}
		rdb := redis.NewClient(opt)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("Redis cache backend unreachable: %v", err)
		}
		cancel()
		cacheStore = cards.NewRedisStore(rdb, cfg.CacheTTL, "")
		log.Printf("Provider cache backend: redis (TTL=%v)", cfg.CacheTTL)
	default:
		cacheStore = cards.NewMemoryStore(cfg.CacheTTL)
		log.Printf("Provider cache backend: memory (TTL=%v)", cfg.CacheTTL)
	}

	// Initialize the rate-limited provider client
	cardsClient := cards.NewClient(cards.Config{
		PriceBaseURL:         cfg.PriceAPIBaseURL,
		CardDBBaseURL:        cfg.CardDBBaseURL,
		MaxRequestsPerSecond: cfg.MaxRequestsPerSecond,
		RequestTimeout:       cfg.RequestTimeout,
		QueueWarnDepth:       cfg.QueueWarnDepth,
		Store:                cacheStore,
	})
	defer cardsClient.Close()
	log.Printf("Provider client initialized")

	// Initialize the scan pipeline
	engine := ocr.NewTesseractEngine(cfg.OCRLanguages, cfg.TessdataPrefix)
	scanner, err := pipeline.NewScanner(engine, resolve.NewResolver(cardsClient))
	if err != nil {
		log.Fatalf("Failed to initialize scanner: %v", err)
	}
	log.Printf("Scan pipeline initialized (engine=%s, languages=%v)", engine.Name(), cfg.OCRLanguages)

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue...")
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         "cardscan:jobs",
		Concurrency:       cfg.WorkerConcurrency,
		Scanner:           scanner,
		Store:             store,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("Card scan worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: cardscan:jobs")
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Provider rate ceiling: %d req/s (published limit 20 req/s)", cfg.MaxRequestsPerSecond)
	log.Printf("Cache TTL: %v", cfg.CacheTTL)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := consumer.Stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	stats := cardsClient.Stats()
	log.Printf("Provider client dispatched %d requests total (queue depth at shutdown: %d)",
		stats.TotalRequests, stats.QueuedRequests)

	log.Printf("Shutdown complete")
}
