/**
 * Configuration for the card scan worker
 *
 * Loads configuration from environment variables matching .env.cardscan
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (job queue, optional cache backend)
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Card data providers
	PriceAPIBaseURL string // primary price/print provider
	CardDBBaseURL   string // secondary card-database provider

	// Provider client tuning
	MaxRequestsPerSecond int           // published provider ceiling is 20 req/s
	RequestTimeout       time.Duration // per-request HTTP timeout
	CacheTTL             time.Duration
	CacheBackend         string // "memory" or "redis"
	QueueWarnDepth       int

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds per scan job

	// OCR configuration
	OCRLanguages   []string
	TessdataPrefix string // empty uses the system tessdata directory

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:             getEnvOrDefault("REDIS_URL", "redis://cardscan-redis:6379"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		PriceAPIBaseURL:      getEnvOrDefault("PRICE_API_BASE_URL", "https://yugiohprices.com/api"),
		CardDBBaseURL:        getEnvOrDefault("CARD_DB_BASE_URL", "https://db.ygoprodeck.com/api/v7"),
		MaxRequestsPerSecond: getEnvAsIntOrDefault("MAX_REQUESTS_PER_SECOND", 15),
		RequestTimeout:       time.Duration(getEnvAsIntOrDefault("REQUEST_TIMEOUT_MS", 15000)) * time.Millisecond,
		CacheTTL:             time.Duration(getEnvAsIntOrDefault("CACHE_TTL_HOURS", 24)) * time.Hour,
		CacheBackend:         getEnvOrDefault("CACHE_BACKEND", "memory"),
		QueueWarnDepth:       getEnvAsIntOrDefault("QUEUE_WARN_DEPTH", 20),
		WorkerConcurrency:    getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout:    getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		OCRLanguages:         []string{getEnvOrDefault("OCR_LANGUAGE", "eng")},
		TessdataPrefix:       getEnvOrDefault("TESSDATA_PREFIX", ""),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.PriceAPIBaseURL == "" {
		return fmt.Errorf("PRICE_API_BASE_URL is required")
	}

	if c.CardDBBaseURL == "" {
		return fmt.Errorf("CARD_DB_BASE_URL is required")
	}

	// Hard ceiling published by the card-database provider is 20 req/s;
	// refusing anything above it here keeps a misconfigured worker from
	// getting the shared API key banned.
	if c.MaxRequestsPerSecond < 1 || c.MaxRequestsPerSecond > 20 {
		return fmt.Errorf("MAX_REQUESTS_PER_SECOND must be between 1 and 20, got %d", c.MaxRequestsPerSecond)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_HOURS must be positive, got %v", c.CacheTTL)
	}

	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		return fmt.Errorf("CACHE_BACKEND must be \"memory\" or \"redis\", got %q", c.CacheBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
