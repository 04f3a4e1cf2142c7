package config

import (
	"os"
	"strconv"
	"time"
)

// Config aggregates all runtime configuration. FromEnv builds it from
// environment variables so main stays lean.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Ingest   IngestConfig
	Worker   WorkerConfig
	Cache    CacheConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string
	APIKey          string
	RateLimit       int
	RateLimitWindow time.Duration
	ShutdownTimeout time.Duration
}

// PostgresConfig configures the event store connection.
type PostgresConfig struct {
	URL string
}

// RedisConfig configures the shared Redis client used by the result cache and
// the durable queue. An empty URL leaves Redis unconfigured and the in-memory
// implementations are wired instead.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// IngestConfig bounds ingestion and fixes the retry posture of enqueued jobs.
type IngestConfig struct {
	MaxPerRequest      int
	RetryAttempts      int
	RetryBackoffBase   time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// WorkerConfig bounds the persistence worker's storage operations.
type WorkerConfig struct {
	ChunkSize int
}

// CacheConfig fixes the result cache TTL.
type CacheConfig struct {
	TTL time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults that
// match a local development setup.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:            envString("PULSE_ADDR", ":8080"),
			APIKey:          os.Getenv("PULSE_API_KEY"),
			RateLimit:       envInt("PULSE_RATE_LIMIT", 100),
			RateLimitWindow: envDuration("PULSE_RATE_LIMIT_WINDOW", 15*time.Minute),
			ShutdownTimeout: envDuration("PULSE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("PULSE_POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("PULSE_REDIS_URL"),
			PoolSize:     envInt("PULSE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("PULSE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("PULSE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("PULSE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("PULSE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Ingest: IngestConfig{
			MaxPerRequest:      envInt("PULSE_MAX_PER_REQUEST", 1000),
			RetryAttempts:      envInt("PULSE_RETRY_ATTEMPTS", 3),
			RetryBackoffBase:   envDuration("PULSE_RETRY_BACKOFF", 2*time.Second),
			CompletedRetention: envDuration("PULSE_COMPLETED_RETENTION", time.Hour),
			FailedRetention:    envDuration("PULSE_FAILED_RETENTION", 24*time.Hour),
		},
		Worker: WorkerConfig{
			ChunkSize: envInt("PULSE_BATCH_CHUNK_SIZE", 1000),
		},
		Cache: CacheConfig{
			TTL: envDuration("PULSE_CACHE_TTL", time.Hour),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
