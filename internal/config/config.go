package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API, the replicator and the
// operator CLI.
type Config struct {
	Port string

	AuthToken          string
	CORSAllowedOrigins []string

	DatabaseURL         string
	FirestoreProjectID  string
	FirestoreCollection string
	MemoryRepoLatencyMS int
	FixturesPath        string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	SyncMaxAttempts int

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	WorkerEnabled bool

	UploadEndpointURL     string
	UploadTimeoutMS       int
	UploadCacheTTLSeconds int
	UploadCacheMaxEntries int

	DefaultLanguage string
	DefaultTimezone string

	RateLimitRPS        float64
	RateLimitBurst      int
	RateLimitWriteRPS   float64
	RateLimitWriteBurst int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:          getEnv("API_AUTH_TOKEN", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		FirestoreProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
		FirestoreCollection: getEnv("FIRESTORE_COLLECTION", "processes"),
		MemoryRepoLatencyMS: getEnvInt("MEMORY_REPO_LATENCY_MS", 0),
		FixturesPath:        getEnv("FIXTURES_PATH", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "proc_totals_sync"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "proc_totals_sync_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "proc_sync_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		SyncMaxAttempts: getEnvInt("SYNC_MAX_ATTEMPTS", 1),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", true),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),

		UploadEndpointURL:     getEnv("UPLOAD_ENDPOINT_URL", ""),
		UploadTimeoutMS:       getEnvInt("UPLOAD_TIMEOUT_MS", 30000),
		UploadCacheTTLSeconds: getEnvInt("UPLOAD_CACHE_TTL_SECONDS", 600),
		UploadCacheMaxEntries: getEnvInt("UPLOAD_CACHE_MAX_ENTRIES", 256),

		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "de"),
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "Europe/Berlin"),

		RateLimitRPS:        getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 40),
		RateLimitWriteRPS:   getEnvFloat("RATE_LIMIT_WRITE_RPS", 5),
		RateLimitWriteBurst: getEnvInt("RATE_LIMIT_WRITE_BURST", 10),
	}
}

// RepositoryBackend names the persistence collaborator the settings select.
// Postgres wins over Firestore; without either the memory fixtures are used.
func (c Config) RepositoryBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.FirestoreProjectID != "":
		return "firestore"
	default:
		return "memory"
	}
}

func (c Config) MemoryRepoLatency() time.Duration {
	if c.MemoryRepoLatencyMS <= 0 {
		return 0
	}
	return time.Duration(c.MemoryRepoLatencyMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
