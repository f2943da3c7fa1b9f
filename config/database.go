package config

import (
	"strings"
	"time"
)

// StorageBackend selects where jobs and artifacts live.
type StorageBackend string

// QueueBackend selects the task queue implementation.
type QueueBackend string

// CacheBackend selects the snapshot cache implementation.
type CacheBackend string

const (
	StorageBackendPostgres StorageBackend = "postgres"
	StorageBackendMemory   StorageBackend = "memory"

	QueueBackendMemory   QueueBackend = "memory"
	QueueBackendPostgres QueueBackend = "postgres"
	QueueBackendRedis    QueueBackend = "redis"

	CacheBackendRedis  CacheBackend = "redis"
	CacheBackendMemory CacheBackend = "memory"
)

// Valid returns true for a known storage backend.
func (b StorageBackend) Valid() bool {
	return b == StorageBackendPostgres || b == StorageBackendMemory
}

// Valid returns true for a known queue backend.
func (b QueueBackend) Valid() bool {
	return b == QueueBackendMemory || b == QueueBackendPostgres || b == QueueBackendRedis
}

// Valid returns true for a known cache backend.
func (b CacheBackend) Valid() bool {
	return b == CacheBackendRedis || b == CacheBackendMemory
}

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"triton"`
	Password string `env:"PASSWORD"                envDefault:"triton"`
	Name     string `env:"NAME"                    envDefault:"triton"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"     envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME"  envDefault:"5m"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"    envDefault:"5s"`
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration shared by the cache and the redis queue.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
	QueuePrefix        string   `env:"QUEUE_PREFIX"         envDefault:"triton:queue"`
	// QueueBlockTimeout bounds each blocking dequeue. Redis rounds anything below one
	// second up to one second, so that is the minimum.
	QueueBlockTimeout time.Duration `env:"QUEUE_BLOCK_TIMEOUT" envDefault:"5s"`
}

// MinQueueBlockTimeout is the smallest accepted REDIS_QUEUE_BLOCK_TIMEOUT.
const MinQueueBlockTimeout = time.Second

// Sanitize applies guardrails to Redis configuration.
func (c *RedisConfig) Sanitize() {
	c.QueuePrefix = strings.Trim(strings.TrimSpace(c.QueuePrefix), ":")
	if c.QueuePrefix == "" {
		c.QueuePrefix = "triton:queue"
	}
	if c.QueueBlockTimeout < MinQueueBlockTimeout {
		c.QueueBlockTimeout = MinQueueBlockTimeout
	}
}

// CacheConfig controls snapshot caching.
type CacheConfig struct {
	// SnapshotTTL bounds how long a snapshot stays readable. Zero keeps it until replaced.
	SnapshotTTL time.Duration `env:"SNAPSHOT_TTL" envDefault:"0s"`
	// KeyPrefix is prepended to every snapshot key.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"analytics"`
}

// Sanitize applies guardrails to cache configuration.
func (c *CacheConfig) Sanitize() {
	if c.SnapshotTTL < 0 {
		c.SnapshotTTL = 0
	}
	c.KeyPrefix = strings.Trim(strings.TrimSpace(c.KeyPrefix), ":")
	if c.KeyPrefix == "" {
		c.KeyPrefix = "analytics"
	}
}
