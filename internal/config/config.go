package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendNATS   = "nats"
)

type Config struct {
	DatabaseURL   string `mapstructure:"database_url"`   // CONFHUB_DATABASE_URL (required; "memory://" for in-memory)
	HTTPAddr      string `mapstructure:"http_addr"`      // CONFHUB_HTTP_ADDR (default ":8080")
	GRPCAddr      string `mapstructure:"grpc_addr"`      // CONFHUB_GRPC_ADDR (default ":9090")
	NATSURL       string `mapstructure:"nats_url"`       // CONFHUB_NATS_URL (optional, empty = in-process events only)
	AuthToken     string `mapstructure:"auth_token"`     // CONFHUB_AUTH_TOKEN (optional, empty = auth disabled)
	EncryptionKey string `mapstructure:"encryption_key"` // CONFHUB_ENCRYPTION_KEY (64 hex chars; empty = encryption unavailable)

	// Cache settings
	CacheBackend   string        `mapstructure:"cache_backend"`    // CONFHUB_CACHE_BACKEND (memory|nats, default memory)
	CacheBucket    string        `mapstructure:"cache_bucket"`     // CONFHUB_CACHE_BUCKET (NATS KV bucket, default "confhub-cache")
	CacheCapacity  uint64        `mapstructure:"cache_capacity"`   // CONFHUB_CACHE_CAPACITY (memory backend entries, 0 = unbounded)
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`        // CONFHUB_CACHE_TTL (default 5m, jittered ±10%)
	LockTTL        time.Duration `mapstructure:"lock_ttl"`         // CONFHUB_LOCK_TTL (default 5s)
	LockRetries    int           `mapstructure:"lock_retries"`     // CONFHUB_LOCK_RETRIES (default 3)
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay"` // CONFHUB_LOCK_RETRY_DELAY (default 50ms)

	// Logging
	LogLevel  string `mapstructure:"log_level"`  // CONFHUB_LOG_LEVEL (debug|info|warn|error, default info)
	LogFormat string `mapstructure:"log_format"` // CONFHUB_LOG_FORMAT (text|json, default text)
	LogFile   string `mapstructure:"log_file"`   // CONFHUB_LOG_FILE (optional JSON copy of every record)

	// Sync settings
	SyncInterval   time.Duration `mapstructure:"sync_interval"`    // CONFHUB_SYNC_INTERVAL (default 10m; 0 = disabled)
	SyncS3Bucket   string        `mapstructure:"sync_s3_bucket"`   // CONFHUB_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        `mapstructure:"sync_s3_endpoint"` // CONFHUB_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        `mapstructure:"sync_s3_region"`   // CONFHUB_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        `mapstructure:"sync_s3_key"`      // CONFHUB_SYNC_S3_KEY (default "confhub/backup.jsonl")
}

var defaults = map[string]any{
	"database_url":     "",
	"http_addr":        ":8080",
	"grpc_addr":        ":9090",
	"nats_url":         "",
	"auth_token":       "",
	"encryption_key":   "",
	"cache_backend":    CacheBackendMemory,
	"cache_bucket":     "confhub-cache",
	"cache_capacity":   0,
	"cache_ttl":        "5m",
	"lock_ttl":         "5s",
	"lock_retries":     3,
	"lock_retry_delay": "50ms",
	"log_level":        "info",
	"log_format":       "text",
	"log_file":         "",
	"sync_interval":    "10m",
	"sync_s3_bucket":   "",
	"sync_s3_endpoint": "",
	"sync_s3_region":   "us-east-1",
	"sync_s3_key":      "confhub/backup.jsonl",
}

// Load reads configuration from CONFHUB_* environment variables and, when
// CONFHUB_CONFIG_FILE names one, a yaml or toml file. Environment variables
// win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONFHUB")
	v.AutomaticEnv()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}

	if path := os.Getenv("CONFHUB_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("CONFHUB_DATABASE_URL is required")
	}
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendNATS:
	default:
		return fmt.Errorf("CONFHUB_CACHE_BACKEND: unknown backend %q", c.CacheBackend)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("CONFHUB_LOCK_TTL must be positive")
	}
	if c.LockRetries < 1 {
		return fmt.Errorf("CONFHUB_LOCK_RETRIES must be at least 1")
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("CONFHUB_SYNC_INTERVAL must not be negative")
	}
	return nil
}

// InMemory reports whether the in-memory store was requested.
func (c *Config) InMemory() bool {
	return c.DatabaseURL == "memory://"
}
