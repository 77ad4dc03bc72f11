// Package config loads scrapecore's runtime configuration via viper from
// environment variables, a config file, and documented defaults: an
// environment variable overrides the file, and the file overrides a default.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds top-level process settings.
type AppConfig struct {
	Environment string
	Debug       bool
}

// ServerConfig holds the composition root's demo HTTP-less server loop
// settings (graceful shutdown timing).
type ServerConfig struct {
	ShutdownTimeout time.Duration
}

// PostgresConfig mirrors store.ConnConfig's fields for viper binding.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig mirrors cache.RemoteConfig's fields for viper binding.
type RedisConfig struct {
	Endpoints           []string
	Password            string
	DB                  int
	HealthCheckInterval time.Duration
	DialTimeout         time.Duration
}

// CacheConfig mirrors cache.ManagerConfig's fields for viper binding.
type CacheConfig struct {
	KeyPrefix             string
	DefaultTTL            time.Duration
	LocalTTL              time.Duration
	LocalMaxSizeBytes     int
	CompressionThreshold  int
	HitRatioRefreshPeriod time.Duration
}

// WorkerConfig mirrors worker.Config's fields for viper binding.
type WorkerConfig struct {
	PoolSize            int
	DrainTimeout        time.Duration
	OrphanRecoveryAfter time.Duration
}

// QueueConfig controls the in-memory priority queue.
type QueueConfig struct {
	Capacity int
}

// ScraperConfig controls fetcher construction.
type ScraperConfig struct {
	HeadlessPoolSize int
}

// Config is the fully resolved, process-wide configuration.
type Config struct {
	App     AppConfig
	Server  ServerConfig
	Logger  LoggerConfig
	Postgres PostgresConfig
	Redis   RedisConfig
	Cache   CacheConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	Scraper ScraperConfig
}

// LoggerConfig mirrors logging.Config's fields for viper binding.
type LoggerConfig struct {
	Level       string
	Development bool
	OutputPaths []string
}

// Load reads config.yaml (if present), environment variables, and defaults.
// Precedence, highest first: environment variable, config file, default.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Environment: v.GetString("app.environment"),
			Debug:       v.GetBool("app.debug"),
		},
		Server: ServerConfig{
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Logger: LoggerConfig{
			Level:       v.GetString("logger.level"),
			Development: v.GetBool("logger.development"),
			OutputPaths: v.GetStringSlice("logger.output_paths"),
		},
		Postgres: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetString("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			DBName:   v.GetString("postgres.dbname"),
			SSLMode:  v.GetString("postgres.sslmode"),
		},
		Redis: RedisConfig{
			Endpoints:           v.GetStringSlice("redis.endpoints"),
			Password:            v.GetString("redis.password"),
			DB:                  v.GetInt("redis.db"),
			HealthCheckInterval: v.GetDuration("redis.health_check_interval"),
			DialTimeout:         v.GetDuration("redis.dial_timeout"),
		},
		Cache: CacheConfig{
			KeyPrefix:             v.GetString("cache.key_prefix"),
			DefaultTTL:            v.GetDuration("cache.default_ttl"),
			LocalTTL:              v.GetDuration("cache.local_ttl"),
			LocalMaxSizeBytes:     v.GetInt("cache.local_max_size_bytes"),
			CompressionThreshold:  v.GetInt("cache.compression_threshold"),
			HitRatioRefreshPeriod: v.GetDuration("cache.hit_ratio_refresh_period"),
		},
		Worker: WorkerConfig{
			PoolSize:            v.GetInt("worker.pool_size"),
			DrainTimeout:        v.GetDuration("worker.drain_timeout"),
			OrphanRecoveryAfter: v.GetDuration("worker.orphan_recovery_after"),
		},
		Queue: QueueConfig{
			Capacity: v.GetInt("queue.capacity"),
		},
		Scraper: ScraperConfig{
			HeadlessPoolSize: v.GetInt("scraper.headless_pool_size"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "production")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.output_paths", []string{"stdout"})

	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "scrapecore")
	v.SetDefault("postgres.dbname", "scrapecore")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.endpoints", []string{"127.0.0.1:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.health_check_interval", "10s")
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("cache.key_prefix", "scrapecore:cache:")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.local_ttl", "5m")
	v.SetDefault("cache.local_max_size_bytes", 100*1024*1024)
	v.SetDefault("cache.compression_threshold", 1024)
	v.SetDefault("cache.hit_ratio_refresh_period", "30s")

	v.SetDefault("worker.pool_size", 10)
	v.SetDefault("worker.drain_timeout", "30s")
	v.SetDefault("worker.orphan_recovery_after", "10m")

	v.SetDefault("queue.capacity", 1000)

	v.SetDefault("scraper.headless_pool_size", 2)
}
