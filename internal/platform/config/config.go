package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the cache service
type Config struct {
	Cache         CacheConfig         `mapstructure:"cache"`
	Store         StoreConfig         `mapstructure:"store"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// CacheConfig holds per-domain TTLs and in-process tier settings
type CacheConfig struct {
	L1SweepInterval time.Duration `mapstructure:"l1_sweep_interval"`
	Parse           ParseTTLs     `mapstructure:"parse"`
	Embedding       EmbeddingTTLs `mapstructure:"embedding"`
	Inference       InferenceTTLs `mapstructure:"inference"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

// ParseTTLs holds parse result retention settings
type ParseTTLs struct {
	L1TTL time.Duration `mapstructure:"l1_ttl"`
	L2TTL time.Duration `mapstructure:"l2_ttl"`
}

// EmbeddingTTLs holds embedding retention settings.
// Embeddings have no durable expiry; only the in-process copy ages out.
type EmbeddingTTLs struct {
	L1TTL time.Duration `mapstructure:"l1_ttl"`
}

// InferenceTTLs holds inference response retention settings
type InferenceTTLs struct {
	L1TTL time.Duration `mapstructure:"l1_ttl"`
	L2TTL time.Duration `mapstructure:"l2_ttl"`
}

// BreakerConfig holds circuit breaker tuning for the durable tier
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects and configures the durable tier backend
type StoreConfig struct {
	Backend string       `mapstructure:"backend"` // sqlite or redis
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	Redis   RedisConfig  `mapstructure:"redis"`
}

// SQLiteConfig holds SQLite backend settings
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis backend settings
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MaintenanceConfig holds background maintenance settings
type MaintenanceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Workers  int           `mapstructure:"workers"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// AlertsConfig holds degradation alert settings
type AlertsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Sampler  string `mapstructure:"sampler"` // always, never, ratio
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Cache defaults
	v.SetDefault("cache.l1_sweep_interval", "5m")
	v.SetDefault("cache.parse.l1_ttl", "24h")
	v.SetDefault("cache.parse.l2_ttl", "168h") // 7 days
	v.SetDefault("cache.embedding.l1_ttl", "168h")
	v.SetDefault("cache.inference.l1_ttl", "1h")
	v.SetDefault("cache.inference.l2_ttl", "720h") // 30 days
	v.SetDefault("cache.breaker.failure_threshold", 5)
	v.SetDefault("cache.breaker.success_threshold", 2)
	v.SetDefault("cache.breaker.timeout", "60s")

	// Store defaults
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite.path", "data/contract-cache.db")
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.interval", "1h")
	v.SetDefault("maintenance.timeout", "5m")
	v.SetDefault("maintenance.workers", 2)

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Alerts defaults
	v.SetDefault("alerts.enabled", false)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sampler", "always")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Store validation
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "redis":
		if c.Store.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	// Cache validation
	if c.Cache.Parse.L1TTL <= 0 || c.Cache.Parse.L2TTL <= 0 {
		return fmt.Errorf("parse TTLs must be positive")
	}
	if c.Cache.Embedding.L1TTL <= 0 {
		return fmt.Errorf("embedding L1 TTL must be positive")
	}
	if c.Cache.Inference.L1TTL <= 0 || c.Cache.Inference.L2TTL <= 0 {
		return fmt.Errorf("inference TTLs must be positive")
	}
	if c.Cache.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}

	// Maintenance validation
	if c.Maintenance.Enabled {
		if c.Maintenance.Interval <= 0 {
			return fmt.Errorf("maintenance interval must be positive")
		}
		if c.Maintenance.Workers <= 0 {
			return fmt.Errorf("maintenance workers must be positive")
		}
	}

	// Alerts validation
	if c.Alerts.Enabled {
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required when alerts are enabled")
		}
		if c.AWS.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required when alerts are enabled")
		}
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
