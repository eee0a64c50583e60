// Package config handles application configuration loading and validation using Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Economy     EconomyConfig     `mapstructure:"economy"`
	Fulfillment FulfillmentConfig `mapstructure:"fulfillment"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig contains database connection settings for PostgreSQL and Redis.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL database connection and pool settings.
type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// RedisConfig contains Redis cache connection and pool settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// EconomyConfig contains quest and ledger engine settings.
type EconomyConfig struct {
	// DefaultTimezone is used when a subject supplies no usable IANA name.
	DefaultTimezone string `mapstructure:"default_timezone"`
	// WeekendCatchupCap bounds weekend catch-up credit when a weekly-main
	// definition does not set its own cap.
	WeekendCatchupCap int `mapstructure:"weekend_catchup_cap"`
	// WalletPageSize is how many recent ledger entries the wallet endpoint returns.
	WalletPageSize int `mapstructure:"wallet_page_size"`
	// DefinitionCacheTTL is the TTL in seconds for cached quest definitions.
	DefinitionCacheTTL int `mapstructure:"definition_cache_ttl"`
}

// FulfillmentConfig contains external voucher provider settings.
type FulfillmentConfig struct {
	ProviderURL string `mapstructure:"provider_url"`
	APIKey      string `mapstructure:"api_key"`
	Enabled     bool   `mapstructure:"enabled"`
	// BatchSize is how many FULFILLING purchases one poller run picks up.
	BatchSize int `mapstructure:"batch_size"`
}

// SchedulerConfig contains background job scheduling settings.
type SchedulerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	ReconciliationCron string `mapstructure:"reconciliation_cron"`
	FulfillmentCron    string `mapstructure:"fulfillment_cron"`
	Timezone           string `mapstructure:"timezone"`
}

// MetricsConfig contains metrics collection settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig contains Prometheus metrics exporter settings.
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/quest-engine/")
	}

	// Bind specific environment variables (explicit bindings for 12-factor app compliance)
	// Server configuration
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT")

	// PostgreSQL configuration
	_ = v.BindEnv("database.postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("database.postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.ssl_mode", "POSTGRES_SSL_MODE")
	_ = v.BindEnv("database.postgres.max_open_conns", "POSTGRES_MAX_OPEN_CONNS")
	_ = v.BindEnv("database.postgres.max_idle_conns", "POSTGRES_MAX_IDLE_CONNS")
	_ = v.BindEnv("database.postgres.conn_max_lifetime", "POSTGRES_CONN_MAX_LIFETIME")

	// Redis configuration
	_ = v.BindEnv("database.redis.host", "REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.redis.db", "REDIS_DB")
	_ = v.BindEnv("database.redis.pool_size", "REDIS_POOL_SIZE")

	// Economy configuration
	_ = v.BindEnv("economy.default_timezone", "ECONOMY_DEFAULT_TIMEZONE")
	_ = v.BindEnv("economy.weekend_catchup_cap", "ECONOMY_WEEKEND_CATCHUP_CAP")
	_ = v.BindEnv("economy.wallet_page_size", "ECONOMY_WALLET_PAGE_SIZE")
	_ = v.BindEnv("economy.definition_cache_ttl", "ECONOMY_DEFINITION_CACHE_TTL")

	// Fulfillment configuration
	_ = v.BindEnv("fulfillment.provider_url", "FULFILLMENT_PROVIDER_URL")
	_ = v.BindEnv("fulfillment.api_key", "FULFILLMENT_API_KEY")
	_ = v.BindEnv("fulfillment.enabled", "FULFILLMENT_ENABLED")
	_ = v.BindEnv("fulfillment.batch_size", "FULFILLMENT_BATCH_SIZE")

	// Scheduler configuration
	_ = v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	_ = v.BindEnv("scheduler.reconciliation_cron", "SCHEDULER_RECONCILIATION_CRON")
	_ = v.BindEnv("scheduler.fulfillment_cron", "SCHEDULER_FULFILLMENT_CRON")
	_ = v.BindEnv("scheduler.timezone", "SCHEDULER_TIMEZONE")

	// Logging configuration
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output", "LOG_OUTPUT")

	// Defaults for settings the engine can run without
	v.SetDefault("server.port", 8080)
	v.SetDefault("economy.default_timezone", "UTC")
	v.SetDefault("economy.weekend_catchup_cap", 2)
	v.SetDefault("economy.wallet_page_size", 20)
	v.SetDefault("economy.definition_cache_ttl", 300)
	v.SetDefault("fulfillment.batch_size", 50)
	v.SetDefault("scheduler.reconciliation_cron", "0 4 * * *")
	v.SetDefault("scheduler.fulfillment_cron", "*/5 * * * *")
	v.SetDefault("scheduler.timezone", "UTC")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if c.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if c.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if c.Database.Redis.Host == "" {
		return fmt.Errorf("database.redis.host is required")
	}
	if _, err := time.LoadLocation(c.Economy.DefaultTimezone); err != nil {
		return fmt.Errorf("economy.default_timezone is not a valid IANA name: %w", err)
	}
	if c.Fulfillment.Enabled && c.Fulfillment.ProviderURL == "" {
		return fmt.Errorf("fulfillment.provider_url is required when fulfillment is enabled")
	}
	return nil
}

// GetLocation returns the scheduler timezone location.
func (c *SchedulerConfig) GetLocation() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
