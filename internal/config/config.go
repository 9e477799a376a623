package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the revshare service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Cache      CacheConfig
	Revenue    RevenueConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// ClickHouseConfig configures the traffic statistics warehouse.
// When disabled, traffic statistics are read from PostgreSQL.
type ClickHouseConfig struct {
	Enabled      bool
	Addr         []string
	Database     string
	Username     string
	Password     string
	MaxOpenConns int
	DialTimeout  time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures the ledger update consumer.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	JWTSecret string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled    bool
	RPS        float64
	Burst      int
	WriteRPS   float64
	WriteBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// CacheConfig configures the aggregate cache.
type CacheConfig struct {
	TTL           time.Duration
	RequestBudget time.Duration
	KeyPrefix     string
}

// RevenueConfig holds the allocation constants. They are passed explicitly
// into the engine so they can differ per deployment.
type RevenueConfig struct {
	// EcosystemFactor is the passthrough share applied to pool allocations.
	EcosystemFactor decimal.Decimal
	// DefaultExchangeRate is used when an owner has no rate for a month.
	DefaultExchangeRate decimal.Decimal
	// PartnerUnitValue is multiplied by partner valid pageviews to get partner cost.
	PartnerUnitValue decimal.Decimal
	// DefaultUnitPrice and DefaultUnitType apply to publishers without a group.
	DefaultUnitPrice decimal.Decimal
	DefaultUnitType  string

	USDPlatforms     []string
	PoolPlatform     string
	PoolAdUnitID     string
	PartnerPlatforms []string
	PoolOnlyAccounts []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("REVSHARE_HTTP_ADDR", ":8080"),
			Env:             getEnv("REVSHARE_ENV", "development"),
			ShutdownTimeout: getDurationEnv("REVSHARE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("REVSHARE_DB_HOST", "localhost"),
			Port:     getIntEnv("REVSHARE_DB_PORT", 5432),
			User:     getEnv("REVSHARE_DB_USER", "revshare"),
			Password: getEnv("REVSHARE_DB_PASSWORD", "revshare_secret"),
			DBName:   getEnv("REVSHARE_DB_NAME", "revshare"),
			SSLMode:  getEnv("REVSHARE_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("REVSHARE_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("REVSHARE_DB_MIN_CONNS", 5),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:      getBoolEnv("REVSHARE_CLICKHOUSE_ENABLED", false),
			Addr:         getSliceEnv("REVSHARE_CLICKHOUSE_ADDR", []string{"localhost:9000"}),
			Database:     getEnv("REVSHARE_CLICKHOUSE_DB", "traffic"),
			Username:     getEnv("REVSHARE_CLICKHOUSE_USER", "default"),
			Password:     getEnv("REVSHARE_CLICKHOUSE_PASSWORD", ""),
			MaxOpenConns: getIntEnv("REVSHARE_CLICKHOUSE_MAX_CONNS", 10),
			DialTimeout:  getDurationEnv("REVSHARE_CLICKHOUSE_DIAL_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REVSHARE_REDIS_ENABLED", true),
			Addr:     getEnv("REVSHARE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REVSHARE_REDIS_PASSWORD", ""),
			DB:       getIntEnv("REVSHARE_REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getBoolEnv("REVSHARE_KAFKA_ENABLED", false),
			Brokers: getSliceEnv("REVSHARE_KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("REVSHARE_KAFKA_TOPIC", "ledger.updated"),
			GroupID: getEnv("REVSHARE_KAFKA_GROUP_ID", "revshare-cache"),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("REVSHARE_AUTH_ENABLED", true),
			MasterKey: getEnv("REVSHARE_API_KEY_MASTER", ""),
			JWTSecret: getEnv("REVSHARE_JWT_SECRET", ""),
			SkipPaths: getSliceEnv("REVSHARE_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("REVSHARE_RATE_LIMIT_ENABLED", true),
			RPS:        getFloatEnv("REVSHARE_RATE_LIMIT_RPS", 50),
			Burst:      getIntEnv("REVSHARE_RATE_LIMIT_BURST", 20),
			WriteRPS:   getFloatEnv("REVSHARE_RATE_LIMIT_WRITE_RPS", 10),
			WriteBurst: getIntEnv("REVSHARE_RATE_LIMIT_WRITE_BURST", 5),
		},
		Log: LogConfig{
			Level:  getEnv("REVSHARE_LOG_LEVEL", "info"),
			Format: getEnv("REVSHARE_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("REVSHARE_METRICS_ENABLED", true),
			Path:      getEnv("REVSHARE_METRICS_PATH", "/metrics"),
			Namespace: getEnv("REVSHARE_METRICS_NAMESPACE", "revshare"),
		},
		Cache: CacheConfig{
			TTL:           getDurationEnv("REVSHARE_CACHE_TTL", 24*time.Hour),
			RequestBudget: getDurationEnv("REVSHARE_REQUEST_BUDGET", 30*time.Second),
			KeyPrefix:     getEnv("REVSHARE_CACHE_PREFIX", "revshare:report"),
		},
		Revenue: RevenueConfig{
			EcosystemFactor:     getDecimalEnv("REVSHARE_ECOSYSTEM_FACTOR", "0.595"),
			DefaultExchangeRate: getDecimalEnv("REVSHARE_DEFAULT_EXCHANGE_RATE", "1370"),
			PartnerUnitValue:    getDecimalEnv("REVSHARE_PARTNER_UNIT_VALUE", "5"),
			DefaultUnitPrice:    getDecimalEnv("REVSHARE_DEFAULT_UNIT_PRICE", "50"),
			DefaultUnitType:     getEnv("REVSHARE_DEFAULT_UNIT_TYPE", "percent"),
			USDPlatforms:        getSliceEnv("REVSHARE_USD_PLATFORMS", []string{"adsense"}),
			PoolPlatform:        getEnv("REVSHARE_POOL_PLATFORM", "adpost"),
			PoolAdUnitID:        getEnv("REVSHARE_POOL_AD_UNIT_ID", "mobile_content"),
			PartnerPlatforms:    getSliceEnv("REVSHARE_PARTNER_PLATFORMS", []string{"cozymamang", "mediamixer", "aceplanet", "teads", "taboola"}),
			// platform or platform:alias entries
			PoolOnlyAccounts: getSliceEnv("REVSHARE_POOL_ONLY_ACCOUNTS", []string{}),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("REVSHARE_API_KEY_MASTER or REVSHARE_JWT_SECRET is required when auth is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("REVSHARE_KAFKA_BROKERS is required when kafka is enabled")
	}
	if c.Revenue.EcosystemFactor.IsNegative() || c.Revenue.EcosystemFactor.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("REVSHARE_ECOSYSTEM_FACTOR must be between 0 and 1")
	}
	if !c.Revenue.DefaultExchangeRate.IsPositive() {
		return fmt.Errorf("REVSHARE_DEFAULT_EXCHANGE_RATE must be positive")
	}
	switch c.Revenue.DefaultUnitType {
	case "percent", "flat_per_click":
	default:
		return fmt.Errorf("REVSHARE_DEFAULT_UNIT_TYPE %q is not a known unit type", c.Revenue.DefaultUnitType)
	}
	if c.Revenue.PoolPlatform == "" {
		return fmt.Errorf("REVSHARE_POOL_PLATFORM is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("REVSHARE_CACHE_TTL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getDecimalEnv parses money constants exactly; def must be a valid decimal.
func getDecimalEnv(key, def string) decimal.Decimal {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(def)
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
