package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

type Config struct {
	Env     string
	LogJSON bool

	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	// MongoURI and RedisAddr may be empty, in which case carts live in memory.
	MongoURI      string
	MongoDBName   string
	RedisAddr     string
	RedisPassword string
	StoreTimeout  time.Duration

	// Postgres.Host empty keeps orders in memory.
	Postgres repository.Credentials

	CatalogDBPath string

	// KafkaBrokers empty disables the identity event consumer.
	KafkaBrokers []string

	RateProviderURL string
	RateTimeout     time.Duration
	BaseCurrency    string
	TaxRate         decimal.Decimal

	JWTSecret string

	MidtransServerKey string
	MidtransEnv       string
}

func Load() *Config {
	return &Config{
		Env:     getEnv("APP_ENV", "development"),
		LogJSON: getBool("LOG_JSON", false),

		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: 1 << 20, // 1MB

		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDBName:   getEnv("MONGO_DB_NAME", "storefront"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		StoreTimeout:  getDuration("STORE_TIMEOUT", 2*time.Second),

		Postgres: repository.Credentials{
			Host:     getEnv("POSTGRES_HOST", ""),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:   getEnv("POSTGRES_DB", "orders"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},

		CatalogDBPath: getEnv("CATALOG_DB_PATH", "catalog.db"),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),

		RateProviderURL: getEnv("RATE_PROVIDER_URL", "https://api.frankfurter.app"),
		RateTimeout:     getDuration("RATE_TIMEOUT", 3*time.Second),
		BaseCurrency:    strings.ToUpper(getEnv("BASE_CURRENCY", "USD")),
		TaxRate:         getDecimal("TAX_RATE", decimal.RequireFromString("0.05")),

		JWTSecret: getEnv("JWT_SECRET", ""),

		MidtransServerKey: getEnv("MIDTRANS_SERVER_KEY", ""),
		MidtransEnv:       getEnv("MIDTRANS_ENV", "sandbox"),
	}
}

// BindFlags exposes the settings as command-line flags. Environment values
// loaded beforehand become the flag defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Env, "env", c.Env, "environment name (development|production)")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "emit JSON logs")
	fs.StringVar(&c.HTTPPort, "port", c.HTTPPort, "HTTP listen port")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "per-request timeout")
	fs.StringVar(&c.MongoURI, "mongo-uri", c.MongoURI, "MongoDB URI for account carts (memory when empty)")
	fs.StringVar(&c.MongoDBName, "mongo-db", c.MongoDBName, "MongoDB database name")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address for session carts (memory when empty)")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "cart and order store call timeout")
	fs.StringVar(&c.Postgres.Host, "postgres-host", c.Postgres.Host, "PostgreSQL host for orders (memory when empty)")
	fs.StringVar(&c.CatalogDBPath, "catalog-db", c.CatalogDBPath, "path to the SQLite catalog")
	fs.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers, "Kafka brokers for identity events")
	fs.StringVar(&c.RateProviderURL, "rate-provider-url", c.RateProviderURL, "exchange rate API base URL")
	fs.StringVar(&c.BaseCurrency, "base-currency", c.BaseCurrency, "currency prices are stored in")
	fs.StringVar(&c.MidtransEnv, "midtrans-env", c.MidtransEnv, "Midtrans environment (sandbox|production)")
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TaxRate.IsNegative() {
		return fmt.Errorf("TAX_RATE must not be negative, got %s", c.TaxRate)
	}
	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("BASE_CURRENCY must be a 3-letter code, got %q", c.BaseCurrency)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func getDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
