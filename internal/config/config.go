package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// DBMetricsEnabled attaches the gorm prometheus plugin so pool stats
	// show up on /metrics.
	DBMetricsEnabled bool

	RateLimit   RateLimitConfig
	Sweeper     SweeperConfig
	MetricsPush MetricsPushConfig

	// GatewayEnvironment selects which gateway entries are eligible for
	// new invoices (sandbox or live).
	GatewayEnvironment string
}

type RateLimitConfig struct {
	Enabled bool
	// Backend is "memory" (single instance only) or "redis".
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RequestsPerMinute int
	Burst             int
}

type SweeperConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
	LockTTLSeconds  int
}

// MetricsPushConfig forwards counters to a central Prometheus when the
// instance cannot be scraped directly.
type MetricsPushConfig struct {
	Enabled bool
	// Exporter is "remote_write" or "pushgateway".
	Exporter        string
	Endpoint        string
	AuthToken       string
	IntervalSeconds int
}

const (
	EnvironmentSandbox = "sandbox"
	EnvironmentLive    = "live"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "payrail"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payrail"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", true),

		RateLimit: RateLimitConfig{
			Enabled:           getenvBool("RATE_LIMIT_ENABLED", true),
			Backend:           strings.ToLower(getenv("RATE_LIMIT_BACKEND", "memory")),
			RedisAddr:         strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:           getenvInt("RATE_LIMIT_REDIS_DB", 0),
			RequestsPerMinute: getenvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
			Burst:             getenvInt("RATE_LIMIT_BURST", 20),
		},
		Sweeper: SweeperConfig{
			Enabled:         getenvBool("SWEEPER_ENABLED", true),
			IntervalSeconds: getenvInt("SWEEPER_INTERVAL_SECONDS", 300),
			BatchSize:       getenvInt("SWEEPER_BATCH_SIZE", 200),
			LockTTLSeconds:  getenvInt("SWEEPER_LOCK_TTL_SECONDS", 60),
		},
		MetricsPush: MetricsPushConfig{
			Enabled:         getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:        strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "remote_write")),
			Endpoint:        strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken:       strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			IntervalSeconds: getenvInt("METRICS_PUSH_INTERVAL_SECONDS", 60),
		},

		GatewayEnvironment: normalizeGatewayEnvironment(getenv("GATEWAY_ENVIRONMENT", EnvironmentSandbox)),
	}
}

// Module provides application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewGatewayCatalogHolder),
)

func normalizeGatewayEnvironment(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case EnvironmentLive:
		return EnvironmentLive
	default:
		return EnvironmentSandbox
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
