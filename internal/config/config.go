package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for both binaries. It is built once
// by Load and shared read-only afterwards.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
	Sentry    SentryConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token and credential parameters.
type AuthConfig struct {
	JWTSecret        string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	BcryptCost       int
	MaxLoginAttempts int
	LockDuration     time.Duration
	SeedUsers        bool
}

// RateLimitConfig defines the fixed-window admission policy.
type RateLimitConfig struct {
	Window            time.Duration
	DefaultPerWindow  int
	AuthPerWindow     int
	AuthPathPrefix    string
	ClientIDHeader    string
	KeyPrefix         string
	UseInMemoryCounts bool

	// StoreBreakerFailures consecutive store errors stop calls to the store
	// for StoreBreakerCooldown. Zero disables the breaker.
	StoreBreakerFailures int
	StoreBreakerCooldown time.Duration
}

// GatewayConfig defines routing and upstream behavior.
type GatewayConfig struct {
	RoutesFile          string
	AuthServiceURL      string
	UserServiceURL      string
	EurekaURL           string
	ConfigServerURL     string
	DocsURL             string
	UpstreamTimeout     time.Duration
	BreakerInterval     time.Duration
	BreakerOpenTimeout  time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	PublicPaths         []string
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN string
}

var defaultPublicPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/docs",
	"/swagger-ui",
	"/v3/api-docs",
	"/webjars",
	"/health",
	"/actuator/health",
	"/fallback",
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "edge-gateway"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("AUTH_JWT_SECRET", "dev-secret-change-me-0123456789abcdef"),
			AccessTokenTTL:   getEnvAsDuration("AUTH_ACCESS_TOKEN_TTL", 24*time.Hour),
			RefreshTokenTTL:  getEnvAsDuration("AUTH_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			BcryptCost:       getEnvAsInt("AUTH_BCRYPT_COST", 12),
			MaxLoginAttempts: getEnvAsInt("AUTH_MAX_LOGIN_ATTEMPTS", 5),
			LockDuration:     getEnvAsDuration("AUTH_LOCK_DURATION", 30*time.Minute),
			SeedUsers:        getEnvAsBool("AUTH_SEED_USERS", false),
		},
		RateLimit: RateLimitConfig{
			Window:               getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			DefaultPerWindow:     getEnvAsInt("RATE_LIMIT_DEFAULT_RPM", 60),
			AuthPerWindow:        getEnvAsInt("RATE_LIMIT_AUTH_RPM", 10),
			AuthPathPrefix:       getEnv("RATE_LIMIT_AUTH_PREFIX", "/auth/"),
			ClientIDHeader:       getEnv("RATE_LIMIT_CLIENT_HEADER", "X-Client-ID"),
			KeyPrefix:            getEnv("RATE_LIMIT_KEY_PREFIX", "rate_limit"),
			UseInMemoryCounts:    getEnvAsBool("RATE_LIMIT_IN_MEMORY", false),
			StoreBreakerFailures: getEnvAsInt("RATE_LIMIT_STORE_BREAKER_FAILURES", 5),
			StoreBreakerCooldown: getEnvAsDuration("RATE_LIMIT_STORE_BREAKER_COOLDOWN", 10*time.Second),
		},
		Gateway: GatewayConfig{
			RoutesFile:          os.Getenv("GATEWAY_ROUTES_FILE"),
			AuthServiceURL:      getEnv("AUTH_SERVICE_URL", "http://127.0.0.1:8081"),
			UserServiceURL:      getEnv("USER_SERVICE_URL", "http://127.0.0.1:8082"),
			EurekaURL:           getEnv("EUREKA_URL", "http://127.0.0.1:8761"),
			ConfigServerURL:     getEnv("CONFIG_SERVER_URL", "http://127.0.0.1:8888"),
			DocsURL:             getEnv("DOCS_URL", "http://127.0.0.1:8081"),
			UpstreamTimeout:     getEnvAsDuration("GATEWAY_UPSTREAM_TIMEOUT", 5*time.Second),
			BreakerInterval:     getEnvAsDuration("GATEWAY_BREAKER_INTERVAL", 60*time.Second),
			BreakerOpenTimeout:  getEnvAsDuration("GATEWAY_BREAKER_OPEN_TIMEOUT", 30*time.Second),
			BreakerMinRequests:  getEnvAsInt("GATEWAY_BREAKER_MIN_REQUESTS", 5),
			BreakerFailureRatio: getEnvAsFloat("GATEWAY_BREAKER_FAILURE_RATIO", 0.5),
			PublicPaths:         getEnvAsList("GATEWAY_PUBLIC_PATHS", defaultPublicPaths),
		},
		Sentry: SentryConfig{
			DSN: os.Getenv("SENTRY_DSN"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the admission components cannot operate with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must not be empty"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("AUTH_ACCESS_TOKEN_TTL must be positive"))
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("AUTH_REFRESH_TOKEN_TTL must be positive"))
	}
	if c.Auth.MaxLoginAttempts <= 0 {
		errs = append(errs, errors.New("AUTH_MAX_LOGIN_ATTEMPTS must be positive"))
	}
	if c.Auth.LockDuration <= 0 {
		errs = append(errs, errors.New("AUTH_LOCK_DURATION must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimit.DefaultPerWindow <= 0 || c.RateLimit.AuthPerWindow <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.Gateway.BreakerFailureRatio <= 0 || c.Gateway.BreakerFailureRatio > 1 {
		errs = append(errs, errors.New("GATEWAY_BREAKER_FAILURE_RATIO must be in (0,1]"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
