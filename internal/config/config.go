package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Store and usage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	StoreDriver        string
	DatabaseURL        string
	DBAutoMigrate      bool
	RedisURL           string
	UsageDriver        string
	UsageTTL           time.Duration
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string
	IdempotencyTTL     time.Duration
	MasterLockTTL      time.Duration
	RateLimit          string
	RequestBodyLimit   int64
	ReadyTimeout       time.Duration
	Obs                ObsConfig
}

// ObsConfig groups logging, metrics, tracing and profiling switches.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             strings.ToLower(valueOrDefault(k.String("APP_ENV"), "development")),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		StoreDriver:        strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), DriverMemory)),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		DBAutoMigrate:      parseBool(k.String("DB_AUTO_MIGRATE"), true),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		UsageDriver:        strings.ToLower(strings.TrimSpace(k.String("USAGE_DRIVER"))),
		UsageTTL:           parseDuration(k.String("USAGE_TTL"), "0s"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:        strings.TrimSpace(k.String("JWT_AUDIENCE")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		MasterLockTTL:      parseDuration(k.String("MASTER_LOCK_TTL"), "5s"),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "300-M"),
		RequestBodyLimit:   parseInt64(k.String("REQUEST_BODY_LIMIT"), 1<<20),
		ReadyTimeout:       parseDuration(k.String("HEALTH_READY_TIMEOUT"), "500ms"),
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "coupon"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "none"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
			PprofUser:        k.String("SECURE_PPROF_BASIC_AUTH_USER"),
			PprofPass:        k.String("SECURE_PPROF_BASIC_AUTH_PASS"),
		},
	}
	if cfg.UsageDriver == "" {
		cfg.UsageDriver = defaultUsageDriver(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultUsageDriver(cfg *Config) string {
	switch {
	case cfg.StoreDriver == DriverPostgres:
		return DriverPostgres
	case cfg.RedisURL != "":
		return DriverRedis
	default:
		return DriverMemory
	}
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.UsageDriver {
	case DriverMemory:
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when USAGE_DRIVER=redis")
		}
	case DriverPostgres:
		if c.StoreDriver != DriverPostgres {
			return errors.New("USAGE_DRIVER=postgres requires STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported USAGE_DRIVER %q", c.UsageDriver)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 bytes")
	}
	if c.RequestBodyLimit <= 0 {
		return errors.New("REQUEST_BODY_LIMIT must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt64(value string, fallback int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
