package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coupon-engine/internal/config"
)

// clean blanks every key that Load reads so the host environment cannot leak in.
func clean(overrides map[string]string) map[string]string {
	env := map[string]string{
		"APP_ENV": "", "PORT": "", "STORE_DRIVER": "", "DATABASE_URL": "", "REDIS_URL": "",
		"USAGE_DRIVER": "", "JWT_SECRET": "", "IDEMPOTENCY_TTL": "", "MASTER_LOCK_TTL": "",
		"RATE_LIMIT": "", "REQUEST_BODY_LIMIT": "", "DB_AUTO_MIGRATE": "",
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(clean(nil))
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, config.DriverMemory, cfg.StoreDriver)
	require.Equal(t, config.DriverMemory, cfg.UsageDriver)
	require.True(t, cfg.DBAutoMigrate)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, 5*time.Second, cfg.MasterLockTTL)
	require.Equal(t, "300-M", cfg.RateLimit)
	require.EqualValues(t, 1<<20, cfg.RequestBodyLimit)
}

func TestUsageDriverDerivedFromBackends(t *testing.T) {
	cfg, err := config.LoadForTests(clean(map[string]string{"REDIS_URL": "redis://localhost:6379/0"}))
	require.NoError(t, err)
	require.Equal(t, config.DriverRedis, cfg.UsageDriver)

	cfg, err = config.LoadForTests(clean(map[string]string{
		"STORE_DRIVER": "postgres",
		"DATABASE_URL": "postgres://localhost/coupons",
		"REDIS_URL":    "redis://localhost:6379/0",
	}))
	require.NoError(t, err)
	require.Equal(t, config.DriverPostgres, cfg.UsageDriver)
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url": {"STORE_DRIVER": "postgres"},
		"redis usage no url":   {"USAGE_DRIVER": "redis"},
		"pg usage memory":      {"USAGE_DRIVER": "postgres"},
		"unknown store":        {"STORE_DRIVER": "mongo"},
		"prod without secret":  {"APP_ENV": "production"},
		"short secret":         {"JWT_SECRET": "short"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadForTests(clean(env))
			require.Error(t, err)
		})
	}
}
