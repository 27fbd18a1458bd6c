package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("GATEWAY_PUBLIC_PATHS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Auth.MaxLoginAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Auth.LockDuration)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 60, cfg.RateLimit.DefaultPerWindow)
	assert.Equal(t, 10, cfg.RateLimit.AuthPerWindow)
	assert.Contains(t, cfg.Gateway.PublicPaths, "/auth/login")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("AUTH_LOCK_DURATION", "90s")
	t.Setenv("GATEWAY_PUBLIC_PATHS", "/a, /b ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Auth.MaxLoginAttempts)
	assert.Equal(t, 90*time.Second, cfg.Auth.LockDuration)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Gateway.PublicPaths)
}

func TestLoad_InvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "x")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Auth: AuthConfig{
			JWTSecret:        "",
			AccessTokenTTL:   0,
			RefreshTokenTTL:  time.Hour,
			MaxLoginAttempts: 5,
			LockDuration:     time.Minute,
		},
		RateLimit: RateLimitConfig{Window: time.Minute, DefaultPerWindow: 60, AuthPerWindow: 10},
		Gateway:   GatewayConfig{BreakerFailureRatio: 0.5},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
	assert.Contains(t, err.Error(), "AUTH_ACCESS_TOKEN_TTL")

	cfg.Auth.JWTSecret = "s"
	cfg.Auth.AccessTokenTTL = time.Minute
	assert.NoError(t, cfg.Validate())
}
