package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:      "0.0.0.0:8080",
		Storage:   StorageConfig{Driver: DriverPostgres, DatabaseURL: "postgres://localhost/storefront"},
		Auth:      AuthConfig{Secret: strings.Repeat("s", 32), Issuer: "storefront"},
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory needs no database", mutate: func(c *Config) {
			c.Storage = StorageConfig{Driver: DriverMemory}
		}},
		{name: "rate limit disabled", mutate: func(c *Config) {
			c.RateLimit = RateLimitConfig{}
		}},
		{name: "postgres without url", mutate: func(c *Config) {
			c.Storage.DatabaseURL = ""
		}, errMsg: "database URL is required"},
		{name: "unknown driver", mutate: func(c *Config) {
			c.Storage.Driver = "sqlite"
		}, errMsg: "unknown storage driver"},
		{name: "short secret", mutate: func(c *Config) {
			c.Auth.Secret = "short"
		}, errMsg: "auth secret"},
		{name: "zero window", mutate: func(c *Config) {
			c.RateLimit.Window = 0
		}, errMsg: "window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestConfig_ApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := validConfig()
	cfg.Storage.DatabaseURL = ""
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.Storage.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	// Explicit settings win.
	cfg = validConfig()
	cfg.Addr = "127.0.0.1:7000"
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://localhost/storefront", cfg.Storage.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestSeedMemory(t *testing.T) {
	repos, err := openMemory(t.Context(), StorageConfig{Driver: DriverMemory, SeedFile: "../../db/seed/catalog.json"})
	require.NoError(t, err)

	p, err := repos.products.Get(t.Context(), "course-go-production", "course")
	require.NoError(t, err)
	assert.Equal(t, "Go in Production", p.Title)

	c, err := repos.coupons.FindByCode(t.Context(), "save20")
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", c.Code)

	_, err = openMemory(t.Context(), StorageConfig{Driver: DriverMemory, SeedFile: "missing.json"})
	require.Error(t, err)
}
