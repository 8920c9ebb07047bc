package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3000", cfg.Server.Addr)
	assert.Equal(t, 32, cfg.Limiter.Shards)
	assert.True(t, cfg.Limiter.AutoRegister)
	assert.Equal(t, 5, cfg.Limiter.DefaultLimit)
	assert.Equal(t, 10*time.Second, cfg.Limiter.DefaultWindow)
	assert.Equal(t, 10*time.Minute, cfg.Limiter.IdleTTL)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, SourceNone, cfg.Policy.Source)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitylimit.yaml")
	doc := `server:
  addr: 0.0.0.0:8080
  trusted_proxies:
    - 10.0.0.0/8
limiter:
  shards: 8
  idle_ttl: 10m
  default_window: 1m
policy:
  source: file
  file: /etc/entitylimit/policies.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("ENTITYLIMIT_LOG_LEVEL", "debug")
	t.Setenv("ENTITYLIMIT_LIMITER_DEFAULT_LIMIT", "42")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedProxies)
	assert.Equal(t, 8, cfg.Limiter.Shards)
	assert.Equal(t, 10*time.Minute, cfg.Limiter.IdleTTL)
	assert.Equal(t, time.Minute, cfg.Limiter.DefaultWindow)
	assert.Equal(t, 42, cfg.Limiter.DefaultLimit)
	assert.Equal(t, SourceFile, cfg.Policy.Source)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty addr", mutate: func(c *Config) { c.Server.Addr = "" }},
		{name: "zero shards", mutate: func(c *Config) { c.Limiter.Shards = 0 }},
		{name: "negative idle ttl", mutate: func(c *Config) { c.Limiter.IdleTTL = -time.Second }},
		{name: "idle ttl without sweep", mutate: func(c *Config) { c.Limiter.IdleTTL = time.Minute; c.Limiter.SweepInterval = 0 }},
		{name: "auto register without idle ttl", mutate: func(c *Config) { c.Limiter.IdleTTL = 0 }},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/40"} }},
		{name: "bad default limit", mutate: func(c *Config) { c.Limiter.DefaultLimit = 0 }},
		{name: "file source without path", mutate: func(c *Config) { c.Policy.Source = SourceFile }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Policy.Source = SourcePostgres }},
		{name: "unknown source", mutate: func(c *Config) { c.Policy.Source = "etcd" }},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := valid()
	cfg.Limiter.AutoRegister = false
	cfg.Limiter.DefaultLimit = 0
	cfg.Limiter.IdleTTL = 0
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "::1"}
	assert.NoError(t, cfg.Validate())
}
