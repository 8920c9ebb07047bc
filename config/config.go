// Package config loads entitylimit settings from defaults, an optional YAML
// file and ENTITYLIMIT_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/codetesla51/entitylimit/middleware"
)

const EnvPrefix = "ENTITYLIMIT"

const (
	SourceNone     = "none"
	SourceFile     = "file"
	SourceRedis    = "redis"
	SourcePostgres = "postgres"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies lists the peers, as IPs or CIDRs, whose X-Forwarded-For
	// header names the client.
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

type LimiterConfig struct {
	Name          string        `mapstructure:"name"`
	Shards        int           `mapstructure:"shards"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	AutoRegister  bool          `mapstructure:"auto_register"`
	DefaultLimit  int           `mapstructure:"default_limit"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

type PolicyConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Key  string `mapstructure:"key"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:3000")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("limiter.name", "default")
	v.SetDefault("limiter.shards", 32)
	v.SetDefault("limiter.idle_ttl", 10*time.Minute)
	v.SetDefault("limiter.sweep_interval", time.Minute)
	v.SetDefault("limiter.auto_register", true)
	v.SetDefault("limiter.default_limit", 5)
	v.SetDefault("limiter.default_window", 10*time.Second)
	v.SetDefault("policy.source", SourceNone)
	v.SetDefault("policy.file", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key", "entitylimit:policies")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("log.level", "info")
}

// Load reads configuration into v. path may be empty.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Limiter.Shards < 1 {
		return fmt.Errorf("limiter.shards must be at least 1, got %d", c.Limiter.Shards)
	}
	if c.Limiter.IdleTTL < 0 {
		return fmt.Errorf("limiter.idle_ttl must not be negative")
	}
	if c.Limiter.IdleTTL > 0 && c.Limiter.SweepInterval <= 0 {
		return fmt.Errorf("limiter.sweep_interval must be positive when idle_ttl is set")
	}
	if c.Limiter.AutoRegister && (c.Limiter.DefaultLimit < 1 || c.Limiter.DefaultWindow <= 0) {
		return fmt.Errorf("limiter.default_limit and limiter.default_window must be positive when auto_register is enabled")
	}
	if c.Limiter.AutoRegister && c.Limiter.IdleTTL == 0 {
		return fmt.Errorf("limiter.idle_ttl is required when auto_register is enabled")
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}

	switch c.Policy.Source {
	case SourceNone, SourceRedis:
	case SourceFile:
		if c.Policy.File == "" {
			return fmt.Errorf("policy.file is required when policy.source is %q", SourceFile)
		}
	case SourcePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when policy.source is %q", SourcePostgres)
		}
	default:
		return fmt.Errorf("unknown policy.source %q", c.Policy.Source)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
