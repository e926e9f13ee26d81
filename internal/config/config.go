package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"delegation-cache/internal/persist"
)

const EnvPrefix = "DELEGCACHE"

type Config struct {
	Cache       CacheConfig       `mapstructure:"cache"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Log         LogConfig         `mapstructure:"log"`
}

type CacheConfig struct {
	MaxEntries        int           `mapstructure:"max_entries"`         // 0 = unbounded
	MaxBytes          int64         `mapstructure:"max_bytes"`           // 0 = unbounded
	DefaultTTLSeconds int           `mapstructure:"default_ttl_seconds"` // TTL when a put gives none
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`      // Janitor period, 0 disables it
	Coalesce          bool          `mapstructure:"coalesce"`            // Share one computation per key
}

type FingerprintConfig struct {
	MaxDepth   int      `mapstructure:"max_depth"`
	MaxEntries int      `mapstructure:"max_entries"`
	Exclude    []string `mapstructure:"exclude"` // gitignore-style patterns
}

type PersistenceConfig struct {
	Backend     string `mapstructure:"backend"` // "none", "sqlite", "redis"
	SQLitePath  string `mapstructure:"sqlite_path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type AdminConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"env"`
}

// DefaultTTL converts DefaultTTLSeconds.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// Persist maps the persistence section onto persist.Config.
func (c PersistenceConfig) Persist() persist.Config {
	return persist.Config{
		Backend:     c.Backend,
		SQLitePath:  c.SQLitePath,
		RedisAddr:   c.RedisAddr,
		RedisPrefix: c.RedisPrefix,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.max_bytes", 64<<20) // 64 MiB
	v.SetDefault("cache.default_ttl_seconds", 3600)
	v.SetDefault("cache.sweep_interval", "1m")
	v.SetDefault("cache.coalesce", false)

	v.SetDefault("fingerprint.max_depth", 6)
	v.SetDefault("fingerprint.max_entries", 5000)
	v.SetDefault("fingerprint.exclude", []string{})

	v.SetDefault("persistence.backend", persist.BackendNone)
	v.SetDefault("persistence.sqlite_path", "delegcache.db")
	v.SetDefault("persistence.redis_addr", "127.0.0.1:6379")
	v.SetDefault("persistence.redis_prefix", persist.DefaultRedisPrefix)

	v.SetDefault("admin.addr", ":9464")
	v.SetDefault("admin.request_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "production")
}

// Load reads configuration from configPath (or ./delegcache.yaml when it
// exists) and DELEGCACHE_* environment variables, e.g.
// DELEGCACHE_CACHE_MAX_ENTRIES.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("delegcache")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components would refuse later, so a bad
// file fails at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.MaxEntries < 0 || c.Cache.MaxBytes < 0 {
		errs = append(errs, errors.New("cache bounds must not be negative"))
	}
	if c.Cache.MaxEntries == 0 && c.Cache.MaxBytes == 0 {
		errs = append(errs, errors.New("at least one of cache.max_entries and cache.max_bytes must be positive"))
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		errs = append(errs, errors.New("cache.default_ttl_seconds must be positive"))
	}
	if c.Cache.SweepInterval < 0 {
		errs = append(errs, errors.New("cache.sweep_interval must not be negative"))
	}
	if c.Fingerprint.MaxDepth <= 0 || c.Fingerprint.MaxEntries <= 0 {
		errs = append(errs, errors.New("fingerprint limits must be positive"))
	}

	switch strings.ToLower(c.Persistence.Backend) {
	case persist.BackendNone, "":
	case persist.BackendSQLite:
		if c.Persistence.SQLitePath == "" {
			errs = append(errs, errors.New("persistence.sqlite_path is required for the sqlite backend"))
		}
	case persist.BackendRedis:
		if c.Persistence.RedisAddr == "" {
			errs = append(errs, errors.New("persistence.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown persistence.backend %q", c.Persistence.Backend))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
