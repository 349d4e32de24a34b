// Package config loads the server configuration.
//
// Precedence: LEAVE_* environment variables > config file > defaults. A key
// such as scheduler.timezone is read from LEAVE_SCHEDULER_TIMEZONE.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"github.com/warp/leave-ledger/generic"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig selects the store. Driver is "sqlite" or "memory"; Path
// may be ":memory:" for a throwaway SQLite database.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SchedulerConfig drives the accrual scheduler. Lock is "local" or "redis";
// with "redis" several instances may share one database.
type SchedulerConfig struct {
	Timezone      string        `mapstructure:"timezone"`
	Lock          string        `mapstructure:"lock"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LedgerConfig lists the bucket types allowed to go negative.
type LedgerConfig struct {
	AllowNegative []string `mapstructure:"allow_negative"`
}

type ReconcileConfig struct {
	SecondaryBucket string `mapstructure:"secondary_bucket"`
}

// Load reads the configuration. path may be empty, in which case
// config.yaml is looked up in ./config and the working directory; a
// missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "leave.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.lock", "local")
	v.SetDefault("scheduler.check_interval", "1h")
	v.SetDefault("scheduler.lock_ttl", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ledger.allow_negative", []string{string(generic.BucketLeaveWithoutPay)})
	v.SetDefault("reconcile.secondary_bucket", string(generic.BucketCasual))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the keys the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("config: db.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown db.driver %q", c.Database.Driver)
	}
	switch c.Scheduler.Lock {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required when scheduler.lock is redis")
		}
	default:
		return fmt.Errorf("config: unknown scheduler.lock %q", c.Scheduler.Lock)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Scheduler.CheckInterval <= 0 {
		return errors.New("config: scheduler.check_interval must be positive")
	}
	if c.Reconcile.SecondaryBucket == "" {
		return errors.New("config: reconcile.secondary_bucket is required")
	}
	return nil
}

// Location resolves scheduler.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: scheduler.timezone: %w", err)
	}
	return loc, nil
}

// AllowNegative returns ledger.allow_negative as bucket types.
func (c *Config) AllowNegative() []generic.BucketType {
	out := make([]generic.BucketType, 0, len(c.Ledger.AllowNegative))
	for _, t := range c.Ledger.AllowNegative {
		out = append(out, generic.BucketType(t))
	}
	return out
}
