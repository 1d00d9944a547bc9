// Package config загружает конфигурацию сервиса из необязательного YAML-файла
// и переменных окружения AUTHGATE_*.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/r2r72/authgate/internal/repository/pg"
	"github.com/r2r72/authgate/internal/service/auth"
	"github.com/spf13/viper"
)

const envPrefix = "AUTHGATE"

type AuthConfig struct {
	WindowMinutes         int `mapstructure:"window_minutes"`
	MaxFailures           int `mapstructure:"max_failures"`
	BlockMinutes          int `mapstructure:"block_minutes"`
	RetentionDays         int `mapstructure:"retention_days"`
	BackstopRetentionDays int `mapstructure:"backstop_retention_days"`
	BcryptCost            int `mapstructure:"bcrypt_cost"`
}

type SessionConfig struct {
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	MaxPerIdentity int `mapstructure:"max_per_identity"`
	RetentionHours int `mapstructure:"retention_hours"`
}

type SweepConfig struct {
	IntervalHours          int    `mapstructure:"interval_hours"`
	SessionRequestInterval uint64 `mapstructure:"session_request_interval"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	URL             string `mapstructure:"url"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	AccessTTLMinutes int    `mapstructure:"access_ttl_minutes"`
	RefreshTTLHours  int    `mapstructure:"refresh_ttl_hours"`
}

type Config struct {
	Auth     AuthConfig     `mapstructure:"auth"`
	Session  SessionConfig  `mapstructure:"session"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("auth.window_minutes", 10)
	v.SetDefault("auth.max_failures", 5)
	v.SetDefault("auth.block_minutes", 15)
	v.SetDefault("auth.retention_days", 30)
	v.SetDefault("auth.backstop_retention_days", 90)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("session.timeout_minutes", 60)
	v.SetDefault("session.max_per_identity", 3)
	v.SetDefault("session.retention_hours", 24)

	v.SetDefault("sweep.interval_hours", 24)
	v.SetDefault("sweep.session_request_interval", 100)

	v.SetDefault("server.addr", ":8081")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl_minutes", 15)
	v.SetDefault("jwt.refresh_ttl_hours", 24)
}

// Load читает конфигурацию. При пустом path ищет config.yaml в рабочей
// директории и работает без него, если файла нет. Явно указанный файл
// обязан существовать. Переменные окружения перекрывают файл, например
// AUTHGATE_AUTH_MAX_FAILURES=3.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// DATABASE_URL тоже поддерживаем, это привычное имя.
	if c.Database.URL == "" {
		c.Database.URL = os.Getenv("DATABASE_URL")
	}
	return &c, nil
}

// Validate проверяет настройки, без которых сервис не стартует.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt.secret must be at least 32 bytes")
	}
	// Строка сессии должна жить дольше access-токена, иначе удалённый jti
	// снова выглядит новым и открывает свежую сессию.
	if c.JWT.AccessTTLMinutes > c.Session.RetentionHours*60 {
		return fmt.Errorf("jwt.access_ttl_minutes (%d) must not exceed session.retention_hours (%d) in minutes",
			c.JWT.AccessTTLMinutes, c.Session.RetentionHours)
	}
	return nil
}

// Service переводит настройки в конфигурацию сервиса аутентификации.
func (c *Config) Service() auth.Config {
	return auth.Config{
		Window:            minutes(c.Auth.WindowMinutes),
		MaxFailures:       c.Auth.MaxFailures,
		BlockDuration:     minutes(c.Auth.BlockMinutes),
		Retention:         days(c.Auth.RetentionDays),
		BackstopRetention: days(c.Auth.BackstopRetentionDays),
		SweepInterval:     hours(c.Sweep.IntervalHours),
		SessionTimeout:    minutes(c.Session.TimeoutMinutes),
		MaxSessions:       c.Session.MaxPerIdentity,
		SessionRetention:  hours(c.Session.RetentionHours),
		SessionSweepEvery: c.Sweep.SessionRequestInterval,
		AccessTTL:         minutes(c.JWT.AccessTTLMinutes),
		RefreshTTL:        hours(c.JWT.RefreshTTLHours),
		BcryptCost:        c.Auth.BcryptCost,
	}
}

// Pool переводит настройки БД в конфигурацию пула pgx.
func (c *Config) Pool() pg.PoolConfig {
	return pg.PoolConfig{
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: minutes(c.Database.MaxConnLifetime),
	}
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
func hours(n int) time.Duration   { return time.Duration(n) * time.Hour }
func days(n int) time.Duration    { return time.Duration(n) * 24 * time.Hour }
