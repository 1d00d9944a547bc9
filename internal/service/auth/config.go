package auth

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config задаёт параметры rate limiting, учёта сессий и хранения попыток.
type Config struct {
	Window        time.Duration
	MaxFailures   int
	BlockDuration time.Duration

	Retention         time.Duration
	BackstopRetention time.Duration
	SweepInterval     time.Duration

	SessionTimeout    time.Duration
	MaxSessions       int
	SessionRetention  time.Duration
	SessionSweepEvery uint64

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		Window:            10 * time.Minute,
		MaxFailures:       5,
		BlockDuration:     15 * time.Minute,
		Retention:         30 * 24 * time.Hour,
		BackstopRetention: 90 * 24 * time.Hour,
		SweepInterval:     24 * time.Hour,
		SessionTimeout:    60 * time.Minute,
		MaxSessions:       3,
		SessionRetention:  24 * time.Hour,
		SessionSweepEvery: 100,
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		BcryptCost:        12,
	}
}

// withDefaults заполняет нулевые поля из DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = d.BlockDuration
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.BackstopRetention <= 0 {
		c.BackstopRetention = d.BackstopRetention
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.SessionRetention <= 0 {
		c.SessionRetention = d.SessionRetention
	}
	if c.SessionSweepEvery == 0 {
		c.SessionSweepEvery = d.SessionSweepEvery
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = d.AccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = d.RefreshTTL
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		c.BcryptCost = d.BcryptCost
	}
	return c
}
