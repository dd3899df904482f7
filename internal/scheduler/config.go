package scheduler

import (
	"time"

	"github.com/smallbiznis/registrar/internal/config"
)

// Config controls sync run cadence, batch sizes and retry spacing.
type Config struct {
	PeriodicEnabled bool
	RunInterval     time.Duration
	BatchSize       int
	RetryDelay      time.Duration
	ClaimTTL        time.Duration
	LeaseTTL        time.Duration
	RunTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 15 * time.Minute,
		BatchSize:   50,
		RetryDelay:  10 * time.Minute,
		ClaimTTL:    5 * time.Minute,
		LeaseTTL:    10 * time.Minute,
		RunTimeout:  10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		PeriodicEnabled: cfg.Sync.PeriodicEnabled,
		RunInterval:     cfg.Sync.Interval,
		BatchSize:       cfg.Sync.BatchSize,
		RetryDelay:      cfg.Sync.RetryDelay,
		ClaimTTL:        cfg.Sync.ClaimTTL,
		LeaseTTL:        cfg.Sync.LeaseTTL,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = defaults.ClaimTTL
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}
