package scheduler

import (
	"time"

	"github.com/smallbiznis/rentwise/internal/config"
)

// Config controls job batch sizes and bounds.
type Config struct {
	Enabled    bool
	Schedule   string
	BatchSize  int
	RunTimeout time.Duration
	LockTTL    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Schedule:   "@hourly",
		BatchSize:  100,
		RunTimeout: 5 * time.Minute,
		LockTTL:    10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config, policy *config.RentPolicyHolder) Config {
	c := DefaultConfig()
	c.Enabled = cfg.SchedulerEnabled
	if schedule := policy.Get().OverdueSweepSchedule; schedule != "" {
		c.Schedule = schedule
	}
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Schedule == "" {
		c.Schedule = defaults.Schedule
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
