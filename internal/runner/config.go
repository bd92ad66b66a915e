package runner

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/permitwise/billingcore/internal/config"
)

// Config controls runner intervals, timeouts and job selection.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
	EnabledJobs []string
	OrgID       snowflake.ID
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  30 * time.Second,
		LockTTL:     5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

// NewConfig derives runner settings from application configuration.
func NewConfig(cfg config.Config) Config {
	out := DefaultConfig()
	if interval, err := time.ParseDuration(cfg.RunnerInterval); err == nil && interval > 0 {
		out.RunInterval = interval
	}
	out.EnabledJobs = cfg.RunnerEnabledJobs
	out.OrgID = snowflake.ID(cfg.DefaultOrgID)
	return out
}
