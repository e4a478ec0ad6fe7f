package scheduler

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	ReconcileLookback time.Duration
	// BillingLookahead is how far ahead the billing trigger scan looks
	// for due invoices and ending trials.
	BillingLookahead time.Duration
	// EnabledJobs empty means all jobs run (monolith mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		ReconcileLookback: 48 * time.Hour,
		BillingLookahead:  72 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ReconcileLookback <= 0 {
		c.ReconcileLookback = defaults.ReconcileLookback
	}
	if c.BillingLookahead <= 0 {
		c.BillingLookahead = defaults.BillingLookahead
	}
	return c
}

// ProvideConfig builds the scheduler config from the environment.
func ProvideConfig() Config {
	cfg := DefaultConfig()
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_RUN_INTERVAL_SEC")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.RunInterval = time.Duration(secs) * time.Second
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_BATCH_SIZE")); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			cfg.BatchSize = size
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_RECONCILE_LOOKBACK_HOURS")); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 {
			cfg.ReconcileLookback = time.Duration(hours) * time.Hour
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); raw != "" {
		for _, job := range strings.Split(raw, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}
