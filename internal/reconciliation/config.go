package reconciliation

import "time"

// Config controls the sweep cadence and run-lock.
type Config struct {
	RunInterval time.Duration
	LockTTL     time.Duration
	// Grace period between a missed renewal and deactivation.
	OverdueGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  24 * time.Hour,
		LockTTL:      15 * time.Minute,
		OverdueGrace: 7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.OverdueGrace <= 0 {
		c.OverdueGrace = defaults.OverdueGrace
	}
	return c
}
