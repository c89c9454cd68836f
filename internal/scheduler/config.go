package scheduler

import (
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval           time.Duration
	DrainBatchSize        int
	SweepInterval         time.Duration
	SweepBatchSize        int
	PaymentExpiryInterval time.Duration
	ExpiryBatchSize       int
	RecoveryInterval      time.Duration
	RecoveryThreshold     time.Duration
	EnabledJobs           []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:           30 * time.Second,
		DrainBatchSize:        25,
		SweepInterval:         5 * time.Minute,
		SweepBatchSize:        50,
		PaymentExpiryInterval: 5 * time.Minute,
		ExpiryBatchSize:       100,
		RecoveryInterval:      2 * time.Minute,
		RecoveryThreshold:     5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = defaults.DrainBatchSize
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = defaults.SweepBatchSize
	}
	if c.PaymentExpiryInterval <= 0 {
		c.PaymentExpiryInterval = defaults.PaymentExpiryInterval
	}
	if c.ExpiryBatchSize <= 0 {
		c.ExpiryBatchSize = defaults.ExpiryBatchSize
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = defaults.RecoveryInterval
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return c
}

func ProvideConfig() Config {
	return DefaultConfig()
}
