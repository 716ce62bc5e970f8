package engine

import "time"

// Config holds the engine's fixed operating constants. Zero values are
// filled in from DefaultConfig by New.
type Config struct {
	// UncertaintyTimeout bounds how long a task may sit UNCERTAIN; after
	// twice this duration a tick converts indecision into BLOCKED.
	UncertaintyTimeout time.Duration

	// ExecDuration is the simulated execution time of a task once RUNNING.
	ExecDuration time.Duration

	// MaxPending is the admission-control ceiling on PENDING tasks.
	MaxPending int

	// AutoBackup enables backup assignment during the assign phase.
	AutoBackup bool

	// BackupCount is the number of backup replicas requested per task.
	BackupCount int

	// DefaultNodes are registered on construction and again on Reset.
	DefaultNodes []string

	// Now is the engine's clock. Tests inject a deterministic clock; the
	// uncertainty and starvation timeouts are computed from stored
	// timestamps, never from scheduler alarms.
	Now func() time.Time
}

// Simulation toggles deterministic fault scenarios for the test/demo
// harness. They are not part of the production contract.
type Simulation struct {
	// DropAcks suppresses completion acknowledgements: tasks reaching the
	// end of their execution window go UNCERTAIN instead of COMPLETED.
	DropAcks bool

	// ExhaustResources rejects every submission at admission control.
	ExhaustResources bool

	// NetworkDelay stretches the effective execution window.
	NetworkDelay time.Duration
}

// DefaultConfig returns the stock engine constants.
func DefaultConfig() Config {
	return Config{
		UncertaintyTimeout: 5 * time.Second,
		ExecDuration:       2 * time.Second,
		MaxPending:         100,
		AutoBackup:         true,
		BackupCount:        2,
		Now:                time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UncertaintyTimeout <= 0 {
		c.UncertaintyTimeout = d.UncertaintyTimeout
	}
	if c.ExecDuration <= 0 {
		c.ExecDuration = d.ExecDuration
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	if c.BackupCount <= 0 {
		c.BackupCount = d.BackupCount
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
