package config

import "time"

// SchedulerConfig controls how the Scheduler's worker pool polls, claims,
// and times out trials. Adapted from the teacher's QueueConfig: the same
// knobs apply to trials pulled off the Store instead of alert sessions
// pulled off a Postgres queue table.
type SchedulerConfig struct {
	// Parallelism is the number of worker goroutines pulling trials from
	// the queue. Overridable per run via the run specification.
	Parallelism int `yaml:"parallelism"`

	// PollInterval is the base interval a worker waits before retrying
	// after a failed claim. A worker that finds no pending trial exits
	// instead of waiting.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is random jitter added to PollInterval so
	// workers don't all wake up in lockstep.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// TrialTimeout bounds a single trial's dialogue + judge wall time.
	TrialTimeout time.Duration `yaml:"trial_timeout"`

	// JudgeTimeout bounds a single judge call, separate from the
	// dialogue's own per-role timeouts (spec.md §4.1: 120-180s default).
	JudgeTimeout time.Duration `yaml:"judge_timeout"`

	// HeartbeatInterval is how often a worker refreshes its claimed
	// trial's claimed_at timestamp while the trial runs. Stale-run
	// detection does not read that timestamp.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StaleThreshold is how long a run can go without a new result (or,
	// with none, since its creation) before auto_complete_stale_runs
	// considers it abandoned; runs whose recorded process is still alive
	// are never considered abandoned.
	StaleThreshold time.Duration `yaml:"stale_threshold"`

	// StaleScanInterval is how often the background stale-run sweep runs.
	StaleScanInterval time.Duration `yaml:"stale_scan_interval"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Parallelism:        4,
		PollInterval:       500 * time.Millisecond,
		PollIntervalJitter: 250 * time.Millisecond,
		TrialTimeout:       15 * time.Minute,
		JudgeTimeout:       180 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleThreshold:     30 * time.Minute,
		StaleScanInterval:  5 * time.Minute,
	}
}
