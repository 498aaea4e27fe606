package config

import "time"

// RetentionConfig controls cleanup of old export artifacts. Runs,
// results, and transcripts are never deleted by the core (spec.md §3:
// "never deleted"); this only governs the `<exports>/` scratch directory.
type RetentionConfig struct {
	// ExportRetentionDays is how many days to keep generated export
	// artifacts before the cleanup sweep removes them.
	ExportRetentionDays int `yaml:"export_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ExportRetentionDays: 30,
		CleanupInterval:     12 * time.Hour,
	}
}
