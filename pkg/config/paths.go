package config

import "path/filepath"

// Paths resolves the on-disk layout from spec.md §6:
//
//	<data>/evaluations.db
//	<logs>/tutor-dialogues/<date>-<dialogue_id>.json
//	<logs>/eval-progress/<run_id>.jsonl
//	<exports>/
type Paths struct {
	DataDir    string `yaml:"data_dir"`
	LogsDir    string `yaml:"logs_dir"`
	ExportsDir string `yaml:"exports_dir"`
}

// DefaultPaths returns the built-in path defaults, rooted at "./var".
func DefaultPaths() Paths {
	return Paths{
		DataDir:    "./var/data",
		LogsDir:    "./var/logs",
		ExportsDir: "./var/exports",
	}
}

// DatabasePath returns the path to the SQLite database file.
func (p Paths) DatabasePath() string {
	return filepath.Join(p.DataDir, "evaluations.db")
}

// TranscriptsDir returns the directory dialogue transcripts are written to.
func (p Paths) TranscriptsDir() string {
	return filepath.Join(p.LogsDir, "tutor-dialogues")
}

// ProgressDir returns the directory per-run progress journals live in.
func (p Paths) ProgressDir() string {
	return filepath.Join(p.LogsDir, "eval-progress")
}
