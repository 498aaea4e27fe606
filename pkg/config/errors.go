package config

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the loader. These map to spec.md §7's
// ConfigError class: fatal to the command, no run is created.
var (
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrValidationFailed = errors.New("configuration validation failed")
)

// LoadError wraps configuration loading errors with file context.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("failed to load %s: %v", e.File, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError creates a new load error.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
