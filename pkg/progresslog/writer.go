// Package progresslog is the per-run append-only journal described in
// spec.md §4.3: one ProgressEvent per line, independent of the Store, so
// that other processes can tail a run's progress or reconstruct its
// completion grid without contending for the database. Grounded on the
// JSONL logger shape in zero-day-ai-sdk's eval.JSONLLogger (append-mode
// file, mutex-guarded writes, fsync after every line) generalized from a
// single flat LogEntry to the ProgressEvent variants this harness needs.
package progresslog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// Writer appends ProgressEvents to a run's journal file. Safe for
// concurrent use by multiple workers within one Scheduler process; the
// journal itself assumes a single writing process per run.
type Writer struct {
	file *os.File
	mu   sync.Mutex
}

// NewWriter opens (creating if necessary) the journal file at path in
// append mode.
func NewWriter(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress log %s: %w", path, err)
	}
	return &Writer{file: file}, nil
}

// Append writes one event as a single JSON line and flushes immediately,
// so a concurrent tailer observes it as soon as the call returns.
func (w *Writer) Append(event evalmodel.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("failed to write progress event: %w", err)
	}
	return w.file.Sync()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to flush progress log before close: %w", err)
	}
	return w.file.Close()
}
