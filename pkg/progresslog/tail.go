package progresslog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// TailOptions configures Tail's poll loop.
type TailOptions struct {
	// PollInterval is how often Tail checks for new bytes once it has
	// caught up to the end of the file. Defaults to 500ms.
	PollInterval time.Duration
}

// Tail streams ProgressEvents from path to onEvent as they are appended,
// starting from the beginning of the file, until ctx is cancelled.
// Grounded on the teacher's worker poll loop (pkg/queue/worker.go's
// run/pollAndProcess/sleep shape): a select on ctx.Done() versus a sleep,
// repeated, rather than a filesystem-notification watcher — this harness
// has no dependency in the pack that gives us inotify-style watching, so
// polling is the teacher's own idiom for "wait and recheck."
func Tail(ctx context.Context, path string, onEvent func(evalmodel.ProgressEvent), opts TailOptions) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open progress log %s: %w", path, err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	var pending []byte // an unterminated line carried over to the next poll

	for {
		for {
			chunk, err := reader.ReadBytes('\n')
			if len(chunk) > 0 {
				if chunk[len(chunk)-1] == '\n' {
					line := append(pending, chunk...)
					pending = nil

					var event evalmodel.ProgressEvent
					if jsonErr := json.Unmarshal(line, &event); jsonErr == nil {
						onEvent(event)
					}
					// A malformed line is skipped, not fatal.
				} else {
					pending = append(pending, chunk...)
				}
			}
			if err != nil {
				if err != io.EOF {
					return fmt.Errorf("failed to read progress log: %w", err)
				}
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
