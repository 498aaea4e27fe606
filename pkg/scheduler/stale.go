package scheduler

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/config"
	"github.com/codeready-toolchain/tarsy-eval/pkg/store"
)

// StaleSweeper periodically closes runs left in status=running by a
// generator process that has since died, per spec.md §4.5's staleness
// rule. Grounded on the teacher's queue.orphan.go ticker loop, retargeted
// from per-session orphan recovery (no counterpart needed here, since a
// crashed worker simply leaves its trial row claimed rather than invisible)
// to the run level, where AutoCompleteStaleRuns already knows how to tell
// a dead generator process from a live one.
type StaleSweeper struct {
	store *store.Client
	cfg   *config.SchedulerConfig
}

// NewStaleSweeper wires a StaleSweeper against store.
func NewStaleSweeper(storeClient *store.Client, cfg *config.SchedulerConfig) *StaleSweeper {
	return &StaleSweeper{store: storeClient, cfg: cfg}
}

// Run ticks every cfg.StaleScanInterval until ctx is cancelled, closing any
// run whose process has died and has gone quiet past cfg.StaleThreshold.
func (s *StaleSweeper) Run(ctx context.Context) {
	interval := s.cfg.StaleScanInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stale-run sweeper stopping: context cancelled")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass immediately, for callers (like
// pkg/cleanup) that drive their own ticker instead of using Run's.
func (s *StaleSweeper) SweepOnce(ctx context.Context) {
	s.sweep(ctx)
}

func (s *StaleSweeper) sweep(ctx context.Context) {
	closed, err := s.store.AutoCompleteStaleRuns(ctx, s.cfg.StaleThreshold, false, isProcessAlive)
	if err != nil {
		slog.Error("stale-run sweep failed", "error", err)
		return
	}
	if len(closed) > 0 {
		slog.Info("stale-run sweep closed abandoned runs", "run_ids", closed, "count", len(closed))
	}
}

// isProcessAlive reports whether pid names a live, signalable process.
// There's no portable third-party liveness check in the example pack;
// sending signal 0 is the standard way to probe a pid without affecting it.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
