// Package cleanup provides the harness's background housekeeping: pruning
// old export artifacts and sweeping abandoned runs. Neither operation ever
// touches a run, result, or transcript row directly — those are retained
// forever per spec.md §3.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/config"
	"github.com/codeready-toolchain/tarsy-eval/pkg/scheduler"
)

// Service periodically enforces retention policy on the exports directory
// and closes runs abandoned by a dead generator process. Both operations
// are idempotent and safe to run repeatedly.
type Service struct {
	config  *config.RetentionConfig
	sweeper *scheduler.StaleSweeper

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, sweeper *scheduler.StaleSweeper) *Service {
	return &Service{config: cfg, sweeper: sweeper}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context, exportsDir string) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx, exportsDir)

	slog.Info("cleanup service started",
		"export_retention_days", s.config.ExportRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context, exportsDir string) {
	defer close(s.done)

	s.runAll(ctx, exportsDir)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx, exportsDir)
		}
	}
}

func (s *Service) runAll(ctx context.Context, exportsDir string) {
	s.pruneOldExports(exportsDir)
	if s.sweeper != nil {
		s.sweeper.SweepOnce(ctx)
	}
}

// pruneOldExports removes files directly under exportsDir whose
// modification time is older than ExportRetentionDays. A missing exports
// directory is not an error — nothing has been exported yet.
func (s *Service) pruneOldExports(exportsDir string) {
	cutoff := time.Now().Add(-time.Duration(s.config.ExportRetentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(exportsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		slog.Error("retention: reading exports directory failed", "dir", exportsDir, "error", err)
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			slog.Warn("retention: stat of export artifact failed", "name", entry.Name(), "error", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(exportsDir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("retention: failed to remove expired export artifact", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("retention: pruned expired export artifacts", "count", removed, "dir", exportsDir)
	}
}
