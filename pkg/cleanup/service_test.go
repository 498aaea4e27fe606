package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/config"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/codeready-toolchain/tarsy-eval/pkg/scheduler"
	"github.com/codeready-toolchain/tarsy-eval/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Client {
	t.Helper()
	client, err := store.NewClient(context.Background(), store.Config{Path: ":memory:", MaxOpenConns: 1, ConnMaxLifetime: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func writeExportFile(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	modTime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestService_PrunesExpiredExportArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeExportFile(t, dir, "run-old.json", 40*24*time.Hour)
	writeExportFile(t, dir, "run-recent.json", time.Hour)

	svc := NewService(&config.RetentionConfig{ExportRetentionDays: 30, CleanupInterval: time.Hour}, nil)
	svc.runAll(context.Background(), dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-recent.json", entries[0].Name())
}

func TestService_MissingExportsDirIsNotAnError(t *testing.T) {
	svc := NewService(&config.RetentionConfig{ExportRetentionDays: 30, CleanupInterval: time.Hour}, nil)
	svc.runAll(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
}

func TestService_ClosesStaleRunsViaSweeper(t *testing.T) {
	storeClient := newTestStore(t)
	ctx := context.Background()

	_, err := storeClient.CreateRun(ctx, evalmodel.Run{
		RunID: "run-stale-1", TotalScenarios: 1, TotalConfigs: 1,
		Metadata: map[string]any{evalmodel.MetaProcessID: float64(999999)},
	})
	require.NoError(t, err)

	sweeper := scheduler.NewStaleSweeper(storeClient, &config.SchedulerConfig{StaleThreshold: 0})
	svc := NewService(&config.RetentionConfig{ExportRetentionDays: 30, CleanupInterval: time.Hour}, sweeper)
	svc.runAll(ctx, t.TempDir())

	run, err := storeClient.GetRun(ctx, "run-stale-1")
	require.NoError(t, err)
	assert.Equal(t, evalmodel.RunStatusCompleted, run.Status)
}

func TestService_StartAndStop(t *testing.T) {
	svc := NewService(&config.RetentionConfig{ExportRetentionDays: 30, CleanupInterval: time.Millisecond}, nil)
	svc.Start(context.Background(), t.TempDir())
	time.Sleep(5 * time.Millisecond)
	svc.Stop()
}
