package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_defaultsWithoutHarnessYAML(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Equal(t, DefaultPaths(), cfg.Paths)
	assert.Equal(t, DefaultSchedulerConfig(), cfg.Scheduler)
	assert.Equal(t, DefaultRetentionConfig(), cfg.Retention)
}

func TestInitialize_overridesMergeOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "harness.yaml", `
paths:
  data_dir: /srv/eval/data
scheduler:
  parallelism: 8
retention:
  export_retention_days: 7
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "/srv/eval/data", cfg.Paths.DataDir)
	assert.Equal(t, DefaultPaths().LogsDir, cfg.Paths.LogsDir)
	assert.Equal(t, 8, cfg.Scheduler.Parallelism)
	assert.Equal(t, DefaultSchedulerConfig().TrialTimeout, cfg.Scheduler.TrialTimeout)
	assert.Equal(t, 7, cfg.Retention.ExportRetentionDays)
}
