package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestLoad_missingFileReturnsEmptyConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := load(dir)
	require.NoError(t, err)

	assert.Nil(t, cfg.Paths)
	assert.Nil(t, cfg.Scheduler)
	assert.Nil(t, cfg.Retention)
}

func TestLoad_invalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "harness.yaml", "paths: [this is not a mapping")

	_, err := load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoad_expandsEnvVarsBeforeParsing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EVAL_TEST_DATA_DIR", "/mnt/eval-data")
	writeFile(t, dir, "harness.yaml", "paths:\n  data_dir: ${EVAL_TEST_DATA_DIR}\n")

	cfg, err := load(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg.Paths)
	assert.Equal(t, "/mnt/eval-data", cfg.Paths.DataDir)
}

func TestInitialize_wrapsLoadErrorsWithFileContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "harness.yaml", "scheduler: [broken")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)

	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}
