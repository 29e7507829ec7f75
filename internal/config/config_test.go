package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("STRIDE_DATA_DIR", t.TempDir())

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", c.Oracle.Model)
	assert.Equal(t, 3, c.Workflow.MaxGenerationAttempts)
	assert.Equal(t, 1, c.Workflow.MaxExecRegenerations)
	assert.Equal(t, 10*time.Second, c.Sandbox.Timeout)
	assert.False(t, c.Debug)
}

func TestConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STRIDE_DATA_DIR", dir)

	yaml := `
debug: true
oracle:
  model: gpt-4.1-mini
workflow:
  max_generation_attempts: 5
  max_exec_regenerations: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	c, err := New()
	require.NoError(t, err)

	assert.True(t, c.Debug)
	assert.Equal(t, "gpt-4.1-mini", c.Oracle.Model)
	assert.Equal(t, 5, c.Workflow.MaxGenerationAttempts)
	assert.Equal(t, 2, c.Workflow.MaxExecRegenerations)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STRIDE_DATA_DIR", dir)
	t.Setenv("STRIDE_ORACLE_MODEL", "gpt-4o")
	t.Setenv("STRIDE_MAX_ATTEMPTS", "4")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("oracle:\n  model: gpt-4.1-mini\n"), 0o644))

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", c.Oracle.Model)
	assert.Equal(t, 4, c.Workflow.MaxGenerationAttempts)
}
