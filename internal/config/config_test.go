package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 256, cfg.Buffer.Frames)
	assert.Equal(t, StrategyRandom, cfg.Buffer.ReplacementStrategy)
	assert.Equal(t, 2, cfg.Buffer.LRUK)
	assert.Equal(t, 64, cfg.Scan.PageLimit)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waxdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  file: /tmp/test.data
buffer:
  frames: 32
  replacement_strategy: lru-k
  lru_k: 3
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.data", cfg.Storage.File)
	assert.Equal(t, 32, cfg.Buffer.Frames)
	assert.Equal(t, StrategyLRUK, cfg.Buffer.ReplacementStrategy)
	assert.Equal(t, 3, cfg.Buffer.LRUK)
	// Untouched knobs keep their defaults; log.level comes from the file.
	assert.Equal(t, 64, cfg.Scan.PageLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Buffer.Frames = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Buffer.ReplacementStrategy = "mru"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Scan.PageLimit = -1
	require.Error(t, cfg.Validate())
}
