package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsmkv/pkg/dberrors"
)

func TestLoad_MissingFileGivesDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: debug
  json: true
storage:
  path: /var/lib/lsmkv
  memtable:
    flush_threshold: 4096
  sstable:
    index_ratio: 0.25
  wal:
    enabled: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Logger.JSON)
	assert.Equal(t, "/var/lib/lsmkv", cfg.Storage.RootPath)
	assert.Equal(t, 4096, cfg.Storage.Memtable.FlushThresholdBytes)
	assert.Equal(t, 0.25, cfg.Storage.SSTable.IndexRatio)
	assert.False(t, cfg.Storage.WAL.Enabled)
	assert.True(t, cfg.Storage.WAL.Sync)
	assert.Equal(t, 0.01, cfg.Storage.BloomFilter.FPRate)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  sstable:\n    index_ratio: 1.5\n"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, dberrors.ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ratio", func(c *Config) { c.Storage.SSTable.IndexRatio = 0 }},
		{"ratio above one", func(c *Config) { c.Storage.SSTable.IndexRatio = 1.01 }},
		{"zero threshold", func(c *Config) { c.Storage.Memtable.FlushThresholdBytes = 0 }},
		{"fp rate one", func(c *Config) { c.Storage.BloomFilter.FPRate = 1 }},
		{"empty path", func(c *Config) { c.Storage.RootPath = "" }},
		{"bad level", func(c *Config) { c.Logger.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), dberrors.ErrInvalidInput)
		})
	}

	cfg := Default()
	cfg.Storage.SSTable.IndexRatio = 1
	assert.NoError(t, cfg.Validate())
}

func TestSlogLevel(t *testing.T) {
	lvl, err := LoggerConfig{Level: "WARN"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
