package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, 10000, cfg.MaxQueued)
	assert.Equal(t, -1, cfg.MaxChanges)
	assert.Equal(t, time.Second, cfg.JournalFlushInterval)
	assert.Equal(t, filepath.Join("data", "journal.log"), cfg.JournalPath())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GRID_MAX_QUEUED", "3")
	t.Setenv("GRID_DATA_DIR", "/tmp/grid")
	t.Setenv("GRID_JOURNAL_FLUSH_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxQueued)
	assert.Equal(t, "/tmp/grid/audit.db", cfg.AuditPath())
	assert.Equal(t, 250*time.Millisecond, cfg.JournalFlushInterval)
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("GRID_PLACER_WORKERS", "many")
	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "parse env:"))
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("GRID_MAX_QUEUED", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRID_MAX_QUEUED")
}

func TestProtectedRegions(t *testing.T) {
	t.Setenv("GRID_PROTECTED_CHUNKS", "world:0:0, nether:-2:5")
	cfg, err := Load()
	require.NoError(t, err)

	keys, err := cfg.ProtectedRegions()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "world[0,0]", keys[0].String())
	assert.Equal(t, "nether[-2,5]", keys[1].String())
}

func TestProtectedRegionsRejectsMalformedEntries(t *testing.T) {
	for _, raw := range []string{"world", "world:1", ":1:2", "world:x:2"} {
		t.Run(raw, func(t *testing.T) {
			t.Setenv("GRID_PROTECTED_CHUNKS", raw)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
