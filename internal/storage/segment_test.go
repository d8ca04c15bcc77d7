package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, Write(f, []byte("hello ")))
	require.NoError(t, Write(f, []byte("grid")))

	got, err := Read(f, 6, 4)
	require.NoError(t, err)
	assert.Equal(t, "grid", string(got))

	short, err := Read(f, 8, 10)
	require.NoError(t, err)
	assert.Equal(t, "id", string(short))

	past, err := Read(f, 100, 4)
	require.NoError(t, err)
	assert.Empty(t, past)
}
