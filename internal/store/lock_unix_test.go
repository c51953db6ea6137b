//go:build unix

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLeavesExistingLockFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".tw_manifest.lock")
	first, err := Acquire(context.Background(), path, 0)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	second, err := Acquire(context.Background(), path, 0)
	require.NoError(t, err)
	require.NoError(t, second.Release())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	assert.True(t, info.ModTime().Equal(old), "lock file was rewritten: mtime %v", info.ModTime())
}
