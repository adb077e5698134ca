//go:build unix

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ggpk/internal/packtype"
)

func writeTemp(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Content.ggpk")
	require.NoError(t, os.WriteFile(path, []byte("pack"), mode))
	return path
}

func TestOpenWritable(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, 0o600)

	f, err := OpenWritable(path)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("P"), 0)
	require.NoError(t, err)
	require.NoError(t, Unlock(f))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Pack", string(data))
}

func TestOpenWritableLockedElsewhere(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, 0o600)

	holder, err := OpenWritable(path)
	require.NoError(t, err)

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts just like another process would.
	_, err = OpenWritable(path)
	require.ErrorIs(t, err, packtype.ErrReadOnly)

	ok, err := Writable(path)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Unlock(holder))
	ok, err = Writable(path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenWritablePermissionDenied(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	path := writeTemp(t, 0o400)

	_, err := OpenWritable(path)
	require.ErrorIs(t, err, packtype.ErrReadOnly)

	ok, err := Writable(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenWritableMissing(t *testing.T) {
	t.Parallel()
	_, err := OpenWritable(filepath.Join(t.TempDir(), "missing.ggpk"))
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, packtype.ErrReadOnly)
}
