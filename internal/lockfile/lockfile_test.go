package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquire_SecondCallConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ditoxd.lock")

	lock1, err := Acquire(path, OwnerManaged)
	require.NoError(t, err)
	defer lock1.Release()

	_, err = Acquire(path, OwnerManaged)
	require.Error(t, err)
}

func TestAcquire_RemovesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ditoxd.lock")

	stale, err := tryAcquire(path, OwnerManaged)
	require.NoError(t, err)
	stale.file.Close()

	// Rewrite with a pid that cannot be alive.
	require.NoError(t, os.WriteFile(path, []byte(`{"pid":999999999,"owner":"managed"}`), 0o600))

	lock, err := Acquire(path, OwnerManaged)
	require.NoError(t, err)
	defer lock.Release()
}

func TestRelease_RemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ditoxd.lock")

	lock, err := Acquire(path, OwnerManaged)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
