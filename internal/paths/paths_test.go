package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_HonorsConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DITOX_CONFIG_DIR", dir)
	t.Setenv("XDG_STATE_HOME", "")

	p, err := Resolve()
	require.NoError(t, err)
	require.Equal(t, dir, p.ConfigRoot)
}

func TestResolve_HonorsXDGStateHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	p, err := Resolve()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "ditox"), p.StateRoot)
}

func TestDerivedPaths_NestUnderConfigRoot(t *testing.T) {
	p := Paths{ConfigRoot: "/cfg", StateRoot: "/state"}

	require.Equal(t, "/cfg/settings.toml", p.SettingsFile())
	require.Equal(t, "/cfg/db/ditox.db", p.DBPath())
	require.Equal(t, "/cfg/db/objects", p.ObjectsDir())
	require.Equal(t, "/state/managed-daemon.lock", p.LockFile())
}

func TestEnsureDirs_CreatesAllDirectories(t *testing.T) {
	root := t.TempDir()
	p := Paths{ConfigRoot: filepath.Join(root, "cfg"), StateRoot: filepath.Join(root, "state")}

	require.NoError(t, p.EnsureDirs())

	for _, dir := range []string{p.ConfigRoot, p.ObjectsDir(), p.StateRoot} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestResolveDBPath_PrecedenceOverDefault(t *testing.T) {
	p := Paths{ConfigRoot: "/cfg"}

	require.Equal(t, "/explicit/db", p.ResolveDBPath("/explicit/db"))

	t.Setenv("DITOX_DB", "/from/env")
	require.Equal(t, "/from/env", p.ResolveDBPath(""))
}
