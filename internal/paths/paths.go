// Package paths resolves the on-disk layout spec.md §6 names:
// config_root, state_root, and the derived db/objects/settings/lockfile
// paths beneath them. Grounded on yiblet-rem/internal/remfs's
// home-directory resolution, adapted from a single fixed ConfigDir to
// the XDG-aware env-var precedence spec.md §4.7/§6 requires.
package paths

import (
	"os"
	"path/filepath"

	"github.com/0xfell/ditox/internal/ditoxerr"
)

// Paths holds the resolved locations every component reads or writes.
type Paths struct {
	ConfigRoot string
	StateRoot  string
}

// Resolve computes ConfigRoot and StateRoot from environment overrides,
// falling back to XDG-style defaults under the user's home directory.
//
//	config_root: $DITOX_CONFIG_DIR, else ~/.config/ditox
//	state_root:  $XDG_STATE_HOME/ditox, else ~/.local/state/ditox
func Resolve() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, ditoxerr.Wrap(ditoxerr.Unavailable, "resolve home directory", err)
	}

	configRoot := os.Getenv("DITOX_CONFIG_DIR")
	if configRoot == "" {
		configRoot = filepath.Join(home, ".config", "ditox")
	}

	stateRoot := ""
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		stateRoot = filepath.Join(xdgState, "ditox")
	} else {
		stateRoot = filepath.Join(home, ".local", "state", "ditox")
	}

	return Paths{ConfigRoot: configRoot, StateRoot: stateRoot}, nil
}

// SettingsFile is <config_root>/settings.toml.
func (p Paths) SettingsFile() string {
	return filepath.Join(p.ConfigRoot, "settings.toml")
}

// DBPath is <config_root>/db/ditox.db, the default overridden by
// storage.db_path or $DITOX_DB.
func (p Paths) DBPath() string {
	return filepath.Join(p.ConfigRoot, "db", "ditox.db")
}

// ObjectsDir is <config_root>/db/objects, the blob store root.
func (p Paths) ObjectsDir() string {
	return filepath.Join(p.ConfigRoot, "db", "objects")
}

// LockFile is <state_root>/managed-daemon.lock, the capture watcher's
// single-instance guard.
func (p Paths) LockFile() string {
	return filepath.Join(p.StateRoot, "managed-daemon.lock")
}

// EnsureDirs creates ConfigRoot, its db/ and db/objects/ subdirectories,
// and StateRoot, all restricted to the owning user (spec.md §4.2).
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.ConfigRoot, filepath.Dir(p.DBPath()), p.ObjectsDir(), p.StateRoot} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return ditoxerr.Wrap(ditoxerr.Unavailable, "create directory "+dir, err)
		}
	}
	return nil
}

// ResolveDBPath applies the override precedence for the database path:
// explicit cfgDBPath (from settings.toml/flags), else $DITOX_DB, else
// the default under ConfigRoot.
func (p Paths) ResolveDBPath(cfgDBPath string) string {
	if cfgDBPath != "" {
		return cfgDBPath
	}
	if envPath := os.Getenv("DITOX_DB"); envPath != "" {
		return envPath
	}
	return p.DBPath()
}
