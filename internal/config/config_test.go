package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("", Flags{})
	require.NoError(t, err)

	require.Equal(t, BackendLocalSQLite, cfg.Storage.Backend)
	require.True(t, cfg.Prune.KeepFavorites)
	require.Equal(t, 500, cfg.Sync.BatchSize)
	require.Equal(t, "png", cfg.Images.Encoding)
	require.Equal(t, CaptureManaged, cfg.Capture.Mode)
}

func TestLoad_GeneratesAndPersistsDeviceIDWhenUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")

	cfg, err := Load(path, Flags{})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Sync.DeviceID)

	reloaded, err := Load(path, Flags{})
	require.NoError(t, err)
	require.Equal(t, cfg.Sync.DeviceID, reloaded.Sync.DeviceID)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[sync]
batch_size = 250
device_id = "laptop-a"

[capture]
mode = "off"
`), 0o600))

	cfg, err := Load(path, Flags{})
	require.NoError(t, err)

	require.Equal(t, 250, cfg.Sync.BatchSize)
	require.Equal(t, "laptop-a", cfg.Sync.DeviceID)
	require.Equal(t, CaptureOff, cfg.Capture.Mode)
	// Unset-by-file fields still come from defaults.
	require.Equal(t, "png", cfg.Images.Encoding)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
db_path = "/file/db.sqlite"
`), 0o600))

	cfg, err := Load(path, Flags{DBPath: "/flag/db.sqlite"})
	require.NoError(t, err)

	require.Equal(t, "/flag/db.sqlite", cfg.Storage.DBPath)
}

func TestLoad_DitoxPrefixedEnvVarsOverridePrefixedEquivalents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[sync]
device_id = "laptop-a"

[capture]
mode = "off"
`), 0o600))

	t.Setenv("SYNC_DEVICE_ID", "from-sync-prefix")
	t.Setenv("CAPTURE_MODE", "external")
	t.Setenv("DITOX_DEVICE_ID", "from-ditox-device-id")
	t.Setenv("DITOX_CAPTURE_MODE", "managed")

	cfg, err := Load(path, Flags{})
	require.NoError(t, err)

	require.Equal(t, "from-ditox-device-id", cfg.Sync.DeviceID)
	require.Equal(t, CaptureManaged, cfg.Capture.Mode)
}

func TestLoad_RemoteBackendRequiresURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
backend = "remote"
`), 0o600))

	_, err := Load(path, Flags{})
	require.Error(t, err)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	cfg := Defaults()
	cfg.Sync.DeviceID = "desktop-b"

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path, Flags{})
	require.NoError(t, err)
	require.Equal(t, "desktop-b", loaded.Sync.DeviceID)
}

func TestParseDuration_SupportsAllUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestParseDuration_RejectsUnknownUnit(t *testing.T) {
	_, err := ParseDuration("5x")
	require.Error(t, err)
}
