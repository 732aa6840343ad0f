// Package config loads ditoxd's layered settings: built-in defaults,
// then settings.toml, then environment variables, then flags, each
// overriding the last (spec.md §4.7). Grounded on
// MKhiriev-GoPassKeeper/internal/config's builder pattern (dario.cat/mergo
// merges) crossed with yiblet-rem/internal/config's simple typed-struct
// Load/Save shape. A sync.device_id that is still unset after all layers
// merge gets a generated uuid, persisted back to the settings file so it
// stays stable across restarts.
package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/0xfell/ditox/internal/ditoxerr"
)

// Backend selects the storage mode; it gates whether the Sync Engine is
// eligible to run.
type Backend string

const (
	BackendLocalSQLite Backend = "localsqlite"
	BackendRemote      Backend = "remote"
)

// CaptureMode selects who drives clipboard capture.
type CaptureMode string

const (
	CaptureManaged  CaptureMode = "managed"
	CaptureExternal CaptureMode = "external"
	CaptureOff      CaptureMode = "off"
)

// Config is the fully-resolved settings struct. Every field name mirrors
// the dotted option name in spec.md §4.7; nested structs map to the TOML
// section of the same name.
type Config struct {
	Storage Storage `toml:"storage" envPrefix:"STORAGE_"`
	Prune   Prune   `toml:"prune" envPrefix:"PRUNE_"`
	Sync    Sync    `toml:"sync" envPrefix:"SYNC_"`
	Images  Images  `toml:"images" envPrefix:"IMAGES_"`
	Capture Capture `toml:"capture" envPrefix:"CAPTURE_"`
}

type Storage struct {
	Backend   Backend `toml:"backend" env:"BACKEND"`
	DBPath    string  `toml:"db_path" env:"DB_PATH"`
	URL       string  `toml:"url" env:"URL"`
	AuthToken string  `toml:"auth_token" env:"AUTH_TOKEN"`
}

type Prune struct {
	Every         Duration `toml:"every" env:"EVERY"`
	KeepFavorites bool     `toml:"keep_favorites" env:"KEEP_FAVORITES"`
	MaxItems      int      `toml:"max_items" env:"MAX_ITEMS"`
	MaxAge        Duration `toml:"max_age" env:"MAX_AGE"`
}

type Sync struct {
	Enabled   bool     `toml:"enabled" env:"ENABLED"`
	Interval  Duration `toml:"interval" env:"INTERVAL"`
	BatchSize int      `toml:"batch_size" env:"BATCH_SIZE"`
	DeviceID  string   `toml:"device_id" env:"DEVICE_ID"`
}

type Images struct {
	LocalFilePathMode bool   `toml:"local_file_path_mode" env:"LOCAL_FILE_PATH_MODE"`
	Dir               string `toml:"dir" env:"DIR"`
	Encoding          string `toml:"encoding" env:"ENCODING"`
	MaxStorageMB      int    `toml:"max_storage_mb" env:"MAX_STORAGE_MB"`
}

type Capture struct {
	Mode          CaptureMode `toml:"mode" env:"MODE"`
	Sample        Duration    `toml:"sample" env:"SAMPLE"`
	Images        bool        `toml:"images" env:"IMAGES"`
	ImageCapBytes int64       `toml:"image_cap_bytes" env:"IMAGE_CAP_BYTES"`
}

// Defaults returns the built-in baseline every other layer merges onto.
func Defaults() Config {
	return Config{
		Storage: Storage{Backend: BackendLocalSQLite},
		Prune: Prune{
			KeepFavorites: true,
		},
		Sync: Sync{
			BatchSize: 500,
		},
		Images: Images{
			Encoding: "png",
		},
		Capture: Capture{
			Mode:          CaptureManaged,
			Sample:        Duration(200 * 1_000_000), // 200ms, in nanoseconds
			Images:        true,
			ImageCapBytes: 8 << 20,
		},
	}
}

// Flags is the partial settings a command-line collaborator may supply
// to Load as the last layer. The daemon entrypoint parses no flags and
// passes an empty Flags. Zero-valued fields are treated as "not set" and
// do not override earlier layers.
type Flags struct {
	DBPath   string
	DeviceID string
}

func (f Flags) toConfig() Config {
	return Config{
		Storage: Storage{DBPath: f.DBPath},
		Sync:    Sync{DeviceID: f.DeviceID},
	}
}

// Load resolves the final Config by merging, in increasing priority:
// Defaults(), the TOML file at filePath (if it exists), environment
// variables, then flags.
func Load(filePath string, flags Flags) (Config, error) {
	cfg := Defaults()

	if filePath != "" {
		fileCfg, err := loadFile(filePath)
		if err != nil {
			return Config{}, err
		}
		if err := mergeOver(&cfg, fileCfg); err != nil {
			return Config{}, err
		}
	}

	var envCfg Config
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, ditoxerr.Wrap(ditoxerr.InvalidInput, "parse environment configuration", err)
	}
	if err := mergeOver(&cfg, envCfg); err != nil {
		return Config{}, err
	}

	// spec.md §6 names these two bare variables as the recognized external
	// interface, alongside DITOX_DB and DITOX_CONFIG_DIR (honored directly
	// in internal/paths). They take priority over the generic SYNC_/CAPTURE_
	// prefixed equivalents above.
	if v := os.Getenv("DITOX_DEVICE_ID"); v != "" {
		cfg.Sync.DeviceID = v
	}
	if v := os.Getenv("DITOX_CAPTURE_MODE"); v != "" {
		cfg.Capture.Mode = CaptureMode(v)
	}

	if err := mergeOver(&cfg, flags.toConfig()); err != nil {
		return Config{}, err
	}

	if cfg.Sync.DeviceID == "" {
		cfg.Sync.DeviceID = uuid.New().String()
		if filePath != "" {
			if err := Save(filePath, cfg); err != nil {
				return Config{}, err
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Config{}, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, ditoxerr.Wrap(ditoxerr.InvalidInput, "parse settings file", err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, creating the file with mode 0600 if
// it does not already exist (spec.md §6).
func Save(path string, cfg Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "open settings file for write", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "encode settings file", err)
	}
	return nil
}

// mergeOver merges src onto dst, with src's non-zero fields taking
// priority over dst's existing values (later layer wins).
func mergeOver(dst *Config, src Config) error {
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge configuration layer: %w", err)
	}
	return nil
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case BackendLocalSQLite, BackendRemote:
	default:
		return ditoxerr.New(ditoxerr.InvalidInput, fmt.Sprintf("unknown storage.backend %q", c.Storage.Backend))
	}
	if c.Storage.Backend == BackendRemote && c.Storage.URL == "" {
		return ditoxerr.New(ditoxerr.InvalidInput, "storage.url is required when storage.backend=remote")
	}
	switch c.Capture.Mode {
	case CaptureManaged, CaptureExternal, CaptureOff:
	default:
		return ditoxerr.New(ditoxerr.InvalidInput, fmt.Sprintf("unknown capture.mode %q", c.Capture.Mode))
	}
	return nil
}
