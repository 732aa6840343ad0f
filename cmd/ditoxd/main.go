// Command ditoxd is the ditox background daemon: it owns the clip
// store, runs the capture watcher, and drives the sync engine. It has
// no interactive surface of its own; a separate front end talks to the
// same SQLite database the daemon writes to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xfell/ditox/internal/clipboarddriver"
	"github.com/0xfell/ditox/internal/clipboarddriver/nativeboard"
	"github.com/0xfell/ditox/internal/clipboarddriver/sysboard"
	"github.com/0xfell/ditox/internal/clipstore/sqlite"
	"github.com/0xfell/ditox/internal/config"
	"github.com/0xfell/ditox/internal/ditoxerr"
	"github.com/0xfell/ditox/internal/logger"
	"github.com/0xfell/ditox/internal/paths"
	syncengine "github.com/0xfell/ditox/internal/sync"
	"github.com/0xfell/ditox/internal/sync/httpremote"
	"github.com/0xfell/ditox/internal/sync/pgxremote"
	"github.com/0xfell/ditox/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ditoxd:", err)
		os.Exit(1)
	}
}

func run() error {
	p, err := paths.Resolve()
	if err != nil {
		return err
	}
	if err := p.EnsureDirs(); err != nil {
		return err
	}

	cfg, err := config.Load(p.SettingsFile(), config.Flags{})
	if err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if v := os.Getenv("DITOX_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	log := logger.New(os.Stderr, "ditoxd", level)

	dbPath := p.ResolveDBPath(cfg.Storage.DBPath)
	store, err := sqlite.Open(dbPath, p.ObjectsDir(), cfg.Sync.DeviceID)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := store.SelfCheck(context.Background())
	if err != nil {
		return err
	}
	log.Info().Bool("fts_available", report.FTSAvailable).Int("schema_version", report.SchemaVersion).Msg("clip store opened")

	driver := selectDriver(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	if cfg.Capture.Mode == config.CaptureManaged {
		w := watcher.New(driver, store, log.With("subsystem", "watcher"), watcher.Options{
			SampleInterval: cfg.Capture.Sample.AsDuration(),
			ImageCapture:   cfg.Capture.Images,
			ImageCapBytes:  cfg.Capture.ImageCapBytes,
			LockPath:       p.LockFile(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("capture watcher exited")
			}
		}()
	} else {
		log.Info().Str("mode", string(cfg.Capture.Mode)).Msg("capture watcher disabled")
	}

	if cfg.Sync.Enabled && cfg.Storage.Backend == config.BackendRemote {
		remote, err := dialRemote(ctx, cfg.Storage)
		if err != nil {
			log.Error().Err(err).Msg("sync remote unavailable at startup")
		} else {
			defer remote.Close()
			engine := syncengine.New(store, remote, log.With("subsystem", "sync"), syncengine.Options{BatchSize: cfg.Sync.BatchSize})
			wg.Add(1)
			go func() {
				defer wg.Done()
				runSyncLoop(ctx, engine, log, cfg.Sync.Interval.AsDuration())
			}()
		}
	}

	wg.Wait()
	return nil
}

// selectDriver picks the best available clipboard backend: native first
// (covers images), falling back to the exec-based driver for text-only
// environments, and finally a no-op so the daemon still starts on a
// headless host.
func selectDriver(log *logger.Logger) clipboarddriver.Driver {
	if d, err := nativeboard.New(); err == nil {
		log.Info().Str("driver", "native").Msg("clipboard driver selected")
		return d
	}
	sys := sysboard.New()
	if sys.IsSupported() {
		log.Info().Str("driver", "sysboard").Msg("clipboard driver selected")
		return sys
	}
	log.Warn().Msg("no clipboard backend available, capture watcher will be inert")
	return clipboarddriver.Noop{}
}

// dialRemote builds the sync.RemoteReplica for storage.url, dispatching
// on scheme: postgres(ql):// uses pgxremote, http(s):// uses httpremote.
func dialRemote(ctx context.Context, st config.Storage) (syncengine.RemoteReplica, error) {
	switch {
	case strings.HasPrefix(st.URL, "postgres://"), strings.HasPrefix(st.URL, "postgresql://"):
		return pgxremote.New(ctx, st.URL)
	case strings.HasPrefix(st.URL, "http://"), strings.HasPrefix(st.URL, "https://"):
		return httpremote.New(httpremote.Config{BaseURL: st.URL, AuthToken: st.AuthToken})
	default:
		return nil, ditoxerr.New(ditoxerr.InvalidInput, fmt.Sprintf("storage.url %q has no recognized scheme", st.URL))
	}
}

// runSyncLoop drives the engine at the configured interval, backing off
// on failure up to the engine's own ceiling rather than busy-retrying.
func runSyncLoop(ctx context.Context, engine *syncengine.Engine, log *logger.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := engine.Run(ctx, syncengine.ModeBoth); err != nil {
				wait := engine.NextBackoff()
				log.Warn().Err(err).Dur("backoff", wait).Msg("sync round failed")
				timer.Reset(wait)
				continue
			}
			timer.Reset(interval)
		}
	}
}
