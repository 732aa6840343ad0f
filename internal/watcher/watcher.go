// Package watcher implements the Capture Watcher (C5, spec.md §4.5): a
// single-instance polling loop over a clipboarddriver.Driver that
// persists text and image changes into a clipstore.ClipStore, with
// dedupe, pause/resume, and exponential backoff on transient driver
// errors. Grounded on yiblet-rem/internal/queue/manager.go's
// dedupe/enqueue shape, adapted to a poll-driven state machine.
package watcher

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/0xfell/ditox/internal/clip"
	"github.com/0xfell/ditox/internal/clipboarddriver"
	"github.com/0xfell/ditox/internal/clipstore"
	"github.com/0xfell/ditox/internal/ditoxerr"
	"github.com/0xfell/ditox/internal/lockfile"
	"github.com/0xfell/ditox/internal/logger"
)

// State is the watcher's externally-observable lifecycle state.
type State int

const (
	Inactive State = iota
	Starting
	Active
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	dedupeWindowSize   = 8
	defaultImageCapMax = 8 << 20 // 8 MiB
	maxBackoff         = 5 * time.Second
)

// Options configures a Watcher's sampling behaviour. Zero values fall
// back to spec-prescribed defaults.
type Options struct {
	SampleInterval time.Duration
	ImageCapture   bool
	ImageCapBytes  int64
	LockPath       string
}

func (o Options) withDefaults() Options {
	if o.SampleInterval <= 0 {
		o.SampleInterval = 200 * time.Millisecond
	}
	if o.ImageCapBytes <= 0 {
		o.ImageCapBytes = defaultImageCapMax
	}
	return o
}

// Watcher owns the capture loop. Construct with New; Run blocks until
// ctx is cancelled, and always releases the lockfile before returning.
type Watcher struct {
	driver clipboarddriver.Driver
	store  clipstore.ClipStore
	log    *logger.Logger
	opts   Options

	mu          sync.Mutex
	state       State
	paused      bool
	lock        *lockfile.Lock
	recentHash  []string
	lastText    string
	lastClipID  string
	touchedOnce bool
}

func New(driver clipboarddriver.Driver, store clipstore.ClipStore, log *logger.Logger, opts Options) *Watcher {
	return &Watcher{
		driver: driver,
		store:  store,
		log:    log,
		opts:   opts.withDefaults(),
		state:  Inactive,
	}
}

// State reports the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pause stops persisting new clips without releasing the lock.
func (w *Watcher) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Active {
		w.state = Paused
	}
	w.paused = true
}

// Resume resumes persisting after Pause.
func (w *Watcher) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Paused {
		w.state = Active
	}
	w.paused = false
}

// Run acquires the single-instance guard, transitions through Starting
// to Active on first successful tick, and samples until ctx is done.
// The lockfile is released on every exit path.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.state = Starting
	w.mu.Unlock()

	lock, err := lockfile.Acquire(w.opts.LockPath, lockfile.OwnerManaged)
	if err != nil {
		w.mu.Lock()
		w.state = Inactive
		w.mu.Unlock()
		return err
	}
	w.mu.Lock()
	w.lock = lock
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.state = Stopping
		l := w.lock
		w.lock = nil
		w.mu.Unlock()
		if relErr := l.Release(); relErr != nil && w.log != nil {
			w.log.Error().Err(relErr).Msg("release lockfile")
		}
		w.mu.Lock()
		w.state = Inactive
		w.mu.Unlock()
	}()

	backoff := w.opts.SampleInterval
	firstTick := true

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tickErr := w.tick()
		if tickErr != nil && ditoxerr.Is(tickErr, ditoxerr.Unavailable) {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = w.opts.SampleInterval
			if firstTick && tickErr == nil {
				w.mu.Lock()
				if w.state == Starting {
					w.state = Active
				}
				w.mu.Unlock()
				firstTick = false
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func (w *Watcher) tick() error {
	w.mu.Lock()
	paused := w.paused
	w.mu.Unlock()

	if err := w.sampleText(paused); err != nil {
		return err
	}
	if w.opts.ImageCapture {
		if err := w.sampleImage(paused); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) sampleText(paused bool) error {
	text, err := w.driver.GetText()
	if err != nil {
		var derr *clipboarddriver.Error
		if asDriverError(err, &derr) {
			switch derr.Kind {
			case clipboarddriver.Empty:
				return nil
			case clipboarddriver.Unavailable, clipboarddriver.Transient:
				return ditoxerr.Wrap(ditoxerr.Unavailable, "get_text", err)
			default:
				return ditoxerr.Wrap(ditoxerr.Fatal, "get_text", err)
			}
		}
		return ditoxerr.Wrap(ditoxerr.Fatal, "get_text", err)
	}

	normalized := strings.TrimSuffix(text, "\n")

	w.mu.Lock()
	sameAsLast := normalized == w.lastText
	seen := w.seenRecently(normalized)
	touchedOnce := w.touchedOnce
	lastClipID := w.lastClipID
	w.mu.Unlock()

	if paused {
		return nil
	}

	if sameAsLast || seen {
		if sameAsLast && !touchedOnce && lastClipID != "" {
			if err := w.store.TouchLastUsed(context.Background(), lastClipID); err != nil {
				return err
			}
			w.mu.Lock()
			w.touchedOnce = true
			w.mu.Unlock()
		}
		return nil
	}

	created, err := w.store.AddText(context.Background(), normalized, true)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.lastText = normalized
	w.lastClipID = created.ID
	w.touchedOnce = false
	w.pushRecent(normalized)
	w.mu.Unlock()
	return nil
}

func (w *Watcher) sampleImage(paused bool) error {
	img, err := w.driver.GetImage()
	if err != nil {
		var derr *clipboarddriver.Error
		if asDriverError(err, &derr) {
			switch derr.Kind {
			case clipboarddriver.Empty:
				return nil
			case clipboarddriver.Unavailable, clipboarddriver.Transient:
				return ditoxerr.Wrap(ditoxerr.Unavailable, "get_image", err)
			default:
				return ditoxerr.Wrap(ditoxerr.Fatal, "get_image", err)
			}
		}
		return ditoxerr.Wrap(ditoxerr.Fatal, "get_image", err)
	}

	if paused {
		return nil
	}

	size := int64(img.Width) * int64(img.Height) * 4
	if size > w.opts.ImageCapBytes {
		if w.log != nil {
			w.log.Warn().Int64("size_bytes", size).Int64("cap_bytes", w.opts.ImageCapBytes).Msg("skipping oversized clipboard image")
		}
		return nil
	}

	_, err = w.store.AddImage(context.Background(), clip.CreateImageInput{
		RGBA:   img.RGBA,
		Width:  img.Width,
		Height: img.Height,
	})
	return err
}

// seenRecently reports whether the normalized hash is already in the
// dedupe FIFO. Caller must hold w.mu.
func (w *Watcher) seenRecently(text string) bool {
	h := hashText(text)
	for _, e := range w.recentHash {
		if e == h {
			return true
		}
	}
	return false
}

// pushRecent records text's hash in the FIFO, evicting the oldest entry
// past dedupeWindowSize. Caller must hold w.mu.
func (w *Watcher) pushRecent(text string) {
	h := hashText(text)
	w.recentHash = append(w.recentHash, h)
	if len(w.recentHash) > dedupeWindowSize {
		w.recentHash = w.recentHash[len(w.recentHash)-dedupeWindowSize:]
	}
}

func hashText(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return string(h.Sum(nil))
}

func asDriverError(err error, target **clipboarddriver.Error) bool {
	if derr, ok := err.(*clipboarddriver.Error); ok {
		*target = derr
		return true
	}
	return false
}
