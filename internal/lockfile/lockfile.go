// Package lockfile implements the single-instance guard the capture
// watcher uses to ensure only one process samples the clipboard at a
// time (spec.md §4.5, C5). Acquisition is O_CREATE|O_EXCL so two
// processes racing to start never both believe they hold the lock.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/0xfell/ditox/internal/ditoxerr"
)

// Owner distinguishes a lock held by ditoxd itself from one recorded by
// an external process sharing the same state directory.
type Owner string

const (
	OwnerManaged  Owner = "managed"
	OwnerExternal Owner = "external"
)

type record struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Owner     Owner     `json:"owner"`
}

// Lock represents a held lockfile. Release must be called exactly once,
// on every exit path, to make the slot available again.
type Lock struct {
	path string
	file *os.File
}

// Acquire creates the lockfile at path atomically. If a lockfile already
// exists and its recorded pid is no longer alive, the stale lock is
// removed and acquisition is retried once. Returns ditoxerr.Conflict if
// another live process holds the lock.
func Acquire(path string, owner Owner) (*Lock, error) {
	lock, err := tryAcquire(path, owner)
	if err == nil {
		return lock, nil
	}
	if !os.IsExist(err) {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "open lockfile", err)
	}

	if staleErr := removeIfStale(path); staleErr != nil {
		return nil, staleErr
	}

	lock, err = tryAcquire(path, owner)
	if err != nil {
		if os.IsExist(err) {
			return nil, ditoxerr.New(ditoxerr.Conflict, "another ditoxd instance holds the lockfile")
		}
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "open lockfile", err)
	}
	return lock, nil
}

func tryAcquire(path string, owner Owner) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	rec := record{PID: os.Getpid(), StartedAt: time.Now().UTC(), Owner: owner}
	enc := json.NewEncoder(f)
	if err := enc.Encode(rec); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("encode lock record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("sync lockfile: %w", err)
	}
	return &Lock{path: path, file: f}, nil
}

// Release closes and removes the lockfile. Safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.file.Close()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "remove lockfile", err)
	}
	return nil
}

func removeIfStale(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ditoxerr.Wrap(ditoxerr.Unavailable, "read lockfile", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		// Unreadable lockfile content; treat as stale so a corrupted
		// lock left by a crash does not wedge startup forever.
		return os.Remove(path)
	}

	if isAlive(rec.PID) {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "remove stale lockfile", err)
	}
	return nil
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// os reports a process that no longer exists as os.ErrProcessDone.
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return false
	}
	// EPERM means the process exists but we can't signal it: alive.
	return true
}
