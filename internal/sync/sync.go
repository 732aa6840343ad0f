// Package sync implements the Sync Engine (C6, spec.md §4.6):
// push/pull reconciliation of text clips against a remote replica using
// a deterministic last-writer-wins tuple order. Concrete transports live
// in subpackages (pgxremote, httpremote); both satisfy RemoteReplica.
package sync

import (
	"context"
	"time"

	"github.com/0xfell/ditox/internal/clip"
	"github.com/0xfell/ditox/internal/clipstore"
	"github.com/0xfell/ditox/internal/ditoxerr"
	"github.com/0xfell/ditox/internal/logger"
)

// RemoteReplica is the transport-agnostic contract the sync engine
// depends on. The engine calls Upsert for every pushed row; the
// implementation applies the LWW condition on the remote side. Pulled
// rows are merged locally by ClipStore.IngestRemote.
type RemoteReplica interface {
	// PullSince returns remote text clips with UpdatedAt strictly after
	// since, ordered by UpdatedAt ascending, limited to limit rows.
	PullSince(ctx context.Context, since time.Time, limit int) ([]*clip.Clip, error)

	// Upsert writes c to the remote, applying only if the remote row's
	// (Lamport, UpdatedAt, DeviceID) tuple is strictly less than c's
	// under LWWLess. Returns applied=false when the remote already has
	// an equal-or-newer tuple (not an error).
	Upsert(ctx context.Context, c *clip.Clip) (applied bool, err error)

	Close() error
}

const (
	// DefaultBatchSize is the per-round push/pull row limit (spec.md §4.6).
	DefaultBatchSize = 500

	minBackoff = 5 * time.Second
	maxBackoff = 5 * time.Minute
)

// Mode restricts a Run call to one direction; zero value runs both.
type Mode int

const (
	ModeBoth Mode = iota
	ModePushOnly
	ModePullOnly
)

// Engine reconciles a local clipstore.ClipStore against a RemoteReplica.
type Engine struct {
	store     clipstore.ClipStore
	remote    RemoteReplica
	log       *logger.Logger
	batchSize int

	backoff time.Duration
}

// Options configures batch size; zero value uses DefaultBatchSize.
type Options struct {
	BatchSize int
}

func New(store clipstore.ClipStore, remote RemoteReplica, log *logger.Logger, opts Options) *Engine {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{store: store, remote: remote, log: log, batchSize: batchSize, backoff: minBackoff}
}

// Status summarizes the last-known sync checkpoint for a doctor-style report.
type Status struct {
	LastPushUpdatedAt time.Time
	LastPullUpdatedAt time.Time
	LastError         string
	LastPushOp        string
}

// Status reports the persisted sync checkpoint without contacting the remote.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st, err := e.store.SyncState(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		LastPushUpdatedAt: st.LastPushUpdatedAt,
		LastPullUpdatedAt: st.LastPullUpdatedAt,
		LastError:         st.LastError,
		LastPushOp:        st.LastPushOp,
	}, nil
}

// Run performs one push-then-pull round according to mode. On a
// connectivity failure it records the error in SyncState and returns it;
// callers that loop Run should back off using NextBackoff between
// invocations.
func (e *Engine) Run(ctx context.Context, mode Mode) error {
	var pushErr, pullErr error
	if mode == ModeBoth || mode == ModePushOnly {
		pushErr = e.push(ctx)
	}
	if mode == ModeBoth || mode == ModePullOnly {
		pullErr = e.pull(ctx)
	}

	if pushErr != nil {
		e.recordError(ctx, pushErr)
		return pushErr
	}
	if pullErr != nil {
		e.recordError(ctx, pullErr)
		return pullErr
	}
	e.backoff = minBackoff
	return nil
}

// NextBackoff returns the delay a caller should wait before retrying
// after the most recent Run failed, doubling on each consecutive
// failure up to a 5 minute ceiling.
func (e *Engine) NextBackoff() time.Duration {
	cur := e.backoff
	e.backoff *= 2
	if e.backoff > maxBackoff {
		e.backoff = maxBackoff
	}
	return cur
}

func (e *Engine) push(ctx context.Context) error {
	state, err := e.store.SyncState(ctx)
	if err != nil {
		return err
	}

	rows, err := e.store.ListTextUpdatedSince(ctx, state.LastPushUpdatedAt.UnixNano(), e.batchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	maxUpdated := state.LastPushUpdatedAt
	var upsertErr error
	for _, c := range rows {
		if _, err := e.remote.Upsert(ctx, c); err != nil {
			// Partial failures must not block future batches; stop this
			// round but keep the checkpoint at the last successful row.
			upsertErr = err
			break
		}
		if c.UpdatedAt.After(maxUpdated) {
			maxUpdated = c.UpdatedAt
		}
	}

	state.LastPushUpdatedAt = maxUpdated
	state.LastPushOp = "push"
	state.LastError = ""
	if err := e.store.SetSyncState(ctx, state); err != nil {
		return err
	}
	if e.log != nil {
		e.log.Debug().Int("rows", len(rows)).Msg("sync push batch complete")
	}
	return upsertErr
}

func (e *Engine) pull(ctx context.Context) error {
	state, err := e.store.SyncState(ctx)
	if err != nil {
		return err
	}

	rows, err := e.remote.PullSince(ctx, state.LastPullUpdatedAt, e.batchSize)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "pull from remote", err)
	}
	if len(rows) == 0 {
		return nil
	}

	maxUpdated := state.LastPullUpdatedAt
	for _, c := range rows {
		if _, err := e.store.IngestRemote(ctx, c); err != nil {
			return err
		}
		if c.UpdatedAt.After(maxUpdated) {
			maxUpdated = c.UpdatedAt
		}
	}

	state.LastPullUpdatedAt = maxUpdated
	state.LastPushOp = "pull"
	state.LastError = ""
	if err := e.store.SetSyncState(ctx, state); err != nil {
		return err
	}
	if e.log != nil {
		e.log.Debug().Int("rows", len(rows)).Msg("sync pull batch complete")
	}
	return nil
}

func (e *Engine) recordError(ctx context.Context, cause error) {
	state, err := e.store.SyncState(ctx)
	if err != nil {
		return
	}
	state.LastError = cause.Error()
	_ = e.store.SetSyncState(ctx, state)
}

// LWWLess implements the deterministic convergence order from spec.md §3
// invariant 4 and §4.6: (lamport asc, updated_at asc, device_id asc).
// a "wins" over b (b should be replaced) when b is strictly less than a.
func LWWLess(a, b *clip.Clip) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport < b.Lamport
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.DeviceID < b.DeviceID
}
