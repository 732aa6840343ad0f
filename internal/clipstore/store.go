// Package clipstore defines the durable relational store contract (C4):
// clips, favorites, tags, timestamps, sync metadata, search, and retention.
// Concrete backends live in subpackages (sqlite).
package clipstore

import (
	"context"

	"github.com/0xfell/ditox/internal/clip"
)

// ClipStore is the public surface of the Clip Store component (spec.md §4.4).
// Failures are returned as *ditoxerr.Error, except that transaction
// commit and row-iteration errors are returned as the driver reports them.
type ClipStore interface {
	AddText(ctx context.Context, body string, allowEmpty bool) (*clip.Clip, error)
	AddImage(ctx context.Context, input clip.CreateImageInput) (*clip.Clip, error)

	Get(ctx context.Context, id string) (*clip.Clip, error)
	List(ctx context.Context, filter clip.ListFilter) ([]*clip.Clip, error)
	Search(ctx context.Context, filter clip.SearchFilter) ([]*clip.Clip, error)

	Favorite(ctx context.Context, id string, value bool) error
	TouchLastUsed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	Prune(ctx context.Context, opts clip.PruneOptions) (removed int, err error)

	SetTags(ctx context.Context, id string, names []string) error
	GetTags(ctx context.Context, id string) ([]string, error)
	ListTags(ctx context.Context) ([]string, error)

	Export(ctx context.Context, dir string, filter clip.ExportFilter) error
	Import(ctx context.Context, dirOrFile string, opts clip.ImportOptions) (imported int, err error)

	// SelfCheck reports runtime capability discovered at open time, notably
	// whether FTS5 is available (spec.md §4.4 "self-check").
	SelfCheck(ctx context.Context) (SelfCheckReport, error)

	// Sync-facing accessors used exclusively by the sync engine (C6).
	ListTextUpdatedSince(ctx context.Context, since int64, limit int) ([]*clip.Clip, error)
	IngestRemote(ctx context.Context, remote *clip.Clip) (applied bool, err error)
	SyncState(ctx context.Context) (clip.SyncState, error)
	SetSyncState(ctx context.Context, state clip.SyncState) error

	Close() error
}

// SelfCheckReport summarizes store capabilities for doctor-equivalent callers.
type SelfCheckReport struct {
	FTSAvailable bool
	SchemaVersion int
	DeviceID      string
}
