// Package clip defines the entities shared by the clip store, the capture
// watcher, and the sync engine: Clip, ImageMeta, Tag, and the query/state
// types each component's public operations accept or return.
package clip

import "time"

// Kind distinguishes a text clip from an image clip.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Clip is the primary entity persisted by the clip store.
type Clip struct {
	ID          string
	Kind        Kind
	Text        string
	CreatedAt   time.Time
	IsFavorite  bool
	DeletedAt   *time.Time
	IsImage     bool
	ImagePath   string
	LastUsedAt  *time.Time
	UpdatedAt   time.Time
	Lamport     int64
	DeviceID    string
	Tags        []string
	Image       *ImageMeta
}

// ImageMeta is one-to-one with image clips.
type ImageMeta struct {
	ClipID    string
	Format    string
	Width     int
	Height    int
	SizeBytes int64
	SHA256    string
	ThumbPath string
}

// Tag is a unique tag name.
type Tag struct {
	Name string
}

// ListFilter selects which clips List returns.
type ListFilter struct {
	Favorites bool
	Images    bool
	Tag       string
	Limit     int
	Offset    int
}

// SearchFilter selects which clips Search considers.
type SearchFilter struct {
	Query     string
	Favorites bool
	Tag       string
	Limit     int
	Rank      bool
}

// CreateImageInput carries the raw pixels and target encoding for AddImage.
type CreateImageInput struct {
	RGBA      []byte
	Width     int
	Height    int
	Encoding  string // default "png"
	PathMode  bool
	PathDir   string // target directory when PathMode is set
}

// PruneOptions controls retention.
type PruneOptions struct {
	MaxItems       *int // nil means no count-based limit; 0 keeps only favorites
	MaxAge         time.Duration
	KeepFavorites  bool
	TombstoneGrace time.Duration // 0 disables tombstone compaction
}

// ExportFilter narrows what Export writes out.
type ExportFilter struct {
	Favorites    bool
	Tag          string
	IncludeImages bool
}

// DedupeMode controls how Import handles id/content collisions.
type DedupeMode string

const (
	DedupeByID     DedupeMode = "id"
	DedupeBySHA    DedupeMode = "sha"
	DedupeNone     DedupeMode = "none"
)

// ImportOptions controls Import behavior.
type ImportOptions struct {
	KeepIDs bool
	Dedupe  DedupeMode
}

// SyncState is the singleton-ish sync bookkeeping row (§3).
type SyncState struct {
	LastPushUpdatedAt time.Time
	LastPullUpdatedAt time.Time
	LastError         string
	LastPushOp        string
}
