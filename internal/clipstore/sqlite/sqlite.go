// Package sqlite implements clipstore.ClipStore on top of
// database/sql + github.com/mattn/go-sqlite3. Raw SQL rather than an
// ORM is deliberate: spec.md §4.3's PRAGMA user_version tracking, FTS5
// virtual tables with custom triggers, and idempotent migration scripts
// are not expressible through gorm's auto-migration (the path
// yiblet-rem/internal/store/dbstore takes for its own schema). Dynamic
// list/search filter queries are built with github.com/Masterminds/squirrel.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/0xfell/ditox/internal/blobstore"
	"github.com/0xfell/ditox/internal/clip"
	"github.com/0xfell/ditox/internal/clipstore"
	"github.com/0xfell/ditox/internal/ditoxerr"
	"github.com/0xfell/ditox/internal/migrate"
)

// Store is the SQLite-backed clipstore.ClipStore.
type Store struct {
	db       *sql.DB
	blobs    *blobstore.Store
	deviceID string
	fts      bool

	mu      sync.Mutex // guards lamport
	lamport int64
}

var _ clipstore.ClipStore = (*Store)(nil)

// Open opens (creating if necessary) the SQLite database at dbPath,
// applies any pending migrations, and wires a blobstore.Store rooted at
// objectsDir for image bytes.
func Open(dbPath, objectsDir, deviceID string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "create db directory", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "open database", err)
	}
	db.SetMaxOpenConns(1) // spec.md §5: a single writer at a time.

	if err := migrate.Apply(db, migrate.ApplyOptions{}); err != nil {
		db.Close()
		return nil, err
	}

	blobs, err := blobstore.New(objectsDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	fts := probeFTS(db)

	// Seed the device-local lamport counter from the stored maximum rather
	// than starting at 0 (spec.md §3 invariant 4, §9): otherwise the first
	// mutation after a restart would stamp a lamport lower than clips
	// already pushed to the remote, losing the row on its own prior state.
	var maxLamport int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(lamport), 0) FROM clips`).Scan(&maxLamport); err != nil {
		db.Close()
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "seed lamport counter", err)
	}

	return &Store{db: db, blobs: blobs, deviceID: deviceID, fts: fts, lamport: maxLamport}, nil
}

func probeFTS(db *sql.DB) bool {
	var count int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='clips_fts'`).Scan(&count)
	return err == nil && count > 0
}

func (s *Store) Close() error {
	return s.db.Close()
}

// nextLamport bumps and returns the device-local lamport counter for a
// brand new row, which has no prior lamport to take the max against.
func (s *Store) nextLamport() int64 {
	return s.nextLamportAfter(0)
}

// nextLamportAfter returns max(prior, device_lamport)+1 and persists it as
// the new device counter, matching spec.md §3 invariant 4 / §8 exactly:
// a mutation's lamport must exceed both the row's own prior value and
// every lamport this device has already stamped.
func (s *Store) nextLamportAfter(prior int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior > s.lamport {
		s.lamport = prior
	}
	s.lamport++
	return s.lamport
}

// seedLamportAtLeast advances the device counter to at least v without
// incrementing it, for applying an already-assigned lamport (a remote
// clip) rather than minting a new one.
func (s *Store) seedLamportAtLeast(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > s.lamport {
		s.lamport = v
	}
}

// lamportForImport returns the lamport to store for an imported row: its
// own recorded value if that already exceeds the device counter
// (preserving imported history as-is), otherwise a freshly minted one.
func (s *Store) lamportForImport(recorded int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if recorded > s.lamport {
		s.lamport = recorded
		return recorded
	}
	s.lamport++
	return s.lamport
}

func (s *Store) AddText(ctx context.Context, body string, allowEmpty bool) (*clip.Clip, error) {
	if body == "" && !allowEmpty {
		return nil, ditoxerr.New(ditoxerr.InvalidInput, "empty text body not allowed")
	}

	now := time.Now().UTC()
	c := &clip.Clip{
		ID:        clip.NewID(now),
		Kind:      clip.KindText,
		Text:      body,
		CreatedAt: now,
		UpdatedAt: now,
		Lamport:   s.nextLamport(),
		DeviceID:  s.deviceID,
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO clips (id, kind, text, created_at, is_favorite, deleted_at, is_image, image_path, updated_at, lamport, device_id)
VALUES (?, ?, ?, ?, 0, NULL, 0, NULL, ?, ?, ?)`,
		c.ID, string(c.Kind), c.Text, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(), c.Lamport, c.DeviceID)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "insert text clip", err)
	}
	return c, nil
}

func (s *Store) AddImage(ctx context.Context, input clip.CreateImageInput) (*clip.Clip, error) {
	if input.Width <= 0 || input.Height <= 0 {
		return nil, ditoxerr.New(ditoxerr.InvalidInput, "image width/height must be positive")
	}
	encoding := input.Encoding
	if encoding == "" {
		encoding = "png"
	}

	encoded, err := encodeRGBA(input.RGBA, input.Width, input.Height, encoding)
	if err != nil {
		return nil, err
	}

	sha256Hex, err := s.blobs.Put(encoded)
	if err != nil {
		return nil, err
	}

	var imagePath string
	if input.PathMode {
		if input.PathDir == "" {
			return nil, ditoxerr.New(ditoxerr.InvalidInput, "path_mode requires PathDir")
		}
		imagePath = filepath.Join(input.PathDir, sha256Hex+"."+encoding)
		if err := os.MkdirAll(input.PathDir, 0o700); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "create image path dir", err)
		}
		if err := os.WriteFile(imagePath, encoded, 0o600); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "write image file", err)
		}
	}

	now := time.Now().UTC()
	c := &clip.Clip{
		ID:        clip.NewID(now),
		Kind:      clip.KindImage,
		CreatedAt: now,
		UpdatedAt: now,
		IsImage:   true,
		ImagePath: imagePath,
		Lamport:   s.nextLamport(),
		DeviceID:  s.deviceID,
		Image: &clip.ImageMeta{
			Format:    encoding,
			Width:     input.Width,
			Height:    input.Height,
			SizeBytes: int64(len(encoded)),
			SHA256:    sha256Hex,
		},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO clips (id, kind, text, created_at, is_favorite, deleted_at, is_image, image_path, updated_at, lamport, device_id)
VALUES (?, ?, '', ?, 0, NULL, 1, ?, ?, ?, ?)`,
		c.ID, string(c.Kind), c.CreatedAt.UnixNano(), nullableString(imagePath), c.UpdatedAt.UnixNano(), c.Lamport, c.DeviceID); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "insert image clip", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO images (clip_id, format, width, height, size_bytes, sha256, thumb_path)
VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		c.ID, c.Image.Format, c.Image.Width, c.Image.Height, c.Image.SizeBytes, c.Image.SHA256); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "insert image metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "commit image clip", err)
	}
	c.Image.ClipID = c.ID
	return c, nil
}

func encodeRGBA(rgba []byte, width, height int, encoding string) ([]byte, error) {
	if len(rgba) != width*height*4 {
		return nil, ditoxerr.New(ditoxerr.InvalidInput, "rgba buffer length does not match width*height*4")
	}
	img := &image.RGBA{Pix: rgba, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}

	switch encoding {
	case "png", "":
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Fatal, "encode image", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, ditoxerr.New(ditoxerr.InvalidInput, fmt.Sprintf("unsupported image encoding %q", encoding))
	}
}

func (s *Store) Get(ctx context.Context, id string) (*clip.Clip, error) {
	c, err := s.scanOne(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ditoxerr.New(ditoxerr.NotFound, "clip not found")
	}
	return c, nil
}

const clipColumns = `id, kind, text, created_at, is_favorite, deleted_at, is_image, image_path, updated_at, lamport, device_id, last_used_at`

func (s *Store) scanOne(ctx context.Context, query string, args ...any) (*clip.Clip, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "scan clip", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClip(row rowScanner) (*clip.Clip, error) {
	var (
		id, kind, text, deviceID string
		createdAt                int64
		isFavorite, isImage      int
		deletedAt, updatedAt     sql.NullInt64
		imagePath                sql.NullString
		lamport                  int64
		lastUsedAt               sql.NullInt64
	)
	if err := row.Scan(&id, &kind, &text, &createdAt, &isFavorite, &deletedAt, &isImage, &imagePath, &updatedAt, &lamport, &deviceID, &lastUsedAt); err != nil {
		return nil, err
	}

	c := &clip.Clip{
		ID:         id,
		Kind:       clip.Kind(kind),
		Text:       text,
		CreatedAt:  time.Unix(0, createdAt).UTC(),
		IsFavorite: isFavorite != 0,
		IsImage:    isImage != 0,
		ImagePath:  imagePath.String,
		Lamport:    lamport,
		DeviceID:   deviceID,
	}
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64).UTC()
		c.DeletedAt = &t
	}
	if updatedAt.Valid {
		c.UpdatedAt = time.Unix(0, updatedAt.Int64).UTC()
	}
	if lastUsedAt.Valid {
		t := time.Unix(0, lastUsedAt.Int64).UTC()
		c.LastUsedAt = &t
	}
	return c, nil
}

func (s *Store) List(ctx context.Context, filter clip.ListFilter) ([]*clip.Clip, error) {
	qb := sq.Select(clipColumns).From("clips").Where(sq.Eq{"deleted_at": nil})

	if filter.Favorites {
		qb = qb.Where(sq.Eq{"is_favorite": 1})
	}
	if filter.Images {
		qb = qb.Where(sq.Eq{"is_image": 1})
	}
	if filter.Tag != "" {
		qb = qb.Where(sq.Expr(`id IN (SELECT clip_id FROM clip_tags JOIN tags ON tags.id = clip_tags.tag_id WHERE tags.name = ?)`, filter.Tag))
	}

	qb = qb.OrderBy("COALESCE(last_used_at, created_at) DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	return s.queryClips(ctx, qb)
}

func (s *Store) queryClips(ctx context.Context, qb sq.SelectBuilder) ([]*clip.Clip, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.InvalidInput, "build query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "query clips", err)
	}
	defer rows.Close()

	var out []*clip.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "scan clip row", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "iterate clip rows", err)
	}
	return out, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Search implements the operator-aware query path (spec.md §4.4): quoted
// phrases, AND/OR, a trailing `*` prefix, and the non-lexical `tag:`/`is:`
// filters. An empty query with no favorites/tag filter returns no rows
// (spec.md §8 boundary behavior), matching neither list() nor "match all".
func (s *Store) Search(ctx context.Context, filter clip.SearchFilter) ([]*clip.Clip, error) {
	parsed := parseQuery(filter.Query)
	favorites := filter.Favorites || parsed.isFavorite
	images := parsed.isImage
	tag := filter.Tag
	if tag == "" {
		tag = parsed.tag
	}

	if parsed.ftsQuery == "" && !favorites && tag == "" && !images {
		return nil, nil
	}

	if s.fts && parsed.ftsQuery != "" {
		return s.searchFTS(ctx, parsed.ftsQuery, favorites, images, tag, filter.Limit, filter.Rank)
	}
	return s.searchLike(ctx, parsed.ftsQuery, favorites, images, tag, filter.Limit)
}

type parsedQuery struct {
	ftsQuery   string
	tag        string
	isFavorite bool
	isImage    bool
}

// parseQuery extracts the tag:/is: filter tokens from q, leaving the
// remainder as an FTS5 MATCH expression (quoted phrases, AND/OR, and a
// trailing * prefix pass through untouched since FTS5 already understands
// that syntax).
func parseQuery(q string) parsedQuery {
	var out parsedQuery
	var remainder []string

	for _, tok := range tokenize(q) {
		switch {
		case strings.HasPrefix(tok, `tag:`):
			out.tag = strings.TrimPrefix(tok, "tag:")
		case tok == "is:image":
			out.isImage = true
		case tok == "is:fav", tok == "is:favorite":
			out.isFavorite = true
		default:
			remainder = append(remainder, tok)
		}
	}

	out.ftsQuery = strings.Join(remainder, " ")
	return out
}

// tokenize splits on whitespace while keeping double-quoted phrases intact.
func tokenize(q string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range q {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ' ' && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func (s *Store) searchFTS(ctx context.Context, ftsQuery string, favorites, images bool, tag string, limit int, rank bool) ([]*clip.Clip, error) {
	qb := sq.Select(prefixed("c", clipColumns)).
		From("clips_fts f").
		Join("clips c ON c.rowid = f.rowid").
		Where(sq.Expr("clips_fts MATCH ?", ftsQuery)).
		Where(sq.Eq{"c.deleted_at": nil})

	if favorites {
		qb = qb.Where(sq.Eq{"c.is_favorite": 1})
	}
	if images {
		qb = qb.Where(sq.Eq{"c.is_image": 1})
	}
	if tag != "" {
		qb = qb.Where(sq.Expr(`c.id IN (SELECT clip_id FROM clip_tags JOIN tags ON tags.id = clip_tags.tag_id WHERE tags.name = ?)`, tag))
	}

	if rank {
		qb = qb.OrderBy("bm25(clips_fts) ASC", "COALESCE(c.last_used_at, c.created_at) DESC")
	} else {
		qb = qb.OrderBy("COALESCE(c.last_used_at, c.created_at) DESC")
	}
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	rows, err := s.queryClips(ctx, qb)
	if err != nil {
		// FTS5 MATCH syntax errors surface as sqlite errors, not Go errors
		// we can type-assert reliably; treat any failure here as an
		// invalid search expression rather than a storage outage.
		return nil, ditoxerr.Wrap(ditoxerr.InvalidInput, "malformed search expression", err)
	}
	return rows, nil
}

func (s *Store) searchLike(ctx context.Context, text string, favorites, images bool, tag string, limit int) ([]*clip.Clip, error) {
	qb := sq.Select(clipColumns).From("clips").Where(sq.Eq{"deleted_at": nil})

	if text != "" {
		qb = qb.Where(sq.Like{"text": "%" + strings.Trim(text, `"`) + "%"})
	}
	if favorites {
		qb = qb.Where(sq.Eq{"is_favorite": 1})
	}
	if images {
		qb = qb.Where(sq.Eq{"is_image": 1})
	}
	if tag != "" {
		qb = qb.Where(sq.Expr(`id IN (SELECT clip_id FROM clip_tags JOIN tags ON tags.id = clip_tags.tag_id WHERE tags.name = ?)`, tag))
	}

	qb = qb.OrderBy("COALESCE(last_used_at, created_at) DESC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	return s.queryClips(ctx, qb)
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func (s *Store) Favorite(ctx context.Context, id string, value bool) error {
	flag := 0
	if value {
		flag = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	prior, err := priorLamport(ctx, tx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE clips SET is_favorite = ?, updated_at = ?, lamport = ? WHERE id = ? AND deleted_at IS NULL`,
		flag, now.UnixNano(), s.nextLamportAfter(prior), id); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "update favorite flag", err)
	}

	if err := tx.Commit(); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "commit favorite update", err)
	}
	return nil
}

// priorLamport reads id's current lamport within tx, so the caller can
// compute max(prior, device_lamport)+1 for the mutation about to replace
// it. Returns ditoxerr.NotFound if the row doesn't exist (or is deleted).
func priorLamport(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	var lamport int64
	err := tx.QueryRowContext(ctx, `SELECT lamport FROM clips WHERE id = ? AND deleted_at IS NULL`, id).Scan(&lamport)
	if err == sql.ErrNoRows {
		return 0, ditoxerr.New(ditoxerr.NotFound, "clip not found")
	}
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Unavailable, "read clip lamport", err)
	}
	return lamport, nil
}

func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE clips SET last_used_at = ? WHERE id = ? AND deleted_at IS NULL`, now.UnixNano(), id)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "touch last_used_at", err)
	}
	return requireRowAffected(res)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	prior, err := priorLamport(ctx, tx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE clips SET deleted_at = ?, updated_at = ?, lamport = ? WHERE id = ? AND deleted_at IS NULL`,
		now.UnixNano(), now.UnixNano(), s.nextLamportAfter(prior), id); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "delete clip", err)
	}

	if err := tx.Commit(); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "commit clip delete", err)
	}
	return nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "check rows affected", err)
	}
	if n == 0 {
		return ditoxerr.New(ditoxerr.NotFound, "clip not found")
	}
	return nil
}

// ClearAll tombstones every non-deleted clip; it does not truncate rows,
// preserving the sync-visible delete trail (spec.md §4.6). Every touched
// row gets the same freshly minted device lamport rather than its own
// lamport+1, keeping the device counter itself in sync with what gets
// written (spec.md §3 invariant 4).
func (s *Store) ClearAll(ctx context.Context) error {
	var maxLamport int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(lamport), 0) FROM clips WHERE deleted_at IS NULL`).Scan(&maxLamport); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "read max lamport", err)
	}
	lamport := s.nextLamportAfter(maxLamport)

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE clips SET deleted_at = ?, updated_at = ?, lamport = ? WHERE deleted_at IS NULL`,
		now.UnixNano(), now.UnixNano(), lamport)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "clear all clips", err)
	}
	return nil
}

// Prune enforces count and age based retention (spec.md §4.4), optionally
// sparing favorites, and permanently removes tombstones older than
// opts.TombstoneGrace.
func (s *Store) Prune(ctx context.Context, opts clip.PruneOptions) (int, error) {
	removed := 0

	if opts.MaxAge > 0 {
		cutoff := time.Now().Add(-opts.MaxAge).UnixNano()
		qb := sq.Update("clips").Set("deleted_at", time.Now().UnixNano()).
			Where(sq.Lt{"created_at": cutoff}).Where(sq.Eq{"deleted_at": nil})
		if opts.KeepFavorites {
			qb = qb.Where(sq.Eq{"is_favorite": 0})
		}
		n, err := s.execUpdate(ctx, qb)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if opts.MaxItems != nil {
		maxItems := *opts.MaxItems
		if maxItems < 0 {
			maxItems = 0
		}
		qb := sq.Select("id").From("clips").Where(sq.Eq{"deleted_at": nil})
		if opts.KeepFavorites {
			qb = qb.Where(sq.Eq{"is_favorite": 0})
		}
		// SQLite only accepts OFFSET after a LIMIT clause.
		qb = qb.OrderBy("COALESCE(last_used_at, created_at) DESC").Limit(uint64(math.MaxInt64)).Offset(uint64(maxItems))

		ids, err := s.queryIDs(ctx, qb)
		if err != nil {
			return removed, err
		}
		for _, id := range ids {
			if err := s.Delete(ctx, id); err != nil && !ditoxerr.Is(err, ditoxerr.NotFound) {
				return removed, err
			}
			removed++
		}
	}

	if opts.TombstoneGrace > 0 {
		cutoff := time.Now().Add(-opts.TombstoneGrace).UnixNano()
		res, err := s.db.ExecContext(ctx, `DELETE FROM clips WHERE deleted_at IS NOT NULL AND deleted_at < ?`, cutoff)
		if err != nil {
			return removed, ditoxerr.Wrap(ditoxerr.Unavailable, "compact tombstones", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	return removed, nil
}

func (s *Store) execUpdate(ctx context.Context, qb sq.UpdateBuilder) (int, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.InvalidInput, "build update", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Unavailable, "execute update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.Unavailable, "rows affected", err)
	}
	return int(n), nil
}

func (s *Store) queryIDs(ctx context.Context, qb sq.SelectBuilder) ([]string, error) {
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.InvalidInput, "build query", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "query ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) SetTags(ctx context.Context, id string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM clip_tags WHERE clip_id = ?`, id); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "clear existing tags", err)
	}

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
			return ditoxerr.Wrap(ditoxerr.Unavailable, "insert tag", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO clip_tags (clip_id, tag_id)
SELECT ?, id FROM tags WHERE name = ?`, id, name); err != nil {
			return ditoxerr.Wrap(ditoxerr.Unavailable, "attach tag", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "commit tags", err)
	}
	return nil
}

func (s *Store) GetTags(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tags.name FROM tags
JOIN clip_tags ON clip_tags.tag_id = tags.id
WHERE clip_tags.clip_id = ?
ORDER BY tags.name`, id)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "query tags", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "scan tag", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM tags ORDER BY name`)
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "list tags", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "scan tag", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) SelfCheck(ctx context.Context) (clipstore.SelfCheckReport, error) {
	status, err := migrate.Status(s.db)
	if err != nil {
		return clipstore.SelfCheckReport{}, err
	}
	return clipstore.SelfCheckReport{
		FTSAvailable:  s.fts,
		SchemaVersion: status.Current,
		DeviceID:      s.deviceID,
	}, nil
}

func (s *Store) ListTextUpdatedSince(ctx context.Context, since int64, limit int) ([]*clip.Clip, error) {
	qb := sq.Select(clipColumns).From("clips").
		Where(sq.Eq{"is_image": 0}).
		Where(sq.Gt{"updated_at": since}).
		OrderBy("updated_at ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	return s.queryClips(ctx, qb)
}

// IngestRemote applies a remote text clip using last-writer-wins: the
// device lamport counter is advanced past the incoming value (spec.md §3
// invariant 4) and the row (text, favorite flag, tombstone, and sync
// columns) is written only if the remote tuple wins over whatever is
// stored locally.
func (s *Store) IngestRemote(ctx context.Context, remote *clip.Clip) (bool, error) {
	s.nextLamportAfter(remote.Lamport)

	local, err := s.scanOne(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, remote.ID)
	if err != nil {
		return false, err
	}

	if local != nil && !syncLWWLess(local, remote) {
		return false, nil // local already at or ahead of the incoming tuple.
	}

	isFavorite := 0
	if remote.IsFavorite {
		isFavorite = 1
	}
	var deletedAt any
	if remote.DeletedAt != nil {
		deletedAt = remote.DeletedAt.UnixNano()
	}

	if local == nil {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO clips (id, kind, text, created_at, is_favorite, deleted_at, is_image, image_path, updated_at, lamport, device_id)
VALUES (?, 'text', ?, ?, ?, ?, 0, NULL, ?, ?, ?)`,
			remote.ID, remote.Text, remote.CreatedAt.UnixNano(), isFavorite, deletedAt, remote.UpdatedAt.UnixNano(), remote.Lamport, remote.DeviceID)
		if err != nil {
			return false, ditoxerr.Wrap(ditoxerr.Unavailable, "insert remote clip", err)
		}
		return true, nil
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE clips SET text = ?, is_favorite = ?, deleted_at = ?, updated_at = ?, lamport = ?, device_id = ? WHERE id = ?`,
		remote.Text, isFavorite, deletedAt, remote.UpdatedAt.UnixNano(), remote.Lamport, remote.DeviceID, remote.ID)
	if err != nil {
		return false, ditoxerr.Wrap(ditoxerr.Unavailable, "update remote clip", err)
	}
	return true, nil
}

// syncLWWLess mirrors sync.LWWLess's tuple order without importing the
// sync package, which itself depends on clipstore.ClipStore and would
// otherwise form an import cycle.
func syncLWWLess(a, b *clip.Clip) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport < b.Lamport
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.DeviceID < b.DeviceID
}

func (s *Store) SyncState(ctx context.Context) (clip.SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM sync_state`)
	if err != nil {
		return clip.SyncState{}, ditoxerr.Wrap(ditoxerr.Unavailable, "query sync state", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return clip.SyncState{}, ditoxerr.Wrap(ditoxerr.Unavailable, "scan sync state", err)
		}
		values[k] = v
	}

	var st clip.SyncState
	if v, ok := values["last_push_updated_at"]; ok {
		st.LastPushUpdatedAt = parseUnixNano(v)
	}
	if v, ok := values["last_pull_updated_at"]; ok {
		st.LastPullUpdatedAt = parseUnixNano(v)
	}
	st.LastError = values["last_error"]
	st.LastPushOp = values["last_push_op"]
	return st, nil
}

func (s *Store) SetSyncState(ctx context.Context, state clip.SyncState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	entries := map[string]string{
		"last_push_updated_at": fmt.Sprintf("%d", state.LastPushUpdatedAt.UnixNano()),
		"last_pull_updated_at": fmt.Sprintf("%d", state.LastPullUpdatedAt.UnixNano()),
		"last_error":           state.LastError,
		"last_push_op":         state.LastPushOp,
	}
	for k, v := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sync_state (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return ditoxerr.Wrap(ditoxerr.Unavailable, "persist sync state", err)
		}
	}
	return tx.Commit()
}

// exportRow is the on-disk shape of one clips.jsonl line.
type exportRow struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Text       string   `json:"text"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
	IsFavorite bool     `json:"is_favorite"`
	IsImage    bool     `json:"is_image"`
	Lamport    int64    `json:"lamport"`
	DeviceID   string   `json:"device_id"`
	Tags       []string `json:"tags,omitempty"`
	Image      *struct {
		Format    string `json:"format"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		SizeBytes int64  `json:"size_bytes"`
		SHA256    string `json:"sha256"`
	} `json:"image,omitempty"`
}

// Export writes clips.jsonl (one JSON object per line) under dir, along
// with image blobs under dir/objects/aa/bb/<sha256> when the filter
// includes images (spec.md §4.4).
func (s *Store) Export(ctx context.Context, dir string, filter clip.ExportFilter) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "create export directory", err)
	}

	list, err := s.List(ctx, clip.ListFilter{Favorites: filter.Favorites, Tag: filter.Tag})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, "clips.jsonl"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "create clips.jsonl", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, c := range list {
		if c.IsImage && !filter.IncludeImages {
			continue
		}

		tags, err := s.GetTags(ctx, c.ID)
		if err != nil {
			return err
		}
		row := exportRow{
			ID: c.ID, Kind: string(c.Kind), Text: c.Text,
			CreatedAt: c.CreatedAt.UnixNano(), UpdatedAt: c.UpdatedAt.UnixNano(),
			IsFavorite: c.IsFavorite, IsImage: c.IsImage,
			Lamport: c.Lamport, DeviceID: c.DeviceID, Tags: tags,
		}

		if c.IsImage {
			meta, err := s.imageMeta(ctx, c.ID)
			if err != nil {
				return err
			}
			if meta != nil {
				row.Image = &struct {
					Format    string `json:"format"`
					Width     int    `json:"width"`
					Height    int    `json:"height"`
					SizeBytes int64  `json:"size_bytes"`
					SHA256    string `json:"sha256"`
				}{meta.Format, meta.Width, meta.Height, meta.SizeBytes, meta.SHA256}

				if err := s.copyBlobInto(dir, meta.SHA256); err != nil {
					return err
				}
			}
		}

		if err := enc.Encode(row); err != nil {
			return ditoxerr.Wrap(ditoxerr.Unavailable, "write export row", err)
		}
	}
	return nil
}

func (s *Store) imageMeta(ctx context.Context, clipID string) (*clip.ImageMeta, error) {
	var m clip.ImageMeta
	err := s.db.QueryRowContext(ctx, `SELECT format, width, height, size_bytes, sha256, COALESCE(thumb_path, '') FROM images WHERE clip_id = ?`, clipID).
		Scan(&m.Format, &m.Width, &m.Height, &m.SizeBytes, &m.SHA256, &m.ThumbPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "query image metadata", err)
	}
	m.ClipID = clipID
	return &m, nil
}

func (s *Store) copyBlobInto(exportDir, sha256Hex string) error {
	src, err := s.blobs.Open(sha256Hex)
	if err != nil {
		return err
	}
	defer src.Close()

	target := filepath.Join(exportDir, "objects", sha256Hex[0:2], sha256Hex[2:4], sha256Hex)
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "create export objects directory", err)
	}

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "create exported blob", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "copy blob into export", err)
	}
	return nil
}

// Import reads clips.jsonl from dirOrFile (a direct file path or a
// directory containing one, alongside its objects/ tree) and rehydrates
// rows and blobs, applying the requested dedupe strategy.
func (s *Store) Import(ctx context.Context, dirOrFile string, opts clip.ImportOptions) (int, error) {
	jsonlPath := dirOrFile
	objectsDir := ""
	if info, err := os.Stat(dirOrFile); err == nil && info.IsDir() {
		jsonlPath = filepath.Join(dirOrFile, "clips.jsonl")
		objectsDir = filepath.Join(dirOrFile, "objects")
	} else {
		objectsDir = filepath.Join(filepath.Dir(dirOrFile), "objects")
	}

	f, err := os.Open(jsonlPath)
	if err != nil {
		return 0, ditoxerr.Wrap(ditoxerr.InvalidInput, "open clips.jsonl", err)
	}
	defer f.Close()

	imported := 0
	dec := json.NewDecoder(f)
	for dec.More() {
		var row exportRow
		if err := dec.Decode(&row); err != nil {
			return imported, ditoxerr.Wrap(ditoxerr.InvalidInput, "decode export row", err)
		}

		skip, err := s.shouldSkipImport(ctx, row, opts.Dedupe)
		if err != nil {
			return imported, err
		}
		if skip {
			continue
		}

		if err := s.importRow(ctx, row, opts, objectsDir); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func (s *Store) shouldSkipImport(ctx context.Context, row exportRow, mode clip.DedupeMode) (bool, error) {
	switch mode {
	case clip.DedupeByID, "":
		existing, err := s.scanOne(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, row.ID)
		if err != nil {
			return false, err
		}
		return existing != nil, nil
	case clip.DedupeBySHA:
		if row.Image == nil {
			return false, nil
		}
		return s.blobs.Exists(row.Image.SHA256), nil
	case clip.DedupeNone:
		return false, nil
	default:
		return false, ditoxerr.New(ditoxerr.InvalidInput, "unknown dedupe mode")
	}
}

func (s *Store) importRow(ctx context.Context, row exportRow, opts clip.ImportOptions, objectsDir string) error {
	id := row.ID
	if !opts.KeepIDs {
		id = clip.NewID(time.Now())
	}
	lamport := s.lamportForImport(row.Lamport)

	var imagePath any
	if row.IsImage && row.Image != nil {
		src := filepath.Join(objectsDir, row.Image.SHA256[0:2], row.Image.SHA256[2:4], row.Image.SHA256)
		data, err := os.ReadFile(src)
		if err != nil {
			return ditoxerr.Wrap(ditoxerr.InvalidInput, "read imported blob", err)
		}
		if _, err := s.blobs.Put(data); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "begin transaction", err)
	}
	defer tx.Rollback()

	isImage := 0
	if row.IsImage {
		isImage = 1
	}
	isFavorite := 0
	if row.IsFavorite {
		isFavorite = 1
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO clips (id, kind, text, created_at, is_favorite, deleted_at, is_image, image_path, updated_at, lamport, device_id)
VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)`,
		id, row.Kind, row.Text, row.CreatedAt, isFavorite, isImage, imagePath, row.UpdatedAt, lamport, row.DeviceID); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "insert imported clip", err)
	}

	if row.IsImage && row.Image != nil {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO images (clip_id, format, width, height, size_bytes, sha256, thumb_path)
VALUES (?, ?, ?, ?, ?, ?, NULL)`,
			id, row.Image.Format, row.Image.Width, row.Image.Height, row.Image.SizeBytes, row.Image.SHA256); err != nil {
			return ditoxerr.Wrap(ditoxerr.Unavailable, "insert imported image metadata", err)
		}
	}

	for _, tag := range row.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, tag); err != nil {
			return ditoxerr.Wrap(ditoxerr.Unavailable, "insert imported tag", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO clip_tags (clip_id, tag_id) SELECT ?, id FROM tags WHERE name = ?`, id, tag); err != nil {
			return ditoxerr.Wrap(ditoxerr.Unavailable, "attach imported tag", err)
		}
	}

	return tx.Commit()
}

func parseUnixNano(v string) time.Time {
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
