// Package blobstore is the content-addressed store for encoded image
// bytes (C2, spec.md §4.2). Writes are atomic via a temp-file-then-rename
// pattern in the same directory as the target, so a concurrent writer of
// identical content is a no-op and a reader never observes a partial file.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/0xfell/ditox/internal/ditoxerr"
)

// Store is a content-addressed blob store rooted at a directory.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating it with owner-only
// permissions (mode 0700) if it does not already exist.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "create blob root", err)
	}
	if err := os.Chmod(root, 0o700); err != nil {
		return nil, ditoxerr.Wrap(ditoxerr.Fatal, "restrict blob root permissions", err)
	}
	return &Store{root: root}, nil
}

// Path returns the on-disk path a blob with the given sha256 digest would
// occupy: <root>/aa/bb/<sha256>.
func (s *Store) Path(sha256Hex string) string {
	if len(sha256Hex) < 4 {
		return filepath.Join(s.root, sha256Hex)
	}
	return filepath.Join(s.root, sha256Hex[0:2], sha256Hex[2:4], sha256Hex)
}

// Put computes the SHA-256 of data, writes it under the content-addressed
// path if not already present, and returns the hex digest. Concurrent
// writers of identical content race harmlessly: the later rename replaces
// the target with a file holding the same bytes.
func (s *Store) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	target := s.Path(digest)
	if _, err := os.Stat(target); err == nil {
		return digest, nil // already present: dedupe, no write needed.
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "create blob shard directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "create temp blob file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "write temp blob file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "sync temp blob file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "close temp blob file", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		// Another writer may have published the same content first.
		if _, statErr := os.Stat(target); statErr == nil {
			return digest, nil
		}
		return "", ditoxerr.Wrap(ditoxerr.Fatal, "publish blob", err)
	}

	return digest, nil
}

// Open returns a reader for the blob identified by sha256Hex.
func (s *Store) Open(sha256Hex string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(sha256Hex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ditoxerr.Wrap(ditoxerr.NotFound, "blob not found", err)
		}
		return nil, ditoxerr.Wrap(ditoxerr.Unavailable, "open blob", err)
	}
	return f, nil
}

// Exists reports whether a blob with the given digest is present.
func (s *Store) Exists(sha256Hex string) bool {
	_, err := os.Stat(s.Path(sha256Hex))
	return err == nil
}

// Verify reads the blob back and confirms its content hashes to sha256Hex,
// surfacing ditoxerr.Corruption on mismatch (spec.md §8 quantified invariant).
func (s *Store) Verify(sha256Hex string) error {
	f, err := s.Open(sha256Hex)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ditoxerr.Wrap(ditoxerr.Unavailable, "read blob for verification", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != sha256Hex {
		return ditoxerr.New(ditoxerr.Corruption, "blob content does not match its digest")
	}
	return nil
}
