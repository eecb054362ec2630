// Package files implements the on-disk image caches: one capped directory
// of experience card images keyed by record id, and a small profile photo
// area holding the cached remote photo plus the pending upload slot.
//
// All writes are atomic: bytes land in a temp file in the same directory
// and are renamed into place, so readers never observe a partial image.
package files

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultMaxImages caps the experience image directory when no explicit
// limit is configured.
const DefaultMaxImages = 12

// ImageStore is the capped cache of experience card images. It is not safe
// for concurrent writers of the same record id; the orchestrators serialize
// per-record downloads.
type ImageStore struct {
	dir string
	max int
}

// NewImageStore creates the cache directory if needed. max <= 0 falls back
// to DefaultMaxImages.
func NewImageStore(dir string, max int) (*ImageStore, error) {
	if max <= 0 {
		max = DefaultMaxImages
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image cache dir: %w", err)
	}
	return &ImageStore{dir: dir, max: max}, nil
}

// Find returns the cached image path for a record, and whether one exists.
func (s *ImageStore) Find(recordID string) (string, bool) {
	path := s.path(recordID)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}
	return "", false
}

// Save writes the image bytes for a record and evicts the oldest entries
// beyond the cap. Saving over an existing record replaces it in place.
func (s *ImageStore) Save(recordID string, r io.Reader) (string, error) {
	path := s.path(recordID)
	if err := writeAtomic(path, r); err != nil {
		return "", err
	}
	if err := s.evict(); err != nil {
		return "", err
	}
	return path, nil
}

// Download fetches the first image of a record over HTTP and caches it.
// Already-cached records are returned without any network traffic.
func (s *ImageStore) Download(ctx context.Context, client *http.Client, recordID, url string) (string, error) {
	if path, ok := s.Find(recordID); ok {
		return path, nil
	}
	if url == "" {
		return "", fmt.Errorf("no image url for record %s", recordID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image for %s: %w", recordID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image for %s: unexpected status %d", recordID, resp.StatusCode)
	}
	return s.Save(recordID, resp.Body)
}

// Count returns the number of cached experience images.
func (s *ImageStore) Count() (int, error) {
	entries, err := s.list()
	return len(entries), err
}

func (s *ImageStore) path(recordID string) string {
	return filepath.Join(s.dir, sanitize(recordID)+".jpg")
}

// evict removes the oldest-modified images until the directory is back
// under the cap.
func (s *ImageStore) evict() error {
	entries, err := s.list()
	if err != nil {
		return err
	}
	if len(entries) <= s.max {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})
	for _, e := range entries[:len(entries)-s.max] {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("evict %s: %w", e.path, err)
		}
	}
	return nil
}

type cacheEntry struct {
	path    string
	modTime time.Time
}

// list returns the committed images in the cache directory, skipping temp
// files still being written.
func (s *ImageStore) list() ([]cacheEntry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read image cache dir: %w", err)
	}
	entries := make([]cacheEntry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, cacheEntry{
			path:    filepath.Join(s.dir, d.Name()),
			modTime: info.ModTime(),
		})
	}
	return entries, nil
}

// ProfileStore holds the two profile photo slots for the local user:
// cached.jpg mirrors the last known remote photo, pending.jpg is a durable
// copy of a chosen photo awaiting upload.
type ProfileStore struct {
	dir string
}

// NewProfileStore creates the profile photo directory if needed.
func NewProfileStore(dir string) (*ProfileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile photo dir: %w", err)
	}
	return &ProfileStore{dir: dir}, nil
}

// CachedPath returns the cached remote photo path and whether it exists.
func (s *ProfileStore) CachedPath() (string, bool) {
	return existing(filepath.Join(s.dir, "cached.jpg"))
}

// PendingPath returns the pending upload path and whether it exists.
func (s *ProfileStore) PendingPath() (string, bool) {
	return existing(filepath.Join(s.dir, "pending.jpg"))
}

// SaveCached atomically replaces the cached remote photo.
func (s *ProfileStore) SaveCached(r io.Reader) (string, error) {
	path := filepath.Join(s.dir, "cached.jpg")
	if err := writeAtomic(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// SavePending atomically replaces the pending upload slot. A second call
// before the first upload completes overwrites the slot: only the newest
// choice is ever uploaded.
func (s *ProfileStore) SavePending(r io.Reader) (string, error) {
	path := filepath.Join(s.dir, "pending.jpg")
	if err := writeAtomic(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// ClearPending removes the pending upload slot. Missing is not an error.
func (s *ProfileStore) ClearPending() error {
	err := os.Remove(filepath.Join(s.dir, "pending.jpg"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PromotePending moves the pending photo into the cached slot after a
// successful upload, so the mirror reflects what the remote now serves.
func (s *ProfileStore) PromotePending() (string, error) {
	pending := filepath.Join(s.dir, "pending.jpg")
	cached := filepath.Join(s.dir, "cached.jpg")
	if err := os.Rename(pending, cached); err != nil {
		return "", fmt.Errorf("promote pending photo: %w", err)
	}
	return cached, nil
}

func existing(path string) (string, bool) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}
	return "", false
}

// writeAtomic streams r into a temp file next to path and renames it into
// place.
func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flush image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit image: %w", err)
	}
	return nil
}

// sanitize keeps record ids safe as file names.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
