// Package metadatacache implements FileMetadataCache: a path-keyed,
// TTL-expiring cache of filesystem metadata kept consistent with
// on-disk state by explicit invalidation from FileStore/FolderStore.
package metadatacache

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aoxcloud/storeengine/pkg/errors"
	"github.com/aoxcloud/storeengine/pkg/types"
)

const component = "metadatacache"

// StatFunc abstracts the filesystem stat call behind Refresh, so callers
// (tests, or a deployment fronting a slow network mount) can swap in
// something other than os.Stat.
type StatFunc func(path string) (os.FileInfo, error)

// Entry is the cached metadata for a single absolute filesystem path.
type Entry struct {
	Path       string
	Exists     bool
	Kind       types.EntryKind
	Size       int64
	Mime       string
	CtimeUnix  uint64
	MtimeUnix  uint64
	insertedAt time.Time
}

// Stale reports whether the entry is older than ttl as of now.
func (e Entry) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.insertedAt) >= ttl
}

// Cache is a concurrent path -> Entry map with per-entry TTL, guarded by
// a single RWMutex that readers share.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	stat    StatFunc

	statsMu sync.Mutex
	hits    uint64
	misses  uint64
}

// New constructs a Cache with the given default TTL, backed by os.Stat.
func New(ttl time.Duration) *Cache {
	return NewWithStat(ttl, os.Stat)
}

// NewWithStat constructs a Cache whose Refresh uses stat instead of
// os.Stat. Tests use this to inject a slow or failing backend and
// exercise the Timeout path without touching real disk.
func NewWithStat(ttl time.Duration, stat StatFunc) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		stat:    stat,
	}
}

// Get returns the cached entry for path if present and unexpired.
func (c *Cache) Get(path string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()

	if !ok || e.Stale(time.Now(), c.ttl) {
		c.bump(false)
		return Entry{}, false
	}
	c.bump(true)
	return e, true
}

// IsFile reports whether path is known to be a regular file. The second
// return value is false when the answer is not cached (unknown), which
// forces the caller to probe the filesystem.
func (c *Cache) IsFile(path string) (bool, bool) {
	e, ok := c.Get(path)
	if !ok {
		return false, false
	}
	return e.Exists && e.Kind == types.KindFile, true
}

// IsDir reports whether path is known to be a directory, with the same
// unknown-forces-probe convention as IsFile.
func (c *Cache) IsDir(path string) (bool, bool) {
	e, ok := c.Get(path)
	if !ok {
		return false, false
	}
	return e.Exists && e.Kind == types.KindDirectory, true
}

// Refresh stats path and updates the cache entry, marking it Unknown on
// ENOENT rather than returning an error: absence is a valid, cacheable
// answer for existence checks. The stat runs on its own goroutine so a
// hung filesystem (a stuck network mount, a slow stub in tests) cannot
// outlive ctx: Refresh returns a Timeout error the instant ctx expires,
// without waiting for the stat to return.
func (c *Cache) Refresh(ctx context.Context, path string) (Entry, error) {
	type result struct {
		info os.FileInfo
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := c.stat(path)
		done <- result{info, err}
	}()

	select {
	case <-ctx.Done():
		return Entry{}, errors.Timeout(component, "stat", path).WithCause(ctx.Err())
	case res := <-done:
		now := time.Now()
		var e Entry
		if res.err != nil {
			e = Entry{Path: path, Exists: false, Kind: types.KindUnknown, insertedAt: now}
		} else {
			kind := types.KindFile
			if res.info.IsDir() {
				kind = types.KindDirectory
			}
			e = Entry{
				Path:       path,
				Exists:     true,
				Kind:       kind,
				Size:       res.info.Size(),
				MtimeUnix:  uint64(res.info.ModTime().Unix()),
				insertedAt: now,
			}
		}
		c.update(e)
		return e, nil
	}
}

// Update unconditionally writes entry into the cache, stamping its
// insertion time to now.
func (c *Cache) update(e Entry) {
	e.insertedAt = time.Now()
	c.mu.Lock()
	c.entries[e.Path] = e
	c.mu.Unlock()
}

// Update is the exported form of update, for callers (e.g. FileStore
// after a write) that already know the fresh metadata and want to avoid
// a redundant stat.
func (c *Cache) Update(e Entry) {
	c.update(e)
}

// Invalidate drops the entry for path, if any.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// InvalidateDirectory drops dir's own entry and every entry whose parent
// is exactly dir.
func (c *Cache) InvalidateDirectory(dir string) {
	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, dir)
	for path := range c.entries {
		if path == dir {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		if rest == path {
			continue // not under dir at all
		}
		if !strings.Contains(rest, "/") {
			delete(c.entries, path)
		}
	}
}

// Stats returns hit/miss counters as a types.CacheStats snapshot.
func (c *Cache) Stats() types.CacheStats {
	c.statsMu.Lock()
	hits, misses := c.hits, c.misses
	c.statsMu.Unlock()

	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return types.CacheStats{
		Hits:    hits,
		Misses:  misses,
		Size:    int64(size),
		HitRate: rate,
	}
}

func (c *Cache) bump(hit bool) {
	c.statsMu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.statsMu.Unlock()
}
