// Package idmapping implements the durable bidirectional ObjectId<->path
// index (IdMappingStore) and the TTL-expiring, batching cache in front of
// it (IdMappingOptimizer).
package idmapping

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aoxcloud/storeengine/internal/fsutil"
	"github.com/aoxcloud/storeengine/pkg/errors"
	"github.com/aoxcloud/storeengine/pkg/types"
)

const component = "idmapping"

// Store is the durable bidirectional map ObjectId <-> storage path,
// backed by a single JSON document. A single mutex serialises writers;
// readers take the same lock (the document is small enough that an
// RWMutex buys little and complicates the save-coalescing story).
type Store struct {
	mu       sync.Mutex
	path     string
	forward  map[types.ObjectId]string // id -> path string
	reverse  map[string]types.ObjectId // path string -> id
	dirty    bool
	version  int
	updateAt int64
}

// NewStore loads the mapping document at docPath, creating an empty one
// in memory if the file does not yet exist on disk. The file is not
// written until the first Save.
func NewStore(docPath string) (*Store, error) {
	s := &Store{
		path:    docPath,
		forward: make(map[types.ObjectId]string),
		reverse: make(map[string]types.ObjectId),
		version: documentFormatVersion,
	}

	data, err := os.ReadFile(docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Io(component, "load", err).WithDetail("path", docPath)
	}

	doc, err := unmarshalDocument(data)
	if err != nil {
		return nil, errors.Other(component, "corrupt mapping document: "+err.Error()).WithDetail("path", docPath)
	}

	seen := make(map[string]types.ObjectId, len(doc.Entries))
	for idStr, pathStr := range doc.Entries {
		id := types.ObjectId(idStr)
		if existing, dup := seen[pathStr]; dup {
			return nil, errors.Other(component, "duplicate path in mapping document").
				WithDetail("path", pathStr).
				WithDetail("ids", []string{string(existing), idStr})
		}
		seen[pathStr] = id
		s.forward[id] = pathStr
		s.reverse[pathStr] = id
	}
	s.version = doc.Version
	s.updateAt = doc.UpdatedAt
	return s, nil
}

// GetOrCreateID returns the existing id for path, or allocates and
// inserts a fresh UUIDv4 if none exists. Allocation is serialised by the
// store's mutex.
func (s *Store) GetOrCreateID(path types.StoragePath) (types.ObjectId, error) {
	pathStr := path.ToString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.reverse[pathStr]; ok {
		return id, nil
	}

	id := types.ObjectId(uuid.New().String())
	s.forward[id] = pathStr
	s.reverse[pathStr] = id
	s.dirty = true
	return id, nil
}

// InsertKnownID records a mapping for a caller-supplied id, rather than
// allocating a fresh UUID. Used by save_with_id, where the caller
// already owns the id. Fails with AlreadyExists if path is already
// mapped to a different id.
func (s *Store) InsertKnownID(id types.ObjectId, path types.StoragePath) error {
	pathStr := path.ToString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.reverse[pathStr]; ok && existing != id {
		return errors.AlreadyExists(component, pathStr)
	}

	s.forward[id] = pathStr
	s.reverse[pathStr] = id
	s.dirty = true
	return nil
}

// GetPathByID resolves id to its current StoragePath.
func (s *Store) GetPathByID(id types.ObjectId) (types.StoragePath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pathStr, ok := s.forward[id]
	if !ok {
		return types.StoragePath{}, errors.NotFound(component, string(id))
	}
	p, err := types.ParseStoragePath(pathStr)
	if err != nil {
		return types.StoragePath{}, errors.Other(component, "stored path is invalid: "+pathStr)
	}
	return p, nil
}

// UpdatePath rewrites the path associated with id. It fails with
// NotFound if id is unmapped, or AlreadyExists if newPath already maps
// to a different id.
func (s *Store) UpdatePath(id types.ObjectId, newPath types.StoragePath) error {
	newPathStr := newPath.ToString()

	s.mu.Lock()
	defer s.mu.Unlock()

	oldPathStr, ok := s.forward[id]
	if !ok {
		return errors.NotFound(component, string(id))
	}
	if existing, collide := s.reverse[newPathStr]; collide && existing != id {
		return errors.AlreadyExists(component, newPathStr)
	}

	delete(s.reverse, oldPathStr)
	s.forward[id] = newPathStr
	s.reverse[newPathStr] = id
	s.dirty = true
	return nil
}

// RemoveID deletes the mapping row for id.
func (s *Store) RemoveID(id types.ObjectId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pathStr, ok := s.forward[id]
	if !ok {
		return errors.NotFound(component, string(id))
	}
	delete(s.forward, id)
	delete(s.reverse, pathStr)
	s.dirty = true
	return nil
}

// SaveChanges persists the in-memory document by atomic write. It is a
// no-op if nothing has changed since the last successful save.
func (s *Store) SaveChanges(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}

	doc := &document{
		Version:   documentFormatVersion,
		UpdatedAt: time.Now().Unix(),
		Entries:   make(map[string]string, len(s.forward)),
	}
	for id, pathStr := range s.forward {
		doc.Entries[string(id)] = pathStr
	}
	s.mu.Unlock()

	data, err := doc.marshal()
	if err != nil {
		return errors.Other(component, "failed to encode mapping document: "+err.Error())
	}

	if err := fsutil.AtomicWrite(ctx, s.path, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.updateAt = doc.UpdatedAt
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current forward map, for callers (like
// FolderStore.delete recursive or StorageUsageAccountant) that need to
// enumerate every mapped path without holding the store's lock.
func (s *Store) Snapshot() map[types.ObjectId]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[types.ObjectId]string, len(s.forward))
	for k, v := range s.forward {
		out[k] = v
	}
	return out
}
