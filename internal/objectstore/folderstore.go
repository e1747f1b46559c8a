package objectstore

import (
	"context"
	"os"
	"time"

	"github.com/aoxcloud/storeengine/internal/fsutil"
	"github.com/aoxcloud/storeengine/internal/metadatacache"
	"github.com/aoxcloud/storeengine/pkg/errors"
	"github.com/aoxcloud/storeengine/pkg/types"
)

// FolderStore implements types.FolderStore: the mirror of FileStore for
// directory objects, reusing the same Paths/Cache and the folder-scoped
// IdMappingOptimizer.
type FolderStore struct {
	deps Dependencies
}

// NewFolderStore constructs a FolderStore from deps.
func NewFolderStore(deps Dependencies) *FolderStore {
	return &FolderStore{deps: deps}
}

var _ types.FolderStore = (*FolderStore)(nil)

func (fo *FolderStore) resolveParentPath(ctx context.Context, parentID *types.ObjectId) (types.StoragePath, error) {
	if parentID == nil || *parentID == types.RootFolderID {
		return types.RootPath(), nil
	}
	return fo.deps.FolderIDs.GetPathByID(ctx, *parentID)
}

// rootDescriptor is the fixed FolderObject describing the storage root.
func rootDescriptor() types.FolderObject {
	root := types.RootFolderID
	return types.FolderObject{
		ID:          root,
		Name:        "",
		StoragePath: types.RootPath(),
	}
}

// Create makes a new directory named name under parentID, on disk and
// in the mapping.
func (fo *FolderStore) Create(ctx context.Context, name string, parentID *types.ObjectId) (obj types.FolderObject, err error) {
	start := time.Now()
	defer func() { fo.deps.recordOperation("folder_create", time.Since(start), 0, err == nil) }()

	ctx, cancel := fo.deps.withDirTimeout(ctx)
	defer cancel()

	if name == "" {
		return types.FolderObject{}, errors.Other(component, "folder name must not be empty")
	}

	parentPath, err := fo.resolveParentPath(ctx, parentID)
	if err != nil {
		return types.FolderObject{}, err
	}
	candidate := parentPath.Join(name)

	abs, err := fo.deps.Paths.Resolve(candidate)
	if err != nil {
		return types.FolderObject{}, err
	}
	exists, err := pathExists(ctx, fo.deps.Cache, abs)
	if err != nil {
		return types.FolderObject{}, err
	}
	if exists {
		return types.FolderObject{}, errors.AlreadyExists(component, candidate.ToString())
	}

	if err := fo.deps.guardRecovery(ctx, "fsutil", "ensure_dir", func(ctx context.Context) error {
		return fsutil.EnsureDir(ctx, abs)
	}); err != nil {
		return types.FolderObject{}, err
	}

	entry, err := fo.deps.Cache.Refresh(ctx, abs)
	if err != nil {
		return types.FolderObject{}, err
	}
	if !entry.Exists {
		return types.FolderObject{}, errors.Io(component, "folder_create", os.ErrNotExist).WithDetail("path", abs)
	}

	id, err := fo.deps.FolderIDs.GetOrCreateID(ctx, candidate)
	if err != nil {
		return types.FolderObject{}, err
	}
	if err := fo.deps.FolderIDs.SaveChanges(ctx); err != nil {
		return types.FolderObject{}, err
	}

	if parentAbs, perr := fo.deps.Paths.Resolve(parentPath); perr == nil {
		fo.deps.Cache.InvalidateDirectory(parentAbs)
	}

	parentFolderID := normalizeParentID(parentID)

	return types.FolderObject{
		ID:             id,
		Name:           name,
		StoragePath:    candidate,
		ParentFolderID: parentFolderID,
		CreatedAtUnix:  entry.MtimeUnix,
		ModifiedAtUnix: entry.MtimeUnix,
	}, nil
}

func normalizeParentID(id *types.ObjectId) *types.ObjectId {
	return normalizeFolderID(id)
}

// Get resolves id to its current descriptor.
func (fo *FolderStore) Get(ctx context.Context, id types.ObjectId) (types.FolderObject, error) {
	if id == types.RootFolderID {
		return rootDescriptor(), nil
	}

	ctx, cancel := fo.deps.withDirTimeout(ctx)
	defer cancel()

	path, err := fo.deps.FolderIDs.GetPathByID(ctx, id)
	if err != nil {
		return types.FolderObject{}, err
	}
	abs, err := fo.deps.Paths.Resolve(path)
	if err != nil {
		return types.FolderObject{}, err
	}

	entry, err := fo.deps.Cache.Refresh(ctx, abs)
	if err != nil {
		return types.FolderObject{}, err
	}
	if !entry.Exists || entry.Kind != types.KindDirectory {
		return types.FolderObject{}, errors.NotFound(component, string(id))
	}

	parentPath := path.Parent()
	var parentFolderID *types.ObjectId
	if !parentPath.IsRoot() {
		pid, err := fo.deps.FolderIDs.GetOrCreateID(ctx, parentPath)
		if err != nil {
			return types.FolderObject{}, err
		}
		if err := fo.deps.FolderIDs.SaveChanges(ctx); err != nil {
			return types.FolderObject{}, err
		}
		parentFolderID = &pid
	}

	return types.FolderObject{
		ID:             id,
		Name:           path.FileName(),
		StoragePath:    path,
		ParentFolderID: parentFolderID,
		CreatedAtUnix:  entry.MtimeUnix,
		ModifiedAtUnix: entry.MtimeUnix,
	}, nil
}

// List enumerates the direct subdirectories of parentID. A
// non-existent parent yields an empty list, not an error. Subdirectory
// ids are materialised lazily, as for FileStore.List.
func (fo *FolderStore) List(ctx context.Context, parentID *types.ObjectId) ([]types.FolderObject, error) {
	ctx, cancel := fo.deps.withDirTimeout(ctx)
	defer cancel()

	parentPath, err := fo.resolveParentPath(ctx, parentID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	abs, err := fo.deps.Paths.Resolve(parentPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Io(component, "folder_list", err).WithDetail("path", abs)
	}

	parentFolderID := normalizeParentID(parentID)

	var out []types.FolderObject
	for _, de := range entries {
		if !de.IsDir() || isHiddenOrReserved(de.Name()) {
			continue
		}
		childPath := parentPath.Join(de.Name())
		childAbs, err := fo.deps.Paths.Resolve(childPath)
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		_, mtime := toUnixTimestamps(info)
		fo.deps.Cache.Update(metadatacache.Entry{
			Path:      childAbs,
			Exists:    true,
			Kind:      types.KindDirectory,
			MtimeUnix: mtime,
		})

		id, err := fo.deps.FolderIDs.GetOrCreateID(ctx, childPath)
		if err != nil {
			continue
		}

		out = append(out, types.FolderObject{
			ID:             id,
			Name:           de.Name(),
			StoragePath:    childPath,
			ParentFolderID: parentFolderID,
			CreatedAtUnix:  mtime,
			ModifiedAtUnix: mtime,
		})
	}

	if err := fo.deps.FolderIDs.SaveChanges(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Rename changes id's last path segment, on disk and in the mapping.
func (fo *FolderStore) Rename(ctx context.Context, id types.ObjectId, newName string) (types.FolderObject, error) {
	ctx, cancel := fo.deps.withDirTimeout(ctx)
	defer cancel()

	if newName == "" {
		return types.FolderObject{}, errors.Other(component, "folder name must not be empty")
	}

	path, err := fo.deps.FolderIDs.GetPathByID(ctx, id)
	if err != nil {
		return types.FolderObject{}, err
	}
	newPath := path.Parent().Join(newName)
	if newPath.ToString() == path.ToString() {
		return fo.Get(ctx, id)
	}

	srcAbs, err := fo.deps.Paths.Resolve(path)
	if err != nil {
		return types.FolderObject{}, err
	}
	dstAbs, err := fo.deps.Paths.Resolve(newPath)
	if err != nil {
		return types.FolderObject{}, err
	}
	exists, err := pathExists(ctx, fo.deps.Cache, dstAbs)
	if err != nil {
		return types.FolderObject{}, err
	}
	if exists {
		return types.FolderObject{}, errors.AlreadyExists(component, newPath.ToString())
	}

	if err := fo.deps.guardRecovery(ctx, "fsutil", "rename_with_sync", func(ctx context.Context) error {
		return fsutil.RenameWithSync(ctx, srcAbs, dstAbs)
	}); err != nil {
		return types.FolderObject{}, err
	}

	if err := fo.reindexSubtree(ctx, path, newPath); err != nil {
		return types.FolderObject{}, err
	}

	if err := fo.deps.FolderIDs.UpdatePath(ctx, id, newPath); err != nil {
		return types.FolderObject{}, err
	}
	if err := fo.deps.FolderIDs.SaveChanges(ctx); err != nil {
		return types.FolderObject{}, err
	}
	if err := fo.deps.FileIDs.SaveChanges(ctx); err != nil {
		return types.FolderObject{}, err
	}

	if parentAbs, perr := fo.deps.Paths.Resolve(path.Parent()); perr == nil {
		fo.deps.Cache.InvalidateDirectory(parentAbs)
	}
	fo.deps.Cache.InvalidateDirectory(dstAbs)

	return fo.Get(ctx, id)
}

// Move changes id's parent, preserving its name.
func (fo *FolderStore) Move(ctx context.Context, id types.ObjectId, targetParentID *types.ObjectId) (types.FolderObject, error) {
	ctx, cancel := fo.deps.withDirTimeout(ctx)
	defer cancel()

	path, err := fo.deps.FolderIDs.GetPathByID(ctx, id)
	if err != nil {
		return types.FolderObject{}, err
	}

	targetParent, err := fo.resolveParentPath(ctx, targetParentID)
	if err != nil {
		return types.FolderObject{}, err
	}
	if path.Parent().ToString() == targetParent.ToString() {
		return fo.Get(ctx, id)
	}

	newPath := targetParent.Join(path.FileName())
	srcAbs, err := fo.deps.Paths.Resolve(path)
	if err != nil {
		return types.FolderObject{}, err
	}
	dstAbs, err := fo.deps.Paths.Resolve(newPath)
	if err != nil {
		return types.FolderObject{}, err
	}
	exists, err := pathExists(ctx, fo.deps.Cache, dstAbs)
	if err != nil {
		return types.FolderObject{}, err
	}
	if exists {
		return types.FolderObject{}, errors.AlreadyExists(component, newPath.ToString())
	}

	if err := fsutil.EnsureParentDirectory(ctx, dstAbs); err != nil {
		return types.FolderObject{}, err
	}
	if err := fo.deps.guardRecovery(ctx, "fsutil", "rename_with_sync", func(ctx context.Context) error {
		return fsutil.RenameWithSync(ctx, srcAbs, dstAbs)
	}); err != nil {
		return types.FolderObject{}, err
	}

	if err := fo.reindexSubtree(ctx, path, newPath); err != nil {
		return types.FolderObject{}, err
	}

	if err := fo.deps.FolderIDs.UpdatePath(ctx, id, newPath); err != nil {
		return types.FolderObject{}, err
	}
	if err := fo.deps.FolderIDs.SaveChanges(ctx); err != nil {
		return types.FolderObject{}, err
	}
	if err := fo.deps.FileIDs.SaveChanges(ctx); err != nil {
		return types.FolderObject{}, err
	}

	if srcParentAbs, perr := fo.deps.Paths.Resolve(path.Parent()); perr == nil {
		fo.deps.Cache.InvalidateDirectory(srcParentAbs)
	}
	fo.deps.Cache.InvalidateDirectory(dstAbs)
	if dstParentAbs, perr := fo.deps.Paths.Resolve(targetParent); perr == nil {
		fo.deps.Cache.InvalidateDirectory(dstParentAbs)
	}

	return fo.Get(ctx, id)
}

// reindexSubtree rewrites every mapped file and folder path under
// oldRoot to sit under newRoot instead, after the directory itself has
// already been renamed/moved on disk. Both rename and move relocate a
// whole directory tree in a single filesystem operation, so every
// descendant's mapping row must follow without touching its bytes.
func (fo *FolderStore) reindexSubtree(ctx context.Context, oldRoot, newRoot types.StoragePath) error {
	oldPrefix := oldRoot.ToString() + "/"

	for id, pathStr := range fo.deps.FolderIDs.Snapshot() {
		if id == types.RootFolderID {
			continue
		}
		if rest, ok := underPrefix(pathStr, oldPrefix); ok {
			np := newRoot.Join(rest[0])
			for _, seg := range rest[1:] {
				np = np.Join(seg)
			}
			if err := fo.deps.FolderIDs.UpdatePath(ctx, id, np); err != nil {
				return err
			}
		}
	}
	for id, pathStr := range fo.deps.FileIDs.Snapshot() {
		if rest, ok := underPrefix(pathStr, oldPrefix); ok {
			np := newRoot.Join(rest[0])
			for _, seg := range rest[1:] {
				np = np.Join(seg)
			}
			if err := fo.deps.FileIDs.UpdatePath(ctx, id, np); err != nil {
				return err
			}
		}
	}
	return nil
}

func underPrefix(pathStr, prefix string) ([]string, bool) {
	if len(pathStr) <= len(prefix) || pathStr[:len(prefix)] != prefix {
		return nil, false
	}
	rest := pathStr[len(prefix):]
	segs := splitPath(rest)
	if len(segs) == 0 {
		return nil, false
	}
	return segs, true
}

func splitPath(s string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			segs = append(segs, s[start:i])
			start = i + 1
		}
	}
	segs = append(segs, s[start:])
	return segs
}

// Delete removes id. Non-recursive delete fails if the directory is
// non-empty; recursive delete removes the subtree's bytes and every
// descendant's mapping row, failing if any descendant mapping cannot
// be removed.
func (fo *FolderStore) Delete(ctx context.Context, id types.ObjectId, recursive bool) (err error) {
	start := time.Now()
	defer func() { fo.deps.recordOperation("folder_delete", time.Since(start), 0, err == nil) }()

	ctx, cancel := fo.deps.withDirTimeout(ctx)
	defer cancel()

	path, err := fo.deps.FolderIDs.GetPathByID(ctx, id)
	if err != nil {
		return err
	}
	abs, err := fo.deps.Paths.Resolve(path)
	if err != nil {
		return err
	}

	if !recursive {
		entries, rdErr := os.ReadDir(abs)
		if rdErr != nil && !os.IsNotExist(rdErr) {
			return errors.Io(component, "folder_delete", rdErr).WithDetail("path", abs)
		}
		if len(entries) > 0 {
			return errors.Other(component, "folder is not empty").WithDetail("path", abs)
		}
		if rmErr := fsutil.RemoveFile(ctx, abs); rmErr != nil {
			return rmErr
		}
	} else {
		if err := fo.deleteDescendantMappings(ctx, path); err != nil {
			return err
		}
		if rmErr := fsutil.RemoveAll(ctx, abs); rmErr != nil {
			return rmErr
		}
	}

	if err := fo.deps.FolderIDs.RemoveID(ctx, id); err != nil {
		return err
	}
	if err := fo.deps.FolderIDs.SaveChanges(ctx); err != nil {
		return err
	}

	fo.deps.Cache.Invalidate(abs)
	if parentAbs, perr := fo.deps.Paths.Resolve(path.Parent()); perr == nil {
		fo.deps.Cache.InvalidateDirectory(parentAbs)
	}
	return nil
}

// deleteDescendantMappings removes every file and folder mapping row
// whose path lies under root, as part of a recursive delete. It fails
// on the first row it cannot remove, leaving the caller free to abort
// before touching bytes on disk.
func (fo *FolderStore) deleteDescendantMappings(ctx context.Context, root types.StoragePath) error {
	prefix := root.ToString() + "/"

	for id, pathStr := range fo.deps.FileIDs.Snapshot() {
		if len(pathStr) > len(prefix) && pathStr[:len(prefix)] == prefix {
			if err := fo.deps.FileIDs.RemoveID(ctx, id); err != nil {
				return err
			}
		}
	}
	if err := fo.deps.FileIDs.SaveChanges(ctx); err != nil {
		return err
	}

	for id, pathStr := range fo.deps.FolderIDs.Snapshot() {
		if id == types.RootFolderID {
			continue
		}
		if len(pathStr) > len(prefix) && pathStr[:len(prefix)] == prefix {
			if err := fo.deps.FolderIDs.RemoveID(ctx, id); err != nil {
				return err
			}
		}
	}
	return fo.deps.FolderIDs.SaveChanges(ctx)
}
