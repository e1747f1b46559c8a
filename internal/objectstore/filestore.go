package objectstore

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/aoxcloud/storeengine/internal/fsutil"
	"github.com/aoxcloud/storeengine/internal/metadatacache"
	"github.com/aoxcloud/storeengine/pkg/errors"
	"github.com/aoxcloud/storeengine/pkg/retry"
	"github.com/aoxcloud/storeengine/pkg/types"
)

// FileStore implements types.FileStore: the façade over file objects.
type FileStore struct {
	deps Dependencies
}

// NewFileStore constructs a FileStore from deps.
func NewFileStore(deps Dependencies) *FileStore {
	return &FileStore{deps: deps}
}

var _ types.FileStore = (*FileStore)(nil)

// resolveFolderPath maps a caller-supplied folder id to its storage
// path. nil and RootFolderID both mean the storage root.
func (fs *FileStore) resolveFolderPath(ctx context.Context, folderID *types.ObjectId) (types.StoragePath, error) {
	if folderID == nil || *folderID == types.RootFolderID {
		return types.RootPath(), nil
	}
	return fs.deps.FolderIDs.GetPathByID(ctx, *folderID)
}

// deriveFolderID is the Open Question fix: folder_id on a returned
// descriptor reflects the real parent mapping, materializing one via
// GetOrCreateID (and a save) if the parent folder has no mapping yet.
func (fs *FileStore) deriveFolderID(ctx context.Context, parent types.StoragePath) (*types.ObjectId, error) {
	if parent.IsRoot() {
		return nil, nil
	}
	id, err := fs.deps.FolderIDs.GetOrCreateID(ctx, parent)
	if err != nil {
		return nil, err
	}
	if err := fs.deps.FolderIDs.SaveChanges(ctx); err != nil {
		return nil, err
	}
	return &id, nil
}

// resolveUniqueName applies the save algorithm's collision-suffixing
// (step 2): candidate, candidate_1, candidate_2, ... until one does not
// exist.
func (fs *FileStore) resolveUniqueName(ctx context.Context, folder types.StoragePath, name string) (types.StoragePath, error) {
	candidate := folder.Join(name)
	for n := 1; ; n++ {
		abs, err := fs.deps.Paths.Resolve(candidate)
		if err != nil {
			return types.StoragePath{}, err
		}
		exists, err := pathExists(ctx, fs.deps.Cache, abs)
		if err != nil {
			return types.StoragePath{}, err
		}
		if !exists {
			return candidate, nil
		}
		candidate = folder.Join(suffixed(name, n))
	}
}

// Save implements the save algorithm of spec §4.7.
func (fs *FileStore) Save(ctx context.Context, name string, folderID *types.ObjectId, mimeType string, data io.Reader, size int64) (obj types.FileObject, err error) {
	start := time.Now()
	defer func() { fs.deps.recordOperation("save", time.Since(start), obj.SizeBytes, err == nil) }()

	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	if name == "" {
		return types.FileObject{}, errors.Other(component, "file name must not be empty")
	}

	folderPath, err := fs.resolveFolderPath(ctx, folderID)
	if err != nil {
		return types.FileObject{}, err
	}

	candidate, err := fs.resolveUniqueName(ctx, folderPath, name)
	if err != nil {
		return types.FileObject{}, err
	}

	abs, err := fs.deps.Paths.Resolve(candidate)
	if err != nil {
		return types.FileObject{}, err
	}

	buf, err := readAllWithSize(data, size)
	if err != nil {
		return types.FileObject{}, errors.Io(component, "save", err).WithDetail("path", abs)
	}

	if err := fsutil.EnsureParentDirectory(ctx, abs); err != nil {
		return types.FileObject{}, err
	}

	if err := fs.deps.guardIO(ctx, func(ctx context.Context) error {
		return writeClassified(ctx, abs, buf, fs.deps.LargeFileThresholdB, fs.deps.ParallelThresholdB, fs.deps.Processor)
	}); err != nil {
		return types.FileObject{}, err
	}

	entry, err := fs.deps.Cache.Refresh(ctx, abs)
	if err != nil {
		return types.FileObject{}, err
	}
	if !entry.Exists {
		return types.FileObject{}, errors.Io(component, "save", os.ErrNotExist).WithDetail("path", abs)
	}

	mt := sniffMimeType(mimeType, name)

	id, err := fs.deps.FileIDs.GetOrCreateID(ctx, candidate)
	if err != nil {
		return types.FileObject{}, err
	}

	if err := fs.saveChangesWithVerify(ctx, id, candidate); err != nil {
		return types.FileObject{}, err
	}

	folderAbs, err := fs.deps.Paths.Resolve(folderPath)
	if err == nil {
		fs.deps.Cache.InvalidateDirectory(folderAbs)
	}

	derivedFolderID, err := fs.deriveFolderID(ctx, folderPath)
	if err != nil {
		return types.FileObject{}, err
	}

	return types.FileObject{
		ID:             id,
		Name:           candidate.FileName(),
		StoragePath:    candidate,
		SizeBytes:      entry.Size,
		MimeType:       mt,
		FolderID:       derivedFolderID,
		CreatedAtUnix:  entry.MtimeUnix,
		ModifiedAtUnix: entry.MtimeUnix,
	}, nil
}

// SaveWithID saves content at a caller-chosen id, overwriting whatever
// bytes currently live at the resolved target (no collision suffixing:
// the caller is asserting ownership of this exact id/name/folder).
func (fs *FileStore) SaveWithID(ctx context.Context, id types.ObjectId, name string, folderID *types.ObjectId, mimeType string, data io.Reader, size int64) (types.FileObject, error) {
	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	if name == "" {
		return types.FileObject{}, errors.Other(component, "file name must not be empty")
	}

	folderPath, err := fs.resolveFolderPath(ctx, folderID)
	if err != nil {
		return types.FileObject{}, err
	}
	candidate := folderPath.Join(name)

	abs, err := fs.deps.Paths.Resolve(candidate)
	if err != nil {
		return types.FileObject{}, err
	}

	buf, err := readAllWithSize(data, size)
	if err != nil {
		return types.FileObject{}, errors.Io(component, "save_with_id", err).WithDetail("path", abs)
	}

	if err := fsutil.EnsureParentDirectory(ctx, abs); err != nil {
		return types.FileObject{}, err
	}
	if err := fs.deps.guardIO(ctx, func(ctx context.Context) error {
		return writeClassified(ctx, abs, buf, fs.deps.LargeFileThresholdB, fs.deps.ParallelThresholdB, fs.deps.Processor)
	}); err != nil {
		return types.FileObject{}, err
	}

	entry, err := fs.deps.Cache.Refresh(ctx, abs)
	if err != nil {
		return types.FileObject{}, err
	}
	mt := sniffMimeType(mimeType, name)

	// get_or_create_id against a pre-allocated id requires recording the
	// exact (id, path) pair; the store enforces the path side of
	// uniqueness via UpdatePath if the id already exists, or by direct
	// insertion if it is new.
	if existingPath, err := fs.deps.FileIDs.GetPathByID(ctx, id); err == nil {
		if existingPath.ToString() != candidate.ToString() {
			if err := fs.deps.FileIDs.UpdatePath(ctx, id, candidate); err != nil {
				return types.FileObject{}, err
			}
		}
	} else if errors.IsNotFound(err) {
		if err := fs.deps.FileIDs.InsertKnownID(ctx, id, candidate); err != nil {
			return types.FileObject{}, err
		}
	} else {
		return types.FileObject{}, err
	}

	if err := fs.saveChangesWithVerify(ctx, id, candidate); err != nil {
		return types.FileObject{}, err
	}

	if folderAbs, err := fs.deps.Paths.Resolve(folderPath); err == nil {
		fs.deps.Cache.InvalidateDirectory(folderAbs)
	}

	derivedFolderID, err := fs.deriveFolderID(ctx, folderPath)
	if err != nil {
		return types.FileObject{}, err
	}

	return types.FileObject{
		ID:             id,
		Name:           candidate.FileName(),
		StoragePath:    candidate,
		SizeBytes:      entry.Size,
		MimeType:       mt,
		FolderID:       derivedFolderID,
		CreatedAtUnix:  entry.MtimeUnix,
		ModifiedAtUnix: entry.MtimeUnix,
	}, nil
}

// saveChangesWithVerify is the retry+verify loop of spec §4.7 step 8:
// up to 3 attempts with 100ms backoff, verifying the committed mapping
// resolves id back to path after each save. The whole attempt is then
// wrapped by Recovery (if configured), which sees one outcome per call
// and escalates to its circuit breaker once save_changes keeps failing
// across repeated calls rather than within a single one.
func (fs *FileStore) saveChangesWithVerify(ctx context.Context, id types.ObjectId, path types.StoragePath) error {
	r := retry.New(retry.Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   1,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeTimeout,
			errors.ErrCodeIo,
			errors.ErrCodeOther,
		},
	})

	return fs.deps.guardRecovery(ctx, "idmapping", "save_changes", func(ctx context.Context) error {
		return r.DoWithContext(ctx, func(ctx context.Context) error {
			if err := fs.deps.FileIDs.SaveChanges(ctx); err != nil {
				return errors.Timeout(component, "save_changes", path.ToString()).WithCause(err)
			}
			got, err := fs.deps.FileIDs.GetPathByID(ctx, id)
			if err != nil || got.ToString() != path.ToString() {
				return errors.Other(component, "mapping verification failed after save_changes").
					WithDetail("path", path.ToString())
			}
			return nil
		})
	})
}

// Get resolves id to its current descriptor. A mapping whose bytes have
// since been removed (by Delete, which does not clear the mapping) is
// surfaced as NotFound.
func (fs *FileStore) Get(ctx context.Context, id types.ObjectId) (obj types.FileObject, err error) {
	start := time.Now()
	defer func() { fs.deps.recordOperation("get", time.Since(start), obj.SizeBytes, err == nil) }()

	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	path, err := fs.deps.FileIDs.GetPathByID(ctx, id)
	if err != nil {
		return types.FileObject{}, err
	}
	abs, err := fs.deps.Paths.Resolve(path)
	if err != nil {
		return types.FileObject{}, err
	}

	entry, err := fs.deps.Cache.Refresh(ctx, abs)
	if err != nil {
		return types.FileObject{}, err
	}
	if !entry.Exists {
		return types.FileObject{}, errors.NotFound(component, string(id))
	}

	derivedFolderID, err := fs.deriveFolderID(ctx, path.Parent())
	if err != nil {
		return types.FileObject{}, err
	}

	return types.FileObject{
		ID:             id,
		Name:           path.FileName(),
		StoragePath:    path,
		SizeBytes:      entry.Size,
		MimeType:       sniffMimeType("", path.FileName()),
		FolderID:       derivedFolderID,
		CreatedAtUnix:  entry.MtimeUnix,
		ModifiedAtUnix: entry.MtimeUnix,
	}, nil
}

// List enumerates the regular files directly under folderID. A
// non-existent folder yields an empty list, not an error.
func (fs *FileStore) List(ctx context.Context, folderID *types.ObjectId) ([]types.FileObject, error) {
	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	folderPath, err := fs.resolveFolderPath(ctx, folderID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	abs, err := fs.deps.Paths.Resolve(folderPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Io(component, "list", err).WithDetail("path", abs)
	}

	derivedFolderID, err := fs.deriveFolderID(ctx, folderPath)
	if err != nil {
		return nil, err
	}

	var out []types.FileObject
	for _, de := range entries {
		if de.IsDir() || isHiddenOrReserved(de.Name()) {
			continue
		}
		childPath := folderPath.Join(de.Name())
		childAbs, err := fs.deps.Paths.Resolve(childPath)
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		ctime, mtime := toUnixTimestamps(info)
		fs.deps.Cache.Update(metadatacache.Entry{
			Path:      childAbs,
			Exists:    true,
			Kind:      types.KindFile,
			Size:      info.Size(),
			MtimeUnix: mtime,
		})

		id, err := fs.deps.FileIDs.GetOrCreateID(ctx, childPath)
		if err != nil {
			continue
		}

		out = append(out, types.FileObject{
			ID:             id,
			Name:           de.Name(),
			StoragePath:    childPath,
			SizeBytes:      info.Size(),
			MimeType:       sniffMimeType("", de.Name()),
			FolderID:       derivedFolderID,
			CreatedAtUnix:  ctime,
			ModifiedAtUnix: mtime,
		})
	}

	if err := fs.deps.FileIDs.SaveChanges(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a file's bytes but, per spec §4.7/§7, leaves the
// mapping row in place — a subsequent Get/ReadAll on this id returns
// NotFound because the bytes are gone, but the row itself is only
// cleared by DeleteEntry.
func (fs *FileStore) Delete(ctx context.Context, id types.ObjectId) (err error) {
	start := time.Now()
	defer func() { fs.deps.recordOperation("delete", time.Since(start), 0, err == nil) }()

	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	path, err := fs.deps.FileIDs.GetPathByID(ctx, id)
	if err != nil {
		return err
	}
	abs, err := fs.deps.Paths.Resolve(path)
	if err != nil {
		return err
	}

	fs.deps.Cache.Invalidate(abs)
	if parentAbs, perr := fs.deps.Paths.Resolve(path.Parent()); perr == nil {
		fs.deps.Cache.InvalidateDirectory(parentAbs)
	}

	return fsutil.RemoveFile(ctx, abs)
}

// DeleteEntry removes the mapping row for id unconditionally. Bytes
// deletion is best-effort: failures are swallowed (the row is removed
// regardless), matching the "removes mapping even if bytes missing"
// contract.
func (fs *FileStore) DeleteEntry(ctx context.Context, id types.ObjectId) (err error) {
	start := time.Now()
	defer func() { fs.deps.recordOperation("delete_entry", time.Since(start), 0, err == nil) }()

	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	path, err := fs.deps.FileIDs.GetPathByID(ctx, id)
	if err != nil {
		return err
	}
	abs, err := fs.deps.Paths.Resolve(path)
	if err == nil {
		fs.deps.Cache.Invalidate(abs)
		if parentAbs, perr := fs.deps.Paths.Resolve(path.Parent()); perr == nil {
			fs.deps.Cache.InvalidateDirectory(parentAbs)
		}
		if rmErr := fsutil.RemoveFile(ctx, abs); rmErr != nil {
			fs.deps.logger().Warn("delete_entry: failed to remove bytes, mapping removed anyway",
				"id", id, "path", abs, "error", rmErr)
		}
	}

	if err := fs.deps.FileIDs.RemoveID(ctx, id); err != nil {
		return err
	}
	return fs.deps.FileIDs.SaveChanges(ctx)
}

// ReadAll returns the full content of id, refusing files larger than
// MaxInMemoryFileSizeB with TooLarge.
func (fs *FileStore) ReadAll(ctx context.Context, id types.ObjectId) (data []byte, err error) {
	start := time.Now()
	defer func() { fs.deps.recordOperation("read_all", time.Since(start), int64(len(data)), err == nil) }()

	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	path, err := fs.deps.FileIDs.GetPathByID(ctx, id)
	if err != nil {
		return nil, err
	}
	abs, err := fs.deps.Paths.Resolve(path)
	if err != nil {
		return nil, err
	}

	entry, err := fs.deps.Cache.Refresh(ctx, abs)
	if err != nil {
		return nil, err
	}
	if !entry.Exists {
		return nil, errors.NotFound(component, string(id))
	}
	if entry.Size > fs.deps.MaxInMemoryFileSizeB {
		return nil, errors.TooLarge(component, entry.Size, fs.deps.MaxInMemoryFileSizeB)
	}

	var out []byte
	err = fs.deps.guardIO(ctx, func(ctx context.Context) error {
		var rerr error
		out, rerr = readClassified(ctx, abs, entry.Size, fs.deps.LargeFileThresholdB, fs.deps.ParallelThresholdB, fs.deps.Processor)
		return rerr
	})
	return out, err
}

// Stream opens id for sequential reading. The returned ReadCloser must
// be closed by the caller; canceling ctx before calling Stream aborts
// the open.
func (fs *FileStore) Stream(ctx context.Context, id types.ObjectId) (io.ReadCloser, error) {
	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	select {
	case <-ctx.Done():
		return nil, errors.Timeout(component, "stream", string(id))
	default:
	}

	path, err := fs.deps.FileIDs.GetPathByID(ctx, id)
	if err != nil {
		return nil, err
	}
	abs, err := fs.deps.Paths.Resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(component, string(id))
		}
		return nil, errors.Io(component, "stream", err).WithDetail("path", abs)
	}
	return f, nil
}

// Move relocates id to targetFolderID, preserving the id. A no-op if
// the target equals the current folder.
func (fs *FileStore) Move(ctx context.Context, id types.ObjectId, targetFolderID *types.ObjectId) (types.FileObject, error) {
	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	path, err := fs.deps.FileIDs.GetPathByID(ctx, id)
	if err != nil {
		return types.FileObject{}, err
	}

	targetFolder, err := fs.resolveFolderPath(ctx, targetFolderID)
	if err != nil {
		return types.FileObject{}, err
	}

	if path.Parent().ToString() == targetFolder.ToString() {
		return fs.Get(ctx, id)
	}

	newPath := targetFolder.Join(path.FileName())
	srcAbs, err := fs.deps.Paths.Resolve(path)
	if err != nil {
		return types.FileObject{}, err
	}
	dstAbs, err := fs.deps.Paths.Resolve(newPath)
	if err != nil {
		return types.FileObject{}, err
	}

	exists, err := pathExists(ctx, fs.deps.Cache, dstAbs)
	if err != nil {
		return types.FileObject{}, err
	}
	if exists {
		return types.FileObject{}, errors.AlreadyExists(component, newPath.ToString())
	}

	if err := fsutil.EnsureParentDirectory(ctx, dstAbs); err != nil {
		return types.FileObject{}, err
	}
	if err := fs.deps.guardRecovery(ctx, "fsutil", "rename_with_sync", func(ctx context.Context) error {
		return fsutil.RenameWithSync(ctx, srcAbs, dstAbs)
	}); err != nil {
		return types.FileObject{}, err
	}

	if err := fs.deps.FileIDs.UpdatePath(ctx, id, newPath); err != nil {
		return types.FileObject{}, err
	}
	if err := fs.deps.FileIDs.SaveChanges(ctx); err != nil {
		return types.FileObject{}, err
	}

	if srcParentAbs, err := fs.deps.Paths.Resolve(path.Parent()); err == nil {
		fs.deps.Cache.InvalidateDirectory(srcParentAbs)
	}
	fs.deps.Cache.InvalidateDirectory(dstAbs)
	if dstParentAbs, err := fs.deps.Paths.Resolve(targetFolder); err == nil {
		fs.deps.Cache.InvalidateDirectory(dstParentAbs)
	}

	return fs.Get(ctx, id)
}

// PathOf returns id's current StoragePath.
func (fs *FileStore) PathOf(ctx context.Context, id types.ObjectId) (types.StoragePath, error) {
	return fs.deps.FileIDs.GetPathByID(ctx, id)
}

// UpdateContent overwrites id's bytes in place. Modified-at is taken
// from the post-write stat, so it is monotonic with the prior value as
// long as the clock is.
func (fs *FileStore) UpdateContent(ctx context.Context, id types.ObjectId, data io.Reader, size int64) error {
	ctx, cancel := fs.deps.withFileTimeout(ctx)
	defer cancel()

	path, err := fs.deps.FileIDs.GetPathByID(ctx, id)
	if err != nil {
		return err
	}
	abs, err := fs.deps.Paths.Resolve(path)
	if err != nil {
		return err
	}

	buf, err := readAllWithSize(data, size)
	if err != nil {
		return errors.Io(component, "update_content", err).WithDetail("path", abs)
	}

	if err := fs.deps.guardIO(ctx, func(ctx context.Context) error {
		return writeClassified(ctx, abs, buf, fs.deps.LargeFileThresholdB, fs.deps.ParallelThresholdB, fs.deps.Processor)
	}); err != nil {
		return err
	}

	if _, err := fs.deps.Cache.Refresh(ctx, abs); err != nil {
		return err
	}
	return nil
}

func readAllWithSize(r io.Reader, size int64) ([]byte, error) {
	if size > 0 {
		return io.ReadAll(io.LimitReader(r, size))
	}
	return io.ReadAll(r)
}
