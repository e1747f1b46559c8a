package objectstore

import (
	"context"
	"strings"
	"time"

	"github.com/aoxcloud/storeengine/pkg/types"
)

// UserResolver maps a user id to the top-level storage path convention
// that holds their content (e.g. "users/<user_id>"). Injected so
// StorageUsageAccountant does not hardcode a layout.
type UserResolver interface {
	TopLevelPath(userID string) types.StoragePath
	ListUserIDs(ctx context.Context) ([]string, error)
}

// StorageUsageAccountant computes per-user storage usage by walking
// the id mapping's file entries. Results are advisory: they are
// returned to the caller, not persisted here — persistence is the
// responsibility of an external user repository.
type StorageUsageAccountant struct {
	deps     Dependencies
	resolver UserResolver
}

// NewStorageUsageAccountant constructs an accountant over deps, using
// resolver to translate user ids to storage subtrees.
func NewStorageUsageAccountant(deps Dependencies, resolver UserResolver) *StorageUsageAccountant {
	return &StorageUsageAccountant{deps: deps, resolver: resolver}
}

// UpdateForUser sums the size of every file mapped under userID's
// top-level folder, consulting the metadata cache for each path
// (refreshing on miss) rather than re-walking the filesystem.
func (a *StorageUsageAccountant) UpdateForUser(ctx context.Context, userID string) (total int64, err error) {
	start := time.Now()
	defer func() { a.deps.recordOperation("usage_update_for_user", time.Since(start), total, err == nil) }()

	ctx, cancel := a.deps.withDirTimeout(ctx)
	defer cancel()

	top := a.resolver.TopLevelPath(userID).ToString()
	if top == "" {
		// No real top-level folder for this user: root is shared
		// space, not a per-user subtree, so usage is zero rather
		// than "everything".
		return 0, nil
	}
	prefix := top + "/"

	for _, pathStr := range a.deps.FileIDs.Snapshot() {
		if !strings.HasPrefix(pathStr, prefix) {
			continue
		}
		p, perr := types.ParseStoragePath(pathStr)
		if perr != nil {
			continue
		}
		abs, perr := a.deps.Paths.Resolve(p)
		if perr != nil {
			continue
		}
		entry, ok := a.deps.Cache.Get(abs)
		if !ok {
			entry, err = a.deps.Cache.Refresh(ctx, abs)
			if err != nil {
				return total, err
			}
		}
		if entry.Exists && entry.Kind == types.KindFile {
			total += entry.Size
		}
	}
	return total, nil
}

// UpdateAllUsers recomputes usage for every known user, swallowing and
// logging per-user failures so one bad resolver entry does not abort
// the sweep. Background callers (a periodic recomputation task) are
// expected to invoke this on a timer; it never crashes the process.
func (a *StorageUsageAccountant) UpdateAllUsers(ctx context.Context) (map[string]int64, error) {
	userIDs, err := a.resolver.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(userIDs))
	for _, userID := range userIDs {
		total, err := a.UpdateForUser(ctx, userID)
		if err != nil {
			a.deps.backgroundLogger().Warn("usage recomputation failed for user", "user_id", userID, "error", err)
			continue
		}
		out[userID] = total
	}
	return out, nil
}
