package objectstore

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aoxcloud/storeengine/internal/metadatacache"
	"github.com/aoxcloud/storeengine/pkg/types"
)

const (
	component       = "objectstore"
	defaultMimeType = "application/octet-stream"
)

// reservedNames are excluded from directory listings: the mapping
// documents themselves.
var reservedNames = map[string]bool{
	"file_ids.json":   true,
	"folder_ids.json": true,
}

func isHiddenOrReserved(name string) bool {
	return strings.HasPrefix(name, ".") || reservedNames[name]
}

// sniffMimeType returns provided if non-empty, else the mime type
// inferred from name's extension, else the generic octet-stream
// fallback.
func sniffMimeType(provided, name string) string {
	if provided != "" {
		return provided
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return defaultMimeType
}

// splitStem splits name into its stem and extension, where extension
// includes the leading dot (or is empty).
func splitStem(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	stem = strings.TrimSuffix(name, ext)
	return
}

// suffixed renders the n-th collision-avoidance variant of name:
// "stem_1.ext", "stem_2.ext", ...
func suffixed(name string, n int) string {
	stem, ext := splitStem(name)
	return fmt.Sprintf("%s_%d%s", stem, n, ext)
}

// pathExists consults the metadata cache first and falls back to a
// timed stat on miss, backfilling the cache — the "metadata-cache-first
// existence check" behaviour.
func pathExists(ctx context.Context, cache *metadatacache.Cache, abs string) (bool, error) {
	if e, ok := cache.Get(abs); ok {
		return e.Exists, nil
	}
	e, err := cache.Refresh(ctx, abs)
	if err != nil {
		return false, err
	}
	return e.Exists, nil
}

// normalizeFolderID canonicalizes a caller-supplied folder id: nil and
// RootFolderID are equivalent and both render as nil on output
// descriptors (folder_id == None means "lives at root").
func normalizeFolderID(id *types.ObjectId) *types.ObjectId {
	if id == nil || *id == types.RootFolderID {
		return nil
	}
	return id
}

func toUnixTimestamps(info os.FileInfo) (ctime, mtime uint64) {
	mtime = uint64(info.ModTime().Unix())
	ctime = mtime // the stdlib exposes no portable creation time; mtime stands in.
	return
}
