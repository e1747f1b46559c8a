package objectstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aoxcloud/storeengine/internal/buffer"
	"github.com/aoxcloud/storeengine/internal/idmapping"
	"github.com/aoxcloud/storeengine/internal/metadatacache"
	"github.com/aoxcloud/storeengine/internal/parallelio"
	"github.com/aoxcloud/storeengine/internal/storagepath"
)

// newTestDeps wires a full Dependencies graph backed by t.TempDir(), the
// same way a production caller assembles FileStore/FolderStore.
func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	root := t.TempDir()

	paths := storagepath.New(root)

	fileStore, err := idmapping.NewStore(filepath.Join(root, "file_ids.json"))
	if err != nil {
		t.Fatalf("new file id store: %v", err)
	}
	folderStore, err := idmapping.NewStore(filepath.Join(root, "folder_ids.json"))
	if err != nil {
		t.Fatalf("new folder id store: %v", err)
	}

	fileIDs := idmapping.NewOptimizer(fileStore, 0, 0, nil)
	folderIDs := idmapping.NewOptimizer(folderStore, 0, 0, nil)

	cache := metadatacache.New(100 * time.Millisecond)
	proc := parallelio.New(256*1024, 4, buffer.NewBytePool())

	return Dependencies{
		Paths:                paths,
		FileIDs:              fileIDs,
		FolderIDs:            folderIDs,
		Cache:                cache,
		Processor:            proc,
		ChunkSizeBytes:       256 * 1024,
		LargeFileThresholdB:  1 << 20,
		ParallelThresholdB:   8 << 20,
		MaxInMemoryFileSizeB: 64 << 20,
	}
}
