package objectstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aoxcloud/storeengine/internal/idmapping"
	"github.com/aoxcloud/storeengine/internal/metadatacache"
	"github.com/aoxcloud/storeengine/pkg/errors"
	"github.com/aoxcloud/storeengine/pkg/types"
)

func TestFileStoreCreateReadDelete(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)

	obj, err := fs.Save(ctx, "hello.txt", nil, "text/plain", bytes.NewReader([]byte("hi")), 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), obj.SizeBytes)

	data, err := fs.ReadAll(ctx, obj.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), data)

	require.NoError(t, fs.Delete(ctx, obj.ID))

	_, err = fs.Get(ctx, obj.ID)
	require.Error(t, err)
	require.True(t, errors.IsNotFound(err))

	list, err := fs.List(ctx, nil)
	require.NoError(t, err)
	for _, f := range list {
		require.NotEqual(t, "hello.txt", f.Name)
	}
}

func TestFileStoreCollisionSuffixing(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)
	fo := NewFolderStore(deps)

	folder, err := fo.Create(ctx, "F", nil)
	require.NoError(t, err)

	names := []string{}
	ids := map[types.ObjectId]bool{}
	for i := 0; i < 3; i++ {
		obj, err := fs.Save(ctx, "a.png", &folder.ID, "", bytes.NewReader([]byte{0xA}), 1)
		require.NoError(t, err)
		names = append(names, obj.Name)
		ids[obj.ID] = true
	}

	require.Equal(t, []string{"a.png", "a_1.png", "a_2.png"}, names)
	require.Len(t, ids, 3)
}

func TestFileStoreMovePreservesID(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)
	fo := NewFolderStore(deps)

	obj, err := fs.Save(ctx, "x", nil, "", bytes.NewReader([]byte("data")), 4)
	require.NoError(t, err)

	folder, err := fo.Create(ctx, "F", nil)
	require.NoError(t, err)

	moved, err := fs.Move(ctx, obj.ID, &folder.ID)
	require.NoError(t, err)
	require.Equal(t, obj.ID, moved.ID)
	require.NotNil(t, moved.FolderID)
	require.Equal(t, folder.ID, *moved.FolderID)

	rootList, err := fs.List(ctx, nil)
	require.NoError(t, err)
	for _, f := range rootList {
		require.NotEqual(t, "x", f.Name)
	}

	folderList, err := fs.List(ctx, &folder.ID)
	require.NoError(t, err)
	found := false
	for _, f := range folderList {
		if f.Name == "x" {
			found = true
		}
	}
	require.True(t, found)
}

func TestFileStoreMoveToSameFolderIsNoop(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)

	obj, err := fs.Save(ctx, "x", nil, "", bytes.NewReader([]byte("data")), 4)
	require.NoError(t, err)

	moved, err := fs.Move(ctx, obj.ID, nil)
	require.NoError(t, err)
	require.Equal(t, obj.ID, moved.ID)
	require.Equal(t, obj.ModifiedAtUnix, moved.ModifiedAtUnix)
}

func TestFileStoreParallelLargeWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	deps.ParallelThresholdB = 1 << 20
	fs := NewFileStore(deps)

	size := 10 << 20
	payload := make([]byte, size)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	obj, err := fs.Save(ctx, "big.bin", nil, "", bytes.NewReader(payload), int64(size))
	require.NoError(t, err)
	require.Equal(t, int64(size), obj.SizeBytes)

	got, err := fs.ReadAll(ctx, obj.ID)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

func TestFileStoreMappingRecoveryAcrossRestart(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs1 := NewFileStore(deps)

	obj1, err := fs1.Save(ctx, "one.txt", nil, "", bytes.NewReader([]byte("111")), 3)
	require.NoError(t, err)
	obj2, err := fs1.Save(ctx, "two.txt", nil, "", bytes.NewReader([]byte("222")), 3)
	require.NoError(t, err)

	root := deps.Paths.Root()
	freshFileStore, err := idmapping.NewStore(filepath.Join(root, "file_ids.json"))
	require.NoError(t, err)
	freshFolderStore, err := idmapping.NewStore(filepath.Join(root, "folder_ids.json"))
	require.NoError(t, err)

	newDeps := deps
	newDeps.FileIDs = idmapping.NewOptimizer(freshFileStore, 0, 0, nil)
	newDeps.FolderIDs = idmapping.NewOptimizer(freshFolderStore, 0, 0, nil)
	fs2 := NewFileStore(newDeps)

	p1, err := fs2.PathOf(ctx, obj1.ID)
	require.NoError(t, err)
	require.Equal(t, "one.txt", p1.FileName())

	data1, err := fs2.ReadAll(ctx, obj1.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("111"), data1)

	data2, err := fs2.ReadAll(ctx, obj2.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("222"), data2)
}

func TestFileStoreSaveEmptyNameFails(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)

	_, err := fs.Save(ctx, "", nil, "", bytes.NewReader(nil), 0)
	require.Error(t, err)
}

func TestFileStoreReadAllTooLarge(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	deps.MaxInMemoryFileSizeB = 4
	fs := NewFileStore(deps)

	obj, err := fs.Save(ctx, "f.bin", nil, "", bytes.NewReader([]byte("abcde")), 5)
	require.NoError(t, err)

	_, err = fs.ReadAll(ctx, obj.ID)
	require.Error(t, err)
	var storeErr *errors.StoreError
	require.ErrorAs(t, err, &storeErr)
	require.Equal(t, errors.ErrCodeTooLarge, storeErr.Code)
}

func TestFileStoreStreamEqualsReadAll(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	obj, err := fs.Save(ctx, "f.txt", nil, "", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	rc, err := fs.Stream(ctx, obj.ID)
	require.NoError(t, err)
	defer rc.Close()

	streamed, err := io.ReadAll(rc)
	require.NoError(t, err)

	all, err := fs.ReadAll(ctx, obj.ID)
	require.NoError(t, err)

	require.Equal(t, all, streamed)
}

func TestFileStoreDeleteEntryRemovesMappingEvenIfBytesMissing(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)

	obj, err := fs.Save(ctx, "f.txt", nil, "", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	require.NoError(t, fs.Delete(ctx, obj.ID))
	require.NoError(t, fs.DeleteEntry(ctx, obj.ID))

	_, err = fs.PathOf(ctx, obj.ID)
	require.Error(t, err)
	require.True(t, errors.IsNotFound(err))
}

func TestFileStoreUpdateContentMonotonicModifiedAt(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)

	obj, err := fs.Save(ctx, "f.txt", nil, "", bytes.NewReader([]byte("v1")), 2)
	require.NoError(t, err)

	err = fs.UpdateContent(ctx, obj.ID, bytes.NewReader([]byte("v2-longer")), 9)
	require.NoError(t, err)

	updated, err := fs.Get(ctx, obj.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, updated.ModifiedAtUnix, obj.ModifiedAtUnix)

	data, err := fs.ReadAll(ctx, obj.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("v2-longer"), data)
}

// TestFileStoreGetTimesOutOnSlowMetadata injects a cache whose stat call
// never returns within the configured file operation budget, proving
// Get surfaces a genuine Timeout rather than blocking forever.
func TestFileStoreGetTimesOutOnSlowMetadata(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	fs := NewFileStore(deps)

	obj, err := fs.Save(ctx, "f.txt", nil, "", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	unblock := make(chan struct{})
	defer close(unblock)
	slowDeps := deps
	slowDeps.Cache = metadatacache.NewWithStat(time.Minute, func(path string) (os.FileInfo, error) {
		<-unblock
		return os.Stat(path)
	})
	slowDeps.FileTimeout = 10 * time.Millisecond
	slowFs := NewFileStore(slowDeps)

	_, err = slowFs.Get(ctx, obj.ID)
	require.Error(t, err)
	require.True(t, errors.IsTimeout(err))
}
