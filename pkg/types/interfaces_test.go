package types

import (
	"context"
	"io"
	"testing"
	"time"
)

// TestInterfaces verifies that our interfaces are properly structured.
func TestInterfaces(t *testing.T) {
	var (
		_ Cache            = (*mockCache)(nil)
		_ MetricsCollector = (*mockMetricsCollector)(nil)
		_ HealthChecker    = (*mockHealthChecker)(nil)
		_ FileStore        = (*mockFileStore)(nil)
		_ FolderStore      = (*mockFolderStore)(nil)
	)
}

type mockCache struct{}

func (m *mockCache) Get(key string) (interface{}, bool) { return nil, false }
func (m *mockCache) Put(key string, value interface{})  {}
func (m *mockCache) Delete(key string)                  {}
func (m *mockCache) Size() int64                        { return 0 }
func (m *mockCache) Stats() CacheStats                  { return CacheStats{} }

type mockMetricsCollector struct{}

func (m *mockMetricsCollector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
}
func (m *mockMetricsCollector) RecordCacheHit(cache string)            {}
func (m *mockMetricsCollector) RecordCacheMiss(cache string)           {}
func (m *mockMetricsCollector) RecordError(operation string, err error) {}

type mockHealthChecker struct{}

func (m *mockHealthChecker) Check(ctx context.Context) HealthStatus { return HealthStatus{} }
func (m *mockHealthChecker) RegisterCheck(name string, check func(context.Context) error) {}

type mockFileStore struct{}

func (m *mockFileStore) Save(ctx context.Context, name string, folderID *ObjectId, mimeType string, data io.Reader, size int64) (FileObject, error) {
	return FileObject{}, nil
}
func (m *mockFileStore) SaveWithID(ctx context.Context, id ObjectId, name string, folderID *ObjectId, mimeType string, data io.Reader, size int64) (FileObject, error) {
	return FileObject{}, nil
}
func (m *mockFileStore) Get(ctx context.Context, id ObjectId) (FileObject, error) {
	return FileObject{}, nil
}
func (m *mockFileStore) List(ctx context.Context, folderID *ObjectId) ([]FileObject, error) {
	return nil, nil
}
func (m *mockFileStore) Delete(ctx context.Context, id ObjectId) error      { return nil }
func (m *mockFileStore) DeleteEntry(ctx context.Context, id ObjectId) error { return nil }
func (m *mockFileStore) ReadAll(ctx context.Context, id ObjectId) ([]byte, error) {
	return nil, nil
}
func (m *mockFileStore) Stream(ctx context.Context, id ObjectId) (io.ReadCloser, error) {
	return nil, nil
}
func (m *mockFileStore) Move(ctx context.Context, id ObjectId, targetFolderID *ObjectId) (FileObject, error) {
	return FileObject{}, nil
}
func (m *mockFileStore) PathOf(ctx context.Context, id ObjectId) (StoragePath, error) {
	return RootPath(), nil
}
func (m *mockFileStore) UpdateContent(ctx context.Context, id ObjectId, data io.Reader, size int64) error {
	return nil
}

type mockFolderStore struct{}

func (m *mockFolderStore) Create(ctx context.Context, name string, parentID *ObjectId) (FolderObject, error) {
	return FolderObject{}, nil
}
func (m *mockFolderStore) Get(ctx context.Context, id ObjectId) (FolderObject, error) {
	return FolderObject{}, nil
}
func (m *mockFolderStore) List(ctx context.Context, parentID *ObjectId) ([]FolderObject, error) {
	return nil, nil
}
func (m *mockFolderStore) Rename(ctx context.Context, id ObjectId, newName string) (FolderObject, error) {
	return FolderObject{}, nil
}
func (m *mockFolderStore) Move(ctx context.Context, id ObjectId, targetParentID *ObjectId) (FolderObject, error) {
	return FolderObject{}, nil
}
func (m *mockFolderStore) Delete(ctx context.Context, id ObjectId, recursive bool) error {
	return nil
}
