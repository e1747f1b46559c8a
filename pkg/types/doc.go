/*
Package types defines the core data structures and façade interfaces shared
across the object store engine: StoragePath, ObjectId, FileObject,
FolderObject and the Cache/MetricsCollector/HealthChecker/FileStore/
FolderStore contracts implemented in internal/objectstore and its
supporting packages.
*/
package types
