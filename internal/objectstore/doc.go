// Package objectstore is the façade layer: FileStore, FolderStore and
// StorageUsageAccountant, composed from internal/storagepath,
// internal/fsutil, internal/idmapping, internal/metadatacache and
// internal/parallelio. It is the only package that enforces the object
// store engine's cross-cutting invariants (uniqueness, id stability,
// cache coherence).
package objectstore
