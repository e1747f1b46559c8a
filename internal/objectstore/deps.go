package objectstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/aoxcloud/storeengine/internal/circuit"
	"github.com/aoxcloud/storeengine/internal/idmapping"
	"github.com/aoxcloud/storeengine/internal/metadatacache"
	"github.com/aoxcloud/storeengine/internal/parallelio"
	"github.com/aoxcloud/storeengine/internal/storagepath"
	"github.com/aoxcloud/storeengine/pkg/recovery"
	"github.com/aoxcloud/storeengine/pkg/types"
	"github.com/aoxcloud/storeengine/pkg/utils"
)

// Dependencies are the components FileStore and FolderStore compose.
// FileIDs and FolderIDs are deliberately separate IdMappingOptimizer
// instances (backed by file_ids.json and folder_ids.json respectively,
// per the storage layout) but both stores hold references to both: a
// FileStore needs FolderIDs to resolve a folder_id to its path, and a
// FolderStore needs FileIDs to remove file mappings during a recursive
// delete.
type Dependencies struct {
	Paths     *storagepath.Service
	FileIDs   *idmapping.Optimizer
	FolderIDs *idmapping.Optimizer
	Cache     *metadatacache.Cache
	Processor *parallelio.Processor

	ChunkSizeBytes        int64
	LargeFileThresholdB   int64
	ParallelThresholdB    int64
	MaxInMemoryFileSizeB  int64

	// FileTimeout and DirTimeout bound every FileStore and FolderStore
	// entry point respectively. Zero means unbounded (the ctx passed in
	// by the caller is used as-is).
	FileTimeout time.Duration
	DirTimeout  time.Duration

	// Breaker guards writeClassified/readClassified, the shared blocking
	// I/O path both FileStore and the parallel processor route through.
	// Nil means uninstrumented (every call goes straight to disk).
	Breaker *circuit.CircuitBreaker

	// Recovery composes retry, circuit breaker and status tracking for
	// the handful of operations that need both: persisting the mapping
	// document (SaveChanges) and syncing directories (EnsureDir,
	// RenameWithSync). Nil means those calls run unwrapped.
	Recovery *recovery.RecoveryManager

	Metrics types.MetricsCollector // optional
	Logger  *slog.Logger
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// backgroundLogger is what process-lifecycle and background-task callers
// (StorageUsageAccountant.UpdateAllUsers's periodic sweep, in particular)
// log through: composed with pkg/utils.StructuredLogger rather than the
// bare handler logger() falls back to, per request-path/background-task
// logging split.
func (d Dependencies) backgroundLogger() *slog.Logger {
	structured, _ := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	return slog.New(utils.NewSlogHandler(structured)).With("component", component+".accountant")
}

// recordOperation reports op to Metrics if one was configured; nil
// Metrics is valid (e.g. in tests) and simply skips reporting.
func (d Dependencies) recordOperation(op string, dur time.Duration, size int64, ok bool) {
	if d.Metrics != nil {
		d.Metrics.RecordOperation(op, dur, size, ok)
	}
}

// withFileTimeout derives a bounded context for a FileStore entry point
// from d.FileTimeout. A non-positive FileTimeout leaves ctx untouched.
func (d Dependencies) withFileTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.FileTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.FileTimeout)
}

// withDirTimeout is withFileTimeout's counterpart for FolderStore entry
// points, bounded by d.DirTimeout.
func (d Dependencies) withDirTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.DirTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.DirTimeout)
}

// guardIO runs fn directly, or through Breaker if one is configured, so
// a run of repeated filesystem failures trips the breaker and fails
// fast instead of letting every caller queue on a dying disk.
func (d Dependencies) guardIO(ctx context.Context, fn func(context.Context) error) error {
	if d.Breaker == nil {
		return fn(ctx)
	}
	return d.Breaker.ExecuteWithContext(ctx, fn)
}

// guardRecovery runs fn directly, or through Recovery if one is
// configured, under the given component/operation labels. Recovery
// picks retry, circuit breaker or graceful degradation depending on
// component's recent failure history and records the outcome on its
// status tracker.
func (d Dependencies) guardRecovery(ctx context.Context, component, operation string, fn func(context.Context) error) error {
	if d.Recovery == nil {
		return fn(ctx)
	}
	return d.Recovery.Execute(ctx, component, operation, func() error {
		return fn(ctx)
	})
}
