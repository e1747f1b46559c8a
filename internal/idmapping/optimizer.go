package idmapping

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aoxcloud/storeengine/pkg/types"
	"github.com/aoxcloud/storeengine/pkg/utils"
)

const (
	defaultMaxCacheEntries = 10_000
	defaultCacheTTL        = 5 * time.Minute
	defaultMinBatchSize    = 20
	defaultBatchLimiter    = 2
)

// OptimizerStats mirrors the original implementation's per-direction
// query/hit counters plus batch-operation bookkeeping, surfaced through
// internal/metrics.
type OptimizerStats struct {
	PathByIDQueries    uint64
	PathByIDHits       uint64
	GetIDQueries       uint64
	GetIDHits          uint64
	BatchOperations    uint64
	BatchItemsProcessed uint64
}

type cacheEntry struct {
	value     string
	insertedAt time.Time
}

// Optimizer is a write-through, TTL-expiring cache in front of a Store,
// with two direction maps each bounded by MaxEntries. On overflow it
// clears outright, matching the original's simple eviction policy.
type Optimizer struct {
	base *Store

	mu          sync.RWMutex
	pathToID    map[string]cacheEntry
	idToPath    map[string]cacheEntry
	maxEntries  int
	ttl         time.Duration
	minBatch    int
	batchSem    chan struct{}

	pendingMu   sync.Mutex
	pendingPath map[string]struct{}
	pendingID   map[string]struct{}

	statsMu sync.Mutex
	stats   OptimizerStats

	logger *slog.Logger

	// bgLogger backs StartCleanupTask's process-lifecycle logging, routed
	// through pkg/utils.StructuredLogger rather than the bare handler
	// logger uses for request-path errors.
	bgLogger *slog.Logger
}

// NewOptimizer wraps base with a bounded TTL cache. maxEntries and ttl
// fall back to the original's defaults (10 000 entries, 5 minutes) when
// zero.
func NewOptimizer(base *Store, maxEntries int, ttl time.Duration, logger *slog.Logger) *Optimizer {
	if maxEntries <= 0 {
		maxEntries = defaultMaxCacheEntries
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	structured, _ := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	bgLogger := slog.New(utils.NewSlogHandler(structured)).With("component", component+".optimizer")
	return &Optimizer{
		base:        base,
		pathToID:    make(map[string]cacheEntry),
		idToPath:    make(map[string]cacheEntry),
		maxEntries:  maxEntries,
		ttl:         ttl,
		minBatch:    defaultMinBatchSize,
		batchSem:    make(chan struct{}, defaultBatchLimiter),
		pendingPath: make(map[string]struct{}),
		pendingID:   make(map[string]struct{}),
		logger:      logger.With("component", component+".optimizer"),
		bgLogger:    bgLogger,
	}
}

// Stats returns a snapshot of the optimizer's counters.
func (o *Optimizer) Stats() OptimizerStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.stats
}

// GetOrCreateID resolves path to an id, consulting the cache first, then
// the batch queue, then the backing store. The resolved id is cached.
func (o *Optimizer) GetOrCreateID(ctx context.Context, path types.StoragePath) (types.ObjectId, error) {
	o.bumpStat(func(s *OptimizerStats) { s.GetIDQueries++ })

	pathStr := path.ToString()

	if id, ok := o.lookupPathToID(pathStr); ok {
		o.bumpStat(func(s *OptimizerStats) { s.GetIDHits++ })
		return types.ObjectId(id), nil
	}

	o.queuePathRequest(pathStr)
	o.triggerBatchIfNeeded(ctx)

	id, err := o.base.GetOrCreateID(path)
	if err != nil {
		return "", err
	}
	o.store(pathStr, string(id))
	return id, nil
}

// GetPathByID resolves id, consulting the cache before the store.
func (o *Optimizer) GetPathByID(ctx context.Context, id types.ObjectId) (types.StoragePath, error) {
	o.bumpStat(func(s *OptimizerStats) { s.PathByIDQueries++ })

	if pathStr, ok := o.lookupIDToPath(string(id)); ok {
		o.bumpStat(func(s *OptimizerStats) { s.PathByIDHits++ })
		return types.ParseStoragePath(pathStr)
	}

	p, err := o.base.GetPathByID(id)
	if err != nil {
		return types.StoragePath{}, err
	}
	o.store(p.ToString(), string(id))
	return p, nil
}

// UpdatePath invalidates both cache directions for id, delegates to the
// store, then re-caches the new mapping.
func (o *Optimizer) UpdatePath(ctx context.Context, id types.ObjectId, newPath types.StoragePath) error {
	o.invalidateID(string(id))

	if err := o.base.UpdatePath(id, newPath); err != nil {
		return err
	}
	o.store(newPath.ToString(), string(id))
	return nil
}

// InsertKnownID records id -> path directly, invalidating any stale
// cache entries for id first, then delegates to the store and caches
// the result.
func (o *Optimizer) InsertKnownID(ctx context.Context, id types.ObjectId, path types.StoragePath) error {
	o.invalidateID(string(id))
	if err := o.base.InsertKnownID(id, path); err != nil {
		return err
	}
	o.store(path.ToString(), string(id))
	return nil
}

// RemoveID invalidates both cache directions for id, then delegates.
func (o *Optimizer) RemoveID(ctx context.Context, id types.ObjectId) error {
	o.invalidateID(string(id))
	return o.base.RemoveID(id)
}

// SaveChanges delegates straight through to the backing store.
func (o *Optimizer) SaveChanges(ctx context.Context) error {
	return o.base.SaveChanges(ctx)
}

// Snapshot returns a copy of the backing store's full id->path map, for
// callers (recursive folder delete, rename/move subtree reindexing,
// StorageUsageAccountant) that need to enumerate every mapped path.
func (o *Optimizer) Snapshot() map[types.ObjectId]string {
	return o.base.Snapshot()
}

// CleanupExpired drops cache entries past their TTL. Intended to be
// called periodically by a background goroutine owned by the caller.
func (o *Optimizer) CleanupExpired() {
	now := time.Now()

	o.mu.Lock()
	removedPath := evictExpired(o.pathToID, now, o.ttl)
	removedID := evictExpired(o.idToPath, now, o.ttl)
	o.mu.Unlock()

	if removedPath > 0 || removedID > 0 {
		o.logger.Debug("expired cache entries cleaned",
			"path_to_id_removed", removedPath, "id_to_path_removed", removedID)
	}
}

func evictExpired(m map[string]cacheEntry, now time.Time, ttl time.Duration) int {
	removed := 0
	for k, v := range m {
		if now.Sub(v.insertedAt) >= ttl {
			delete(m, k)
			removed++
		}
	}
	return removed
}

func (o *Optimizer) lookupPathToID(pathStr string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.pathToID[pathStr]
	if !ok || time.Since(e.insertedAt) >= o.ttl {
		return "", false
	}
	return e.value, true
}

func (o *Optimizer) lookupIDToPath(id string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.idToPath[id]
	if !ok || time.Since(e.insertedAt) >= o.ttl {
		return "", false
	}
	return e.value, true
}

func (o *Optimizer) store(pathStr, id string) {
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.pathToID) >= o.maxEntries {
		o.logger.Warn("path_to_id cache reached its limit, clearing", "limit", o.maxEntries)
		o.pathToID = make(map[string]cacheEntry)
	}
	if len(o.idToPath) >= o.maxEntries {
		o.logger.Warn("id_to_path cache reached its limit, clearing", "limit", o.maxEntries)
		o.idToPath = make(map[string]cacheEntry)
	}
	o.pathToID[pathStr] = cacheEntry{value: id, insertedAt: now}
	o.idToPath[id] = cacheEntry{value: pathStr, insertedAt: now}
}

func (o *Optimizer) invalidateID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e, ok := o.idToPath[id]; ok {
		delete(o.idToPath, id)
		delete(o.pathToID, e.value)
	}
}

func (o *Optimizer) queuePathRequest(pathStr string) {
	o.pendingMu.Lock()
	o.pendingPath[pathStr] = struct{}{}
	o.pendingMu.Unlock()
}

// triggerBatchIfNeeded flushes the pending-request queue against the
// backing store once it reaches minBatch, bounded by the batch
// semaphore. Failures for individual paths are logged and skipped,
// matching the original optimizer's best-effort batch semantics.
func (o *Optimizer) triggerBatchIfNeeded(ctx context.Context) {
	o.pendingMu.Lock()
	should := len(o.pendingPath)+len(o.pendingID) >= o.minBatch
	o.pendingMu.Unlock()

	if !should {
		return
	}
	o.processBatch(ctx)
}

func (o *Optimizer) processBatch(ctx context.Context) {
	select {
	case o.batchSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-o.batchSem }()

	o.pendingMu.Lock()
	paths := o.pendingPath
	ids := o.pendingID
	o.pendingPath = make(map[string]struct{})
	o.pendingID = make(map[string]struct{})
	o.pendingMu.Unlock()

	processed := 0
	for pathStr := range paths {
		p, err := types.ParseStoragePath(pathStr)
		if err != nil {
			o.logger.Error("batch path invalid, skipping", "path", pathStr, "error", err)
			continue
		}
		id, err := o.base.GetOrCreateID(p)
		if err != nil {
			o.logger.Error("batch get_or_create_id failed, skipping", "path", pathStr, "error", err)
			continue
		}
		o.store(pathStr, string(id))
		processed++
	}
	for idStr := range ids {
		p, err := o.base.GetPathByID(types.ObjectId(idStr))
		if err != nil {
			o.logger.Error("batch get_path_by_id failed, skipping", "id", idStr, "error", err)
			continue
		}
		o.store(p.ToString(), idStr)
		processed++
	}

	o.bumpStat(func(s *OptimizerStats) {
		s.BatchOperations++
		s.BatchItemsProcessed += uint64(processed)
	})
}

func (o *Optimizer) bumpStat(f func(*OptimizerStats)) {
	o.statsMu.Lock()
	f(&o.stats)
	o.statsMu.Unlock()
}

// StartCleanupTask spawns a background goroutine that periodically
// calls CleanupExpired and logs a hit-rate summary, matching the
// original's start_cleanup_task. The goroutine exits when ctx is
// canceled and never crashes the process on panic.
func (o *Optimizer) StartCleanupTask(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = o.ttl / 2
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.bgLogger.Error("cleanup task panicked", "panic", r)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.CleanupExpired()
				s := o.Stats()
				o.bgLogger.Info("id mapping optimizer stats",
					"path_by_id_queries", s.PathByIDQueries,
					"path_by_id_hits", s.PathByIDHits,
					"get_id_queries", s.GetIDQueries,
					"get_id_hits", s.GetIDHits,
					"batch_operations", s.BatchOperations,
					"batch_items_processed", s.BatchItemsProcessed,
				)
			}
		}
	}()
}
