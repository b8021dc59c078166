package change

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kilnhq/kiln/internal/hash"
)

// cachedLookup distinguishes "cached as missing" from "not cached at all".
type cachedLookup struct {
	stored *StoredHash
}

// Detector classifies scans against a HashLookupStorage backend. Any
// storage failure aborts the whole batch: a partial ChangeSet could wrongly
// imply "unchanged" for a file whose lookup never completed.
type Detector struct {
	storage HashLookupStorage
	cache   *lru.Cache[string, cachedLookup]
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector) error

// WithLookupCache enables an LRU cache over per-path lookups. Useful for
// watch loops re-scanning largely unchanged kilns; entries must be
// invalidated by the caller after it writes new hashes.
func WithLookupCache(size int) DetectorOption {
	return func(d *Detector) error {
		cache, err := lru.New[string, cachedLookup](size)
		if err != nil {
			return fmt.Errorf("create lookup cache: %w", err)
		}
		d.cache = cache
		return nil
	}
}

// NewDetector creates a Detector over the given storage backend. The
// backend is an explicit handle; independent detectors over independent
// stores coexist freely.
func NewDetector(storage HashLookupStorage, opts ...DetectorOption) (*Detector, error) {
	d := &Detector{storage: storage}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// DetectChanges classifies every current file as new, changed or unchanged
// against stored hashes, and reports stored paths absent from the scan as
// deleted. Lookups for all current paths go out as one batch.
func (d *Detector) DetectChanges(ctx context.Context, currentFiles []*hash.FileHashInfo) (*ChangeSet, error) {
	changes, _, err := d.detect(ctx, currentFiles)
	return changes, err
}

// DetectChangesWithMetrics is DetectChanges plus timing and cache counters.
// Metrics are observability only and never alter classification.
func (d *Detector) DetectChangesWithMetrics(ctx context.Context, currentFiles []*hash.FileHashInfo) (*DetectionResult, error) {
	start := time.Now()
	changes, metrics, err := d.detect(ctx, currentFiles)
	if err != nil {
		return nil, err
	}

	metrics.FilesScanned = len(currentFiles)
	metrics.Duration = time.Since(start)
	if secs := metrics.Duration.Seconds(); secs > 0 {
		metrics.FilesPerSecond = float64(len(currentFiles)) / secs
	}

	slog.Debug("change detection",
		"files", metrics.FilesScanned,
		"duration", metrics.Duration,
		"cache_hits", metrics.CacheHits,
		"cache_misses", metrics.CacheMisses,
		"summary", changes.Summary().String(),
	)

	return &DetectionResult{Changes: changes, Metrics: metrics}, nil
}

func (d *Detector) detect(ctx context.Context, currentFiles []*hash.FileHashInfo) (*ChangeSet, DetectionMetrics, error) {
	var metrics DetectionMetrics
	changes := &ChangeSet{}

	stored, err := d.lookupAll(ctx, currentFiles, &metrics)
	if err != nil {
		return nil, metrics, err
	}

	current := make(map[string]struct{}, len(currentFiles))
	for _, file := range currentFiles {
		current[file.RelPath] = struct{}{}

		prior := stored[file.RelPath]
		switch {
		case prior == nil:
			changes.New = append(changes.New, file)
		case !prior.Hash.Equal(file.Hash):
			changes.Changed = append(changes.Changed, file)
		default:
			changes.Unchanged = append(changes.Unchanged, file)
		}
	}

	storedPaths, err := d.storage.ListPaths(ctx)
	if err != nil {
		return nil, metrics, fmt.Errorf("list stored paths: %w", err)
	}
	metrics.LookupRounds++
	for _, path := range storedPaths {
		if _, ok := current[path]; !ok {
			changes.Deleted = append(changes.Deleted, path)
		}
	}

	return changes, metrics, nil
}

// lookupAll resolves stored hashes for all current paths, consulting the
// cache first when enabled and batching the remainder into one storage
// round trip.
func (d *Detector) lookupAll(ctx context.Context, currentFiles []*hash.FileHashInfo, metrics *DetectionMetrics) (map[string]*StoredHash, error) {
	stored := make(map[string]*StoredHash, len(currentFiles))

	var missing []string
	for _, file := range currentFiles {
		if d.cache != nil {
			if entry, ok := d.cache.Get(file.RelPath); ok {
				stored[file.RelPath] = entry.stored
				metrics.CacheHits++
				continue
			}
			metrics.CacheMisses++
		}
		missing = append(missing, file.RelPath)
	}

	if len(missing) > 0 {
		looked, err := d.storage.LookupHashesBatch(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("batch hash lookup: %w", err)
		}
		metrics.LookupRounds++
		for path, sh := range looked {
			stored[path] = sh
			if d.cache != nil {
				d.cache.Add(path, cachedLookup{stored: sh})
			}
		}
	}

	return stored, nil
}

// InvalidatePaths drops cache entries for paths whose stored hashes were
// rewritten. No-op when the cache is disabled.
func (d *Detector) InvalidatePaths(paths []string) {
	if d.cache == nil {
		return
	}
	for _, path := range paths {
		d.cache.Remove(path)
	}
}
