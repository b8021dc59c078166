package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

// Config tunes estimation and report shaping. Zero values fall back to the
// defaults below.
type Config struct {
	// AverageBlockSize substitutes for the real content length when a
	// block's bytes are not available, making savings figures estimates.
	AverageBlockSize int64

	// PreviewBytes bounds the content preview attached to each duplicate
	// block report entry.
	PreviewBytes int

	// TopDuplicates bounds the duplicate list embedded in store-wide stats.
	TopDuplicates int
}

const (
	defaultAverageBlockSize = 256
	defaultPreviewBytes     = 120
	defaultTopDuplicates    = 10
)

func (c Config) withDefaults() Config {
	if c.AverageBlockSize <= 0 {
		c.AverageBlockSize = defaultAverageBlockSize
	}
	if c.PreviewBytes <= 0 {
		c.PreviewBytes = defaultPreviewBytes
	}
	if c.TopDuplicates <= 0 {
		c.TopDuplicates = defaultTopDuplicates
	}
	return c
}

// Detector computes deduplication analytics over any Backend. The backend
// is fixed at construction; there is no runtime backend inspection.
type Detector[B Backend] struct {
	backend B
	cfg     Config
}

// NewDetector creates a Detector over the given backend.
func NewDetector[B Backend](backend B, cfg Config) *Detector[B] {
	return &Detector[B]{backend: backend, cfg: cfg.withDefaults()}
}

// Backend returns the backend this detector analyzes.
func (d *Detector[B]) Backend() B {
	return d.backend
}

// GetAllDeduplicationStats computes the store-wide summary. On an empty
// store every count and the ratio are zero; no error. StorageSaved sums
// block_size x (occurrences - 1) over duplicated hashes and is an estimate
// wherever content length is unknown.
func (d *Detector[B]) GetAllDeduplicationStats(ctx context.Context) (*DeduplicationStats, error) {
	counts, err := d.backend.AllBlockOccurrenceCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("occurrence counts: %w", err)
	}

	stats := &DeduplicationStats{
		TotalUniqueBlocks: len(counts),
		AverageBlockSize:  d.cfg.AverageBlockSize,
		CalculatedAt:      time.Now().UTC(),
	}
	for _, count := range counts {
		stats.TotalBlockInstances += count
	}
	stats.DuplicateBlocks = stats.TotalBlockInstances - stats.TotalUniqueBlocks
	if stats.TotalBlockInstances > 0 {
		stats.DeduplicationRatio = float64(stats.DuplicateBlocks) / float64(stats.TotalBlockInstances)
	}

	duplicates, err := d.duplicateEntries(ctx, counts, 2)
	if err != nil {
		return nil, err
	}
	for i := range duplicates {
		stats.TotalStorageSaved += duplicates[i].StorageSaved
	}
	if sizes := knownSizes(duplicates); len(sizes) > 0 {
		var total int64
		for _, s := range sizes {
			total += s
		}
		stats.AverageBlockSize = total / int64(len(sizes))
	}
	if len(duplicates) > d.cfg.TopDuplicates {
		duplicates = duplicates[:d.cfg.TopDuplicates]
	}
	stats.TopDuplicates = duplicates

	return stats, nil
}

// FindDuplicateBlocks reports every block stored at least minOccurrences
// times, sorted by occurrence count descending. Each entry carries its
// owning documents and a bounded content preview.
func (d *Detector[B]) FindDuplicateBlocks(ctx context.Context, minOccurrences int) ([]DuplicateBlockInfo, error) {
	if minOccurrences < 2 {
		minOccurrences = 2
	}
	counts, err := d.backend.AllBlockOccurrenceCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("occurrence counts: %w", err)
	}
	return d.duplicateEntries(ctx, counts, minOccurrences)
}

// GetStorageUsageStats returns the efficiency view. An empty store has
// efficiency 1.0 by definition.
func (d *Detector[B]) GetStorageUsageStats(ctx context.Context) (*StorageUsageStats, error) {
	counts, err := d.backend.AllBlockOccurrenceCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("occurrence counts: %w", err)
	}

	stats := &StorageUsageStats{
		TotalUniqueBlocks: len(counts),
		Efficiency:        1.0,
	}
	for _, count := range counts {
		stats.TotalBlockInstances += count
	}
	if stats.TotalBlockInstances > 0 {
		stats.Efficiency = float64(stats.TotalUniqueBlocks) / float64(stats.TotalBlockInstances)
	}
	return stats, nil
}

// duplicateEntries builds the report entries for every hash at or above the
// threshold, resolving owning documents and representative content in two
// batched backend calls.
func (d *Detector[B]) duplicateEntries(ctx context.Context, counts map[string]int, minOccurrences int) ([]DuplicateBlockInfo, error) {
	var hashes []string
	for h, count := range counts {
		if count >= minOccurrences {
			hashes = append(hashes, h)
		}
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	documents, err := d.backend.FindDocumentsWithBlocks(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("resolve owning documents: %w", err)
	}
	blocks, err := d.backend.GetBlocksByHashes(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("resolve block content: %w", err)
	}

	entries := make([]DuplicateBlockInfo, 0, len(hashes))
	for _, h := range hashes {
		entry := DuplicateBlockInfo{
			BlockHash:          h,
			OccurrenceCount:    counts[h],
			Documents:          documents[h],
			EstimatedBlockSize: d.cfg.AverageBlockSize,
		}
		if block := blocks[h]; block != nil {
			entry.BlockType = block.BlockType
			entry.EstimatedBlockSize = int64(len(block.Content))
			entry.ContentPreview = truncatePreview(block.Content, d.cfg.PreviewBytes)
		}
		entry.StorageSaved = entry.EstimatedBlockSize * int64(entry.OccurrenceCount-1)
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OccurrenceCount != entries[j].OccurrenceCount {
			return entries[i].OccurrenceCount > entries[j].OccurrenceCount
		}
		return entries[i].BlockHash < entries[j].BlockHash
	})
	return entries, nil
}

// knownSizes collects sizes backed by real content, identified by a
// non-empty preview.
func knownSizes(entries []DuplicateBlockInfo) []int64 {
	var sizes []int64
	for i := range entries {
		if entries[i].ContentPreview != "" {
			sizes = append(sizes, entries[i].EstimatedBlockSize)
		}
	}
	return sizes
}

// truncatePreview bounds content to budget bytes, ellipsis included. The cut
// backs up to a rune boundary so the preview stays valid UTF-8.
func truncatePreview(content string, budget int) string {
	if len(content) <= budget {
		return content
	}
	cut := budget
	ellipsis := ""
	if budget > 3 {
		cut = budget - 3
		ellipsis = "..."
	}
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + ellipsis
}
