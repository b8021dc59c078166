// Package dedup is the read-side analytics layer over content-addressed
// block storage. It reports which blocks are stored more than once, how much
// storage deduplication saves, and overall storage efficiency. The detector
// performs no writes; the SQLite backend additionally exposes the index
// write path used at ingest time.
package dedup

import (
	"time"
)

// BlockInfo is one indexed block occurrence. BlockHash is the canonical
// lowercase-hex digest of the block's normalized content; identical content
// in different documents shares one hash, which is what makes occurrence
// counting meaningful.
type BlockInfo struct {
	BlockHash   string `json:"block_hash" db:"block_hash"`
	DocumentID  string `json:"document_id" db:"document_id"`
	BlockIndex  int    `json:"block_index" db:"block_index"`
	BlockType   string `json:"block_type" db:"block_type"`
	Content     string `json:"content" db:"content"`
	StartOffset int    `json:"start_offset" db:"start_offset"`
	EndOffset   int    `json:"end_offset" db:"end_offset"`
}

// DeduplicationStats is the store-wide summary. All counts are computed on
// demand and never persisted. StorageSaved figures are estimates whenever
// block content is not available for a hash; the configured average block
// size substitutes for the real length in that case.
type DeduplicationStats struct {
	TotalUniqueBlocks   int                  `json:"total_unique_blocks"`
	TotalBlockInstances int                  `json:"total_block_instances"`
	DuplicateBlocks     int                  `json:"duplicate_blocks"`
	DeduplicationRatio  float64              `json:"deduplication_ratio"`
	TotalStorageSaved   int64                `json:"total_storage_saved"`
	AverageBlockSize    int64                `json:"average_block_size"`
	TopDuplicates       []DuplicateBlockInfo `json:"top_duplicates"`
	CalculatedAt        time.Time            `json:"calculated_at"`
}

// DuplicateBlockInfo describes one block stored more than once: where it
// occurs and what removing the duplicates would save.
type DuplicateBlockInfo struct {
	BlockHash          string   `json:"block_hash"`
	OccurrenceCount    int      `json:"occurrence_count"`
	Documents          []string `json:"documents"`
	BlockType          string   `json:"block_type"`
	EstimatedBlockSize int64    `json:"estimated_block_size"`
	StorageSaved       int64    `json:"storage_saved"`
	ContentPreview     string   `json:"content_preview"`
}

// StorageUsageStats is the efficiency view of the store. Efficiency is
// unique blocks over block instances; an empty store is defined as perfectly
// efficient rather than an error.
type StorageUsageStats struct {
	TotalUniqueBlocks   int     `json:"total_unique_blocks"`
	TotalBlockInstances int     `json:"total_block_instances"`
	Efficiency          float64 `json:"efficiency"`
}
