// Package change classifies a current file scan against previously stored
// hashes into new, changed, unchanged and deleted files.
package change

import (
	"fmt"
	"time"

	"github.com/kilnhq/kiln/internal/hash"
)

// StoredHash is the last persisted truth for one file, written only by
// store operations. Key is the storage key, which for every provided
// backend equals the relative path.
type StoredHash struct {
	Key       string
	RelPath   string
	Hash      hash.Digest
	Size      int64
	ModTime   time.Time
	Algorithm hash.Algorithm
}

// HashHex returns the canonical hex form of the stored content hash.
func (s *StoredHash) HashHex() string {
	return s.Hash.Hex()
}

// ChangeSet is the classification of one scan. Every current file lands in
// exactly one of New/Changed/Unchanged; Deleted holds stored paths absent
// from the scan.
type ChangeSet struct {
	New       []*hash.FileHashInfo `json:"new"`
	Changed   []*hash.FileHashInfo `json:"changed"`
	Unchanged []*hash.FileHashInfo `json:"unchanged"`
	Deleted   []string             `json:"deleted"`
}

// HasChanges reports whether anything needs processing.
func (c *ChangeSet) HasChanges() bool {
	return len(c.New) > 0 || len(c.Changed) > 0 || len(c.Deleted) > 0
}

// TotalFiles returns the number of files in the current scan.
func (c *ChangeSet) TotalFiles() int {
	return len(c.New) + len(c.Changed) + len(c.Unchanged)
}

// FilesToProcess returns the number of files needing re-indexing.
func (c *ChangeSet) FilesToProcess() int {
	return len(c.New) + len(c.Changed)
}

// Summary returns the plain serializable record handed across process
// boundaries.
func (c *ChangeSet) Summary() ChangeSummary {
	return ChangeSummary{
		NewCount:       len(c.New),
		ChangedCount:   len(c.Changed),
		UnchangedCount: len(c.Unchanged),
		DeletedCount:   len(c.Deleted),
		HasChanges:     c.HasChanges(),
	}
}

// ChangeSummary is the counts-only view of a ChangeSet.
type ChangeSummary struct {
	NewCount       int  `json:"new"`
	ChangedCount   int  `json:"changed"`
	UnchangedCount int  `json:"unchanged"`
	DeletedCount   int  `json:"deleted"`
	HasChanges     bool `json:"has_changes"`
}

func (s ChangeSummary) String() string {
	return fmt.Sprintf("new=%d changed=%d unchanged=%d deleted=%d", s.NewCount, s.ChangedCount, s.UnchangedCount, s.DeletedCount)
}

// DetectionMetrics are observability counters for one detection pass. They
// never influence classification.
type DetectionMetrics struct {
	FilesScanned   int           `json:"files_scanned"`
	Duration       time.Duration `json:"duration"`
	FilesPerSecond float64       `json:"files_per_second"`
	LookupRounds   int           `json:"lookup_rounds"`
	CacheHits      int           `json:"cache_hits"`
	CacheMisses    int           `json:"cache_misses"`
}

// DetectionResult pairs a ChangeSet with the metrics of the pass that
// produced it.
type DetectionResult struct {
	Changes *ChangeSet       `json:"changes"`
	Metrics DetectionMetrics `json:"metrics"`
}
