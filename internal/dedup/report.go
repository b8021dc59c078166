package dedup

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Report is a rendered view over detector output: the stats, the duplicate
// list, and simple threshold-based recommendations. Pure formatting; nothing
// here queries a backend.
type Report struct {
	GeneratedAt     time.Time            `json:"generated_at"`
	Stats           DeduplicationStats   `json:"stats"`
	Duplicates      []DuplicateBlockInfo `json:"duplicates"`
	Recommendations []string             `json:"recommendations"`
}

// BuildReport assembles a Report from computed stats and a duplicate list.
func BuildReport(stats *DeduplicationStats, duplicates []DuplicateBlockInfo) *Report {
	return &Report{
		GeneratedAt:     time.Now().UTC(),
		Stats:           *stats,
		Duplicates:      duplicates,
		Recommendations: recommendations(stats),
	}
}

func recommendations(stats *DeduplicationStats) []string {
	var recs []string
	switch {
	case stats.TotalBlockInstances == 0:
		recs = append(recs, "No blocks indexed yet; run a scan first.")
	case stats.DeduplicationRatio >= 0.3:
		recs = append(recs, fmt.Sprintf(
			"High duplication (%.0f%% of block instances are duplicates); content-addressed storage is saving an estimated %s.",
			stats.DeduplicationRatio*100, humanize.Bytes(uint64(stats.TotalStorageSaved))))
	case stats.DeduplicationRatio >= 0.1:
		recs = append(recs, fmt.Sprintf(
			"Moderate duplication (%.0f%%); estimated savings %s.",
			stats.DeduplicationRatio*100, humanize.Bytes(uint64(stats.TotalStorageSaved))))
	default:
		recs = append(recs, "Low duplication; most content is unique.")
	}
	if len(stats.TopDuplicates) > 0 {
		top := stats.TopDuplicates[0]
		recs = append(recs, fmt.Sprintf(
			"Most duplicated block appears %d times across %d documents.",
			top.OccurrenceCount, len(top.Documents)))
	}
	return recs
}

// Text renders the report as plain text for terminal output.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deduplication report (generated %s)\n\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Unique blocks:     %d\n", r.Stats.TotalUniqueBlocks)
	fmt.Fprintf(&b, "Block instances:   %d\n", r.Stats.TotalBlockInstances)
	fmt.Fprintf(&b, "Duplicate blocks:  %d\n", r.Stats.DuplicateBlocks)
	fmt.Fprintf(&b, "Dedup ratio:       %.1f%%\n", r.Stats.DeduplicationRatio*100)
	fmt.Fprintf(&b, "Storage saved:     %s (estimate)\n", humanize.Bytes(uint64(r.Stats.TotalStorageSaved)))
	fmt.Fprintf(&b, "Avg block size:    %s\n", humanize.Bytes(uint64(r.Stats.AverageBlockSize)))

	if len(r.Duplicates) > 0 {
		fmt.Fprintf(&b, "\nTop duplicated blocks:\n")
		for _, dup := range r.Duplicates {
			fmt.Fprintf(&b, "  %s  x%d  %s saved  [%s]\n",
				shortHash(dup.BlockHash), dup.OccurrenceCount,
				humanize.Bytes(uint64(dup.StorageSaved)), strings.Join(dup.Documents, ", "))
			if dup.ContentPreview != "" {
				fmt.Fprintf(&b, "      %q\n", dup.ContentPreview)
			}
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(&b, "\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", rec)
		}
	}
	return b.String()
}

// Markdown renders the report as a markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Deduplication Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Unique blocks | %d |\n", r.Stats.TotalUniqueBlocks)
	fmt.Fprintf(&b, "| Block instances | %d |\n", r.Stats.TotalBlockInstances)
	fmt.Fprintf(&b, "| Duplicate blocks | %d |\n", r.Stats.DuplicateBlocks)
	fmt.Fprintf(&b, "| Dedup ratio | %.1f%% |\n", r.Stats.DeduplicationRatio*100)
	fmt.Fprintf(&b, "| Storage saved (estimate) | %s |\n", humanize.Bytes(uint64(r.Stats.TotalStorageSaved)))
	fmt.Fprintf(&b, "| Avg block size | %s |\n", humanize.Bytes(uint64(r.Stats.AverageBlockSize)))

	if len(r.Duplicates) > 0 {
		fmt.Fprintf(&b, "\n## Top duplicated blocks\n\n")
		fmt.Fprintf(&b, "| Hash | Occurrences | Saved | Documents |\n|---|---|---|---|\n")
		for _, dup := range r.Duplicates {
			fmt.Fprintf(&b, "| `%s` | %d | %s | %s |\n",
				shortHash(dup.BlockHash), dup.OccurrenceCount,
				humanize.Bytes(uint64(dup.StorageSaved)), strings.Join(dup.Documents, ", "))
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(&b, "\n## Recommendations\n\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}
	return b.String()
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
