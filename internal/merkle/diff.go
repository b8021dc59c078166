package merkle

import "github.com/kilnhq/kiln/internal/hash"

// ChangeKind classifies one section-level difference.
type ChangeKind string

const (
	SectionChanged ChangeKind = "changed"
	SectionAdded   ChangeKind = "added"
	SectionRemoved ChangeKind = "removed"
)

// SectionChange records one differing section between two tree versions.
type SectionChange struct {
	Index   int
	Kind    ChangeKind
	OldHash hash.Digest
	NewHash hash.Digest
}

// DiffResult is the section-level difference between two tree versions.
type DiffResult struct {
	Changes []SectionChange
}

// HasChanges reports whether any section differs.
func (d DiffResult) HasChanges() bool {
	return len(d.Changes) > 0
}

// ChangedIndices returns the indices of changed and added sections, in
// order. This is the slice handed to Store.UpdateIncremental.
func (d DiffResult) ChangedIndices() []int {
	indices := make([]int, 0, len(d.Changes))
	for _, c := range d.Changes {
		if c.Kind == SectionChanged || c.Kind == SectionAdded {
			indices = append(indices, c.Index)
		}
	}
	return indices
}

// Diff compares this tree (the old version) against other (the new version)
// pairwise by section index: a hash mismatch at index i marks section i
// changed, and trailing indices on the longer side are added or removed.
//
// This is an O(n) index-aligned comparison, not a minimal-edit alignment:
// one section inserted mid-document shifts every later index, so all later
// sections report as changed. That trade-off is deliberate; stored trees
// stay byte-compatible and the comparison never pays LCS cost.
//
// Only the (hash, block count) fields are consulted, so comparing a
// virtualized tree against a materialized one is valid.
func (t *HybridTree) Diff(other *HybridTree) DiffResult {
	var result DiffResult

	// O(1) fast path: identical roots mean identical content.
	if t.RootHash.Equal(other.RootHash) {
		return result
	}

	common := min(len(t.Sections), len(other.Sections))
	for i := 0; i < common; i++ {
		if !t.Sections[i].Hash.Equal(other.Sections[i].Hash) {
			result.Changes = append(result.Changes, SectionChange{
				Index:   i,
				Kind:    SectionChanged,
				OldHash: t.Sections[i].Hash,
				NewHash: other.Sections[i].Hash,
			})
		}
	}

	for i := common; i < len(other.Sections); i++ {
		result.Changes = append(result.Changes, SectionChange{
			Index:   i,
			Kind:    SectionAdded,
			NewHash: other.Sections[i].Hash,
		})
	}
	for i := common; i < len(t.Sections); i++ {
		result.Changes = append(result.Changes, SectionChange{
			Index:   i,
			Kind:    SectionRemoved,
			OldHash: t.Sections[i].Hash,
		})
	}

	return result
}
