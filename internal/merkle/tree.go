// Package merkle implements the per-document fingerprint used for change
// localization: a hybrid Merkle tree of ordered sections of ordered block
// hashes, with optional virtualization of low-priority sections to bound
// memory on very large documents.
package merkle

import (
	"fmt"

	"github.com/kilnhq/kiln/internal/document"
	"github.com/kilnhq/kiln/internal/hash"
)

// Config controls when a tree virtualizes.
type Config struct {
	// MaxSections and MaxBlocks are the thresholds above which a document's
	// tree virtualizes low-priority sections. Zero disables the check.
	MaxSections int
	MaxBlocks   int

	// MaterializeDepth is the deepest heading level kept materialized when a
	// tree virtualizes. Sections deeper than this become placeholders.
	MaterializeDepth int
}

// DefaultConfig returns thresholds suitable for typical kilns: notes stay
// fully materialized, only book-sized documents virtualize.
func DefaultConfig() Config {
	return Config{
		MaxSections:      256,
		MaxBlocks:        4096,
		MaterializeDepth: 1,
	}
}

// Section is one document section in the tree: the ordered hashes of its
// blocks and their combined section hash. A virtual section carries only
// (Hash, BlockCount); its block hashes are loaded from the store on demand.
type Section struct {
	Heading     string
	Level       int
	Hash        hash.Digest
	BlockCount  int
	BlockHashes []hash.Digest
	Virtual     bool
}

// HybridTree is one document's content fingerprint. Root hash equality is an
// O(1) "nothing changed" check; section hashes localize changes without
// re-hashing the rest of the document.
type HybridTree struct {
	RootHash    hash.Digest
	Sections    []Section
	TotalBlocks int
	Virtualized bool
	Algorithm   hash.Algorithm
}

// FromDocument builds a fully materialized tree from the parsed document.
// Block hashes are computed over normalized block text; section hashes
// combine block hashes in order, the root combines section hashes in order,
// so any reordering changes the fingerprint. An empty document yields an
// empty section list and the root hash of empty input.
func FromDocument(doc *document.Document, hasher *hash.Hasher) *HybridTree {
	tree := &HybridTree{
		Sections:  make([]Section, 0, len(doc.Sections)),
		Algorithm: hasher.Algorithm(),
	}

	sectionHashes := make([]hash.Digest, 0, len(doc.Sections))
	for _, sec := range doc.Sections {
		blockHashes := make([]hash.Digest, len(sec.Blocks))
		for i, block := range sec.Blocks {
			blockHashes[i] = hasher.HashBlock(block.NormalizedText())
		}
		sectionHash := hasher.Combine(blockHashes)

		tree.Sections = append(tree.Sections, Section{
			Heading:     sec.Heading,
			Level:       sec.Level,
			Hash:        sectionHash,
			BlockCount:  len(sec.Blocks),
			BlockHashes: blockHashes,
		})
		sectionHashes = append(sectionHashes, sectionHash)
		tree.TotalBlocks += len(sec.Blocks)
	}

	tree.RootHash = hasher.Combine(sectionHashes)
	return tree
}

// FromDocumentWithConfig builds the tree and virtualizes it when the
// document exceeds the configured thresholds.
func FromDocumentWithConfig(doc *document.Document, hasher *hash.Hasher, cfg Config) *HybridTree {
	tree := FromDocument(doc, hasher)
	if tree.exceedsThresholds(cfg) {
		tree.virtualize(cfg)
	}
	return tree
}

func (t *HybridTree) exceedsThresholds(cfg Config) bool {
	if cfg.MaxSections > 0 && len(t.Sections) > cfg.MaxSections {
		return true
	}
	if cfg.MaxBlocks > 0 && t.TotalBlocks > cfg.MaxBlocks {
		return true
	}
	return false
}

// virtualize replaces low-priority sections with placeholders carrying only
// (hash, block count). Placeholder hashes are the true section hashes, so
// diffing stays correct; only content retrieval is deferred.
func (t *HybridTree) virtualize(cfg Config) {
	for i := range t.Sections {
		sec := &t.Sections[i]
		if sec.Level <= cfg.MaterializeDepth {
			continue
		}
		sec.BlockHashes = nil
		sec.Virtual = true
	}
	t.Virtualized = t.VirtualSectionCount() > 0
}

// VirtualSectionCount returns the number of placeholder sections.
func (t *HybridTree) VirtualSectionCount() int {
	n := 0
	for i := range t.Sections {
		if t.Sections[i].Virtual {
			n++
		}
	}
	return n
}

// SectionHashes returns the ordered section hashes.
func (t *HybridTree) SectionHashes() []hash.Digest {
	hashes := make([]hash.Digest, len(t.Sections))
	for i := range t.Sections {
		hashes[i] = t.Sections[i].Hash
	}
	return hashes
}

// MaterializeFrom fills this tree's placeholder sections with block hashes
// from a fully materialized copy of the same tree, typically one retrieved
// from the store. Section hashes must match; a mismatch means the two trees
// are different versions and materializing would silently corrupt the
// fingerprint. A source section that is itself virtual carries no block
// hashes to copy, so it is rejected rather than accepted as empty content.
func (t *HybridTree) MaterializeFrom(full *HybridTree) error {
	if len(full.Sections) != len(t.Sections) {
		return fmt.Errorf("%w: section count mismatch (%d vs %d)", ErrInvalidOperation, len(t.Sections), len(full.Sections))
	}
	for i := range t.Sections {
		sec := &t.Sections[i]
		if !sec.Virtual {
			continue
		}
		src := &full.Sections[i]
		if src.Virtual {
			return fmt.Errorf("%w: section %d of the source is virtual, block hashes unavailable", ErrInvalidOperation, i)
		}
		if !src.Hash.Equal(sec.Hash) {
			return fmt.Errorf("%w: section %d hash mismatch", ErrInvalidOperation, i)
		}
		sec.BlockHashes = append([]hash.Digest(nil), src.BlockHashes...)
		sec.Virtual = false
	}
	t.Virtualized = false
	return nil
}

// Clone returns a deep copy. Trees are plain values with no back-reference
// to any store.
func (t *HybridTree) Clone() *HybridTree {
	clone := &HybridTree{
		RootHash:    append(hash.Digest(nil), t.RootHash...),
		Sections:    make([]Section, len(t.Sections)),
		TotalBlocks: t.TotalBlocks,
		Virtualized: t.Virtualized,
		Algorithm:   t.Algorithm,
	}
	for i, sec := range t.Sections {
		copied := sec
		copied.Hash = append(hash.Digest(nil), sec.Hash...)
		if sec.BlockHashes != nil {
			copied.BlockHashes = make([]hash.Digest, len(sec.BlockHashes))
			for j, bh := range sec.BlockHashes {
				copied.BlockHashes[j] = append(hash.Digest(nil), bh...)
			}
		}
		clone.Sections[i] = copied
	}
	return clone
}
