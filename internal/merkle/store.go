package merkle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means no tree exists at the requested id. Expected and
	// recoverable; callers should not log it as an error.
	ErrNotFound = errors.New("tree not found")

	// ErrInvalidOperation means structurally invalid caller input, such as a
	// section index out of bounds. A caller bug, never retried.
	ErrInvalidOperation = errors.New("invalid operation")
)

// SerializationError means a stored section blob could not be decoded,
// usually a format-version mismatch after an upgrade.
type SerializationError struct {
	Expected int
	Actual   int
	Detail   string
}

func (e *SerializationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("section format version mismatch: expected %d, got %d: %s", e.Expected, e.Actual, e.Detail)
	}
	return fmt.Sprintf("section format version mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// TreeMetadata summarizes a stored tree without its section data. It is a
// plain serializable record, safe to cross a process boundary.
type TreeMetadata struct {
	ID                  string    `json:"id" db:"id"`
	RootHash            string    `json:"root_hash" db:"root_hash"`
	Algorithm           string    `json:"algorithm" db:"algorithm"`
	SectionCount        int       `json:"section_count" db:"section_count"`
	TotalBlocks         int       `json:"total_blocks" db:"total_blocks"`
	Virtualized         bool      `json:"is_virtualized" db:"is_virtualized"`
	VirtualSectionCount int       `json:"virtual_section_count" db:"virtual_section_count"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Store is the persistence contract for trees and their metadata.
//
// Semantics every implementation must honor:
//
//   - Store is an idempotent upsert. Re-storing an id replaces the tree but
//     preserves the original CreatedAt; only UpdatedAt advances.
//   - Retrieve fails with ErrNotFound for an absent id.
//   - Delete is idempotent: deleting an absent id succeeds, so it is safe
//     under at-least-once retry.
//   - GetMetadata returns (nil, nil) for an absent id; absence is a valid
//     empty result, not an error.
//   - UpdateIncremental validates every index against tree's section count
//     and fails with ErrInvalidOperation otherwise. A real backend touches
//     only the listed sections' storage, bounding write amplification to
//     O(changed sections). Retry is safe only with the same tree and
//     indices.
//   - ListTrees returns all metadata sorted by UpdatedAt descending. It is
//     a full scan; pagination is a caller concern.
//
// Concurrent handles to the same store share underlying state: a write
// through one handle is visible through every other.
type Store interface {
	Store(ctx context.Context, id string, tree *HybridTree) error
	Retrieve(ctx context.Context, id string) (*HybridTree, error)
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*TreeMetadata, error)
	UpdateIncremental(ctx context.Context, id string, tree *HybridTree, changedIndices []int) error
	ListTrees(ctx context.Context) ([]*TreeMetadata, error)
}

// validateIndices checks every changed index against the tree bounds before
// any storage is touched.
func validateIndices(tree *HybridTree, indices []int) error {
	for _, idx := range indices {
		if idx < 0 || idx >= len(tree.Sections) {
			return fmt.Errorf("%w: section index %d out of range (tree has %d sections)", ErrInvalidOperation, idx, len(tree.Sections))
		}
	}
	return nil
}
