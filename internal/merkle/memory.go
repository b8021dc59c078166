package merkle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	tree *HybridTree
	meta TreeMetadata
}

type memoryState struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// MemoryStore is the reference in-memory Store implementation. All mutable
// state sits behind one reader/writer lock: reads proceed concurrently,
// writes are exclusive. Handles created by Clone share the same state, so a
// background watcher and a manual rebuild observe each other's writes.
type MemoryStore struct {
	state *memoryState
}

// NewMemoryStore creates an empty in-memory store. Stores are explicit
// handles, never globals; independent stores coexist freely.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{entries: make(map[string]*memoryEntry)},
	}
}

// Clone returns a handle sharing this store's underlying state.
func (s *MemoryStore) Clone() *MemoryStore {
	return &MemoryStore{state: s.state}
}

func (s *MemoryStore) Store(_ context.Context, id string, tree *HybridTree) error {
	if id == "" {
		return fmt.Errorf("%w: empty tree id", ErrInvalidOperation)
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	now := time.Now().UTC()
	meta := TreeMetadata{
		ID:                  id,
		RootHash:            tree.RootHash.Hex(),
		Algorithm:           tree.Algorithm.String(),
		SectionCount:        len(tree.Sections),
		TotalBlocks:         tree.TotalBlocks,
		Virtualized:         tree.Virtualized,
		VirtualSectionCount: tree.VirtualSectionCount(),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if prev, ok := s.state.entries[id]; ok {
		meta.CreatedAt = prev.meta.CreatedAt
		meta.UpdatedAt = monotonicAfter(prev.meta.UpdatedAt, now)
	}

	s.state.entries[id] = &memoryEntry{tree: tree.Clone(), meta: meta}
	return nil
}

func (s *MemoryStore) Retrieve(_ context.Context, id string) (*HybridTree, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	entry, ok := s.state.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry.tree.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	// Deleting an absent id succeeds: idempotent under at-least-once retry.
	delete(s.state.entries, id)
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, id string) (*TreeMetadata, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	entry, ok := s.state.entries[id]
	if !ok {
		return nil, nil
	}
	meta := entry.meta
	return &meta, nil
}

func (s *MemoryStore) UpdateIncremental(_ context.Context, id string, tree *HybridTree, changedIndices []int) error {
	if err := validateIndices(tree, changedIndices); err != nil {
		return err
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	entry, ok := s.state.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	// The in-memory reference has no per-section write cost to save, but it
	// mirrors the real-backend contract: listed sections are replaced and
	// the summary fields advance.
	incoming := tree.Clone()
	updated := entry.tree.Clone()
	if len(updated.Sections) != len(incoming.Sections) {
		updated.Sections = make([]Section, len(incoming.Sections))
		copy(updated.Sections, incoming.Sections)
	}
	for _, idx := range changedIndices {
		updated.Sections[idx] = incoming.Sections[idx]
	}
	updated.RootHash = append(updated.RootHash[:0:0], tree.RootHash...)
	updated.TotalBlocks = tree.TotalBlocks
	updated.Virtualized = tree.Virtualized
	updated.Algorithm = tree.Algorithm

	now := monotonicAfter(entry.meta.UpdatedAt, time.Now().UTC())
	entry.tree = updated
	entry.meta.RootHash = tree.RootHash.Hex()
	entry.meta.SectionCount = len(tree.Sections)
	entry.meta.TotalBlocks = tree.TotalBlocks
	entry.meta.Virtualized = tree.Virtualized
	entry.meta.VirtualSectionCount = tree.VirtualSectionCount()
	entry.meta.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ListTrees(_ context.Context) ([]*TreeMetadata, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	metas := make([]*TreeMetadata, 0, len(s.state.entries))
	for _, entry := range s.state.entries {
		meta := entry.meta
		metas = append(metas, &meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// monotonicAfter guarantees UpdatedAt strictly increases even when two
// writes land within the clock's resolution.
func monotonicAfter(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
