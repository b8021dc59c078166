package merkle

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/db"
	"github.com/kilnhq/kiln/internal/document"
)

// Contract tests run against every Store implementation.
func storeImpls(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			// File-backed: a ":memory:" DSN gives every pooled connection its
			// own database.
			database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "trees.db")))
			require.NoError(t, err)
			t.Cleanup(func() { database.Close() })
			store, err := NewSqliteStore(database)
			require.NoError(t, err)
			return store
		},
	}
}

func sampleTree(t *testing.T, content string) *HybridTree {
	t.Helper()
	return FromDocument(document.Split("sample.md", content), testHasher(t))
}

func TestStore_RoundTrip(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			tree := sampleTree(t, "# One\n\nalpha\n\n# Two\n\nbeta")

			require.NoError(t, store.Store(ctx, "notes/sample.md", tree))

			got, err := store.Retrieve(ctx, "notes/sample.md")
			require.NoError(t, err)

			assert.True(t, got.RootHash.Equal(tree.RootHash))
			require.Len(t, got.Sections, len(tree.Sections))
			for i := range tree.Sections {
				assert.True(t, got.Sections[i].Hash.Equal(tree.Sections[i].Hash), "section %d hash", i)
				assert.Equal(t, tree.Sections[i].BlockCount, got.Sections[i].BlockCount)
			}
			assert.Equal(t, tree.TotalBlocks, got.TotalBlocks)
		})
	}
}

func TestStore_RetrieveMissing(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			_, err := store.Retrieve(context.Background(), "missing.md")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			tree := sampleTree(t, "# D\n\ncontent")

			require.NoError(t, store.Store(ctx, "doc.md", tree))
			require.NoError(t, store.Delete(ctx, "doc.md"))
			require.NoError(t, store.Delete(ctx, "doc.md"), "second delete must also succeed")

			_, err := store.Retrieve(ctx, "doc.md")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_CreatedAtStable_UpdatedAtAdvances(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			v1 := sampleTree(t, "# V\n\nversion one")
			v2 := sampleTree(t, "# V\n\nversion two")

			require.NoError(t, store.Store(ctx, "doc.md", v1))
			first, err := store.GetMetadata(ctx, "doc.md")
			require.NoError(t, err)
			require.NotNil(t, first)

			require.NoError(t, store.Store(ctx, "doc.md", v2))
			second, err := store.GetMetadata(ctx, "doc.md")
			require.NoError(t, err)
			require.NotNil(t, second)

			assert.True(t, second.CreatedAt.Equal(first.CreatedAt), "created_at must survive re-store")
			assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "updated_at must strictly increase")
			assert.Equal(t, v2.RootHash.Hex(), second.RootHash)
		})
	}
}

func TestStore_GetMetadataAbsent(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			meta, err := newStore(t).GetMetadata(context.Background(), "absent.md")
			require.NoError(t, err, "absence is a valid empty result, not an error")
			assert.Nil(t, meta)
		})
	}
}

func TestStore_UpdateIncremental(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			old := sampleTree(t, "# A\n\nalpha\n\n# B\n\nbeta")
			require.NoError(t, store.Store(ctx, "doc.md", old))

			updated := sampleTree(t, "# A\n\nalpha\n\n# B\n\nbeta EDITED")
			diff := old.Diff(updated)
			require.Equal(t, []int{1}, diff.ChangedIndices())

			require.NoError(t, store.UpdateIncremental(ctx, "doc.md", updated, diff.ChangedIndices()))

			got, err := store.Retrieve(ctx, "doc.md")
			require.NoError(t, err)
			assert.True(t, got.RootHash.Equal(updated.RootHash))
			assert.True(t, got.Sections[0].Hash.Equal(updated.Sections[0].Hash))
			assert.True(t, got.Sections[1].Hash.Equal(updated.Sections[1].Hash))
		})
	}
}

func TestStore_UpdateIncremental_InvalidIndex(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			tree := sampleTree(t, "# A\n\nalpha")
			require.NoError(t, store.Store(ctx, "doc.md", tree))

			err := store.UpdateIncremental(ctx, "doc.md", tree, []int{len(tree.Sections)})
			assert.ErrorIs(t, err, ErrInvalidOperation)

			err = store.UpdateIncremental(ctx, "doc.md", tree, []int{-1})
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestStore_UpdateIncremental_MissingTree(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			tree := sampleTree(t, "# A\n\nalpha")
			err := newStore(t).UpdateIncremental(context.Background(), "never-stored.md", tree, []int{0})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListTrees_SortedByUpdatedAtDesc(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			require.NoError(t, store.Store(ctx, "first.md", sampleTree(t, "# 1\n\none")))
			require.NoError(t, store.Store(ctx, "second.md", sampleTree(t, "# 2\n\ntwo")))
			require.NoError(t, store.Store(ctx, "first.md", sampleTree(t, "# 1\n\none updated")))

			metas, err := store.ListTrees(ctx)
			require.NoError(t, err)
			require.Len(t, metas, 2)
			assert.Equal(t, "first.md", metas[0].ID, "most recently updated first")
			assert.Equal(t, "second.md", metas[1].ID)
		})
	}
}

func TestStore_VirtualizedRoundTrip(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			hasher := testHasher(t)
			virt := FromDocumentWithConfig(bigDocument(6), hasher, Config{MaxSections: 2, MaterializeDepth: 1})
			require.True(t, virt.Virtualized)

			require.NoError(t, store.Store(ctx, "big.md", virt))
			got, err := store.Retrieve(ctx, "big.md")
			require.NoError(t, err)

			assert.True(t, got.Virtualized)
			assert.Equal(t, virt.VirtualSectionCount(), got.VirtualSectionCount())
			assert.True(t, got.RootHash.Equal(virt.RootHash))

			meta, err := store.GetMetadata(ctx, "big.md")
			require.NoError(t, err)
			require.NotNil(t, meta)
			assert.True(t, meta.Virtualized)
			assert.Equal(t, virt.VirtualSectionCount(), meta.VirtualSectionCount)
		})
	}
}

func TestStore_MaterializeFromRetrieved(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			hasher := testHasher(t)
			doc := bigDocument(6)
			full := FromDocument(doc, hasher)
			require.NoError(t, store.Store(ctx, "big.md", full))

			virt := FromDocumentWithConfig(doc, hasher, Config{MaxSections: 2, MaterializeDepth: 1})
			require.True(t, virt.Virtualized)

			retrieved, err := store.Retrieve(ctx, "big.md")
			require.NoError(t, err)

			require.NoError(t, virt.MaterializeFrom(retrieved))
			assert.False(t, virt.Virtualized)
			for i, sec := range virt.Sections {
				assert.False(t, sec.Virtual)
				require.Len(t, sec.BlockHashes, sec.BlockCount, "section %d block hashes restored from the store", i)
				for _, bh := range sec.BlockHashes {
					assert.False(t, bh.IsZero())
				}
			}
			assert.True(t, virt.RootHash.Equal(full.RootHash))
		})
	}
}

func TestStore_MaterializeFromRetrievedPlaceholders(t *testing.T) {
	for name, newStore := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			hasher := testHasher(t)
			doc := bigDocument(6)
			virt := FromDocumentWithConfig(doc, hasher, Config{MaxSections: 2, MaterializeDepth: 1})
			require.NoError(t, store.Store(ctx, "big.md", virt))

			// The store only ever held placeholders, so the retrieved copy
			// cannot serve as a materialization source.
			retrieved, err := store.Retrieve(ctx, "big.md")
			require.NoError(t, err)
			require.True(t, retrieved.Virtualized)

			other := FromDocumentWithConfig(doc, hasher, Config{MaxSections: 2, MaterializeDepth: 1})
			err = other.MaterializeFrom(retrieved)
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestMemoryStore_ClonedHandlesShareState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clone := store.Clone()

	tree := sampleTree(t, "# S\n\nshared")
	require.NoError(t, store.Store(ctx, "doc.md", tree))

	got, err := clone.Retrieve(ctx, "doc.md")
	require.NoError(t, err)
	assert.True(t, got.RootHash.Equal(tree.RootHash))

	require.NoError(t, clone.Delete(ctx, "doc.md"))
	_, err = store.Retrieve(ctx, "doc.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tree := sampleTree(t, "# C\n\nconcurrent")
	require.NoError(t, store.Store(ctx, "doc.md", tree))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = store.Retrieve(ctx, "doc.md")
				_, _ = store.ListTrees(ctx)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = store.Store(ctx, "doc.md", tree)
			}
		}()
	}
	wg.Wait()

	got, err := store.Retrieve(ctx, "doc.md")
	require.NoError(t, err)
	assert.True(t, got.RootHash.Equal(tree.RootHash))
}

func TestSqliteStore_SerializationVersionMismatch(t *testing.T) {
	ctx := context.Background()
	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "trees.db")))
	require.NoError(t, err)
	defer database.Close()

	store, err := NewSqliteStore(database)
	require.NoError(t, err)

	tree := sampleTree(t, "# V\n\nversioned")
	require.NoError(t, store.Store(ctx, "doc.md", tree))

	// Corrupt the stored blob to a future format version.
	_, err = database.Exec(`UPDATE merkle_sections SET section_data = ? WHERE tree_id = ?`,
		[]byte(`{"version":99,"virtual":false,"block_hashes":[]}`), "doc.md")
	require.NoError(t, err)

	_, err = store.Retrieve(ctx, "doc.md")
	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, sectionFormatVersion, serr.Expected)
	assert.Equal(t, 99, serr.Actual)
}
