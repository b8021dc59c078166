package change

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/db"
	"github.com/kilnhq/kiln/internal/hash"
)

func newTestHashStore(t *testing.T) *SqliteHashStore {
	t.Helper()
	// A file-backed DB so every pooled connection sees the same database.
	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "hashes.db")))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := NewSqliteHashStore(database)
	require.NoError(t, err)
	return store
}

func TestSqliteHashStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestHashStore(t)

	modTime := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	file := fileInfo(t, "notes/daily.md", "morning pages")
	file.ModTime = modTime

	require.NoError(t, store.StoreHashes(ctx, []*hash.FileHashInfo{file}))

	got, err := store.LookupHash(ctx, "notes/daily.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "notes/daily.md", got.RelPath)
	assert.Equal(t, got.RelPath, got.Key)
	assert.True(t, got.Hash.Equal(file.Hash))
	assert.Equal(t, file.Size, got.Size)
	assert.True(t, got.ModTime.Equal(modTime), "mod_time survives storage to nanosecond precision")
	assert.Equal(t, hash.DefaultAlgorithm, got.Algorithm)
}

func TestSqliteHashStore_LookupMissingIsNilNil(t *testing.T) {
	ctx := context.Background()
	store := newTestHashStore(t)

	got, err := store.LookupHash(ctx, "never-stored.md")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSqliteHashStore_UpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	store := newTestHashStore(t)

	first := fileInfo(t, "a.md", "v1")
	require.NoError(t, store.StoreHashes(ctx, []*hash.FileHashInfo{first}))

	second := fileInfo(t, "a.md", "v2")
	require.NoError(t, store.StoreHashes(ctx, []*hash.FileHashInfo{second}))

	got, err := store.LookupHash(ctx, "a.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Hash.Equal(second.Hash))

	paths, err := store.ListPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, paths, "upsert must not create a second row")
}

func TestSqliteHashStore_BatchLookupMapsEveryPath(t *testing.T) {
	ctx := context.Background()
	store := newTestHashStore(t)

	a := fileInfo(t, "a.md", "a")
	b := fileInfo(t, "b.md", "b")
	require.NoError(t, store.StoreHashes(ctx, []*hash.FileHashInfo{a, b}))

	result, err := store.LookupHashesBatch(ctx, []string{"a.md", "missing.md", "b.md"})
	require.NoError(t, err)
	require.Len(t, result, 3)
	require.NotNil(t, result["a.md"])
	assert.True(t, result["a.md"].Hash.Equal(a.Hash))
	require.NotNil(t, result["b.md"])
	assert.True(t, result["b.md"].Hash.Equal(b.Hash))

	missing, ok := result["missing.md"]
	assert.True(t, ok, "absent paths still appear in the result")
	assert.Nil(t, missing)
}

func TestSqliteHashStore_BatchLookupEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestHashStore(t)

	result, err := store.LookupHashesBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestSqliteHashStore_ListPathsSorted(t *testing.T) {
	ctx := context.Background()
	store := newTestHashStore(t)

	require.NoError(t, store.StoreHashes(ctx, []*hash.FileHashInfo{
		fileInfo(t, "z.md", "z"),
		fileInfo(t, "a.md", "a"),
		fileInfo(t, "m.md", "m"),
	}))

	paths, err := store.ListPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "m.md", "z.md"}, paths)
}

func TestSqliteHashStore_RemoveHashes(t *testing.T) {
	ctx := context.Background()
	store := newTestHashStore(t)

	require.NoError(t, store.StoreHashes(ctx, []*hash.FileHashInfo{
		fileInfo(t, "keep.md", "k"),
		fileInfo(t, "drop.md", "d"),
	}))

	require.NoError(t, store.RemoveHashes(ctx, []string{"drop.md", "never-there.md"}))

	paths, err := store.ListPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.md"}, paths)

	// Removing nothing is a no-op, not an error.
	require.NoError(t, store.RemoveHashes(ctx, nil))
}

func TestSqliteHashStore_DrivesDetector(t *testing.T) {
	ctx := context.Background()
	store := newTestHashStore(t)

	original := fileInfo(t, "doc.md", "first draft")
	require.NoError(t, store.StoreHashes(ctx, []*hash.FileHashInfo{original}))

	detector, err := NewDetector(store)
	require.NoError(t, err)

	edited := fileInfo(t, "doc.md", "second draft")
	changes, err := detector.DetectChanges(ctx, []*hash.FileHashInfo{edited})
	require.NoError(t, err)
	require.Len(t, changes.Changed, 1)
	assert.Empty(t, changes.New)
	assert.Empty(t, changes.Deleted)

	// After persisting the new hash the same scan reads as unchanged.
	require.NoError(t, store.StoreHashes(ctx, []*hash.FileHashInfo{edited}))
	changes, err = detector.DetectChanges(ctx, []*hash.FileHashInfo{edited})
	require.NoError(t, err)
	assert.False(t, changes.HasChanges())
	require.Len(t, changes.Unchanged, 1)
}
