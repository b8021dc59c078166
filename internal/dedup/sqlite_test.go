package dedup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/db"
	"github.com/kilnhq/kiln/internal/document"
	"github.com/kilnhq/kiln/internal/hash"
)

func newTestBackend(t *testing.T) *SqliteBackend {
	t.Helper()
	// A file-backed DB so every pooled connection sees the same database.
	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "blocks.db")))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	backend, err := NewSqliteBackend(database)
	require.NoError(t, err)
	return backend
}

// documentBlocks turns a parsed document into index entries the way the
// ingest pipeline does: one entry per block, hashed over normalized text.
func documentBlocks(t *testing.T, doc *document.Document) []BlockInfo {
	t.Helper()
	hasher, err := hash.NewHasher(hash.DefaultAlgorithm)
	require.NoError(t, err)

	var blocks []BlockInfo
	for _, section := range doc.Sections {
		for _, block := range section.Blocks {
			blocks = append(blocks, BlockInfo{
				BlockHash:   hasher.HashBlock(block.NormalizedText()).Hex(),
				DocumentID:  doc.Path,
				BlockType:   block.Type,
				Content:     block.NormalizedText(),
				StartOffset: block.StartOffset,
				EndOffset:   block.EndOffset,
			})
		}
	}
	return blocks
}

func indexContent(t *testing.T, backend *SqliteBackend, path, content string) []BlockInfo {
	t.Helper()
	blocks := documentBlocks(t, document.Split(path, content))
	require.NoError(t, backend.IndexDocument(context.Background(), path, blocks))
	return blocks
}

func TestSqliteBackend_IdenticalFilesShareBlockHashes(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	const content = "# Hello\n\nworld"
	blocksA := indexContent(t, backend, "A.md", content)
	blocksB := indexContent(t, backend, "B.md", content)
	require.Equal(t, len(blocksA), len(blocksB))

	for i := range blocksA {
		assert.Equal(t, blocksA[i].BlockHash, blocksB[i].BlockHash,
			"identical content at block %d hashes identically", i)

		count, err := backend.BlockOccurrenceCounts(ctx, []string{blocksA[i].BlockHash})
		require.NoError(t, err)
		assert.Equal(t, 2, count[blocksA[i].BlockHash])

		docs, err := backend.FindDocumentsWithBlock(ctx, blocksA[i].BlockHash)
		require.NoError(t, err)
		assert.Equal(t, []string{"A.md", "B.md"}, docs)
	}

	detector := NewDetector(backend, Config{})
	stats, err := detector.GetAllDeduplicationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(blocksA), stats.TotalUniqueBlocks)
	assert.Equal(t, 2*len(blocksA), stats.TotalBlockInstances)
	assert.Equal(t, len(blocksA), stats.DuplicateBlocks)
	assert.InDelta(t, 0.5, stats.DeduplicationRatio, 1e-9)
}

func TestSqliteBackend_IndexDocumentReplaces(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	indexContent(t, backend, "doc.md", "# One\n\nfirst body")
	indexContent(t, backend, "doc.md", "# One\n\nsecond body")

	blocks, err := backend.GetDocumentBlocks(ctx, "doc.md")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "second body", blocks[1].Content)

	counts, err := backend.AllBlockOccurrenceCounts(ctx)
	require.NoError(t, err)
	for h, count := range counts {
		assert.Equal(t, 1, count, "re-index must not leave stale rows for %s", h)
	}
}

func TestSqliteBackend_IndexDocumentRejectsEmptyID(t *testing.T) {
	backend := newTestBackend(t)
	err := backend.IndexDocument(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestSqliteBackend_RemoveDocument(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	shared := indexContent(t, backend, "keep.md", "# H\n\nshared body")
	indexContent(t, backend, "drop.md", "# H\n\nshared body")

	require.NoError(t, backend.RemoveDocument(ctx, "drop.md"))

	counts, err := backend.BlockOccurrenceCounts(ctx, []string{shared[0].BlockHash})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[shared[0].BlockHash])

	blocks, err := backend.GetDocumentBlocks(ctx, "drop.md")
	require.NoError(t, err)
	assert.Empty(t, blocks)

	// Idempotent: removing again still succeeds.
	require.NoError(t, backend.RemoveDocument(ctx, "drop.md"))
}

func TestSqliteBackend_GetBlockByHash(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	blocks := indexContent(t, backend, "doc.md", "# Title\n\nbody text")

	got, err := backend.GetBlockByHash(ctx, blocks[1].BlockHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "body text", got.Content)
	assert.Equal(t, document.BlockParagraph, got.BlockType)

	missing, err := backend.GetBlockByHash(ctx, "not-a-real-hash")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSqliteBackend_GetBlocksByHashesRepresentativeRow(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	// Same content indexed at different positions in two documents. The
	// representative row is the lowest (document_id, block_index) occurrence
	// and all its fields come from that one row.
	blocksZ := indexContent(t, backend, "z.md", "# Z\n\nshared paragraph")
	indexContent(t, backend, "a.md", "# A\n\nfiller\n\nshared paragraph")

	sharedHash := blocksZ[1].BlockHash
	byHash, err := backend.GetBlocksByHashes(ctx, []string{sharedHash})
	require.NoError(t, err)
	got := byHash[sharedHash]
	require.NotNil(t, got)

	assert.Equal(t, "a.md", got.DocumentID)
	assert.Equal(t, 2, got.BlockIndex)
	assert.Equal(t, "shared paragraph", got.Content)
	assert.Equal(t, document.BlockParagraph, got.BlockType)

	// The offsets belong to the a.md occurrence, not z.md's.
	aBlocks, err := backend.GetDocumentBlocks(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, aBlocks[2].StartOffset, got.StartOffset)
	assert.Equal(t, aBlocks[2].EndOffset, got.EndOffset)
}

func TestSqliteBackend_BatchQueries(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	blocks := indexContent(t, backend, "a.md", "# H\n\npara one\n\npara two")
	indexContent(t, backend, "b.md", "# H\n\npara one")

	hashes := []string{blocks[0].BlockHash, blocks[1].BlockHash, "unknown-hash"}

	docs, err := backend.FindDocumentsWithBlocks(ctx, hashes)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, docs[blocks[0].BlockHash])
	assert.Equal(t, []string{"a.md", "b.md"}, docs[blocks[1].BlockHash])
	assert.Empty(t, docs["unknown-hash"])

	byHash, err := backend.GetBlocksByHashes(ctx, hashes)
	require.NoError(t, err)
	require.NotNil(t, byHash[blocks[1].BlockHash])
	assert.Equal(t, "para one", byHash[blocks[1].BlockHash].Content)
	_, present := byHash["unknown-hash"]
	assert.False(t, present)

	counts, err := backend.BlockOccurrenceCounts(ctx, hashes)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[blocks[0].BlockHash])
	assert.Equal(t, 0, counts["unknown-hash"])
}
