package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const blockSchema = `
CREATE TABLE IF NOT EXISTS document_blocks (
    document_id TEXT NOT NULL,
    block_index INTEGER NOT NULL,
    block_hash TEXT NOT NULL,
    block_type TEXT NOT NULL,
    content TEXT NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset INTEGER NOT NULL,
    PRIMARY KEY (document_id, block_index)
);

CREATE INDEX IF NOT EXISTS idx_document_blocks_hash ON document_blocks(block_hash);
`

// SqliteBackend indexes block occurrences in SQLite and serves the Backend
// query surface from it. Unlike the detector it also owns the write path:
// the ingest pipeline calls IndexDocument and RemoveDocument as documents
// come and go, keeping occurrence counts in step with stored content.
type SqliteBackend struct {
	db *sqlx.DB
}

var _ Backend = (*SqliteBackend)(nil)

// NewSqliteBackend initializes the schema on the given database handle.
func NewSqliteBackend(database *sqlx.DB) (*SqliteBackend, error) {
	if _, err := database.Exec(blockSchema); err != nil {
		return nil, fmt.Errorf("initialize block schema: %w", err)
	}
	return &SqliteBackend{db: database}, nil
}

// IndexDocument replaces the document's indexed blocks with the given set.
// Block order follows slice order; any DocumentID set on the entries is
// overridden by documentID.
func (b *SqliteBackend) IndexDocument(ctx context.Context, documentID string, blocks []BlockInfo) error {
	if documentID == "" {
		return errors.New("index document: empty document id")
	}

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM document_blocks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("clear blocks for %s: %w", documentID, err)
	}
	for i, block := range blocks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_blocks (document_id, block_index, block_hash, block_type, content, start_offset, end_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			documentID, i, block.BlockHash, block.BlockType, block.Content, block.StartOffset, block.EndOffset)
		if err != nil {
			return fmt.Errorf("index block %d of %s: %w", i, documentID, err)
		}
	}

	return tx.Commit()
}

// RemoveDocument drops all indexed blocks for the document. Removing an
// unknown document succeeds.
func (b *SqliteBackend) RemoveDocument(ctx context.Context, documentID string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM document_blocks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("remove blocks for %s: %w", documentID, err)
	}
	return nil
}

func (b *SqliteBackend) FindDocumentsWithBlock(ctx context.Context, blockHash string) ([]string, error) {
	var docs []string
	err := b.db.SelectContext(ctx, &docs,
		"SELECT DISTINCT document_id FROM document_blocks WHERE block_hash = ? ORDER BY document_id", blockHash)
	if err != nil {
		return nil, fmt.Errorf("find documents with block: %w", err)
	}
	return docs, nil
}

func (b *SqliteBackend) FindDocumentsWithBlocks(ctx context.Context, blockHashes []string) (map[string][]string, error) {
	result := make(map[string][]string, len(blockHashes))
	for _, h := range blockHashes {
		result[h] = []string{}
	}
	if len(blockHashes) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(
		"SELECT DISTINCT block_hash, document_id FROM document_blocks WHERE block_hash IN (?) ORDER BY document_id", blockHashes)
	if err != nil {
		return nil, fmt.Errorf("build documents query: %w", err)
	}

	var rows []struct {
		BlockHash  string `db:"block_hash"`
		DocumentID string `db:"document_id"`
	}
	if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find documents with blocks: %w", err)
	}
	for _, row := range rows {
		result[row.BlockHash] = append(result[row.BlockHash], row.DocumentID)
	}
	return result, nil
}

func (b *SqliteBackend) GetDocumentBlocks(ctx context.Context, documentID string) ([]BlockInfo, error) {
	var blocks []BlockInfo
	err := b.db.SelectContext(ctx, &blocks,
		"SELECT * FROM document_blocks WHERE document_id = ? ORDER BY block_index", documentID)
	if err != nil {
		return nil, fmt.Errorf("get blocks for %s: %w", documentID, err)
	}
	return blocks, nil
}

func (b *SqliteBackend) GetBlockByHash(ctx context.Context, blockHash string) (*BlockInfo, error) {
	var block BlockInfo
	err := b.db.GetContext(ctx, &block,
		"SELECT * FROM document_blocks WHERE block_hash = ? ORDER BY document_id, block_index LIMIT 1", blockHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block by hash: %w", err)
	}
	return &block, nil
}

func (b *SqliteBackend) GetBlocksByHashes(ctx context.Context, blockHashes []string) (map[string]*BlockInfo, error) {
	result := make(map[string]*BlockInfo, len(blockHashes))
	if len(blockHashes) == 0 {
		return result, nil
	}

	// One representative row per hash: the lowest (document_id, block_index)
	// occurrence, so every field belongs to the same row.
	query, args, err := sqlx.In(`
		SELECT block_hash, document_id, block_index, block_type, content, start_offset, end_offset
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY block_hash ORDER BY document_id, block_index
			) AS row_rank
			FROM document_blocks WHERE block_hash IN (?)
		)
		WHERE row_rank = 1`, blockHashes)
	if err != nil {
		return nil, fmt.Errorf("build blocks query: %w", err)
	}

	var rows []BlockInfo
	if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get blocks by hashes: %w", err)
	}
	for i := range rows {
		result[rows[i].BlockHash] = &rows[i]
	}
	return result, nil
}

func (b *SqliteBackend) BlockOccurrenceCounts(ctx context.Context, blockHashes []string) (map[string]int, error) {
	result := make(map[string]int, len(blockHashes))
	for _, h := range blockHashes {
		result[h] = 0
	}
	if len(blockHashes) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(
		"SELECT block_hash, COUNT(*) AS occurrences FROM document_blocks WHERE block_hash IN (?) GROUP BY block_hash", blockHashes)
	if err != nil {
		return nil, fmt.Errorf("build counts query: %w", err)
	}

	var rows []struct {
		BlockHash   string `db:"block_hash"`
		Occurrences int    `db:"occurrences"`
	}
	if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("block occurrence counts: %w", err)
	}
	for _, row := range rows {
		result[row.BlockHash] = row.Occurrences
	}
	return result, nil
}

func (b *SqliteBackend) AllBlockOccurrenceCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		BlockHash   string `db:"block_hash"`
		Occurrences int    `db:"occurrences"`
	}
	err := b.db.SelectContext(ctx, &rows,
		"SELECT block_hash, COUNT(*) AS occurrences FROM document_blocks GROUP BY block_hash")
	if err != nil {
		return nil, fmt.Errorf("all occurrence counts: %w", err)
	}

	result := make(map[string]int, len(rows))
	for _, row := range rows {
		result[row.BlockHash] = row.Occurrences
	}
	return result, nil
}
