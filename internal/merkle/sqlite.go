package merkle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/kilnhq/kiln/internal/hash"
)

// sectionFormatVersion is bumped on breaking changes to the section blob
// layout so old rows fail with a SerializationError instead of decoding
// garbage.
const sectionFormatVersion = 1

// Fixed-width UTC timestamp layout. Unlike RFC3339Nano it never trims
// trailing zeros, so lexical order equals chronological order and the
// updated_at index sorts correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS merkle_trees (
    id TEXT PRIMARY KEY,
    root_hash TEXT NOT NULL,
    algorithm TEXT NOT NULL,
    section_count INTEGER NOT NULL,
    total_blocks INTEGER NOT NULL,
    is_virtualized INTEGER NOT NULL,
    virtual_section_count INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS merkle_sections (
    tree_id TEXT NOT NULL,
    section_index INTEGER NOT NULL,
    section_hash TEXT NOT NULL,
    heading TEXT NOT NULL,
    depth INTEGER NOT NULL,
    block_count INTEGER NOT NULL,
    section_data BLOB NOT NULL,
    PRIMARY KEY (tree_id, section_index)
);

CREATE INDEX IF NOT EXISTS idx_trees_updated ON merkle_trees(updated_at);
CREATE INDEX IF NOT EXISTS idx_sections_tree ON merkle_sections(tree_id);
`

// sectionBlob is the versioned on-disk form of one section's block hashes.
type sectionBlob struct {
	Version     int      `json:"version"`
	Virtual     bool     `json:"virtual"`
	BlockHashes []string `json:"block_hashes"`
}

type treeRow struct {
	ID                  string `db:"id"`
	RootHash            string `db:"root_hash"`
	Algorithm           string `db:"algorithm"`
	SectionCount        int    `db:"section_count"`
	TotalBlocks         int    `db:"total_blocks"`
	Virtualized         bool   `db:"is_virtualized"`
	VirtualSectionCount int    `db:"virtual_section_count"`
	CreatedAt           string `db:"created_at"`
	UpdatedAt           string `db:"updated_at"`
}

type sectionRow struct {
	TreeID       string `db:"tree_id"`
	SectionIndex int    `db:"section_index"`
	SectionHash  string `db:"section_hash"`
	Heading      string `db:"heading"`
	Depth        int    `db:"depth"`
	BlockCount   int    `db:"block_count"`
	SectionData  []byte `db:"section_data"`
}

// SqliteStore persists trees in SQLite: one row per tree, one row per
// section. Sections living in their own rows is what makes
// UpdateIncremental touch O(changed sections) storage instead of rewriting
// the whole document's data.
type SqliteStore struct {
	db *sqlx.DB
}

// NewSqliteStore initializes the schema on the given database handle.
// Handles derived from the same *sqlx.DB share state.
func NewSqliteStore(database *sqlx.DB) (*SqliteStore, error) {
	if _, err := database.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("initialize merkle schema: %w", err)
	}
	return &SqliteStore{db: database}, nil
}

func (s *SqliteStore) Store(ctx context.Context, id string, tree *HybridTree) error {
	if id == "" {
		return fmt.Errorf("%w: empty tree id", ErrInvalidOperation)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	createdAt := now.Format(timeLayout)
	updatedAt := createdAt

	var prev treeRow
	err = tx.GetContext(ctx, &prev, "SELECT created_at, updated_at FROM merkle_trees WHERE id = ?", id)
	switch {
	case err == nil:
		createdAt = prev.CreatedAt
		updatedAt = bumpTimestamp(prev.UpdatedAt, now)
	case errors.Is(err, sql.ErrNoRows):
		// first store for this id
	default:
		return fmt.Errorf("lookup tree %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO merkle_trees (id, root_hash, algorithm, section_count, total_blocks, is_virtualized, virtual_section_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			root_hash = excluded.root_hash,
			algorithm = excluded.algorithm,
			section_count = excluded.section_count,
			total_blocks = excluded.total_blocks,
			is_virtualized = excluded.is_virtualized,
			virtual_section_count = excluded.virtual_section_count,
			updated_at = excluded.updated_at`,
		id, tree.RootHash.Hex(), tree.Algorithm.String(), len(tree.Sections), tree.TotalBlocks,
		tree.Virtualized, tree.VirtualSectionCount(), createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert tree %s: %w", id, err)
	}

	// Drop rows for sections past the new count, then upsert every section.
	if _, err := tx.ExecContext(ctx, "DELETE FROM merkle_sections WHERE tree_id = ? AND section_index >= ?", id, len(tree.Sections)); err != nil {
		return fmt.Errorf("trim sections for %s: %w", id, err)
	}
	for i := range tree.Sections {
		if err := upsertSection(ctx, tx, id, i, &tree.Sections[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SqliteStore) Retrieve(ctx context.Context, id string) (*HybridTree, error) {
	var row treeRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM merkle_trees WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve tree %s: %w", id, err)
	}

	var sectionRows []sectionRow
	err = s.db.SelectContext(ctx, &sectionRows, "SELECT * FROM merkle_sections WHERE tree_id = ? ORDER BY section_index", id)
	if err != nil {
		return nil, fmt.Errorf("retrieve sections for %s: %w", id, err)
	}

	rootHash, err := hash.ParseDigest(row.RootHash)
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", id, err)
	}

	tree := &HybridTree{
		RootHash:    rootHash,
		Sections:    make([]Section, 0, len(sectionRows)),
		TotalBlocks: row.TotalBlocks,
		Virtualized: row.Virtualized,
		Algorithm:   hash.Algorithm(row.Algorithm),
	}

	for _, sr := range sectionRows {
		sec, err := decodeSection(&sr)
		if err != nil {
			return nil, fmt.Errorf("tree %s section %d: %w", id, sr.SectionIndex, err)
		}
		tree.Sections = append(tree.Sections, *sec)
	}

	return tree, nil
}

func (s *SqliteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	// Absent rows are fine: delete stays idempotent.
	if _, err := tx.ExecContext(ctx, "DELETE FROM merkle_sections WHERE tree_id = ?", id); err != nil {
		return fmt.Errorf("delete sections for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM merkle_trees WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete tree %s: %w", id, err)
	}

	return tx.Commit()
}

func (s *SqliteStore) GetMetadata(ctx context.Context, id string) (*TreeMetadata, error) {
	var row treeRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM merkle_trees WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata for %s: %w", id, err)
	}
	return row.toMetadata()
}

func (s *SqliteStore) UpdateIncremental(ctx context.Context, id string, tree *HybridTree, changedIndices []int) error {
	if err := validateIndices(tree, changedIndices); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin incremental tx: %w", err)
	}
	defer tx.Rollback()

	var prev treeRow
	err = tx.GetContext(ctx, &prev, "SELECT created_at, updated_at FROM merkle_trees WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("lookup tree %s: %w", id, err)
	}

	updatedAt := bumpTimestamp(prev.UpdatedAt, time.Now().UTC())
	_, err = tx.ExecContext(ctx, `
		UPDATE merkle_trees SET
			root_hash = ?, algorithm = ?, section_count = ?, total_blocks = ?,
			is_virtualized = ?, virtual_section_count = ?, updated_at = ?
		WHERE id = ?`,
		tree.RootHash.Hex(), tree.Algorithm.String(), len(tree.Sections), tree.TotalBlocks,
		tree.Virtualized, tree.VirtualSectionCount(), updatedAt, id)
	if err != nil {
		return fmt.Errorf("update tree %s: %w", id, err)
	}

	// Only the listed sections' rows are written; trailing removed sections
	// are trimmed so the stored section set matches the tree.
	if _, err := tx.ExecContext(ctx, "DELETE FROM merkle_sections WHERE tree_id = ? AND section_index >= ?", id, len(tree.Sections)); err != nil {
		return fmt.Errorf("trim sections for %s: %w", id, err)
	}
	for _, idx := range changedIndices {
		if err := upsertSection(ctx, tx, id, idx, &tree.Sections[idx]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SqliteStore) ListTrees(ctx context.Context) ([]*TreeMetadata, error) {
	var rows []treeRow
	// Full scan, documented as potentially expensive at scale. Pagination is
	// a caller concern.
	err := s.db.SelectContext(ctx, &rows, "SELECT * FROM merkle_trees ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list trees: %w", err)
	}

	metas := make([]*TreeMetadata, 0, len(rows))
	for i := range rows {
		meta, err := rows[i].toMetadata()
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func upsertSection(ctx context.Context, tx *sqlx.Tx, treeID string, index int, sec *Section) error {
	blob := sectionBlob{
		Version:     sectionFormatVersion,
		Virtual:     sec.Virtual,
		BlockHashes: make([]string, len(sec.BlockHashes)),
	}
	for i, bh := range sec.BlockHashes {
		blob.BlockHashes[i] = bh.Hex()
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode section %d of %s: %w", index, treeID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO merkle_sections (tree_id, section_index, section_hash, heading, depth, block_count, section_data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tree_id, section_index) DO UPDATE SET
			section_hash = excluded.section_hash,
			heading = excluded.heading,
			depth = excluded.depth,
			block_count = excluded.block_count,
			section_data = excluded.section_data`,
		treeID, index, sec.Hash.Hex(), sec.Heading, sec.Level, sec.BlockCount, data)
	if err != nil {
		return fmt.Errorf("upsert section %d of %s: %w", index, treeID, err)
	}
	return nil
}

func decodeSection(row *sectionRow) (*Section, error) {
	var blob sectionBlob
	if err := json.Unmarshal(row.SectionData, &blob); err != nil {
		return nil, &SerializationError{Expected: sectionFormatVersion, Actual: 0, Detail: err.Error()}
	}
	if blob.Version != sectionFormatVersion {
		return nil, &SerializationError{Expected: sectionFormatVersion, Actual: blob.Version}
	}

	sectionHash, err := hash.ParseDigest(row.SectionHash)
	if err != nil {
		return nil, err
	}

	sec := &Section{
		Heading:    row.Heading,
		Level:      row.Depth,
		Hash:       sectionHash,
		BlockCount: row.BlockCount,
		Virtual:    blob.Virtual,
	}
	if !blob.Virtual {
		sec.BlockHashes = make([]hash.Digest, len(blob.BlockHashes))
		for i, hx := range blob.BlockHashes {
			d, err := hash.ParseDigest(hx)
			if err != nil {
				return nil, err
			}
			sec.BlockHashes[i] = d
		}
	}
	return sec, nil
}

func (r *treeRow) toMetadata() (*TreeMetadata, error) {
	createdAt, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", r.ID, err)
	}
	updatedAt, err := time.Parse(timeLayout, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", r.ID, err)
	}
	return &TreeMetadata{
		ID:                  r.ID,
		RootHash:            r.RootHash,
		Algorithm:           r.Algorithm,
		SectionCount:        r.SectionCount,
		TotalBlocks:         r.TotalBlocks,
		Virtualized:         r.Virtualized,
		VirtualSectionCount: r.VirtualSectionCount,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}

// bumpTimestamp formats now, guaranteeing a value strictly greater than the
// stored one even when two writes land within the clock's resolution.
func bumpTimestamp(prevStr string, now time.Time) string {
	formatted := now.Format(timeLayout)
	if formatted > prevStr {
		return formatted
	}
	prev, err := time.Parse(timeLayout, prevStr)
	if err != nil {
		return formatted
	}
	return prev.Add(time.Nanosecond).UTC().Format(timeLayout)
}
