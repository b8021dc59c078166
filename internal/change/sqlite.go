package change

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kilnhq/kiln/internal/hash"
)

const hashSchema = `
CREATE TABLE IF NOT EXISTS file_hashes (
    rel_path TEXT PRIMARY KEY,
    hash TEXT NOT NULL,
    algorithm TEXT NOT NULL,
    size INTEGER NOT NULL,
    mod_time TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_hashes_hash ON file_hashes(hash);
`

type hashRow struct {
	RelPath   string `db:"rel_path"`
	Hash      string `db:"hash"`
	Algorithm string `db:"algorithm"`
	Size      int64  `db:"size"`
	ModTime   string `db:"mod_time"`
}

func (r *hashRow) toStoredHash() (*StoredHash, error) {
	digest, err := hash.ParseDigest(r.Hash)
	if err != nil {
		return nil, fmt.Errorf("stored hash for %s: %w", r.RelPath, err)
	}
	modTime, err := time.Parse(time.RFC3339Nano, r.ModTime)
	if err != nil {
		return nil, fmt.Errorf("stored mod_time for %s: %w", r.RelPath, err)
	}
	return &StoredHash{
		Key:       r.RelPath,
		RelPath:   r.RelPath,
		Hash:      digest,
		Size:      r.Size,
		ModTime:   modTime,
		Algorithm: hash.Algorithm(r.Algorithm),
	}, nil
}

// SqliteHashStore persists file hashes in SQLite, keyed by kiln-relative
// path. It is the durable side of change detection: the detector reads it,
// the indexing pipeline writes it after processing.
type SqliteHashStore struct {
	db *sqlx.DB
}

// NewSqliteHashStore initializes the schema on the given database handle.
func NewSqliteHashStore(database *sqlx.DB) (*SqliteHashStore, error) {
	if _, err := database.Exec(hashSchema); err != nil {
		return nil, fmt.Errorf("initialize hash schema: %w", err)
	}
	return &SqliteHashStore{db: database}, nil
}

func (s *SqliteHashStore) LookupHash(ctx context.Context, relPath string) (*StoredHash, error) {
	var row hashRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM file_hashes WHERE rel_path = ?", relPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup hash for %s: %w", relPath, err)
	}
	return row.toStoredHash()
}

func (s *SqliteHashStore) LookupHashesBatch(ctx context.Context, relPaths []string) (map[string]*StoredHash, error) {
	result := make(map[string]*StoredHash, len(relPaths))
	for _, path := range relPaths {
		result[path] = nil
	}
	if len(relPaths) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In("SELECT * FROM file_hashes WHERE rel_path IN (?)", relPaths)
	if err != nil {
		return nil, fmt.Errorf("build batch lookup: %w", err)
	}

	var rows []hashRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("batch hash lookup: %w", err)
	}

	for i := range rows {
		sh, err := rows[i].toStoredHash()
		if err != nil {
			return nil, err
		}
		result[sh.RelPath] = sh
	}
	return result, nil
}

func (s *SqliteHashStore) ListPaths(ctx context.Context) ([]string, error) {
	var paths []string
	if err := s.db.SelectContext(ctx, &paths, "SELECT rel_path FROM file_hashes ORDER BY rel_path"); err != nil {
		return nil, fmt.Errorf("list stored paths: %w", err)
	}
	return paths, nil
}

func (s *SqliteHashStore) StoreHashes(ctx context.Context, files []*hash.FileHashInfo) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store tx: %w", err)
	}
	defer tx.Rollback()

	for _, file := range files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file_hashes (rel_path, hash, algorithm, size, mod_time)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(rel_path) DO UPDATE SET
				hash = excluded.hash,
				algorithm = excluded.algorithm,
				size = excluded.size,
				mod_time = excluded.mod_time`,
			file.RelPath, file.Hash.Hex(), file.Algorithm.String(), file.Size,
			file.ModTime.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("store hash for %s: %w", file.RelPath, err)
		}
	}

	return tx.Commit()
}

func (s *SqliteHashStore) RemoveHashes(ctx context.Context, relPaths []string) error {
	if len(relPaths) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM file_hashes WHERE rel_path IN (?)", relPaths)
	if err != nil {
		return fmt.Errorf("build remove: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("remove hashes: %w", err)
	}
	return nil
}
