package change

import (
	"context"

	"github.com/kilnhq/kiln/internal/hash"
)

// HashLookupStorage is the persistence boundary the detector reads stored
// hashes from. Absence is modeled as a nil entry, never as an error, so a
// failed lookup is always distinguishable from a missing record.
type HashLookupStorage interface {
	// LookupHash returns the stored hash for one relative path, or nil when
	// no record exists.
	LookupHash(ctx context.Context, relPath string) (*StoredHash, error)

	// LookupHashesBatch resolves many paths in one round trip. The result
	// maps every requested path; paths without a record map to nil.
	LookupHashesBatch(ctx context.Context, relPaths []string) (map[string]*StoredHash, error)

	// ListPaths returns every relative path with a stored record.
	ListPaths(ctx context.Context) ([]string, error)

	// StoreHashes upserts records for the given files.
	StoreHashes(ctx context.Context, files []*hash.FileHashInfo) error

	// RemoveHashes deletes records for the given paths. Missing paths are
	// ignored.
	RemoveHashes(ctx context.Context, relPaths []string) error
}
