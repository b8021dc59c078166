package dedup

import "context"

// Backend is the block-occurrence query surface the detector analyzes.
// Implementations answer from whatever already wrote the blocks; the
// detector never writes through this interface.
//
// Hash arguments and map keys are canonical lowercase-hex digests.
type Backend interface {
	// FindDocumentsWithBlock returns the ids of all documents containing
	// the block, without duplicates.
	FindDocumentsWithBlock(ctx context.Context, blockHash string) ([]string, error)

	// FindDocumentsWithBlocks is the batched form. The result maps every
	// requested hash; hashes with no occurrences map to an empty slice.
	FindDocumentsWithBlocks(ctx context.Context, blockHashes []string) (map[string][]string, error)

	// GetDocumentBlocks returns the document's blocks in index order.
	GetDocumentBlocks(ctx context.Context, documentID string) ([]BlockInfo, error)

	// GetBlockByHash returns one representative occurrence of the block, or
	// nil when the hash is not indexed.
	GetBlockByHash(ctx context.Context, blockHash string) (*BlockInfo, error)

	// GetBlocksByHashes is the batched form of GetBlockByHash. Hashes with
	// no occurrences are absent from the result.
	GetBlocksByHashes(ctx context.Context, blockHashes []string) (map[string]*BlockInfo, error)

	// BlockOccurrenceCounts returns the occurrence count for each requested
	// hash. Hashes with no occurrences map to zero.
	BlockOccurrenceCounts(ctx context.Context, blockHashes []string) (map[string]int, error)

	// AllBlockOccurrenceCounts returns the occurrence count for every
	// indexed hash. Full scan; the dominant query behind store-wide stats.
	AllBlockOccurrenceCounts(ctx context.Context) (map[string]int, error)
}
