package hash

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// 32KB buffer for streaming file reads. Files are never buffered whole, so
// memory stays constant regardless of file size.
const readBufferSize = 32 * 1024

// Hasher computes content digests for files and in-memory blocks using one
// of the supported algorithms, chosen at construction.
type Hasher struct {
	algo        Algorithm
	concurrency int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithConcurrency bounds the number of files hashed in parallel by the batch
// operations. Defaults to GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.concurrency = n
		}
	}
}

// NewHasher creates a Hasher for the given algorithm.
func NewHasher(algo Algorithm, opts ...Option) (*Hasher, error) {
	if !algo.Valid() {
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
	h := &Hasher{
		algo:        algo,
		concurrency: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Algorithm returns the algorithm this hasher was constructed with.
func (h *Hasher) Algorithm() Algorithm {
	return h.algo
}

// HashFile streams the file at path through the digest. The whole file is
// never held in memory.
func (h *Hasher) HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	digest, err := h.algo.newDigest()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, readBufferSize)
	if _, err := io.CopyBuffer(digest, file, buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return Digest(digest.Sum(nil)), nil
}

// HashFileInfo hashes the file and captures its size and modification time
// in one stat, producing the scan-side record change detection consumes.
func (h *Hasher) HashFileInfo(path string, relPath string) (*FileHashInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("hash %s: path is a directory", path)
	}

	digest, err := h.HashFile(path)
	if err != nil {
		return nil, err
	}

	return &FileHashInfo{
		RelPath:   relPath,
		Hash:      digest,
		Size:      stat.Size(),
		ModTime:   stat.ModTime(),
		Algorithm: h.algo,
	}, nil
}

// HashFilesBatch hashes all paths with bounded concurrency. Results preserve
// input order. Any single failure fails the whole batch.
func (h *Hasher) HashFilesBatch(ctx context.Context, paths []string) ([]Digest, error) {
	digests := make([]Digest, len(paths))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			d, err := h.HashFile(path)
			if err != nil {
				return err
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return digests, nil
}

// HashBlock hashes small in-memory content such as a paragraph or code fence.
func (h *Hasher) HashBlock(text string) Digest {
	digest, err := h.algo.newDigest()
	if err != nil {
		// Algorithm validity is checked at construction.
		panic(err)
	}
	digest.Write([]byte(text))
	return Digest(digest.Sum(nil))
}

// HashBlockInfo hashes block content and records its type and source span.
func (h *Hasher) HashBlockInfo(text string, blockType string, startOffset, endOffset int) *BlockHashInfo {
	return &BlockHashInfo{
		Hash:        h.HashBlock(text),
		BlockType:   blockType,
		StartOffset: startOffset,
		EndOffset:   endOffset,
		Algorithm:   h.algo,
	}
}

// Combine folds an ordered list of digests into one parent digest. Order is
// significant: reordering inputs changes the result. An empty list yields
// the digest of empty input, so an empty document still has a well-defined
// root hash.
func (h *Hasher) Combine(digests []Digest) Digest {
	parent, err := h.algo.newDigest()
	if err != nil {
		panic(err)
	}
	for _, d := range digests {
		parent.Write(d)
	}
	return Digest(parent.Sum(nil))
}

// VerifyFileHash re-reads the file and compares against expected. Used for
// integrity checks only, never as a trusted cache.
func (h *Hasher) VerifyFileHash(path string, expected Digest) (bool, error) {
	actual, err := h.HashFile(path)
	if err != nil {
		return false, err
	}
	return actual.Equal(expected), nil
}
