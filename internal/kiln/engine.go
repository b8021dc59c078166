// Package kiln wires the scan, change-detection, tree and block-index layers
// into the ingest pipeline the CLI drives.
package kiln

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kilnhq/kiln/internal/change"
	"github.com/kilnhq/kiln/internal/dedup"
	"github.com/kilnhq/kiln/internal/document"
	"github.com/kilnhq/kiln/internal/hash"
	"github.com/kilnhq/kiln/internal/merkle"
	"github.com/kilnhq/kiln/internal/scan"
)

// BlockIndex is the block-occurrence write path the engine maintains as
// documents are ingested and removed.
type BlockIndex interface {
	IndexDocument(ctx context.Context, documentID string, blocks []dedup.BlockInfo) error
	RemoveDocument(ctx context.Context, documentID string) error
}

// Config assembles an Engine from its storage dependencies.
type Config struct {
	RootDir string
	Hasher  *hash.Hasher

	Hashes change.HashLookupStorage
	Trees  merkle.Store
	Blocks BlockIndex

	ScanOptions     []scan.ScannerOption
	DetectorOptions []change.DetectorOption
}

// Engine runs the ingest pipeline over one kiln: scan, detect changes,
// rebuild and diff trees for changed documents, persist only changed
// sections, and keep the block index and stored hashes in step.
type Engine struct {
	rootDir  string
	hasher   *hash.Hasher
	scanner  *scan.Scanner
	detector *change.Detector
	hashes   change.HashLookupStorage
	trees    merkle.Store
	blocks   BlockIndex
}

// NewEngine validates the configuration and builds the pipeline.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.RootDir == "":
		return nil, errors.New("engine: root directory required")
	case cfg.Hasher == nil:
		return nil, errors.New("engine: hasher required")
	case cfg.Hashes == nil:
		return nil, errors.New("engine: hash storage required")
	case cfg.Trees == nil:
		return nil, errors.New("engine: tree store required")
	case cfg.Blocks == nil:
		return nil, errors.New("engine: block index required")
	}

	scanner, err := scan.NewScanner(cfg.RootDir, cfg.Hasher, cfg.ScanOptions...)
	if err != nil {
		return nil, err
	}
	detector, err := change.NewDetector(cfg.Hashes, cfg.DetectorOptions...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		rootDir:  cfg.RootDir,
		hasher:   cfg.Hasher,
		scanner:  scanner,
		detector: detector,
		hashes:   cfg.Hashes,
		trees:    cfg.Trees,
		blocks:   cfg.Blocks,
	}, nil
}

// SyncResult summarizes one pipeline run.
type SyncResult struct {
	Changes          change.ChangeSummary    `json:"changes"`
	Metrics          change.DetectionMetrics `json:"metrics"`
	TreesStored      int                     `json:"trees_stored"`
	TreesUpdated     int                     `json:"trees_updated"`
	SectionsWritten  int                     `json:"sections_written"`
	DocumentsRemoved int                     `json:"documents_removed"`
}

// Status scans the kiln and reports what a Sync would do. Read-only: no
// hashes, trees or block index entries are written.
func (e *Engine) Status(ctx context.Context) (*change.DetectionResult, error) {
	files, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return e.detector.DetectChangesWithMetrics(ctx, files)
}

// Sync runs the full pipeline once. New and changed documents are re-split,
// their trees rebuilt and persisted (incrementally where a prior version
// exists), and their blocks re-indexed; deleted documents are removed from
// every store. Stored file hashes are written last, after the document's
// derived state, so an interrupted run re-processes rather than skips.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	detection, err := e.Status(ctx)
	if err != nil {
		return nil, err
	}
	changes := detection.Changes

	result := &SyncResult{
		Changes: changes.Summary(),
		Metrics: detection.Metrics,
	}

	for _, file := range append(append([]*hash.FileHashInfo{}, changes.New...), changes.Changed...) {
		if err := e.ingestDocument(ctx, file, result); err != nil {
			return nil, err
		}
		if err := e.hashes.StoreHashes(ctx, []*hash.FileHashInfo{file}); err != nil {
			return nil, fmt.Errorf("store hash for %s: %w", file.RelPath, err)
		}
	}

	for _, relPath := range changes.Deleted {
		if err := e.removeDocument(ctx, relPath); err != nil {
			return nil, err
		}
		result.DocumentsRemoved++
	}

	e.invalidateWrites(changes)

	slog.Info("sync complete",
		"summary", result.Changes.String(),
		"trees_stored", result.TreesStored,
		"trees_updated", result.TreesUpdated,
		"sections_written", result.SectionsWritten,
	)
	return result, nil
}

// ingestDocument rebuilds one document's derived state: tree, incremental
// section writes, and block index entries.
func (e *Engine) ingestDocument(ctx context.Context, file *hash.FileHashInfo, result *SyncResult) error {
	content, err := os.ReadFile(filepath.Join(e.rootDir, filepath.FromSlash(file.RelPath)))
	if err != nil {
		return fmt.Errorf("read %s: %w", file.RelPath, err)
	}

	doc := document.Split(file.RelPath, string(content))
	// Always persist the fully materialized tree. Virtualization bounds
	// in-memory trees only; a virtualized copy materializes its placeholder
	// sections from the stored full tree via MaterializeFrom.
	tree := merkle.FromDocument(doc, e.hasher)

	prior, err := e.trees.Retrieve(ctx, file.RelPath)
	switch {
	case errors.Is(err, merkle.ErrNotFound):
		if err := e.trees.Store(ctx, file.RelPath, tree); err != nil {
			return fmt.Errorf("store tree for %s: %w", file.RelPath, err)
		}
		result.TreesStored++
		result.SectionsWritten += len(tree.Sections)
	case err != nil:
		return fmt.Errorf("retrieve tree for %s: %w", file.RelPath, err)
	default:
		diff := prior.Diff(tree)
		if !diff.HasChanges() {
			// File bytes changed but normalized content did not.
			return e.blocks.IndexDocument(ctx, file.RelPath, documentBlocks(doc, e.hasher))
		}
		indices := diff.ChangedIndices()
		if err := e.trees.UpdateIncremental(ctx, file.RelPath, tree, indices); err != nil {
			return fmt.Errorf("update tree for %s: %w", file.RelPath, err)
		}
		result.TreesUpdated++
		result.SectionsWritten += len(indices)
	}

	if err := e.blocks.IndexDocument(ctx, file.RelPath, documentBlocks(doc, e.hasher)); err != nil {
		return fmt.Errorf("index blocks for %s: %w", file.RelPath, err)
	}
	return nil
}

// removeDocument drops all derived state for a deleted file. Every step is
// idempotent, so a partially failed removal can simply run again.
func (e *Engine) removeDocument(ctx context.Context, relPath string) error {
	if err := e.trees.Delete(ctx, relPath); err != nil {
		return fmt.Errorf("delete tree for %s: %w", relPath, err)
	}
	if err := e.blocks.RemoveDocument(ctx, relPath); err != nil {
		return fmt.Errorf("remove blocks for %s: %w", relPath, err)
	}
	if err := e.hashes.RemoveHashes(ctx, []string{relPath}); err != nil {
		return fmt.Errorf("remove hash for %s: %w", relPath, err)
	}
	return nil
}

func (e *Engine) invalidateWrites(changes *change.ChangeSet) {
	var written []string
	for _, f := range changes.New {
		written = append(written, f.RelPath)
	}
	for _, f := range changes.Changed {
		written = append(written, f.RelPath)
	}
	written = append(written, changes.Deleted...)
	e.detector.InvalidatePaths(written)
}

// documentBlocks flattens a document into block index entries, hashed over
// normalized text with the same hasher the tree uses, so tree block hashes
// and index block hashes always agree.
func documentBlocks(doc *document.Document, hasher *hash.Hasher) []dedup.BlockInfo {
	var blocks []dedup.BlockInfo
	for _, section := range doc.Sections {
		for _, block := range section.Blocks {
			blocks = append(blocks, dedup.BlockInfo{
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
