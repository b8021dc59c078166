// Package scan walks a kiln directory and produces the hashed file listing
// change detection consumes.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilnhq/kiln/internal/hash"
)

// Scanner walks one kiln root, applies ignore rules, and hashes every
// remaining file with bounded concurrency.
type Scanner struct {
	rootDir     string
	hasher      *hash.Hasher
	ignores     *IgnoreList
	extensions  map[string]bool
	concurrency int
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithExtensions restricts the scan to the given file extensions (with
// leading dot, case-insensitive). Default is all files.
func WithExtensions(exts ...string) ScannerOption {
	return func(s *Scanner) {
		s.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			s.extensions[strings.ToLower(ext)] = true
		}
	}
}

// WithScanConcurrency bounds the number of files hashed in parallel.
func WithScanConcurrency(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewScanner creates a Scanner rooted at rootDir. Ignore rules are compiled
// once at construction; callers rescanning after editing .kilnignore should
// build a fresh Scanner.
func NewScanner(rootDir string, hasher *hash.Hasher, opts ...ScannerOption) (*Scanner, error) {
	ignores, err := NewIgnoreList(rootDir)
	if err != nil {
		return nil, fmt.Errorf("compile ignore rules: %w", err)
	}

	s := &Scanner{
		rootDir:     rootDir,
		hasher:      hasher,
		ignores:     ignores,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scan walks the kiln and returns a FileHashInfo per included file, sorted
// by relative path. Any single hashing failure fails the whole scan.
func (s *Scanner) Scan(ctx context.Context) ([]*hash.FileHashInfo, error) {
	start := time.Now()

	relPaths, err := s.listFiles()
	if err != nil {
		return nil, err
	}

	results := make([]*hash.FileHashInfo, len(relPaths))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, relPath := range relPaths {
		i, relPath := i, relPath
		g.Go(func() error {
			info, err := s.hasher.HashFileInfo(filepath.Join(s.rootDir, relPath), relPath)
			if err != nil {
				return err
			}
			results[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("scan complete", "root", s.rootDir, "files", len(results), "took", time.Since(start))
	return results, nil
}

// listFiles walks the tree and returns included kiln-relative paths, sorted.
// Ignored directories are pruned without descending.
func (s *Scanner) listFiles() ([]string, error) {
	var relPaths []string

	err := filepath.WalkDir(s.rootDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == s.rootDir {
			return nil
		}

		relPath, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if s.ignores.ShouldIgnore(relPath) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		if s.extensions != nil && !s.extensions[strings.ToLower(filepath.Ext(relPath))] {
			return nil
		}

		relPaths = append(relPaths, relPath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.rootDir, err)
	}

	sort.Strings(relPaths)
	return relPaths, nil
}
