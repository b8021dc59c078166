package scan

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the per-kiln ignore file, gitignore syntax.
const IgnoreFileName = ".kilnignore"

var defaultIgnoreLines = []string{
	".git/",
	".obsidian/",
	".trash/",
	".DS_Store",
	"Thumbs.db",
	"*.tmp",
	"*.swp",
}

// IgnoreList decides which kiln-relative paths the scanner skips. The
// defaults always apply; a .kilnignore at the kiln root adds to them.
type IgnoreList struct {
	defaults *gitignore.GitIgnore
	custom   *gitignore.GitIgnore
}

// NewIgnoreList compiles the default rules plus the kiln's .kilnignore when
// present. A missing ignore file is not an error.
func NewIgnoreList(rootDir string) (*IgnoreList, error) {
	list := &IgnoreList{defaults: gitignore.CompileIgnoreLines(defaultIgnoreLines...)}

	path := filepath.Join(rootDir, IgnoreFileName)
	if _, err := os.Stat(path); err == nil {
		custom, err := gitignore.CompileIgnoreFile(path)
		if err != nil {
			return nil, err
		}
		list.custom = custom
	}

	return list, nil
}

// ShouldIgnore reports whether the kiln-relative path is excluded. Hidden
// path segments are always excluded.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	if l.defaults.MatchesPath(relPath) {
		return true
	}
	return l.custom != nil && l.custom.MatchesPath(relPath)
}
