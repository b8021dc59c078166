package hash

import "time"

// FileHashInfo is the current on-disk truth for one file, produced fresh on
// every scan. RelPath is always relative to the kiln root with forward
// slashes.
type FileHashInfo struct {
	RelPath   string    `json:"rel_path" db:"rel_path"`
	Hash      Digest    `json:"hash" db:"hash"`
	Size      int64     `json:"size" db:"size"`
	ModTime   time.Time `json:"mod_time" db:"mod_time"`
	Algorithm Algorithm `json:"algorithm" db:"algorithm"`
}

// HashHex returns the hex form of the content hash.
func (f *FileHashInfo) HashHex() string {
	return f.Hash.Hex()
}

// BlockHashInfo is the hash of one in-memory content block together with the
// context needed to locate it in its source document.
type BlockHashInfo struct {
	Hash        Digest    `json:"hash"`
	BlockType   string    `json:"block_type"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Algorithm   Algorithm `json:"algorithm"`
}

// Length returns the source span covered by the block.
func (b *BlockHashInfo) Length() int {
	if b.EndOffset < b.StartOffset {
		return 0
	}
	return b.EndOffset - b.StartOffset
}
