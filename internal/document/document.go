// Package document defines the shape this core consumes from the external
// parser: a document is an ordered list of sections, each an ordered list of
// blocks carrying normalizable text and a type tag. Nothing here depends on
// markdown syntax; the real parser lives outside this module.
package document

import "strings"

// Block types the core recognizes. The set is advisory: the tree treats the
// type as an opaque tag.
const (
	BlockHeading   = "heading"
	BlockParagraph = "paragraph"
	BlockCode      = "code"
)

// Block is the smallest individually hashed content unit.
type Block struct {
	Type        string
	Text        string
	StartOffset int
	EndOffset   int
}

// NormalizedText returns the text form that gets hashed: trailing whitespace
// stripped, line endings normalized to \n. Two blocks that differ only in
// trailing whitespace or CRLF produce the same hash.
func (b Block) NormalizedText() string {
	text := strings.ReplaceAll(b.Text, "\r\n", "\n")
	return strings.TrimRight(text, " \t\n")
}

// Section is an ordered group of blocks, the unit of incremental tree
// update.
type Section struct {
	Heading string
	Level   int
	Blocks  []Block
}

// Document is one parsed document. Path is the document identifier, always
// the kiln-relative path.
type Document struct {
	Path     string
	Sections []Section
}

// TotalBlocks returns the number of blocks across all sections.
func (d *Document) TotalBlocks() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Blocks)
	}
	return n
}

// IsEmpty reports whether the document has no blocks at all.
func (d *Document) IsEmpty() bool {
	return d.TotalBlocks() == 0
}
