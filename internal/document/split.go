package document

import "strings"

// Split is a minimal stand-in for the external parser, used by tests and the
// CLI scan path. It starts a new section at every line beginning with '#'
// and splits blocks on blank lines. It is deliberately not a markdown
// parser: fenced code, lists and inline syntax are all treated as plain
// paragraphs.
func Split(path, content string) *Document {
	doc := &Document{Path: path}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return doc
	}

	var current *Section
	ensureSection := func(heading string, level int) *Section {
		doc.Sections = append(doc.Sections, Section{Heading: heading, Level: level})
		return &doc.Sections[len(doc.Sections)-1]
	}

	offset := 0
	for _, chunk := range strings.Split(content, "\n\n") {
		start := strings.Index(content[offset:], chunk) + offset
		end := start + len(chunk)
		offset = end

		text := strings.TrimSpace(chunk)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "#") {
			heading := strings.TrimLeft(text, "#")
			level := len(text) - len(heading)
			current = ensureSection(strings.TrimSpace(heading), level)
			current.Blocks = append(current.Blocks, Block{
				Type:        BlockHeading,
				Text:        text,
				StartOffset: start,
				EndOffset:   end,
			})
			continue
		}

		if current == nil {
			// Preamble before the first heading.
			current = ensureSection("", 0)
		}
		current.Blocks = append(current.Blocks, Block{
			Type:        BlockParagraph,
			Text:        text,
			StartOffset: start,
			EndOffset:   end,
		})
	}

	return doc
}
