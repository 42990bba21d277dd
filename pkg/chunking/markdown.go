package chunking

import "strings"

// markdownChunker splits at the configured heading levels and attaches the
// active heading path to every chunk produced from that section. Sections
// that still exceed cfg.Size after a heading split are recursively
// subdivided with the non-header separators from the recursive method,
// keeping the same heading path on every sub-chunk.
type markdownChunker struct {
	cfg Config
}

func (m *markdownChunker) Method() Method { return MethodMarkdown }

type mdSection struct {
	heading     string // "" for content preceding the first matched heading
	level       int
	path        string
	content     string
	startOffset int
}

func (m *markdownChunker) Chunk(text string) ([]Chunk, error) {
	sections := splitMarkdownSections(text, m.cfg.HeadingLevels)

	bodySeparators := nonHeaderSeparators(m.cfg.Separators)

	var all []Chunk
	for _, sec := range sections {
		pieces := splitRecursive(sec.content, bodySeparators, m.cfg.Size)
		merged := mergeWithOverlap(pieces, m.cfg.Size, m.cfg.Overlap)
		for _, c := range offsetChunks(sec.content, merged) {
			all = append(all, Chunk{
				Content:     c.Content,
				StartOffset: sec.startOffset + c.StartOffset,
				EndOffset:   sec.startOffset + c.EndOffset,
				HeadingPath: sec.path,
			})
		}
	}
	return finalize(all), nil
}

// splitMarkdownSections walks text line by line, opening a new section at
// every line whose heading depth is in levels, and threading a '>'-joined
// heading path through a per-depth stack.
func splitMarkdownSections(text string, levels []int) []mdSection {
	allowed := make(map[int]bool, len(levels))
	maxLevel := 0
	for _, l := range levels {
		allowed[l] = true
		if l > maxLevel {
			maxLevel = l
		}
	}

	var sections []mdSection
	stack := make([]string, 0, maxLevel)

	lines := strings.SplitAfter(text, "\n")
	offset := 0
	var curContent strings.Builder
	curHeading, curPath := "", ""
	curStart := 0

	flush := func() {
		if curContent.Len() == 0 {
			return
		}
		sections = append(sections, mdSection{
			heading:     curHeading,
			path:        curPath,
			content:     curContent.String(),
			startOffset: curStart,
		})
		curContent.Reset()
	}

	for _, line := range lines {
		level, title, ok := headingDepth(line)
		if ok && allowed[level] {
			flush()
			if level-1 > len(stack) {
				level = len(stack) + 1
			}
			stack = append(stack[:level-1], title)
			curPath = strings.Join(stack, " > ")
			curHeading = title
			curStart = offset
		} else if curContent.Len() == 0 {
			curStart = offset
		}
		curContent.WriteString(line)
		offset += len(line)
	}
	flush()
	return sections
}

// headingDepth reports the ATX heading depth of line (count of leading '#'
// followed by a space) and its title text, or ok=false if line is not a
// heading.
func headingDepth(line string) (level int, title string, ok bool) {
	trimmed := strings.TrimLeft(line, "\n")
	trimmed = strings.TrimRight(trimmed, "\n")
	if !strings.HasPrefix(trimmed, "#") {
		return 0, "", false
	}
	i := 0
	for i < len(trimmed) && trimmed[i] == '#' {
		i++
	}
	if i == 0 || i > 6 || i >= len(trimmed) || trimmed[i] != ' ' {
		return 0, "", false
	}
	return i, strings.TrimSpace(trimmed[i+1:]), true
}

func nonHeaderSeparators(separators []string) []string {
	out := make([]string, 0, len(separators))
	for _, s := range separators {
		if strings.Contains(s, "#") {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		out = []string{"\n\n", "\n", " ", ""}
	}
	return out
}
