package chunking

import "strings"

// recursiveChunker implements the priority-ordered separator splitter: it
// tries the highest-priority separator in cfg.Separators first, and only
// descends to a lower-priority one for a candidate segment that still
// exceeds cfg.Size after splitting on the current one.
type recursiveChunker struct {
	cfg Config
}

func (r *recursiveChunker) Method() Method { return MethodRecursive }

func (r *recursiveChunker) Chunk(text string) ([]Chunk, error) {
	segments := splitRecursive(text, r.cfg.Separators, r.cfg.Size)
	merged := mergeWithOverlap(segments, r.cfg.Size, r.cfg.Overlap)
	return finalize(offsetChunks(text, merged)), nil
}

// splitRecursive returns raw text segments, each as close to size as the
// separator list allows, by descending the separator priority list only
// where needed.
func splitRecursive(text string, separators []string, size int) []string {
	if len(text) <= size || len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]

	var parts []string
	if sep == "" {
		// Last resort: hard split on rune boundaries.
		parts = hardSplit(text, size)
	} else {
		parts = strings.Split(text, sep)
		for i := 0; i < len(parts)-1; i++ {
			parts[i] += sep
		}
	}

	var out []string
	for _, p := range parts {
		if len(p) <= size || len(rest) == 0 {
			out = append(out, p)
			continue
		}
		out = append(out, splitRecursive(p, rest, size)...)
	}
	return out
}

func hardSplit(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// mergeWithOverlap greedily packs consecutive segments into chunks no
// larger than size, repeating up to overlap bytes of trailing content from
// the previous chunk at the start of the next one.
func mergeWithOverlap(segments []string, size, overlap int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunks = append(chunks, cur.String())
		cur.Reset()
	}

	for _, seg := range segments {
		if cur.Len() > 0 && cur.Len()+len(seg) > size {
			full := cur.String()
			flush()
			if overlap > 0 {
				cur.WriteString(tailBytes(full, overlap))
			}
		}
		cur.WriteString(seg)
	}
	flush()
	return chunks
}

func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// offsetChunks locates each merged chunk's first occurrence in text,
// searching forward from the previous match so repeated content does not
// confuse offset tracking.
func offsetChunks(text string, contents []string) []Chunk {
	chunks := make([]Chunk, 0, len(contents))
	cursor := 0
	for _, content := range contents {
		idx := strings.Index(text[cursor:], content)
		start := cursor
		if idx >= 0 {
			start = cursor + idx
		}
		end := start + len(content)
		chunks = append(chunks, Chunk{Content: content, StartOffset: start, EndOffset: end})
		if end > cursor {
			cursor = end
		}
	}
	return chunks
}
