// Package chunking splits ingested document text into an ordered sequence
// of smaller, overlapping segments suitable for embedding and retrieval.
//
// Three methods are supported, selected per request: recursive separator
// splitting, markdown-header splitting, and exact-token splitting. All three
// share the same contract: same text plus same Config always yields the same
// Chunk sequence, in the same order, with no two calls ever disagreeing.
package chunking

import "github.com/ragpipe/ragcore/pkg/pipelineerr"

// Method selects the splitting strategy.
type Method string

const (
	MethodRecursive Method = "recursive"
	MethodMarkdown  Method = "markdown"
	MethodToken     Method = "token"
)

// DefaultSeparators is the priority-ordered separator list used by the
// recursive method when a request does not supply its own. Earlier entries
// bind first; the splitter only falls back to a later separator when a
// candidate segment still exceeds the target size.
var DefaultSeparators = []string{
	"\n## ", "\n### ", "\n# ", // markdown headers
	"\n---\n", "\n***\n", "\n___\n", // horizontal rules
	"\n\n", // paragraph breaks
	"\n",   // lines
	" ",    // spaces
	"",     // empty: hard character split, last resort
}

// DefaultHeadingLevels is the set of markdown heading depths the
// markdown-header method splits on when a request does not override it.
var DefaultHeadingLevels = []int{1, 2, 3}

// Config parameterizes a single chunking call.
type Config struct {
	Method Method

	// Size is the target chunk size. For Recursive and Markdown it is a
	// character count; for Token it is a token count.
	Size int
	// Overlap is the amount of trailing content repeated at the start of
	// the next chunk, in the same unit as Size.
	Overlap int

	// Separators overrides DefaultSeparators for the recursive method.
	Separators []string
	// HeadingLevels overrides DefaultHeadingLevels for the markdown method.
	HeadingLevels []int
	// Encoding names the tiktoken encoding used by the token method
	// (e.g. "cl100k_base"). Empty defaults to "cl100k_base".
	Encoding string
}

// SetDefaults fills zero-valued fields with the package defaults.
func (c *Config) SetDefaults() {
	if c.Size <= 0 {
		c.Size = 1000
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if len(c.Separators) == 0 {
		c.Separators = DefaultSeparators
	}
	if len(c.HeadingLevels) == 0 {
		c.HeadingLevels = DefaultHeadingLevels
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

// Validate rejects configs that can never produce a terminating split.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return pipelineerr.NewInvalidArgument("chunking.Validate", "size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return pipelineerr.NewInvalidArgument("chunking.Validate", "overlap must not be negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return pipelineerr.NewInvalidArgument("chunking.Validate", "overlap %d must be smaller than size %d", c.Overlap, c.Size)
	}
	switch c.Method {
	case MethodRecursive, MethodMarkdown, MethodToken, "":
	default:
		return pipelineerr.NewInvalidArgument("chunking.Validate", "unknown method %q", c.Method)
	}
	return nil
}

// Chunk is one segment produced by a splitter, positioned within the
// original text it was taken from.
type Chunk struct {
	Content string
	// Index is this chunk's zero-based position in the sequence; Total is
	// the sequence length. Both are filled in after the full split.
	Index int
	Total int
	// StartOffset and EndOffset are byte offsets into the source text.
	StartOffset int
	EndOffset   int
	// HeadingPath is the chain of markdown headings this chunk falls under
	// (e.g. "Introduction > Installation"). Empty outside the markdown method.
	HeadingPath string
}

// Chunker splits text into an ordered Chunk sequence under a fixed Config.
type Chunker interface {
	Chunk(text string) ([]Chunk, error)
	Method() Method
}

// New returns the Chunker implementing cfg.Method, defaulting to Recursive
// when Method is unset.
func New(cfg Config) (Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Method {
	case MethodMarkdown:
		return &markdownChunker{cfg: cfg}, nil
	case MethodToken:
		return newTokenChunker(cfg)
	case MethodRecursive, "":
		return &recursiveChunker{cfg: cfg}, nil
	default:
		return nil, pipelineerr.NewInvalidArgument("chunking.New", "unknown method %q", cfg.Method)
	}
}

// Split is the convenience entry point: build the Chunker for cfg and run it
// once. Most callers outside the chunking package itself should use this.
func Split(text string, cfg Config) ([]Chunk, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text)
}

// postFilter applies the keep/drop rule shared by all three methods: a
// candidate chunk survives iff non-empty after trimming, is not composed
// solely of separator punctuation, and either starts with '#' or contains
// at least five alphanumeric characters.
func postFilter(content string) bool {
	trimmed := trimSpaceAndPunct(content, false)
	if trimmed == "" {
		return false
	}
	if isAllSeparatorPunct(trimmed) {
		return false
	}
	if len(trimmed) > 0 && trimmed[0] == '#' {
		return true
	}
	return countAlnum(trimmed) >= 5
}

const separatorPunct = "-*_ \t\n"

func isAllSeparatorPunct(s string) bool {
	for _, r := range s {
		found := false
		for _, p := range separatorPunct {
			if r == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func countAlnum(s string) int {
	n := 0
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			n++
		}
	}
	return n
}

// trimSpaceAndPunct trims leading/trailing ASCII whitespace. The punctOnly
// flag is reserved for callers that additionally want separator punctuation
// trimmed; the post-filter only needs whitespace trimming.
func trimSpaceAndPunct(s string, punctOnly bool) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// finalize fills Index/Total on a completed sequence and drops anything
// that fails postFilter, preserving offsets from before the drop.
func finalize(chunks []Chunk) []Chunk {
	kept := chunks[:0:0]
	for _, c := range chunks {
		if postFilter(c.Content) {
			kept = append(kept, c)
		}
	}
	for i := range kept {
		kept[i].Index = i
		kept[i].Total = len(kept)
	}
	return kept
}
