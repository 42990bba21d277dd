package chunking

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// tokenChunker splits at exact token boundaries under a named tiktoken
// encoding.
type tokenChunker struct {
	cfg      Config
	encoding *tiktoken.Tiktoken
}

func newTokenChunker(cfg Config) (*tokenChunker, error) {
	enc, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, pipelineerr.NewInternal("chunking.newTokenChunker", fmt.Errorf("load encoding %q: %w", cfg.Encoding, err))
		}
	}
	return &tokenChunker{cfg: cfg, encoding: enc}, nil
}

func (t *tokenChunker) Method() Method { return MethodToken }

func (t *tokenChunker) Chunk(text string) ([]Chunk, error) {
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	step := t.cfg.Size - t.cfg.Overlap
	if step <= 0 {
		step = t.cfg.Size
	}

	var chunks []Chunk
	for start := 0; start < len(tokens); start += step {
		end := start + t.cfg.Size
		if end > len(tokens) {
			end = len(tokens)
		}
		content := t.encoding.Decode(tokens[start:end])
		chunks = append(chunks, Chunk{Content: content})
		if end == len(tokens) {
			break
		}
	}
	return finalize(chunks), nil
}
