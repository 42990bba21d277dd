package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/search"
)

// Compressor extracts the sentences of each hit relevant to query, below
// score_threshold is dropped outright and the remainder is shortened
// towards compressionRatio (§4.9 step 4).
type Compressor interface {
	Compress(ctx context.Context, query string, hits []search.Hit, scoreThreshold, compressionRatio float64) ([]search.Hit, error)
}

// LLMCompressor is an LLM-powered contextual compressor: for each
// surviving chunk it asks the resolved compression model to keep only the
// sentences relevant to the query.
type LLMCompressor struct {
	gw       *llmgateway.Gateway
	registry *modelregistry.Registry
}

// NewLLMCompressor builds a Compressor against gw, resolving
// modelregistry.TaskCompression for every call.
func NewLLMCompressor(gw *llmgateway.Gateway, registry *modelregistry.Registry) *LLMCompressor {
	return &LLMCompressor{gw: gw, registry: registry}
}

// Compress drops every hit scoring below scoreThreshold, then asks the
// compression model to extract the relevant sentences of each survivor,
// targeting roughly compressionRatio of the original length.
func (c *LLMCompressor) Compress(ctx context.Context, query string, hits []search.Hit, scoreThreshold, compressionRatio float64) ([]search.Hit, error) {
	survivors := make([]search.Hit, 0, len(hits))
	for _, h := range hits {
		if h.FinalScore >= scoreThreshold {
			survivors = append(survivors, h)
		}
	}
	if len(survivors) == 0 {
		return survivors, nil
	}

	model, err := c.registry.ModelForTask(modelregistry.TaskCompression)
	if err != nil {
		return nil, err
	}

	out := make([]search.Hit, len(survivors))
	copy(out, survivors)
	for i := range out {
		prompt := buildCompressionPrompt(query, out[i].Chunk.Text, compressionRatio)
		resp, err := c.gw.Chat(ctx, llmgateway.ChatRequest{
			Model:       model.ID,
			Messages:    []llmgateway.Message{{Role: "user", Content: prompt}},
			Temperature: 0,
			MaxTokens:   estimateCompressedTokens(out[i].Chunk.Text, compressionRatio),
		})
		if err != nil {
			return nil, err
		}
		compressed := strings.TrimSpace(resp.Content)
		if compressed != "" {
			out[i].Chunk.Text = compressed
		}
	}
	return out, nil
}

func buildCompressionPrompt(query, chunk string, ratio float64) string {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return fmt.Sprintf(
		"Extract only the sentences from the passage below that are relevant to the query. "+
			"Keep roughly %.0f%% of the original length. Return the extracted sentences verbatim, "+
			"with no commentary.\n\nQuery: %s\n\nPassage:\n%s",
		ratio*100, query, chunk)
}

// estimateCompressedTokens gives the compression call a generous but
// bounded budget: roughly one token per four characters of the target
// length, floored so short chunks still get a usable response.
func estimateCompressedTokens(chunk string, ratio float64) int {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	tokens := int(float64(len(chunk)) * ratio / 4)
	if tokens < 64 {
		tokens = 64
	}
	return tokens
}
