// Package retrieval implements C9: it drives a query through intent
// classification (C8) run in parallel with metadata-boosted search (C7),
// then an optional rerank stage, an optional compression stage, and
// answer generation (SPEC_FULL.md §4.9).
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/ragpipe/ragcore/pkg/httpclient"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
	"github.com/ragpipe/ragcore/pkg/search"
)

// Reranker scores hits against a query using a cross-encoder model and
// returns them re-ordered. The reranking model runs behind its own
// HTTP-accessible service (§1's "assumed available via documented
// request/response shapes"), distinct from the chat-completions shape the
// LLM gateway speaks.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []search.Hit) ([]search.Hit, error)
}

// HTTPReranker calls a BGE-style cross-encoder reranking endpoint:
// POST {query, documents[]} -> {scores[]}, one score per input document in
// the same order.
type HTTPReranker struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
}

// NewHTTPReranker builds a reranker client against baseURL (the "reranker"
// service endpoint resolved from modelregistry).
func NewHTTPReranker(baseURL, apiKey string) *HTTPReranker {
	return &HTTPReranker{http: httpclient.New(), baseURL: baseURL, apiKey: apiKey}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank sends every hit's chunk text to the cross-encoder and sorts hits
// by the returned scores, descending. Callers keep only the top
// rerank_top_k entries of the result.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, hits []search.Hit) ([]search.Hit, error) {
	if len(hits) == 0 {
		return hits, nil
	}

	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Chunk.Text
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs})
	if err != nil {
		return nil, pipelineerr.NewInternal("retrieval.Rerank", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, pipelineerr.NewInternal("retrieval.Rerank", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, pipelineerr.NewUnreachable("retrieval.Rerank", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerr.NewInternal("retrieval.Rerank", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pipelineerr.NewUpstreamError("retrieval.Rerank", resp.StatusCode, fmt.Errorf("%s", raw))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, pipelineerr.NewParseError("retrieval.Rerank", err)
	}
	if len(parsed.Scores) != len(hits) {
		return nil, pipelineerr.NewUpstreamError("retrieval.Rerank", resp.StatusCode, fmt.Errorf("reranker returned %d scores for %d documents", len(parsed.Scores), len(hits)))
	}

	reranked := make([]search.Hit, len(hits))
	copy(reranked, hits)
	for i := range reranked {
		reranked[i].FinalScore = parsed.Scores[i]
	}
	sort.Slice(reranked, func(i, j int) bool { return reranked[i].FinalScore > reranked[j].FinalScore })
	return reranked, nil
}
