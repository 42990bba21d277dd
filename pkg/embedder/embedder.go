// Package embedder calls the external embedding service that turns chunk
// and query text into dense vectors (SPEC_FULL.md §4.6, §4.7). It is
// intentionally the thinnest possible HTTP client: unlike the LLM gateway
// it has no response cache (embeddings are keyed by caller-provided model
// and batched by the caller), but it shares the same retry/backoff
// transport as the rest of the outbound stack.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ragpipe/ragcore/pkg/httpclient"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// MaxBatchSize is the cap on texts sent per embeddings request (§4.6).
const MaxBatchSize = 100

// Client embeds text against an OpenAI-compatible embeddings endpoint.
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the retry-wrapped transport.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New builds a Client against baseURL (the service endpoint resolved from
// modelregistry) using apiKey for bearer auth.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		http:    httpclient.New(),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedBatch returns one dense vector per element of texts, in the same
// order, from a single request. It rejects more than MaxBatchSize texts;
// callers split larger inputs into batches themselves.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= MaxBatchSize {
		return c.embedOne(ctx, model, texts)
	}
	return nil, pipelineerr.NewInvalidArgument("embedder.EmbedBatch",
		"caller must split texts into batches of at most %d before calling EmbedBatch", MaxBatchSize)
}

// Embed returns the dense vector for a single query string (§4.7 step 1).
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := c.embedOne(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embedOne(ctx context.Context, model string, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, pipelineerr.NewInternal("embedder.embedOne", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, pipelineerr.NewInternal("embedder.embedOne", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pipelineerr.NewUnreachable("embedder.embedOne", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerr.NewInternal("embedder.embedOne", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, pipelineerr.NewUpstreamError("embedder.embedOne", resp.StatusCode, fmt.Errorf("%s", truncate(respBody, 500)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, pipelineerr.NewParseError("embedder.embedOne", err)
	}

	out := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index >= 0 && item.Index < len(out) {
			out[item.Index] = item.Embedding
		}
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
