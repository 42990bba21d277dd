// Package llmgateway is the thin, provider-routed chat-completions proxy
// that every other component calls through (SPEC_FULL.md §4.2). It never
// picks models itself — callers resolve a modelregistry.Task to a model id
// first — it only routes, post-processes, caches, and observes the call.
package llmgateway

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ragpipe/ragcore/pkg/cache"
	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// Message is one OpenAI-compatible chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the gateway's input, independent of provider wire format.
type ChatRequest struct {
	Model          string
	Messages       []Message
	Temperature    float64
	MaxTokens      int
	ResponseFormat string // optional hint, e.g. "json_object"
	Stream         bool
}

// ChatResponse is the gateway's output after post-processing.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Model            string
	Provider         string
	Cost             float64
	Latency          time.Duration
	Cached           bool
	CacheAge         time.Duration
}

// Gateway routes chat-completion calls to the provider resolved by the
// model registry, strips reasoning tags, and caches non-streaming
// responses.
type Gateway struct {
	registry *modelregistry.Registry
	apiKeys  map[string]string // provider -> API key
	http     *http.Client
	cache    *cache.Cache[string, ChatResponse]
	observer Observer
}

// Observer receives one call per completed (non-cached) request, for
// Prometheus counters/histograms to hang off of.
type Observer interface {
	ObserveChatCompletion(provider, model string, latency time.Duration, promptTokens, completionTokens int, cost float64, err error)
}

// noopObserver is used when no Observer is configured.
type noopObserver struct{}

func (noopObserver) ObserveChatCompletion(string, string, time.Duration, int, int, float64, error) {}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the transport used to call provider endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.http = c }
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// WithCacheSize overrides the response cache's bound and TTL.
func WithCacheSize(size int, ttl time.Duration) Option {
	return func(g *Gateway) {
		c, err := cache.New[string, ChatResponse](size, ttl)
		if err == nil {
			g.cache = c
		}
	}
}

// New builds a Gateway. apiKeys maps provider name (as it appears in
// modelregistry.ModelInfo.Provider) to its API key.
func New(registry *modelregistry.Registry, apiKeys map[string]string, opts ...Option) *Gateway {
	defaultCache, _ := cache.New[string, ChatResponse](1000, time.Hour)
	g := &Gateway{
		registry: registry,
		apiKeys:  apiKeys,
		http:     &http.Client{Timeout: 120 * time.Second},
		cache:    defaultCache,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// openAICompatRequest is the wire shape shared by every modeled provider.
type openAICompatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type openAICompatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat resolves model, messages, temperature, and max_tokens through the
// response cache and, on miss, the provider's OpenAI-compatible
// chat-completions endpoint. Streaming requests always bypass the cache.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model, err := g.registry.Model(req.Model)
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInvalidArgument("llmgateway.Chat", "unknown model %q: %v", req.Model, err)
	}

	key := fingerprint(req)
	if !req.Stream {
		if cached, age, ok := g.cache.Get(key); ok {
			cached.Cached = true
			cached.CacheAge = age
			return cached, nil
		}
	}

	start := time.Now()
	resp, err := g.call(ctx, model, req)
	latency := time.Since(start)

	if err != nil {
		g.observer.ObserveChatCompletion(model.Provider, model.ID, latency, 0, 0, 0, err)
		logger.FromContext(ctx).Error("chat completion failed",
			"provider", model.Provider, "model", model.ID, "latency", latency, "error", err)
		return ChatResponse{}, err
	}

	if model.EmitsReasoningTags {
		if pattern := model.StripPattern(); pattern != nil {
			resp.Content = pattern.ReplaceAllString(resp.Content, "")
		}
	}

	resp.Model = model.ID
	resp.Provider = model.Provider
	resp.Latency = latency
	resp.Cost = model.EstimateCost(resp.PromptTokens + resp.CompletionTokens)

	g.observer.ObserveChatCompletion(model.Provider, model.ID, latency, resp.PromptTokens, resp.CompletionTokens, resp.Cost, nil)

	if !req.Stream {
		g.cache.Put(key, resp)
	}
	return resp, nil
}

// StreamChat issues req with stream=true against the provider's SSE
// chat-completions endpoint and invokes onDelta for every content fragment
// as it arrives. It never reads or writes the response cache. Returns the
// token-count totals the provider reports in its final chunk, if any.
func (g *Gateway) StreamChat(ctx context.Context, req ChatRequest, onDelta func(string)) (ChatResponse, error) {
	req.Stream = true
	model, err := g.registry.Model(req.Model)
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInvalidArgument("llmgateway.StreamChat", "unknown model %q: %v", req.Model, err)
	}

	endpoint, err := g.registry.Service(model.Provider)
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInvalidArgument("llmgateway.StreamChat", "no endpoint registered for provider %q: %v", model.Provider, err)
	}

	wireReq := struct {
		openAICompatRequest
		Stream bool `json:"stream"`
	}{
		openAICompatRequest: openAICompatRequest{
			Model:       model.ID,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
		Stream: true,
	}
	body, err := json.Marshal(wireReq)
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInternal("llmgateway.StreamChat", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInternal("llmgateway.StreamChat", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if apiKey := g.apiKeys[model.Provider]; apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	start := time.Now()
	httpResp, err := g.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, pipelineerr.NewTimeout("llmgateway.StreamChat", err)
		}
		return ChatResponse{}, pipelineerr.NewUnreachable("llmgateway.StreamChat", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		raw, _ := io.ReadAll(httpResp.Body)
		return ChatResponse{}, classifyProviderError(httpResp.StatusCode, raw)
	}

	var content string
	var prompt, completion int
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			prompt, completion = chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			content += c.Delta.Content
			onDelta(c.Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return ChatResponse{}, pipelineerr.NewUnreachable("llmgateway.StreamChat", err)
	}

	if model.EmitsReasoningTags {
		if pattern := model.StripPattern(); pattern != nil {
			content = pattern.ReplaceAllString(content, "")
		}
	}

	latency := time.Since(start)
	resp := ChatResponse{
		Content:          content,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Model:            model.ID,
		Provider:         model.Provider,
		Latency:          latency,
		Cost:             model.EstimateCost(prompt + completion),
	}
	g.observer.ObserveChatCompletion(model.Provider, model.ID, latency, prompt, completion, resp.Cost, nil)
	return resp, nil
}

func (g *Gateway) call(ctx context.Context, model *modelregistry.ModelInfo, req ChatRequest) (ChatResponse, error) {
	endpoint, err := g.registry.Service(model.Provider)
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInvalidArgument("llmgateway.call", "no endpoint registered for provider %q: %v", model.Provider, err)
	}
	apiKey := g.apiKeys[model.Provider]

	wireReq := openAICompatRequest{
		Model:       model.ID,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat != "" {
		wireReq.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: req.ResponseFormat}
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInternal("llmgateway.call", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInternal("llmgateway.call", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := g.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, pipelineerr.NewTimeout("llmgateway.call", err)
		}
		return ChatResponse{}, pipelineerr.NewUnreachable("llmgateway.call", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return ChatResponse{}, pipelineerr.NewInternal("llmgateway.call", err)
	}

	if httpResp.StatusCode >= 400 {
		return ChatResponse{}, classifyProviderError(httpResp.StatusCode, raw)
	}

	var wireResp openAICompatResponse
	if err := json.Unmarshal(raw, &wireResp); err != nil {
		return ChatResponse{}, pipelineerr.NewParseError("llmgateway.call", err)
	}
	if len(wireResp.Choices) == 0 {
		return ChatResponse{}, pipelineerr.NewUpstreamError("llmgateway.call", httpResp.StatusCode, fmt.Errorf("no choices returned"))
	}

	return ChatResponse{
		Content:          wireResp.Choices[0].Message.Content,
		PromptTokens:     wireResp.Usage.PromptTokens,
		CompletionTokens: wireResp.Usage.CompletionTokens,
	}, nil
}

// classifyProviderError maps a provider's HTTP status to the taxonomy in
// pkg/pipelineerr: 4xx propagates as the matching 4xx kind (§4.2), 5xx and
// timeouts collapse onto 503/504.
func classifyProviderError(status int, body []byte) error {
	const op = "llmgateway.call"
	err := fmt.Errorf("provider returned %d: %s", status, truncate(body, 200))

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return pipelineerr.NewInvalidArgument(op, "%v", err)
	case http.StatusUnauthorized:
		return pipelineerr.NewUnauthorized(op, "%v", err)
	case http.StatusForbidden:
		return pipelineerr.NewForbidden(op, "%v", err)
	case http.StatusNotFound:
		return pipelineerr.NewNotFound(op, "%v", err)
	case http.StatusTooManyRequests:
		return pipelineerr.NewRateLimited(op, err)
	case http.StatusGatewayTimeout:
		return pipelineerr.NewTimeout(op, err)
	default:
		if status >= 500 {
			return pipelineerr.NewUnreachable(op, err)
		}
		return pipelineerr.NewUpstreamError(op, status, err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// fingerprint derives the cache key from (model, messages, temperature,
// max_tokens), per §4.2.
func fingerprint(req ChatRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Model))
	for _, m := range req.Messages {
		h.Write([]byte(m.Role))
		h.Write([]byte(m.Content))
	}
	h.Write([]byte(strconv.FormatFloat(req.Temperature, 'f', -1, 64)))
	h.Write([]byte(strconv.Itoa(req.MaxTokens)))
	return hex.EncodeToString(h.Sum(nil))
}
