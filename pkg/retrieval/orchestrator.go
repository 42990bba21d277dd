package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ragpipe/ragcore/pkg/intent"
	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
	"github.com/ragpipe/ragcore/pkg/search"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

// DefaultConcurrency is the process-wide cap on simultaneous retrieval
// requests (§4.9, §5).
const DefaultConcurrency = 20

const apologyAnswer = "I couldn't find anything relevant to your question in the available documents."

// Citation is one source chunk cited in the generated answer.
type Citation struct {
	ChunkID    string
	DocumentID string
	Text       string
	Score      float64
}

// ContextChunk is one chunk handed to the answer-generation call, carrying
// the metadata fields the system prompt references alongside its text.
type ContextChunk struct {
	ChunkID   string
	Text      string
	Topics    string
	Keywords  string
	Summary   string
	Questions string
	Score     float64
}

// StageTiming records how long each stage of the pipeline took. Intent and
// Search run concurrently: the critical path they contribute is
// max(Intent, Search), not their sum (§4.9 "Timing").
type StageTiming struct {
	Intent     time.Duration
	Search     time.Duration
	Rerank     time.Duration
	Compress   time.Duration
	Answer     time.Duration
	Bottleneck string
}

// CriticalPath returns the wall-clock contribution of the parallel
// intent∥search stage, plus the sequential stages that follow it.
func (t StageTiming) CriticalPath() time.Duration {
	parallel := t.Intent
	if t.Search > parallel {
		parallel = t.Search
	}
	return parallel + t.Rerank + t.Compress + t.Answer
}

// Request is one retrieval call (POST /v1/retrieve's body, §6).
type Request struct {
	Query            string
	CollectionName   string
	TenantID         string
	Filter           vectorstore.Filter

	SearchTopK       int
	RerankTopK       int
	MaxContextChunks int

	UseMetadataBoost  bool
	BoostWeights      search.Weights
	EnableReranking   bool
	EnableCompression bool
	ScoreThreshold    float64
	CompressionRatio  float64

	EnableCitations bool
	ResponseStyle   intent.ResponseStyle
	ResponseFormat  intent.ResponseFormat
	Model           string
	Temperature     float64
	EmbeddingModel  string

	Stream   bool
	OnDelta  func(string)
}

// Result is the orchestrator's report (§6's POST /v1/retrieve response).
type Result struct {
	Success            bool
	Query              string
	Answer             string
	Citations          []Citation
	ContextChunks      []ContextChunk
	Stages             StageTiming
	TotalTime          time.Duration
	SearchResultsCount int
	RerankedCount      int
	CompressedCount    int
	ContextCount       int
	IntentResult       intent.Result
	IntentUsed         bool
}

const (
	defaultSearchTopK       = 10
	defaultRerankTopK       = 5
	defaultMaxContextChunks = 5
)

// Orchestrator wires C8 (intent) and C7 (search) together with optional
// rerank/compress stages and answer generation (C9, §4.9).
type Orchestrator struct {
	classifier *intent.Classifier
	searcher   *search.Searcher
	gw         *llmgateway.Gateway
	registry   *modelregistry.Registry
	reranker   Reranker
	compressor Compressor
	sem        *semaphore.Weighted
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency overrides the process-wide retrieval-request cap.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.sem = semaphore.NewWeighted(int64(n)) }
}

// WithReranker installs a reranker. Without one, EnableReranking requests
// are served by keeping search's own ordering.
func WithReranker(r Reranker) Option {
	return func(o *Orchestrator) { o.reranker = r }
}

// WithCompressor installs a compressor. Without one, EnableCompression
// requests are served by passing reranked hits through unchanged.
func WithCompressor(c Compressor) Option {
	return func(o *Orchestrator) { o.compressor = c }
}

// New builds an Orchestrator against the given collaborators.
func New(classifier *intent.Classifier, searcher *search.Searcher, gw *llmgateway.Gateway, registry *modelregistry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier: classifier,
		searcher:   searcher,
		gw:         gw,
		registry:   registry,
		sem:        semaphore.NewWeighted(DefaultConcurrency),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func validate(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return pipelineerr.NewInvalidArgument("retrieval.Retrieve", "query must not be empty")
	}
	if req.CollectionName == "" {
		return pipelineerr.NewInvalidArgument("retrieval.Retrieve", "collection_name must not be empty")
	}
	return nil
}

// Retrieve runs the full C9 sequence: intent∥search, rerank, compress,
// answer generation. Cancelling ctx (client disconnect) aborts every
// in-flight downstream call; no stage writes a cache entry from a
// partially-completed request.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (Result, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return Result{}, pipelineerr.NewTimeout("retrieval.Retrieve", err)
	}
	defer o.sem.Release(1)

	started := time.Now()
	if err := validate(req); err != nil {
		return Result{}, err
	}
	req = applyDefaults(req)

	var (
		intentResult intent.Result
		intentErr    error
		searchHits   []search.Hit
		searchErr    error
	)

	g, gctx := errgroup.WithContext(ctx)
	var intentElapsed, searchElapsed time.Duration

	g.Go(func() error {
		start := time.Now()
		res, err := o.classifier.Classify(gctx, intent.Request{
			Query:           req.Query,
			EnableCitations: req.EnableCitations,
			ResponseStyle:   req.ResponseStyle,
			ResponseFormat:  req.ResponseFormat,
		})
		intentElapsed = time.Since(start)
		intentResult, intentErr = res, err
		// Intent failure degrades to request defaults (§4.9 step 5); it
		// never fails the overall request.
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		hits, err := o.searcher.Search(gctx, search.Request{
			Query:            req.Query,
			CollectionName:   req.CollectionName,
			TenantID:         req.TenantID,
			Filter:           req.Filter,
			TopK:             req.SearchTopK,
			UseMetadataBoost: req.UseMetadataBoost,
			Weights:          req.BoostWeights,
			EmbeddingModel:   req.EmbeddingModel,
		})
		searchElapsed = time.Since(start)
		searchHits, searchErr = hits, err
		return err
	})

	if err := g.Wait(); err != nil {
		return Result{}, searchErr
	}

	stages := StageTiming{Intent: intentElapsed, Search: searchElapsed}

	if len(searchHits) == 0 {
		stages.Bottleneck = bottleneck(stages)
		return Result{
			Success:            false,
			Query:              req.Query,
			Answer:             apologyAnswer,
			Citations:          []Citation{},
			ContextChunks:      []ContextChunk{},
			Stages:             stages,
			TotalTime:          time.Since(started),
			SearchResultsCount: 0,
			IntentResult:       intentResult,
			IntentUsed:         intentErr == nil,
		}, nil
	}

	hits := searchHits
	rerankedCount := len(hits)
	if req.EnableReranking && o.reranker != nil {
		start := time.Now()
		reranked, err := o.reranker.Rerank(ctx, req.Query, hits)
		stages.Rerank = time.Since(start)
		if err != nil {
			return Result{}, err
		}
		if len(reranked) > req.RerankTopK {
			reranked = reranked[:req.RerankTopK]
		}
		hits = reranked
		rerankedCount = len(hits)
	} else if len(hits) > req.RerankTopK {
		hits = hits[:req.RerankTopK]
		rerankedCount = len(hits)
	}

	compressedCount := 0
	if req.EnableCompression && o.compressor != nil {
		start := time.Now()
		compressed, err := o.compressor.Compress(ctx, req.Query, hits, req.ScoreThreshold, req.CompressionRatio)
		stages.Compress = time.Since(start)
		if err != nil {
			return Result{}, err
		}
		hits = compressed
		compressedCount = len(hits)
	}

	// §9 Open Question 2: max_context_chunks is always the final hard cap
	// applied right before answer generation, on every branch.
	contextLimit := req.MaxContextChunks
	if !req.EnableCompression && contextLimit > req.RerankTopK {
		contextLimit = req.RerankTopK
	}
	if len(hits) > contextLimit {
		hits = hits[:contextLimit]
	}

	model := req.Model
	systemPrompt := defaultSystemPrompt(req)
	maxTokens := defaultMaxTokens
	if intentErr == nil {
		if model == "" {
			model = intentResult.RecommendedModel
		}
		systemPrompt = intentResult.SystemPrompt
		if intentResult.RecommendedMaxTokens > 0 {
			maxTokens = intentResult.RecommendedMaxTokens
		}
	} else {
		logger.FromContext(ctx).Warn("intent classification failed, using request defaults", "error", intentErr)
	}
	if model == "" {
		if m, err := o.registry.ModelForTask(modelregistry.TaskAnswerGenerationSimple); err == nil {
			model = m.ID
		}
	}

	contextChunks := buildContextChunks(hits)
	answerStart := time.Now()
	answer, err := o.generateAnswer(ctx, model, systemPrompt, maxTokens, req, contextChunks)
	stages.Answer = time.Since(answerStart)
	if err != nil {
		return Result{}, err
	}

	stages.Bottleneck = bottleneck(stages)

	var citations []Citation
	if req.EnableCitations {
		citations = buildCitations(hits)
	} else {
		citations = []Citation{}
	}

	return Result{
		Success:            true,
		Query:              req.Query,
		Answer:             answer,
		Citations:          citations,
		ContextChunks:      contextChunks,
		Stages:             stages,
		TotalTime:          time.Since(started),
		SearchResultsCount: len(searchHits),
		RerankedCount:      rerankedCount,
		CompressedCount:    compressedCount,
		ContextCount:       len(contextChunks),
		IntentResult:       intentResult,
		IntentUsed:         intentErr == nil,
	}, nil
}

const defaultMaxTokens = 1024

func defaultSystemPrompt(req Request) string {
	if req.EnableCitations {
		return "You are a retrieval-augmented assistant. Answer using only the provided context chunks and cite the source chunk for every claim."
	}
	return "You are a retrieval-augmented assistant. Answer using only the provided context chunks."
}

func applyDefaults(req Request) Request {
	if req.SearchTopK <= 0 {
		req.SearchTopK = defaultSearchTopK
	}
	if req.RerankTopK <= 0 {
		req.RerankTopK = defaultRerankTopK
	}
	if req.MaxContextChunks <= 0 {
		req.MaxContextChunks = defaultMaxContextChunks
	}
	if req.ScoreThreshold <= 0 {
		req.ScoreThreshold = 0
	}
	if req.CompressionRatio <= 0 || req.CompressionRatio > 1 {
		req.CompressionRatio = 0.5
	}
	return req
}

func bottleneck(t StageTiming) string {
	longest := "intent/search"
	max := t.Intent
	if t.Search > max {
		max = t.Search
	}
	if t.Rerank > max {
		max, longest = t.Rerank, "rerank"
	}
	if t.Compress > max {
		max, longest = t.Compress, "compress"
	}
	if t.Answer > max {
		max, longest = t.Answer, "answer"
	}
	return longest
}

func buildContextChunks(hits []search.Hit) []ContextChunk {
	out := make([]ContextChunk, len(hits))
	for i, h := range hits {
		out[i] = ContextChunk{
			ChunkID:   h.Chunk.ID,
			Text:      h.Chunk.Text,
			Topics:    h.Chunk.Topics,
			Keywords:  h.Chunk.Keywords,
			Summary:   h.Chunk.Summary,
			Questions: h.Chunk.Questions,
			Score:     h.FinalScore,
		}
	}
	return out
}

func buildCitations(hits []search.Hit) []Citation {
	out := make([]Citation, len(hits))
	for i, h := range hits {
		out[i] = Citation{
			ChunkID:    h.Chunk.ID,
			DocumentID: h.Chunk.DocumentID,
			Text:       h.Chunk.Text,
			Score:      h.FinalScore,
		}
	}
	return out
}

func (o *Orchestrator) generateAnswer(ctx context.Context, model, systemPrompt string, maxTokens int, req Request, chunks []ContextChunk) (string, error) {
	messages := []llmgateway.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildAnswerPrompt(req.Query, chunks)},
	}

	if req.Stream && req.OnDelta != nil {
		resp, err := o.gw.StreamChat(ctx, llmgateway.ChatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   maxTokens,
		}, req.OnDelta)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	resp, err := o.gw.Chat(ctx, llmgateway.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func buildAnswerPrompt(query string, chunks []ContextChunk) string {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] (chunk_id=%s)\n%s\n", i+1, c.ChunkID, c.Text)
		if c.Topics != "" {
			fmt.Fprintf(&b, "Topics: %s\n", c.Topics)
		}
		if c.Keywords != "" {
			fmt.Fprintf(&b, "Keywords: %s\n", c.Keywords)
		}
		if c.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", c.Summary)
		}
		if c.Questions != "" {
			fmt.Fprintf(&b, "Related questions: %s\n", c.Questions)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s\n", query)
	return b.String()
}
