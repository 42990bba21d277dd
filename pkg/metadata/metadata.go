// Package metadata extracts the seven structured metadata fields attached to
// every indexed chunk, by prompting the LLM gateway and then running the
// output through a mandatory post-processing pipeline: JSON repair,
// keyword/semantic-keyword deduplication, placeholder filtering, triplet
// validation, and per-field truncation.
package metadata

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ragpipe/ragcore/pkg/cache"
	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// Field length caps, in characters, per SPEC_FULL.md's data model.
const (
	capKeywords            = 500
	capTopics              = 500
	capQuestions           = 500
	capSummary             = 1000
	capSemanticKeywords    = 800
	capEntityRelationships = 1000
	capAttributes          = 1000

	// minChunkLength is the shortest chunk text eligible for extraction; a
	// shorter chunk yields an empty Fields record instead of an LLM call.
	minChunkLength = 10
	// maxBatchSize bounds how many chunks are issued to a single batch
	// dispatch; larger batches are split into multiple concurrent batches.
	maxBatchSize = 40
	// defaultConcurrency caps the process-wide number of in-flight
	// extraction calls to the gateway.
	defaultConcurrency = 20
)

// Fields holds the seven metadata strings attached to one chunk.
type Fields struct {
	Keywords            string `json:"keywords"`
	Topics              string `json:"topics"`
	Questions           string `json:"questions"`
	Summary             string `json:"summary"`
	SemanticKeywords    string `json:"semantic_keywords"`
	EntityRelationships string `json:"entity_relationships"`
	Attributes          string `json:"attributes"`
	// Failed is set on a record produced by a failed extraction within a
	// batch; the batch itself still succeeds.
	Failed bool `json:"-"`
}

// Options tunes the counts requested of the model per field.
type Options struct {
	KeywordsCount  int
	TopicsCount    int
	QuestionsCount int
	SummaryLength  int // approximate target sentence count
}

// SetDefaults fills zero-valued counts with sane defaults.
func (o *Options) SetDefaults() {
	if o.KeywordsCount <= 0 {
		o.KeywordsCount = 8
	}
	if o.TopicsCount <= 0 {
		o.TopicsCount = 3
	}
	if o.QuestionsCount <= 0 {
		o.QuestionsCount = 3
	}
	if o.SummaryLength <= 0 {
		o.SummaryLength = 2
	}
}

// cacheKey identifies one (text, options, model) extraction for
// caching purposes, per §4.4.
type cacheKey struct {
	textPrefix string
	textLen    int
	opts       Options
	model      string
}

// Extractor is the C4 component: it produces Fields for one chunk or a
// batch of chunks by calling the LLM gateway and applying the mandatory
// post-processing pipeline.
type Extractor struct {
	gw       *llmgateway.Gateway
	registry *modelregistry.Registry
	cache    *cache.Cache[cacheKey, Fields]
	sem      *semaphore.Weighted
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithConcurrency overrides the default process-wide call concurrency cap.
func WithConcurrency(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithCacheSize overrides the default cache size/TTL.
func WithCacheSize(size int, ttl time.Duration) Option {
	return func(e *Extractor) {
		c, err := cache.New[cacheKey, Fields](size, ttl)
		if err == nil {
			e.cache = c
		}
	}
}

// New builds an Extractor backed by gw, resolving the metadata-extraction
// model from registry.
func New(gw *llmgateway.Gateway, registry *modelregistry.Registry, opts ...Option) *Extractor {
	c, _ := cache.New[cacheKey, Fields](5000, time.Hour)
	e := &Extractor{
		gw:       gw,
		registry: registry,
		cache:    c,
		sem:      semaphore.NewWeighted(defaultConcurrency),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ModelID returns the model id resolved for metadata extraction, for
// callers that report which models served a request (§4.6 step 6).
func (e *Extractor) ModelID() (string, error) {
	model, err := e.registry.ModelForTask(modelregistry.TaskMetadataExtraction)
	if err != nil {
		return "", pipelineerr.NewInternal("metadata.ModelID", err)
	}
	return model.ID, nil
}

// Extract produces Fields for a single chunk of text. Chunks shorter than
// minChunkLength yield an empty record without calling the gateway.
func (e *Extractor) Extract(ctx context.Context, text string, opts Options) (Fields, error) {
	if len(text) < minChunkLength {
		return Fields{}, nil
	}
	opts.SetDefaults()

	model, err := e.registry.ModelForTask(modelregistry.TaskMetadataExtraction)
	if err != nil {
		return Fields{}, pipelineerr.NewInternal("metadata.Extract", err)
	}

	key := cacheKey{textPrefix: prefix(text, 128), textLen: len(text), opts: opts, model: model.ID}
	if cached, _, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Fields{}, pipelineerr.NewTimeout("metadata.Extract", err)
	}
	defer e.sem.Release(1)

	resp, err := e.gw.Chat(ctx, llmgateway.ChatRequest{
		Model:          model.ID,
		Messages:       buildPrompt(text, opts),
		Temperature:    0,
		MaxTokens:      800,
		ResponseFormat: "json_object",
	})
	if err != nil {
		logger.FromContext(ctx).Error("metadata extraction call failed", "error", err)
		return Fields{}, err
	}

	fields, err := parseAndClean(resp.Content)
	if err != nil {
		return Fields{}, err
	}

	e.cache.Put(key, fields)
	return fields, nil
}

// BatchResult is the outcome of a batch extraction: positionally aligned
// with the input chunk slice.
type BatchResult struct {
	Fields []Fields
	Failed int
}

// ExtractBatch runs Extract over chunks, partitioning into concurrent
// sub-batches of at most maxBatchSize and merging results back into an
// N-length, order-preserving slice. A single chunk's failure produces an
// empty-field record with Failed set; the batch overall still succeeds.
func (e *Extractor) ExtractBatch(ctx context.Context, chunks []string, opts Options) (BatchResult, error) {
	opts.SetDefaults()
	results := make([]Fields, len(chunks))

	type job struct {
		start, end int
	}
	var jobs []job
	for start := 0; start < len(chunks); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		jobs = append(jobs, job{start, end})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			for i := j.start; i < j.end; i++ {
				f, err := e.Extract(gctx, chunks[i], opts)
				if err != nil {
					results[i] = Fields{Failed: true}
					continue
				}
				results[i] = f
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	failed := 0
	for _, f := range results {
		if f.Failed {
			failed++
		}
	}
	return BatchResult{Fields: results, Failed: failed}, nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
