// Package ingestion drives the C3→C4∥embed→C5 pipeline: chunk a document,
// fan out metadata extraction and embedding concurrently, assemble the
// resulting records, and insert them into the vector store
// (SPEC_FULL.md §4.6).
package ingestion

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ragpipe/ragcore/pkg/chunking"
	"github.com/ragpipe/ragcore/pkg/embedder"
	"github.com/ragpipe/ragcore/pkg/metadata"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

const (
	// DefaultConcurrency is the process-wide cap on simultaneous ingestion
	// requests (§5).
	DefaultConcurrency = 10

	minTextLength = 1
	maxTextLength = 64 * 1024 // 64 KiB, matching the Chunk.Text bound in §3

	maxDocumentIDLength  = 256
	maxCollectionNameLen = 256
)

// StorageMode selects whether and how Insert happens.
type StorageMode string

const (
	StorageNone               StorageMode = "none"
	StorageNewCollection      StorageMode = "new_collection"
	StorageExistingCollection StorageMode = "existing"
)

// Request is one ingestion call (POST /v1/ingest's body, SPEC_FULL.md §6).
type Request struct {
	Text           string
	DocumentID     string
	CollectionName string
	TenantID       string

	ChunkingMethod chunking.Method
	MaxChunkSize   int
	ChunkOverlap   int
	Separators     []string
	HeadingLevels  []int
	Encoding       string

	GenerateMetadata bool
	MetadataOptions  metadata.Options

	GenerateEmbeddings bool
	EmbeddingModel     string

	StorageMode StorageMode
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Chunking  time.Duration
	Metadata  time.Duration
	Embedding time.Duration
	Storage   time.Duration
}

// Result is the orchestrator's report (§6's POST /v1/ingest response).
type Result struct {
	Success         bool
	DocumentID      string
	CollectionName  string
	ChunksCreated   int
	ChunksInserted  int
	ProcessingTime  time.Duration
	Stages          StageTiming
	MetadataModel   string
	EmbeddingModel  string
}

// Orchestrator wires C3, C4, the embedder, and C5 together.
type Orchestrator struct {
	store     vectorstore.Store
	metadata  *metadata.Extractor
	embedder  *embedder.Client
	sem       *semaphore.Weighted
	embedSem  *semaphore.Weighted
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency overrides the process-wide ingestion-request cap.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.sem = semaphore.NewWeighted(int64(n)) }
}

// WithEmbeddingConcurrency overrides the embedding-callers cap (§5, default 50).
func WithEmbeddingConcurrency(n int) Option {
	return func(o *Orchestrator) { o.embedSem = semaphore.NewWeighted(int64(n)) }
}

// New builds an Orchestrator against the given collaborators.
func New(store vectorstore.Store, meta *metadata.Extractor, embed *embedder.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		metadata: meta,
		embedder: embed,
		sem:      semaphore.NewWeighted(DefaultConcurrency),
		embedSem: semaphore.NewWeighted(50),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func validate(req Request) error {
	if len(req.Text) < minTextLength {
		return pipelineerr.NewInvalidArgument("ingestion.Ingest", "text must not be empty")
	}
	if len(req.Text) > maxTextLength {
		return pipelineerr.NewInvalidArgument("ingestion.Ingest", "text length %d exceeds maximum %d bytes", len(req.Text), maxTextLength)
	}
	if req.DocumentID == "" || len(req.DocumentID) > maxDocumentIDLength {
		return pipelineerr.NewInvalidArgument("ingestion.Ingest", "document_id must be non-empty and at most %d characters", maxDocumentIDLength)
	}
	if req.CollectionName == "" || len(req.CollectionName) > maxCollectionNameLen {
		return pipelineerr.NewInvalidArgument("ingestion.Ingest", "collection_name must be non-empty and at most %d characters", maxCollectionNameLen)
	}
	return nil
}

// Ingest runs the full pipeline for one document.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return Result{}, pipelineerr.NewTimeout("ingestion.Ingest", err)
	}
	defer o.sem.Release(1)

	started := time.Now()
	if err := validate(req); err != nil {
		return Result{}, err
	}

	cfg := chunking.Config{
		Method:        req.ChunkingMethod,
		Size:          req.MaxChunkSize,
		Overlap:       req.ChunkOverlap,
		Separators:    req.Separators,
		HeadingLevels: req.HeadingLevels,
		Encoding:      req.Encoding,
	}
	chunkStart := time.Now()
	chunks, err := chunking.Split(req.Text, cfg)
	if err != nil {
		return Result{}, err
	}
	chunkingElapsed := time.Since(chunkStart)
	if len(chunks) == 0 {
		return Result{}, pipelineerr.NewInternal("ingestion.Ingest", fmt.Errorf("no chunks survived post-filtering"))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	var (
		metaResult metadata.BatchResult
		vectors    [][]float32
		metaModel  string
	)

	metaElapsed := time.Duration(0)
	embedElapsed := time.Duration(0)

	g, gctx := errgroup.WithContext(ctx)

	if req.GenerateMetadata {
		if id, err := o.metadata.ModelID(); err == nil {
			metaModel = id
		}
		g.Go(func() error {
			start := time.Now()
			res, err := o.metadata.ExtractBatch(gctx, texts, req.MetadataOptions)
			metaElapsed = time.Since(start)
			if err != nil {
				return err
			}
			metaResult = res
			return nil
		})
	}

	if req.GenerateEmbeddings {
		g.Go(func() error {
			start := time.Now()
			v, err := o.embedAll(gctx, req.EmbeddingModel, texts)
			embedElapsed = time.Since(start)
			if err != nil {
				return err
			}
			vectors = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Per §4.6: embedding failure for the document fails the whole
		// operation; metadata failure is handled per-chunk below and never
		// reaches here (ExtractBatch itself does not fail the batch).
		return Result{}, pipelineerr.NewInternal("ingestion.Ingest", err)
	}

	records, err := assemble(chunks, metaResult, vectors, req)
	if err != nil {
		return Result{}, err
	}
	if len(records) == 0 {
		return Result{}, pipelineerr.NewInternal("ingestion.Ingest", fmt.Errorf("all chunks were skipped during assembly"))
	}

	storageStart := time.Now()
	inserted := 0
	if req.StorageMode != StorageNone {
		dim := 0
		if len(records) > 0 {
			dim = len(records[0].DenseVector)
		}
		autoCreate := req.StorageMode == StorageNewCollection
		if autoCreate {
			if err := o.store.EnsureCollection(ctx, req.CollectionName, dim, ""); err != nil {
				return Result{}, err
			}
		}
		if err := o.store.Insert(ctx, req.CollectionName, records, autoCreate); err != nil {
			return Result{}, err
		}
		inserted = len(records)
	}
	storageElapsed := time.Since(storageStart)

	return Result{
		Success:        true,
		DocumentID:     req.DocumentID,
		CollectionName: req.CollectionName,
		ChunksCreated:  len(chunks),
		ChunksInserted: inserted,
		ProcessingTime: time.Since(started),
		Stages: StageTiming{
			Chunking:  chunkingElapsed,
			Metadata:  metaElapsed,
			Embedding: embedElapsed,
			Storage:   storageElapsed,
		},
		MetadataModel:  metaModel,
		EmbeddingModel: req.EmbeddingModel,
	}, nil
}

// embedAll batches texts into groups of at most embedder.MaxBatchSize and
// issues all batches concurrently, bounded by the embedding-callers
// semaphore (§4.6, §5).
func (o *Orchestrator) embedAll(ctx context.Context, model string, texts []string) ([][]float32, error) {
	var batches [][]string
	for i := 0; i < len(texts); i += embedder.MaxBatchSize {
		end := i + embedder.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}

	results := make([][][]float32, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			if err := o.embedSem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer o.embedSem.Release(1)
			vecs, err := o.embedder.EmbedBatch(gctx, model, batch)
			if err != nil {
				return err
			}
			results[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// assemble combines chunk[i] ⊕ metadata[i] ⊕ vector[i] into vectorstore
// records, skipping chunks that have no resulting vector (§4.6 step 4).
func assemble(chunks []chunking.Chunk, metaResult metadata.BatchResult, vectors [][]float32, req Request) ([]vectorstore.Chunk, error) {
	records := make([]vectorstore.Chunk, 0, len(chunks))
	for i, ch := range chunks {
		var vec []float32
		if vectors != nil {
			if i >= len(vectors) || vectors[i] == nil {
				continue
			}
			vec = vectors[i]
		}

		var fields metadata.Fields
		if metaResult.Fields != nil && i < len(metaResult.Fields) {
			fields = metaResult.Fields[i]
		}

		records = append(records, vectorstore.Chunk{
			ID:                  fmt.Sprintf("%s_chunk_%04d", req.DocumentID, i),
			DocumentID:          req.DocumentID,
			ChunkIndex:          i,
			Text:                ch.Content,
			TenantID:            req.TenantID,
			CharCount:           len(ch.Content),
			Keywords:            fields.Keywords,
			Topics:              fields.Topics,
			Questions:           fields.Questions,
			Summary:             fields.Summary,
			SemanticKeywords:    fields.SemanticKeywords,
			EntityRelationships: fields.EntityRelationships,
			Attributes:          fields.Attributes,
			DenseVector:         vec,
		})
	}
	return records, nil
}
