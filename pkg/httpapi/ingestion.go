package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ragpipe/ragcore/pkg/chunking"
	"github.com/ragpipe/ragcore/pkg/ingestion"
	"github.com/ragpipe/ragcore/pkg/metadata"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

// ingestStats tracks the counters behind GET /v1/stats on the ingestion
// surface (§6, supplemented): requests served and chunks created/inserted,
// mirroring the cheap always-on counters C8 already exposes for its own
// stats endpoint.
type ingestStats struct {
	requests       atomic.Int64
	failures       atomic.Int64
	chunksCreated  atomic.Int64
	chunksInserted atomic.Int64
}

// IngestionAPI wires C3-C6 into chi routes for the ingestion HTTP surface.
type IngestionAPI struct {
	orchestrator *ingestion.Orchestrator
	store        vectorstore.Store
	stats        ingestStats
}

// NewIngestionAPI returns an IngestionAPI backed by orchestrator and store.
func NewIngestionAPI(orchestrator *ingestion.Orchestrator, store vectorstore.Store) *IngestionAPI {
	return &IngestionAPI{orchestrator: orchestrator, store: store}
}

// Routes mounts the ingestion endpoints onto r.
func (a *IngestionAPI) Routes(r chi.Router) {
	r.Post("/v1/ingest", a.handleIngest)
	r.Post("/v1/collections", a.handleCreateCollection)
	r.Delete("/v1/collections/{name}", a.handleDeleteCollection)
	r.Put("/v1/documents/{id}", a.handleUpdateDocument)
	r.Delete("/v1/documents/{id}", a.handleDeleteDocument)
	r.Get("/health", a.handleHealth)
	r.Get("/v1/stats", a.handleStats)
}

type ingestRequestBody struct {
	Text           string   `json:"text"`
	DocumentID     string   `json:"document_id"`
	CollectionName string   `json:"collection_name"`
	TenantID       string   `json:"tenant_id"`
	ChunkingMethod string   `json:"chunking_method"`
	MaxChunkSize   int      `json:"max_chunk_size"`
	ChunkOverlap   int      `json:"chunk_overlap"`
	Separators     []string `json:"separators"`
	MarkdownLevels []int    `json:"markdown_headers"`
	Encoding       string   `json:"encoding"`

	GenerateMetadata bool `json:"generate_metadata"`
	KeywordsCount    int  `json:"keywords_count"`
	TopicsCount      int  `json:"topics_count"`
	QuestionsCount   int  `json:"questions_count"`
	SummaryLength    int  `json:"summary_length"`

	GenerateEmbeddings bool   `json:"generate_embeddings"`
	EmbeddingModel     string `json:"embedding_model"`

	StorageMode string `json:"storage_mode"`
}

type stageTimingBody struct {
	ChunkingMS  int64 `json:"chunking_ms"`
	MetadataMS  int64 `json:"metadata_ms"`
	EmbeddingMS int64 `json:"embeddings_ms"`
	StorageMS   int64 `json:"storage_ms"`
}

type ingestResponseBody struct {
	Success          bool            `json:"success"`
	DocumentID       string          `json:"document_id"`
	CollectionName   string          `json:"collection_name"`
	ChunksCreated    int             `json:"chunks_created"`
	ChunksInserted   int             `json:"chunks_inserted"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
	Stages           stageTimingBody `json:"stages"`
}

func (a *IngestionAPI) handleIngest(w http.ResponseWriter, r *http.Request) {
	a.stats.requests.Add(1)

	var body ingestRequestBody
	if err := decodeJSON(r, &body); err != nil {
		a.stats.failures.Add(1)
		writeError(w, err)
		return
	}

	req := ingestion.Request{
		Text:           body.Text,
		DocumentID:     body.DocumentID,
		CollectionName: body.CollectionName,
		TenantID:       body.TenantID,
		ChunkingMethod: chunking.Method(body.ChunkingMethod),
		MaxChunkSize:   body.MaxChunkSize,
		ChunkOverlap:   body.ChunkOverlap,
		Separators:     body.Separators,
		HeadingLevels:  body.MarkdownLevels,
		Encoding:       body.Encoding,

		GenerateMetadata: body.GenerateMetadata,
		MetadataOptions: metadata.Options{
			KeywordsCount:  body.KeywordsCount,
			TopicsCount:    body.TopicsCount,
			QuestionsCount: body.QuestionsCount,
			SummaryLength:  body.SummaryLength,
		},

		GenerateEmbeddings: body.GenerateEmbeddings,
		EmbeddingModel:     body.EmbeddingModel,

		StorageMode: ingestion.StorageMode(body.StorageMode),
	}

	result, err := a.orchestrator.Ingest(r.Context(), req)
	if err != nil {
		a.stats.failures.Add(1)
		writeError(w, err)
		return
	}

	a.stats.chunksCreated.Add(int64(result.ChunksCreated))
	a.stats.chunksInserted.Add(int64(result.ChunksInserted))

	writeJSON(w, http.StatusOK, ingestResponseBody{
		Success:          result.Success,
		DocumentID:       result.DocumentID,
		CollectionName:   result.CollectionName,
		ChunksCreated:    result.ChunksCreated,
		ChunksInserted:   result.ChunksInserted,
		ProcessingTimeMS: result.ProcessingTime.Milliseconds(),
		Stages: stageTimingBody{
			ChunkingMS:  result.Stages.Chunking.Milliseconds(),
			MetadataMS:  result.Stages.Metadata.Milliseconds(),
			EmbeddingMS: result.Stages.Embedding.Milliseconds(),
			StorageMS:   result.Stages.Storage.Milliseconds(),
		},
	})
}

type createCollectionBody struct {
	Name        string `json:"name"`
	Dimension   int    `json:"dimension"`
	Description string `json:"description"`
}

func (a *IngestionAPI) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var body createCollectionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" || body.Dimension <= 0 {
		writeError(w, pipelineerr.NewInvalidArgument("httpapi.handleCreateCollection", "name and a positive dimension are required"))
		return
	}
	if err := a.store.EnsureCollection(r.Context(), body.Name, body.Dimension, body.Description); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "name": body.Name})
}

func (a *IngestionAPI) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.store.DropCollection(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": name})
}

type updateDocumentBody struct {
	CollectionName string `json:"collection_name"`
	TenantID       string `json:"tenant_id"`
	Text           string `json:"text"`
}

func (a *IngestionAPI) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body updateDocumentBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.CollectionName == "" {
		writeError(w, pipelineerr.NewInvalidArgument("httpapi.handleUpdateDocument", "collection_name is required"))
		return
	}

	filter := vectorstore.Filter{Conditions: []vectorstore.Condition{{Field: "document_id", Op: vectorstore.OpEq, Value: id}}}
	n, err := a.store.Update(r.Context(), body.CollectionName, filter, body.TenantID, func(c *vectorstore.Chunk) {
		c.Text = body.Text
		c.CharCount = len(body.Text)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "document_id": id, "chunks_updated": n})
}

func (a *IngestionAPI) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	collectionName := r.URL.Query().Get("collection_name")
	if collectionName == "" {
		writeError(w, pipelineerr.NewInvalidArgument("httpapi.handleDeleteDocument", "collection_name query parameter is required"))
		return
	}

	filter := vectorstore.Filter{Conditions: []vectorstore.Condition{{Field: "document_id", Op: vectorstore.OpEq, Value: id}}}
	n, err := a.store.DeleteByFilter(r.Context(), collectionName, filter, r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "document_id": id, "chunks_deleted": n})
}

func (a *IngestionAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (a *IngestionAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"requests_served": a.stats.requests.Load(),
		"failures":        a.stats.failures.Load(),
		"chunks_created":  a.stats.chunksCreated.Load(),
		"chunks_inserted": a.stats.chunksInserted.Load(),
	})
}
