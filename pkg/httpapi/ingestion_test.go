package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpipe/ragcore/pkg/config"
	"github.com/ragpipe/ragcore/pkg/embedder"
	"github.com/ragpipe/ragcore/pkg/ingestion"
	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/metadata"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

func newTestIngestionAPI(t *testing.T) (*IngestionAPI, *vectorstore.Memory) {
	t.Helper()

	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{1, 0, 0}, "index": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(embedSrv.Close)

	registry, err := modelregistry.New(modelregistry.Preset{
		Environment: config.EnvDev,
		Models:      []modelregistry.ModelInfo{{ID: "m", Provider: "p"}},
		TaskModels: map[modelregistry.Task]string{
			modelregistry.TaskIntentDetection:         "m",
			modelregistry.TaskAnswerGenerationSimple:  "m",
			modelregistry.TaskAnswerGenerationComplex: "m",
			modelregistry.TaskMetadataExtraction:      "m",
			modelregistry.TaskCompression:              "m",
		},
		Services: []modelregistry.ServiceEndpoint{{Name: "p", BaseURL: embedSrv.URL}},
	})
	require.NoError(t, err)

	gw := llmgateway.New(registry, map[string]string{"p": "key"})
	meta := metadata.New(gw, registry)
	embedClient := embedder.New(embedSrv.URL, "key")
	store := vectorstore.NewMemory()
	orch := ingestion.New(store, meta, embedClient)

	return NewIngestionAPI(orch, store), store
}

func newTestRouter(mounter routeMounter) http.Handler {
	r := chi.NewRouter()
	mounter.Routes(r)
	return r
}

func TestHandleIngestEndToEnd(t *testing.T) {
	api, store := newTestIngestionAPI(t)
	require.NoError(t, store.EnsureCollection(context.Background(), "docs", 3, ""))

	body, _ := json.Marshal(map[string]any{
		"text":                "The quick brown fox jumps over the lazy dog.",
		"document_id":         "doc-1",
		"collection_name":     "docs",
		"chunking_method":     "recursive",
		"max_chunk_size":      20,
		"generate_embeddings": true,
		"embedding_model":     "embed-model",
		"storage_mode":        "existing",
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(api).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ingestResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "doc-1", resp.DocumentID)
	assert.Greater(t, resp.ChunksCreated, 0)
	assert.Equal(t, resp.ChunksCreated, resp.ChunksInserted)
}

func TestHandleIngestRejectsMalformedJSON(t *testing.T) {
	api, _ := newTestIngestionAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	newTestRouter(api).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateAndDeleteCollection(t *testing.T) {
	api, store := newTestIngestionAPI(t)
	router := newTestRouter(api)

	body, _ := json.Marshal(map[string]any{"name": "c1", "dimension": 3})
	req := httptest.NewRequest(http.MethodPost, "/v1/collections", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, store.Insert(context.Background(), "c1", []vectorstore.Chunk{{ID: "ch1", DocumentID: "d1"}}, false))

	delReq := httptest.NewRequest(http.MethodDelete, "/v1/collections/c1", nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusOK, delRec.Code)

	_, err := store.Search(context.Background(), vectorstore.SearchRequest{Collection: "c1", Query: []float32{1, 0, 0}, Limit: 10})
	assert.Error(t, err)
}

func TestHandleCreateCollectionRejectsMissingDimension(t *testing.T) {
	api, _ := newTestIngestionAPI(t)

	body, _ := json.Marshal(map[string]any{"name": "c1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/collections", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(api).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteDocumentRequiresCollectionName(t *testing.T) {
	api, _ := newTestIngestionAPI(t)

	req := httptest.NewRequest(http.MethodDelete, "/v1/documents/doc-1", nil)
	rec := httptest.NewRecorder()
	newTestRouter(api).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdateDocument(t *testing.T) {
	api, store := newTestIngestionAPI(t)
	require.NoError(t, store.EnsureCollection(context.Background(), "docs", 3, ""))
	require.NoError(t, store.Insert(context.Background(), "docs", []vectorstore.Chunk{
		{ID: "ch1", DocumentID: "doc-1", Text: "old text"},
	}, false))

	body, _ := json.Marshal(map[string]any{"collection_name": "docs", "text": "new text"})
	req := httptest.NewRequest(http.MethodPut, "/v1/documents/doc-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(api).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["chunks_updated"])
}

func TestHandleHealthAndStats(t *testing.T) {
	api, _ := newTestIngestionAPI(t)
	router := newTestRouter(api)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	statsReq := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	statsRec := httptest.NewRecorder()
	router.ServeHTTP(statsRec, statsReq)
	assert.Equal(t, http.StatusOK, statsRec.Code)
}
