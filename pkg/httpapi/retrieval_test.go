package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpipe/ragcore/pkg/config"
	"github.com/ragpipe/ragcore/pkg/embedder"
	"github.com/ragpipe/ragcore/pkg/intent"
	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/retrieval"
	"github.com/ragpipe/ragcore/pkg/search"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

func newTestRetrievalAPI(t *testing.T, answerContent string) (*RetrievalAPI, *vectorstore.Memory) {
	t.Helper()

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": answerContent}}},
			"usage":   map[string]int{"prompt_tokens": 1, "completion_tokens": 1},
		})
	}))
	t.Cleanup(llmSrv.Close)

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
		Services: []modelregistry.ServiceEndpoint{{Name: "p", BaseURL: llmSrv.URL}},
	})
	require.NoError(t, err)

	gw := llmgateway.New(registry, map[string]string{"p": "key"})

	dir := t.TempDir()
	libPath := filepath.Join(dir, "pattern_library.json")
	require.NoError(t, os.WriteFile(libPath, []byte(`{"patterns":{}}`), 0o644))
	libStore, err := intent.NewLibraryStore(libPath)
	require.NoError(t, err)
	classifier := intent.New(libStore, gw, registry, dir)

	vstore := vectorstore.NewMemory()
	embedClient := embedder.New(embedSrv.URL, "key")
	searcher := search.New(vstore, embedClient)
	orch := retrieval.New(classifier, searcher, gw, registry)

	return NewRetrievalAPI(orch, searcher, classifier), vstore
}

func TestHandleRetrieveSynchronous(t *testing.T) {
	api, store := newTestRetrievalAPI(t, "The answer is 42.")
	require.NoError(t, store.EnsureCollection(context.Background(), "docs", 3, ""))
	require.NoError(t, store.Insert(context.Background(), "docs", []vectorstore.Chunk{
		{ID: "ch1", DocumentID: "doc-1", Text: "the meaning of life is 42", DenseVector: []float32{1, 0, 0}},
	}, false))

	body, _ := json.Marshal(map[string]any{
		"query":           "what is the meaning of life",
		"collection_name": "docs",
		"embedding_model": "embed-model",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(api).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp retrieveResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "The answer is 42.", resp.Answer)
	assert.NotEmpty(t, resp.Bottleneck)
}

func TestHandleRetrieveStreamEmitsSSEFrames(t *testing.T) {
	api, store := newTestRetrievalAPI(t, "streamed answer")
	require.NoError(t, store.EnsureCollection(context.Background(), "docs", 3, ""))
	require.NoError(t, store.Insert(context.Background(), "docs", []vectorstore.Chunk{
		{ID: "ch1", DocumentID: "doc-1", Text: "streamed content", DenseVector: []float32{1, 0, 0}},
	}, false))

	srv := httptest.NewServer(newTestRouter(api))
	t.Cleanup(srv.Close)

	body, _ := json.Marshal(map[string]any{
		"query":           "streamed content",
		"collection_name": "docs",
		"embedding_model": "embed-model",
		"stream":          true,
	})
	resp, err := http.Post(srv.URL+"/v1/retrieve", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NotEmpty(t, frames)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])
}

func TestHandleAnalyze(t *testing.T) {
	api, _ := newTestRetrievalAPI(t, "unused")

	body, _ := json.Marshal(map[string]any{"query": "what is the capital of France"})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(api).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["intent"])
}

func TestHandleSearch(t *testing.T) {
	api, store := newTestRetrievalAPI(t, "unused")
	require.NoError(t, store.EnsureCollection(context.Background(), "docs", 3, ""))
	require.NoError(t, store.Insert(context.Background(), "docs", []vectorstore.Chunk{
		{ID: "ch1", DocumentID: "doc-1", Text: "quarterly revenue figures", Keywords: "revenue,quarterly", DenseVector: []float32{1, 0, 0}},
	}, false))

	body, _ := json.Marshal(map[string]any{
		"query_text": "quarterly revenue figures",
		"collection": "docs",
		"top_k":      5,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	newTestRouter(api).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["total_found"])
}

func TestHandleRetrievalHealthAndStats(t *testing.T) {
	api, _ := newTestRetrievalAPI(t, "unused")
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
