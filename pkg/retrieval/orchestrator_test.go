package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpipe/ragcore/pkg/config"
	"github.com/ragpipe/ragcore/pkg/embedder"
	"github.com/ragpipe/ragcore/pkg/intent"
	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/search"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

func newTestOrchestrator(t *testing.T, answerContent string) (*Orchestrator, *vectorstore.Memory) {
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
		Models: []modelregistry.ModelInfo{
			{ID: "m", Provider: "p"},
		},
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
	store, err := intent.NewLibraryStore(libPath)
	require.NoError(t, err)
	classifier := intent.New(store, gw, registry, dir)

	vstore := vectorstore.NewMemory()
	embedClient := embedder.New(embedSrv.URL, "key")
	searcher := search.New(vstore, embedClient)

	return New(classifier, searcher, gw, registry), vstore
}

func TestRetrieveEmptyCollectionReturnsApology(t *testing.T) {
	o, store := newTestOrchestrator(t, "unused")
	require.NoError(t, store.EnsureCollection(context.Background(), "c_empty", 3, ""))

	result, err := o.Retrieve(context.Background(), Request{
		Query:          "unrelated nonsense quux",
		CollectionName: "c_empty",
		EmbeddingModel: "embed-model",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Answer, "couldn't find")
	assert.Empty(t, result.Citations)
	assert.Equal(t, 0, result.SearchResultsCount)
}

func TestRetrieveLiteralHitReturnsAnswer(t *testing.T) {
	o, store := newTestOrchestrator(t, "The price is $1199.")

	require.NoError(t, store.EnsureCollection(context.Background(), "c1", 3, ""))
	require.NoError(t, store.Insert(context.Background(), "c1", []vectorstore.Chunk{
		{ID: "iphone_doc_chunk_0000", DocumentID: "iphone_doc", TenantID: "t1", Text: "Apple iPhone 15 Pro Max. Price: $1199 USD.", DenseVector: []float32{1, 0, 0}},
	}, false))

	result, err := o.Retrieve(context.Background(), Request{
		Query:            "iPhone 15 Pro Max price",
		CollectionName:   "c1",
		TenantID:         "t1",
		EmbeddingModel:   "embed-model",
		EnableCitations:  true,
		UseMetadataBoost: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Answer, "1199")
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "iphone_doc_chunk_0000", result.Citations[0].ChunkID)
	assert.True(t, result.IntentUsed)
	assert.NotEmpty(t, result.Stages.Bottleneck)
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	o, _ := newTestOrchestrator(t, "unused")

	_, err := o.Retrieve(context.Background(), Request{Query: "", CollectionName: "c1"})
	require.Error(t, err)
}

func TestRetrieveAppliesMaxContextChunksCapWithoutCompression(t *testing.T) {
	o, store := newTestOrchestrator(t, "answer")

	require.NoError(t, store.EnsureCollection(context.Background(), "c1", 3, ""))
	chunks := make([]vectorstore.Chunk, 8)
	for i := range chunks {
		chunks[i] = vectorstore.Chunk{
			ID:          "doc_chunk_000" + string(rune('0'+i)),
			DocumentID:  "doc",
			TenantID:    "t1",
			Text:        "some matching content about widgets",
			DenseVector: []float32{1, 0, 0},
		}
	}
	require.NoError(t, store.Insert(context.Background(), "c1", chunks, false))

	result, err := o.Retrieve(context.Background(), Request{
		Query:            "widgets",
		CollectionName:   "c1",
		TenantID:         "t1",
		EmbeddingModel:   "embed-model",
		SearchTopK:       8,
		RerankTopK:       6,
		MaxContextChunks: 2,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, result.ContextCount, 2)
}
