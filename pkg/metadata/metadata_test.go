package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpipe/ragcore/pkg/config"
	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
)

func newExtractorAgainst(t *testing.T, handler http.HandlerFunc) (*Extractor, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	registry, err := modelregistry.New(modelregistry.Preset{
		Environment: config.EnvDev,
		Models: []modelregistry.ModelInfo{
			{ID: "extract-model", Provider: "test-provider", DenseDimension: 8, PricePerMillionTokens: 1.0},
		},
		TaskModels: map[modelregistry.Task]string{
			modelregistry.TaskIntentDetection:         "extract-model",
			modelregistry.TaskAnswerGenerationSimple:  "extract-model",
			modelregistry.TaskAnswerGenerationComplex: "extract-model",
			modelregistry.TaskMetadataExtraction:      "extract-model",
			modelregistry.TaskCompression:              "extract-model",
		},
		Services: []modelregistry.ServiceEndpoint{{Name: "test-provider", BaseURL: server.URL}},
	})
	require.NoError(t, err)

	gw := llmgateway.New(registry, map[string]string{"test-provider": "key"})
	return New(gw, registry), server
}

func jsonResponder(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 20},
		})
	}
}

func TestExtractShortChunkSkipsCall(t *testing.T) {
	calls := 0
	e, server := newExtractorAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})
	defer server.Close()

	f, err := e.Extract(context.Background(), "short", Options{})
	require.NoError(t, err)
	assert.Equal(t, Fields{}, f)
	assert.Equal(t, 0, calls)
}

func TestExtractCallsGatewayAndCleans(t *testing.T) {
	content := `{"keywords":"Apple, iPhone","topics":"mobile","questions":"","summary":"","semantic_keywords":"apple","entity_relationships":"","attributes":""}`
	e, server := newExtractorAgainst(t, jsonResponder(content))
	defer server.Close()

	f, err := e.Extract(context.Background(), "this is a long enough chunk of text to extract from", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Apple, iPhone", f.Keywords)
	assert.Empty(t, f.SemanticKeywords, "apple must be deduped against keywords")
}

func TestExtractBatchPreservesOrderAndSkipsShort(t *testing.T) {
	content := `{"keywords":"x","topics":"","questions":"","summary":"","semantic_keywords":"","entity_relationships":"","attributes":""}`
	e, server := newExtractorAgainst(t, jsonResponder(content))
	defer server.Close()

	chunks := []string{
		"short",
		"this is a long enough chunk of text to extract metadata from",
		"tiny",
	}
	result, err := e.ExtractBatch(context.Background(), chunks, Options{})
	require.NoError(t, err)
	require.Len(t, result.Fields, 3)
	assert.Empty(t, result.Fields[0].Keywords)
	assert.Equal(t, "x", result.Fields[1].Keywords)
	assert.Empty(t, result.Fields[2].Keywords)
	assert.Equal(t, 0, result.Failed)
}

func TestExtractBatchMarksFailuresWithoutFailingWhole(t *testing.T) {
	e, server := newExtractorAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})
	defer server.Close()

	chunks := []string{"this is a long enough chunk of text to extract metadata from"}
	result, err := e.ExtractBatch(context.Background(), chunks, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.Fields[0].Failed)
}
