package intent

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
	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
)

func newTestClassifier(t *testing.T, libraryJSON string, llmContent string) (*Classifier, string) {
	t.Helper()
	dir := t.TempDir()
	libPath := filepath.Join(dir, "pattern_library.json")
	require.NoError(t, os.WriteFile(libPath, []byte(libraryJSON), 0o644))
	store, err := NewLibraryStore(libPath)
	require.NoError(t, err)

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": llmContent}}},
			"usage":   map[string]int{"prompt_tokens": 1, "completion_tokens": 1},
		})
	}))
	t.Cleanup(llmSrv.Close)

	registry, err := modelregistry.New(modelregistry.Preset{
		Environment: config.EnvDev,
		Models:      []modelregistry.ModelInfo{{ID: "simple-model", Provider: "p"}, {ID: "complex-model", Provider: "p"}},
		TaskModels: map[modelregistry.Task]string{
			modelregistry.TaskAnswerGenerationSimple:  "simple-model",
			modelregistry.TaskAnswerGenerationComplex: "complex-model",
			modelregistry.TaskIntentDetection:         "simple-model",
			modelregistry.TaskMetadataExtraction:      "simple-model",
			modelregistry.TaskCompression:              "simple-model",
		},
		Services: []modelregistry.ServiceEndpoint{{Name: "p", BaseURL: llmSrv.URL}},
	})
	require.NoError(t, err)

	gw := llmgateway.New(registry, map[string]string{"p": "key"})
	return New(store, gw, registry, dir), dir
}

func TestClassifyUsesHighConfidencePatternDirectly(t *testing.T) {
	lib := `{"patterns":{"simple_lookup":{"priority":1,"description":"d","patterns":[
		{"regex":"what is the price of","confidence":0.95}
	]}}}`
	c, _ := newTestClassifier(t, lib, `{"intent":"factual_retrieval","confidence":0.5}`)

	result, err := c.Classify(context.Background(), Request{Query: "what is the price of this phone", EnableCitations: true})
	require.NoError(t, err)
	assert.Equal(t, SimpleLookup, result.Intent)
	assert.Equal(t, 1, result.Tier)
	assert.NotEmpty(t, result.SystemPrompt)
	assert.Equal(t, "simple-model", result.RecommendedModel)
}

func TestClassifyFallsBackToLLMOnNoPatternMatch(t *testing.T) {
	c, _ := newTestClassifier(t, `{"patterns":{}}`, `{"intent":"synthesis","language":"en","complexity":"complex","confidence":0.88}`)

	result, err := c.Classify(context.Background(), Request{Query: "tie together every mention of the warranty policy"})
	require.NoError(t, err)
	assert.Equal(t, Synthesis, result.Intent)
	assert.Equal(t, 2, result.Tier)
	assert.Equal(t, "complex-model", result.RecommendedModel)
}

func TestClassifyRejectsVeryLowConfidence(t *testing.T) {
	c, _ := newTestClassifier(t, `{"patterns":{}}`, `{"intent":"factual_retrieval","confidence":0.1}`)

	_, err := c.Classify(context.Background(), Request{Query: "asdf zxcv qwer"})
	require.Error(t, err)
}

func TestClassifyCoercesLowConfidenceToFactualRetrieval(t *testing.T) {
	c, _ := newTestClassifier(t, `{"patterns":{}}`, `{"intent":"synthesis","confidence":0.45}`)

	result, err := c.Classify(context.Background(), Request{Query: "some ambiguous query text"})
	require.NoError(t, err)
	assert.Equal(t, FactualRetrieval, result.Intent)
}

func TestClassifyMalformedJSONFallsBack(t *testing.T) {
	c, _ := newTestClassifier(t, `{"patterns":{}}`, `not json at all`)

	result, err := c.Classify(context.Background(), Request{Query: "some query"})
	require.NoError(t, err)
	assert.Equal(t, FactualRetrieval, result.Intent)
}

func TestStatsTracksMatchCounts(t *testing.T) {
	lib := `{"patterns":{"simple_lookup":{"priority":1,"description":"d","patterns":[
		{"regex":"what is the price of","confidence":0.95}
	]}}}`
	c, _ := newTestClassifier(t, lib, `{"intent":"factual_retrieval","confidence":0.5}`)

	_, err := c.Classify(context.Background(), Request{Query: "what is the price of this phone"})
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.MatchCountByIntent[SimpleLookup])
	assert.Equal(t, 1, stats.TotalPatterns)
}
