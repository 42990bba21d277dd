package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpipe/ragcore/pkg/config"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
)

func testRegistry(t *testing.T) *modelregistry.Registry {
	t.Helper()
	registry, err := modelregistry.New(modelregistry.Preset{
		Environment: config.EnvDev,
		Models: []modelregistry.ModelInfo{
			{ID: "simple-model", Provider: "p"},
			{ID: "complex-model", Provider: "p"},
		},
		TaskModels: map[modelregistry.Task]string{
			modelregistry.TaskAnswerGenerationSimple:  "simple-model",
			modelregistry.TaskAnswerGenerationComplex: "complex-model",
			modelregistry.TaskIntentDetection:         "simple-model",
			modelregistry.TaskMetadataExtraction:      "simple-model",
			modelregistry.TaskCompression:             "simple-model",
		},
		Services: []modelregistry.ServiceEndpoint{{Name: "p", BaseURL: "http://example.invalid"}},
	})
	require.NoError(t, err)
	return registry
}

func TestRecommendModelPicksComplexForAnalyticalIntents(t *testing.T) {
	registry := testRegistry(t)
	model, err := RecommendModel(registry, Synthesis)
	require.NoError(t, err)
	assert.Equal(t, "complex-model", model)

	model, err = RecommendModel(registry, SimpleLookup)
	require.NoError(t, err)
	assert.Equal(t, "simple-model", model)
}

func TestRecommendMaxTokens(t *testing.T) {
	assert.Equal(t, 512, RecommendMaxTokens(YesNo))
	assert.Equal(t, 512, RecommendMaxTokens(SimpleLookup))
	assert.Equal(t, 3072, RecommendMaxTokens(ListEnumeration))
	assert.Equal(t, 2048, RecommendMaxTokens(Comparison))
	assert.Equal(t, 1024, RecommendMaxTokens(FactualRetrieval))
}

func TestValidateResponseStyleUpgradesConciseOnAnalyticalIntent(t *testing.T) {
	style, overridden := ValidateResponseStyle(Comparison, StyleConcise)
	assert.Equal(t, StyleBalanced, style)
	assert.True(t, overridden)

	style, overridden = ValidateResponseStyle(SimpleLookup, StyleConcise)
	assert.Equal(t, StyleConcise, style)
	assert.False(t, overridden)
}

func TestValidateResponseStyleDefaultsWhenUnset(t *testing.T) {
	style, overridden := ValidateResponseStyle(YesNo, "")
	assert.Equal(t, StyleConcise, style)
	assert.False(t, overridden)
}
