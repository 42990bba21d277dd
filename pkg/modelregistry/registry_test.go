package modelregistry

import (
	"testing"

	"github.com/ragpipe/ragcore/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPreset() Preset {
	return Preset{
		Environment: config.EnvDev,
		Models: []ModelInfo{
			{ID: "simple-model", Provider: "sambanova", DenseDimension: 1024, PricePerMillionTokens: 0.2},
			{ID: "complex-model", Provider: "nebius", DenseDimension: 1024, PricePerMillionTokens: 0.8,
				EmitsReasoningTags: true},
			{ID: "embed-model", Provider: "jina", DenseDimension: 1536, PricePerMillionTokens: 0.1},
		},
		TaskModels: map[Task]string{
			TaskIntentDetection:         "simple-model",
			TaskAnswerGenerationSimple:  "simple-model",
			TaskAnswerGenerationComplex: "complex-model",
			TaskMetadataExtraction:      "simple-model",
			TaskCompression:             "simple-model",
		},
		Services: []ServiceEndpoint{
			{Name: "embedder", BaseURL: "http://embedder.internal"},
		},
	}
}

func TestNewSucceedsWithCompletePreset(t *testing.T) {
	r, err := New(validPreset())
	require.NoError(t, err)

	m, err := r.ModelForTask(TaskAnswerGenerationComplex)
	require.NoError(t, err)
	assert.Equal(t, "complex-model", m.ID)
	assert.NotNil(t, m.StripPattern())
}

func TestNewFailsOnMissingRequiredTask(t *testing.T) {
	preset := validPreset()
	delete(preset.TaskModels, TaskCompression)

	_, err := New(preset)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compression")
}

func TestNewFailsOnTaskReferencingUnknownModel(t *testing.T) {
	preset := validPreset()
	preset.TaskModels[TaskIntentDetection] = "does-not-exist"

	_, err := New(preset)
	require.Error(t, err)
}

func TestServiceLookup(t *testing.T) {
	r, err := New(validPreset())
	require.NoError(t, err)

	svc, err := r.Service("embedder")
	require.NoError(t, err)
	assert.Equal(t, "http://embedder.internal", svc.BaseURL)

	_, err = r.Service("unknown")
	assert.Error(t, err)
}

func TestEstimateCost(t *testing.T) {
	r, err := New(validPreset())
	require.NoError(t, err)

	m, err := r.Model("complex-model")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, m.EstimateCost(1_000_000), 1e-9)
}
