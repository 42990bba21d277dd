package llmgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ragpipe/ragcore/pkg/config"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, providerURL string) *modelregistry.Registry {
	t.Helper()
	r, err := modelregistry.New(modelregistry.Preset{
		Environment: config.EnvDev,
		Models:      testModels(),
		TaskModels: map[modelregistry.Task]string{
			modelregistry.TaskIntentDetection:          "simple-model",
			modelregistry.TaskAnswerGenerationSimple:   "simple-model",
			modelregistry.TaskAnswerGenerationComplex:  "reasoning-model",
			modelregistry.TaskMetadataExtraction:       "simple-model",
			modelregistry.TaskCompression:              "simple-model",
		},
		Services: []modelregistry.ServiceEndpoint{
			{Name: "test-provider", BaseURL: providerURL},
		},
	})
	require.NoError(t, err)
	return r
}

func testModels() []modelregistry.ModelInfo {
	return []modelregistry.ModelInfo{
		{ID: "simple-model", Provider: "test-provider", DenseDimension: 8, PricePerMillionTokens: 1.0},
		{ID: "reasoning-model", Provider: "test-provider", DenseDimension: 8, PricePerMillionTokens: 2.0,
			EmitsReasoningTags: true},
	}
}

func chatRequest(model string) ChatRequest {
	return ChatRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: "hello"}},
		Temperature: 0.2,
		MaxTokens:   100,
	}
}

func TestChatSuccessAndCacheHit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "hi there"}}},
			"usage":   map[string]int{"prompt_tokens": 3, "completion_tokens": 2},
		})
	}))
	defer server.Close()

	registry := newTestRegistry(t, server.URL)
	gw := New(registry, map[string]string{"test-provider": "key"})

	resp, err := gw.Chat(context.Background(), chatRequest("simple-model"))
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.False(t, resp.Cached)
	assert.InDelta(t, 0.000005, resp.Cost, 1e-9)

	resp2, err := gw.Chat(context.Background(), chatRequest("simple-model"))
	require.NoError(t, err)
	assert.True(t, resp2.Cached)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestChatStripsReasoningTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "<think>pondering</think>final answer"}}},
			"usage":   map[string]int{"prompt_tokens": 3, "completion_tokens": 2},
		})
	}))
	defer server.Close()

	registry := newTestRegistry(t, server.URL)
	gw := New(registry, map[string]string{"test-provider": "key"})

	resp, err := gw.Chat(context.Background(), chatRequest("reasoning-model"))
	require.NoError(t, err)
	assert.Equal(t, "final answer", resp.Content)
}

func TestChatUnknownModel(t *testing.T) {
	registry := newTestRegistry(t, "http://unused")
	gw := New(registry, nil)

	_, err := gw.Chat(context.Background(), chatRequest("does-not-exist"))
	require.Error(t, err)
	assert.Equal(t, pipelineerr.InvalidArgument, pipelineerr.KindOf(err))
}

func TestChatProviderErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   pipelineerr.Kind
	}{
		{http.StatusBadRequest, pipelineerr.InvalidArgument},
		{http.StatusUnauthorized, pipelineerr.Unauthorized},
		{http.StatusTooManyRequests, pipelineerr.RateLimited},
		{http.StatusInternalServerError, pipelineerr.Unreachable},
		{http.StatusGatewayTimeout, pipelineerr.Timeout},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		}))

		registry := newTestRegistry(t, server.URL)
		gw := New(registry, nil)

		_, err := gw.Chat(context.Background(), chatRequest("simple-model"))
		require.Error(t, err)
		assert.Equal(t, tt.kind, pipelineerr.KindOf(err), "status %d", tt.status)
		server.Close()
	}
}

func TestStreamChatConcatenatesDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		chunks := []string{"Hello", ", ", "world"}
		for _, c := range chunks {
			_, _ = w.Write([]byte("data: " + mustJSON(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": c}}},
			}) + "\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	registry := newTestRegistry(t, server.URL)
	gw := New(registry, nil)

	var got string
	resp, err := gw.StreamChat(context.Background(), chatRequest("simple-model"), func(delta string) {
		got += delta
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", got)
	assert.Equal(t, "Hello, world", resp.Content)
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestCacheOptionIsRespected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer server.Close()

	registry := newTestRegistry(t, server.URL)
	gw := New(registry, nil, WithCacheSize(1, time.Millisecond))

	_, err := gw.Chat(context.Background(), chatRequest("simple-model"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = gw.Chat(context.Background(), chatRequest("simple-model"))
	require.NoError(t, err)
}
