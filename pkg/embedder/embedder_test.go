package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Input)
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{{Embedding: []float32{0.1, 0.2, 0.3}, Index: 0}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	vec, err := c.Embed(context.Background(), "embed-model", "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{
			{Embedding: []float32{2}, Index: 1},
			{Embedding: []float32{1}, Index: 0},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	vecs, err := c.EmbedBatch(context.Background(), "embed-model", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1}, vecs[0])
	assert.Equal(t, []float32{2}, vecs[1])
}

func TestEmbedBatchRejectsOversizedInput(t *testing.T) {
	c := New("http://unused", "")
	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = "x"
	}
	_, err := c.EmbedBatch(context.Background(), "embed-model", texts)
	require.Error(t, err)
}

func TestEmbedUpstreamErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad model"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Embed(context.Background(), "bogus-model", "hello")
	require.Error(t, err)
}
