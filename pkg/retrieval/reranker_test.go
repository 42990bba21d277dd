package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragpipe/ragcore/pkg/search"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

func TestHTTPRerankerReordersByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Documents, 2)
		json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.2, 0.9}})
	}))
	defer srv.Close()

	r := NewHTTPReranker(srv.URL, "key")
	hits := []search.Hit{
		{Chunk: vectorstore.Chunk{ID: "a", Text: "first"}, FinalScore: 0.5},
		{Chunk: vectorstore.Chunk{ID: "b", Text: "second"}, FinalScore: 0.4},
	}

	reranked, err := r.Rerank(context.Background(), "query", hits)
	require.NoError(t, err)
	require.Len(t, reranked, 2)
	assert.Equal(t, "b", reranked[0].Chunk.ID)
	assert.Equal(t, "a", reranked[1].Chunk.ID)
}

func TestHTTPRerankerRejectsScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.1}})
	}))
	defer srv.Close()

	r := NewHTTPReranker(srv.URL, "")
	hits := []search.Hit{
		{Chunk: vectorstore.Chunk{ID: "a"}},
		{Chunk: vectorstore.Chunk{ID: "b"}},
	}
	_, err := r.Rerank(context.Background(), "query", hits)
	require.Error(t, err)
}

func TestHTTPRerankerNoOpOnEmptyHits(t *testing.T) {
	r := NewHTTPReranker("http://unused", "")
	out, err := r.Rerank(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
