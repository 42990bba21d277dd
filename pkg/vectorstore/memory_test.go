package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.EnsureCollection(ctx, "docs", 4, "desc"))
	require.NoError(t, m.EnsureCollection(ctx, "docs", 4, "desc again"))

	err := m.EnsureCollection(ctx, "docs", 8, "desc")
	require.Error(t, err)
}

func TestInsertAndSearch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.EnsureCollection(ctx, "docs", 3, ""))

	require.NoError(t, m.Insert(ctx, "docs", []Chunk{
		{ID: "a", DocumentID: "doc1", TenantID: "t1", DenseVector: []float32{1, 0, 0}},
		{ID: "b", DocumentID: "doc1", TenantID: "t1", DenseVector: []float32{0, 1, 0}},
	}, false))

	hits, err := m.Search(ctx, SearchRequest{Collection: "docs", Query: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Chunk.ID, "closer vector should rank first")
}

func TestSearchRespectsTenantFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.EnsureCollection(ctx, "docs", 2, ""))
	require.NoError(t, m.Insert(ctx, "docs", []Chunk{
		{ID: "a", TenantID: "t1", DenseVector: []float32{1, 0}},
		{ID: "b", TenantID: "t2", DenseVector: []float32{1, 0}},
	}, false))

	hits, err := m.Search(ctx, SearchRequest{Collection: "docs", Query: []float32{1, 0}, TenantID: "t1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Chunk.ID)
}

func TestDeleteByFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.EnsureCollection(ctx, "docs", 2, ""))
	require.NoError(t, m.Insert(ctx, "docs", []Chunk{
		{ID: "a", DocumentID: "doc1", DenseVector: []float32{1, 0}},
		{ID: "b", DocumentID: "doc2", DenseVector: []float32{1, 0}},
	}, false))

	n, err := m.DeleteByFilter(ctx, "docs", Filter{Conditions: []Condition{{Field: "document_id", Op: OpEq, Value: "doc1"}}}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := m.Search(ctx, SearchRequest{Collection: "docs", Query: []float32{1, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Chunk.ID)
}

func TestUpdateReadModifyWrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.EnsureCollection(ctx, "docs", 2, ""))
	require.NoError(t, m.Insert(ctx, "docs", []Chunk{
		{ID: "a", DocumentID: "doc1", Summary: "old", DenseVector: []float32{1, 0}},
	}, false))

	n, err := m.Update(ctx, "docs", Filter{Conditions: []Condition{{Field: "document_id", Op: OpEq, Value: "doc1"}}}, "", func(c *Chunk) {
		c.Summary = "new"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := m.Search(ctx, SearchRequest{Collection: "docs", Query: []float32{1, 0}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Chunk.Summary)
}

func TestInsertAutoCreate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Insert(ctx, "fresh", []Chunk{{ID: "a", DenseVector: []float32{1, 2, 3}}}, false)
	require.Error(t, err, "autoCreate defaults to false")

	require.NoError(t, m.Insert(ctx, "fresh", []Chunk{{ID: "a", DenseVector: []float32{1, 2, 3}}}, true))
}
