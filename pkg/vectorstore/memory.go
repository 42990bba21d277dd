package vectorstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

type memoryCollection struct {
	dimension int
	chunks    map[string]Chunk // by chunk ID
}

// Memory is an in-process Store backing local development and the
// package's own tests without a running external engine. It exercises the
// identical EnsureCollection/Insert/DeleteByFilter/Update/Search contract
// the Qdrant and file adapters do, so callers never branch on backend.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) EnsureCollection(_ context.Context, name string, dimension int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.dimension != dimension {
			return pipelineerr.NewInvalidArgument("vectorstore.Memory.EnsureCollection",
				"collection %q already exists with dimension %d, requested %d", name, c.dimension, dimension)
		}
		return nil
	}
	m.collections[name] = &memoryCollection{dimension: dimension, chunks: make(map[string]Chunk)}
	return nil
}

func (m *Memory) DropCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *Memory) Insert(_ context.Context, name string, chunks []Chunk, autoCreate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[name]
	if !ok {
		if !autoCreate {
			return pipelineerr.NewNotFound("vectorstore.Memory.Insert", "collection %q does not exist", name)
		}
		dim := 0
		if len(chunks) > 0 {
			dim = len(chunks[0].DenseVector)
		}
		col = &memoryCollection{dimension: dim, chunks: make(map[string]Chunk)}
		m.collections[name] = col
	}

	for _, c := range chunks {
		c.FillDefaults(col.dimension)
		col.chunks[c.ID] = c
	}
	return nil
}

func (m *Memory) DeleteByFilter(_ context.Context, name string, filter Filter, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[name]
	if !ok {
		return 0, pipelineerr.NewNotFound("vectorstore.Memory.DeleteByFilter", "collection %q does not exist", name)
	}

	effective := filter.WithTenant(tenantID)
	deleted := 0
	for id, c := range col.chunks {
		if matches(c, effective) {
			delete(col.chunks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) Update(_ context.Context, name string, filter Filter, tenantID string, updateFn func(*Chunk)) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[name]
	if !ok {
		return 0, pipelineerr.NewNotFound("vectorstore.Memory.Update", "collection %q does not exist", name)
	}

	effective := filter.WithTenant(tenantID)
	var matched []Chunk
	for _, c := range col.chunks {
		if matches(c, effective) {
			matched = append(matched, c)
		}
	}

	for _, c := range matched {
		delete(col.chunks, c.ID)
		updateFn(&c)
		c.UpdatedAt = time.Now().UTC()
		col.chunks[c.ID] = c
	}
	return len(matched), nil
}

func (m *Memory) Search(_ context.Context, req SearchRequest) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[req.Collection]
	if !ok {
		return nil, pipelineerr.NewNotFound("vectorstore.Memory.Search", "collection %q does not exist", req.Collection)
	}

	effective := req.Filter.WithTenant(req.TenantID)
	var hits []Hit
	for _, c := range col.chunks {
		if !matches(c, effective) {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Score: dotProduct(req.Query, c.DenseVector)})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	return hits, nil
}

func (m *Memory) Close() error { return nil }

func matches(c Chunk, f Filter) bool {
	for _, cond := range f.Conditions {
		if !matchOne(c, cond) {
			return false
		}
	}
	return true
}

func matchOne(c Chunk, cond Condition) bool {
	var field any
	switch cond.Field {
	case "id":
		field = c.ID
	case "document_id":
		field = c.DocumentID
	case "tenant_id":
		field = c.TenantID
	case "chunk_index":
		field = c.ChunkIndex
	default:
		return true // unknown fields never exclude a row in this adapter
	}

	switch cond.Op {
	case OpEq:
		return field == cond.Value
	case OpNe:
		return field != cond.Value
	case OpIn:
		values, ok := cond.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if field == v {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// dotProduct computes inner-product similarity, matching the metric the
// Qdrant adapter's HNSW index is configured with (§4.5).
func dotProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
