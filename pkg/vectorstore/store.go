// Package vectorstore wraps the external vector engine behind a narrow
// CRUD+search interface: EnsureCollection, Insert, DeleteByFilter, Update,
// Search. The interface is engine-agnostic by design — the ingestion and
// retrieval orchestrators never branch on which backend is live.
package vectorstore

import (
	"context"
	"time"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpIn Op = "in"
)

// Condition is one field comparison. Conditions within a Filter are
// implicitly AND-ed, matching the boolean-expression semantics described in
// SPEC_FULL.md §4.5; no expression-parsing library appears anywhere in the
// example corpus, so this structured form stands in for the free-text
// "expr" the spec describes, and WithTenant below performs the textual
// "(expr) AND tenant_id == ?" rewrite at the struct level instead of string
// concatenation.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of Conditions.
type Filter struct {
	Conditions []Condition
}

// WithTenant returns a copy of f with an additional tenant_id == tenantID
// condition appended, mirroring §4.5's "(expr) AND tenant_id == ?" rewrite.
// A blank tenantID returns f unchanged.
func (f Filter) WithTenant(tenantID string) Filter {
	if tenantID == "" {
		return f
	}
	out := Filter{Conditions: make([]Condition, 0, len(f.Conditions)+1)}
	out.Conditions = append(out.Conditions, f.Conditions...)
	out.Conditions = append(out.Conditions, Condition{Field: "tenant_id", Op: OpEq, Value: tenantID})
	return out
}

// Chunk is one 17-field record: the nine core fields, the dense vector, and
// the seven metadata fields, per SPEC_FULL.md §3.
type Chunk struct {
	ID          string
	DocumentID  string
	ChunkIndex  int
	Text        string
	TenantID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CharCount   int
	TokenCount  int
	DenseVector []float32

	Keywords            string
	Topics              string
	Questions           string
	Summary             string
	SemanticKeywords    string
	EntityRelationships string
	Attributes          string
}

// FillDefaults fills zero-valued fields with schema defaults (a zero vector
// of dim, the current UTC time for CreatedAt and UpdatedAt, len(Text) for
// CharCount), used by Insert when a caller omits optional columns. String
// fields and TokenCount are left as they are.
func (c *Chunk) FillDefaults(dim int) {
	if c.DenseVector == nil {
		c.DenseVector = make([]float32, dim)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.CharCount == 0 {
		c.CharCount = len(c.Text)
	}
}

// Hit is one search result: the requested output fields plus a similarity
// score.
type Hit struct {
	Chunk Chunk
	Score float32
}

// SearchMode selects the similarity computation. Only dense is specified by
// SPEC_FULL.md §4.5; the type exists so a future sparse/hybrid mode is not
// a breaking interface change.
type SearchMode string

const DenseMode SearchMode = "dense"

// SearchRequest parameterizes Search.
type SearchRequest struct {
	Collection string
	Query      []float32
	Filter     Filter
	TenantID   string
	Limit      int
	Mode       SearchMode
}

// HNSWParams configures the dense-vector index created by EnsureCollection.
type HNSWParams struct {
	M              int
	EfConstruction int
}

// DefaultHNSWParams matches the values the teacher's Qdrant config exposes.
var DefaultHNSWParams = HNSWParams{M: 16, EfConstruction: 100}

// TenantPartitions is the fixed partition count used when a collection is
// created with tenant_id as its partition key (§4.5). The Qdrant backend
// realizes this by deriving a bounded "tenant_partition" payload field from
// tenant_id (see partitionFor in qdrant.go) and indexing it, rather than
// configuring physical shard count directly — this repo's pinned
// qdrant-go-client surface for collection creation is not verified against
// a local copy of the generated bindings, so nothing here guesses at a
// shard-count field that might not exist in that version.
const TenantPartitions = 256

// Store is the narrow contract every backend (Qdrant, in-memory, file)
// implements identically.
type Store interface {
	// EnsureCollection creates the collection if it does not already exist
	// (17-field schema, tenant partition key, HNSW index on dense_vector,
	// scalar index on document id). A no-op if the collection exists with
	// the same dimension; an error if it exists with a different one.
	EnsureCollection(ctx context.Context, name string, dimension int, description string) error

	// DropCollection destroys name and every chunk it holds. A no-op
	// returning nil if the collection does not exist, matching §3's
	// "destroyed only by explicit request" lifecycle without requiring
	// callers to probe existence first.
	DropCollection(ctx context.Context, name string) error

	// Insert adds chunks to name, auto-creating the collection first when
	// autoCreate is set and it does not yet exist.
	Insert(ctx context.Context, name string, chunks []Chunk, autoCreate bool) error

	// DeleteByFilter deletes every chunk in name matching filter (rewritten
	// to include tenantID when non-blank), returning the count deleted.
	DeleteByFilter(ctx context.Context, name string, filter Filter, tenantID string) (int, error)

	// Update performs a read-modify-write: query by filter, apply updates
	// to every matched chunk, bump UpdatedAt, delete the old rows, insert
	// the new ones. Not atomic — callers must tolerate a visibility gap.
	Update(ctx context.Context, name string, filter Filter, tenantID string, updates func(*Chunk)) (int, error)

	// Search runs dense ANN search, returning up to req.Limit hits ordered
	// by descending score.
	Search(ctx context.Context, req SearchRequest) ([]Hit, error)

	Close() error
}
